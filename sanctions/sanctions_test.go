package sanctions

import (
	"context"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	moderrors "github.com/amp-labs/osf-moderation/errors"
	"github.com/amp-labs/osf-moderation/models"
	"github.com/amp-labs/osf-moderation/notify"
	"github.com/amp-labs/osf-moderation/permissions"
	"github.com/amp-labs/osf-moderation/statemachine"
	"github.com/amp-labs/osf-moderation/store"
	"github.com/amp-labs/osf-moderation/store/memstore"
	"github.com/amp-labs/osf-moderation/tokens"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	adminID        = "admin"
	secondAdminID  = "admin-2"
	moderatorID    = "moderator"
	strangerID     = "stranger"
	providerID     = "registries"
	registrationID = "registration"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memstore.Store
	svc   *Service
	sent  *notify.Recorder
}

func newFixture(t *testing.T, workflow wf.Workflow, state wf.RegistrationModerationState, admins ...string) *fixture {
	t.Helper()

	clock := func() time.Time { return epoch }
	st := memstore.New(clock)

	issuer, err := tokens.NewIssuer([]byte("test-secret"), tokens.WithClock(clock))
	require.NoError(t, err)

	sent := &notify.Recorder{}

	svc, err := New(st, issuer,
		WithNotifier(notify.Sync{Sender: sent}),
		WithClock(clock),
		WithLogger(slogt.New(t)),
		WithDomain("https://osf.test/"))
	require.NoError(t, err)

	if len(admins) == 0 {
		admins = []string{adminID}
	}

	reg := &models.Registration{
		Base:            models.Base{ID: registrationID},
		Title:           "Replication of the marshmallow test",
		ProviderID:      providerID,
		ModerationState: state,
	}

	for _, id := range admins {
		reg.Contributors = append(reg.Contributors, models.Contributor{
			UserID: id, Permission: permissions.Admin, Visible: true,
		})
	}

	f := &fixture{t: t, ctx: context.Background(), store: st, svc: svc, sent: sent}
	f.seed(
		&models.User{Base: models.Base{ID: adminID}, FullName: "Ada Admin", Email: "ada@example.com"},
		&models.User{Base: models.Base{ID: moderatorID}, FullName: "Moe Moderator", Email: "moe@example.com"},
		&models.Provider{
			Base:     models.Base{ID: providerID},
			Name:     "OSF Registries",
			Workflow: workflow,
			Roles:    map[string]models.ProviderRole{moderatorID: models.ProviderModerator},
		},
		reg,
	)

	return f
}

func (f *fixture) seed(objs ...store.Object) {
	f.t.Helper()

	require.NoError(f.t, f.store.WithTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		for _, obj := range objs {
			if err := store.Save(ctx, tx, obj); err != nil {
				return err
			}
		}

		return nil
	}))
}

func (f *fixture) create(kind wf.SanctionType, opts ...CreateOption) *models.Sanction {
	f.t.Helper()

	var (
		sanction *models.Sanction
		err      error
	)

	switch kind {
	case wf.RegistrationApproval:
		sanction, err = f.svc.RequireApproval(f.ctx, registrationID, adminID, opts...)
	case wf.Embargo:
		sanction, err = f.svc.Embargo(f.ctx, registrationID, adminID, epoch.AddDate(0, 1, 0), opts...)
	case wf.Retraction:
		sanction, err = f.svc.Retract(f.ctx, registrationID, adminID, "data was fabricated", opts...)
	case wf.EmbargoTermination:
		sanction, err = f.svc.RequestEmbargoTermination(f.ctx, registrationID, adminID, opts...)
	}

	require.NoError(f.t, err)

	return sanction
}

func (f *fixture) token(sanctionID, userID string, purpose tokens.Purpose) string {
	f.t.Helper()

	token, err := f.svc.TokenForUser(f.ctx, sanctionID, userID, purpose)
	require.NoError(f.t, err)

	return token
}

func (f *fixture) approve(sanctionID, userID string) Result {
	f.t.Helper()

	res, err := f.svc.Approve(f.ctx, sanctionID, userID, f.token(sanctionID, userID, tokens.Approval), "")
	require.NoError(f.t, err)

	return res
}

func (f *fixture) reject(sanctionID, userID string) Result {
	f.t.Helper()

	res, err := f.svc.Reject(f.ctx, sanctionID, userID, f.token(sanctionID, userID, tokens.Rejection), "")
	require.NoError(f.t, err)

	return res
}

func (f *fixture) registration() *models.Registration {
	f.t.Helper()

	var reg *models.Registration

	require.NoError(f.t, f.store.WithTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		var err error

		reg, err = store.Load[models.Registration](ctx, tx, registrationID)

		return err
	}))

	return reg
}

func (f *fixture) provider() *models.Provider {
	f.t.Helper()

	var p *models.Provider

	require.NoError(f.t, f.store.WithTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		var err error

		p, err = store.Load[models.Provider](ctx, tx, providerID)

		return err
	}))

	return p
}

func (f *fixture) stage(sanctionID string) wf.ApprovalState {
	f.t.Helper()

	state, err := f.svc.CurrentState(f.ctx, sanctionID)
	require.NoError(f.t, err)

	return state
}

// registrationTriggers lists the moderation actions recorded on the registration.
func (f *fixture) registrationTriggers() []string {
	var out []string

	for _, rec := range f.store.Actions() {
		if rec.TargetKind == models.KindRegistration {
			out = append(out, rec.Trigger)
		}
	}

	return out
}

type flow struct {
	kind     wf.SanctionType
	start    wf.RegistrationModerationState
	initial  wf.RegistrationModerationState
	pending  wf.RegistrationModerationState
	approved wf.RegistrationModerationState
	// rejected is the state after a moderator rejection, reverted after an
	// admin rejection.
	rejected wf.RegistrationModerationState
	reverted wf.RegistrationModerationState

	moderatedTriggers []string
	rejectedTriggers  []string
}

var flows = []flow{
	{
		kind:              wf.RegistrationApproval,
		initial:           wf.RegInitial,
		pending:           wf.RegPending,
		approved:          wf.RegAccepted,
		rejected:          wf.RegRejected,
		reverted:          wf.RegReverted,
		moderatedTriggers: []string{"submit", "accept_submission"},
		rejectedTriggers:  []string{"submit", "reject_submission"},
	},
	{
		kind:              wf.Embargo,
		initial:           wf.RegInitial,
		pending:           wf.RegPending,
		approved:          wf.RegEmbargo,
		rejected:          wf.RegRejected,
		reverted:          wf.RegReverted,
		moderatedTriggers: []string{"submit", "accept_submission"},
		rejectedTriggers:  []string{"submit", "reject_submission"},
	},
	{
		kind:              wf.Retraction,
		start:             wf.RegAccepted,
		initial:           wf.RegPendingWithdrawRequest,
		pending:           wf.RegPendingWithdraw,
		approved:          wf.RegWithdrawn,
		rejected:          wf.RegAccepted,
		reverted:          wf.RegAccepted,
		moderatedTriggers: []string{"request_withdrawal", "accept_withdrawal"},
		rejectedTriggers:  []string{"request_withdrawal", "reject_withdrawal"},
	},
}

func TestCreate_RequestsAdminApproval(t *testing.T) {
	t.Parallel()

	for _, fl := range flows {
		t.Run(string(fl.kind), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, wf.WorkflowNone, fl.start)
			sanction := f.create(fl.kind)

			assert.Equal(t, wf.Unapproved, sanction.Stage)
			assert.Equal(t, epoch, sanction.InitiationDate)
			assert.Equal(t, fl.initial, f.registration().ModerationState)

			msgs := f.sent.Messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, notify.SanctionAdminApproval, msgs[0].Template)
			assert.Equal(t, "ada@example.com", msgs[0].To.Email)
			assert.Contains(t, msgs[0].Body, "https://osf.test/token_action/registration/?token="+
				f.token(sanction.ID, adminID, tokens.Approval))
			assert.Contains(t, msgs[0].Body, "Ada Admin")
		})
	}
}

func TestUnmoderated_AdminApproval(t *testing.T) {
	t.Parallel()

	for _, fl := range flows {
		t.Run(string(fl.kind), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, wf.WorkflowNone, fl.start)
			sanction := f.create(fl.kind)

			res := f.approve(sanction.ID, adminID)

			assert.Equal(t, wf.Approved, res.State)
			assert.Equal(t, fl.approved, res.ModerationState)
			assert.Len(t, res.Actions, 2, "approve then the queued accept")
			assert.Equal(t, wf.Approved, f.stage(sanction.ID))

			reg := f.registration()
			assert.Equal(t, fl.approved, reg.ModerationState)
			assert.Equal(t, []string{adminID}, f.sent.To(notify.SanctionAccepted))

			switch fl.kind {
			case wf.RegistrationApproval:
				assert.True(t, reg.IsPublic)
			case wf.Embargo:
				assert.False(t, reg.IsPublic)
			case wf.Retraction:
				require.NotNil(t, reg.DateWithdrawn)
				assert.Equal(t, "data was fabricated", reg.WithdrawalJustification)
			}
		})
	}
}

func TestUnmoderated_AdminRejection(t *testing.T) {
	t.Parallel()

	for _, fl := range flows {
		t.Run(string(fl.kind), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, wf.WorkflowNone, fl.start)
			sanction := f.create(fl.kind)

			res := f.reject(sanction.ID, adminID)

			assert.Equal(t, wf.Rejected, res.State)
			assert.Equal(t, fl.reverted, f.registration().ModerationState)
			assert.Equal(t, fl.kind != wf.Retraction, f.registration().Deleted)
			assert.Equal(t, []string{adminID}, f.sent.To(notify.SanctionRejected))
		})
	}
}

func TestModerated_ModeratorAccepts(t *testing.T) {
	t.Parallel()

	for _, fl := range flows {
		t.Run(string(fl.kind), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, wf.PreModeration, fl.start)
			sanction := f.create(fl.kind)

			res := f.approve(sanction.ID, adminID)
			assert.Equal(t, wf.PendingModeration, res.State)
			assert.Equal(t, fl.pending, f.registration().ModerationState)
			assert.Equal(t, []string{moderatorID}, f.sent.To(notify.SanctionModeratorsPending))

			res, err := f.svc.Accept(f.ctx, sanction.ID, moderatorID, "looks good")
			require.NoError(t, err)
			assert.Equal(t, wf.Approved, res.State)
			assert.Equal(t, fl.approved, f.registration().ModerationState)
			assert.Equal(t, fl.moderatedTriggers, f.registrationTriggers())
		})
	}
}

func TestModerated_ModeratorRejects(t *testing.T) {
	t.Parallel()

	for _, fl := range flows {
		t.Run(string(fl.kind), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, wf.PreModeration, fl.start)
			sanction := f.create(fl.kind)
			f.approve(sanction.ID, adminID)

			res, err := f.svc.Reject(f.ctx, sanction.ID, moderatorID, "", "out of scope")
			require.NoError(t, err)
			assert.Equal(t, wf.ModeratorRejected, res.State)

			reg := f.registration()
			assert.Equal(t, fl.rejected, reg.ModerationState)
			assert.False(t, reg.Deleted)
			assert.Equal(t, fl.rejectedTriggers, f.registrationTriggers())

			msgs := f.sent.Messages()
			last := msgs[len(msgs)-1]
			assert.Equal(t, notify.SanctionModeratorRejected, last.Template)
			assert.Contains(t, last.Body, "out of scope")
		})
	}
}

func TestModerated_PermissionErrors(t *testing.T) {
	t.Parallel()

	for _, fl := range flows {
		t.Run(string(fl.kind), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, wf.PreModeration, fl.start)
			sanction := f.create(fl.kind)

			_, err := f.svc.Approve(f.ctx, sanction.ID, moderatorID, "dummy", "")
			require.ErrorIs(t, err, moderrors.ErrPermission, "moderator is not an approver")

			_, err = f.svc.Accept(f.ctx, sanction.ID, moderatorID, "")
			require.ErrorIs(t, err, moderrors.ErrPermission, "admins have not approved yet")

			_, err = f.svc.Reject(f.ctx, sanction.ID, moderatorID, "", "")
			require.ErrorIs(t, err, moderrors.ErrPermission, "only approvers reject before moderation")

			_, err = f.svc.Approve(f.ctx, sanction.ID, adminID, "dummy", "")
			require.ErrorIs(t, err, moderrors.ErrInvalidToken)

			_, err = f.svc.Approve(f.ctx, sanction.ID, adminID, f.token(sanction.ID, adminID, tokens.Rejection), "")
			require.ErrorIs(t, err, moderrors.ErrInvalidToken, "rejection token cannot approve")

			assert.Equal(t, wf.Unapproved, f.stage(sanction.ID))

			f.approve(sanction.ID, adminID)

			_, err = f.svc.Accept(f.ctx, sanction.ID, adminID, "")
			require.ErrorIs(t, err, moderrors.ErrPermission, "admin cannot moderate")

			_, err = f.svc.Reject(f.ctx, sanction.ID, adminID, f.token(sanction.ID, adminID, tokens.Rejection), "")
			require.ErrorIs(t, err, moderrors.ErrPermission, "admin cannot reject during moderation")

			assert.Equal(t, wf.PendingModeration, f.stage(sanction.ID))
			assert.Equal(t, fl.pending, f.registration().ModerationState)
		})
	}
}

func TestRejectedSanction(t *testing.T) {
	t.Parallel()

	for _, fl := range flows {
		t.Run(string(fl.kind), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, wf.PreModeration, fl.start)
			sanction := f.create(fl.kind)
			f.approve(sanction.ID, adminID)

			_, err := f.svc.Reject(f.ctx, sanction.ID, moderatorID, "", "")
			require.NoError(t, err)

			res, err := f.svc.Reject(f.ctx, sanction.ID, moderatorID, "", "")
			require.NoError(t, err)
			assert.True(t, res.IsNoop())

			want := "This " + notify.SanctionName(fl.kind) + " has already been rejected and cannot be approved"

			var terr *statemachine.TransitionError

			_, err = f.svc.Accept(f.ctx, sanction.ID, moderatorID, "")
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, want, terr.Error())

			_, err = f.svc.Approve(f.ctx, sanction.ID, adminID, f.token(sanction.ID, adminID, tokens.Approval), "")
			require.ErrorIs(t, err, moderrors.ErrTransition)
			assert.EqualError(t, err, want)
		})
	}
}

func TestApprovedSanction(t *testing.T) {
	t.Parallel()

	for _, fl := range flows {
		t.Run(string(fl.kind), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, wf.WorkflowNone, fl.start)
			sanction := f.create(fl.kind)
			f.approve(sanction.ID, adminID)

			_, err := f.svc.Reject(f.ctx, sanction.ID, adminID, f.token(sanction.ID, adminID, tokens.Rejection), "")
			require.ErrorIs(t, err, moderrors.ErrTransition)
			assert.EqualError(t, err,
				"This "+notify.SanctionName(fl.kind)+" has all required approvals and cannot be rejected")

			res := f.approve(sanction.ID, adminID)
			assert.True(t, res.IsNoop())

			res, err = f.svc.Accept(f.ctx, sanction.ID, moderatorID, "")
			require.NoError(t, err)
			assert.True(t, res.IsNoop())

			assert.Equal(t, fl.approved, f.registration().ModerationState)
		})
	}
}

func TestApprovalModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mode      models.ApprovalMode
		afterOne  wf.ApprovalState
		afterBoth wf.ApprovalState
	}{
		{name: "unanimous", mode: models.Unanimous, afterOne: wf.Unapproved, afterBoth: wf.Approved},
		{name: "any", mode: models.AnyApprover, afterOne: wf.Approved, afterBoth: wf.Approved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, wf.WorkflowNone, "", adminID, secondAdminID)
			sanction := f.create(wf.RegistrationApproval, WithMode(tt.mode))
			assert.ElementsMatch(t, []string{adminID, secondAdminID}, f.sent.To(notify.SanctionAdminApproval))

			f.approve(sanction.ID, adminID)
			assert.Equal(t, tt.afterOne, f.stage(sanction.ID))

			f.approve(sanction.ID, secondAdminID)
			assert.Equal(t, tt.afterBoth, f.stage(sanction.ID))
		})
	}
}

func TestEmbargoTermination(t *testing.T) {
	t.Parallel()

	for _, workflow := range []wf.Workflow{wf.WorkflowNone, wf.PreModeration} {
		t.Run(string(workflow), func(t *testing.T) {
			t.Parallel()

			setup := func(t *testing.T) (*fixture, *models.Sanction, *models.Sanction) {
				t.Helper()

				f := newFixture(t, workflow, "")
				embargo := f.create(wf.Embargo)
				f.approve(embargo.ID, adminID)

				if workflow.IsModerated() {
					_, err := f.svc.Accept(f.ctx, embargo.ID, moderatorID, "")
					require.NoError(t, err)
				}

				require.Equal(t, wf.RegEmbargo, f.registration().ModerationState)

				termination := f.create(wf.EmbargoTermination)
				require.Equal(t, wf.RegPendingEmbargoTermination, f.registration().ModerationState)

				return f, embargo, termination
			}

			t.Run("approved", func(t *testing.T) {
				t.Parallel()

				f, embargo, termination := setup(t)

				res := f.approve(termination.ID, adminID)
				assert.Equal(t, wf.Approved, res.State, "terminations are never moderated")

				assert.Equal(t, wf.Completed, f.stage(embargo.ID))

				reg := f.registration()
				assert.Equal(t, wf.RegAccepted, reg.ModerationState)
				assert.True(t, reg.IsPublic)

				ended, err := f.svc.Get(f.ctx, embargo.ID)
				require.NoError(t, err)
				require.NotNil(t, ended.EndDate)
				assert.Equal(t, epoch, *ended.EndDate)
			})

			t.Run("rejected", func(t *testing.T) {
				t.Parallel()

				f, embargo, termination := setup(t)

				res := f.reject(termination.ID, adminID)
				assert.Equal(t, wf.Rejected, res.State)

				assert.Equal(t, wf.Approved, f.stage(embargo.ID))

				reg := f.registration()
				assert.Equal(t, wf.RegEmbargo, reg.ModerationState)
				assert.Empty(t, reg.EmbargoTerminationID)
				assert.False(t, reg.Deleted)
			})
		})
	}
}

func TestForceWithdraw(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.PreModeration, wf.RegAccepted)

	_, err := f.svc.Retract(f.ctx, registrationID, strangerID, "spam", ByModerator())
	require.ErrorIs(t, err, moderrors.ErrPermission)

	sanction, err := f.svc.Retract(f.ctx, registrationID, moderatorID, "spam", ByModerator())
	require.NoError(t, err)
	assert.Equal(t, wf.Approved, sanction.Stage)
	assert.True(t, sanction.ModeratorInitiated)
	assert.Empty(t, sanction.Approvals)

	reg := f.registration()
	assert.Equal(t, wf.RegWithdrawn, reg.ModerationState)
	require.NotNil(t, reg.DateWithdrawn)
	assert.Equal(t, []string{"force_withdraw"}, f.registrationTriggers())
	assert.Empty(t, f.sent.To(notify.SanctionAdminApproval))
}

func TestCreate_Rules(t *testing.T) {
	t.Parallel()

	t.Run("non admin", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, wf.WorkflowNone, "")
		_, err := f.svc.RequireApproval(f.ctx, registrationID, strangerID)
		require.ErrorIs(t, err, moderrors.ErrPermission)
	})

	t.Run("second approval", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, wf.WorkflowNone, "")
		f.create(wf.RegistrationApproval)

		_, err := f.svc.Embargo(f.ctx, registrationID, adminID, epoch.AddDate(0, 1, 0))
		require.ErrorIs(t, err, moderrors.ErrConflict)
		require.ErrorIs(t, err, ErrAlreadySanctioned)
	})

	t.Run("embargo in the past", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, wf.WorkflowNone, "")
		_, err := f.svc.Embargo(f.ctx, registrationID, adminID, epoch.Add(-time.Hour))
		require.ErrorIs(t, err, ErrInvalidEndDate)
	})

	t.Run("withdraw pending registration", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, wf.PreModeration, wf.RegPending)
		_, err := f.svc.Retract(f.ctx, registrationID, adminID, "")
		require.ErrorIs(t, err, ErrCannotWithdraw)
	})

	t.Run("terminate without embargo", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, wf.WorkflowNone, wf.RegAccepted)
		_, err := f.svc.RequestEmbargoTermination(f.ctx, registrationID, adminID)
		require.ErrorIs(t, err, ErrNotEmbargoed)
	})

	t.Run("missing registration", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, wf.WorkflowNone, "")
		_, err := f.svc.RequireApproval(f.ctx, "nope", adminID)
		require.ErrorIs(t, err, moderrors.ErrNotFound)
	})

	t.Run("nothing committed on failure", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, wf.WorkflowNone, "")
		_, err := f.svc.RequireApproval(f.ctx, registrationID, strangerID)
		require.Error(t, err)
		assert.Empty(t, f.registration().RegistrationApprovalID)
		assert.Empty(t, f.sent.Messages())
	})
}

func TestTokenForUser_NotAnApprover(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.WorkflowNone, "")
	sanction := f.create(wf.RegistrationApproval)

	_, err := f.svc.TokenForUser(f.ctx, sanction.ID, strangerID, tokens.Approval)
	require.ErrorIs(t, err, moderrors.ErrPermission)
}

func TestComplete_RequiresApproval(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.WorkflowNone, "")
	embargo := f.create(wf.Embargo)

	_, err := f.svc.Complete(f.ctx, embargo.ID)
	require.ErrorIs(t, err, moderrors.ErrTransition)

	var terr *statemachine.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, string(wf.Unapproved), terr.From)
	assert.Empty(t, terr.Reason)
}
