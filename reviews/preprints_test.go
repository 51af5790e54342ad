package reviews

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	moderrors "github.com/amp-labs/osf-moderation/errors"
	"github.com/amp-labs/osf-moderation/models"
	"github.com/amp-labs/osf-moderation/notify"
	"github.com/amp-labs/osf-moderation/statemachine"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

func TestSubmitPreprint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		workflow  wf.Workflow
		published bool
		moderated bool
	}{
		{workflow: wf.WorkflowNone, published: true},
		{workflow: wf.PreModeration, moderated: true},
		{workflow: wf.PostModeration, published: true, moderated: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.workflow), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tt.workflow)

			res, err := f.svc.SubmitPreprint(f.ctx, preprintID, adminID)
			require.NoError(t, err)
			assert.Equal(t, wf.ReviewPending, res.State)
			require.NotNil(t, res.Action)
			assert.Equal(t, wf.TriggerSubmit, res.Action.Trigger)
			assert.Equal(t, "initial", res.Action.FromState)
			assert.Equal(t, "pending", res.Action.ToState)

			p := f.preprint()
			assert.Equal(t, wf.ReviewPending, p.MachineState)
			assert.Equal(t, tt.published, p.IsPublished)
			assert.Equal(t, tt.published, p.EverPublic)
			require.NotNil(t, p.DateLastTransitioned)
			assert.Equal(t, epoch, *p.DateLastTransitioned)

			if tt.published {
				require.NotNil(t, p.DatePublished)
				assert.Equal(t, epoch, *p.DatePublished)
			} else {
				assert.Nil(t, p.DatePublished)
			}

			require.Len(t, p.Logs, 1)
			assert.Equal(t, models.LogPreprintPublished, p.Logs[0].Action)
			assert.Equal(t, adminID, p.Logs[0].UserID)
			assert.Equal(t, map[string]string{"preprint": preprintID}, p.Logs[0].Params)
			assert.Equal(t, epoch, p.Logs[0].Created)

			assert.Equal(t, []string{adminID, readerID}, f.sent.To(notify.ReviewsSubmitted))

			if tt.moderated {
				assert.Equal(t, []string{moderatorID}, f.sent.To(notify.ReviewsModeratorsSubmitted))
			} else {
				assert.Empty(t, f.sent.To(notify.ReviewsModeratorsSubmitted))
			}
		})
	}
}

func TestSubmitPreprint_RequiresAdmin(t *testing.T) {
	t.Parallel()

	for _, user := range []string{readerID, strangerID, ""} {
		f := newFixture(t, wf.PreModeration)

		_, err := f.svc.SubmitPreprint(f.ctx, preprintID, user)
		require.ErrorIs(t, err, moderrors.ErrPermission)

		var gerr *statemachine.GuardError
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, "can_submit", gerr.Guard)

		assert.Equal(t, wf.ReviewInitial, f.preprint().MachineState)
		assert.Empty(t, f.store.Actions())
		assert.Empty(t, f.sent.Messages())
	}
}

func TestSubmitPreprint_PublicationRequirements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(p *models.Preprint)
		want   error
	}{
		{name: "primary file", mutate: func(p *models.Preprint) { p.PrimaryFileID = "" }, want: ErrNoPrimaryFile},
		{name: "subjects", mutate: func(p *models.Preprint) { p.SubjectIDs = nil }, want: ErrNoSubjects},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, wf.PostModeration)
			f.updatePreprint(tt.mutate)

			_, err := f.svc.SubmitPreprint(f.ctx, preprintID, adminID)
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, moderrors.ErrConflict)

			p := f.preprint()
			assert.Equal(t, wf.ReviewInitial, p.MachineState)
			assert.False(t, p.IsPublished)
			assert.Empty(t, f.store.Actions())
			assert.Empty(t, f.sent.Messages())
		})
	}
}

func TestPreModeration_Accept(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.PreModeration)
	f.submit()
	f.sent.Reset()

	res, err := f.svc.AcceptPreprint(f.ctx, preprintID, moderatorID, "looks good")
	require.NoError(t, err)
	assert.Equal(t, wf.ReviewAccepted, res.State)
	assert.Equal(t, moderatorID, res.Action.CreatorID)
	assert.Equal(t, "looks good", res.Action.Comment)

	p := f.preprint()
	assert.True(t, p.IsPublished)
	assert.True(t, p.EverPublic)
	require.NotNil(t, p.DatePublished)

	assert.Equal(t, []string{adminID, readerID}, f.sent.To(notify.ReviewsAccepted))
	assert.Contains(t, f.sent.Messages()[0].Body, "looks good")
}

func TestPostModeration_RejectUnpublishes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.PostModeration)
	f.submit()
	require.True(t, f.preprint().IsPublished)

	res, err := f.svc.RejectPreprint(f.ctx, preprintID, moderatorID, "out of scope")
	require.NoError(t, err)
	assert.Equal(t, wf.ReviewRejected, res.State)

	p := f.preprint()
	assert.False(t, p.IsPublished)
	assert.True(t, p.EverPublic)
	assert.Equal(t, []string{adminID, readerID}, f.sent.To(notify.ReviewsRejected))
}

func TestDecide_RequiresModerator(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.PreModeration)
	f.submit()

	for _, trigger := range []string{wf.TriggerAccept, wf.TriggerReject, wf.TriggerEditComment} {
		_, err := f.svc.FirePreprint(f.ctx, preprintID, trigger, statemachine.WithUser(adminID))
		require.ErrorIs(t, err, moderrors.ErrPermission, trigger)
	}

	assert.Equal(t, wf.ReviewPending, f.preprint().MachineState)
}

func TestResubmission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		workflow wf.Workflow
		reject   bool
		// ignored is true when no resubmission row applies.
		ignored bool
		want    wf.ReviewState
	}{
		{name: "pre-moderation after rejection", workflow: wf.PreModeration, reject: true, want: wf.ReviewPending},
		{name: "pre-moderation while pending", workflow: wf.PreModeration, want: wf.ReviewPending},
		{name: "post-moderation while pending", workflow: wf.PostModeration, want: wf.ReviewPending},
		{
			name: "post-moderation after rejection", workflow: wf.PostModeration, reject: true,
			ignored: true, want: wf.ReviewRejected,
		},
		{name: "no moderation", workflow: wf.WorkflowNone, ignored: true, want: wf.ReviewPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tt.workflow)
			f.submit()

			if tt.reject {
				_, err := f.svc.RejectPreprint(f.ctx, preprintID, moderatorID, "")
				require.NoError(t, err)
			}

			f.sent.Reset()

			res, err := f.svc.SubmitPreprint(f.ctx, preprintID, adminID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.State)
			assert.Equal(t, tt.want, f.preprint().MachineState)

			if tt.ignored {
				assert.True(t, res.IsNoop())
				assert.Equal(t, statemachine.OutcomeIgnored, res.Outcome)
				assert.Empty(t, f.sent.Messages())

				return
			}

			assert.False(t, res.IsNoop())
			assert.Equal(t, []string{adminID, readerID}, f.sent.To(notify.ReviewsResubmitted))
			assert.Equal(t, []string{moderatorID}, f.sent.To(notify.ReviewsModeratorsSubmitted))
		})
	}
}

func TestEditReviewComment(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.PreModeration)
	f.submit()
	f.accept()
	f.sent.Reset()

	res, err := f.svc.EditReviewComment(f.ctx, preprintID, moderatorID, "looks great")
	require.NoError(t, err)
	assert.Equal(t, wf.ReviewAccepted, res.State)
	assert.Equal(t, "accepted", res.Action.FromState)
	assert.Equal(t, "accepted", res.Action.ToState)
	assert.Equal(t, "looks great", res.Action.Comment)

	assert.True(t, f.preprint().IsPublished)
	assert.Equal(t, []string{adminID, readerID}, f.sent.To(notify.ReviewsCommentEdited))
}

func TestWithdrawPreprint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.PreModeration)
	f.submit()
	f.accept()
	f.sent.Reset()

	res, err := f.svc.WithdrawPreprint(f.ctx, preprintID, moderatorID, "duplicate submission")
	require.NoError(t, err)
	assert.Equal(t, wf.ReviewWithdrawn, res.State)

	p := f.preprint()
	require.NotNil(t, p.DateWithdrawn)
	assert.Equal(t, epoch, *p.DateWithdrawn)
	assert.Equal(t, "duplicate submission", p.WithdrawalJustification)
	assert.True(t, p.IsPublished)
	assert.Equal(t, []string{adminID, readerID}, f.sent.To(notify.ReviewsWithdrawn))

	for _, id := range []string{adminID, readerID} {
		data := f.sentTo(notify.ReviewsWithdrawn, id)
		assert.Equal(t, true, data["force_withdrawal"], id)
		assert.Equal(t, true, data["ever_public"], id)
		assert.NotContains(t, data, "is_requester", id)
		assert.NotContains(t, data, "requester", id)
	}

	f.sent.Reset()

	// Withdrawn is final: nothing else applies.
	for _, trigger := range []string{wf.TriggerSubmit, wf.TriggerAccept, wf.TriggerWithdraw} {
		res, err := f.svc.FirePreprint(f.ctx, preprintID, trigger, statemachine.WithUser(moderatorID))
		require.NoError(t, err, trigger)
		assert.True(t, res.IsNoop(), trigger)
	}

	assert.Empty(t, f.sent.Messages())
}

func TestWithdrawPreprint_RequiresModerator(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.PreModeration)
	f.submit()

	_, err := f.svc.WithdrawPreprint(f.ctx, preprintID, adminID, "changed my mind")
	require.ErrorIs(t, err, moderrors.ErrPermission)

	p := f.preprint()
	assert.Equal(t, wf.ReviewPending, p.MachineState)
	assert.Nil(t, p.DateWithdrawn)
}

func TestFirePreprint_UnknownPreprint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.PreModeration)

	_, err := f.svc.SubmitPreprint(f.ctx, "missing", adminID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, moderrors.ErrNotFound))
}

func TestPreprintNotifications_ProviderEmails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.PreModeration,
		WithSupportEmail("support@osf.test"),
		WithContactEmail("contact@osf.test"))

	provider := load[models.Provider](f, providerID)
	provider.EmailContact = "editors@psyarxiv.test"
	f.seed(provider)

	f.submit()

	data := f.sentTo(notify.ReviewsSubmitted, adminID)
	assert.Equal(t, "editors@psyarxiv.test", data["provider_contact_email"])
	assert.Equal(t, "support@osf.test", data["provider_support_email"])
}

func TestPreprintNotifications_DefaultEmails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.PreModeration)
	f.submit()

	data := f.sentTo(notify.ReviewsModeratorsSubmitted, moderatorID)
	assert.Equal(t, DefaultContactEmail, data["provider_contact_email"])
	assert.Equal(t, DefaultSupportEmail, data["provider_support_email"])
}
