package reviews

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	moderrors "github.com/amp-labs/osf-moderation/errors"
	"github.com/amp-labs/osf-moderation/models"
	"github.com/amp-labs/osf-moderation/notify"
	"github.com/amp-labs/osf-moderation/permissions"
	"github.com/amp-labs/osf-moderation/statemachine"
	"github.com/amp-labs/osf-moderation/store"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

func (f *fixture) requestAccess(userID string, kind wf.NodeRequestType) *models.NodeRequest {
	f.t.Helper()

	req, err := f.svc.RequestAccess(f.ctx, nodeID, userID, kind, permissions.Write, "I work on this dataset")
	require.NoError(f.t, err)

	return req
}

func (f *fixture) nodeRequest(id string) *models.NodeRequest {
	f.t.Helper()

	return load[models.NodeRequest](f, id)
}

func TestRequestAccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.WorkflowNone)
	req := f.requestAccess(strangerID, wf.AccessRequest)

	stored := f.nodeRequest(req.ID)
	assert.Equal(t, wf.DefaultPending, stored.State)
	assert.Equal(t, strangerID, stored.CreatorID)
	assert.Equal(t, permissions.Write, stored.RequestedPermission)
	require.NotNil(t, stored.DateLastTransitioned)

	assert.Equal(t, []string{adminID}, f.sent.To(notify.AccessRequestSubmitted))

	msgs := f.sent.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Subject, "Sam Stranger")

	recs := f.store.Actions()
	require.Len(t, recs, 1)
	assert.Equal(t, models.KindNodeRequest, recs[0].TargetKind)
	assert.Equal(t, "requests", recs[0].Machine)
	assert.Equal(t, strangerID, recs[0].CreatorID)
}

func TestRequestAccess_Refused(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		user    string
		disable bool
		want    error
	}{
		{name: "access requests disabled", user: strangerID, disable: true, want: moderrors.ErrPermission},
		{name: "already a contributor", user: adminID, want: moderrors.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, wf.WorkflowNone)

			if tt.disable {
				node := f.node()
				node.AccessRequestsEnabled = false
				f.seed(node)
			}

			_, err := f.svc.RequestAccess(f.ctx, nodeID, tt.user, wf.AccessRequest, permissions.Read, "")
			require.ErrorIs(t, err, tt.want)

			requests := listAll[models.NodeRequest](f)
			assert.Empty(t, requests)
			assert.Empty(t, f.store.Actions())
			assert.Empty(t, f.sent.Messages())
		})
	}
}

func listAll[T any, PT store.PtrObject[T]](f *fixture) []PT {
	f.t.Helper()

	var out []PT

	require.NoError(f.t, f.store.WithTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		var err error

		out, err = store.List[T, PT](ctx, tx, store.Filter{})

		return err
	}))

	return out
}

func TestAcceptNodeRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    []statemachine.Option
		want    models.Contributor
		comment string
	}{
		{
			name: "requested permission",
			want: models.Contributor{UserID: strangerID, Permission: permissions.Write, Visible: true},
		},
		{
			name: "overridden",
			opts: []statemachine.Option{
				statemachine.WithParam(ParamPermissions, "admin"),
				statemachine.WithParam(ParamVisible, false),
			},
			want: models.Contributor{UserID: strangerID, Permission: permissions.Admin},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, wf.WorkflowNone)
			req := f.requestAccess(strangerID, wf.AccessRequest)
			f.sent.Reset()

			res, err := f.svc.AcceptNodeRequest(f.ctx, req.ID, adminID, "welcome", tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, wf.DefaultAccepted, res.State)

			got, ok := f.node().Contributors.Get(strangerID)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)

			assert.Equal(t, wf.DefaultAccepted, f.nodeRequest(req.ID).State)
			assert.Empty(t, f.sent.Messages())
		})
	}
}

func TestRejectNodeRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.WorkflowNone)
	req := f.requestAccess(strangerID, wf.AccessRequest)
	f.sent.Reset()

	res, err := f.svc.RejectNodeRequest(f.ctx, req.ID, adminID, "not now")
	require.NoError(t, err)
	assert.Equal(t, wf.DefaultRejected, res.State)

	_, ok := f.node().Contributors.Get(strangerID)
	assert.False(t, ok)
	assert.Equal(t, []string{strangerID}, f.sent.To(notify.AccessRequestDenied))

	// A rejected request can still be accepted.
	res, err = f.svc.AcceptNodeRequest(f.ctx, req.ID, adminID, "")
	require.NoError(t, err)
	assert.Equal(t, wf.DefaultAccepted, res.State)

	_, ok = f.node().Contributors.Get(strangerID)
	assert.True(t, ok)
}

func TestNodeRequest_DecisionsRequireAdmin(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.WorkflowNone)
	req := f.requestAccess(strangerID, wf.AccessRequest)

	for _, user := range []string{strangerID, moderatorID} {
		_, err := f.svc.AcceptNodeRequest(f.ctx, req.ID, user, "")
		require.ErrorIs(t, err, moderrors.ErrPermission, user)
	}

	assert.Equal(t, wf.DefaultPending, f.nodeRequest(req.ID).State)
	assert.Len(t, f.node().Contributors, 1)
}

func TestNodeRequest_EditComment(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.WorkflowNone)
	req := f.requestAccess(strangerID, wf.AccessRequest)
	f.sent.Reset()

	res, err := f.svc.FireNodeRequest(f.ctx, req.ID, wf.TriggerEditComment,
		statemachine.WithUser(adminID), statemachine.WithComment("please add details"))
	require.NoError(t, err)
	assert.Equal(t, wf.DefaultPending, res.State)

	assert.Equal(t, "please add details", f.nodeRequest(req.ID).Comment)
	assert.Empty(t, f.sent.Messages())
}

func TestNodeRequest_ResubmitIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.WorkflowNone)
	req := f.requestAccess(strangerID, wf.AccessRequest)

	res, err := f.svc.FireNodeRequest(f.ctx, req.ID, wf.TriggerSubmit, statemachine.WithUser(strangerID))
	require.NoError(t, err)
	assert.True(t, res.IsNoop())
	assert.Len(t, f.store.Actions(), 1)
}

func TestInstitutionalRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.WorkflowNone)

	node := f.node()
	node.AccessRequestsEnabled = false
	f.seed(node)

	req := f.requestAccess(strangerID, wf.InstitutionalRequest)
	assert.Empty(t, f.sent.Messages())

	_, err := f.svc.AcceptNodeRequest(f.ctx, req.ID, adminID, "", statemachine.WithParam(ParamVisible, true))
	require.NoError(t, err)

	got, ok := f.node().Contributors.Get(strangerID)
	require.True(t, ok)
	assert.True(t, got.Curator)
	assert.False(t, got.Visible)
	assert.Equal(t, permissions.Write, got.Permission)
}

func TestInstitutionalRequest_ExistingContributorUnchanged(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.WorkflowNone)

	node := f.node()
	node.Contributors = append(node.Contributors,
		models.Contributor{UserID: strangerID, Permission: permissions.Read, Visible: true})
	f.seed(node)

	req := f.requestAccess(strangerID, wf.InstitutionalRequest)

	_, err := f.svc.AcceptNodeRequest(f.ctx, req.ID, adminID, "")
	require.NoError(t, err)

	assert.Equal(t, wf.DefaultAccepted, f.nodeRequest(req.ID).State)

	got, ok := f.node().Contributors.Get(strangerID)
	require.True(t, ok)
	assert.False(t, got.Curator)
	assert.True(t, got.Visible)
	assert.Equal(t, permissions.Read, got.Permission)
}

func TestContributorError(t *testing.T) {
	t.Parallel()

	var cs models.Contributors

	err := contributorError(cs.Add(models.Contributor{UserID: strangerID, Curator: true, Visible: true}))
	require.ErrorIs(t, err, moderrors.ErrConflict)
	require.ErrorIs(t, err, models.ErrCuratorVisible)

	err = contributorError(cs.Add(models.Contributor{}))
	require.ErrorIs(t, err, models.ErrUserIDRequired)
	assert.NotErrorIs(t, err, moderrors.ErrConflict)

	other := &models.IntegrityError{Message: "some other rule"}
	assert.Same(t, other, contributorError(other))
	assert.NoError(t, contributorError(nil))
}

func TestNodeRequestNotifications_ContactEmail(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wf.WorkflowNone, WithContactEmail("contact@osf.test"))
	req := f.requestAccess(strangerID, wf.AccessRequest)

	data := f.sentTo(notify.AccessRequestSubmitted, adminID)
	assert.Equal(t, "contact@osf.test", data["osf_contact_email"])

	_, err := f.svc.RejectNodeRequest(f.ctx, req.ID, adminID, "")
	require.NoError(t, err)

	msg := f.sent.Messages()[len(f.sent.Messages())-1]
	assert.Equal(t, notify.AccessRequestDenied, msg.Template)
	assert.Contains(t, msg.Body, "Questions: contact@osf.test")
}
