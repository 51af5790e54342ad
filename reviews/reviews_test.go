package reviews

import (
	"context"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/amp-labs/osf-moderation/models"
	"github.com/amp-labs/osf-moderation/notify"
	"github.com/amp-labs/osf-moderation/permissions"
	"github.com/amp-labs/osf-moderation/store"
	"github.com/amp-labs/osf-moderation/store/memstore"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	adminID     = "admin"
	readerID    = "reader"
	moderatorID = "moderator"
	strangerID  = "stranger"
	providerID  = "preprints"
	preprintID  = "preprint"
	nodeID      = "node"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memstore.Store
	svc   *Service
	sent  *notify.Recorder
}

func newFixture(t *testing.T, workflow wf.Workflow, opts ...Option) *fixture {
	t.Helper()

	clock := func() time.Time { return epoch }
	st := memstore.New(clock)
	sent := &notify.Recorder{}

	svc, err := New(st, append([]Option{
		WithNotifier(notify.Sync{Sender: sent}),
		WithClock(clock),
		WithLogger(slogt.New(t)),
	}, opts...)...)
	require.NoError(t, err)

	f := &fixture{t: t, ctx: context.Background(), store: st, svc: svc, sent: sent}

	f.seed(
		&models.User{Base: models.Base{ID: adminID}, FullName: "Ada Admin", Email: "ada@example.com"},
		&models.User{Base: models.Base{ID: strangerID}, FullName: "Sam Stranger", Email: "sam@example.com"},
		&models.User{Base: models.Base{ID: moderatorID}, FullName: "Moe Moderator", Email: "moe@example.com"},
		&models.Provider{
			Base:     models.Base{ID: providerID},
			Name:     "PsyArXiv",
			Workflow: workflow,
			Roles:    map[string]models.ProviderRole{moderatorID: models.ProviderModerator},
		},
		&models.Preprint{
			Base:         models.Base{ID: preprintID},
			Title:        "On the reproducibility of priming",
			ProviderID:   providerID,
			MachineState: wf.ReviewInitial,
			Contributors: models.Contributors{
				{UserID: adminID, Permission: permissions.Admin, Visible: true},
				{UserID: readerID, Permission: permissions.Read, Visible: true},
			},
			PrimaryFileID: "file",
			SubjectIDs:    []string{"psychology"},
		},
		&models.Node{
			Base:                  models.Base{ID: nodeID},
			Title:                 "Priming replication data",
			AccessRequestsEnabled: true,
			Contributors: models.Contributors{
				{UserID: adminID, Permission: permissions.Admin, Visible: true},
			},
		},
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

func load[T any, PT store.PtrObject[T]](f *fixture, id string) PT {
	f.t.Helper()

	var out PT

	require.NoError(f.t, f.store.WithTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		var err error

		out, err = store.Load[T, PT](ctx, tx, id)

		return err
	}))

	return out
}

// sentTo returns the data of the tpl message sent to userID.
func (f *fixture) sentTo(tpl notify.Template, userID string) map[string]any {
	f.t.Helper()

	for _, msg := range f.sent.Messages() {
		if msg.Template == tpl && msg.To.UserID == userID {
			return msg.Data
		}
	}

	require.Failf(f.t, "no message", "%s was not sent to %s", tpl, userID)

	return nil
}

func (f *fixture) preprint() *models.Preprint {
	f.t.Helper()

	return load[models.Preprint](f, preprintID)
}

func (f *fixture) node() *models.Node {
	f.t.Helper()

	return load[models.Node](f, nodeID)
}

// update loads the preprint, applies fn and saves it.
func (f *fixture) updatePreprint(fn func(p *models.Preprint)) {
	f.t.Helper()

	require.NoError(f.t, f.store.WithTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := store.Load[models.Preprint](ctx, tx, preprintID)
		if err != nil {
			return err
		}

		fn(p)

		return store.Save(ctx, tx, p)
	}))
}

func (f *fixture) submit() {
	f.t.Helper()

	_, err := f.svc.SubmitPreprint(f.ctx, preprintID, adminID)
	require.NoError(f.t, err)
}

func (f *fixture) accept() {
	f.t.Helper()

	_, err := f.svc.AcceptPreprint(f.ctx, preprintID, moderatorID, "looks good")
	require.NoError(f.t, err)
}
