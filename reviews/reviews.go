// Package reviews runs preprint review, node access requests and preprint
// withdrawal requests.
//
// Preprints use the reviews table. Node and preprint requests share the
// requests table with their own callbacks. Each Fire is one store
// transaction; notifications are sent after the commit, best effort.
package reviews

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"facette.io/natsort"

	"github.com/amp-labs/osf-moderation/models"
	"github.com/amp-labs/osf-moderation/notify"
	"github.com/amp-labs/osf-moderation/permissions"
	"github.com/amp-labs/osf-moderation/statemachine"
	"github.com/amp-labs/osf-moderation/store"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

// Parameters accepted when accepting a node request.
const (
	// ParamPermissions overrides the requested permission.
	ParamPermissions = "permissions"
	// ParamVisible sets bibliographic visibility. Defaults to true.
	ParamVisible = "visible"
	// ParamRequester is the id of the user whose withdrawal request was
	// granted. A withdrawal without one was forced by a moderator.
	ParamRequester = "requester"
)

// Addresses used when a provider has none of its own.
const (
	DefaultSupportEmail = "support@osf.io"
	DefaultContactEmail = "contact@osf.io"
)

// Service holds the three engines.
type Service struct {
	store    store.Store
	checker  permissions.Checker
	notifier notify.Notifier
	now      func() time.Time
	log      *slog.Logger

	supportEmail string
	contactEmail string

	preprints        *statemachine.Engine[*PreprintSubject, wf.ReviewState]
	nodeRequests     *statemachine.Engine[*NodeRequestSubject, wf.DefaultState]
	preprintRequests *statemachine.Engine[*PreprintRequestSubject, wf.DefaultState]
}

type Option func(*Service)

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithChecker(c permissions.Checker) Option {
	return func(s *Service) { s.checker = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithSupportEmail sets the OSF support address put in emails.
func WithSupportEmail(addr string) Option {
	return func(s *Service) { s.supportEmail = addr }
}

// WithContactEmail sets the OSF contact address put in emails.
func WithContactEmail(addr string) Option {
	return func(s *Service) { s.contactEmail = addr }
}

type discard struct{}

func (discard) Notify(context.Context, ...notify.Message) {}

// New builds the engines from the embedded tables.
func New(st store.Store, opts ...Option) (*Service, error) {
	s := &Service{
		store:    st,
		checker:  permissions.Default{},
		notifier: discard{},
		now:      time.Now,
		log:      slog.Default(),

		supportEmail: DefaultSupportEmail,
		contactEmail: DefaultContactEmail,
	}

	for _, opt := range opts {
		opt(s)
	}

	engineOpts := []statemachine.EngineOption{
		statemachine.WithClock(s.now),
		statemachine.WithLogger(statemachine.NewSlogLogger(s.log)),
	}

	reviewsTable, err := wf.Load(wf.ReviewsTable)
	if err != nil {
		return nil, err
	}

	requestsTable, err := wf.Load(wf.RequestsTable)
	if err != nil {
		return nil, err
	}

	if s.preprints, err = statemachine.NewEngine(reviewsTable, wf.ReviewStates, s.preprintCallbacks(), engineOpts...); err != nil {
		return nil, err
	}

	if s.nodeRequests, err = statemachine.NewEngine(
		requestsTable, wf.DefaultStates, s.nodeRequestCallbacks(), engineOpts...); err != nil {
		return nil, err
	}

	if s.preprintRequests, err = statemachine.NewEngine(
		requestsTable, wf.DefaultStates, s.preprintRequestCallbacks(), engineOpts...); err != nil {
		return nil, err
	}

	return s, nil
}

// fireIn loads a target and fires a trigger against it inside one
// transaction, retrying on version conflicts.
func fireIn[T any, S ~string](
	ctx context.Context,
	st store.Store,
	load func(ctx context.Context, tx store.Tx) (T, error),
	fire func(ctx context.Context, tx store.Tx, target T) (statemachine.Result[S], error),
) (statemachine.Result[S], error) {
	var out statemachine.Result[S]

	err := store.RetryOnConflict(ctx, st, func(ctx context.Context, tx store.Tx) error {
		target, err := load(ctx, tx)
		if err != nil {
			return err
		}

		out, err = fire(ctx, tx, target)

		return err
	})
	if err != nil {
		return statemachine.Result[S]{}, err
	}

	return out, nil
}

// dataFunc returns the template data for one recipient.
type dataFunc func(userID string) map[string]any

func same(data map[string]any) dataFunc {
	return func(string) map[string]any { return data }
}

func (s *Service) send(ctx context.Context, tx store.Tx, tpl notify.Template, userIDs []string, data map[string]any) {
	s.sendEach(ctx, tx, tpl, userIDs, same(data))
}

// sendEach renders tpl for every user with that user's data and queues the
// messages for after the commit.
func (s *Service) sendEach(ctx context.Context, tx store.Tx, tpl notify.Template, userIDs []string, data dataFunc) {
	ids := slices.Clone(userIDs)
	natsort.Sort(ids)
	ids = slices.Compact(ids)

	msgs := make([]notify.Message, 0, len(ids))

	for _, id := range ids {
		to := notify.Recipient{UserID: id}

		if user, err := store.Load[models.User](ctx, tx, id); err == nil {
			to.Name = user.DisplayName()
			to.Email = user.Email
		}

		msg, err := notify.Build(tpl, to, data(id))
		if err != nil {
			s.log.ErrorContext(ctx, "failed to build notification", "template", string(tpl), "to", id, "error", err)

			continue
		}

		msgs = append(msgs, msg)
	}

	if len(msgs) > 0 {
		tx.AfterCommit(func(ctx context.Context) { s.notifier.Notify(ctx, msgs...) })
	}
}

// providerEmails adds the provider's addresses, falling back to OSF's own.
func (s *Service) providerEmails(data map[string]any, p *models.Provider) map[string]any {
	data["provider_contact_email"] = p.ContactEmail(s.contactEmail)
	data["provider_support_email"] = p.SupportEmail(s.supportEmail)

	return data
}

func displayName(ctx context.Context, tx store.Tx, userID string) string {
	user, err := store.Load[models.User](ctx, tx, userID)
	if err != nil {
		return userID
	}

	return user.DisplayName()
}

func providerName(p *models.Provider) string {
	if p == nil {
		return ""
	}

	return p.Name
}

func workflowOf(p *models.Provider) wf.Workflow {
	if p == nil {
		return wf.WorkflowNone
	}

	return p.Workflow
}

func touch(at time.Time) *time.Time {
	at = at.UTC()

	return &at
}
