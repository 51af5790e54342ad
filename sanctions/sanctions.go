// Package sanctions runs the approval workflow shared by registration
// approvals, embargoes, retractions and embargo terminations.
//
// Every operation is one store transaction: the sanction is loaded with its
// registration and provider, the trigger is fired, the registration's
// moderation state is recomputed and everything is saved together.
// Notifications are handed to the Notifier only after the commit.
package sanctions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	moderrors "github.com/amp-labs/osf-moderation/errors"
	"github.com/amp-labs/osf-moderation/models"
	"github.com/amp-labs/osf-moderation/notify"
	"github.com/amp-labs/osf-moderation/permissions"
	"github.com/amp-labs/osf-moderation/statemachine"
	"github.com/amp-labs/osf-moderation/store"
	"github.com/amp-labs/osf-moderation/tokens"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

// Machine is the name recorded on registration moderation actions.
const Machine = "registration_moderation"

var (
	ErrTokensRequired      = errors.New("token issuer is required")
	ErrUnknownSanctionType = errors.New("unknown sanction type")
)

// Subject is everything one sanction transition reads and writes.
type Subject struct {
	Sanction     *models.Sanction
	Registration *models.Registration
	Provider     *models.Provider
	// Embargo is the embargo an embargo termination ends.
	Embargo *models.Sanction

	tx store.Tx
	// also is a sanction of the same registration already held in memory
	// by an enclosing transition.
	also *models.Sanction
}

var accessor = statemachine.Accessor[*Subject, wf.ApprovalState]{
	Kind: models.KindSanction,
	ID:   func(s *Subject) string { return s.Sanction.ID },
	Get:  func(s *Subject) wf.ApprovalState { return s.Sanction.Stage },
	Set:  func(s *Subject, st wf.ApprovalState) { s.Sanction.Stage = st },
	Touch: func(s *Subject, at time.Time) {
		at = at.UTC()
		s.Sanction.DateLastTransitioned = &at
	},
}

// Service fires sanction triggers against a store.
type Service struct {
	store    store.Store
	engines  map[wf.SanctionType]*statemachine.Engine[*Subject, wf.ApprovalState]
	tokens   *tokens.Issuer
	checker  permissions.Checker
	notifier notify.Notifier
	domain   string
	now      func() time.Time
	log      *slog.Logger

	supportEmail string
	contactEmail string
}

type Option func(*Service)

// WithNotifier sets where notifications go. The default drops them.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithChecker replaces permissions.Default.
func WithChecker(c permissions.Checker) Option {
	return func(s *Service) { s.checker = c }
}

// WithDomain sets the base URL used in approval links.
func WithDomain(domain string) Option {
	return func(s *Service) { s.domain = domain }
}

// WithClock overrides time.Now for the service and its engine.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithSupportEmail sets the support address used for providers without one.
func WithSupportEmail(addr string) Option {
	return func(s *Service) { s.supportEmail = addr }
}

// WithContactEmail sets the contact address used for providers without one.
func WithContactEmail(addr string) Option {
	return func(s *Service) { s.contactEmail = addr }
}

type discard struct{}

func (discard) Notify(context.Context, ...notify.Message) {}

// New builds the service and its engine from the embedded approvals table.
func New(st store.Store, issuer *tokens.Issuer, opts ...Option) (*Service, error) {
	if issuer == nil {
		return nil, ErrTokensRequired
	}

	s := &Service{
		store:    st,
		tokens:   issuer,
		checker:  permissions.Default{},
		notifier: discard{},
		domain:   "http://localhost:5000",
		now:      time.Now,
		log:      slog.Default(),

		supportEmail: "support@osf.io",
		contactEmail: "contact@osf.io",
	}

	for _, opt := range opts {
		opt(s)
	}

	table, err := wf.Load(wf.ApprovalsTable)
	if err != nil {
		return nil, err
	}

	// One engine per kind so invalid-trigger messages can name the sanction.
	s.engines = make(map[wf.SanctionType]*statemachine.Engine[*Subject, wf.ApprovalState], len(wf.SanctionTypes))

	for _, kind := range wf.SanctionTypes {
		engine, err := statemachine.NewEngine(table, wf.ApprovalStates, s.callbacks(kind),
			statemachine.WithClock(s.now),
			statemachine.WithLogger(statemachine.NewSlogLogger(s.log)),
		)
		if err != nil {
			return nil, err
		}

		s.engines[kind] = engine
	}

	return s, nil
}

// Engine returns the engine for one sanction kind.
func (s *Service) Engine(kind wf.SanctionType) *statemachine.Engine[*Subject, wf.ApprovalState] {
	return s.engines[kind]
}

func (s *Service) fire(
	ctx context.Context,
	sub *Subject,
	trigger string,
	opts ...statemachine.Option,
) (statemachine.Result[wf.ApprovalState], error) {
	engine, ok := s.engines[sub.Sanction.SanctionType]
	if !ok {
		return statemachine.Result[wf.ApprovalState]{},
			fmt.Errorf("%w: %q", ErrUnknownSanctionType, sub.Sanction.SanctionType)
	}

	return engine.Fire(ctx, sub.tx, sub, accessor, trigger, opts...)
}

// Result is what a sanction operation reports back.
type Result struct {
	statemachine.Result[wf.ApprovalState]

	// ModerationState is the registration's state after the commit.
	ModerationState wf.RegistrationModerationState
}

// Approve records userID's approval. Once enough admins have approved the
// sanction is accepted in the same transaction.
func (s *Service) Approve(ctx context.Context, sanctionID, userID, token, comment string) (Result, error) {
	return s.Fire(ctx, sanctionID, wf.TriggerApprove,
		statemachine.WithUser(userID),
		statemachine.WithToken(token),
		statemachine.WithComment(comment))
}

// Reject rejects the sanction. Admins pass their rejection token; moderators
// reject a sanction pending moderation without one.
func (s *Service) Reject(ctx context.Context, sanctionID, userID, token, comment string) (Result, error) {
	return s.Fire(ctx, sanctionID, wf.TriggerReject,
		statemachine.WithUser(userID),
		statemachine.WithToken(token),
		statemachine.WithComment(comment))
}

// Accept is the moderator decision on a sanction pending moderation.
func (s *Service) Accept(ctx context.Context, sanctionID, userID, comment string) (Result, error) {
	return s.Fire(ctx, sanctionID, wf.TriggerAccept,
		statemachine.WithUser(userID),
		statemachine.WithComment(comment))
}

// Complete ends an approved embargo.
func (s *Service) Complete(ctx context.Context, sanctionID string) (Result, error) {
	return s.Fire(ctx, sanctionID, wf.TriggerComplete, statemachine.WithAuto(true))
}

// Fire runs trigger against the sanction inside a transaction, retrying the
// whole transaction when another writer got there first.
func (s *Service) Fire(ctx context.Context, sanctionID, trigger string, opts ...statemachine.Option) (Result, error) {
	var out Result

	err := store.RetryOnConflict(ctx, s.store, func(ctx context.Context, tx store.Tx) error {
		sub, err := s.load(ctx, tx, sanctionID)
		if err != nil {
			return err
		}

		res, err := s.fire(ctx, sub, trigger, opts...)
		if err != nil {
			return err
		}

		out = Result{Result: res, ModerationState: sub.Registration.ModerationState}

		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return out, nil
}

// CurrentState returns the sanction's stage.
func (s *Service) CurrentState(ctx context.Context, sanctionID string) (wf.ApprovalState, error) {
	var state wf.ApprovalState

	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sanction, err := store.Load[models.Sanction](ctx, tx, sanctionID)
		if err != nil {
			return err
		}

		state = accessor.Get(&Subject{Sanction: sanction})

		return nil
	})

	return state, err
}

// Get loads a sanction.
func (s *Service) Get(ctx context.Context, sanctionID string) (*models.Sanction, error) {
	var out *models.Sanction

	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error

		out, err = store.Load[models.Sanction](ctx, tx, sanctionID)

		return err
	})

	return out, err
}

// TokenForUser returns the stored token an authorizer received by email.
func (s *Service) TokenForUser(ctx context.Context, sanctionID, userID string, purpose tokens.Purpose) (string, error) {
	sanction, err := s.Get(ctx, sanctionID)
	if err != nil {
		return "", err
	}

	approval, ok := sanction.Approvals[userID]
	if !ok {
		return "", moderrors.Permission("%s is not an authorizer for this %s",
			userID, notify.SanctionName(sanction.SanctionType))
	}

	if purpose == tokens.Rejection {
		return approval.RejectionToken, nil
	}

	return approval.ApprovalToken, nil
}

func (s *Service) load(ctx context.Context, tx store.Tx, sanctionID string) (*Subject, error) {
	sanction, err := store.Load[models.Sanction](ctx, tx, sanctionID)
	if err != nil {
		return nil, err
	}

	return s.subjectFor(ctx, tx, sanction)
}

func (s *Service) subjectFor(ctx context.Context, tx store.Tx, sanction *models.Sanction) (*Subject, error) {
	reg, err := store.Load[models.Registration](ctx, tx, sanction.RegistrationID)
	if err != nil {
		return nil, fmt.Errorf("loading registration of %s %q: %w", sanction.SanctionType, sanction.ID, err)
	}

	sub := &Subject{Sanction: sanction, Registration: reg, tx: tx}

	if reg.ProviderID != "" {
		sub.Provider, err = store.Load[models.Provider](ctx, tx, reg.ProviderID)
		if err != nil {
			return nil, fmt.Errorf("loading provider of registration %q: %w", reg.ID, err)
		}
	}

	if sanction.SanctionType == wf.EmbargoTermination && sanction.EmbargoID != "" {
		sub.Embargo, err = store.Load[models.Sanction](ctx, tx, sanction.EmbargoID)
		if err != nil {
			return nil, fmt.Errorf("loading embargo of termination %q: %w", sanction.ID, err)
		}
	}

	return sub, nil
}
