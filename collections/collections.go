// Package collections moderates node submissions to collections.
package collections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"facette.io/natsort"
	"github.com/google/uuid"

	moderrors "github.com/amp-labs/osf-moderation/errors"
	"github.com/amp-labs/osf-moderation/models"
	"github.com/amp-labs/osf-moderation/notify"
	"github.com/amp-labs/osf-moderation/permissions"
	"github.com/amp-labs/osf-moderation/statemachine"
	"github.com/amp-labs/osf-moderation/store"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

// ErrAlreadySubmitted is returned when the node already has a submission to
// the collection. Rejected and removed submissions are resubmitted instead.
var ErrAlreadySubmitted = errors.New("node is already submitted to this collection")

// Subject is a submission with everything its callbacks read.
type Subject struct {
	Submission *models.CollectionSubmission
	Collection *models.Collection
	Provider   *models.Provider
	Node       *models.Node

	tx store.Tx
}

var accessor = statemachine.Accessor[*Subject, wf.CollectionSubmissionState]{
	Kind: models.KindCollectionSubmission,
	ID:   func(s *Subject) string { return s.Submission.ID },
	Get:  func(s *Subject) wf.CollectionSubmissionState { return s.Submission.State },
	Set:  func(s *Subject, st wf.CollectionSubmissionState) { s.Submission.State = st },
	Touch: func(s *Subject, at time.Time) {
		at = at.UTC()
		s.Submission.DateLastTransitioned = &at
	},
}

type Result = statemachine.Result[wf.CollectionSubmissionState]

// Service fires collection submission triggers.
type Service struct {
	store    store.Store
	engine   *statemachine.Engine[*Subject, wf.CollectionSubmissionState]
	checker  permissions.Checker
	notifier notify.Notifier
	now      func() time.Time
	log      *slog.Logger
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

type discard struct{}

func (discard) Notify(context.Context, ...notify.Message) {}

func New(st store.Store, opts ...Option) (*Service, error) {
	s := &Service{
		store:    st,
		checker:  permissions.Default{},
		notifier: discard{},
		now:      time.Now,
		log:      slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	table, err := wf.Load(wf.CollectionSubmissionsTable)
	if err != nil {
		return nil, err
	}

	s.engine, err = statemachine.NewEngine(table, wf.CollectionSubmissionStates, s.callbacks(),
		statemachine.WithClock(s.now),
		statemachine.WithLogger(statemachine.NewSlogLogger(s.log)))
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Engine returns the underlying engine.
func (s *Service) Engine() *statemachine.Engine[*Subject, wf.CollectionSubmissionState] {
	return s.engine
}

// Submit creates a submission of nodeID to collectionID and fires submit
// as userID. Depending on the provider workflow it lands in accepted or
// pending.
func (s *Service) Submit(ctx context.Context, collectionID, nodeID, userID string) (*models.CollectionSubmission, error) {
	var out *models.CollectionSubmission

	err := store.RetryOnConflict(ctx, s.store, func(ctx context.Context, tx store.Tx) error {
		existing, err := store.List[models.CollectionSubmission](ctx, tx, store.Filter{})
		if err != nil {
			return err
		}

		for _, sub := range existing {
			if sub.CollectionID == collectionID && sub.NodeID == nodeID {
				return moderrors.Conflict(fmt.Errorf("%w: node %q, submission %q is %s",
					ErrAlreadySubmitted, nodeID, sub.ID, sub.State))
			}
		}

		now := s.now().UTC()

		submission := &models.CollectionSubmission{
			Base:         models.Base{ID: uuid.NewString(), Created: now},
			CollectionID: collectionID,
			NodeID:       nodeID,
			CreatorID:    userID,
			State:        wf.SubmissionInProgress,
		}

		sub, err := s.subjectFor(ctx, tx, submission)
		if err != nil {
			return err
		}

		if _, err := s.fire(ctx, sub, wf.TriggerSubmit, statemachine.WithUser(userID)); err != nil {
			return err
		}

		out = submission

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Accept is a moderator accepting a pending submission.
func (s *Service) Accept(ctx context.Context, submissionID, userID, comment string) (Result, error) {
	return s.Fire(ctx, submissionID, wf.TriggerAccept,
		statemachine.WithUser(userID), statemachine.WithComment(comment))
}

// Reject is a moderator rejecting a pending submission.
func (s *Service) Reject(ctx context.Context, submissionID, userID, comment string) (Result, error) {
	return s.Fire(ctx, submissionID, wf.TriggerReject,
		statemachine.WithUser(userID), statemachine.WithComment(comment))
}

// Remove takes an accepted submission out of the collection. Moderators and
// node admins may remove.
func (s *Service) Remove(ctx context.Context, submissionID, userID, comment string) (Result, error) {
	return s.Fire(ctx, submissionID, wf.TriggerRemove,
		statemachine.WithUser(userID), statemachine.WithComment(comment))
}

// Resubmit submits a rejected or removed submission again.
func (s *Service) Resubmit(ctx context.Context, submissionID, userID string) (Result, error) {
	return s.Fire(ctx, submissionID, wf.TriggerResubmit, statemachine.WithUser(userID))
}

// Cancel withdraws a pending submission back to in progress.
func (s *Service) Cancel(ctx context.Context, submissionID, userID string) (Result, error) {
	return s.Fire(ctx, submissionID, wf.TriggerCancel, statemachine.WithUser(userID))
}

// Fire runs trigger against a stored submission.
func (s *Service) Fire(ctx context.Context, submissionID, trigger string, opts ...statemachine.Option) (Result, error) {
	var out Result

	err := store.RetryOnConflict(ctx, s.store, func(ctx context.Context, tx store.Tx) error {
		submission, err := store.Load[models.CollectionSubmission](ctx, tx, submissionID)
		if err != nil {
			return fmt.Errorf("loading collection submission %q: %w", submissionID, err)
		}

		sub, err := s.subjectFor(ctx, tx, submission)
		if err != nil {
			return err
		}

		out, err = s.fire(ctx, sub, trigger, opts...)

		return err
	})
	if err != nil {
		return Result{}, err
	}

	return out, nil
}

// Get returns a stored submission.
func (s *Service) Get(ctx context.Context, submissionID string) (*models.CollectionSubmission, error) {
	var out *models.CollectionSubmission

	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error

		out, err = store.Load[models.CollectionSubmission](ctx, tx, submissionID)

		return err
	})

	return out, err
}

// fire runs the engine and persists the submission when something committed.
func (s *Service) fire(ctx context.Context, sub *Subject, trigger string, opts ...statemachine.Option) (Result, error) {
	res, err := s.engine.Fire(ctx, sub.tx, sub, accessor, trigger, opts...)
	if err != nil || res.IsNoop() {
		return res, err
	}

	sub.Submission.Modified = res.Actions[len(res.Actions)-1].Created

	if err := store.Save(ctx, sub.tx, sub.Submission); err != nil {
		accessor.Set(sub, res.From)

		return Result{}, err
	}

	return res, nil
}

func (s *Service) subjectFor(ctx context.Context, tx store.Tx, submission *models.CollectionSubmission) (*Subject, error) {
	collection, err := store.Load[models.Collection](ctx, tx, submission.CollectionID)
	if err != nil {
		return nil, fmt.Errorf("loading collection %q: %w", submission.CollectionID, err)
	}

	node, err := store.Load[models.Node](ctx, tx, submission.NodeID)
	if err != nil {
		return nil, fmt.Errorf("loading node %q: %w", submission.NodeID, err)
	}

	sub := &Subject{Submission: submission, Collection: collection, Node: node, tx: tx}

	if collection.ProviderID != "" {
		if sub.Provider, err = store.Load[models.Provider](ctx, tx, collection.ProviderID); err != nil {
			return nil, fmt.Errorf("loading provider %q: %w", collection.ProviderID, err)
		}
	}

	return sub, nil
}

func (s *Service) send(ctx context.Context, sub *Subject, tpl notify.Template, userIDs []string, comment string) {
	ids := slices.Clone(userIDs)
	natsort.Sort(ids)
	ids = slices.Compact(ids)

	data := map[string]any{
		"title":      sub.Node.Title,
		"collection": sub.Collection.Title,
		"comment":    comment,
	}

	msgs := make([]notify.Message, 0, len(ids))

	for _, id := range ids {
		to := notify.Recipient{UserID: id}

		if user, err := store.Load[models.User](ctx, sub.tx, id); err == nil {
			to.Name = user.DisplayName()
			to.Email = user.Email
		}

		msg, err := notify.Build(tpl, to, data)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to build notification", "template", string(tpl), "to", id, "error", err)

			continue
		}

		msgs = append(msgs, msg)
	}

	if len(msgs) > 0 {
		sub.tx.AfterCommit(func(ctx context.Context) { s.notifier.Notify(ctx, msgs...) })
	}
}
