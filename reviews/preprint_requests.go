package reviews

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	moderrors "github.com/amp-labs/osf-moderation/errors"
	"github.com/amp-labs/osf-moderation/models"
	"github.com/amp-labs/osf-moderation/notify"
	"github.com/amp-labs/osf-moderation/permissions"
	"github.com/amp-labs/osf-moderation/statemachine"
	"github.com/amp-labs/osf-moderation/store"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

// ErrNotWithdrawable is returned when the preprint is not in a state that
// can be withdrawn.
var ErrNotWithdrawable = errors.New("preprint cannot be withdrawn")

// PreprintRequestSubject is a withdrawal request with its preprint and the
// preprint's provider.
type PreprintRequestSubject struct {
	Request  *models.PreprintRequest
	Preprint *models.Preprint
	Provider *models.Provider

	tx store.Tx
}

type (
	preprintRequestEvent = statemachine.Event[*PreprintRequestSubject, wf.DefaultState]
	preprintRequestHook  = statemachine.Hook[*PreprintRequestSubject, wf.DefaultState]
)

var preprintRequestAccessor = statemachine.Accessor[*PreprintRequestSubject, wf.DefaultState]{
	Kind:  models.KindPreprintRequest,
	ID:    func(s *PreprintRequestSubject) string { return s.Request.ID },
	Get:   func(s *PreprintRequestSubject) wf.DefaultState { return s.Request.State },
	Set:   func(s *PreprintRequestSubject, st wf.DefaultState) { s.Request.State = st },
	Touch: func(s *PreprintRequestSubject, at time.Time) { s.Request.DateLastTransitioned = touch(at) },
}

func (s *Service) preprintRequestCallbacks() statemachine.Callbacks[*PreprintRequestSubject, wf.DefaultState] {
	noop := func(context.Context, *preprintRequestEvent) error { return nil }

	return statemachine.Callbacks[*PreprintRequestSubject, wf.DefaultState]{
		Conditions: map[string]statemachine.Condition[*PreprintRequestSubject, wf.DefaultState]{
			"resubmission_allowed": func(context.Context, *preprintRequestEvent) (bool, error) { return false, nil },
		},
		Guards: map[string]statemachine.Guard[*PreprintRequestSubject, wf.DefaultState]{
			"can_submit": s.withdrawalCanSubmit,
			"can_decide": s.withdrawalCanDecide,
		},
		Hooks: map[string]preprintRequestHook{
			"save_changes":         s.saveWithdrawalRequest,
			"notify_submit":        s.notifyWithdrawalSubmit,
			"notify_resubmit":      noop,
			"notify_accept_reject": s.notifyWithdrawalDecision,
			"notify_edit_comment":  noop,
		},
	}
}

// RequestWithdrawal asks the provider to withdraw a preprint. On a
// pre-moderated provider a preprint that was never public is withdrawn at
// once without moderator review.
func (s *Service) RequestWithdrawal(
	ctx context.Context, preprintID, creatorID, justification string,
) (*models.PreprintRequest, error) {
	var out *models.PreprintRequest

	err := store.RetryOnConflict(ctx, s.store, func(ctx context.Context, tx store.Tx) error {
		pre, err := s.loadPreprint(ctx, tx, preprintID)
		if err != nil {
			return err
		}

		now := s.now().UTC()

		req := &models.PreprintRequest{
			Base:      models.Base{ID: uuid.NewString(), Created: now, Modified: now},
			TargetID:  preprintID,
			CreatorID: creatorID,
			State:     wf.DefaultInitial,
			Comment:   justification,
		}

		sub := &PreprintRequestSubject{Request: req, Preprint: pre.Preprint, Provider: pre.Provider, tx: tx}

		if _, err := s.preprintRequests.Fire(ctx, tx, sub, preprintRequestAccessor, wf.TriggerSubmit,
			statemachine.WithUser(creatorID), statemachine.WithComment(justification)); err != nil {
			return err
		}

		out = req

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// AcceptWithdrawal is a moderator granting a withdrawal request.
func (s *Service) AcceptWithdrawal(
	ctx context.Context, requestID, userID, comment string,
) (statemachine.Result[wf.DefaultState], error) {
	return s.FirePreprintRequest(ctx, requestID, wf.TriggerAccept,
		statemachine.WithUser(userID), statemachine.WithComment(comment))
}

// RejectWithdrawal is a moderator declining a withdrawal request.
func (s *Service) RejectWithdrawal(
	ctx context.Context, requestID, userID, comment string,
) (statemachine.Result[wf.DefaultState], error) {
	return s.FirePreprintRequest(ctx, requestID, wf.TriggerReject,
		statemachine.WithUser(userID), statemachine.WithComment(comment))
}

// FirePreprintRequest runs any requests trigger against a withdrawal request.
func (s *Service) FirePreprintRequest(
	ctx context.Context, requestID, trigger string, opts ...statemachine.Option,
) (statemachine.Result[wf.DefaultState], error) {
	return fireIn(ctx, s.store,
		func(ctx context.Context, tx store.Tx) (*PreprintRequestSubject, error) {
			return s.loadPreprintRequest(ctx, tx, requestID)
		},
		func(ctx context.Context, tx store.Tx, sub *PreprintRequestSubject) (statemachine.Result[wf.DefaultState], error) {
			return s.preprintRequests.Fire(ctx, tx, sub, preprintRequestAccessor, trigger, opts...)
		})
}

func (s *Service) loadPreprintRequest(ctx context.Context, tx store.Tx, requestID string) (*PreprintRequestSubject, error) {
	req, err := store.Load[models.PreprintRequest](ctx, tx, requestID)
	if err != nil {
		return nil, fmt.Errorf("loading preprint request %q: %w", requestID, err)
	}

	pre, err := s.loadPreprint(ctx, tx, req.TargetID)
	if err != nil {
		return nil, err
	}

	return &PreprintRequestSubject{Request: req, Preprint: pre.Preprint, Provider: pre.Provider, tx: tx}, nil
}

// autoApprovable reports whether the withdrawal needs no moderator.
func autoApprovable(sub *PreprintRequestSubject) bool {
	return workflowOf(sub.Provider) == wf.PreModeration && !sub.Preprint.EverPublic
}

func (s *Service) withdrawalCanSubmit(ctx context.Context, ev *preprintRequestEvent) error {
	sub := ev.Target

	if ev.UserID == "" || ev.UserID != sub.Request.CreatorID {
		return moderrors.Permission("%v: %q", ErrNotRequester, ev.UserID)
	}

	if !s.checker.HasPermission(ctx, ev.UserID, sub.Preprint.Contributors, permissions.Admin) {
		return moderrors.Permission("%q is not an admin of this preprint", ev.UserID)
	}

	switch sub.Preprint.MachineState {
	case wf.ReviewPending, wf.ReviewAccepted:
		return nil
	default:
		return moderrors.Conflict(fmt.Errorf("%w: preprint %q is %s",
			ErrNotWithdrawable, sub.Preprint.ID, sub.Preprint.MachineState))
	}
}

func (s *Service) withdrawalCanDecide(ctx context.Context, ev *preprintRequestEvent) error {
	if ev.Auto || s.checker.IsModerator(ctx, ev.UserID, ev.Target.Provider) {
		return nil
	}

	return moderrors.Permission("%q cannot moderate %s", ev.UserID, providerName(ev.Target.Provider))
}

func (s *Service) saveWithdrawalRequest(ctx context.Context, ev *preprintRequestEvent) error {
	sub := ev.Target
	req := sub.Request

	switch ev.Trigger {
	case wf.TriggerSubmit:
		if autoApprovable(sub) {
			ev.Queue(wf.TriggerAccept,
				statemachine.WithUser(req.CreatorID),
				statemachine.WithComment(req.Comment),
				statemachine.WithAuto(true))
		}
	case wf.TriggerAccept:
		if err := s.withdrawTarget(ctx, ev); err != nil {
			return err
		}
	case wf.TriggerEditComment:
		req.Comment = ev.Comment
	}

	req.Modified = ev.Now.UTC()

	return store.Save(ctx, sub.tx, req)
}

// withdrawTarget fires withdraw on the preprint in the same transaction.
func (s *Service) withdrawTarget(ctx context.Context, ev *preprintRequestEvent) error {
	sub := ev.Target
	pre := &PreprintSubject{Preprint: sub.Preprint, Provider: sub.Provider, tx: sub.tx}

	res, err := s.preprints.Fire(ctx, sub.tx, pre, preprintAccessor, wf.TriggerWithdraw,
		statemachine.WithUser(ev.UserID),
		statemachine.WithComment(sub.Request.Comment),
		statemachine.WithAuto(ev.Auto),
		statemachine.WithParam(ParamRequester, sub.Request.CreatorID))
	if err != nil {
		return err
	}

	if res.IsNoop() {
		return moderrors.Conflict(fmt.Errorf("%w: preprint %q is %s",
			ErrNotWithdrawable, sub.Preprint.ID, sub.Preprint.MachineState))
	}

	return nil
}

func (s *Service) withdrawalData(ctx context.Context, sub *PreprintRequestSubject, comment string) map[string]any {
	return s.providerEmails(map[string]any{
		"title":     sub.Preprint.Title,
		"provider":  providerName(sub.Provider),
		"requester": displayName(ctx, sub.tx, sub.Request.CreatorID),
		"comment":   comment,
	}, sub.Provider)
}

func (s *Service) notifyWithdrawalSubmit(ctx context.Context, ev *preprintRequestEvent) error {
	sub := ev.Target
	if autoApprovable(sub) || sub.Provider == nil {
		return nil
	}

	s.send(ctx, sub.tx, notify.WithdrawalRequestSubmitted, sub.Provider.ModeratorIDs(),
		s.withdrawalData(ctx, sub, sub.Request.Comment))

	return nil
}

func (s *Service) notifyWithdrawalDecision(ctx context.Context, ev *preprintRequestEvent) error {
	if ev.To != wf.DefaultRejected {
		return nil
	}

	sub := ev.Target
	s.send(ctx, sub.tx, notify.WithdrawalRequestDenied, []string{sub.Request.CreatorID},
		s.withdrawalData(ctx, sub, ev.Comment))

	return nil
}
