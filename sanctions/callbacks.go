package sanctions

import (
	"context"
	"fmt"
	"maps"

	moderrors "github.com/amp-labs/osf-moderation/errors"
	"github.com/amp-labs/osf-moderation/models"
	"github.com/amp-labs/osf-moderation/notify"
	"github.com/amp-labs/osf-moderation/statemachine"
	"github.com/amp-labs/osf-moderation/store"
	"github.com/amp-labs/osf-moderation/tokens"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

type (
	event = statemachine.Event[*Subject, wf.ApprovalState]
	guard = statemachine.Guard[*Subject, wf.ApprovalState]
	hook  = statemachine.Hook[*Subject, wf.ApprovalState]
)

func (s *Service) callbacks(kind wf.SanctionType) statemachine.Callbacks[*Subject, wf.ApprovalState] {
	return statemachine.Callbacks[*Subject, wf.ApprovalState]{
		Conditions: map[string]statemachine.Condition[*Subject, wf.ApprovalState]{
			"is_moderated": s.isModerated,
		},
		Guards: map[string]guard{
			"is_approver":              s.isApprover,
			"valid_approval_token":     s.validToken(tokens.Approval),
			"valid_rejection_token":    s.validToken(tokens.Rejection),
			"admin_approvals_complete": s.adminApprovalsComplete,
			"is_moderator":             s.isModerator,
		},
		Hooks: map[string]hook{
			"on_approve":          s.onApprove,
			"notify_moderators":   s.notifyModerators,
			"on_complete":         s.onComplete,
			"on_reject":           s.onReject,
			"on_moderator_reject": s.onModeratorReject,
			"on_completed":        s.onCompleted,
			"save_transition":     s.saveTransition,
		},
		InvalidTrigger: func(from wf.ApprovalState, trigger string) string {
			return invalidTrigger(kind, from, trigger)
		},
	}
}

func invalidTrigger(kind wf.SanctionType, from wf.ApprovalState, _ string) string {
	name := notify.SanctionName(kind)

	switch {
	case from.IsRejected():
		return fmt.Sprintf("This %s has already been rejected and cannot be approved", name)
	case from.IsApproved():
		return fmt.Sprintf("This %s has all required approvals and cannot be rejected", name)
	}

	return ""
}

func sanctionName(sub *Subject) string {
	return notify.SanctionName(sub.Sanction.SanctionType)
}

// Moderator-initiated retractions skip the moderation queue.
func (s *Service) isModerated(_ context.Context, ev *event) (bool, error) {
	sanction := ev.Target.Sanction

	return sanction.IsModerated(ev.Target.Provider) && !sanction.ModeratorInitiated, nil
}

func (s *Service) isApprover(_ context.Context, ev *event) error {
	if ev.Target.Sanction.IsApprover(ev.UserID) {
		return nil
	}

	return moderrors.Permission("%q is not an authorizer for this %s", ev.UserID, sanctionName(ev.Target))
}

func (s *Service) validToken(purpose tokens.Purpose) guard {
	return func(_ context.Context, ev *event) error {
		sanction := ev.Target.Sanction

		if err := s.tokens.Verify(ev.Token, ev.UserID, sanction.ID, purpose); err != nil {
			return err
		}

		approval := sanction.Approvals[ev.UserID]
		if approval == nil {
			return &moderrors.InvalidTokenError{Purpose: string(purpose), Err: tokens.ErrClaimMismatch}
		}

		want := approval.ApprovalToken
		if purpose == tokens.Rejection {
			want = approval.RejectionToken
		}

		if want != ev.Token {
			return &moderrors.InvalidTokenError{Purpose: string(purpose), Err: tokens.ErrClaimMismatch}
		}

		return nil
	}
}

func (s *Service) adminApprovalsComplete(ctx context.Context, ev *event) error {
	sanction := ev.Target.Sanction

	switch {
	case ev.Auto, sanction.Satisfied():
		return nil
	case sanction.ModeratorInitiated && s.checker.IsModerator(ctx, ev.UserID, ev.Target.Provider):
		return nil
	}

	return moderrors.Permission("this %s still needs approval from its admins", sanctionName(ev.Target))
}

func (s *Service) isModerator(ctx context.Context, ev *event) error {
	if s.checker.IsModerator(ctx, ev.UserID, ev.Target.Provider) {
		return nil
	}

	return moderrors.Permission("%q cannot moderate this %s", ev.UserID, sanctionName(ev.Target))
}

func (s *Service) onApprove(_ context.Context, ev *event) error {
	sanction := ev.Target.Sanction
	sanction.Approvals[ev.UserID].HasApproved = true

	if sanction.Satisfied() {
		ev.Queue(wf.TriggerAccept,
			statemachine.WithUser(ev.UserID),
			statemachine.WithComment(ev.Comment))
	}

	return nil
}

// logRegistered records the approval on the project the registration was
// made from.
func (s *Service) logRegistered(ctx context.Context, ev *event) error {
	sub := ev.Target
	reg := sub.Registration

	if reg.RegisteredFromID == "" {
		return nil
	}

	project, err := store.Load[models.Node](ctx, sub.tx, reg.RegisteredFromID)
	if err != nil {
		return fmt.Errorf("loading project %q of registration %q: %w", reg.RegisteredFromID, reg.ID, err)
	}

	params := map[string]string{
		"node":         project.ID,
		"registration": reg.ID,
		"sanction":     sub.Sanction.ID,
	}

	project.Logs.Add(models.LogRegistrationApprovalApproved, ev.UserID, ev.Now, params)
	project.Logs.Add(models.LogProjectRegistered, ev.UserID, ev.Now, maps.Clone(params))
	project.Modified = ev.Now.UTC()

	return store.Save(ctx, sub.tx, project)
}

func (s *Service) notifyModerators(ctx context.Context, ev *event) error {
	sub := ev.Target
	if sub.Provider == nil {
		return nil
	}

	s.send(ctx, sub.tx, notify.SanctionModeratorsPending, sub.Provider.ModeratorIDs(), same(s.data(sub, ev.Comment)))

	return nil
}

// onComplete applies the effect of an accepted sanction to its registration.
func (s *Service) onComplete(ctx context.Context, ev *event) error {
	sub := ev.Target
	reg := sub.Registration

	switch sub.Sanction.SanctionType {
	case wf.RegistrationApproval:
		reg.IsPublic = true

		if err := s.logRegistered(ctx, ev); err != nil {
			return err
		}
	case wf.Embargo:
		reg.IsPublic = false
	case wf.Retraction:
		at := ev.Now.UTC()
		reg.DateWithdrawn = &at
		reg.WithdrawalJustification = sub.Sanction.Justification
		reg.IsPublic = true
	case wf.EmbargoTermination:
		if err := s.completeEmbargo(ctx, ev); err != nil {
			return err
		}
	}

	s.send(ctx, sub.tx, notify.SanctionAccepted, s.recipientIDs(sub), same(s.data(sub, ev.Comment)))

	return nil
}

func (s *Service) completeEmbargo(ctx context.Context, ev *event) error {
	sub := ev.Target
	if sub.Embargo == nil {
		return moderrors.Conflict(fmt.Errorf("%w: embargo termination %q", ErrNoEmbargo, sub.Sanction.ID))
	}

	embargo := &Subject{
		Sanction:     sub.Embargo,
		Registration: sub.Registration,
		Provider:     sub.Provider,
		tx:           sub.tx,
		also:         sub.Sanction,
	}

	_, err := s.fire(ctx, embargo, wf.TriggerComplete,
		statemachine.WithUser(ev.UserID),
		statemachine.WithAuto(ev.Auto),
		statemachine.WithComment(ev.Comment))

	return err
}

func (s *Service) onReject(ctx context.Context, ev *event) error {
	sub := ev.Target
	reg := sub.Registration

	switch sub.Sanction.SanctionType {
	case wf.RegistrationApproval, wf.Embargo:
		reg.Deleted = true
		reg.IsPublic = false
	case wf.EmbargoTermination:
		reg.EmbargoTerminationID = ""
	case wf.Retraction:
	}

	s.send(ctx, sub.tx, notify.SanctionRejected, s.recipientIDs(sub), same(s.data(sub, ev.Comment)))

	return nil
}

func (s *Service) onModeratorReject(ctx context.Context, ev *event) error {
	sub := ev.Target

	s.send(ctx, sub.tx, notify.SanctionModeratorRejected, s.recipientIDs(sub), same(s.data(sub, ev.Comment)))

	return nil
}

// onCompleted runs when an embargo ends, by expiry or termination.
func (s *Service) onCompleted(_ context.Context, ev *event) error {
	sub := ev.Target
	if sub.Sanction.SanctionType != wf.Embargo {
		return nil
	}

	// An early termination moves the end date up to now.
	now := ev.Now.UTC()
	if sub.also != nil && (sub.Sanction.EndDate == nil || sub.Sanction.EndDate.After(now)) {
		sub.Sanction.EndDate = &now
	}

	sub.Registration.IsPublic = true

	return nil
}

func (s *Service) saveTransition(ctx context.Context, ev *event) error {
	return s.commit(ctx, ev.Target, transitionMeta{
		creatorID: ev.UserID,
		comment:   ev.Comment,
		auto:      ev.Auto,
		at:        ev.Now,
	})
}
