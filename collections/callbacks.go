package collections

import (
	"context"

	moderrors "github.com/amp-labs/osf-moderation/errors"
	"github.com/amp-labs/osf-moderation/notify"
	"github.com/amp-labs/osf-moderation/permissions"
	"github.com/amp-labs/osf-moderation/statemachine"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

type (
	event     = statemachine.Event[*Subject, wf.CollectionSubmissionState]
	condition = statemachine.Condition[*Subject, wf.CollectionSubmissionState]
	guard     = statemachine.Guard[*Subject, wf.CollectionSubmissionState]
	hook      = statemachine.Hook[*Subject, wf.CollectionSubmissionState]
)

func (s *Service) callbacks() statemachine.Callbacks[*Subject, wf.CollectionSubmissionState] {
	return statemachine.Callbacks[*Subject, wf.CollectionSubmissionState]{
		Conditions: map[string]condition{
			"is_moderated":              s.isModerated,
			"is_hybrid_moderated":       s.isHybridModerated,
			"is_submitted_by_moderator": s.isSubmittedByModerator,
		},
		Guards: map[string]guard{
			"is_node_admin":              s.isNodeAdmin,
			"is_moderator":               s.isModerator,
			"is_moderator_or_node_admin": s.isModeratorOrNodeAdmin,
		},
		Hooks: map[string]hook{
			"notify_accepted":             s.notifyAccepted,
			"notify_contributors_pending": s.notifyContributorsPending,
			"notify_moderators_pending":   s.notifyModeratorsPending,
			"notify_moderated_rejected":   s.notifyRejected,
			"notify_removed":              s.notifyRemoved,
			"notify_cancel":               s.notifyCancel,
		},
	}
}

func (s *Service) isModerated(_ context.Context, ev *event) (bool, error) {
	return ev.Target.Provider.IsModerated(), nil
}

func (s *Service) isHybridModerated(_ context.Context, ev *event) (bool, error) {
	p := ev.Target.Provider

	return p != nil && p.Workflow == wf.HybridModeration, nil
}

func (s *Service) isSubmittedByModerator(ctx context.Context, ev *event) (bool, error) {
	return s.checker.IsModerator(ctx, ev.UserID, ev.Target.Provider), nil
}

func (s *Service) nodeAdmin(ctx context.Context, ev *event) bool {
	return s.checker.HasPermission(ctx, ev.UserID, ev.Target.Node.Contributors, permissions.Admin)
}

func (s *Service) isNodeAdmin(ctx context.Context, ev *event) error {
	if s.nodeAdmin(ctx, ev) {
		return nil
	}

	return moderrors.Permission("%q is not an admin of node %q", ev.UserID, ev.Target.Node.ID)
}

func (s *Service) isModerator(ctx context.Context, ev *event) error {
	if s.checker.IsModerator(ctx, ev.UserID, ev.Target.Provider) {
		return nil
	}

	return moderrors.Permission("%q cannot moderate collection %q", ev.UserID, ev.Target.Collection.Title)
}

func (s *Service) isModeratorOrNodeAdmin(ctx context.Context, ev *event) error {
	if s.checker.IsModerator(ctx, ev.UserID, ev.Target.Provider) || s.nodeAdmin(ctx, ev) {
		return nil
	}

	return moderrors.Permission("%q can neither moderate collection %q nor administer node %q",
		ev.UserID, ev.Target.Collection.Title, ev.Target.Node.ID)
}

func contributors(sub *Subject) []string {
	return sub.Node.Contributors.WithPermission(permissions.Read)
}

func (s *Service) notifyAccepted(ctx context.Context, ev *event) error {
	s.send(ctx, ev.Target, notify.CollectionAccepted, contributors(ev.Target), ev.Comment)

	return nil
}

func (s *Service) notifyContributorsPending(ctx context.Context, ev *event) error {
	s.send(ctx, ev.Target, notify.CollectionPending, contributors(ev.Target), ev.Comment)

	return nil
}

func (s *Service) notifyModeratorsPending(ctx context.Context, ev *event) error {
	if ev.Target.Provider == nil {
		return nil
	}

	s.send(ctx, ev.Target, notify.CollectionPendingModerator, ev.Target.Provider.ModeratorIDs(), ev.Comment)

	return nil
}

func (s *Service) notifyRejected(ctx context.Context, ev *event) error {
	s.send(ctx, ev.Target, notify.CollectionRejected, contributors(ev.Target), ev.Comment)

	return nil
}

// Removal by a moderator and by the node's own admin read differently.
func (s *Service) notifyRemoved(ctx context.Context, ev *event) error {
	tpl := notify.CollectionRemovedAdmin
	if s.checker.IsModerator(ctx, ev.UserID, ev.Target.Provider) {
		tpl = notify.CollectionRemovedModerator
	}

	s.send(ctx, ev.Target, tpl, contributors(ev.Target), ev.Comment)

	return nil
}

func (s *Service) notifyCancel(ctx context.Context, ev *event) error {
	s.send(ctx, ev.Target, notify.CollectionCancel, contributors(ev.Target), ev.Comment)

	return nil
}
