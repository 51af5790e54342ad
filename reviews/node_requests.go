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

var (
	ErrAccessRequestsDisabled = errors.New("access requests are disabled for this node")
	ErrAlreadyContributor     = errors.New("user is already a contributor")
	ErrNotRequester           = errors.New("only the requester may submit this request")
)

// NodeRequestSubject is a node request with the node it targets.
type NodeRequestSubject struct {
	Request *models.NodeRequest
	Node    *models.Node

	tx store.Tx
}

type (
	nodeRequestEvent = statemachine.Event[*NodeRequestSubject, wf.DefaultState]
	nodeRequestHook  = statemachine.Hook[*NodeRequestSubject, wf.DefaultState]
)

var nodeRequestAccessor = statemachine.Accessor[*NodeRequestSubject, wf.DefaultState]{
	Kind:  models.KindNodeRequest,
	ID:    func(s *NodeRequestSubject) string { return s.Request.ID },
	Get:   func(s *NodeRequestSubject) wf.DefaultState { return s.Request.State },
	Set:   func(s *NodeRequestSubject, st wf.DefaultState) { s.Request.State = st },
	Touch: func(s *NodeRequestSubject, at time.Time) { s.Request.DateLastTransitioned = touch(at) },
}

func (s *Service) nodeRequestCallbacks() statemachine.Callbacks[*NodeRequestSubject, wf.DefaultState] {
	return statemachine.Callbacks[*NodeRequestSubject, wf.DefaultState]{
		Conditions: map[string]statemachine.Condition[*NodeRequestSubject, wf.DefaultState]{
			"resubmission_allowed": func(context.Context, *nodeRequestEvent) (bool, error) { return false, nil },
		},
		Guards: map[string]statemachine.Guard[*NodeRequestSubject, wf.DefaultState]{
			"can_submit": s.nodeRequestCanSubmit,
			"can_decide": s.nodeRequestCanDecide,
		},
		Hooks: map[string]nodeRequestHook{
			"save_changes":         s.saveNodeRequest,
			"notify_submit":        s.notifyNodeRequestSubmit,
			"notify_resubmit":      func(context.Context, *nodeRequestEvent) error { return moderrors.ErrNotImplemented },
			"notify_accept_reject": s.notifyNodeRequestDecision,
			"notify_edit_comment":  func(context.Context, *nodeRequestEvent) error { return nil },
		},
	}
}

// RequestAccess creates a request for creatorID to join nodeID and submits
// it. Institutional requests are made on behalf of an institution and add
// the user as a hidden curator when accepted.
func (s *Service) RequestAccess(
	ctx context.Context,
	nodeID, creatorID string,
	kind wf.NodeRequestType,
	perm permissions.Permission,
	comment string,
) (*models.NodeRequest, error) {
	var out *models.NodeRequest

	err := store.RetryOnConflict(ctx, s.store, func(ctx context.Context, tx store.Tx) error {
		node, err := store.Load[models.Node](ctx, tx, nodeID)
		if err != nil {
			return fmt.Errorf("loading node %q: %w", nodeID, err)
		}

		now := s.now().UTC()

		req := &models.NodeRequest{
			Base:                models.Base{ID: uuid.NewString(), Created: now, Modified: now},
			TargetID:            nodeID,
			CreatorID:           creatorID,
			RequestType:         kind,
			State:               wf.DefaultInitial,
			Comment:             comment,
			RequestedPermission: perm,
		}

		sub := &NodeRequestSubject{Request: req, Node: node, tx: tx}

		if _, err := s.nodeRequests.Fire(ctx, tx, sub, nodeRequestAccessor, wf.TriggerSubmit,
			statemachine.WithUser(creatorID), statemachine.WithComment(comment)); err != nil {
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

// AcceptNodeRequest adds the requester to the node. ParamPermissions and
// ParamVisible may be passed to override the defaults.
func (s *Service) AcceptNodeRequest(
	ctx context.Context, requestID, userID, comment string, opts ...statemachine.Option,
) (statemachine.Result[wf.DefaultState], error) {
	opts = append([]statemachine.Option{statemachine.WithUser(userID), statemachine.WithComment(comment)}, opts...)

	return s.FireNodeRequest(ctx, requestID, wf.TriggerAccept, opts...)
}

// RejectNodeRequest denies the request and tells the requester.
func (s *Service) RejectNodeRequest(
	ctx context.Context, requestID, userID, comment string,
) (statemachine.Result[wf.DefaultState], error) {
	return s.FireNodeRequest(ctx, requestID, wf.TriggerReject,
		statemachine.WithUser(userID), statemachine.WithComment(comment))
}

// FireNodeRequest runs any requests trigger against a node request.
func (s *Service) FireNodeRequest(
	ctx context.Context, requestID, trigger string, opts ...statemachine.Option,
) (statemachine.Result[wf.DefaultState], error) {
	return fireIn(ctx, s.store,
		func(ctx context.Context, tx store.Tx) (*NodeRequestSubject, error) {
			return s.loadNodeRequest(ctx, tx, requestID)
		},
		func(ctx context.Context, tx store.Tx, sub *NodeRequestSubject) (statemachine.Result[wf.DefaultState], error) {
			return s.nodeRequests.Fire(ctx, tx, sub, nodeRequestAccessor, trigger, opts...)
		})
}

func (s *Service) loadNodeRequest(ctx context.Context, tx store.Tx, requestID string) (*NodeRequestSubject, error) {
	req, err := store.Load[models.NodeRequest](ctx, tx, requestID)
	if err != nil {
		return nil, fmt.Errorf("loading node request %q: %w", requestID, err)
	}

	node, err := store.Load[models.Node](ctx, tx, req.TargetID)
	if err != nil {
		return nil, fmt.Errorf("loading node %q: %w", req.TargetID, err)
	}

	return &NodeRequestSubject{Request: req, Node: node, tx: tx}, nil
}

func (s *Service) nodeRequestCanSubmit(_ context.Context, ev *nodeRequestEvent) error {
	req, node := ev.Target.Request, ev.Target.Node

	if ev.UserID == "" || ev.UserID != req.CreatorID {
		return moderrors.Permission("%v: %q", ErrNotRequester, ev.UserID)
	}

	if req.RequestType != wf.AccessRequest {
		return nil
	}

	if !node.AccessRequestsEnabled {
		return moderrors.Permission("%v", ErrAccessRequestsDisabled)
	}

	if _, ok := node.Contributors.Get(req.CreatorID); ok {
		return moderrors.Conflict(fmt.Errorf("%w: %q on node %q", ErrAlreadyContributor, req.CreatorID, node.ID))
	}

	return nil
}

func (s *Service) nodeRequestCanDecide(ctx context.Context, ev *nodeRequestEvent) error {
	if s.checker.HasPermission(ctx, ev.UserID, ev.Target.Node.Contributors, permissions.Admin) {
		return nil
	}

	return moderrors.Permission("%q is not an admin of node %q", ev.UserID, ev.Target.Node.ID)
}

func (s *Service) saveNodeRequest(ctx context.Context, ev *nodeRequestEvent) error {
	sub := ev.Target
	req := sub.Request

	switch ev.Trigger {
	case wf.TriggerEditComment:
		req.Comment = ev.Comment
	case wf.TriggerAccept:
		if err := s.addRequester(ev); err != nil {
			return err
		}

		sub.Node.Modified = ev.Now.UTC()

		if err := store.Save(ctx, sub.tx, sub.Node); err != nil {
			return err
		}
	}

	req.Modified = ev.Now.UTC()

	return store.Save(ctx, sub.tx, req)
}

// addRequester makes the requester a contributor. Anyone already on the
// node is left as they are, for both request types.
func (s *Service) addRequester(ev *nodeRequestEvent) error {
	req, node := ev.Target.Request, ev.Target.Node

	if _, ok := node.Contributors.Get(req.CreatorID); ok {
		return nil
	}

	perm := req.RequestedPermission
	if p := ev.ParamString(ParamPermissions, ""); p != "" {
		perm = permissions.Permission(p)
	}

	if perm == "" {
		perm = permissions.Read
	}

	contributor := models.Contributor{
		UserID:     req.CreatorID,
		Permission: perm,
		Visible:    ev.ParamBool(ParamVisible, true),
	}

	if req.RequestType == wf.InstitutionalRequest {
		contributor.Curator = true
		contributor.Visible = false
	}

	return contributorError(node.Contributors.Add(contributor))
}

// contributorError reports a visible curator as a conflict. Other failures
// pass through unchanged.
func contributorError(err error) error {
	if errors.Is(err, models.ErrCuratorVisible) {
		return moderrors.Conflict(err)
	}

	return err
}

func (s *Service) nodeRequestData(ctx context.Context, sub *NodeRequestSubject, comment string) map[string]any {
	return map[string]any{
		"title":     sub.Node.Title,
		"requester": displayName(ctx, sub.tx, sub.Request.CreatorID),
		"comment":   comment,

		"osf_contact_email": s.contactEmail,
	}
}

func (s *Service) notifyNodeRequestSubmit(ctx context.Context, ev *nodeRequestEvent) error {
	sub := ev.Target
	if sub.Request.RequestType == wf.InstitutionalRequest {
		return nil
	}

	s.send(ctx, sub.tx, notify.AccessRequestSubmitted,
		sub.Node.Contributors.WithPermission(permissions.Admin), s.nodeRequestData(ctx, sub, ev.Comment))

	return nil
}

func (s *Service) notifyNodeRequestDecision(ctx context.Context, ev *nodeRequestEvent) error {
	if ev.To != wf.DefaultRejected {
		return nil
	}

	sub := ev.Target
	s.send(ctx, sub.tx, notify.AccessRequestDenied, []string{sub.Request.CreatorID}, s.nodeRequestData(ctx, sub, ev.Comment))

	return nil
}
