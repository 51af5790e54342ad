package sanctions

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	moderrors "github.com/amp-labs/osf-moderation/errors"
	"github.com/amp-labs/osf-moderation/models"
	"github.com/amp-labs/osf-moderation/notify"
	"github.com/amp-labs/osf-moderation/permissions"
	"github.com/amp-labs/osf-moderation/statemachine"
	"github.com/amp-labs/osf-moderation/store"
	"github.com/amp-labs/osf-moderation/tokens"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

// Business rules checked when a sanction is requested. They are returned
// wrapped in an *errors.ConflictError.
var (
	ErrRegistrationDeleted = errors.New("registration has been deleted")
	ErrAlreadySanctioned   = errors.New("registration already has an approval or embargo")
	ErrInvalidEndDate      = errors.New("embargo end date must be in the future")
	ErrCannotWithdraw      = errors.New("only accepted or embargoed registrations can be withdrawn")
	ErrNotEmbargoed        = errors.New("registration is not under an active embargo")
	ErrNoEmbargo           = errors.New("no embargo to terminate")
	ErrNoAuthorizers       = errors.New("registration has no admin contributors to approve")
)

// CreateOption configures a sanction request.
type CreateOption func(*createConfig)

type createConfig struct {
	mode          models.ApprovalMode
	moderator     bool
	justification string
	endDate       time.Time
}

// WithMode sets how many admin approvals are needed. Unanimous by default.
func WithMode(mode models.ApprovalMode) CreateOption {
	return func(c *createConfig) { c.mode = mode }
}

// ByModerator marks a retraction as forced by a provider moderator.
func ByModerator() CreateOption {
	return func(c *createConfig) { c.moderator = true }
}

// RequireApproval asks the registration's admins to approve making it public.
func (s *Service) RequireApproval(
	ctx context.Context,
	registrationID, initiatorID string,
	opts ...CreateOption,
) (*models.Sanction, error) {
	return s.create(ctx, wf.RegistrationApproval, registrationID, initiatorID, opts)
}

// Embargo asks the registration's admins to approve keeping it private until
// endDate.
func (s *Service) Embargo(
	ctx context.Context,
	registrationID, initiatorID string,
	endDate time.Time,
	opts ...CreateOption,
) (*models.Sanction, error) {
	return s.create(ctx, wf.Embargo, registrationID, initiatorID,
		append(opts, func(c *createConfig) { c.endDate = endDate }))
}

// Retract requests withdrawal of a registration. With ByModerator the
// withdrawal takes effect immediately.
func (s *Service) Retract(
	ctx context.Context,
	registrationID, initiatorID, justification string,
	opts ...CreateOption,
) (*models.Sanction, error) {
	return s.create(ctx, wf.Retraction, registrationID, initiatorID,
		append(opts, func(c *createConfig) { c.justification = justification }))
}

// RequestEmbargoTermination asks the admins to lift an approved embargo early.
func (s *Service) RequestEmbargoTermination(
	ctx context.Context,
	registrationID, initiatorID string,
	opts ...CreateOption,
) (*models.Sanction, error) {
	return s.create(ctx, wf.EmbargoTermination, registrationID, initiatorID, opts)
}

func (s *Service) create(
	ctx context.Context,
	kind wf.SanctionType,
	registrationID, initiatorID string,
	opts []CreateOption,
) (*models.Sanction, error) {
	cfg := createConfig{mode: models.Unanimous}
	for _, opt := range opts {
		opt(&cfg)
	}

	var out *models.Sanction

	err := store.RetryOnConflict(ctx, s.store, func(ctx context.Context, tx store.Tx) error {
		sub, err := s.prepare(ctx, tx, kind, registrationID, initiatorID, cfg)
		if err != nil {
			return err
		}

		if cfg.moderator {
			if _, err := s.fire(ctx, sub, wf.TriggerAccept,
				statemachine.WithUser(initiatorID),
				statemachine.WithComment(cfg.justification)); err != nil {
				return err
			}
		} else {
			if err := s.commit(ctx, sub, transitionMeta{creatorID: initiatorID, at: s.now()}); err != nil {
				return err
			}

			s.requestApprovals(ctx, sub)
		}

		out = sub.Sanction

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (s *Service) prepare(
	ctx context.Context,
	tx store.Tx,
	kind wf.SanctionType,
	registrationID, initiatorID string,
	cfg createConfig,
) (*Subject, error) {
	reg, err := store.Load[models.Registration](ctx, tx, registrationID)
	if err != nil {
		return nil, err
	}

	sub := &Subject{Registration: reg, tx: tx}

	if reg.ProviderID != "" {
		if sub.Provider, err = store.Load[models.Provider](ctx, tx, reg.ProviderID); err != nil {
			return nil, err
		}
	}

	if err := s.authorizeCreate(ctx, sub, kind, initiatorID, cfg); err != nil {
		return nil, err
	}

	now := s.now().UTC()

	if err := s.checkCreate(ctx, sub, kind, cfg, now); err != nil {
		return nil, err
	}

	sanction := &models.Sanction{
		Base:               models.Base{ID: uuid.NewString(), Created: now},
		SanctionType:       kind,
		Stage:              wf.Unapproved,
		Mode:               cfg.mode,
		InitiatedBy:        initiatorID,
		InitiationDate:     now,
		Approvals:          make(map[string]*models.Approval),
		RegistrationID:     reg.ID,
		ModeratorInitiated: cfg.moderator,
		Justification:      cfg.justification,
	}

	if !cfg.endDate.IsZero() {
		end := cfg.endDate.UTC()
		sanction.EndDate = &end
	}

	if !cfg.moderator {
		if err := s.issueTokens(sanction, reg.AdminIDs()); err != nil {
			return nil, err
		}
	}

	switch kind {
	case wf.RegistrationApproval:
		reg.RegistrationApprovalID = sanction.ID
	case wf.Embargo:
		reg.EmbargoID = sanction.ID
		reg.IsPublic = false
	case wf.Retraction:
		reg.RetractionID = sanction.ID
	case wf.EmbargoTermination:
		sanction.EmbargoID = reg.EmbargoID
		reg.EmbargoTerminationID = sanction.ID
	}

	sub.Sanction = sanction

	return sub, nil
}

func (s *Service) authorizeCreate(
	ctx context.Context,
	sub *Subject,
	kind wf.SanctionType,
	initiatorID string,
	cfg createConfig,
) error {
	if cfg.moderator {
		if kind != wf.Retraction {
			return moderrors.Permission("moderators can only force a retraction")
		}

		if !s.checker.IsModerator(ctx, initiatorID, sub.Provider) {
			return moderrors.Permission("%q cannot moderate registration %q", initiatorID, sub.Registration.ID)
		}

		return nil
	}

	if !s.checker.HasPermission(ctx, initiatorID, sub.Registration.Contributors, permissions.Admin) {
		return moderrors.Permission("%q must be an admin of registration %q to request a %s",
			initiatorID, sub.Registration.ID, notify.SanctionName(kind))
	}

	return nil
}

func (s *Service) checkCreate(
	ctx context.Context,
	sub *Subject,
	kind wf.SanctionType,
	cfg createConfig,
	now time.Time,
) error {
	reg := sub.Registration

	if reg.Deleted {
		return moderrors.Conflict(ErrRegistrationDeleted)
	}

	switch kind {
	case wf.RegistrationApproval:
		if reg.RegistrationApprovalID != "" || reg.EmbargoID != "" {
			return moderrors.Conflict(ErrAlreadySanctioned)
		}
	case wf.Embargo:
		if reg.RegistrationApprovalID != "" || reg.EmbargoID != "" {
			return moderrors.Conflict(ErrAlreadySanctioned)
		}

		if !cfg.endDate.After(now) {
			return moderrors.Conflict(ErrInvalidEndDate)
		}
	case wf.Retraction:
		if reg.ModerationState != wf.RegAccepted && reg.ModerationState != wf.RegEmbargo {
			return moderrors.Conflict(fmt.Errorf("%w: registration %q is %s", ErrCannotWithdraw, reg.ID, reg.ModerationState))
		}
	case wf.EmbargoTermination:
		if reg.EmbargoID == "" || reg.ModerationState != wf.RegEmbargo {
			return moderrors.Conflict(ErrNotEmbargoed)
		}

		embargo, err := store.Load[models.Sanction](ctx, sub.tx, reg.EmbargoID)
		if err != nil {
			return err
		}

		if embargo.Stage != wf.Approved {
			return moderrors.Conflict(ErrNotEmbargoed)
		}

		sub.Embargo = embargo
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSanctionType, kind)
	}

	if !cfg.moderator && len(reg.AdminIDs()) == 0 {
		return moderrors.Conflict(ErrNoAuthorizers)
	}

	return nil
}

func (s *Service) issueTokens(sanction *models.Sanction, adminIDs []string) error {
	for _, id := range adminIDs {
		approve, err := s.tokens.Issue(id, sanction.ID, tokens.Approval)
		if err != nil {
			return err
		}

		reject, err := s.tokens.Issue(id, sanction.ID, tokens.Rejection)
		if err != nil {
			return err
		}

		sanction.Approvals[id] = &models.Approval{ApprovalToken: approve, RejectionToken: reject}
	}

	return nil
}

// requestApprovals emails each authorizer their own approve and reject links.
func (s *Service) requestApprovals(ctx context.Context, sub *Subject) {
	base := s.data(sub, "")
	base["initiator"] = s.recipient(ctx, sub.tx, sub.Sanction.InitiatedBy).Name

	if base["initiator"] == "" {
		base["initiator"] = sub.Sanction.InitiatedBy
	}

	regID := sub.Registration.ID

	s.send(ctx, sub.tx, notify.SanctionAdminApproval, sub.Sanction.ApproverIDs(), func(userID string) map[string]any {
		data := maps.Clone(base)
		approval := sub.Sanction.Approvals[userID]
		data["approve_url"] = s.tokenURL(regID, approval.ApprovalToken)
		data["reject_url"] = s.tokenURL(regID, approval.RejectionToken)

		return data
	})
}
