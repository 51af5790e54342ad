package sanctions

import (
	"context"
	"fmt"
	"time"

	"github.com/amp-labs/osf-moderation/actions"
	"github.com/amp-labs/osf-moderation/models"
	"github.com/amp-labs/osf-moderation/moderation"
	"github.com/amp-labs/osf-moderation/store"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

type transitionMeta struct {
	creatorID string
	comment   string
	auto      bool
	at        time.Time
}

// commit recomputes the registration's moderation state, records a
// registration action when the change is a moderation event and saves the
// sanction and registration.
func (s *Service) commit(ctx context.Context, sub *Subject, meta transitionMeta) error {
	reg := sub.Registration

	if _, err := s.reproject(ctx, sub, meta); err != nil {
		return err
	}

	at := meta.at.UTC()
	sub.Sanction.Modified = at
	reg.Modified = at

	if sub.Sanction.Created.IsZero() {
		sub.Sanction.Created = at
	}

	if err := store.Save(ctx, sub.tx, sub.Sanction); err != nil {
		return err
	}

	return store.Save(ctx, sub.tx, reg)
}

// reproject sets the registration's moderation state from its sanctions. A
// change that is a moderation event is recorded as a registration action.
// It reports whether the state changed.
func (s *Service) reproject(ctx context.Context, sub *Subject, meta transitionMeta) (bool, error) {
	reg := sub.Registration

	chain, err := s.chain(ctx, sub)
	if err != nil {
		return false, err
	}

	from := reg.ModerationState
	to := moderation.Project(chain)

	if from == to {
		return false, nil
	}

	reg.ModerationState = to

	if trigger, ok := moderation.TriggerFromTransition(from, to); ok {
		_, err := sub.tx.CreateAction(ctx, actions.Record{
			TargetKind: models.KindRegistration,
			TargetID:   reg.ID,
			Machine:    Machine,
			CreatorID:  meta.creatorID,
			Trigger:    string(trigger),
			FromState:  string(from),
			ToState:    string(to),
			Comment:    meta.comment,
			Auto:       meta.auto,
			Created:    meta.at,
		})
		if err != nil {
			return false, fmt.Errorf("recording %s on registration %q: %w", trigger, reg.ID, err)
		}
	}

	return true, nil
}

// UpdateModerationState recomputes a registration's moderation state from
// its sanctions outside any sanction transition, as needed after its
// provider changes workflow or when the stored state is stale. It returns
// the state after the commit.
func (s *Service) UpdateModerationState(
	ctx context.Context, registrationID string,
) (wf.RegistrationModerationState, error) {
	var state wf.RegistrationModerationState

	err := store.RetryOnConflict(ctx, s.store, func(ctx context.Context, tx store.Tx) error {
		reg, err := store.Load[models.Registration](ctx, tx, registrationID)
		if err != nil {
			return fmt.Errorf("loading registration %q: %w", registrationID, err)
		}

		now := s.now()

		changed, err := s.reproject(ctx, &Subject{Registration: reg, tx: tx}, transitionMeta{auto: true, at: now})
		if err != nil {
			return err
		}

		state = reg.ModerationState

		if !changed {
			return nil
		}

		reg.Modified = now.UTC()

		return store.Save(ctx, tx, reg)
	})
	if err != nil {
		return "", err
	}

	return state, nil
}

// chain collects the stages of every sanction attached to the registration,
// preferring the copies held in memory by the running transition. An embargo
// termination governs only while it is waiting for approval.
func (s *Service) chain(ctx context.Context, sub *Subject) (moderation.Chain, error) {
	reg := sub.Registration

	stageOf := func(id string) (*moderation.Stage, error) {
		if id == "" {
			return nil, nil //nolint:nilnil // no sanction of this kind
		}

		for _, known := range []*models.Sanction{sub.Sanction, sub.Embargo, sub.also} {
			if known != nil && known.ID == id {
				return &moderation.Stage{Kind: known.SanctionType, Stage: known.Stage}, nil
			}
		}

		other, err := store.Load[models.Sanction](ctx, sub.tx, id)
		if err != nil {
			return nil, fmt.Errorf("loading sanction %q of registration %q: %w", id, reg.ID, err)
		}

		return &moderation.Stage{Kind: other.SanctionType, Stage: other.Stage}, nil
	}

	var (
		chain moderation.Chain
		err   error
	)

	if chain.RegistrationApproval, err = stageOf(reg.RegistrationApprovalID); err != nil {
		return chain, err
	}

	if chain.Embargo, err = stageOf(reg.EmbargoID); err != nil {
		return chain, err
	}

	if chain.Retraction, err = stageOf(reg.RetractionID); err != nil {
		return chain, err
	}

	if chain.EmbargoTermination, err = stageOf(reg.EmbargoTerminationID); err != nil {
		return chain, err
	}

	if t := chain.EmbargoTermination; t != nil && t.Stage != wf.Unapproved {
		chain.EmbargoTermination = nil
	}

	return chain, nil
}
