package sanctions

import (
	"context"
	"fmt"
	"slices"
	"time"

	moderrors "github.com/amp-labs/osf-moderation/errors"
	"github.com/amp-labs/osf-moderation/models"
	"github.com/amp-labs/osf-moderation/statemachine"
	"github.com/amp-labs/osf-moderation/store"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

// DefaultAutoApproveAfter is how long admins have to act on a registration
// approval or embargo before it is approved for them.
const DefaultAutoApproveAfter = 48 * time.Hour

var autoApprovedKinds = []wf.SanctionType{wf.RegistrationApproval, wf.Embargo}

// AutoApprove accepts every unapproved registration approval and embargo
// initiated at least after before now. It returns the ids accepted, or that
// would be accepted on a dry run. A failure on one sanction does not stop
// the others; every failure is returned joined.
func (s *Service) AutoApprove(ctx context.Context, now time.Time, after time.Duration, dryRun bool) ([]string, error) {
	cutoff := now.Add(-after)

	return s.sweep(ctx, wf.Unapproved, dryRun, func(sanction *models.Sanction) bool {
		return slices.Contains(autoApprovedKinds, sanction.SanctionType) && !sanction.InitiationDate.After(cutoff)
	}, wf.TriggerAccept)
}

// CompleteExpiredEmbargoes completes every approved embargo whose end date
// has passed, making the registration public.
func (s *Service) CompleteExpiredEmbargoes(ctx context.Context, now time.Time, dryRun bool) ([]string, error) {
	return s.sweep(ctx, wf.Approved, dryRun, func(sanction *models.Sanction) bool {
		return sanction.SanctionType == wf.Embargo && sanction.Expired(now)
	}, wf.TriggerComplete)
}

func (s *Service) sweep(
	ctx context.Context,
	stage wf.ApprovalState,
	dryRun bool,
	match func(*models.Sanction) bool,
	trigger string,
) ([]string, error) {
	var candidates []*models.Sanction

	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error

		candidates, err = store.List[models.Sanction](ctx, tx, store.Filter{State: string(stage)})

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s sanctions: %w", stage, err)
	}

	matched := slices.DeleteFunc(candidates, func(sanction *models.Sanction) bool { return !match(sanction) })

	return s.process(ctx, matched, trigger, dryRun)
}

// process fires trigger against each listed sanction. A sanction another
// writer moved on since it was listed comes back as a noop and is left out.
func (s *Service) process(ctx context.Context, listed []*models.Sanction, trigger string, dryRun bool) ([]string, error) {
	var (
		done []string
		errs moderrors.Collection
	)

	for _, sanction := range listed {
		log := s.log.With("sanction", sanction.ID, "type", string(sanction.SanctionType), "trigger", trigger)

		if dryRun {
			log.InfoContext(ctx, "dry run, skipping")

			done = append(done, sanction.ID)

			continue
		}

		res, err := s.Fire(ctx, sanction.ID, trigger, statemachine.WithAuto(true))
		if err != nil {
			log.ErrorContext(ctx, "failed to process sanction", "error", err)
			errs.Add(fmt.Errorf("%s %q: %w", sanction.SanctionType, sanction.ID, err))

			continue
		}

		if res.IsNoop() {
			log.InfoContext(ctx, "sanction already processed, skipping", "stage", string(res.State))

			continue
		}

		log.InfoContext(ctx, "processed sanction")

		done = append(done, sanction.ID)
	}

	return done, errs.GetError()
}
