package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultConflictTries = 5
	conflictBaseDelay    = 10 * time.Millisecond
	conflictMaxDelay     = 500 * time.Millisecond
)

// RetryOnConflict runs a whole transaction again while it fails with
// ErrVersionConflict. Any other error is returned immediately.
func RetryOnConflict(ctx context.Context, s Store, fn func(ctx context.Context, tx Tx) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = conflictBaseDelay
	exp.MaxInterval = conflictMaxDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.WithTx(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}

		if errors.Is(err, ErrVersionConflict) {
			return struct{}{}, err
		}

		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(defaultConflictTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.DebugContext(ctx, "retrying transaction after conflict", "error", err, "wait", wait)
		}),
	)

	return err
}
