// Package storetest is a conformance suite run against every store backend.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/amp-labs/osf-moderation/actions"
	moderrors "github.com/amp-labs/osf-moderation/errors"
	"github.com/amp-labs/osf-moderation/models"
	"github.com/amp-labs/osf-moderation/store"
	wf "github.com/amp-labs/osf-moderation/workflows"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// Run exercises s. Each subtest uses its own ids so the store may be shared.
func Run(t *testing.T, s store.Store) {
	t.Helper()

	t.Run("save and load", func(t *testing.T) { testSaveLoad(t, s) })
	t.Run("version conflict", func(t *testing.T) { testVersionConflict(t, s) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, s) })
	t.Run("after commit", func(t *testing.T) { testAfterCommit(t, s) })
	t.Run("list by state", func(t *testing.T) { testList(t, s) })
	t.Run("delete", func(t *testing.T) { testDelete(t, s) })
	t.Run("actions", func(t *testing.T) { testActions(t, s) })
	t.Run("retry on conflict", func(t *testing.T) { testRetry(t, s) })
}

func testSaveLoad(t *testing.T, s store.Store) {
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return store.Save(ctx, tx, &models.User{Base: models.Base{ID: "save-1"}, FullName: "Alice"})
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := store.Load[models.User](ctx, tx, "save-1")
		require.NoError(t, err)
		assert.Equal(t, "Alice", u.FullName)
		assert.Equal(t, int64(1), u.Revision())

		u.FullName = "Alice B"

		require.NoError(t, store.Save(ctx, tx, u))
		assert.Equal(t, int64(2), u.Revision())

		_, err = store.Load[models.User](ctx, tx, "missing")
		assert.ErrorIs(t, err, moderrors.ErrNotFound)

		return nil
	})
	require.NoError(t, err)
}

func testVersionConflict(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return store.Save(ctx, tx, &models.User{Base: models.Base{ID: "conflict-1"}})
	}))

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return store.Save(ctx, tx, &models.User{Base: models.Base{ID: "conflict-1"}})
	})
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		stale := &models.User{Base: models.Base{ID: "conflict-1"}}
		stale.SetRevision(9)

		return store.Save(ctx, tx, stale)
	})
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, store.Save(ctx, tx, &models.User{Base: models.Base{ID: "rollback-1"}}))

		_, err := tx.CreateAction(ctx, actions.Record{TargetKind: models.KindUser, TargetID: "rollback-1", Trigger: "x"})
		require.NoError(t, err)

		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := store.Load[models.User](ctx, tx, "rollback-1")
		assert.ErrorIs(t, err, moderrors.ErrNotFound)

		recs, err := tx.Actions(ctx, models.KindUser, "rollback-1")
		require.NoError(t, err)
		assert.Empty(t, recs)

		return nil
	}))
}

func testAfterCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	calls := 0

	require.NoError(t, s.WithTx(ctx, func(_ context.Context, tx store.Tx) error {
		tx.AfterCommit(func(context.Context) { calls++ })

		assert.Equal(t, 0, calls)

		return nil
	}))
	assert.Equal(t, 1, calls)

	_ = s.WithTx(ctx, func(_ context.Context, tx store.Tx) error {
		tx.AfterCommit(func(context.Context) { calls++ })

		return errBoom
	})
	assert.Equal(t, 1, calls)
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, sc := range []*models.Sanction{
			{Base: models.Base{ID: "list-a"}, SanctionType: wf.Embargo, Stage: wf.Unapproved},
			{Base: models.Base{ID: "list-b"}, SanctionType: wf.Embargo, Stage: wf.Approved},
			{Base: models.Base{ID: "list-c"}, SanctionType: wf.RegistrationApproval, Stage: wf.Unapproved},
		} {
			if err := store.Save(ctx, tx, sc); err != nil {
				return err
			}
		}

		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := store.List[models.Sanction](ctx, tx, store.Filter{State: string(wf.Unapproved)})
		require.NoError(t, err)

		var ids []string

		for _, sc := range got {
			if len(sc.ID) > 5 && sc.ID[:5] == "list-" {
				ids = append(ids, sc.ID)
				assert.Equal(t, wf.Unapproved, sc.Stage)
				assert.Positive(t, sc.Revision())
			}
		}

		assert.Equal(t, []string{"list-a", "list-c"}, ids)

		return nil
	}))
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return store.Save(ctx, tx, &models.User{Base: models.Base{ID: "delete-1"}})
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := store.Load[models.User](ctx, tx, "delete-1")
		require.NoError(t, err)

		return store.Remove(ctx, tx, u)
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := store.Load[models.User](ctx, tx, "delete-1")
		assert.ErrorIs(t, err, moderrors.ErrNotFound)

		return nil
	}))
}

func testActions(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, trig := range []string{"submit", "accept"} {
			rec, err := tx.CreateAction(ctx, actions.Record{
				TargetKind: models.KindPreprint,
				TargetID:   "actions-1",
				Machine:    "reviews",
				CreatorID:  "alice",
				Trigger:    trig,
				FromState:  "pending",
				ToState:    "accepted",
			})
			require.NoError(t, err)
			assert.NotEmpty(t, rec.ID)
			assert.False(t, rec.Created.IsZero())
		}

		_, err := tx.CreateAction(ctx, actions.Record{TargetKind: models.KindPreprint})
		assert.ErrorIs(t, err, actions.ErrInvalidRecord)

		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		recs, err := tx.Actions(ctx, models.KindPreprint, "actions-1")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "submit", recs[0].Trigger)
		assert.Equal(t, "accept", recs[1].Trigger)
		assert.Equal(t, "alice", recs[1].CreatorID)

		return nil
	}))
}

func testRetry(t *testing.T, s store.Store) {
	ctx := context.Background()
	attempts := 0

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return store.Save(ctx, tx, &models.User{Base: models.Base{ID: "retry-1"}})
	}))

	err := store.RetryOnConflict(ctx, s, func(ctx context.Context, tx store.Tx) error {
		attempts++

		u, err := store.Load[models.User](ctx, tx, "retry-1")
		if err != nil {
			return err
		}

		if attempts == 1 {
			u.SetRevision(u.Revision() + 5)
		}

		u.FullName = "retried"

		return store.Save(ctx, tx, u)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	attempts = 0
	err = store.RetryOnConflict(ctx, s, func(context.Context, store.Tx) error {
		attempts++

		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, attempts)
}
