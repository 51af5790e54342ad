// Package postgres is a store.Store on pgx/v5.
//
// Get locks the row with SELECT ... FOR UPDATE, so two concurrent fires on
// the same entity serialize on the database.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amp-labs/osf-moderation/actions"
	"github.com/amp-labs/osf-moderation/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config holds pool settings.
type Config struct {
	DSN             string        `env:"DB_DSN"`
	MaxConns        int32         `env:"DB_MAX_CONNS"          envDefault:"10"`
	MinConns        int32         `env:"DB_MIN_CONNS"          envDefault:"1"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME"  envDefault:"30m"`
	RetryAttempts   int           `env:"DB_RETRY_ATTEMPTS"     envDefault:"3"`
	RetryInterval   time.Duration `env:"DB_RETRY_INTERVAL"     envDefault:"2s"`
}

var (
	ErrParseConfig = errors.New("failed to parse db config")
	ErrConnect     = errors.New("failed to open db connection")
)

// Store wraps a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// Connect opens a pool, retrying with a linearly growing delay.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Join(ErrParseConfig, err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	attempts := max(cfg.RetryAttempts, 1)

	var lastErr error

	for i := range attempts {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return New(pool), nil
			}

			pool.Close()
		}

		lastErr = err

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrConnect, ctx.Err())
		case <-time.After(time.Duration(i+1) * cfg.RetryInterval):
		}
	}

	return nil, errors.Join(ErrConnect, lastErr)
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Migrate applies the embedded schema through a database/sql bridge.
func (s *Store) Migrate(ctx context.Context, log *slog.Logger) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer func() {
		if err := db.Close(); err != nil {
			slog.ErrorContext(ctx, "closing migration connection", "error", err)
		}
	}()

	return store.Migrate(ctx, db, goose.DialectPostgres, migrations, log)
}

func (s *Store) Close() error {
	s.pool.Close()

	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	t := &tx{tx: pgTx, now: s.now}

	defer func() {
		if p := recover(); p != nil {
			_ = pgTx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, t); err != nil {
		if rbErr := pgTx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
		}

		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	for _, cb := range t.after {
		cb(ctx)
	}

	return nil
}

type tx struct {
	tx    pgx.Tx
	now   func() time.Time
	after []func(context.Context)
}

func (t *tx) Get(ctx context.Context, kind, id string) (store.Document, error) {
	doc := store.Document{Kind: kind, ID: id}

	var data string

	err := t.tx.QueryRow(ctx,
		`SELECT state, version, data::text, modified FROM documents
		 WHERE kind = $1 AND id = $2 FOR UPDATE`,
		kind, id,
	).Scan(&doc.State, &doc.Version, &data, &doc.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Document{}, store.NotFound(kind, id)
	}

	if err != nil {
		return store.Document{}, fmt.Errorf("loading %s %q: %w", kind, id, err)
	}

	doc.Data = []byte(data)

	return doc, nil
}

func (t *tx) Put(ctx context.Context, doc store.Document) (int64, error) {
	modified := t.now().UTC()

	var query string

	args := []any{doc.Kind, doc.ID, doc.State, string(doc.Data), modified}

	if doc.Version == 0 {
		query = `INSERT INTO documents (kind, id, state, version, data, modified)
		 VALUES ($1, $2, $3, 1, $4::jsonb, $5) ON CONFLICT (kind, id) DO NOTHING`
	} else {
		query = `UPDATE documents SET state = $3, version = version + 1, data = $4::jsonb, modified = $5
		 WHERE kind = $1 AND id = $2 AND version = $6`
		args = append(args, doc.Version)
	}

	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("saving %s %q: %w", doc.Kind, doc.ID, err)
	}

	if tag.RowsAffected() == 0 {
		return 0, store.Conflict(doc.Kind, doc.ID, doc.Version)
	}

	return doc.Version + 1, nil
}

func (t *tx) Delete(ctx context.Context, kind, id string, version int64) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM documents WHERE kind = $1 AND id = $2 AND version = $3`, kind, id, version)
	if err != nil {
		return fmt.Errorf("deleting %s %q: %w", kind, id, err)
	}

	if tag.RowsAffected() == 0 {
		return store.Conflict(kind, id, version)
	}

	return nil
}

func (t *tx) List(ctx context.Context, kind string, filter store.Filter) ([]store.Document, error) {
	query := `SELECT id, state, version, data::text, modified FROM documents WHERE kind = $1`
	args := []any{kind}

	if filter.State != "" {
		args = append(args, filter.State)
		query += fmt.Sprintf(` AND state = $%d`, len(args))
	}

	query += ` ORDER BY id`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", kind, err)
	}
	defer rows.Close()

	var out []store.Document

	for rows.Next() {
		doc := store.Document{Kind: kind}

		var data string
		if err := rows.Scan(&doc.ID, &doc.State, &doc.Version, &data, &doc.Modified); err != nil {
			return nil, fmt.Errorf("listing %s: %w", kind, err)
		}

		doc.Data = []byte(data)
		out = append(out, doc)
	}

	return out, rows.Err()
}

func (t *tx) CreateAction(ctx context.Context, rec actions.Record) (actions.Record, error) {
	if err := rec.Validate(); err != nil {
		return actions.Record{}, err
	}

	rec = actions.Stamp(rec, t.now())

	_, err := t.tx.Exec(ctx,
		`INSERT INTO actions (id, target_kind, target_id, machine, creator_id, trigger_name,
		 from_state, to_state, comment, auto, created)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.TargetKind, rec.TargetID, rec.Machine, rec.CreatorID, rec.Trigger,
		rec.FromState, rec.ToState, rec.Comment, rec.Auto, rec.Created)
	if err != nil {
		return actions.Record{}, fmt.Errorf("writing action: %w", err)
	}

	return rec, nil
}

func (t *tx) Actions(ctx context.Context, kind, id string) ([]actions.Record, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, target_kind, target_id, machine, creator_id, trigger_name,
		 from_state, to_state, comment, auto, created
		 FROM actions WHERE target_kind = $1 AND target_id = $2 ORDER BY seq`, kind, id)
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (actions.Record, error) {
		var r actions.Record

		err := row.Scan(&r.ID, &r.TargetKind, &r.TargetID, &r.Machine, &r.CreatorID, &r.Trigger,
			&r.FromState, &r.ToState, &r.Comment, &r.Auto, &r.Created)

		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}

	return out, nil
}

func (t *tx) AfterCommit(fn func(ctx context.Context)) {
	t.after = append(t.after, fn)
}
