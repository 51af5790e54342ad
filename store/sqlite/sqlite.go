// Package sqlite is a store.Store on mattn/go-sqlite3.
//
// Transactions begin IMMEDIATE, so a writer holds the database lock from
// its first statement and concurrent fires on the same file serialize.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amp-labs/osf-moderation/actions"
	"github.com/amp-labs/osf-moderation/store"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const driverName = "sqlite3"

// Store wraps a *sql.DB opened on a SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option configures Open.
type Option func(*Store)

// WithClock overrides the time source for modified and created columns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// DSN builds the connection string used for path.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path)
}

// Open opens the database at path and verifies the connection.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open(driverName, DSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Migrate applies the embedded schema.
func (s *Store) Migrate(ctx context.Context, log *slog.Logger) error {
	return store.Migrate(ctx, s.db, goose.DialectSQLite3, migrations, log)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	t := &tx{tx: sqlTx, now: s.now}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, t); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
		}

		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	for _, cb := range t.after {
		cb(ctx)
	}

	return nil
}

type tx struct {
	tx    *sql.Tx
	now   func() time.Time
	after []func(context.Context)
}

func (t *tx) Get(ctx context.Context, kind, id string) (store.Document, error) {
	doc := store.Document{Kind: kind, ID: id}

	var data string

	err := t.tx.QueryRowContext(ctx,
		`SELECT state, version, data, modified FROM documents WHERE kind = ? AND id = ?`,
		kind, id,
	).Scan(&doc.State, &doc.Version, &data, &doc.Modified)
	if errors.Is(err, sql.ErrNoRows) {
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

	var (
		res sql.Result
		err error
	)

	if doc.Version == 0 {
		res, err = t.tx.ExecContext(ctx,
			`INSERT INTO documents (kind, id, state, version, data, modified)
			 VALUES (?, ?, ?, 1, ?, ?) ON CONFLICT (kind, id) DO NOTHING`,
			doc.Kind, doc.ID, doc.State, string(doc.Data), modified)
	} else {
		res, err = t.tx.ExecContext(ctx,
			`UPDATE documents SET state = ?, version = version + 1, data = ?, modified = ?
			 WHERE kind = ? AND id = ? AND version = ?`,
			doc.State, string(doc.Data), modified, doc.Kind, doc.ID, doc.Version)
	}

	if err != nil {
		return 0, fmt.Errorf("saving %s %q: %w", doc.Kind, doc.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("saving %s %q: %w", doc.Kind, doc.ID, err)
	}

	if n == 0 {
		return 0, store.Conflict(doc.Kind, doc.ID, doc.Version)
	}

	return doc.Version + 1, nil
}

func (t *tx) Delete(ctx context.Context, kind, id string, version int64) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM documents WHERE kind = ? AND id = ? AND version = ?`, kind, id, version)
	if err != nil {
		return fmt.Errorf("deleting %s %q: %w", kind, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting %s %q: %w", kind, id, err)
	}

	if n == 0 {
		return store.Conflict(kind, id, version)
	}

	return nil
}

func (t *tx) List(ctx context.Context, kind string, filter store.Filter) ([]store.Document, error) {
	query := `SELECT id, state, version, data, modified FROM documents WHERE kind = ?`
	args := []any{kind}

	if filter.State != "" {
		query += ` AND state = ?`

		args = append(args, filter.State)
	}

	query += ` ORDER BY id`

	if filter.Limit > 0 {
		query += ` LIMIT ?`

		args = append(args, filter.Limit)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
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

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO actions (id, target_kind, target_id, machine, creator_id, trigger_name,
		 from_state, to_state, comment, auto, created)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TargetKind, rec.TargetID, rec.Machine, rec.CreatorID, rec.Trigger,
		rec.FromState, rec.ToState, rec.Comment, rec.Auto, rec.Created)
	if err != nil {
		return actions.Record{}, fmt.Errorf("writing action: %w", err)
	}

	return rec, nil
}

func (t *tx) Actions(ctx context.Context, kind, id string) ([]actions.Record, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, target_kind, target_id, machine, creator_id, trigger_name,
		 from_state, to_state, comment, auto, created
		 FROM actions WHERE target_kind = ? AND target_id = ? ORDER BY seq`, kind, id)
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	defer rows.Close()

	var out []actions.Record

	for rows.Next() {
		var r actions.Record
		if err := rows.Scan(&r.ID, &r.TargetKind, &r.TargetID, &r.Machine, &r.CreatorID, &r.Trigger,
			&r.FromState, &r.ToState, &r.Comment, &r.Auto, &r.Created); err != nil {
			return nil, fmt.Errorf("listing actions: %w", err)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

func (t *tx) AfterCommit(fn func(ctx context.Context)) {
	t.after = append(t.after, fn)
}
