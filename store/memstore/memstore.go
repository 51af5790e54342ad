// Package memstore is an in-memory store.Store. Transactions are fully
// serialized, so Get behaves like a row lock on every document.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/amp-labs/osf-moderation/actions"
	"github.com/amp-labs/osf-moderation/store"
)

type key struct {
	kind string
	id   string
}

// Store keeps documents and actions in maps.
type Store struct {
	mu      sync.Mutex
	docs    map[key]store.Document
	actions []actions.Record
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty store. A nil clock means time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}

	return &Store{docs: make(map[key]store.Document), now: now}
}

func (s *Store) Close() error { return nil }

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	s.mu.Lock()

	tx := &tx{store: s, writes: make(map[key]*store.Document)}

	defer func() {
		if p := recover(); p != nil {
			s.mu.Unlock()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		s.mu.Unlock()

		return err
	}

	for k, doc := range tx.writes {
		if doc == nil {
			delete(s.docs, k)
		} else {
			s.docs[k] = *doc
		}
	}

	s.actions = append(s.actions, tx.pending...)
	s.mu.Unlock()

	for _, cb := range tx.after {
		cb(ctx)
	}

	return nil
}

// Actions returns every committed action record.
func (s *Store) Actions() []actions.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]actions.Record, len(s.actions))
	copy(out, s.actions)

	return out
}

type tx struct {
	store   *Store
	writes  map[key]*store.Document
	pending []actions.Record
	after   []func(context.Context)
}

func (t *tx) lookup(k key) (store.Document, bool) {
	if doc, ok := t.writes[k]; ok {
		if doc == nil {
			return store.Document{}, false
		}

		return *doc, true
	}

	doc, ok := t.store.docs[k]

	return doc, ok
}

func (t *tx) Get(_ context.Context, kind, id string) (store.Document, error) {
	doc, ok := t.lookup(key{kind, id})
	if !ok {
		return store.Document{}, store.NotFound(kind, id)
	}

	return doc, nil
}

func (t *tx) Put(_ context.Context, doc store.Document) (int64, error) {
	k := key{doc.Kind, doc.ID}
	current, exists := t.lookup(k)

	switch {
	case doc.Version == 0 && exists:
		return 0, store.Conflict(doc.Kind, doc.ID, doc.Version)
	case doc.Version != 0 && (!exists || current.Version != doc.Version):
		return 0, store.Conflict(doc.Kind, doc.ID, doc.Version)
	}

	doc.Version++
	doc.Modified = t.store.now().UTC()
	doc.Data = append([]byte(nil), doc.Data...)
	t.writes[k] = &doc

	return doc.Version, nil
}

func (t *tx) Delete(_ context.Context, kind, id string, version int64) error {
	k := key{kind, id}

	current, exists := t.lookup(k)
	if !exists {
		return store.NotFound(kind, id)
	}

	if current.Version != version {
		return store.Conflict(kind, id, version)
	}

	t.writes[k] = nil

	return nil
}

func (t *tx) List(_ context.Context, kind string, filter store.Filter) ([]store.Document, error) {
	seen := make(map[key]bool)

	var out []store.Document

	add := func(k key) {
		if seen[k] || k.kind != kind {
			return
		}

		seen[k] = true

		doc, ok := t.lookup(k)
		if !ok || (filter.State != "" && doc.State != filter.State) {
			return
		}

		out = append(out, doc)
	}

	for k := range t.writes {
		add(k)
	}

	for k := range t.store.docs {
		add(k)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

func (t *tx) CreateAction(_ context.Context, rec actions.Record) (actions.Record, error) {
	if err := rec.Validate(); err != nil {
		return actions.Record{}, err
	}

	rec = actions.Stamp(rec, t.store.now())
	t.pending = append(t.pending, rec)

	return rec, nil
}

func (t *tx) Actions(_ context.Context, kind, id string) ([]actions.Record, error) {
	var out []actions.Record

	for _, list := range [][]actions.Record{t.store.actions, t.pending} {
		for _, rec := range list {
			if rec.TargetKind == kind && rec.TargetID == id {
				out = append(out, rec)
			}
		}
	}

	return out, nil
}

func (t *tx) AfterCommit(fn func(ctx context.Context)) {
	t.after = append(t.after, fn)
}
