// Package store is the unit-of-work boundary around every machine fire.
//
// A Store runs a function inside a transaction. Entities are stored as JSON
// documents keyed by (kind, id) with a version used for optimistic locking;
// Get additionally takes a row lock where the backend supports one. Action
// records written through the Tx commit or roll back with the entity
// changes. Callbacks registered with AfterCommit run only once the
// transaction has committed, which is where notifications are dispatched.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amp-labs/osf-moderation/actions"
	moderrors "github.com/amp-labs/osf-moderation/errors"
)

// ErrVersionConflict means the document changed since it was loaded.
var ErrVersionConflict = errors.New("version conflict")

// Object is implemented by every persisted entity.
type Object interface {
	Kind() string
	Key() string
	StateName() string
	Revision() int64
	SetRevision(rev int64)
}

// Document is the stored form of an Object.
type Document struct {
	Kind     string
	ID       string
	State    string
	Version  int64
	Data     json.RawMessage
	Modified time.Time
}

// Filter narrows List.
type Filter struct {
	// State matches the document's state column when non-empty.
	State string
	// Limit caps the result size when positive.
	Limit int
}

// Tx is one open transaction.
type Tx interface {
	actions.Writer
	actions.Reader

	// Get returns the document or an error matching errors.ErrNotFound.
	Get(ctx context.Context, kind, id string) (Document, error)
	// Put inserts (Version 0) or updates the document at the given version
	// and returns the new version. A stale version fails with ErrVersionConflict.
	Put(ctx context.Context, doc Document) (int64, error)
	// Delete removes the document at the given version.
	Delete(ctx context.Context, kind, id string, version int64) error
	// List returns documents of kind ordered by id.
	List(ctx context.Context, kind string, filter Filter) ([]Document, error)
	// AfterCommit defers fn until the transaction commits.
	AfterCommit(fn func(ctx context.Context))
}

// Store opens transactions.
type Store interface {
	// WithTx runs fn in a transaction. It commits when fn returns nil and
	// rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// NotFound builds the error returned for a missing document.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, moderrors.ErrNotFound)
}

// Conflict builds the error returned for a stale write.
func Conflict(kind, id string, version int64) error {
	return fmt.Errorf("%s %q at version %d: %w", kind, id, version, ErrVersionConflict)
}

// PtrObject constrains a pointer to T that is an Object.
type PtrObject[T any] interface {
	*T
	Object
}

// Load reads and decodes one entity.
func Load[T any, PT PtrObject[T]](ctx context.Context, tx Tx, id string) (PT, error) {
	obj := PT(new(T))

	doc, err := tx.Get(ctx, obj.Kind(), id)
	if err != nil {
		return nil, err
	}

	if err := decode(doc, obj); err != nil {
		return nil, err
	}

	return obj, nil
}

// Save encodes and writes obj, updating its revision.
func Save(ctx context.Context, tx Tx, obj Object) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encoding %s %q: %w", obj.Kind(), obj.Key(), err)
	}

	rev, err := tx.Put(ctx, Document{
		Kind:    obj.Kind(),
		ID:      obj.Key(),
		State:   obj.StateName(),
		Version: obj.Revision(),
		Data:    data,
	})
	if err != nil {
		return err
	}

	obj.SetRevision(rev)

	return nil
}

// Remove deletes obj at its loaded revision.
func Remove(ctx context.Context, tx Tx, obj Object) error {
	return tx.Delete(ctx, obj.Kind(), obj.Key(), obj.Revision())
}

// List reads and decodes every entity of T's kind matching filter.
func List[T any, PT PtrObject[T]](ctx context.Context, tx Tx, filter Filter) ([]PT, error) {
	kind := PT(new(T)).Kind()

	docs, err := tx.List(ctx, kind, filter)
	if err != nil {
		return nil, err
	}

	out := make([]PT, 0, len(docs))

	for _, doc := range docs {
		obj := PT(new(T))
		if err := decode(doc, obj); err != nil {
			return nil, err
		}

		out = append(out, obj)
	}

	return out, nil
}

func decode(doc Document, obj Object) error {
	if err := json.Unmarshal(doc.Data, obj); err != nil {
		return fmt.Errorf("decoding %s %q: %w", doc.Kind, doc.ID, err)
	}

	obj.SetRevision(doc.Version)

	return nil
}
