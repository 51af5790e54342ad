package actions

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Writer and Reader.
type Memory struct {
	mu      sync.Mutex
	records []Record
	now     func() time.Time
}

// NewMemory returns an empty log. A nil clock means time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}

	return &Memory{now: now}
}

func (m *Memory) CreateAction(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec = Stamp(rec, m.now())
	m.records = append(m.records, rec)

	return rec, nil
}

func (m *Memory) Actions(_ context.Context, targetKind, targetID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record

	for _, r := range m.records {
		if r.TargetKind == targetKind && r.TargetID == targetID {
			out = append(out, r)
		}
	}

	return out, nil
}

// All returns every record written so far.
func (m *Memory) All() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, len(m.records))
	copy(out, m.records)

	return out
}

// Len returns the number of records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.records)
}
