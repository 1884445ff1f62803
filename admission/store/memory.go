// Package store provides in-memory admission.Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/pecadmissions/admissions/admission"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps the counter and records in process memory. The mutex plays
// the role of the database write lock: WithWriteTx holds it for the whole
// transaction and restores a snapshot when fn fails.
type Memory struct {
	mu      sync.Mutex
	last    *int64
	records []admission.Record
	nextID  int64

	// FailInsert, when set, is returned by the next InsertRecord call.
	FailInsert error
}

func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

// Seed adds records as if they had been written by an earlier process.
func (m *Memory) Seed(records ...admission.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		r.ID = m.nextID
		m.nextID++
		m.records = append(m.records, r)
	}
}

// WithWriteTx runs fn under the store lock; on error all changes are discarded.
func (m *Memory) WithWriteTx(ctx context.Context, fn func(admission.WriteTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshotRecords := make([]admission.Record, len(m.records))
	copy(snapshotRecords, m.records)
	snapshotLast := m.last
	snapshotNext := m.nextID

	if err := fn(&memoryTx{m: m}); err != nil {
		m.records = snapshotRecords
		m.last = snapshotLast
		m.nextID = snapshotNext
		return err
	}
	return nil
}

// DeleteReserved removes reserved records with the identifier.
func (m *Memory) DeleteReserved(_ context.Context, identifier string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0:0]
	deleted := false
	for _, r := range m.records {
		if r.Identifier == identifier && r.Status == admission.StatusReserved {
			deleted = true
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

// Records returns a copy of all records with the identifier.
func (m *Memory) Records(identifier string) []admission.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []admission.Record
	for _, r := range m.records {
		if r.Identifier == identifier {
			out = append(out, r)
		}
	}
	return out
}

// Counter returns the persisted counter, if any.
func (m *Memory) Counter() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return 0, false
	}
	return *m.last, true
}

// =============================================================================
// WRITE TRANSACTION VIEW
// =============================================================================

type memoryTx struct {
	m *Memory
}

func (t *memoryTx) LastNumber(_ context.Context) (int64, bool, error) {
	if t.m.last == nil {
		return 0, false, nil
	}
	return *t.m.last, true, nil
}

func (t *memoryTx) MaxNumericPart(_ context.Context) (int64, bool, error) {
	var (
		mx    int64
		found bool
	)
	for _, r := range t.m.records {
		n := r.NumericPart
		if n == nil {
			decoded, err := admission.Decode(r.Identifier)
			if err != nil {
				continue
			}
			n = &decoded
		}
		if !found || *n > mx {
			mx, found = *n, true
		}
	}
	return mx, found, nil
}

func (t *memoryTx) SetLastNumber(_ context.Context, n int64) error {
	t.m.last = &n
	return nil
}

func (t *memoryTx) InsertRecord(_ context.Context, r admission.Record) error {
	if err := t.m.FailInsert; err != nil {
		t.m.FailInsert = nil
		return err
	}
	r.ID = t.m.nextID
	t.m.nextID++
	t.m.records = append(t.m.records, r)
	return nil
}

// FindRecord returns the newest record with the identifier.
func (t *memoryTx) FindRecord(_ context.Context, identifier string) (*admission.Record, error) {
	for i := len(t.m.records) - 1; i >= 0; i-- {
		if t.m.records[i].Identifier == identifier {
			r := t.m.records[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) MarkSubmitted(_ context.Context, identifier string, sub admission.Submission, at time.Time) error {
	for i := range t.m.records {
		r := &t.m.records[i]
		if r.Identifier != identifier {
			continue
		}
		r.StudentName = sub.StudentName
		r.FatherName = sub.FatherName
		r.PreferredBranch = sub.PreferredBranch
		r.Mobile = sub.Mobile
		r.Address = sub.Address
		r.Extra = sub.Extra
		r.Status = admission.StatusSubmitted
		submitted := at
		r.DateSubmitted = &submitted
		r.LastModified = &submitted
	}
	return nil
}
