/*
store.go - Storage contract for the allocator and finalizer

PURPOSE:
  Separates the allocation rules (what number comes next, which path
  Finalize takes) from persistence. The allocator never touches SQL; it
  receives a WriteTx scoped to one serialized write transaction.

SERIALIZATION CONTRACT:
  WithWriteTx must run fn while holding a write-exclusive lock on the
  underlying storage (SQLite: BEGIN IMMEDIATE), from the first read of the
  counter to commit. No in-process mutex substitutes for this once more
  than one connection or process can write.

  - fn returns nil   -> commit
  - fn returns error -> rollback; the counter is not advanced and no
                        record is written
  - lock not acquired within the backend's timeout -> ErrLockTimeout

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production (single SQLite file)
  - admission/store/memory.go: In-memory, for tests

SEE ALSO:
  - allocator.go, finalizer.go: The only writers of the counter
*/
package admission

import (
	"context"
	"time"
)

// WriteTx is the storage view available inside a serialized write transaction.
type WriteTx interface {
	// LastNumber returns the persisted counter. ok is false if no counter row exists.
	LastNumber(ctx context.Context) (n int64, ok bool, err error)

	// MaxNumericPart returns the highest number found among existing records.
	MaxNumericPart(ctx context.Context) (n int64, ok bool, err error)

	// SetLastNumber persists the counter, creating the row if needed.
	SetLastNumber(ctx context.Context, n int64) error

	// InsertRecord writes a new record.
	InsertRecord(ctx context.Context, r Record) error

	// FindRecord returns the record with the identifier, or nil if absent.
	FindRecord(ctx context.Context, identifier string) (*Record, error)

	// MarkSubmitted writes the submission onto existing records with the
	// identifier and sets status submitted.
	MarkSubmitted(ctx context.Context, identifier string, sub Submission, at time.Time) error
}

// Store is the persistence required by Allocator and Finalizer.
type Store interface {
	// WithWriteTx runs fn inside one write-exclusive transaction.
	WithWriteTx(ctx context.Context, fn func(WriteTx) error) error

	// DeleteReserved deletes records with the identifier that are still
	// reserved. Returns whether anything was deleted.
	DeleteReserved(ctx context.Context, identifier string) (bool, error)
}
