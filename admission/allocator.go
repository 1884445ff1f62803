/*
allocator.go - Application-number reservation

PURPOSE:
  Issues the next application number and writes a reserved placeholder
  record in the same write transaction, before the coordinator has entered
  any data. The number is shown on the blank form and sent back on submit.

INVARIANTS:
  1. GAP-FREE ON FAILURE: counter advance and placeholder insert commit
     together or not at all.
  2. STRICTLY INCREASING: every committed Reserve observes a counter value
     larger than all previously committed ones. Repeats are impossible
     while all writes go through Store.WithWriteTx.
  3. CONSUMED ON COMMIT: once committed, a number is never reissued, even
     if its record is later released.

SEEDING:
  If no counter row exists, the counter starts from
  max(floor, highest number among existing records). The floor is
  configuration (DefaultSequenceFloor = 4879), not logic.

RELEASE:
  Release is a conditional delete keyed on identifier AND status reserved.
  A record finalized between the client deciding to abandon and the delete
  executing survives.

SEE ALSO:
  - finalizer.go: Second phase
  - store.go: Serialization contract
*/
package admission

import (
	"context"
	"fmt"
	"time"
)

// Allocator reserves and releases application numbers.
type Allocator struct {
	store Store
	floor int64

	// Now returns the current time. Defaults to UTC wall clock.
	Now func() time.Time
}

// NewAllocator creates an allocator seeding from floor when no counter exists.
func NewAllocator(store Store, floor int64) *Allocator {
	return &Allocator{
		store: store,
		floor: floor,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Reserve issues the next number for owner and records a reserved placeholder.
func (a *Allocator) Reserve(ctx context.Context, owner string) (Reservation, error) {
	var res Reservation

	err := a.store.WithWriteTx(ctx, func(tx WriteTx) error {
		current, ok, err := tx.LastNumber(ctx)
		if err != nil {
			return err
		}
		if !ok {
			if current, err = a.seed(ctx, tx); err != nil {
				return err
			}
		}

		next := current + 1
		if err := tx.SetLastNumber(ctx, next); err != nil {
			return err
		}

		now := a.Now()
		number := next
		rec := Record{
			Identifier:  Encode(next),
			NumericPart: &number,
			Owner:       owner,
			Status:      StatusReserved,
			DateOpened:  &now,
		}
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}

		res = Reservation{Identifier: rec.Identifier, Number: next}
		return nil
	})
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve application number: %w", err)
	}
	return res, nil
}

func (a *Allocator) seed(ctx context.Context, tx WriteTx) (int64, error) {
	mx, found, err := tx.MaxNumericPart(ctx)
	if err != nil {
		return 0, err
	}
	return SeedValue(a.floor, mx, found), nil
}

// Release deletes the reservation if it is still reserved.
// Returns false when nothing was deleted (unknown or already submitted).
func (a *Allocator) Release(ctx context.Context, identifier string) (bool, error) {
	if identifier == "" {
		return false, ErrMissingIdentifier
	}
	released, err := a.store.DeleteReserved(ctx, identifier)
	if err != nil {
		return false, fmt.Errorf("release %s: %w", identifier, err)
	}
	return released, nil
}
