package admission

import (
	"context"
	"fmt"
	"time"
)

// Finalizer turns reservations into submitted applications.
//
// If the reservation is gone (process restart, manual delete) Finalize
// inserts a submitted record directly. That record's number comes from
// decoding the identifier and may not match what the counter would have
// issued; a malformed identifier leaves it nil instead of failing.
type Finalizer struct {
	store Store

	// Now returns the current time. Defaults to UTC wall clock.
	Now func() time.Time
}

// NewFinalizer creates a finalizer over store.
func NewFinalizer(store Store) *Finalizer {
	return &Finalizer{
		store: store,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Finalize saves sub under identifier with status submitted. Calling it
// again overwrites the data; the outcome of repeated calls with the same
// input is the same as one call.
func (f *Finalizer) Finalize(ctx context.Context, identifier, owner string, sub Submission) (FinalizeResult, error) {
	if identifier == "" {
		return FinalizeResult{}, ErrMissingIdentifier
	}

	var res FinalizeResult
	err := f.store.WithWriteTx(ctx, func(tx WriteTx) error {
		existing, err := tx.FindRecord(ctx, identifier)
		if err != nil {
			return err
		}
		now := f.Now()

		if existing != nil {
			if err := tx.MarkSubmitted(ctx, identifier, sub, now); err != nil {
				return err
			}
			res = FinalizeResult{Identifier: identifier, NumericPart: existing.NumericPart}
			return nil
		}

		rec := Record{
			Identifier:      identifier,
			NumericPart:     decodeOrNil(identifier),
			Owner:           owner,
			Status:          StatusSubmitted,
			StudentName:     sub.StudentName,
			FatherName:      sub.FatherName,
			PreferredBranch: sub.PreferredBranch,
			Mobile:          sub.Mobile,
			Address:         sub.Address,
			Extra:           sub.Extra,
			DateOpened:      &now,
			DateSubmitted:   &now,
			LastModified:    &now,
		}
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}
		res = FinalizeResult{Identifier: identifier, Recovered: true, NumericPart: rec.NumericPart}
		return nil
	})
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("save application %s: %w", identifier, err)
	}
	return res, nil
}
