package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/pecadmissions/admissions/admission"
)

// =============================================================================
// SEQUENCE STORE
// =============================================================================

// LastNumber returns the last issued counter value without taking the write lock.
// ok is false before the counter has been seeded.
func (s *Store) LastNumber(ctx context.Context) (int64, bool, error) {
	return lastNumber(ctx, s.db)
}

func lastNumber(ctx context.Context, q queryer) (int64, bool, error) {
	var n int64
	err := q.QueryRowContext(ctx, `SELECT last_number FROM application_sequence WHERE id = 1`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read sequence: %w", err)
	}
	return n, true, nil
}

func setLastNumber(ctx context.Context, q queryer, n int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO application_sequence (id, last_number) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_number = excluded.last_number
	`, n)
	if err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}
	return nil
}

// maxNumericPart prefers the numeric_part column and falls back to the
// digits after the prefix for rows that lack it.
func (s *Store) maxNumericPart(ctx context.Context, q queryer) (int64, bool, error) {
	fromIdentifier := fmt.Sprintf("CAST(SUBSTR(application_number, %d) AS INTEGER)", len(admission.Prefix)+1)
	prefixMatch := fmt.Sprintf("SUBSTR(application_number, 1, %d) = '%s'", len(admission.Prefix), admission.Prefix)

	var mx sql.NullInt64
	err := s.withCapabilities(ctx, q, func(caps *Capabilities) error {
		query := fmt.Sprintf(`SELECT MAX(%s) FROM applications WHERE %s`, fromIdentifier, prefixMatch)
		if caps.Has(colNumericPart) {
			query = fmt.Sprintf(`
				SELECT MAX(COALESCE(numeric_part, CASE WHEN %s THEN %s END))
				FROM applications`, prefixMatch, fromIdentifier)
		}
		return q.QueryRowContext(ctx, query).Scan(&mx)
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to read highest application number: %w", err)
	}
	return mx.Int64, mx.Valid, nil
}

// seedSequence creates the counter row if it does not exist yet.
func (s *Store) seedSequence(ctx context.Context) error {
	return s.WithWriteTx(ctx, func(tx admission.WriteTx) error {
		if _, ok, err := tx.LastNumber(ctx); err != nil || ok {
			return err
		}
		mx, found, err := tx.MaxNumericPart(ctx)
		if err != nil {
			return err
		}
		start := admission.SeedValue(s.opts.SequenceFloor, mx, found)
		log.Printf("[Sequence] Seeded application sequence at %d", start)
		return tx.SetLastNumber(ctx, start)
	})
}
