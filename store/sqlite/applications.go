package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pecadmissions/admissions/admission"
)

// ErrEmptyPatch is returned by UpdateApplication when no field is set.
var ErrEmptyPatch = errors.New("no updatable fields provided")

// recordColumns is the select order expected by scanRecord.
var recordColumns = []string{
	"id", "application_number", colNumericPart, colCoordinator, colStatus,
	"student_name", "father_name", "preferred_branch", colMobile, colAddress,
	colFormData, colDateOpened, colDateSubmitted, colLastModified,
}

// selectList substitutes NULL for columns the database file does not have.
func selectList(caps *Capabilities) string {
	parts := make([]string, len(recordColumns))
	for i, col := range recordColumns {
		if caps.Has(col) {
			parts[i] = col
		} else {
			parts[i] = "NULL AS " + col
		}
	}
	return strings.Join(parts, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (admission.Record, error) {
	var (
		r                                      admission.Record
		number                                 sql.NullString
		numericPart                            sql.NullInt64
		owner, status                          sql.NullString
		student, father, branch, mobile, addr  sql.NullString
		dateOpened, dateSubmitted, lastChanged sql.NullString
	)
	err := row.Scan(
		&r.ID, &number, &numericPart, &owner, &status,
		&student, &father, &branch, &mobile, &addr,
		&r.Extra, &dateOpened, &dateSubmitted, &lastChanged,
	)
	if err != nil {
		return r, err
	}

	r.Identifier = number.String
	if numericPart.Valid {
		n := numericPart.Int64
		r.NumericPart = &n
	}
	r.Owner = owner.String
	r.Status = admission.Status(status.String)
	r.StudentName = student.String
	r.FatherName = father.String
	r.PreferredBranch = branch.String
	r.Mobile = mobile.String
	r.Address = addr.String
	r.DateOpened = parseTime(dateOpened)
	r.DateSubmitted = parseTime(dateSubmitted)
	r.LastModified = parseTime(lastChanged)
	return r, nil
}

// =============================================================================
// WRITES (inside admission.WriteTx)
// =============================================================================

func (s *Store) insertRecord(ctx context.Context, q queryer, r admission.Record) error {
	err := s.withCapabilities(ctx, q, func(caps *Capabilities) error {
		cols := []string{"application_number", "student_name", "father_name", "preferred_branch"}
		args := []any{r.Identifier, nullString(r.StudentName), nullString(r.FatherName), nullString(r.PreferredBranch)}
		optional := func(col string, v any) {
			if caps.Has(col) {
				cols = append(cols, col)
				args = append(args, v)
			}
		}
		optional(colNumericPart, nullInt64(r.NumericPart))
		optional(colCoordinator, r.Owner)
		optional(colStatus, string(r.Status))
		optional(colMobile, nullString(r.Mobile))
		optional(colAddress, nullString(r.Address))
		optional(colFormData, r.Extra)
		optional(colDateOpened, nullTime(r.DateOpened))
		optional(colDateSubmitted, nullTime(r.DateSubmitted))
		optional(colLastModified, nullTime(r.LastModified))

		query := fmt.Sprintf("INSERT INTO applications (%s) VALUES (%s)",
			strings.Join(cols, ", "), placeholders(len(cols)))
		_, err := q.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert application %s: %w", r.Identifier, err)
	}
	return nil
}

func (s *Store) findRecord(ctx context.Context, q queryer, identifier string) (*admission.Record, error) {
	var (
		rec   admission.Record
		found bool
	)
	err := s.withCapabilities(ctx, q, func(caps *Capabilities) error {
		query := fmt.Sprintf(`SELECT %s FROM applications WHERE application_number = ? ORDER BY id DESC LIMIT 1`, selectList(caps))
		var err error
		rec, err = scanRecord(q.QueryRowContext(ctx, query, identifier))
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load application %s: %w", identifier, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) markSubmitted(ctx context.Context, q queryer, identifier string, sub admission.Submission, at time.Time) error {
	err := s.withCapabilities(ctx, q, func(caps *Capabilities) error {
		sets := []string{"student_name = ?", "father_name = ?", "preferred_branch = ?"}
		args := []any{sub.StudentName, sub.FatherName, sub.PreferredBranch}
		optional := func(col string, v any) {
			if caps.Has(col) {
				sets = append(sets, col+" = ?")
				args = append(args, v)
			}
		}
		optional(colMobile, nullString(sub.Mobile))
		optional(colAddress, nullString(sub.Address))
		optional(colStatus, string(admission.StatusSubmitted))
		optional(colFormData, sub.Extra)
		optional(colDateSubmitted, formatTime(at))
		optional(colLastModified, formatTime(at))

		args = append(args, identifier)
		query := fmt.Sprintf("UPDATE applications SET %s WHERE application_number = ?", strings.Join(sets, ", "))
		_, err := q.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to submit application %s: %w", identifier, err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// =============================================================================
// READS
// =============================================================================

// GetApplication returns the newest record with the identifier, or nil.
func (s *Store) GetApplication(ctx context.Context, identifier string) (*admission.Record, error) {
	return s.findRecord(ctx, s.db, identifier)
}

// ListByOwner returns the owner's applications, newest first.
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]admission.Record, error) {
	return s.queryRecords(ctx, func(caps *Capabilities) (string, []any, bool) {
		if !caps.Has(colCoordinator) {
			return "", nil, false
		}
		return fmt.Sprintf(`SELECT %s FROM applications WHERE coordinator = ? ORDER BY id DESC`, selectList(caps)),
			[]any{owner}, true
	})
}

// Search matches term against student name and application number within
// the owner's applications, case-insensitively.
func (s *Store) Search(ctx context.Context, owner, term string) ([]admission.Record, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(term)) + "%"
	return s.queryRecords(ctx, func(caps *Capabilities) (string, []any, bool) {
		if !caps.Has(colCoordinator) {
			return "", nil, false
		}
		query := fmt.Sprintf(`
			SELECT %s FROM applications
			WHERE (LOWER(student_name) LIKE ? OR LOWER(application_number) LIKE ?)
			  AND coordinator = ?
			ORDER BY id DESC`, selectList(caps))
		return query, []any{pattern, pattern, owner}, true
	})
}

// SubmittedBetween returns applications submitted within [from, to], oldest first.
func (s *Store) SubmittedBetween(ctx context.Context, from, to time.Time) ([]admission.Record, error) {
	return s.queryRecords(ctx, func(caps *Capabilities) (string, []any, bool) {
		if !caps.Has(colDateSubmitted) {
			return "", nil, false
		}
		query := fmt.Sprintf(`
			SELECT %s FROM applications
			WHERE date_submitted BETWEEN ? AND ?
			ORDER BY date_submitted ASC, id ASC`, selectList(caps))
		return query, []any{formatTime(from), formatTime(to)}, true
	})
}

// CountSubmittedBetween counts applications submitted within [from, to].
func (s *Store) CountSubmittedBetween(ctx context.Context, from, to time.Time) (int, error) {
	var count int
	err := s.withCapabilities(ctx, s.db, func(caps *Capabilities) error {
		count = 0
		if !caps.Has(colDateSubmitted) {
			return nil
		}
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM applications WHERE date_submitted BETWEEN ? AND ?`,
			formatTime(from), formatTime(to),
		).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count applications: %w", err)
	}
	return count, nil
}

// queryRecords runs the statement produced by build; build returns ok=false
// when the schema cannot answer the query, which yields no records.
func (s *Store) queryRecords(ctx context.Context, build func(*Capabilities) (string, []any, bool)) ([]admission.Record, error) {
	var records []admission.Record
	err := s.withCapabilities(ctx, s.db, func(caps *Capabilities) error {
		records = nil
		query, args, ok := build(caps)
		if !ok {
			return nil
		}
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}
	return records, nil
}

// =============================================================================
// ADMINISTRATIVE WRITES
// =============================================================================

// ApplicationPatch lists the columns an administrator may edit. Nil fields are left unchanged.
type ApplicationPatch struct {
	StudentName     *string
	FatherName      *string
	PreferredBranch *string
	Mobile          *string
	Address         *string
	Extra           *admission.ExtraFields
}

func (p ApplicationPatch) empty() bool {
	return p.StudentName == nil && p.FatherName == nil && p.PreferredBranch == nil &&
		p.Mobile == nil && p.Address == nil && p.Extra == nil
}

// UpdateApplication applies patch to every record with the identifier and
// stamps last_modified. Fields whose column is absent are dropped.
// Returns whether any record matched.
func (s *Store) UpdateApplication(ctx context.Context, identifier string, patch ApplicationPatch) (bool, error) {
	if patch.empty() {
		return false, ErrEmptyPatch
	}

	var n int64
	err := s.withCapabilities(ctx, s.db, func(caps *Capabilities) error {
		var (
			sets []string
			args []any
		)
		set := func(col string, v any) {
			if caps.Has(col) {
				sets = append(sets, col+" = ?")
				args = append(args, v)
			}
		}
		if patch.StudentName != nil {
			set("student_name", *patch.StudentName)
		}
		if patch.FatherName != nil {
			set("father_name", *patch.FatherName)
		}
		if patch.PreferredBranch != nil {
			set("preferred_branch", *patch.PreferredBranch)
		}
		if patch.Mobile != nil {
			set(colMobile, *patch.Mobile)
		}
		if patch.Address != nil {
			set(colAddress, *patch.Address)
		}
		if patch.Extra != nil {
			set(colFormData, *patch.Extra)
		}
		if len(sets) == 0 {
			n = 0
			return nil
		}
		set(colLastModified, formatTime(time.Now()))

		args = append(args, identifier)
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("UPDATE applications SET %s WHERE application_number = ?", strings.Join(sets, ", ")),
			args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to update application: %w", classify(err))
	}
	return n > 0, nil
}

// DeleteApplication removes every record with the identifier regardless of status.
func (s *Store) DeleteApplication(ctx context.Context, identifier string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM applications WHERE application_number = ?`, identifier)
	if err != nil {
		return false, fmt.Errorf("failed to delete application: %w", classify(err))
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteStaleReservations deletes reserved records opened before cutoff.
// Submitted records are never touched.
func (s *Store) DeleteStaleReservations(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.withCapabilities(ctx, s.db, func(caps *Capabilities) error {
		n = 0
		if !caps.Has(colStatus) || !caps.Has(colDateOpened) {
			return nil
		}
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM applications WHERE status = 'reserved' AND date_opened IS NOT NULL AND date_opened < ?`,
			formatTime(cutoff))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sweep reservations: %w", classify(err))
	}
	return n, nil
}
