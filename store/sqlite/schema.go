/*
schema.go - Schema evolution guard for the applications table

PURPOSE:
  Database files created by older releases may lack columns that newer
  code writes. Instead of failing requests, the guard:
    1. At startup, adds each missing optional column (if upgrades are
       enabled). Adding a column that already exists is a no-op.
    2. Probes PRAGMA table_info once and freezes a Capabilities set.
    3. Application writes are built from that set: absent columns are
       left out of the statement and their values are dropped.

BASE COLUMNS (always present):
  id, application_number, student_name, father_name, preferred_branch

OPTIONAL COLUMNS:
  numeric_part, coordinator, status, mobile, address, form_data,
  date_opened, date_submitted, last_modified

RUNTIME MISMATCH:
  If a statement still fails with "no such column" (file changed under a
  running process), withCapabilities re-probes and retries once with the
  narrower statement. The mismatch never reaches callers.
*/
package sqlite

import (
	"context"
	"fmt"
	"log"
	"strings"
)

const (
	colNumericPart   = "numeric_part"
	colCoordinator   = "coordinator"
	colStatus        = "status"
	colMobile        = "mobile"
	colAddress       = "address"
	colFormData      = "form_data"
	colDateOpened    = "date_opened"
	colDateSubmitted = "date_submitted"
	colLastModified  = "last_modified"
)

type columnDef struct {
	Name string
	Type string
}

var baseColumns = []string{"id", "application_number", "student_name", "father_name", "preferred_branch"}

var optionalColumns = []columnDef{
	{colNumericPart, "INTEGER"},
	{colCoordinator, "TEXT"},
	{colStatus, "TEXT"},
	{colMobile, "TEXT"},
	{colAddress, "TEXT"},
	{colFormData, "TEXT"},
	{colDateOpened, "TEXT"},
	{colDateSubmitted, "TEXT"},
	{colLastModified, "TEXT"},
}

// Capabilities is the set of optional application columns present in the
// database file.
type Capabilities struct {
	present map[string]bool
}

// Has reports whether column exists. Base columns always exist.
func (c *Capabilities) Has(column string) bool {
	for _, b := range baseColumns {
		if b == column {
			return true
		}
	}
	return c != nil && c.present[column]
}

// Missing lists the optional columns that are absent, in declaration order.
func (c *Capabilities) Missing() []string {
	var out []string
	for _, col := range optionalColumns {
		if !c.Has(col.Name) {
			out = append(out, col.Name)
		}
	}
	return out
}

// Full reports whether every optional column is present.
func (c *Capabilities) Full() bool {
	return len(c.Missing()) == 0
}

// Capabilities returns the capability set the store currently writes with.
func (s *Store) Capabilities() *Capabilities {
	return s.caps.Load()
}

// guardSchema adds missing optional columns and records the capability set.
func (s *Store) guardSchema(ctx context.Context) error {
	present, err := probeColumns(ctx, s.db, "applications")
	if err != nil {
		return err
	}
	for _, b := range baseColumns {
		if !present[b] {
			return fmt.Errorf("applications table has no %s column", b)
		}
	}

	if s.opts.UpgradeSchema {
		for _, col := range optionalColumns {
			if present[col.Name] {
				continue
			}
			_, err := s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE applications ADD COLUMN %s %s", col.Name, col.Type))
			switch {
			case err == nil:
				log.Printf("[Schema] Added column %s to applications", col.Name)
			case isDuplicateColumn(err):
				// another process added it first
			default:
				log.Printf("[Schema] Could not add column %s: %v", col.Name, err)
			}
		}
	}

	caps, err := s.refreshCapabilities(ctx, s.db)
	if err != nil {
		return err
	}
	if missing := caps.Missing(); len(missing) > 0 {
		log.Printf("[Schema] Running with reduced applications schema, missing: %s", strings.Join(missing, ", "))
	}

	if caps.Has(colCoordinator) {
		if _, err := s.db.ExecContext(ctx,
			`CREATE INDEX IF NOT EXISTS idx_applications_coordinator ON applications(coordinator)`); err != nil {
			return fmt.Errorf("failed to create coordinator index: %w", err)
		}
	}
	return nil
}

func (s *Store) refreshCapabilities(ctx context.Context, q queryer) (*Capabilities, error) {
	present, err := probeColumns(ctx, q, "applications")
	if err != nil {
		return nil, err
	}
	caps := &Capabilities{present: present}
	s.caps.Store(caps)
	return caps, nil
}

// withCapabilities runs fn with the current capability set. If fn fails
// because a column is missing, the set is re-probed and fn runs once more.
func (s *Store) withCapabilities(ctx context.Context, q queryer, fn func(*Capabilities) error) error {
	err := fn(s.caps.Load())
	if err == nil || !isSchemaMismatch(err) {
		return err
	}

	log.Printf("[Schema] Statement referenced a missing column, re-probing: %v", err)
	caps, perr := s.refreshCapabilities(ctx, q)
	if perr != nil {
		return perr
	}
	return fn(caps)
}

func probeColumns(ctx context.Context, q queryer, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `PRAGMA table_info(`+table+`)`)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s columns: %w", table, err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan %s column: %w", table, err)
		}
		present[name] = true
	}
	return present, rows.Err()
}
