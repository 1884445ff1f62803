/*
types.go - Core types for admission applications

PURPOSE:
  Defines the application record and the values that flow through the
  two-phase lifecycle: a Reservation is issued first, a Submission later
  turns the reserved record into a submitted one.

LIFECYCLE:
  reserved  --Finalize-->  submitted
  reserved  --Release-->   (deleted)

  A submitted record is never deleted by the allocator. Administrative
  deletes go through the store directly.

EXTRA FIELDS:
  Attributes without a dedicated column travel as ExtraFields, a string
  map. It is serialized to a JSON object only at the storage boundary
  (driver.Valuer / sql.Scanner) and never handled as raw JSON elsewhere.

SEE ALSO:
  - allocator.go: Creates reserved records
  - finalizer.go: Moves records to submitted
  - store.go: Storage contract
*/
package admission

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is the lifecycle state of an application record.
type Status string

const (
	StatusReserved  Status = "reserved"
	StatusSubmitted Status = "submitted"
)

// DefaultSequenceFloor is the historical baseline below which no number is issued.
const DefaultSequenceFloor int64 = 4879

// =============================================================================
// RECORDS
// =============================================================================

// Record is one admission application.
type Record struct {
	ID              int64
	Identifier      string
	NumericPart     *int64 // nil when unknown (legacy rows, malformed identifiers)
	Owner           string
	Status          Status
	StudentName     string
	FatherName      string
	PreferredBranch string
	Mobile          string
	Address         string
	Extra           ExtraFields
	DateOpened      *time.Time
	DateSubmitted   *time.Time
	LastModified    *time.Time
}

// Submission carries the form data written at finalization.
type Submission struct {
	StudentName     string
	FatherName      string
	PreferredBranch string
	Mobile          string
	Address         string
	Extra           ExtraFields
}

// Reservation is the result of a successful Reserve call.
type Reservation struct {
	Identifier string
	Number     int64
}

// FinalizeResult reports which path Finalize took.
type FinalizeResult struct {
	Identifier string
	// Recovered is true when no reservation existed and a new submitted
	// record was inserted directly.
	Recovered   bool
	NumericPart *int64
}

// SeedValue returns the counter value to start from when no counter row exists:
// the larger of floor and the highest number already present in records.
func SeedValue(floor int64, maxExisting int64, found bool) int64 {
	if found && maxExisting > floor {
		return maxExisting
	}
	return floor
}

// =============================================================================
// EXTRA FIELDS
// =============================================================================

// ExtraFields holds form attributes that have no dedicated column.
type ExtraFields map[string]string

// Value implements driver.Valuer. Empty maps are stored as NULL.
func (e ExtraFields) Value() (driver.Value, error) {
	if len(e) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(map[string]string(e))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner. Non-string JSON values are kept in their
// textual form; text that is not a JSON object is kept under the "raw" key.
func (e *ExtraFields) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*e = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("extra fields: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*e = nil
		return nil
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		*e = ExtraFields{"raw": string(raw)}
		return nil
	}
	if len(decoded) == 0 {
		*e = nil
		return nil
	}
	out := make(ExtraFields, len(decoded))
	for k, v := range decoded {
		switch tv := v.(type) {
		case string:
			out[k] = tv
		case nil:
			out[k] = ""
		default:
			b, _ := json.Marshal(tv)
			out[k] = string(b)
		}
	}
	*e = out
	return nil
}

// Get returns the value for key, or "" when absent.
func (e ExtraFields) Get(key string) string {
	if e == nil {
		return ""
	}
	return e[key]
}
