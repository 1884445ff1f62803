/*
errors.go - Error taxonomy for application-number allocation

PURPOSE:
  All allocator and finalizer errors in one place. Storage backends wrap
  these sentinels so handlers can map them to HTTP statuses with errors.Is.

ERROR CATEGORIES:
  1. Transient   - ErrLockTimeout: the write lock could not be taken in time
  2. Schema      - ErrSchemaMismatch: a write referenced a missing column
                   (handled inside the store, never returned to callers)
  3. Format      - ErrFormat / FormatError: identifier is not "PEC<digits>"
  4. Integrity   - ErrIntegrityConflict: a uniqueness constraint fired
  5. Lookup      - ErrNotFound, ErrMissingIdentifier

SEE ALSO:
  - codec.go: Returns FormatError
  - store/sqlite/errors.go: Translates driver errors into these sentinels
*/
package admission

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrLockTimeout is returned when the exclusive write transaction could
	// not be acquired before the storage busy timeout expired. Retry later.
	ErrLockTimeout = errors.New("timed out waiting for write lock")

	// ErrSchemaMismatch marks a statement that referenced columns absent
	// from the current database file.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrFormat is returned when an identifier cannot be decoded.
	ErrFormat = errors.New("malformed application number")

	// ErrIntegrityConflict is returned when a uniqueness constraint rejects a write.
	ErrIntegrityConflict = errors.New("integrity conflict")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMissingIdentifier is returned when an operation is called without an application number.
	ErrMissingIdentifier = errors.New("application number required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FormatError describes why an identifier could not be decoded.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed application number %q: %s", e.Input, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return ErrFormat
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrFormat) ||
		errors.Is(err, ErrIntegrityConflict) ||
		errors.Is(err, ErrMissingIdentifier)
}
