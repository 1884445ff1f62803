/*
Package sqlite provides the SQLite-backed storage for the admissions service.

PURPOSE:
  Implements admission.Store (the allocator's write-transaction boundary)
  plus the read and administrative queries used by the HTTP layer, over a
  single embedded database file.

KEY TABLES:
  application_sequence: One row (id = 1) holding last_number
  applications:         Reserved and submitted application records
  accounts:             Staff accounts (admins, coordinators)

WRITE SERIALIZATION:
  The database is opened with _txlock=immediate, so every BeginTx issues
  BEGIN IMMEDIATE and takes SQLite's RESERVED lock up front. A second
  writer waits in SQLite's busy handler for up to Options.LockTimeout and
  then fails with SQLITE_BUSY, surfaced as admission.ErrLockTimeout.
  There is no in-process mutex: other processes writing the same file are
  serialized the same way.

  Reads (lookups, listings, counter peek) run outside transactions and do
  not take the write lock.

WAL MODE:
  Opened with WAL so readers never block the writer and vice versa.

SCHEMA DRIFT:
  Older database files may lack optional application columns. See
  schema.go for the startup guard and the capability set that every
  application write is built from.

USAGE:
  store, err := sqlite.New("./admissions.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  alloc := admission.NewAllocator(store, store.SequenceFloor())

SEE ALSO:
  - admission/store.go: Interface definitions
  - schema.go: Schema evolution guard
  - admission/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pecadmissions/admissions/admission"
)

//go:embed schema.sql
var schemaSQL string

// Options configures a Store.
type Options struct {
	// SequenceFloor is the counter seed when no counter row and no higher
	// record exist.
	SequenceFloor int64

	// LockTimeout bounds how long a writer waits for the write lock.
	LockTimeout time.Duration

	// UpgradeSchema adds missing optional columns at startup.
	UpgradeSchema bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		SequenceFloor: admission.DefaultSequenceFloor,
		LockTimeout:   10 * time.Second,
		UpgradeSchema: true,
	}
}

// Store implements admission.Store using SQLite.
type Store struct {
	db   *sql.DB
	opts Options
	caps atomic.Pointer[Capabilities]
}

// New opens the database at dbPath with DefaultOptions.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(dbPath, DefaultOptions())
}

// Open opens (creating if needed) the database at dbPath, runs the schema
// guard and seeds the sequence.
func Open(dbPath string, opts Options) (*Store, error) {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultOptions().LockTimeout
	}

	db, err := sql.Open("sqlite3", dsn(dbPath, opts.LockTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dbPath, ":memory:") {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db, opts: opts}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func dsn(path string, lockTimeout time.Duration) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate&_foreign_keys=on",
		path, sep, lockTimeout.Milliseconds())
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle. Writes to applications or
// application_sequence must not bypass WithWriteTx.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SequenceFloor returns the configured counter floor.
func (s *Store) SequenceFloor() int64 {
	return s.opts.SequenceFloor
}

// migrate creates the schema, applies the column guard and seeds the counter.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := s.guardSchema(ctx); err != nil {
		return err
	}
	return s.seedSequence(ctx)
}

// =============================================================================
// TRANSACTIONAL STORE (admission.Store interface)
// =============================================================================

// WithWriteTx runs fn inside a BEGIN IMMEDIATE transaction.
func (s *Store) WithWriteTx(ctx context.Context, fn func(admission.WriteTx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return classify(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}

// DeleteReserved deletes records with the identifier that are still reserved.
func (s *Store) DeleteReserved(ctx context.Context, identifier string) (bool, error) {
	var n int64
	err := s.withCapabilities(ctx, s.db, func(caps *Capabilities) error {
		query := `DELETE FROM applications WHERE application_number = ? AND status = 'reserved'`
		if !caps.Has(colStatus) {
			// no lifecycle column: only rows that never received data count as reservations
			query = `DELETE FROM applications WHERE application_number = ? AND (student_name IS NULL OR student_name = '')`
		}
		res, err := s.db.ExecContext(ctx, query, identifier)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete reservation: %w", classify(err))
	}
	return n > 0, nil
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) LastNumber(ctx context.Context) (int64, bool, error) {
	return lastNumber(ctx, ts.tx)
}

func (ts *txStore) MaxNumericPart(ctx context.Context) (int64, bool, error) {
	return ts.parent.maxNumericPart(ctx, ts.tx)
}

func (ts *txStore) SetLastNumber(ctx context.Context, n int64) error {
	return setLastNumber(ctx, ts.tx, n)
}

func (ts *txStore) InsertRecord(ctx context.Context, r admission.Record) error {
	return ts.parent.insertRecord(ctx, ts.tx, r)
}

func (ts *txStore) FindRecord(ctx context.Context, identifier string) (*admission.Record, error) {
	return ts.parent.findRecord(ctx, ts.tx, identifier)
}

func (ts *txStore) MarkSubmitted(ctx context.Context, identifier string, sub admission.Submission, at time.Time) error {
	return ts.parent.markSubmitted(ctx, ts.tx, identifier, sub, at)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
