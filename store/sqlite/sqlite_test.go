/*
sqlite_test.go - Allocation tests against a real database file

Tests for:
- Sequential and concurrent reservation numbering
- Counter seeding from existing records
- Finalize update and recovery paths
- Release semantics
- Lock timeout surfacing as admission.ErrLockTimeout
*/
package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pecadmissions/admissions/admission"
	"github.com/pecadmissions/admissions/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func dbPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "admissions.db")
}

func openStore(t *testing.T, path string, opts sqlite.Options) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newStore(t *testing.T) *sqlite.Store {
	return openStore(t, dbPath(t), sqlite.DefaultOptions())
}

// rawDB opens a second, independent handle on the same file.
func rawDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_txlock=immediate")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func submission(name string) admission.Submission {
	return admission.Submission{
		StudentName:     name,
		FatherName:      "R. Kumar",
		PreferredBranch: "CSE",
		Mobile:          "9876543210",
		Address:         "12 Anna Salai, Chennai",
		Extra:           admission.ExtraFields{"community": "BC", "marks": "482"},
	}
}

// =============================================================================
// RESERVE
// =============================================================================

func TestReserve_FreshDatabaseIssuesConsecutiveNumbers(t *testing.T) {
	// GIVEN: A fresh database
	// WHEN: Coordinators A and B reserve one after another
	// THEN: They receive PEC4880 and PEC4881, stored as reserved records

	store := newStore(t)
	alloc := admission.NewAllocator(store, store.SequenceFloor())
	ctx := context.Background()

	a, err := alloc.Reserve(ctx, "A")
	require.NoError(t, err)
	b, err := alloc.Reserve(ctx, "B")
	require.NoError(t, err)

	assert.Equal(t, "PEC4880", a.Identifier)
	assert.Equal(t, "PEC4881", b.Identifier)

	rec, err := store.GetApplication(ctx, "PEC4881")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, admission.StatusReserved, rec.Status)
	assert.Equal(t, "B", rec.Owner)
	assert.Equal(t, int64(4881), *rec.NumericPart)
	assert.NotNil(t, rec.DateOpened)
	assert.Nil(t, rec.DateSubmitted)

	last, ok, err := store.LastNumber(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(4881), last)
}

func TestReserve_SeedsFromHighestExistingRecord(t *testing.T) {
	// GIVEN: A database whose records reach 5200 but has no counter row
	// WHEN: The store is reopened and a number is reserved
	// THEN: The reservation is PEC5201

	path := dbPath(t)
	db := rawDB(t, path)
	_, err := db.Exec(`
		CREATE TABLE applications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			application_number TEXT,
			student_name TEXT,
			father_name TEXT,
			preferred_branch TEXT
		)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO applications (application_number, student_name) VALUES ('PEC5200', 'Old'), ('PEC5100', 'Older'), ('MANUAL-7', 'Odd')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store := openStore(t, path, sqlite.DefaultOptions())
	alloc := admission.NewAllocator(store, store.SequenceFloor())

	res, err := alloc.Reserve(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "PEC5201", res.Identifier)
}

func TestReserve_ConcurrentReservationsAreDistinctAndConsecutive(t *testing.T) {
	// GIVEN: One database file and two independent store handles
	// WHEN: Many goroutines reserve through both handles at once
	// THEN: Every number is unique and together they form a gap-free run

	path := dbPath(t)
	first := openStore(t, path, sqlite.DefaultOptions())
	second := openStore(t, path, sqlite.DefaultOptions())
	allocs := []*admission.Allocator{
		admission.NewAllocator(first, first.SequenceFloor()),
		admission.NewAllocator(second, second.SequenceFloor()),
	}

	const n = 24
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int64
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := allocs[i%2].Reserve(context.Background(), fmt.Sprintf("coord-%d", i))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers = append(numbers, res.Number)
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	want := make([]int64, n)
	for i := range want {
		want[i] = 4880 + int64(i)
	}
	if diff := cmp.Diff(want, numbers); diff != "" {
		t.Errorf("issued numbers mismatch (-want +got):\n%s", diff)
	}
}

func TestReserve_LockTimeout(t *testing.T) {
	// GIVEN: Another connection holding the write lock
	// WHEN: A reservation is attempted with a short lock timeout
	// THEN: It fails with ErrLockTimeout and the counter is unchanged

	path := dbPath(t)
	opts := sqlite.DefaultOptions()
	opts.LockTimeout = 100 * time.Millisecond
	store := openStore(t, path, opts)
	alloc := admission.NewAllocator(store, store.SequenceFloor())
	ctx := context.Background()

	holder := rawDB(t, path)
	tx, err := holder.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.Exec(`UPDATE application_sequence SET last_number = last_number WHERE id = 1`)
	require.NoError(t, err)

	_, err = alloc.Reserve(ctx, "A")
	require.Error(t, err)
	assert.ErrorIs(t, err, admission.ErrLockTimeout)
	assert.True(t, admission.IsRetryable(err))

	require.NoError(t, tx.Rollback())

	last, _, err := store.LastNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4879), last)

	res, err := alloc.Reserve(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "PEC4880", res.Identifier)
}

// =============================================================================
// FINALIZE
// =============================================================================

func TestFinalize_UpdatesReservation(t *testing.T) {
	// GIVEN: A reservation
	// WHEN: It is finalized
	// THEN: The same record becomes submitted with the form data

	store := newStore(t)
	ctx := context.Background()
	alloc := admission.NewAllocator(store, store.SequenceFloor())
	fin := admission.NewFinalizer(store)

	res, err := alloc.Reserve(ctx, "A")
	require.NoError(t, err)

	out, err := fin.Finalize(ctx, res.Identifier, "A", submission("Meena"))
	require.NoError(t, err)
	assert.False(t, out.Recovered)

	rec, err := store.GetApplication(ctx, res.Identifier)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, admission.StatusSubmitted, rec.Status)
	assert.Equal(t, "Meena", rec.StudentName)
	assert.Equal(t, "CSE", rec.PreferredBranch)
	assert.Equal(t, "9876543210", rec.Mobile)
	assert.Equal(t, "A", rec.Owner)
	assert.Equal(t, "482", rec.Extra.Get("marks"))
	assert.NotNil(t, rec.DateSubmitted)

	list, err := store.ListByOwner(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFinalize_RecoversMissingReservation(t *testing.T) {
	// GIVEN: No record PEC9999 exists
	// WHEN: PEC9999 is finalized
	// THEN: A submitted record with numeric part 9999 is inserted and the counter is untouched

	store := newStore(t)
	ctx := context.Background()
	fin := admission.NewFinalizer(store)

	out, err := fin.Finalize(ctx, "PEC9999", "A", submission("Ravi"))
	require.NoError(t, err)
	assert.True(t, out.Recovered)

	rec, err := store.GetApplication(ctx, "PEC9999")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, admission.StatusSubmitted, rec.Status)
	require.NotNil(t, rec.NumericPart)
	assert.Equal(t, int64(9999), *rec.NumericPart)
	assert.NotNil(t, rec.DateOpened)
	assert.NotNil(t, rec.DateSubmitted)

	last, _, err := store.LastNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4879), last)
}

// =============================================================================
// RELEASE
// =============================================================================

func TestRelease_RemovesReservation(t *testing.T) {
	// GIVEN: A reservation
	// WHEN: It is released
	// THEN: No record with that identifier remains

	store := newStore(t)
	ctx := context.Background()
	alloc := admission.NewAllocator(store, store.SequenceFloor())

	res, err := alloc.Reserve(ctx, "A")
	require.NoError(t, err)

	released, err := alloc.Release(ctx, res.Identifier)
	require.NoError(t, err)
	assert.True(t, released)

	rec, err := store.GetApplication(ctx, res.Identifier)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRelease_SubmittedRecordUntouched(t *testing.T) {
	// GIVEN: A finalized record
	// WHEN: Release is called for it
	// THEN: Nothing is deleted

	store := newStore(t)
	ctx := context.Background()
	alloc := admission.NewAllocator(store, store.SequenceFloor())
	fin := admission.NewFinalizer(store)

	res, err := alloc.Reserve(ctx, "A")
	require.NoError(t, err)
	_, err = fin.Finalize(ctx, res.Identifier, "A", submission("Meena"))
	require.NoError(t, err)

	released, err := alloc.Release(ctx, res.Identifier)
	require.NoError(t, err)
	assert.False(t, released)

	rec, err := store.GetApplication(ctx, res.Identifier)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, admission.StatusSubmitted, rec.Status)
}

func TestRelease_DoesNotReuseNumbers(t *testing.T) {
	// GIVEN: A released reservation
	// WHEN: Another reservation is made
	// THEN: The released number is not issued again

	store := newStore(t)
	ctx := context.Background()
	alloc := admission.NewAllocator(store, store.SequenceFloor())

	first, err := alloc.Reserve(ctx, "A")
	require.NoError(t, err)
	_, err = alloc.Release(ctx, first.Identifier)
	require.NoError(t, err)

	next, err := alloc.Reserve(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, first.Number+1, next.Number)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestSearchAndReports(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	alloc := admission.NewAllocator(store, store.SequenceFloor())
	fin := admission.NewFinalizer(store)

	for _, name := range []string{"Meena", "Meenakshi", "Ravi"} {
		res, err := alloc.Reserve(ctx, "A")
		require.NoError(t, err)
		_, err = fin.Finalize(ctx, res.Identifier, "A", submission(name))
		require.NoError(t, err)
	}
	_, err := alloc.Reserve(ctx, "B")
	require.NoError(t, err)

	found, err := store.Search(ctx, "A", "meena")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = store.Search(ctx, "B", "meena")
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = store.Search(ctx, "A", "pec4882")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Ravi", found[0].StudentName)

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)
	count, err := store.CountSubmittedBetween(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	recs, err := store.SubmittedBetween(ctx, from, to)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestUpdateAndDeleteApplication(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	fin := admission.NewFinalizer(store)

	_, err := fin.Finalize(ctx, "PEC6000", "A", submission("Meena"))
	require.NoError(t, err)

	_, err = store.UpdateApplication(ctx, "PEC6000", sqlite.ApplicationPatch{})
	assert.ErrorIs(t, err, sqlite.ErrEmptyPatch)

	branch := "ECE"
	ok, err := store.UpdateApplication(ctx, "PEC6000", sqlite.ApplicationPatch{PreferredBranch: &branch})
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := store.GetApplication(ctx, "PEC6000")
	require.NoError(t, err)
	assert.Equal(t, "ECE", rec.PreferredBranch)
	assert.Equal(t, "Meena", rec.StudentName)

	ok, err = store.UpdateApplication(ctx, "PEC6001", sqlite.ApplicationPatch{PreferredBranch: &branch})
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err := store.DeleteApplication(ctx, "PEC6000")
	require.NoError(t, err)
	assert.True(t, deleted)

	rec, err = store.GetApplication(ctx, "PEC6000")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestDeleteStaleReservations(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	alloc := admission.NewAllocator(store, store.SequenceFloor())
	fin := admission.NewFinalizer(store)

	old := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	alloc.Now = func() time.Time { return old }
	stale, err := alloc.Reserve(ctx, "A")
	require.NoError(t, err)
	submitted, err := alloc.Reserve(ctx, "A")
	require.NoError(t, err)
	_, err = fin.Finalize(ctx, submitted.Identifier, "A", submission("Meena"))
	require.NoError(t, err)

	alloc.Now = func() time.Time { return time.Now().UTC() }
	fresh, err := alloc.Reserve(ctx, "A")
	require.NoError(t, err)

	n, err := store.DeleteStaleReservations(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	for id, exists := range map[string]bool{
		stale.Identifier:     false,
		submitted.Identifier: true,
		fresh.Identifier:     true,
	} {
		rec, err := store.GetApplication(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, exists, rec != nil, id)
	}
}
