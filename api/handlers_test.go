/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Signup, login and token enforcement
- Reserve / submit / release lifecycle over HTTP
- Degraded reservations and lock-timeout responses
- Admin-only edits, deletes, reports and sequence
*/
package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pecadmissions/admissions/admission"
	"github.com/pecadmissions/admissions/auth"
	"github.com/pecadmissions/admissions/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t       *testing.T
	path    string
	store   *sqlite.Store
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T, opts sqlite.Options) *testServer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admissions.db")
	store, err := sqlite.Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, auth.NewIssuer("test-secret", time.Hour))
	return &testServer{t: t, path: path, store: store, handler: h, router: NewRouter(h, []string{"*"})}
}

// account creates an account directly in the store and returns a token for it.
func (ts *testServer) account(role sqlite.Role, first, email string) string {
	ts.t.Helper()
	hash, err := auth.HashPassword("password1")
	require.NoError(ts.t, err)
	acc, err := ts.store.CreateAccount(context.Background(), sqlite.Account{
		Role:         role,
		FirstName:    first,
		LastName:     "Test",
		Email:        email,
		PasswordHash: hash,
	})
	require.NoError(ts.t, err)
	token, _, err := ts.handler.Tokens.Issue(acc.ID, string(acc.Role), acc.FullName())
	require.NoError(ts.t, err)
	return token
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func validSubmit(name string) SubmitRequest {
	return SubmitRequest{
		StudentName:     name,
		FatherName:      "R. Kumar",
		PreferredBranch: "CSE",
		Mobile:          "9876543210",
		Address:         "12 Anna Salai",
		FormData:        map[string]string{"community": "BC"},
	}
}

// =============================================================================
// AUTH
// =============================================================================

func TestSignupAndLogin(t *testing.T) {
	ts := newTestServer(t, sqlite.DefaultOptions())

	signup := SignupRequest{FirstName: "Asha", LastName: "Rao", Email: "asha@example.com", Password: "secret1"}

	rec := ts.do(http.MethodPost, "/api/auth/signup", "", signup)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tok := decodeBody[TokenResponse](t, rec)
	assert.NotEmpty(t, tok.Token)
	assert.Equal(t, "coordinator", tok.Account.Role)

	// duplicate email is a user-facing conflict
	rec = ts.do(http.MethodPost, "/api/auth/signup", "", signup)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "An account with this email already exists", decodeBody[ErrorResponse](t, rec).Error)

	rec = ts.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "ASHA@example.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decodeBody[TokenResponse](t, rec)
	assert.Equal(t, tok.Account.ID, login.Account.ID)

	claims, err := ts.handler.Tokens.Parse(login.Token)
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", claims.Name)

	rec = ts.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "asha@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignup_Validation(t *testing.T) {
	ts := newTestServer(t, sqlite.DefaultOptions())

	rec := ts.do(http.MethodPost, "/api/auth/signup", "", SignupRequest{FirstName: "Asha", LastName: "Rao", Email: "not-an-email", Password: "secret1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Details, "email must be a valid email")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, sqlite.DefaultOptions())

	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodPost, "/api/applications/reserve", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodPost, "/api/applications/reserve", "garbage", nil).Code)

	coord := ts.account(sqlite.RoleCoordinator, "Asha", "asha@example.com")
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/api/sequence", coord, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodDelete, "/api/applications/PEC4880", coord, nil).Code)
}

// =============================================================================
// APPLICATION LIFECYCLE
// =============================================================================

func TestReserveSubmitRelease(t *testing.T) {
	// GIVEN: A coordinator
	// WHEN: They reserve two numbers, submit the first and release the second
	// THEN: The first is submitted and listed; the second is gone

	ts := newTestServer(t, sqlite.DefaultOptions())
	coord := ts.account(sqlite.RoleCoordinator, "Asha", "asha@example.com")

	rec := ts.do(http.MethodPost, "/api/applications/reserve", coord, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody[ReserveResponse](t, rec)
	assert.Equal(t, "PEC4880", first.ApplicationNumber)
	assert.False(t, first.Degraded)

	second := decodeBody[ReserveResponse](t, ts.do(http.MethodPost, "/api/applications/reserve", coord, nil))
	assert.Equal(t, "PEC4881", second.ApplicationNumber)

	rec = ts.do(http.MethodPost, "/api/applications/PEC4880/submit", coord, validSubmit("Meena"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decodeBody[SubmitResponse](t, rec).Recovered)

	rec = ts.do(http.MethodDelete, "/api/applications/PEC4881/reservation", coord, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[ReleaseResponse](t, rec).Released)

	// releasing a submitted application is a no-op
	rec = ts.do(http.MethodDelete, "/api/applications/PEC4880/reservation", coord, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[ReleaseResponse](t, rec).Released)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/applications/PEC4881", coord, nil).Code)

	rec = ts.do(http.MethodGet, "/api/applications", coord, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[map[string][]ApplicationDTO](t, rec)["applications"]
	require.Len(t, list, 1)
	assert.Equal(t, "PEC4880", list[0].ApplicationNumber)
	assert.Equal(t, "submitted", list[0].Status)
	assert.Equal(t, "Asha Test", list[0].Coordinator)
	assert.Equal(t, "BC", list[0].FormData["community"])

	rec = ts.do(http.MethodGet, "/api/applications/search?term=meen", coord, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[map[string][]ApplicationDTO](t, rec)["applications"], 1)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/applications/search", coord, nil).Code)
}

func TestSubmit_RecoversLostReservation(t *testing.T) {
	ts := newTestServer(t, sqlite.DefaultOptions())
	coord := ts.account(sqlite.RoleCoordinator, "Asha", "asha@example.com")

	rec := ts.do(http.MethodPost, "/api/applications/PEC9999/submit", coord, validSubmit("Ravi"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[SubmitResponse](t, rec)
	assert.True(t, res.Recovered)
	require.NotNil(t, res.NumericPart)
	assert.Equal(t, int64(9999), *res.NumericPart)
}

func TestSubmit_Validation(t *testing.T) {
	ts := newTestServer(t, sqlite.DefaultOptions())
	coord := ts.account(sqlite.RoleCoordinator, "Asha", "asha@example.com")

	body := validSubmit("Meena")
	body.FatherName = ""
	rec := ts.do(http.MethodPost, "/api/applications/PEC4880/submit", coord, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	stored, err := ts.store.GetApplication(context.Background(), "PEC4880")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestReserve_DegradedWhenStoreFails(t *testing.T) {
	// GIVEN: A store that can no longer write
	// WHEN: A number is reserved
	// THEN: A placeholder number flagged degraded is returned

	ts := newTestServer(t, sqlite.DefaultOptions())
	coord := ts.account(sqlite.RoleCoordinator, "Asha", "asha@example.com")
	ts.handler.Placeholder = func() int64 { return 1234 }
	require.NoError(t, ts.store.Close())

	rec := ts.do(http.MethodPost, "/api/applications/reserve", coord, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[ReserveResponse](t, rec)
	assert.Equal(t, "PEC1234", res.ApplicationNumber)
	assert.True(t, res.Degraded)
}

func TestPlaceholderBelow_StaysUnderFloor(t *testing.T) {
	draw := placeholderBelow(4879)
	for i := 0; i < 2000; i++ {
		n := draw()
		require.GreaterOrEqual(t, n, int64(1000))
		require.Less(t, n, int64(4879))
	}

	small := placeholderBelow(500)
	for i := 0; i < 200; i++ {
		n := small()
		require.GreaterOrEqual(t, n, int64(0))
		require.Less(t, n, int64(500))
	}

	assert.Equal(t, int64(0), placeholderBelow(0)())
}

func TestSubmit_DegradedNumberDoesNotTouchIssuedRecord(t *testing.T) {
	// GIVEN: Asha holds PEC4880 and Ravi received a degraded number
	// WHEN: Ravi submits the degraded number
	// THEN: A separate recovered record is written and PEC4880 stays reserved

	ts := newTestServer(t, sqlite.DefaultOptions())
	asha := ts.account(sqlite.RoleCoordinator, "Asha", "asha@example.com")
	ravi := ts.account(sqlite.RoleCoordinator, "Ravi", "ravi@example.com")

	issued := decodeBody[ReserveResponse](t, ts.do(http.MethodPost, "/api/applications/reserve", asha, nil))
	require.Equal(t, "PEC4880", issued.ApplicationNumber)

	degraded := admission.Encode(ts.handler.Placeholder())
	rec := ts.do(http.MethodPost, "/api/applications/"+degraded+"/submit", ravi, validSubmit("Kiran"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[SubmitResponse](t, rec).Recovered)

	stored, err := ts.store.GetApplication(context.Background(), "PEC4880")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, admission.StatusReserved, stored.Status)
	assert.Equal(t, "Asha Test", stored.Owner)
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t, sqlite.DefaultOptions())
	coord := ts.account(sqlite.RoleCoordinator, "Asha", "asha@example.com")

	body := map[string]string{"student_name": "Meena", "father_name": "Ramesh", "studnet_name": "typo"}
	rec := ts.do(http.MethodPost, "/api/applications/PEC4880/submit", coord, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	stored, err := ts.store.GetApplication(context.Background(), "PEC4880")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestReserve_LockTimeoutIsServiceUnavailable(t *testing.T) {
	opts := sqlite.DefaultOptions()
	opts.LockTimeout = 100 * time.Millisecond
	ts := newTestServer(t, opts)
	coord := ts.account(sqlite.RoleCoordinator, "Asha", "asha@example.com")

	holder, err := sql.Open("sqlite3", ts.path+"?_txlock=immediate")
	require.NoError(t, err)
	defer holder.Close()
	tx, err := holder.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.Exec(`UPDATE application_sequence SET last_number = last_number`)
	require.NoError(t, err)

	rec := ts.do(http.MethodPost, "/api/applications/reserve", coord, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAdminEditDeleteAndSequence(t *testing.T) {
	ts := newTestServer(t, sqlite.DefaultOptions())
	coord := ts.account(sqlite.RoleCoordinator, "Asha", "asha@example.com")
	admin := ts.account(sqlite.RoleAdmin, "Admin", "admin@pec.local")

	ts.do(http.MethodPost, "/api/applications/reserve", coord, nil)
	ts.do(http.MethodPost, "/api/applications/PEC4880/submit", coord, validSubmit("Meena"))

	branch := "ECE"
	rec := ts.do(http.MethodPatch, "/api/applications/PEC4880", admin, UpdateApplicationRequest{PreferredBranch: &branch})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[ApplicationDTO](t, rec)
	assert.Equal(t, "ECE", updated.PreferredBranch)
	assert.NotNil(t, updated.LastModified)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPatch, "/api/applications/PEC4880", admin, UpdateApplicationRequest{}).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPatch, "/api/applications/PEC1", admin, UpdateApplicationRequest{PreferredBranch: &branch}).Code)

	rec = ts.do(http.MethodGet, "/api/sequence", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	seq := decodeBody[SequenceDTO](t, rec)
	assert.Equal(t, int64(4880), seq.LastNumber)
	assert.Equal(t, "PEC4881", seq.Next)

	rec = ts.do(http.MethodGet, "/api/admin/coordinators", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[map[string][]AccountDTO](t, rec)["coordinators"], 1)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/api/applications/PEC4880", admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/api/applications/PEC4880", admin, nil).Code)
}

func TestReports(t *testing.T) {
	ts := newTestServer(t, sqlite.DefaultOptions())
	coord := ts.account(sqlite.RoleCoordinator, "Asha", "asha@example.com")
	admin := ts.account(sqlite.RoleAdmin, "Admin", "admin@pec.local")

	today := time.Now().UTC().Format("2006-01-02")
	query := "?start_date=" + today + "&end_date=" + today

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/admin/reports/excel"+query, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/admin/reports/pdf"+query, admin, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/api/admin/reports/pdf"+query, coord, nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/admin/reports/count?start_date=yesterday", admin, nil).Code)

	for _, name := range []string{"Meena", "Ravi"} {
		res := decodeBody[ReserveResponse](t, ts.do(http.MethodPost, "/api/applications/reserve", coord, nil))
		rec := ts.do(http.MethodPost, "/api/applications/"+res.ApplicationNumber+"/submit", coord, validSubmit(name))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := ts.do(http.MethodGet, "/api/admin/reports/count"+query, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	count := decodeBody[CountResponse](t, rec)
	assert.Equal(t, 2, count.Count)
	require.Len(t, count.Branches, 1)
	assert.Equal(t, "CSE", count.Branches[0].Branch)

	rec = ts.do(http.MethodGet, "/api/admin/reports/excel"+query+"&chart=1", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "applications_"+today+"_"+today+".xlsx")
	assert.NotZero(t, rec.Body.Len())

	rec = ts.do(http.MethodGet, "/api/admin/reports/pdf"+query, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "applications_"+today+"_"+today+".pdf")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
}

func TestSaveWork(t *testing.T) {
	ts := newTestServer(t, sqlite.DefaultOptions())
	coord := ts.account(sqlite.RoleCoordinator, "Asha", "asha@example.com")

	rec := ts.do(http.MethodPut, "/api/me/work", coord, WorkRequest{Work: "call PEC4880 back"})
	require.Equal(t, http.StatusOK, rec.Code)

	acc, err := ts.store.GetAccountByEmail(context.Background(), "asha@example.com")
	require.NoError(t, err)
	assert.Equal(t, "call PEC4880 back", acc.Work)
}

func TestHealthzAndMetrics(t *testing.T) {
	ts := newTestServer(t, sqlite.DefaultOptions())

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "", nil).Code)

	rec := ts.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "admissions_http_requests_total")
}

// =============================================================================
// HELPERS
// =============================================================================

func TestToApplicationDTO_FallsBackToFormData(t *testing.T) {
	dto := toApplicationDTO(admission.Record{
		Identifier:  "PEC4880",
		StudentName: "Meena",
		Extra:       admission.ExtraFields{"mobile": "9876543210", "student_name": "ignored"},
	})
	assert.Equal(t, "Meena", dto.StudentName)
	assert.Equal(t, "9876543210", dto.Mobile)
	assert.Empty(t, dto.Address)
}

func TestWriteStoreError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{admission.ErrLockTimeout, http.StatusServiceUnavailable},
		{admission.ErrIntegrityConflict, http.StatusConflict},
		{admission.ErrNotFound, http.StatusNotFound},
		{admission.ErrMissingIdentifier, http.StatusBadRequest},
		{&admission.FormatError{Input: "X1", Reason: "missing prefix"}, http.StatusBadRequest},
		{sqlite.ErrEmptyPatch, http.StatusBadRequest},
		{errors.New("disk I/O error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeStoreError(rec, "failed", tt.err)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}
