/*
handlers.go - HTTP API handlers for the admissions tracker

PURPOSE:
  Exposes application-number allocation and the staff workflows around it
  via REST API. Handles HTTP request/response, JSON serialization, and
  delegates to the admission package and the SQLite store.

ENDPOINTS:
  Auth:
    POST   /api/auth/signup                       Coordinator signup
    POST   /api/auth/login                        Admin/coordinator login
    PUT    /api/me/work                           Save caller's work notes

  Applications (any staff):
    POST   /api/applications/reserve              Issue next application number
    POST   /api/applications/{number}/submit      Finalize an application
    DELETE /api/applications/{number}/reservation Abandon a reservation
    GET    /api/applications                      Caller's applications
    GET    /api/applications/search?term=         Search caller's applications
    GET    /api/applications/{number}             Lookup by number

  Admin:
    PATCH  /api/applications/{number}             Edit columns
    DELETE /api/applications/{number}             Delete regardless of status
    GET    /api/admin/coordinators                List coordinator accounts
    GET    /api/admin/reports/count               Submissions in a date range
    GET    /api/admin/reports/excel               Spreadsheet export
    GET    /api/admin/reports/pdf                 PDF export
    GET    /api/sequence                          Counter state

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, malformed identifiers
  - 401/403: Missing token, wrong role
  - 404: Application not found
  - 409: Duplicate account email
  - 503: Write lock not acquired in time; the client should retry
  - 500: Internal errors

DEGRADED RESERVATIONS:
  When Reserve fails for any reason other than lock contention, the client
  still receives a random, non-persisted PEC number below the sequence
  floor, flagged degraded=true, so the form can be filled in. Submitting it takes the recovery path.

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Authentication
  - server.go: Router setup
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pecadmissions/admissions/admission"
	"github.com/pecadmissions/admissions/auth"
	"github.com/pecadmissions/admissions/report"
	"github.com/pecadmissions/admissions/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Allocator *admission.Allocator
	Finalizer *admission.Finalizer
	Tokens    *auth.Issuer

	// Placeholder returns the number used for degraded reservations.
	Placeholder func() int64

	validate *validator.Validate
}

// NewHandler creates a new handler with the given store and token issuer.
func NewHandler(store *sqlite.Store, tokens *auth.Issuer) *Handler {
	return &Handler{
		Store:       store,
		Allocator:   admission.NewAllocator(store, store.SequenceFloor()),
		Finalizer:   admission.NewFinalizer(store),
		Tokens:      tokens,
		Placeholder: placeholderBelow(store.SequenceFloor()),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

// Signup creates a coordinator account and logs it in.
// POST /api/auth/signup
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !h.decode(w, r, &req) {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create account", err)
		return
	}
	acc, err := h.Store.CreateAccount(r.Context(), sqlite.Account{
		Role:         sqlite.RoleCoordinator,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        req.Email,
		Phone:        req.Phone,
		PasswordHash: hash,
	})
	if errors.Is(err, admission.ErrIntegrityConflict) {
		writeError(w, http.StatusConflict, "An account with this email already exists", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create account", err)
		return
	}

	h.writeToken(w, http.StatusCreated, *acc)
}

// Login exchanges email and password for a session token.
// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	acc, err := h.Store.GetAccountByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load account", err)
		return
	}
	if acc == nil || !auth.VerifyPassword(acc.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "Invalid email or password", nil)
		return
	}

	h.writeToken(w, http.StatusOK, *acc)
}

// SaveWork replaces the caller's work notes.
// PUT /api/me/work
func (h *Handler) SaveWork(w http.ResponseWriter, r *http.Request) {
	var req WorkRequest
	if !h.decode(w, r, &req) {
		return
	}
	claims := claimsFrom(r.Context())
	if err := h.Store.UpdateWork(r.Context(), claims.AccountID(), req.Work); err != nil {
		writeStoreError(w, "Failed to save work", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"work": req.Work})
}

func (h *Handler) writeToken(w http.ResponseWriter, status int, acc sqlite.Account) {
	token, exp, err := h.Tokens.Issue(acc.ID, string(acc.Role), acc.FullName())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token", err)
		return
	}
	writeJSON(w, status, TokenResponse{Token: token, ExpiresAt: exp, Account: toAccountDTO(acc)})
}

// =============================================================================
// APPLICATION ENDPOINTS
// =============================================================================

// Reserve issues the next application number to the caller.
// POST /api/applications/reserve
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	owner := claimsFrom(r.Context()).Name

	res, err := h.Allocator.Reserve(r.Context(), owner)
	switch {
	case err == nil:
		reservationsTotal.WithLabelValues("issued").Inc()
		writeJSON(w, http.StatusCreated, ReserveResponse{
			ApplicationNumber: res.Identifier,
			NumericPart:       res.Number,
		})
	case admission.IsRetryable(err):
		reservationsTotal.WithLabelValues("lock_timeout").Inc()
		writeError(w, http.StatusServiceUnavailable, "Database busy, please try again", err)
	default:
		reservationsTotal.WithLabelValues("degraded").Inc()
		n := h.Placeholder()
		log.Printf("[Reserve] Falling back to unpersisted number %s for %q: %v", admission.Encode(n), owner, err)
		writeJSON(w, http.StatusOK, ReserveResponse{
			ApplicationNumber: admission.Encode(n),
			NumericPart:       n,
			Degraded:          true,
		})
	}
}

// Submit finalizes an application, recovering a lost reservation if needed.
// POST /api/applications/{number}/submit
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	var req SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Finalizer.Finalize(r.Context(), number, claimsFrom(r.Context()).Name, req.submission())
	if err != nil {
		submissionsTotal.WithLabelValues("failed").Inc()
		writeStoreError(w, "Failed to save application", err)
		return
	}

	path := "updated"
	if res.Recovered {
		path = "recovered"
	}
	submissionsTotal.WithLabelValues(path).Inc()

	writeJSON(w, http.StatusOK, SubmitResponse{
		ApplicationNumber: res.Identifier,
		NumericPart:       res.NumericPart,
		Recovered:         res.Recovered,
	})
}

// ReleaseReservation deletes a still-reserved application.
// DELETE /api/applications/{number}/reservation
func (h *Handler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	released, err := h.Allocator.Release(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeStoreError(w, "Failed to release reservation", err)
		return
	}
	if released {
		releasesTotal.Inc()
	}
	writeJSON(w, http.StatusOK, ReleaseResponse{Released: released})
}

// ListApplications returns the caller's applications, newest first.
// GET /api/applications
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListByOwner(r.Context(), claimsFrom(r.Context()).Name)
	if err != nil {
		writeStoreError(w, "Failed to list applications", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": toApplicationDTOs(records)})
}

// SearchApplications matches the caller's applications by student name or number.
// GET /api/applications/search?term=
func (h *Handler) SearchApplications(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("term"))
	if term == "" {
		writeError(w, http.StatusBadRequest, "term query parameter required", nil)
		return
	}
	records, err := h.Store.Search(r.Context(), claimsFrom(r.Context()).Name, term)
	if err != nil {
		writeStoreError(w, "Failed to search applications", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": toApplicationDTOs(records)})
}

// GetApplication looks up an application by number.
// GET /api/applications/{number}
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetApplication(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeStoreError(w, "Failed to get application", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Application not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationDTO(*rec))
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// UpdateApplication edits columns of an application.
// PATCH /api/applications/{number}
func (h *Handler) UpdateApplication(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	var req UpdateApplicationRequest
	if !h.decode(w, r, &req) {
		return
	}

	ok, err := h.Store.UpdateApplication(r.Context(), number, req.patch())
	if err != nil {
		writeStoreError(w, "Failed to update application", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Application not found", nil)
		return
	}

	rec, err := h.Store.GetApplication(r.Context(), number)
	if err != nil || rec == nil {
		writeStoreError(w, "Failed to reload application", err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationDTO(*rec))
}

// DeleteApplication removes an application regardless of status.
// DELETE /api/applications/{number}
func (h *Handler) DeleteApplication(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	ok, err := h.Store.DeleteApplication(r.Context(), number)
	if err != nil {
		writeStoreError(w, "Failed to delete application", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Application not found", nil)
		return
	}
	log.Printf("[Admin] %s deleted application %s", claimsFrom(r.Context()).Name, number)
	w.WriteHeader(http.StatusNoContent)
}

// ListCoordinators returns all coordinator accounts.
// GET /api/admin/coordinators
func (h *Handler) ListCoordinators(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context(), sqlite.RoleCoordinator)
	if err != nil {
		writeStoreError(w, "Failed to list coordinators", err)
		return
	}
	dtos := make([]AccountDTO, 0, len(accounts))
	for _, a := range accounts {
		dtos = append(dtos, toAccountDTO(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"coordinators": dtos})
}

// CountReport counts submissions in a date range.
// GET /api/admin/reports/count?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD
func (h *Handler) CountReport(w http.ResponseWriter, r *http.Request) {
	rng, ok := parseRange(w, r)
	if !ok {
		return
	}
	count, err := h.Store.CountSubmittedBetween(r.Context(), rng.From, rng.To)
	if err != nil {
		writeStoreError(w, "Failed to count applications", err)
		return
	}
	records, err := h.Store.SubmittedBetween(r.Context(), rng.From, rng.To)
	if err != nil {
		writeStoreError(w, "Failed to count applications", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{
		StartDate: rng.Start,
		EndDate:   rng.End,
		Count:     count,
		Branches:  report.Breakdown(records),
	})
}

// ExcelReport downloads submissions in a date range as .xlsx.
// GET /api/admin/reports/excel?start_date=&end_date=&chart=1
func (h *Handler) ExcelReport(w http.ResponseWriter, r *http.Request) {
	rng, ok := parseRange(w, r)
	if !ok {
		return
	}
	records, err := h.Store.SubmittedBetween(r.Context(), rng.From, rng.To)
	if err != nil {
		writeStoreError(w, "Failed to load applications", err)
		return
	}

	data, err := report.BuildWorkbook(records, r.URL.Query().Get("chart") == "1")
	if errors.Is(err, report.ErrNoData) {
		writeError(w, http.StatusNotFound, "No data found for the selected dates", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build workbook", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, rng.Filename("xlsx")))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// PDFReport downloads submissions in a date range as a PDF table.
// GET /api/admin/reports/pdf?start_date=&end_date=
func (h *Handler) PDFReport(w http.ResponseWriter, r *http.Request) {
	rng, ok := parseRange(w, r)
	if !ok {
		return
	}
	records, err := h.Store.SubmittedBetween(r.Context(), rng.From, rng.To)
	if err != nil {
		writeStoreError(w, "Failed to load applications", err)
		return
	}

	data, err := report.BuildPDF(records)
	if errors.Is(err, report.ErrNoData) {
		writeError(w, http.StatusNotFound, "No data found for the selected dates", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build pdf", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, rng.Filename("pdf")))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GetSequence reports the last issued number and the next one.
// GET /api/sequence
func (h *Handler) GetSequence(w http.ResponseWriter, r *http.Request) {
	last, seeded, err := h.Store.LastNumber(r.Context())
	if err != nil {
		writeStoreError(w, "Failed to read sequence", err)
		return
	}
	writeJSON(w, http.StatusOK, SequenceDTO{
		LastNumber: last,
		Next:       admission.Encode(last + 1),
		Seeded:     seeded,
	})
}

// Healthz reports whether the database answers.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DB().PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// placeholderBelow draws degraded numbers from [1000, floor) so they never
// name a record the allocator issued. A floor at or below 1000 draws from [0, floor).
func placeholderBelow(floor int64) func() int64 {
	lo := int64(1000)
	if floor <= lo {
		lo = 0
	}
	span := max(floor-lo, 1)
	return func() int64 { return lo + rand.Int63n(span) }
}

// decode reads a JSON body into dst and validates it. On failure it writes
// a 400 response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, validationMessage(fe))
			}
			writeError(w, http.StatusBadRequest, "Validation failed", errors.New(strings.Join(msgs, "; ")))
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	}
	return field + " is invalid"
}

func parseRange(w http.ResponseWriter, r *http.Request) (report.Range, bool) {
	q := r.URL.Query()
	rng, err := report.ParseRange(q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_date and end_date must be YYYY-MM-DD", err)
		return rng, false
	}
	return rng, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeStoreError maps admission and store errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, message string, err error) {
	switch {
	case admission.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, "Database busy, please try again", err)
	case errors.Is(err, admission.ErrNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, admission.ErrIntegrityConflict):
		writeError(w, http.StatusConflict, message, err)
	case admission.IsClientError(err), errors.Is(err, sqlite.ErrEmptyPatch):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
