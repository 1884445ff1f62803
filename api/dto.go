/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  admission record model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

VALIDATION:
  Request types carry go-playground/validator tags; handlers call
  Handler.decode, which rejects unknown fields and failed rules with 400.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/pecadmissions/admissions/admission"
	"github.com/pecadmissions/admissions/report"
	"github.com/pecadmissions/admissions/store/sqlite"
)

// =============================================================================
// AUTH
// =============================================================================

// SignupRequest registers a coordinator account.
type SignupRequest struct {
	FirstName string `json:"first_name" validate:"required,max=80"`
	LastName  string `json:"last_name" validate:"required,max=80"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"omitempty,max=20"`
	Password  string `json:"password" validate:"required,min=6,max=72"`
}

// LoginRequest authenticates an admin or coordinator.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TokenResponse is returned by signup and login.
type TokenResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	Account   AccountDTO `json:"account"`
}

// AccountDTO represents a staff account in API responses.
type AccountDTO struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Work      string `json:"work"`
}

func toAccountDTO(a sqlite.Account) AccountDTO {
	return AccountDTO{
		ID:        a.ID,
		Role:      string(a.Role),
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Email:     a.Email,
		Phone:     a.Phone,
		Work:      a.Work,
	}
}

// WorkRequest replaces the caller's work notes.
type WorkRequest struct {
	Work string `json:"work" validate:"max=10000"`
}

// =============================================================================
// APPLICATIONS
// =============================================================================

// ReserveResponse carries a newly issued application number. Degraded
// numbers were not persisted and are not guaranteed unique.
type ReserveResponse struct {
	ApplicationNumber string `json:"application_number"`
	NumericPart       int64  `json:"numeric_part"`
	Degraded          bool   `json:"degraded"`
}

// SubmitRequest is the completed application form.
type SubmitRequest struct {
	StudentName     string            `json:"student_name" validate:"required,max=200"`
	FatherName      string            `json:"father_name" validate:"required,max=200"`
	PreferredBranch string            `json:"preferred_branch" validate:"max=100"`
	Mobile          string            `json:"mobile" validate:"omitempty,max=20"`
	Address         string            `json:"address" validate:"max=500"`
	FormData        map[string]string `json:"form_data"`
}

func (r SubmitRequest) submission() admission.Submission {
	return admission.Submission{
		StudentName:     r.StudentName,
		FatherName:      r.FatherName,
		PreferredBranch: r.PreferredBranch,
		Mobile:          r.Mobile,
		Address:         r.Address,
		Extra:           admission.ExtraFields(r.FormData),
	}
}

// SubmitResponse reports the outcome of a submission.
type SubmitResponse struct {
	ApplicationNumber string `json:"application_number"`
	NumericPart       *int64 `json:"numeric_part"`
	Recovered         bool   `json:"recovered"`
}

// ReleaseResponse reports whether a reservation was removed.
type ReleaseResponse struct {
	Released bool `json:"released"`
}

// UpdateApplicationRequest is an administrative edit. Omitted fields are unchanged.
type UpdateApplicationRequest struct {
	StudentName     *string            `json:"student_name" validate:"omitempty,max=200"`
	FatherName      *string            `json:"father_name" validate:"omitempty,max=200"`
	PreferredBranch *string            `json:"preferred_branch" validate:"omitempty,max=100"`
	Mobile          *string            `json:"mobile" validate:"omitempty,max=20"`
	Address         *string            `json:"address" validate:"omitempty,max=500"`
	FormData        *map[string]string `json:"form_data"`
}

func (r UpdateApplicationRequest) patch() sqlite.ApplicationPatch {
	p := sqlite.ApplicationPatch{
		StudentName:     r.StudentName,
		FatherName:      r.FatherName,
		PreferredBranch: r.PreferredBranch,
		Mobile:          r.Mobile,
		Address:         r.Address,
	}
	if r.FormData != nil {
		extra := admission.ExtraFields(*r.FormData)
		p.Extra = &extra
	}
	return p
}

// ApplicationDTO represents an application record in API responses.
type ApplicationDTO struct {
	ApplicationNumber string            `json:"application_number"`
	NumericPart       *int64            `json:"numeric_part"`
	Coordinator       string            `json:"coordinator"`
	Status            string            `json:"status"`
	StudentName       string            `json:"student_name"`
	FatherName        string            `json:"father_name"`
	PreferredBranch   string            `json:"preferred_branch"`
	Mobile            string            `json:"mobile"`
	Address           string            `json:"address"`
	FormData          map[string]string `json:"form_data,omitempty"`
	DateOpened        *time.Time        `json:"date_opened"`
	DateSubmitted     *time.Time        `json:"date_submitted"`
	LastModified      *time.Time        `json:"last_modified"`
}

// toApplicationDTO fills empty columns from same-named form_data entries,
// which is where older clients stored them.
func toApplicationDTO(r admission.Record) ApplicationDTO {
	fallback := func(v, key string) string {
		if v != "" {
			return v
		}
		return r.Extra.Get(key)
	}
	return ApplicationDTO{
		ApplicationNumber: r.Identifier,
		NumericPart:       r.NumericPart,
		Coordinator:       r.Owner,
		Status:            string(r.Status),
		StudentName:       fallback(r.StudentName, "student_name"),
		FatherName:        fallback(r.FatherName, "father_name"),
		PreferredBranch:   fallback(r.PreferredBranch, "preferred_branch"),
		Mobile:            fallback(r.Mobile, "mobile"),
		Address:           fallback(r.Address, "address"),
		FormData:          r.Extra,
		DateOpened:        r.DateOpened,
		DateSubmitted:     r.DateSubmitted,
		LastModified:      r.LastModified,
	}
}

func toApplicationDTOs(records []admission.Record) []ApplicationDTO {
	out := make([]ApplicationDTO, 0, len(records))
	for _, r := range records {
		out = append(out, toApplicationDTO(r))
	}
	return out
}

// SequenceDTO is the current counter state.
type SequenceDTO struct {
	LastNumber int64  `json:"last_number"`
	Next       string `json:"next"`
	Seeded     bool   `json:"seeded"`
}

// CountResponse is the date-range submission count with its branch breakdown.
type CountResponse struct {
	StartDate string               `json:"start_date"`
	EndDate   string               `json:"end_date"`
	Count     int                  `json:"count"`
	Branches  []report.BranchCount `json:"branches"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
