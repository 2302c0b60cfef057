// Package roster exposes the schools and students that invoices belong to.
package roster

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/odyssey-erp/school-billing/internal/shared"
)

var (
	ErrSchoolNotFound     = shared.NewError(shared.ErrNotFound, "school not found")
	ErrStudentNotFound    = shared.NewError(shared.ErrNotFound, "student not found")
	ErrStudentHasInvoices = shared.NewError(shared.ErrInvalidState, "student has invoices and cannot be deleted")
)

// School model.
type School struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Address   string    `json:"address,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Student model.
type Student struct {
	ID             uuid.UUID  `json:"id"`
	SchoolID       uuid.UUID  `json:"school_id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Email          string     `json:"email,omitempty"`
	EnrollmentDate civil.Date `json:"enrollment_date"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// FullName joins first and last name.
func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// SchoolFilter narrows school listings.
type SchoolFilter struct {
	ActiveOnly bool
}

// StudentFilter narrows student listings. ActiveOnly must be set explicitly;
// there is no implicit active filter anywhere in the roster.
type StudentFilter struct {
	ActiveOnly bool
}
