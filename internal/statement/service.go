package statement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/odyssey-erp/school-billing/internal/ledger"
	"github.com/odyssey-erp/school-billing/internal/roster"
	"github.com/odyssey-erp/school-billing/internal/shared"
)

// InvoiceSource loads evaluated invoices. *ledger.Service satisfies it.
type InvoiceSource interface {
	EvaluateAll(ctx context.Context, filter ledger.InvoiceFilter) ([]ledger.InvoiceDetail, error)
}

// RosterSource resolves schools and students. *roster.Service satisfies it.
type RosterSource interface {
	GetSchool(ctx context.Context, id uuid.UUID) (roster.School, error)
	GetStudent(ctx context.Context, id uuid.UUID) (roster.Student, error)
	ListStudents(ctx context.Context, schoolID uuid.UUID, filter roster.StudentFilter) ([]roster.Student, error)
}

// Service builds statements from committed ledger data.
type Service struct {
	invoices InvoiceSource
	roster   RosterSource
	now      func() time.Time
}

// NewService wires the statement sources. now defaults to time.Now and should
// report times in the billing location, since its date keys cached statements.
func NewService(invoices InvoiceSource, roster RosterSource, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{invoices: invoices, roster: roster, now: now}
}

// today is the calendar date statuses are currently derived against.
func (s *Service) today() civil.Date {
	return civil.DateOf(s.now())
}

func validatePeriod(period Period) error {
	if period.From != nil && period.To != nil && period.To.Before(*period.From) {
		return fmt.Errorf("%w: period ends before it starts", shared.ErrInvalidInput)
	}
	return nil
}

// StudentStatement builds the statement of one student.
func (s *Service) StudentStatement(ctx context.Context, studentID uuid.UUID, period Period) (StudentStatement, error) {
	if err := validatePeriod(period); err != nil {
		return StudentStatement{}, err
	}
	student, err := s.roster.GetStudent(ctx, studentID)
	if err != nil {
		return StudentStatement{}, err
	}
	school, err := s.roster.GetSchool(ctx, student.SchoolID)
	if err != nil {
		return StudentStatement{}, err
	}
	invoices, err := s.invoices.EvaluateAll(ctx, ledger.InvoiceFilter{
		StudentID: studentID,
		DueFrom:   period.From,
		DueTo:     period.To,
	})
	if err != nil {
		return StudentStatement{}, err
	}
	return BuildStudentStatement(student, school.Name, invoices, period, s.now().UTC()), nil
}

// SchoolStatement builds the statement of one school across all of its
// students, active or not.
func (s *Service) SchoolStatement(ctx context.Context, schoolID uuid.UUID, period Period) (SchoolStatement, error) {
	if err := validatePeriod(period); err != nil {
		return SchoolStatement{}, err
	}
	school, err := s.roster.GetSchool(ctx, schoolID)
	if err != nil {
		return SchoolStatement{}, err
	}
	students, err := s.roster.ListStudents(ctx, schoolID, roster.StudentFilter{ActiveOnly: false})
	if err != nil {
		return SchoolStatement{}, err
	}
	invoices, err := s.invoices.EvaluateAll(ctx, ledger.InvoiceFilter{
		SchoolID: schoolID,
		DueFrom:  period.From,
		DueTo:    period.To,
	})
	if err != nil {
		return SchoolStatement{}, err
	}
	return BuildSchoolStatement(school, students, invoices, period, s.now().UTC()), nil
}

// Cache is the read-through cache used in front of Service.
type Cache interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
}

// CachedService serves statements through a versioned cache. Ledger commits
// bump the cache version, so a cached statement never outlives a write. Keys
// also carry the current date, so derived statuses never outlive midnight.
type CachedService struct {
	service *Service
	cache   Cache
	logger  *slog.Logger
}

// NewCachedService wraps service. A nil cache serves straight from service.
func NewCachedService(service *Service, cache Cache, logger *slog.Logger) *CachedService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedService{service: service, cache: cache, logger: logger}
}

// StudentStatement returns the cached student statement, building it on a miss.
func (c *CachedService) StudentStatement(ctx context.Context, studentID uuid.UUID, period Period) (StudentStatement, error) {
	var out StudentStatement
	err := c.fetch(ctx, &out, func(ctx context.Context) (any, error) {
		return c.service.StudentStatement(ctx, studentID, period)
	}, "student", studentID, period)
	return out, err
}

// SchoolStatement returns the cached school statement, building it on a miss.
func (c *CachedService) SchoolStatement(ctx context.Context, schoolID uuid.UUID, period Period) (SchoolStatement, error) {
	var out SchoolStatement
	err := c.fetch(ctx, &out, func(ctx context.Context) (any, error) {
		return c.service.SchoolStatement(ctx, schoolID, period)
	}, "school", schoolID, period)
	return out, err
}

func (c *CachedService) fetch(ctx context.Context, dest any, loader func(context.Context) (any, error), kind string, id uuid.UUID, period Period) error {
	if err := validatePeriod(period); err != nil {
		return err
	}
	if c.cache == nil {
		return assign(ctx, dest, loader)
	}
	from, to := period.token()
	key, err := c.cache.BuildKey(ctx, "statement", kind, id.String(), from, to, c.service.today().String())
	if err != nil {
		// Redis being down degrades to uncached reads.
		c.logger.Warn("statement cache unavailable", slog.Any("error", err))
		return assign(ctx, dest, loader)
	}
	return c.cache.FetchJSON(ctx, key, dest, loader)
}

func assign(ctx context.Context, dest any, loader func(context.Context) (any, error)) error {
	v, err := loader(ctx)
	if err != nil {
		return err
	}
	switch d := dest.(type) {
	case *StudentStatement:
		*d = v.(StudentStatement)
	case *SchoolStatement:
		*d = v.(SchoolStatement)
	default:
		return fmt.Errorf("statement: unsupported destination %T", dest)
	}
	return nil
}
