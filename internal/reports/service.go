package reports

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/odyssey-erp/school-billing/internal/ledger"
	"github.com/odyssey-erp/school-billing/internal/shared"
)

// InvoiceSource loads evaluated invoices. *ledger.Service satisfies it.
type InvoiceSource interface {
	EvaluateAll(ctx context.Context, filter ledger.InvoiceFilter) ([]ledger.InvoiceDetail, error)
}

// PaymentSource loads payments with their owners. *ledger.Service satisfies it.
type PaymentSource interface {
	CollectPayments(ctx context.Context, filter ledger.PaymentFilter) ([]ledger.PaymentRecord, error)
}

// Filter scopes a report. For invoice reports From/To bound due dates, for
// payment reports they bound payment dates.
type Filter struct {
	SchoolID uuid.UUID
	From     *civil.Date
	To       *civil.Date
}

func (f Filter) validate() error {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return fmt.Errorf("%w: period ends before it starts", shared.ErrInvalidInput)
	}
	return nil
}

// Service computes report projections.
type Service struct {
	invoices InvoiceSource
	payments PaymentSource
}

// NewService wires report sources.
func NewService(invoices InvoiceSource, payments PaymentSource) *Service {
	return &Service{invoices: invoices, payments: payments}
}

// Overdue lists overdue invoices, most overdue first.
func (s *Service) Overdue(ctx context.Context, filter Filter) ([]OverdueRow, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	rows, err := s.invoices.EvaluateAll(ctx, ledger.InvoiceFilter{
		SchoolID: filter.SchoolID,
		Status:   ledger.StatusOverdue,
		DueFrom:  filter.From,
		DueTo:    filter.To,
	})
	if err != nil {
		return nil, err
	}
	return Overdue(rows), nil
}

// DailyCollections groups payments by day and school.
func (s *Service) DailyCollections(ctx context.Context, filter Filter) ([]DailyCollection, error) {
	payments, err := s.collect(ctx, filter)
	if err != nil {
		return nil, err
	}
	return DailyCollections(payments), nil
}

// MonthlyRevenue groups payments by calendar month and school.
func (s *Service) MonthlyRevenue(ctx context.Context, filter Filter) ([]MonthlyRevenue, error) {
	payments, err := s.collect(ctx, filter)
	if err != nil {
		return nil, err
	}
	return MonthlyRevenues(payments), nil
}

// StudentBalances totals invoices per student.
func (s *Service) StudentBalances(ctx context.Context, filter Filter) ([]StudentBalance, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	rows, err := s.invoices.EvaluateAll(ctx, ledger.InvoiceFilter{
		SchoolID: filter.SchoolID,
		DueFrom:  filter.From,
		DueTo:    filter.To,
	})
	if err != nil {
		return nil, err
	}
	return StudentBalances(rows), nil
}

// SchoolSummaries totals invoices per school.
func (s *Service) SchoolSummaries(ctx context.Context, filter Filter) ([]SchoolSummary, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	rows, err := s.invoices.EvaluateAll(ctx, ledger.InvoiceFilter{
		SchoolID: filter.SchoolID,
		DueFrom:  filter.From,
		DueTo:    filter.To,
	})
	if err != nil {
		return nil, err
	}
	return SchoolSummaries(rows), nil
}

func (s *Service) collect(ctx context.Context, filter Filter) ([]ledger.PaymentRecord, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	return s.payments.CollectPayments(ctx, ledger.PaymentFilter{
		SchoolID: filter.SchoolID,
		From:     filter.From,
		To:       filter.To,
	})
}

// PreviousMonth returns the first and last day of the month before today.
func PreviousMonth(today civil.Date) (civil.Date, civil.Date) {
	firstOfMonth := civil.Date{Year: today.Year, Month: today.Month, Day: 1}
	last := firstOfMonth.AddDays(-1)
	return civil.Date{Year: last.Year, Month: last.Month, Day: 1}, last
}
