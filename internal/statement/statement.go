// Package statement aggregates committed ledger data into student and school
// statements. Builders are pure: they never touch storage and never round
// until the final two-decimal rendering.
package statement

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/odyssey-erp/school-billing/internal/ledger"
	"github.com/odyssey-erp/school-billing/internal/money"
	"github.com/odyssey-erp/school-billing/internal/roster"
)

// Period bounds invoice due dates. Nil ends are open.
type Period struct {
	From *civil.Date `json:"from"`
	To   *civil.Date `json:"to"`
}

// Contains reports whether d falls within the period.
func (p Period) Contains(d civil.Date) bool {
	if p.From != nil && d.Before(*p.From) {
		return false
	}
	if p.To != nil && d.After(*p.To) {
		return false
	}
	return true
}

func (p Period) token() (string, string) {
	from, to := "-", "-"
	if p.From != nil {
		from = p.From.String()
	}
	if p.To != nil {
		to = p.To.String()
	}
	return from, to
}

// Summary holds the money totals shared by both statement kinds.
type Summary struct {
	TotalInvoiced money.Money `json:"total_invoiced"`
	TotalPaid     money.Money `json:"total_paid"`
	TotalPending  money.Money `json:"total_pending"`
	TotalOverdue  money.Money `json:"total_overdue"`
}

func newSummary() Summary {
	return Summary{
		TotalInvoiced: money.Zero(),
		TotalPaid:     money.Zero(),
		TotalPending:  money.Zero(),
		TotalOverdue:  money.Zero(),
	}
}

// Add folds one evaluated invoice into the totals. Cancelled invoices
// contribute nothing.
func (s Summary) Add(inv ledger.InvoiceDetail) Summary {
	b := inv.Balance
	if b.Status == ledger.StatusCancelled {
		return s
	}
	s.TotalInvoiced = s.TotalInvoiced.Add(inv.Amount)
	s.TotalPaid = s.TotalPaid.Add(b.Paid)
	if b.Status != ledger.StatusPaid {
		s.TotalPending = s.TotalPending.Add(b.Pending)
	}
	if b.Status == ledger.StatusOverdue {
		s.TotalOverdue = s.TotalOverdue.Add(b.Pending)
	}
	return s
}

// Merge sums two summaries.
func (s Summary) Merge(o Summary) Summary {
	return Summary{
		TotalInvoiced: s.TotalInvoiced.Add(o.TotalInvoiced),
		TotalPaid:     s.TotalPaid.Add(o.TotalPaid),
		TotalPending:  s.TotalPending.Add(o.TotalPending),
		TotalOverdue:  s.TotalOverdue.Add(o.TotalOverdue),
	}
}

// Summarize totals a set of evaluated invoices.
func Summarize(invoices []ledger.InvoiceDetail) Summary {
	sum := newSummary()
	for _, inv := range invoices {
		sum = sum.Add(inv)
	}
	return sum
}

// PaymentLine is one payment on a student statement.
type PaymentLine struct {
	Amount money.Money          `json:"amount"`
	Date   civil.Date           `json:"date"`
	Method ledger.PaymentMethod `json:"method"`
}

// StudentInvoiceLine is one invoice on a student statement.
type StudentInvoiceLine struct {
	ID            uuid.UUID            `json:"id"`
	Description   string               `json:"description"`
	Amount        money.Money          `json:"amount"`
	PaidAmount    money.Money          `json:"paid_amount"`
	PendingAmount money.Money          `json:"pending_amount"`
	Status        ledger.InvoiceStatus `json:"status"`
	DueDate       civil.Date           `json:"due_date"`
	Payments      []PaymentLine        `json:"payments"`
}

// StudentStatement is the account statement of one student.
type StudentStatement struct {
	StudentID   uuid.UUID            `json:"student_id"`
	StudentName string               `json:"student_name"`
	SchoolName  string               `json:"school_name"`
	Period      Period               `json:"period"`
	Summary     Summary              `json:"summary"`
	Invoices    []StudentInvoiceLine `json:"invoices"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// SchoolSummary extends Summary with roster counts.
type SchoolSummary struct {
	TotalStudents  int `json:"total_students"`
	ActiveStudents int `json:"active_students"`
	Summary
}

// SchoolInvoiceLine is one invoice on a school statement.
type SchoolInvoiceLine struct {
	ID            uuid.UUID            `json:"id"`
	StudentName   string               `json:"student_name"`
	Amount        money.Money          `json:"amount"`
	PaidAmount    money.Money          `json:"paid_amount"`
	PendingAmount money.Money          `json:"pending_amount"`
	Status        ledger.InvoiceStatus `json:"status"`
	DueDate       civil.Date           `json:"due_date"`
}

// SchoolStatement is the account statement of one school.
type SchoolStatement struct {
	SchoolID    uuid.UUID           `json:"school_id"`
	SchoolName  string              `json:"school_name"`
	Period      Period              `json:"period"`
	Summary     SchoolSummary       `json:"summary"`
	Invoices    []SchoolInvoiceLine `json:"invoices"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// BuildStudentStatement assembles a student statement from evaluated
// invoices. Invoices outside the period and cancelled invoices are left out.
func BuildStudentStatement(student roster.Student, schoolName string, invoices []ledger.InvoiceDetail, period Period, generatedAt time.Time) StudentStatement {
	kept := visible(invoices, period)
	lines := make([]StudentInvoiceLine, 0, len(kept))
	for _, inv := range kept {
		payments := make([]PaymentLine, 0, len(inv.Payments))
		for _, p := range inv.Payments {
			payments = append(payments, PaymentLine{Amount: p.Amount, Date: p.PaymentDate, Method: p.Method})
		}
		lines = append(lines, StudentInvoiceLine{
			ID:            inv.ID,
			Description:   inv.Description,
			Amount:        inv.Amount,
			PaidAmount:    inv.Balance.Paid,
			PendingAmount: inv.Balance.Pending,
			Status:        inv.Balance.Status,
			DueDate:       inv.DueDate,
			Payments:      payments,
		})
	}
	return StudentStatement{
		StudentID:   student.ID,
		StudentName: student.FullName(),
		SchoolName:  schoolName,
		Period:      period,
		Summary:     Summarize(kept),
		Invoices:    lines,
		GeneratedAt: generatedAt,
	}
}

// BuildSchoolStatement assembles a school statement. Totals are computed per
// student and then summed across students.
func BuildSchoolStatement(school roster.School, students []roster.Student, invoices []ledger.InvoiceDetail, period Period, generatedAt time.Time) SchoolStatement {
	kept := visible(invoices, period)

	byStudent := make(map[uuid.UUID][]ledger.InvoiceDetail)
	for _, inv := range kept {
		byStudent[inv.StudentID] = append(byStudent[inv.StudentID], inv)
	}

	summary := SchoolSummary{TotalStudents: len(students), Summary: newSummary()}
	for _, st := range students {
		if st.IsActive {
			summary.ActiveStudents++
		}
	}
	for _, group := range byStudent {
		summary.Summary = summary.Summary.Merge(Summarize(group))
	}

	names := make(map[uuid.UUID]string, len(students))
	for _, st := range students {
		names[st.ID] = st.FullName()
	}
	lines := make([]SchoolInvoiceLine, 0, len(kept))
	for _, inv := range kept {
		name := names[inv.StudentID]
		if name == "" {
			name = inv.StudentName
		}
		lines = append(lines, SchoolInvoiceLine{
			ID:            inv.ID,
			StudentName:   name,
			Amount:        inv.Amount,
			PaidAmount:    inv.Balance.Paid,
			PendingAmount: inv.Balance.Pending,
			Status:        inv.Balance.Status,
			DueDate:       inv.DueDate,
		})
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].DueDate != lines[j].DueDate {
			return lines[i].DueDate.Before(lines[j].DueDate)
		}
		return lines[i].StudentName < lines[j].StudentName
	})

	return SchoolStatement{
		SchoolID:    school.ID,
		SchoolName:  school.Name,
		Period:      period,
		Summary:     summary,
		Invoices:    lines,
		GeneratedAt: generatedAt,
	}
}

func visible(invoices []ledger.InvoiceDetail, period Period) []ledger.InvoiceDetail {
	out := make([]ledger.InvoiceDetail, 0, len(invoices))
	for _, inv := range invoices {
		if inv.Balance.Status == ledger.StatusCancelled || inv.Cancelled() {
			continue
		}
		if !period.Contains(inv.DueDate) {
			continue
		}
		out = append(out, inv)
	}
	return out
}
