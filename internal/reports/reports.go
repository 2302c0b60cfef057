// Package reports projects read-only views over invoices and payments. Every
// projection is recomputed from ledger rows with the same derivation rules as
// statements.
package reports

import (
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/odyssey-erp/school-billing/internal/ledger"
	"github.com/odyssey-erp/school-billing/internal/money"
)

// OverdueRow is one overdue invoice.
type OverdueRow struct {
	InvoiceID     uuid.UUID   `json:"invoice_id"`
	StudentID     uuid.UUID   `json:"student_id"`
	StudentName   string      `json:"student_name"`
	SchoolID      uuid.UUID   `json:"school_id"`
	SchoolName    string      `json:"school_name"`
	Description   string      `json:"description"`
	Amount        money.Money `json:"amount"`
	PaidAmount    money.Money `json:"paid_amount"`
	PendingAmount money.Money `json:"pending_amount"`
	DueDate       civil.Date  `json:"due_date"`
	DaysOverdue   int         `json:"days_overdue"`
}

// Overdue keeps invoices whose derived status is OVERDUE, most overdue first.
func Overdue(invoices []ledger.InvoiceDetail) []OverdueRow {
	out := make([]OverdueRow, 0)
	for _, inv := range invoices {
		if inv.Balance.Status != ledger.StatusOverdue {
			continue
		}
		out = append(out, OverdueRow{
			InvoiceID:     inv.ID,
			StudentID:     inv.StudentID,
			StudentName:   inv.StudentName,
			SchoolID:      inv.SchoolID,
			SchoolName:    inv.SchoolName,
			Description:   inv.Description,
			Amount:        inv.Amount,
			PaidAmount:    inv.Balance.Paid,
			PendingAmount: inv.Balance.Pending,
			DueDate:       inv.DueDate,
			DaysOverdue:   inv.Balance.DaysOverdue,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DaysOverdue != out[j].DaysOverdue {
			return out[i].DaysOverdue > out[j].DaysOverdue
		}
		if c := out[i].PendingAmount.Cmp(out[j].PendingAmount); c != 0 {
			return c > 0
		}
		return out[i].InvoiceID.String() < out[j].InvoiceID.String()
	})
	return out
}

// DailyCollection totals payments received by one school on one day.
type DailyCollection struct {
	Date         civil.Date                           `json:"date"`
	SchoolID     uuid.UUID                            `json:"school_id"`
	SchoolName   string                               `json:"school_name"`
	PaymentCount int                                  `json:"payment_count"`
	Total        money.Money                          `json:"total"`
	ByMethod     map[ledger.PaymentMethod]money.Money `json:"by_method"`
}

// DailyCollections groups payments by payment date and school, newest day first.
func DailyCollections(payments []ledger.PaymentRecord) []DailyCollection {
	type key struct {
		date   civil.Date
		school uuid.UUID
	}
	groups := make(map[key]*DailyCollection)
	for _, p := range payments {
		k := key{date: p.PaymentDate, school: p.SchoolID}
		g, ok := groups[k]
		if !ok {
			g = &DailyCollection{
				Date:       p.PaymentDate,
				SchoolID:   p.SchoolID,
				SchoolName: p.SchoolName,
				Total:      money.Zero(),
				ByMethod:   make(map[ledger.PaymentMethod]money.Money),
			}
			groups[k] = g
		}
		g.PaymentCount++
		g.Total = g.Total.Add(p.Amount)
		g.ByMethod[p.Method] = g.ByMethod[p.Method].Add(p.Amount)
	}

	out := make([]DailyCollection, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].SchoolName < out[j].SchoolName
	})
	return out
}

// MonthlyRevenue summarises one school's payments within one calendar month.
type MonthlyRevenue struct {
	Month                string      `json:"month"`
	SchoolID             uuid.UUID   `json:"school_id"`
	SchoolName           string      `json:"school_name"`
	StudentsWithPayments int         `json:"students_with_payments"`
	PaymentCount         int         `json:"payment_count"`
	Total                money.Money `json:"total"`
	Average              money.Money `json:"average"`
	Min                  money.Money `json:"min"`
	Max                  money.Money `json:"max"`
}

// MonthKey formats the calendar month of d as YYYY-MM.
func MonthKey(d civil.Date) string {
	return fmt.Sprintf("%04d-%02d", d.Year, int(d.Month))
}

// MonthlyRevenues groups payments by calendar month and school, newest month first.
func MonthlyRevenues(payments []ledger.PaymentRecord) []MonthlyRevenue {
	type key struct {
		month  string
		school uuid.UUID
	}
	groups := make(map[key]*MonthlyRevenue)
	students := make(map[key]map[uuid.UUID]struct{})
	for _, p := range payments {
		k := key{month: MonthKey(p.PaymentDate), school: p.SchoolID}
		g, ok := groups[k]
		if !ok {
			g = &MonthlyRevenue{
				Month:      k.month,
				SchoolID:   p.SchoolID,
				SchoolName: p.SchoolName,
				Total:      money.Zero(),
				Min:        p.Amount,
				Max:        p.Amount,
			}
			groups[k] = g
			students[k] = make(map[uuid.UUID]struct{})
		}
		g.PaymentCount++
		g.Total = g.Total.Add(p.Amount)
		g.Min = money.Min(g.Min, p.Amount)
		g.Max = money.Max(g.Max, p.Amount)
		students[k][p.StudentID] = struct{}{}
	}

	out := make([]MonthlyRevenue, 0, len(groups))
	for k, g := range groups {
		g.StudentsWithPayments = len(students[k])
		g.Average = g.Total.Div(int64(g.PaymentCount))
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Month != out[j].Month {
			return out[i].Month > out[j].Month
		}
		return out[i].SchoolName < out[j].SchoolName
	})
	return out
}

// StudentBalance is the position of one student across all invoices.
type StudentBalance struct {
	StudentID     uuid.UUID                    `json:"student_id"`
	StudentName   string                       `json:"student_name"`
	SchoolID      uuid.UUID                    `json:"school_id"`
	SchoolName    string                       `json:"school_name"`
	InvoiceCount  int                          `json:"invoice_count"`
	TotalInvoiced money.Money                  `json:"total_invoiced"`
	TotalPaid     money.Money                  `json:"total_paid"`
	TotalPending  money.Money                  `json:"total_pending"`
	TotalOverdue  money.Money                  `json:"total_overdue"`
	ByStatus      map[ledger.InvoiceStatus]int `json:"by_status"`
}

// StudentBalances totals invoices per student. Cancelled invoices are counted
// by status but excluded from every money total.
func StudentBalances(invoices []ledger.InvoiceDetail) []StudentBalance {
	groups := make(map[uuid.UUID]*StudentBalance)
	for _, inv := range invoices {
		g, ok := groups[inv.StudentID]
		if !ok {
			g = &StudentBalance{
				StudentID:     inv.StudentID,
				StudentName:   inv.StudentName,
				SchoolID:      inv.SchoolID,
				SchoolName:    inv.SchoolName,
				TotalInvoiced: money.Zero(),
				TotalPaid:     money.Zero(),
				TotalPending:  money.Zero(),
				TotalOverdue:  money.Zero(),
				ByStatus:      make(map[ledger.InvoiceStatus]int),
			}
			groups[inv.StudentID] = g
		}
		g.InvoiceCount++
		status := inv.Balance.Status
		g.ByStatus[status]++
		if status == ledger.StatusCancelled {
			continue
		}
		g.TotalInvoiced = g.TotalInvoiced.Add(inv.Amount)
		g.TotalPaid = g.TotalPaid.Add(inv.Balance.Paid)
		if status != ledger.StatusPaid {
			g.TotalPending = g.TotalPending.Add(inv.Balance.Pending)
		}
		if status == ledger.StatusOverdue {
			g.TotalOverdue = g.TotalOverdue.Add(inv.Balance.Pending)
		}
	}

	out := make([]StudentBalance, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TotalPending.Cmp(out[j].TotalPending); c != 0 {
			return c > 0
		}
		if out[i].StudentName != out[j].StudentName {
			return out[i].StudentName < out[j].StudentName
		}
		return out[i].StudentID.String() < out[j].StudentID.String()
	})
	return out
}

// SchoolSummary is the financial position of one school across its invoices.
type SchoolSummary struct {
	SchoolID          uuid.UUID   `json:"school_id"`
	SchoolName        string      `json:"school_name"`
	Students          int         `json:"students"`
	InvoiceCount      int         `json:"invoice_count"`
	TotalInvoiced     money.Money `json:"total_invoiced"`
	TotalPaid         money.Money `json:"total_paid"`
	TotalPending      money.Money `json:"total_pending"`
	TotalOverdue      money.Money `json:"total_overdue"`
	PendingInvoices   int         `json:"pending_invoices"`
	OverdueInvoices   int         `json:"overdue_invoices"`
	PaidInvoices      int         `json:"paid_invoices"`
	CancelledInvoices int         `json:"cancelled_invoices"`
}

// SchoolSummaries totals invoices per school, ordered by school name.
// Students counts distinct invoiced students. Cancelled invoices only
// contribute to CancelledInvoices.
func SchoolSummaries(invoices []ledger.InvoiceDetail) []SchoolSummary {
	groups := make(map[uuid.UUID]*SchoolSummary)
	students := make(map[uuid.UUID]map[uuid.UUID]struct{})
	for _, inv := range invoices {
		g, ok := groups[inv.SchoolID]
		if !ok {
			g = &SchoolSummary{
				SchoolID:      inv.SchoolID,
				SchoolName:    inv.SchoolName,
				TotalInvoiced: money.Zero(),
				TotalPaid:     money.Zero(),
				TotalPending:  money.Zero(),
				TotalOverdue:  money.Zero(),
			}
			groups[inv.SchoolID] = g
			students[inv.SchoolID] = make(map[uuid.UUID]struct{})
		}
		students[inv.SchoolID][inv.StudentID] = struct{}{}
		status := inv.Balance.Status
		if status == ledger.StatusCancelled {
			g.CancelledInvoices++
			continue
		}
		g.InvoiceCount++
		g.TotalInvoiced = g.TotalInvoiced.Add(inv.Amount)
		g.TotalPaid = g.TotalPaid.Add(inv.Balance.Paid)
		switch status {
		case ledger.StatusPaid:
			g.PaidInvoices++
		case ledger.StatusOverdue:
			g.OverdueInvoices++
			g.TotalOverdue = g.TotalOverdue.Add(inv.Balance.Pending)
			g.TotalPending = g.TotalPending.Add(inv.Balance.Pending)
		default:
			g.PendingInvoices++
			g.TotalPending = g.TotalPending.Add(inv.Balance.Pending)
		}
	}

	out := make([]SchoolSummary, 0, len(groups))
	for id, g := range groups {
		g.Students = len(students[id])
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SchoolName != out[j].SchoolName {
			return out[i].SchoolName < out[j].SchoolName
		}
		return out[i].SchoolID.String() < out[j].SchoolID.String()
	})
	return out
}
