package ledger

import (
	"cloud.google.com/go/civil"

	"github.com/odyssey-erp/school-billing/internal/money"
)

// Balance is the derived financial position of one invoice on a given day.
type Balance struct {
	Paid        money.Money   `json:"paid_amount"`
	Pending     money.Money   `json:"pending_amount"`
	Status      InvoiceStatus `json:"status"`
	DaysOverdue int           `json:"days_overdue"`
}

// PaidAmount sums the payments recorded against an invoice.
func PaidAmount(payments []Payment) money.Money {
	paid := money.Zero()
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	return paid
}

// PendingAmount is principal minus paid.
func PendingAmount(inv Invoice, paid money.Money) money.Money {
	return inv.Amount.Sub(paid)
}

// DeriveStatus applies the status rules in order: cancellation, settlement,
// lateness, partial payment, otherwise pending.
func DeriveStatus(inv Invoice, paid money.Money, today civil.Date) InvoiceStatus {
	switch {
	case inv.Cancelled():
		return StatusCancelled
	case paid.Cmp(inv.Amount) >= 0:
		return StatusPaid
	case today.After(inv.DueDate):
		return StatusOverdue
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}

// DaysOverdue returns whole days past due for an overdue invoice, else 0.
func DaysOverdue(inv Invoice, status InvoiceStatus, today civil.Date) int {
	if status != StatusOverdue {
		return 0
	}
	if days := today.DaysSince(inv.DueDate); days > 0 {
		return days
	}
	return 0
}

// Evaluate derives the balance of inv from its payments as of today.
func Evaluate(inv Invoice, payments []Payment, today civil.Date) Balance {
	paid := PaidAmount(payments)
	status := DeriveStatus(inv, paid, today)
	return Balance{
		Paid:        paid,
		Pending:     PendingAmount(inv, paid),
		Status:      status,
		DaysOverdue: DaysOverdue(inv, status, today),
	}
}
