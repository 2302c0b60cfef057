package ledger

import "github.com/odyssey-erp/school-billing/internal/shared"

var (
	ErrInvoiceNotFound   = shared.NewError(shared.ErrNotFound, "invoice not found")
	ErrStudentNotFound   = shared.NewError(shared.ErrNotFound, "student not found")
	ErrPaymentNotFound   = shared.NewError(shared.ErrNotFound, "payment not found")
	ErrInvoiceCancelled  = shared.NewError(shared.ErrInvalidState, "cannot pay a cancelled invoice")
	ErrInvoiceSettled    = shared.NewError(shared.ErrInvalidState, "invoice already settled")
	ErrAlreadyCancelled  = shared.NewError(shared.ErrInvalidState, "invoice already cancelled")
	ErrNonPositiveAmount = shared.NewError(shared.ErrInvalidInput, "amount must be greater than zero")
	ErrAmountScale       = shared.NewError(shared.ErrInvalidInput, "amount must have at most two decimal places")
	ErrAmountRange       = shared.NewError(shared.ErrInvalidInput, "amount exceeds the supported range")
	ErrOverpayment       = shared.NewError(shared.ErrInvalidInput, "overpayment rejected")
	ErrDueDateRequired   = shared.NewError(shared.ErrInvalidInput, "due date is required")
	ErrReferenceTooLong  = shared.NewError(shared.ErrInvalidInput, "reference exceeds 255 characters")
)
