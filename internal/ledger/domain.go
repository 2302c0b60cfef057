package ledger

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/school-billing/internal/money"
	"github.com/odyssey-erp/school-billing/internal/shared"
)

// InvoiceStatus enumerates invoice statuses.
type InvoiceStatus string

const (
	StatusPending   InvoiceStatus = "PENDING"
	StatusPartial   InvoiceStatus = "PARTIAL"
	StatusPaid      InvoiceStatus = "PAID"
	StatusOverdue   InvoiceStatus = "OVERDUE"
	StatusCancelled InvoiceStatus = "CANCELLED"
)

// Terminal reports whether the status rejects further state-changing input.
func (s InvoiceStatus) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// InvoiceType enumerates what an invoice bills for.
type InvoiceType string

const (
	TypeTuition    InvoiceType = "TUITION"
	TypeEnrollment InvoiceType = "ENROLLMENT"
	TypeFee        InvoiceType = "FEE"
	TypeCustom     InvoiceType = "CUSTOM"
)

// PaymentMethod enumerates accepted payment channels.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCreditCard   PaymentMethod = "CREDIT_CARD"
	MethodDebitCard    PaymentMethod = "DEBIT_CARD"
	MethodOther        PaymentMethod = "OTHER"
)

// Methods lists payment methods in display order.
var Methods = []PaymentMethod{MethodCash, MethodBankTransfer, MethodCreditCard, MethodDebitCard, MethodOther}

// MaxReferenceLength bounds the external payment reference.
const MaxReferenceLength = 255

var upper = cases.Upper(language.Und)

func normalizeEnum(raw string) string {
	s := upper.String(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// ParseInvoiceStatus accepts any casing. An empty value is returned as "".
func ParseInvoiceStatus(raw string) (InvoiceStatus, error) {
	s := InvoiceStatus(normalizeEnum(raw))
	switch s {
	case "", StatusPending, StatusPartial, StatusPaid, StatusOverdue, StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown invoice status %q", shared.ErrInvalidInput, raw)
}

// ParseInvoiceType accepts any casing; empty defaults to CUSTOM.
func ParseInvoiceType(raw string) (InvoiceType, error) {
	t := InvoiceType(normalizeEnum(raw))
	switch t {
	case "":
		return TypeCustom, nil
	case TypeTuition, TypeEnrollment, TypeFee, TypeCustom:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown invoice type %q", shared.ErrInvalidInput, raw)
}

// ParsePaymentMethod accepts any casing; empty defaults to CASH.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	m := PaymentMethod(normalizeEnum(raw))
	if m == "" {
		return MethodCash, nil
	}
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown payment method %q", shared.ErrInvalidInput, raw)
}

// Invoice is one billing obligation for one student.
type Invoice struct {
	ID            uuid.UUID
	StudentID     uuid.UUID
	BillingItemID *uuid.UUID
	Type          InvoiceType
	Amount        money.Money
	DueDate       civil.Date
	// Status is the stored denormalisation, rewritten on every ledger write.
	Status      InvoiceStatus
	Description string
	CancelledAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Cancelled reports the explicit cancellation flag.
func (i Invoice) Cancelled() bool {
	return i.CancelledAt != nil || i.Status == StatusCancelled
}

// Payment is an immutable amount applied against one invoice.
type Payment struct {
	ID          uuid.UUID
	InvoiceID   uuid.UUID
	Amount      money.Money
	PaymentDate civil.Date
	Method      PaymentMethod
	Reference   string
	CreatedAt   time.Time
}

// InvoiceDetail is an invoice with its payments, owner names and derived balance.
type InvoiceDetail struct {
	Invoice
	Payments    []Payment
	StudentName string
	SchoolID    uuid.UUID
	SchoolName  string
	Balance     Balance
}

// PaymentRecord is a payment with the owning invoice's student and school.
type PaymentRecord struct {
	Payment
	StudentID   uuid.UUID
	StudentName string
	SchoolID    uuid.UUID
	SchoolName  string
}

// ApplyPaymentInput carries one payment request.
type ApplyPaymentInput struct {
	InvoiceID   uuid.UUID
	Amount      money.Money
	PaymentDate *civil.Date
	Method      PaymentMethod
	Reference   string
	// IdempotencyKey, when set, is claimed in the payment transaction so a
	// committed payment is never applied twice under the same key.
	IdempotencyKey string
	// Fingerprint identifies the request body the key was first used with.
	Fingerprint string
}

// CreateInvoiceInput carries a new invoice.
type CreateInvoiceInput struct {
	StudentID     uuid.UUID
	BillingItemID *uuid.UUID
	Type          InvoiceType
	Amount        money.Money
	DueDate       civil.Date
	Description   string
}

// InvoiceFilter narrows invoice listings. Zero values are ignored.
type InvoiceFilter struct {
	StudentID uuid.UUID
	SchoolID  uuid.UUID
	// Status filters on the status derived for today, not the stored column.
	Status  InvoiceStatus
	DueFrom *civil.Date
	DueTo   *civil.Date
	Limit   int
	Offset  int
}

// PaymentFilter narrows payment listings. Zero values are ignored.
type PaymentFilter struct {
	InvoiceID uuid.UUID
	StudentID uuid.UUID
	SchoolID  uuid.UUID
	Method    PaymentMethod
	From      *civil.Date
	To        *civil.Date
	Limit     int
	Offset    int
}

// EventKind names a committed ledger write.
type EventKind string

const (
	EventInvoiceCreated   EventKind = "invoice_created"
	EventPaymentApplied   EventKind = "payment_applied"
	EventInvoiceCancelled EventKind = "invoice_cancelled"
)

// Event describes a committed ledger write to commit hooks.
type Event struct {
	Kind      EventKind
	InvoiceID uuid.UUID
	StudentID uuid.UUID
	Status    InvoiceStatus
	Payment   *Payment
	At        time.Time
}
