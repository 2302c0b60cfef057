package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/odyssey-erp/school-billing/internal/money"
	"github.com/odyssey-erp/school-billing/internal/shared"
)

// RepositoryPort defines data access methods for the ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id uuid.UUID) (InvoiceDetail, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]InvoiceDetail, error)
	InvoiceExists(ctx context.Context, id uuid.UUID) (bool, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]PaymentRecord, error)
	GetPayment(ctx context.Context, id uuid.UUID) (PaymentRecord, error)
}

// TxRepository exposes the writes that must share one transaction.
type TxRepository interface {
	// LockInvoice loads the invoice and holds its row lock until the
	// transaction ends, serialising writers per invoice.
	LockInvoice(ctx context.Context, id uuid.UUID) (Invoice, error)
	InvoicePayments(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error)
	InsertPayment(ctx context.Context, p Payment) error
	SetInvoiceStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus, cancelledAt *time.Time, updatedAt time.Time) error
	StudentExists(ctx context.Context, id uuid.UUID) (bool, error)
	InsertInvoice(ctx context.Context, inv Invoice) error
	// ClaimIdempotencyKey records key for module. A key already committed
	// returns shared.ErrIdempotencyConflict, or shared.ErrIdempotencyMismatch
	// when it was stored with another fingerprint.
	ClaimIdempotencyKey(ctx context.Context, module, key, fingerprint string) error
}

// IdempotencyModule scopes payment idempotency keys.
const IdempotencyModule = "payments"

// CommitHook receives committed ledger writes. Errors are logged and never
// undo the commit.
type CommitHook interface {
	HandleLedgerEvent(ctx context.Context, evt Event) error
}

// CommitHookFunc adapts a function to CommitHook.
type CommitHookFunc func(ctx context.Context, evt Event) error

// HandleLedgerEvent implements CommitHook.
func (f CommitHookFunc) HandleLedgerEvent(ctx context.Context, evt Event) error { return f(ctx, evt) }

// PaymentObserver records payment outcomes.
type PaymentObserver interface {
	ObservePayment(outcome string, elapsed time.Duration)
}

// ServiceConfig tunes the service.
type ServiceConfig struct {
	// MaxAttempts bounds transaction retries on concurrency conflicts.
	MaxAttempts int
	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration
	Now          func() time.Time
	// Location decides which calendar day "today" is.
	Location *time.Location
	Logger   *slog.Logger
	Hooks    []CommitHook
	Observer PaymentObserver
}

// Service handles ledger business logic.
type Service struct {
	repo        RepositoryPort
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
	loc         *time.Location
	logger      *slog.Logger
	hooks       []CommitHook
	observer    PaymentObserver
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	s := &Service{
		repo:        repo,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.RetryBackoff,
		now:         cfg.Now,
		loc:         cfg.Location,
		logger:      cfg.Logger,
		hooks:       cfg.Hooks,
		observer:    cfg.Observer,
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 3
	}
	if s.backoff <= 0 {
		s.backoff = 20 * time.Millisecond
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// AddHook registers a commit hook.
func (s *Service) AddHook(h CommitHook) {
	s.hooks = append(s.hooks, h)
}

// Today returns the calendar date statuses are derived against.
func (s *Service) Today() civil.Date {
	return civil.DateOf(s.now().In(s.loc))
}

// PaymentResult is the outcome of a successful ApplyPayment.
type PaymentResult struct {
	Payment Payment
	Invoice Invoice
	Balance Balance
}

// ApplyPayment validates and records one payment against one invoice. The
// checks and both writes run in a single transaction holding the invoice lock.
func (s *Service) ApplyPayment(ctx context.Context, in ApplyPaymentInput) (PaymentResult, error) {
	started := s.now()
	if !in.Amount.InRange() {
		s.observe(ErrAmountRange, 0)
		return PaymentResult{}, ErrAmountRange
	}
	var result PaymentResult
	err := s.retry(ctx, "apply_payment", func() error {
		var err error
		result, err = s.applyPaymentOnce(ctx, in)
		return err
	})
	s.observe(err, s.now().Sub(started))
	if err != nil {
		return PaymentResult{}, err
	}

	s.logger.Info("payment applied",
		slog.String("invoice_id", result.Invoice.ID.String()),
		slog.String("payment_id", result.Payment.ID.String()),
		slog.String("amount", result.Payment.Amount.String()),
		slog.String("status", string(result.Balance.Status)),
	)
	payment := result.Payment
	s.notify(ctx, Event{
		Kind:      EventPaymentApplied,
		InvoiceID: result.Invoice.ID,
		StudentID: result.Invoice.StudentID,
		Status:    result.Balance.Status,
		Payment:   &payment,
		At:        payment.CreatedAt,
	})
	return result, nil
}

func (s *Service) applyPaymentOnce(ctx context.Context, in ApplyPaymentInput) (PaymentResult, error) {
	var result PaymentResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, IdempotencyModule, in.IdempotencyKey, in.Fingerprint); err != nil {
				return err
			}
		}
		inv, err := tx.LockInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Cancelled() {
			return ErrInvoiceCancelled
		}
		payments, err := tx.InvoicePayments(ctx, inv.ID)
		if err != nil {
			return err
		}
		paid := PaidAmount(payments)
		today := s.Today()
		if DeriveStatus(inv, paid, today) == StatusPaid {
			return ErrInvoiceSettled
		}
		if !in.Amount.IsPositive() {
			return ErrNonPositiveAmount
		}
		if !in.Amount.HasValidScale() {
			return ErrAmountScale
		}
		method, err := ParsePaymentMethod(string(in.Method))
		if err != nil {
			return err
		}
		if utf8.RuneCountInString(in.Reference) > MaxReferenceLength {
			return ErrReferenceTooLong
		}
		pending := PendingAmount(inv, paid)
		if in.Amount.GreaterThan(pending) {
			return fmt.Errorf("%w: amount %s exceeds pending %s", ErrOverpayment, in.Amount, pending)
		}

		now := s.now().UTC()
		payment := Payment{
			ID:          uuid.New(),
			InvoiceID:   inv.ID,
			Amount:      in.Amount,
			PaymentDate: today,
			Method:      method,
			Reference:   in.Reference,
			CreatedAt:   now,
		}
		if in.PaymentDate != nil {
			payment.PaymentDate = *in.PaymentDate
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		payments = append(payments, payment)
		balance := Evaluate(inv, payments, today)
		if err := tx.SetInvoiceStatus(ctx, inv.ID, balance.Status, nil, now); err != nil {
			return err
		}
		inv.Status = balance.Status
		inv.UpdatedAt = now
		result = PaymentResult{Payment: payment, Invoice: inv, Balance: balance}
		return nil
	})
	return result, err
}

// CreateInvoice records a new invoice for an existing student.
func (s *Service) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (InvoiceDetail, error) {
	if !in.Amount.IsPositive() {
		return InvoiceDetail{}, ErrNonPositiveAmount
	}
	if !in.Amount.HasValidScale() {
		return InvoiceDetail{}, ErrAmountScale
	}
	if !in.Amount.InRange() {
		return InvoiceDetail{}, ErrAmountRange
	}
	if !in.DueDate.IsValid() {
		return InvoiceDetail{}, ErrDueDateRequired
	}
	typ, err := ParseInvoiceType(string(in.Type))
	if err != nil {
		return InvoiceDetail{}, err
	}

	now := s.now().UTC()
	inv := Invoice{
		ID:            uuid.New(),
		StudentID:     in.StudentID,
		BillingItemID: in.BillingItemID,
		Type:          typ,
		Amount:        in.Amount,
		DueDate:       in.DueDate,
		Description:   in.Description,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	inv.Status = DeriveStatus(inv, money.Zero(), s.Today())

	err = s.retry(ctx, "create_invoice", func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			ok, err := tx.StudentExists(ctx, in.StudentID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrStudentNotFound
			}
			return tx.InsertInvoice(ctx, inv)
		})
	})
	if err != nil {
		return InvoiceDetail{}, err
	}

	s.logger.Info("invoice created",
		slog.String("invoice_id", inv.ID.String()),
		slog.String("student_id", inv.StudentID.String()),
		slog.String("amount", inv.Amount.String()),
	)
	s.notify(ctx, Event{Kind: EventInvoiceCreated, InvoiceID: inv.ID, StudentID: inv.StudentID, Status: inv.Status, At: now})
	return InvoiceDetail{Invoice: inv, Balance: Evaluate(inv, nil, s.Today())}, nil
}

// CancelInvoice moves an invoice to the terminal CANCELLED status. Payments
// already recorded are kept.
func (s *Service) CancelInvoice(ctx context.Context, id uuid.UUID) (Invoice, error) {
	var inv Invoice
	err := s.retry(ctx, "cancel_invoice", func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			inv, err = tx.LockInvoice(ctx, id)
			if err != nil {
				return err
			}
			if inv.Cancelled() {
				return ErrAlreadyCancelled
			}
			payments, err := tx.InvoicePayments(ctx, id)
			if err != nil {
				return err
			}
			if DeriveStatus(inv, PaidAmount(payments), s.Today()) == StatusPaid {
				return ErrInvoiceSettled
			}
			now := s.now().UTC()
			if err := tx.SetInvoiceStatus(ctx, id, StatusCancelled, &now, now); err != nil {
				return err
			}
			inv.Status = StatusCancelled
			inv.CancelledAt = &now
			inv.UpdatedAt = now
			return nil
		})
	})
	if err != nil {
		return Invoice{}, err
	}

	s.logger.Info("invoice cancelled", slog.String("invoice_id", id.String()))
	s.notify(ctx, Event{Kind: EventInvoiceCancelled, InvoiceID: inv.ID, StudentID: inv.StudentID, Status: StatusCancelled, At: inv.UpdatedAt})
	return inv, nil
}

// GetInvoice returns an invoice with payments and its balance as of today.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (InvoiceDetail, error) {
	detail, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return InvoiceDetail{}, err
	}
	detail.Balance = Evaluate(detail.Invoice, detail.Payments, s.Today())
	return detail, nil
}

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}

// ListInvoices returns invoices with balances derived for today. A status
// filter matches the derived status.
func (s *Service) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]InvoiceDetail, error) {
	status := filter.Status
	limit, offset := clampLimit(filter.Limit), filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := filter
	query.Status = ""
	query.Limit, query.Offset = limit, offset
	if status != "" {
		// Derived statuses cannot be paginated in SQL.
		query.Limit, query.Offset = 0, 0
	}

	rows, err := s.repo.ListInvoices(ctx, query)
	if err != nil {
		return nil, err
	}
	today := s.Today()
	out := make([]InvoiceDetail, 0, len(rows))
	for _, row := range rows {
		row.Balance = Evaluate(row.Invoice, row.Payments, today)
		if status != "" && row.Balance.Status != status {
			continue
		}
		out = append(out, row)
	}
	if status != "" {
		out = paginate(out, limit, offset)
	}
	return out, nil
}

// EvaluateAll loads every invoice matching filter, ignoring pagination, with
// balances derived for today. Aggregations use it.
func (s *Service) EvaluateAll(ctx context.Context, filter InvoiceFilter) ([]InvoiceDetail, error) {
	filter.Limit, filter.Offset = 0, 0
	status := filter.Status
	filter.Status = ""
	rows, err := s.repo.ListInvoices(ctx, filter)
	if err != nil {
		return nil, err
	}
	today := s.Today()
	out := rows[:0]
	for _, row := range rows {
		row.Balance = Evaluate(row.Invoice, row.Payments, today)
		if status != "" && row.Balance.Status != status {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// ListPayments lists payments. Listing by invoice requires the invoice to exist.
func (s *Service) ListPayments(ctx context.Context, filter PaymentFilter) ([]PaymentRecord, error) {
	if filter.InvoiceID != uuid.Nil {
		ok, err := s.repo.InvoiceExists(ctx, filter.InvoiceID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInvoiceNotFound
		}
	}
	if filter.Method != "" {
		method, err := ParsePaymentMethod(string(filter.Method))
		if err != nil {
			return nil, err
		}
		filter.Method = method
	}
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListPayments(ctx, filter)
}

// GetPayment returns one payment with its student and school.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (PaymentRecord, error) {
	return s.repo.GetPayment(ctx, id)
}

// CollectPayments loads every payment matching filter, ignoring pagination.
func (s *Service) CollectPayments(ctx context.Context, filter PaymentFilter) ([]PaymentRecord, error) {
	filter.Limit, filter.Offset = 0, 0
	return s.repo.ListPayments(ctx, filter)
}

func (s *Service) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, shared.ErrConcurrencyConflict) {
			return err
		}
		if attempt == s.maxAttempts {
			break
		}
		s.logger.Warn("ledger transaction conflict, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		timer := time.NewTimer(time.Duration(attempt) * s.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func (s *Service) notify(ctx context.Context, evt Event) {
	for _, h := range s.hooks {
		if err := h.HandleLedgerEvent(ctx, evt); err != nil {
			s.logger.Warn("ledger commit hook failed",
				slog.String("event", string(evt.Kind)),
				slog.String("invoice_id", evt.InvoiceID.String()),
				slog.Any("error", err),
			)
		}
	}
}

// Payment outcomes reported to the observer.
const (
	OutcomeApplied  = "applied"
	OutcomeNotFound = "not_found"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeApplied
	case errors.Is(err, shared.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, shared.ErrInvalidInput), errors.Is(err, shared.ErrInvalidState),
		errors.Is(err, shared.ErrIdempotencyConflict), errors.Is(err, shared.ErrIdempotencyMismatch):
		return OutcomeRejected
	case errors.Is(err, shared.ErrConcurrencyConflict):
		return OutcomeConflict
	default:
		return OutcomeError
	}
}

func (s *Service) observe(err error, elapsed time.Duration) {
	if s.observer != nil {
		s.observer.ObservePayment(outcomeOf(err), elapsed)
	}
}
