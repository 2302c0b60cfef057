package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/school-billing/internal/money"
	"github.com/odyssey-erp/school-billing/internal/platform/httpx"
	"github.com/odyssey-erp/school-billing/internal/shared"
)

// IdempotencyHeader carries the client-supplied dedup token for payments.
const IdempotencyHeader = "Idempotency-Key"

const maxIdempotencyKeyLength = 255

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// Handler manages ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	// paymentLimiter wraps the payment route, typically an httprate limiter.
	paymentLimiter func(http.Handler) http.Handler
}

// NewHandler builds Handler instance. paymentLimiter may be nil.
func NewHandler(logger *slog.Logger, service *Service, paymentLimiter func(http.Handler) http.Handler) *Handler {
	if paymentLimiter == nil {
		paymentLimiter = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{
		logger:         logger,
		service:        service,
		validator:      validator.New(),
		paymentLimiter: paymentLimiter,
	}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.listInvoices)
		r.Post("/", h.createInvoice)
		r.Get("/{id}", h.getInvoice)
		r.Post("/{id}/cancel", h.cancelInvoice)
		r.Get("/{id}/payments", h.listInvoicePayments)
		r.With(h.paymentLimiter).Post("/{id}/payments", h.applyPayment)
	})
	r.Get("/payments", h.listPayments)
	r.Get("/payments/{id}", h.getPayment)
}

type createInvoiceRequest struct {
	StudentID     string      `json:"student_id" validate:"required,uuid"`
	BillingItemID string      `json:"billing_item_id" validate:"omitempty,uuid"`
	Type          string      `json:"invoice_type" validate:"omitempty,max=20"`
	Amount        money.Money `json:"amount"`
	DueDate       civil.Date  `json:"due_date"`
	Description   string      `json:"description" validate:"max=2000"`
}

type applyPaymentRequest struct {
	Amount      money.Money `json:"amount"`
	PaymentDate *civil.Date `json:"payment_date"`
	Method      string      `json:"method" validate:"omitempty,max=20"`
	Reference   string      `json:"reference" validate:"max=255"`
}

type paymentResponse struct {
	ID          uuid.UUID     `json:"id"`
	InvoiceID   uuid.UUID     `json:"invoice_id"`
	Amount      money.Money   `json:"amount"`
	PaymentDate civil.Date    `json:"payment_date"`
	Method      PaymentMethod `json:"method"`
	Reference   string        `json:"reference,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

type paymentRecordResponse struct {
	paymentResponse
	StudentID   uuid.UUID `json:"student_id"`
	StudentName string    `json:"student_name"`
	SchoolID    uuid.UUID `json:"school_id"`
	SchoolName  string    `json:"school_name"`
}

type invoiceResponse struct {
	ID            uuid.UUID         `json:"id"`
	StudentID     uuid.UUID         `json:"student_id"`
	StudentName   string            `json:"student_name,omitempty"`
	SchoolID      *uuid.UUID        `json:"school_id,omitempty"`
	SchoolName    string            `json:"school_name,omitempty"`
	BillingItemID *uuid.UUID        `json:"billing_item_id,omitempty"`
	Type          InvoiceType       `json:"invoice_type"`
	Amount        money.Money       `json:"amount"`
	PaidAmount    money.Money       `json:"paid_amount"`
	PendingAmount money.Money       `json:"pending_amount"`
	Status        InvoiceStatus     `json:"status"`
	DaysOverdue   int               `json:"days_overdue"`
	DueDate       civil.Date        `json:"due_date"`
	Description   string            `json:"description"`
	CancelledAt   *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Payments      []paymentResponse `json:"payments,omitempty"`
}

type paymentResultResponse struct {
	Payment paymentResponse `json:"payment"`
	Invoice invoiceResponse `json:"invoice"`
}

func toPaymentResponse(p Payment) paymentResponse {
	return paymentResponse{
		ID:          p.ID,
		InvoiceID:   p.InvoiceID,
		Amount:      p.Amount,
		PaymentDate: p.PaymentDate,
		Method:      p.Method,
		Reference:   p.Reference,
		CreatedAt:   p.CreatedAt,
	}
}

func toInvoiceResponse(d InvoiceDetail) invoiceResponse {
	resp := invoiceResponse{
		ID:            d.ID,
		StudentID:     d.StudentID,
		StudentName:   d.StudentName,
		SchoolName:    d.SchoolName,
		BillingItemID: d.BillingItemID,
		Type:          d.Type,
		Amount:        d.Amount,
		PaidAmount:    d.Balance.Paid,
		PendingAmount: d.Balance.Pending,
		Status:        d.Balance.Status,
		DaysOverdue:   d.Balance.DaysOverdue,
		DueDate:       d.DueDate,
		Description:   d.Description,
		CancelledAt:   d.CancelledAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	if d.SchoolID != uuid.Nil {
		schoolID := d.SchoolID
		resp.SchoolID = &schoolID
	}
	for _, p := range d.Payments {
		resp.Payments = append(resp.Payments, toPaymentResponse(p))
	}
	return resp
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	in := CreateInvoiceInput{
		StudentID:   uuid.MustParse(req.StudentID),
		Type:        InvoiceType(req.Type),
		Amount:      req.Amount,
		DueDate:     req.DueDate,
		Description: req.Description,
	}
	if req.BillingItemID != "" {
		id := uuid.MustParse(req.BillingItemID)
		in.BillingItemID = &id
	}

	detail, err := h.service.CreateInvoice(r.Context(), in)
	if err != nil {
		h.fail(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toInvoiceResponse(detail))
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(detail))
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	filter, err := invoiceFilterFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.ListInvoices(r.Context(), filter)
	if err != nil {
		h.fail(w, "list invoices", err)
		return
	}
	out := make([]invoiceResponse, 0, len(rows))
	for _, row := range rows {
		resp := toInvoiceResponse(row)
		resp.Payments = nil
		out = append(out, resp)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": out, "count": len(out)})
}

func invoiceFilterFromQuery(r *http.Request) (InvoiceFilter, error) {
	var (
		filter InvoiceFilter
		err    error
	)
	if filter.StudentID, err = httpx.UUIDQuery(r, "student_id"); err != nil {
		return filter, err
	}
	if filter.SchoolID, err = httpx.UUIDQuery(r, "school_id"); err != nil {
		return filter, err
	}
	if filter.Status, err = ParseInvoiceStatus(r.URL.Query().Get("status")); err != nil {
		return filter, err
	}
	if filter.DueFrom, filter.DueTo, err = httpx.Period(r); err != nil {
		return filter, err
	}
	if filter.Limit, err = httpx.IntQuery(r, "limit", 0); err != nil {
		return filter, err
	}
	if filter.Offset, err = httpx.IntQuery(r, "offset", 0); err != nil {
		return filter, err
	}
	return filter, nil
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if _, err := h.service.CancelInvoice(r.Context(), id); err != nil {
		h.fail(w, "cancel invoice", err)
		return
	}
	detail, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(detail))
}

func (h *Handler) applyPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var req applyPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	in := ApplyPaymentInput{
		InvoiceID:   id,
		Amount:      req.Amount,
		PaymentDate: req.PaymentDate,
		Method:      PaymentMethod(req.Method),
		Reference:   req.Reference,
	}
	if key := r.Header.Get(IdempotencyHeader); key != "" {
		if len(key) > maxIdempotencyKeyLength {
			httpx.RespondError(w, fmt.Errorf("%w: %s exceeds %d bytes", httpx.ErrValidation, IdempotencyHeader, maxIdempotencyKeyLength))
			return
		}
		in.IdempotencyKey = key
		in.Fingerprint = shared.Fingerprint([]byte(r.Method), []byte(r.URL.Path), body)
	}

	result, err := h.service.ApplyPayment(r.Context(), in)
	if err != nil {
		h.fail(w, "apply payment", err)
		return
	}

	detail, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		// The payment is committed; fall back to the write-time view.
		detail = InvoiceDetail{Invoice: result.Invoice, Balance: result.Balance}
	}
	httpx.JSON(w, http.StatusCreated, paymentResultResponse{
		Payment: toPaymentResponse(result.Payment),
		Invoice: toInvoiceResponse(detail),
	})
}

func (h *Handler) listInvoicePayments(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.writePayments(w, r, PaymentFilter{InvoiceID: id})
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	var (
		filter PaymentFilter
		err    error
	)
	if filter.InvoiceID, err = httpx.UUIDQuery(r, "invoice_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.StudentID, err = httpx.UUIDQuery(r, "student_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.SchoolID, err = httpx.UUIDQuery(r, "school_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Method = PaymentMethod(r.URL.Query().Get("method"))
	if filter.From, filter.To, err = httpx.Period(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.writePayments(w, r, filter)
}

func (h *Handler) writePayments(w http.ResponseWriter, r *http.Request, filter PaymentFilter) {
	var err error
	if filter.Limit, err = httpx.IntQuery(r, "limit", 0); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Offset, err = httpx.IntQuery(r, "offset", 0); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.ListPayments(r.Context(), filter)
	if err != nil {
		h.fail(w, "list payments", err)
		return
	}
	out := make([]paymentRecordResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toPaymentRecordResponse(row))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": out, "count": len(out)})
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		h.fail(w, "get payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPaymentRecordResponse(rec))
}

func toPaymentRecordResponse(rec PaymentRecord) paymentRecordResponse {
	return paymentRecordResponse{
		paymentResponse: toPaymentResponse(rec.Payment),
		StudentID:       rec.StudentID,
		StudentName:     rec.StudentName,
		SchoolID:        rec.SchoolID,
		SchoolName:      rec.SchoolName,
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.Kind(err) == nil && !errors.Is(err, httpx.ErrValidation) &&
		!errors.Is(err, shared.ErrIdempotencyConflict) && !errors.Is(err, shared.ErrIdempotencyMismatch) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
