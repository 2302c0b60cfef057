package ledger

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, fixture) {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.service, nil)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r, f
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerApplyPayment(t *testing.T) {
	router, f := newTestRouter(t)
	inv := f.invoice(t, "500.00", date(2024, time.April, 1))

	rec := do(t, router, http.MethodPost, "/invoices/"+inv.ID.String()+"/payments",
		`{"amount":"200.00","method":"bank_transfer","reference":"TRX-9"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		Payment struct {
			Amount      string `json:"amount"`
			Method      string `json:"method"`
			PaymentDate string `json:"payment_date"`
		} `json:"payment"`
		Invoice struct {
			Status        string `json:"status"`
			PaidAmount    string `json:"paid_amount"`
			PendingAmount string `json:"pending_amount"`
		} `json:"invoice"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "200.00", body.Payment.Amount)
	assert.Equal(t, "BANK_TRANSFER", body.Payment.Method)
	assert.Equal(t, "2024-03-15", body.Payment.PaymentDate)
	assert.Equal(t, "PARTIAL", body.Invoice.Status)
	assert.Equal(t, "200.00", body.Invoice.PaidAmount)
	assert.Equal(t, "300.00", body.Invoice.PendingAmount)
}

func TestHandlerErrorMapping(t *testing.T) {
	router, f := newTestRouter(t)
	inv := f.invoice(t, "100.00", date(2024, time.April, 1))
	path := "/invoices/" + inv.ID.String() + "/payments"

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"overpayment", path, `{"amount":"150"}`, http.StatusUnprocessableEntity},
		{"non positive", path, `{"amount":"-5"}`, http.StatusUnprocessableEntity},
		{"unknown invoice", "/invoices/" + uuid.NewString() + "/payments", `{"amount":"5"}`, http.StatusNotFound},
		{"malformed id", "/invoices/abc/payments", `{"amount":"5"}`, http.StatusBadRequest},
		{"malformed body", path, `{"amount":`, http.StatusBadRequest},
		{"unknown field", path, `{"amount":"5","tip":"1"}`, http.StatusBadRequest},
		{"extreme exponent", path, `{"amount":1e-30000000}`, http.StatusBadRequest},
		{"beyond column range", path, `{"amount":"1e11"}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, tc.path, tc.body, nil)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}
	assert.Zero(t, f.store.paymentCount(inv.ID))
}

func TestHandlerCancelledInvoiceIs422(t *testing.T) {
	router, f := newTestRouter(t)
	inv := f.invoice(t, "100.00", date(2024, time.April, 1))

	rec := do(t, router, http.MethodPost, "/invoices/"+inv.ID.String()+"/cancel", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"CANCELLED"`)

	rec = do(t, router, http.MethodPost, "/invoices/"+inv.ID.String()+"/payments", `{"amount":"10"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "cannot pay a cancelled invoice")
}

func TestHandlerIdempotencyKey(t *testing.T) {
	router, f := newTestRouter(t)
	inv := f.invoice(t, "500.00", date(2024, time.April, 1))
	path := "/invoices/" + inv.ID.String() + "/payments"
	key := map[string]string{IdempotencyHeader: "pay-1"}

	rec := do(t, router, http.MethodPost, path, `{"amount":"100"}`, key)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodPost, path, `{"amount":"100"}`, key)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, path, `{"amount":"120"}`, key)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Equal(t, 1, f.store.paymentCount(inv.ID))
}

func TestHandlerFailedPaymentReleasesIdempotencyKey(t *testing.T) {
	router, f := newTestRouter(t)
	inv := f.invoice(t, "50.00", date(2024, time.April, 1))
	path := "/invoices/" + inv.ID.String() + "/payments"
	key := map[string]string{IdempotencyHeader: "pay-2"}

	f.store.mu.Lock()
	f.store.conflicts = 3
	f.store.mu.Unlock()
	rec := do(t, router, http.MethodPost, path, `{"amount":"50"}`, key)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = do(t, router, http.MethodPost, path, `{"amount":"50"}`, key)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHandlerRejectedPaymentReleasesIdempotencyKey(t *testing.T) {
	router, f := newTestRouter(t)
	inv := f.invoice(t, "100.00", date(2024, time.April, 1))
	path := "/invoices/" + inv.ID.String() + "/payments"
	key := map[string]string{IdempotencyHeader: "pay-3"}

	rec := do(t, router, http.MethodPost, path, `{"amount":"150"}`, key)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "overpayment rejected")

	rec = do(t, router, http.MethodPost, path, `{"amount":"100"}`, key)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, f.store.paymentCount(inv.ID))
}

func TestHandlerCommittedPaymentKeepsKeyWhenReplyIsLost(t *testing.T) {
	router, f := newTestRouter(t)
	inv := f.invoice(t, "500.00", date(2024, time.April, 1))
	path := "/invoices/" + inv.ID.String() + "/payments"
	key := map[string]string{IdempotencyHeader: "pay-4"}

	f.store.mu.Lock()
	f.store.lostCommits = 1
	f.store.mu.Unlock()
	rec := do(t, router, http.MethodPost, path, `{"amount":"100"}`, key)
	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	require.Equal(t, 1, f.store.paymentCount(inv.ID))

	rec = do(t, router, http.MethodPost, path, `{"amount":"100"}`, key)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, 1, f.store.paymentCount(inv.ID))
}

func TestHandlerRejectsOversizedIdempotencyKey(t *testing.T) {
	router, f := newTestRouter(t)
	inv := f.invoice(t, "100.00", date(2024, time.April, 1))

	rec := do(t, router, http.MethodPost, "/invoices/"+inv.ID.String()+"/payments", `{"amount":"10"}`,
		map[string]string{IdempotencyHeader: strings.Repeat("k", 256)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.store.paymentCount(inv.ID))
}

func TestHandlerGetPayment(t *testing.T) {
	router, f := newTestRouter(t)
	inv := f.invoice(t, "500.00", date(2024, time.April, 1))
	res, err := f.pay(inv.ID, "125.50")
	require.NoError(t, err)

	rec := do(t, router, http.MethodGet, "/payments/"+res.Payment.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, res.Payment.ID.String(), body["id"])
	assert.Equal(t, inv.ID.String(), body["invoice_id"])
	assert.Equal(t, "125.50", body["amount"])
	assert.Equal(t, "Ada Lovelace", body["student_name"])
	assert.Equal(t, "North High", body["school_name"])

	rec = do(t, router, http.MethodGet, "/payments/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "payment not found")

	rec = do(t, router, http.MethodGet, "/payments/nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerCreateAndListInvoices(t *testing.T) {
	router, f := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/invoices/",
		`{"student_id":"`+f.studentID.String()+`","invoice_type":"tuition","amount":"1200.50","due_date":"2024-03-01","description":"Spring term"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"amount":"1200.50"`)
	assert.Contains(t, rec.Body.String(), `"invoice_type":"TUITION"`)

	rec = do(t, router, http.MethodPost, "/invoices/", `{"student_id":"nope","amount":"1","due_date":"2024-03-01"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/invoices/?status=overdue&school_id="+f.schoolID.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list struct {
		Count    int `json:"count"`
		Invoices []struct {
			Status      string `json:"status"`
			DaysOverdue int    `json:"days_overdue"`
		} `json:"invoices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "OVERDUE", list.Invoices[0].Status)
	assert.Equal(t, 14, list.Invoices[0].DaysOverdue)

	rec = do(t, router, http.MethodGet, "/invoices/?from=2024-05-01&to=2024-04-01", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
