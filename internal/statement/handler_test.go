package statement

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/school-billing/internal/cache"
	"github.com/odyssey-erp/school-billing/internal/ledger"
	"github.com/odyssey-erp/school-billing/internal/roster"
)

type fakeInvoices struct {
	mu      sync.Mutex
	rows    []ledger.InvoiceDetail
	calls   int
	filters []ledger.InvoiceFilter
}

func (f *fakeInvoices) EvaluateAll(_ context.Context, filter ledger.InvoiceFilter) ([]ledger.InvoiceDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.filters = append(f.filters, filter)
	var out []ledger.InvoiceDetail
	for _, row := range f.rows {
		if filter.StudentID != uuid.Nil && row.StudentID != filter.StudentID {
			continue
		}
		if filter.SchoolID != uuid.Nil && row.SchoolID != filter.SchoolID {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

type fakeRoster struct {
	schools  map[uuid.UUID]roster.School
	students map[uuid.UUID]roster.Student
}

func (f *fakeRoster) GetSchool(_ context.Context, id uuid.UUID) (roster.School, error) {
	s, ok := f.schools[id]
	if !ok {
		return roster.School{}, roster.ErrSchoolNotFound
	}
	return s, nil
}

func (f *fakeRoster) GetStudent(_ context.Context, id uuid.UUID) (roster.Student, error) {
	s, ok := f.students[id]
	if !ok {
		return roster.Student{}, roster.ErrStudentNotFound
	}
	return s, nil
}

func (f *fakeRoster) ListStudents(_ context.Context, schoolID uuid.UUID, filter roster.StudentFilter) ([]roster.Student, error) {
	var out []roster.Student
	for _, s := range f.students {
		if s.SchoolID != schoolID || (filter.ActiveOnly && !s.IsActive) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

type statementFixture struct {
	school   roster.School
	ann, ben roster.Student
	invoices *fakeInvoices
	router   http.Handler
}

func newStatementFixture(t *testing.T, c Cache) statementFixture {
	t.Helper()
	school := roster.School{ID: uuid.New(), Name: "North High", IsActive: true}
	ann := student(school.ID, "Ann", true)
	ben := student(school.ID, "Ben", false)

	withSchool := func(d ledger.InvoiceDetail) ledger.InvoiceDetail {
		d.SchoolID = school.ID
		return d
	}
	invoices := &fakeInvoices{rows: []ledger.InvoiceDetail{
		withSchool(invoice(ann.ID, "1000.00", day(time.April, 1), "400.00")),
		withSchool(invoice(ben.ID, "500.00", day(time.February, 1), "500.00")),
	}}
	rs := &fakeRoster{
		schools:  map[uuid.UUID]roster.School{school.ID: school},
		students: map[uuid.UUID]roster.Student{ann.ID: ann, ben.ID: ben},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(invoices, rs, func() time.Time { return generatedAt })
	h := NewHandler(logger, NewCachedService(svc, c, logger))
	r := chi.NewRouter()
	h.MountRoutes(r)
	return statementFixture{school: school, ann: ann, ben: ben, invoices: invoices, router: r}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestSchoolStatementEndpoint(t *testing.T) {
	f := newStatementFixture(t, nil)

	rec := get(t, f.router, "/schools/"+f.school.ID.String()+"/statement")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		SchoolID string `json:"school_id"`
		Summary  struct {
			TotalStudents  int    `json:"total_students"`
			ActiveStudents int    `json:"active_students"`
			TotalInvoiced  string `json:"total_invoiced"`
			TotalPaid      string `json:"total_paid"`
			TotalPending   string `json:"total_pending"`
		} `json:"summary"`
		Invoices []json.RawMessage `json:"invoices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, f.school.ID.String(), body.SchoolID)
	assert.Equal(t, 2, body.Summary.TotalStudents)
	assert.Equal(t, 1, body.Summary.ActiveStudents)
	assert.Equal(t, "1500.00", body.Summary.TotalInvoiced)
	assert.Equal(t, "900.00", body.Summary.TotalPaid)
	assert.Equal(t, "600.00", body.Summary.TotalPending)
	assert.Len(t, body.Invoices, 2)
}

func TestStudentStatementEndpoint(t *testing.T) {
	f := newStatementFixture(t, nil)

	rec := get(t, f.router, "/students/"+f.ann.ID.String()+"/statement?from=2024-01-01&to=2024-12-31")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"school_name":"North High"`)
	assert.Contains(t, rec.Body.String(), `"total_pending":"600.00"`)
	assert.Contains(t, rec.Body.String(), `"from":"2024-01-01"`)

	require.Len(t, f.invoices.filters, 1)
	filter := f.invoices.filters[0]
	assert.Equal(t, f.ann.ID, filter.StudentID)
	require.NotNil(t, filter.DueFrom)
	assert.Equal(t, day(time.January, 1), *filter.DueFrom)
}

func TestStatementEndpointErrors(t *testing.T) {
	f := newStatementFixture(t, nil)

	cases := []struct {
		name string
		path string
		want int
	}{
		{"unknown student", "/students/" + uuid.NewString() + "/statement", http.StatusNotFound},
		{"unknown school", "/schools/" + uuid.NewString() + "/statement", http.StatusNotFound},
		{"malformed id", "/schools/nope/statement", http.StatusBadRequest},
		{"inverted period", "/schools/" + f.school.ID.String() + "/statement?from=2024-05-01&to=2024-01-01", http.StatusBadRequest},
		{"bad date", "/students/" + f.ann.ID.String() + "/statement?from=yesterday", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(t, f.router, tc.path)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCachedStatementsInvalidateOnBump(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.New(client, time.Minute)
	f := newStatementFixture(t, c)
	path := "/schools/" + f.school.ID.String() + "/statement"

	first := get(t, f.router, path)
	require.Equal(t, http.StatusOK, first.Code)
	second := get(t, f.router, path)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, f.invoices.calls)

	require.NoError(t, c.Bump(context.Background()))
	third := get(t, f.router, path)
	require.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, 2, f.invoices.calls)
}

// clockedInvoices derives balances against the shared clock on every call.
type clockedInvoices struct {
	clock *time.Time
	rows  []ledger.InvoiceDetail
	calls int
}

func (c *clockedInvoices) EvaluateAll(_ context.Context, _ ledger.InvoiceFilter) ([]ledger.InvoiceDetail, error) {
	c.calls++
	out := make([]ledger.InvoiceDetail, 0, len(c.rows))
	for _, row := range c.rows {
		row.Balance = ledger.Evaluate(row.Invoice, row.Payments, civil.DateOf(*c.clock))
		out = append(out, row)
	}
	return out, nil
}

func TestCachedStatementRollsOverAtMidnight(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	school := roster.School{ID: uuid.New(), Name: "North High", IsActive: true}
	ann := student(school.ID, "Ann", true)
	clock := time.Date(2024, time.March, 10, 23, 58, 0, 0, time.UTC)
	invoices := &clockedInvoices{clock: &clock, rows: []ledger.InvoiceDetail{
		invoice(ann.ID, "500.00", day(time.March, 10)),
	}}
	rs := &fakeRoster{
		schools:  map[uuid.UUID]roster.School{school.ID: school},
		students: map[uuid.UUID]roster.Student{ann.ID: ann},
	}
	svc := NewCachedService(NewService(invoices, rs, func() time.Time { return clock }), cache.New(client, time.Hour), logger)
	ctx := context.Background()

	before, err := svc.StudentStatement(ctx, ann.ID, Period{})
	require.NoError(t, err)
	require.Len(t, before.Invoices, 1)
	assert.Equal(t, ledger.StatusPending, before.Invoices[0].Status)
	assert.Equal(t, "0.00", before.Summary.TotalOverdue.String())

	again, err := svc.StudentStatement(ctx, ann.ID, Period{})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, again.Invoices[0].Status)
	assert.Equal(t, 1, invoices.calls)

	clock = time.Date(2024, time.March, 11, 0, 3, 0, 0, time.UTC)
	after, err := svc.StudentStatement(ctx, ann.ID, Period{})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOverdue, after.Invoices[0].Status)
	assert.Equal(t, "500.00", after.Summary.TotalOverdue.String())
	assert.Equal(t, 2, invoices.calls)
}

func TestCachedServiceFallsBackWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := newStatementFixture(t, cache.New(client, time.Minute))
	mr.Close()

	rec := get(t, f.router, "/students/"+f.ben.ID.String()+"/statement")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"total_paid":"500.00"`)
}
