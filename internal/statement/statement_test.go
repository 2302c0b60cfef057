package statement

import (
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/school-billing/internal/ledger"
	"github.com/odyssey-erp/school-billing/internal/money"
	"github.com/odyssey-erp/school-billing/internal/roster"
)

var (
	today       = civil.Date{Year: 2024, Month: time.March, Day: 15}
	generatedAt = time.Date(2024, time.March, 15, 9, 30, 0, 0, time.UTC)
)

func day(m time.Month, d int) civil.Date {
	return civil.Date{Year: 2024, Month: m, Day: d}
}

// invoice builds an evaluated invoice with one payment per paid amount.
func invoice(studentID uuid.UUID, amount string, due civil.Date, paid ...string) ledger.InvoiceDetail {
	inv := ledger.Invoice{
		ID:          uuid.New(),
		StudentID:   studentID,
		Type:        ledger.TypeTuition,
		Amount:      money.MustParse(amount),
		DueDate:     due,
		Description: "Tuition",
	}
	var payments []ledger.Payment
	for _, p := range paid {
		payments = append(payments, ledger.Payment{
			ID:          uuid.New(),
			InvoiceID:   inv.ID,
			Amount:      money.MustParse(p),
			PaymentDate: day(time.March, 1),
			Method:      ledger.MethodCash,
		})
	}
	return ledger.InvoiceDetail{
		Invoice:  inv,
		Payments: payments,
		Balance:  ledger.Evaluate(inv, payments, today),
	}
}

func cancelled(d ledger.InvoiceDetail) ledger.InvoiceDetail {
	at := generatedAt
	d.CancelledAt = &at
	d.Status = ledger.StatusCancelled
	d.Balance = ledger.Evaluate(d.Invoice, d.Payments, today)
	return d
}

func student(schoolID uuid.UUID, first string, active bool) roster.Student {
	return roster.Student{ID: uuid.New(), SchoolID: schoolID, FirstName: first, LastName: "Doe", IsActive: active}
}

func TestSchoolStatementSumsAcrossStudents(t *testing.T) {
	school := roster.School{ID: uuid.New(), Name: "North High", IsActive: true}
	a := student(school.ID, "Ann", true)
	b := student(school.ID, "Ben", true)

	invoices := []ledger.InvoiceDetail{
		invoice(a.ID, "600.00", day(time.April, 1), "400.00"),
		invoice(a.ID, "400.00", day(time.April, 1)),
		invoice(b.ID, "500.00", day(time.April, 1), "200.00", "300.00"),
	}

	st := BuildSchoolStatement(school, []roster.Student{a, b}, invoices, Period{}, generatedAt)
	assert.Equal(t, "1500.00", st.Summary.TotalInvoiced.String())
	assert.Equal(t, "900.00", st.Summary.TotalPaid.String())
	assert.Equal(t, "600.00", st.Summary.TotalPending.String())
	assert.Equal(t, "0.00", st.Summary.TotalOverdue.String())
	assert.Equal(t, 2, st.Summary.TotalStudents)
	assert.Equal(t, 2, st.Summary.ActiveStudents)
	assert.Len(t, st.Invoices, 3)
	assert.Equal(t, "North High", st.SchoolName)
}

func TestCancelledInvoicesAreExcludedEverywhere(t *testing.T) {
	schoolID := uuid.New()
	s := student(schoolID, "Cara", true)
	invoices := []ledger.InvoiceDetail{
		invoice(s.ID, "100.00", day(time.April, 1), "40.00"),
		cancelled(invoice(s.ID, "900.00", day(time.January, 1), "50.00")),
	}

	st := BuildStudentStatement(s, "North High", invoices, Period{}, generatedAt)
	require.Len(t, st.Invoices, 1)
	assert.Equal(t, "100.00", st.Summary.TotalInvoiced.String())
	assert.Equal(t, "40.00", st.Summary.TotalPaid.String())
	assert.Equal(t, "60.00", st.Summary.TotalPending.String())

	sc := BuildSchoolStatement(roster.School{ID: schoolID}, []roster.Student{s}, invoices, Period{}, generatedAt)
	assert.Len(t, sc.Invoices, 1)
	assert.Equal(t, "100.00", sc.Summary.TotalInvoiced.String())
}

func TestOverdueTotals(t *testing.T) {
	s := student(uuid.New(), "Dan", true)
	invoices := []ledger.InvoiceDetail{
		invoice(s.ID, "500.00", day(time.March, 1)),
		invoice(s.ID, "300.00", day(time.February, 1), "100.00"),
		invoice(s.ID, "250.00", day(time.February, 1), "250.00"),
		invoice(s.ID, "80.00", day(time.May, 1), "30.00"),
	}

	st := BuildStudentStatement(s, "North High", invoices, Period{}, generatedAt)
	assert.Equal(t, "1130.00", st.Summary.TotalInvoiced.String())
	assert.Equal(t, "380.00", st.Summary.TotalPaid.String())
	assert.Equal(t, "750.00", st.Summary.TotalPending.String())
	assert.Equal(t, "700.00", st.Summary.TotalOverdue.String())

	require.Len(t, st.Invoices, 4)
	assert.Equal(t, ledger.StatusOverdue, st.Invoices[0].Status)
	assert.Equal(t, ledger.StatusPaid, st.Invoices[2].Status)
	assert.Equal(t, ledger.StatusPartial, st.Invoices[3].Status)
	require.Len(t, st.Invoices[3].Payments, 1)
	assert.Equal(t, "30.00", st.Invoices[3].Payments[0].Amount.String())
}

func TestPeriodFiltersOnDueDate(t *testing.T) {
	s := student(uuid.New(), "Eve", false)
	invoices := []ledger.InvoiceDetail{
		invoice(s.ID, "10.00", day(time.January, 31)),
		invoice(s.ID, "20.00", day(time.February, 1)),
		invoice(s.ID, "30.00", day(time.February, 29)),
		invoice(s.ID, "40.00", day(time.March, 1)),
	}
	from, to := day(time.February, 1), day(time.February, 29)

	st := BuildStudentStatement(s, "", invoices, Period{From: &from, To: &to}, generatedAt)
	assert.Len(t, st.Invoices, 2)
	assert.Equal(t, "50.00", st.Summary.TotalInvoiced.String())

	sc := BuildSchoolStatement(roster.School{}, []roster.Student{s}, invoices, Period{From: &from}, generatedAt)
	assert.Len(t, sc.Invoices, 3)
	assert.Equal(t, 1, sc.Summary.TotalStudents)
	assert.Zero(t, sc.Summary.ActiveStudents)
}

func TestSumsAreExact(t *testing.T) {
	s := student(uuid.New(), "Fay", true)
	var invoices []ledger.InvoiceDetail
	for i := 0; i < 10; i++ {
		invoices = append(invoices, invoice(s.ID, "0.10", day(time.April, 1), "0.03"))
	}
	st := BuildStudentStatement(s, "", invoices, Period{}, generatedAt)
	assert.Equal(t, "1.00", st.Summary.TotalInvoiced.String())
	assert.Equal(t, "0.30", st.Summary.TotalPaid.String())
	assert.Equal(t, "0.70", st.Summary.TotalPending.String())
}

func TestBuildersAreDeterministic(t *testing.T) {
	s := student(uuid.New(), "Gus", true)
	invoices := []ledger.InvoiceDetail{
		invoice(s.ID, "100.00", day(time.April, 1), "10.00"),
		invoice(s.ID, "200.00", day(time.January, 1)),
	}
	first := BuildStudentStatement(s, "North High", invoices, Period{}, generatedAt)
	second := BuildStudentStatement(s, "North High", invoices, Period{}, generatedAt)
	assert.Equal(t, first, second)
}

func TestStatementJSONShape(t *testing.T) {
	s := student(uuid.New(), "Hal", true)
	st := BuildStudentStatement(s, "North High", []ledger.InvoiceDetail{
		invoice(s.ID, "100.00", day(time.April, 1), "25.50"),
	}, Period{}, generatedAt)

	raw, err := json.Marshal(st)
	require.NoError(t, err)
	body := string(raw)
	for _, want := range []string{
		`"student_name":"Hal Doe"`, `"school_name":"North High"`,
		`"total_invoiced":"100.00"`, `"total_pending":"74.50"`,
		`"paid_amount":"25.50"`, `"due_date":"2024-04-01"`,
		`"payments":[{"amount":"25.50","date":"2024-03-01","method":"CASH"}]`,
	} {
		assert.Contains(t, body, want)
	}
}
