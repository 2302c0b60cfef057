package reports

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/odyssey-erp/school-billing/internal/ledger"
	"github.com/odyssey-erp/school-billing/internal/money"
)

// WriteOverdueCSV serialises the overdue listing.
func WriteOverdueCSV(w io.Writer, rows []OverdueRow) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Invoice", "Student", "School", "Description", "Amount", "Paid", "Pending", "Due Date", "Days Overdue"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			row.InvoiceID.String(),
			row.StudentName,
			row.SchoolName,
			row.Description,
			row.Amount.String(),
			row.PaidAmount.String(),
			row.PendingAmount.String(),
			row.DueDate.String(),
			strconv.Itoa(row.DaysOverdue),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteDailyCollectionsCSV emits one line per day and school with a column
// per payment method.
func WriteDailyCollectionsCSV(w io.Writer, rows []DailyCollection) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	header := []string{"Date", "School", "Payments", "Total"}
	for _, m := range ledger.Methods {
		header = append(header, string(m))
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.Date.String(),
			row.SchoolName,
			strconv.Itoa(row.PaymentCount),
			row.Total.String(),
		}
		for _, m := range ledger.Methods {
			record = append(record, amountOrZero(row.ByMethod, m).String())
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func amountOrZero(byMethod map[ledger.PaymentMethod]money.Money, m ledger.PaymentMethod) money.Money {
	if v, ok := byMethod[m]; ok {
		return v
	}
	return money.Zero()
}

// WriteMonthlyRevenueCSV emits monthly revenue rows.
func WriteMonthlyRevenueCSV(w io.Writer, rows []MonthlyRevenue) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Month", "School", "Students", "Payments", "Total", "Average", "Min", "Max"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			row.Month,
			row.SchoolName,
			strconv.Itoa(row.StudentsWithPayments),
			strconv.Itoa(row.PaymentCount),
			row.Total.String(),
			row.Average.String(),
			row.Min.String(),
			row.Max.String(),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteStudentBalancesCSV emits per-student balances.
func WriteStudentBalancesCSV(w io.Writer, rows []StudentBalance) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	statuses := []ledger.InvoiceStatus{ledger.StatusPending, ledger.StatusPartial, ledger.StatusOverdue, ledger.StatusPaid, ledger.StatusCancelled}
	header := []string{"Student", "School", "Invoices", "Invoiced", "Paid", "Pending", "Overdue"}
	for _, s := range statuses {
		header = append(header, string(s))
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.StudentName,
			row.SchoolName,
			strconv.Itoa(row.InvoiceCount),
			row.TotalInvoiced.String(),
			row.TotalPaid.String(),
			row.TotalPending.String(),
			row.TotalOverdue.String(),
		}
		for _, s := range statuses {
			record = append(record, strconv.Itoa(row.ByStatus[s]))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteSchoolSummariesCSV emits one line per school.
func WriteSchoolSummariesCSV(w io.Writer, rows []SchoolSummary) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"School", "Students", "Invoices", "Invoiced", "Paid", "Pending", "Overdue",
		"Pending Invoices", "Overdue Invoices", "Paid Invoices", "Cancelled Invoices"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			row.SchoolName,
			strconv.Itoa(row.Students),
			strconv.Itoa(row.InvoiceCount),
			row.TotalInvoiced.String(),
			row.TotalPaid.String(),
			row.TotalPending.String(),
			row.TotalOverdue.String(),
			strconv.Itoa(row.PendingInvoices),
			strconv.Itoa(row.OverdueInvoices),
			strconv.Itoa(row.PaidInvoices),
			strconv.Itoa(row.CancelledInvoices),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
