package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/school-billing/internal/platform/db"
	"github.com/odyssey-erp/school-billing/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the ledger.
type Repository struct {
	db db.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool db.Pool) *Repository {
	return &Repository{db: pool}
}

const invoiceColumns = `i.id, i.student_id, i.billing_item_id, i.invoice_type, i.amount, i.due_date,
	i.status, i.description, i.cancelled_at, i.created_at, i.updated_at`

const paymentColumns = `p.id, p.invoice_id, p.amount, p.payment_date, p.method, p.reference, p.created_at`

const ownerJoin = `JOIN students s ON s.id = i.student_id
	JOIN schools sc ON sc.id = s.school_id`

// WithTx runs fn in a RepeatableRead transaction. Invoice row locks taken by
// LockInvoice are released when it ends.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, db.Write, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx})
	})
}

// GetInvoice loads one invoice, its owners and its payments from one snapshot.
func (r *Repository) GetInvoice(ctx context.Context, id uuid.UUID) (InvoiceDetail, error) {
	var detail InvoiceDetail
	err := db.WithTx(ctx, r.db, db.ReadOnly, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+invoiceColumns+`,
			s.first_name || ' ' || s.last_name, sc.id, sc.name
			FROM invoices i `+ownerJoin+`
			WHERE i.id = $1`, id)
		var err error
		detail, err = scanInvoiceDetail(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvoiceNotFound
		}
		if err != nil {
			return fmt.Errorf("ledger: get invoice: %w", err)
		}
		detail.Payments, err = (&txRepository{q: tx}).InvoicePayments(ctx, id)
		return err
	})
	if err != nil {
		return InvoiceDetail{}, err
	}
	return detail, nil
}

// ListInvoices returns invoices with owners and payments from one snapshot,
// ordered by due date.
func (r *Repository) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]InvoiceDetail, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.StudentID != uuid.Nil {
		add("i.student_id = $%d", filter.StudentID)
	}
	if filter.SchoolID != uuid.Nil {
		add("s.school_id = $%d", filter.SchoolID)
	}
	if filter.Status != "" {
		add("i.status = $%d", string(filter.Status))
	}
	if filter.DueFrom != nil {
		add("i.due_date >= $%d", dateArg(*filter.DueFrom))
	}
	if filter.DueTo != nil {
		add("i.due_date <= $%d", dateArg(*filter.DueTo))
	}

	query := `SELECT ` + invoiceColumns + `,
		s.first_name || ' ' || s.last_name, sc.id, sc.name
		FROM invoices i ` + ownerJoin
	if len(conds) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conds, " AND ")
	}
	query += "\n\t\tORDER BY i.due_date, i.created_at, i.id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var out []InvoiceDetail
	err := db.WithTx(ctx, r.db, db.ReadOnly, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("ledger: list invoices: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			detail, err := scanInvoiceDetail(rows)
			if err != nil {
				return fmt.Errorf("ledger: scan invoice: %w", err)
			}
			out = append(out, detail)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("ledger: list invoices: %w", err)
		}
		rows.Close()
		return attachPayments(ctx, tx, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func attachPayments(ctx context.Context, q db.Querier, invoices []InvoiceDetail) error {
	if len(invoices) == 0 {
		return nil
	}
	ids := make([]string, len(invoices))
	index := make(map[uuid.UUID]int, len(invoices))
	for i, inv := range invoices {
		ids[i] = inv.ID.String()
		index[inv.ID] = i
	}
	rows, err := q.Query(ctx, `SELECT `+paymentColumns+`
		FROM payments p
		WHERE p.invoice_id = ANY($1::uuid[])
		ORDER BY p.payment_date, p.created_at, p.id`, ids)
	if err != nil {
		return fmt.Errorf("ledger: list payments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return fmt.Errorf("ledger: scan payment: %w", err)
		}
		if i, ok := index[p.InvoiceID]; ok {
			invoices[i].Payments = append(invoices[i].Payments, p)
		}
	}
	return rows.Err()
}

// InvoiceExists reports whether the invoice row exists.
func (r *Repository) InvoiceExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("ledger: invoice exists: %w", err)
	}
	return ok, nil
}

// ListPayments returns payments with their student and school, newest first.
func (r *Repository) ListPayments(ctx context.Context, filter PaymentFilter) ([]PaymentRecord, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.InvoiceID != uuid.Nil {
		add("p.invoice_id = $%d", filter.InvoiceID)
	}
	if filter.StudentID != uuid.Nil {
		add("i.student_id = $%d", filter.StudentID)
	}
	if filter.SchoolID != uuid.Nil {
		add("s.school_id = $%d", filter.SchoolID)
	}
	if filter.Method != "" {
		add("p.method = $%d", string(filter.Method))
	}
	if filter.From != nil {
		add("p.payment_date >= $%d", dateArg(*filter.From))
	}
	if filter.To != nil {
		add("p.payment_date <= $%d", dateArg(*filter.To))
	}

	query := `SELECT ` + paymentColumns + `,
		s.id, s.first_name || ' ' || s.last_name, sc.id, sc.name
		FROM payments p
		JOIN invoices i ON i.id = p.invoice_id
		` + ownerJoin
	if len(conds) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conds, " AND ")
	}
	query += "\n\t\tORDER BY p.payment_date DESC, p.created_at DESC, p.id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list payments: %w", err)
	}
	defer rows.Close()

	var out []PaymentRecord
	for rows.Next() {
		rec, err := scanPaymentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan payment: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetPayment loads one payment with its student and school.
func (r *Repository) GetPayment(ctx context.Context, id uuid.UUID) (PaymentRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+`,
		s.id, s.first_name || ' ' || s.last_name, sc.id, sc.name
		FROM payments p
		JOIN invoices i ON i.id = p.invoice_id
		`+ownerJoin+`
		WHERE p.id = $1`, id)
	rec, err := scanPaymentRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return PaymentRecord{}, ErrPaymentNotFound
	}
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("ledger: get payment: %w", err)
	}
	return rec, nil
}

type txRepository struct {
	q db.Querier
}

func (t *txRepository) LockInvoice(ctx context.Context, id uuid.UUID) (Invoice, error) {
	row := t.q.QueryRow(ctx, `SELECT `+invoiceColumns+`
		FROM invoices i
		WHERE i.id = $1
		FOR UPDATE`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("ledger: lock invoice: %w", err)
	}
	return inv, nil
}

func (t *txRepository) InvoicePayments(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error) {
	rows, err := t.q.Query(ctx, `SELECT `+paymentColumns+`
		FROM payments p
		WHERE p.invoice_id = $1
		ORDER BY p.payment_date, p.created_at, p.id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("ledger: invoice payments: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *txRepository) InsertPayment(ctx context.Context, p Payment) error {
	_, err := t.q.Exec(ctx, `INSERT INTO payments (id, invoice_id, amount, payment_date, method, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.InvoiceID, p.Amount, dateArg(p.PaymentDate), string(p.Method), p.Reference, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger: insert payment: %w", err)
	}
	return nil
}

func (t *txRepository) SetInvoiceStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus, cancelledAt *time.Time, updatedAt time.Time) error {
	tag, err := t.q.Exec(ctx, `UPDATE invoices
		SET status = $2, cancelled_at = COALESCE($3, cancelled_at), updated_at = $4
		WHERE id = $1`, id, string(status), cancelledAt, updatedAt)
	if err != nil {
		return fmt.Errorf("ledger: update invoice status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (t *txRepository) StudentExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	if err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM students WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("ledger: student exists: %w", err)
	}
	return ok, nil
}

func (t *txRepository) InsertInvoice(ctx context.Context, inv Invoice) error {
	_, err := t.q.Exec(ctx, `INSERT INTO invoices (
			id, student_id, billing_item_id, invoice_type, amount, due_date, status, description, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inv.ID, inv.StudentID, inv.BillingItemID, string(inv.Type), inv.Amount, dateArg(inv.DueDate),
		string(inv.Status), inv.Description, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ledger: insert invoice: %w", err)
	}
	return nil
}

// ClaimIdempotencyKey inserts the key in the current transaction; a rollback
// releases it.
func (t *txRepository) ClaimIdempotencyKey(ctx context.Context, module, key, fingerprint string) error {
	return shared.NewIdempotencyStore(t.q).CheckAndInsert(ctx, key, module, fingerprint)
}

func dateArg(d civil.Date) time.Time {
	return d.In(time.UTC)
}

func scanInvoice(row pgx.Row, extra ...any) (Invoice, error) {
	var (
		inv         Invoice
		billingItem pgtype.UUID
		typ, status string
		dueDate     time.Time
	)
	dest := []any{
		&inv.ID, &inv.StudentID, &billingItem, &typ, &inv.Amount, &dueDate,
		&status, &inv.Description, &inv.CancelledAt, &inv.CreatedAt, &inv.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Invoice{}, err
	}
	if billingItem.Valid {
		id := uuid.UUID(billingItem.Bytes)
		inv.BillingItemID = &id
	}
	inv.Type = InvoiceType(typ)
	inv.Status = InvoiceStatus(status)
	inv.DueDate = civil.DateOf(dueDate)
	return inv, nil
}

func scanInvoiceDetail(row pgx.Row) (InvoiceDetail, error) {
	var detail InvoiceDetail
	inv, err := scanInvoice(row, &detail.StudentName, &detail.SchoolID, &detail.SchoolName)
	if err != nil {
		return InvoiceDetail{}, err
	}
	detail.Invoice = inv
	return detail, nil
}

func scanPaymentRecord(row pgx.Row) (PaymentRecord, error) {
	var (
		rec         PaymentRecord
		paymentDate time.Time
		method      string
	)
	if err := row.Scan(
		&rec.ID, &rec.InvoiceID, &rec.Amount, &paymentDate, &method, &rec.Reference, &rec.CreatedAt,
		&rec.StudentID, &rec.StudentName, &rec.SchoolID, &rec.SchoolName,
	); err != nil {
		return PaymentRecord{}, err
	}
	rec.PaymentDate = civil.DateOf(paymentDate)
	rec.Method = PaymentMethod(method)
	return rec, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p           Payment
		paymentDate time.Time
		method      string
	)
	if err := row.Scan(&p.ID, &p.InvoiceID, &p.Amount, &paymentDate, &method, &p.Reference, &p.CreatedAt); err != nil {
		return Payment{}, err
	}
	p.PaymentDate = civil.DateOf(paymentDate)
	p.Method = PaymentMethod(method)
	return p, nil
}
