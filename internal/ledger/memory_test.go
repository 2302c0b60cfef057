package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/school-billing/internal/shared"
)

type memoryStudent struct {
	name       string
	schoolID   uuid.UUID
	schoolName string
}

// memoryLedger is an in-memory RepositoryPort. LockInvoice holds a
// per-invoice mutex until the surrounding WithTx returns, and writes are
// applied only when fn succeeds.
type memoryLedger struct {
	mu       sync.Mutex
	locks    map[uuid.UUID]*sync.Mutex
	invoices map[uuid.UUID]Invoice
	payments map[uuid.UUID][]Payment
	students map[uuid.UUID]memoryStudent
	keys     map[string]string

	// conflicts makes the next N transactions fail as serialization failures.
	conflicts int
	txCount   int
	// lostCommits makes the next N transactions commit but report an error,
	// as when the connection drops before the commit reply arrives.
	lostCommits int
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		locks:    make(map[uuid.UUID]*sync.Mutex),
		invoices: make(map[uuid.UUID]Invoice),
		payments: make(map[uuid.UUID][]Payment),
		students: make(map[uuid.UUID]memoryStudent),
		keys:     make(map[string]string),
	}
}

func (m *memoryLedger) addStudent(name string, schoolID uuid.UUID, schoolName string) uuid.UUID {
	id := uuid.New()
	m.mu.Lock()
	m.students[id] = memoryStudent{name: name, schoolID: schoolID, schoolName: schoolName}
	m.mu.Unlock()
	return id
}

func (m *memoryLedger) paymentCount(invoiceID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments[invoiceID])
}

func (m *memoryLedger) storedStatus(invoiceID uuid.UUID) InvoiceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoices[invoiceID].Status
}

type memoryTx struct {
	store    *memoryLedger
	held     []*sync.Mutex
	payments []Payment
	invoices []Invoice
	statuses map[uuid.UUID]func(*Invoice)
	keys     map[string]string
}

func (m *memoryLedger) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	m.txCount++
	if m.conflicts > 0 {
		m.conflicts--
		m.mu.Unlock()
		return fmt.Errorf("%w: injected serialization failure", shared.ErrConcurrencyConflict)
	}
	m.mu.Unlock()

	tx := &memoryTx{store: m, statuses: make(map[uuid.UUID]func(*Invoice)), keys: make(map[string]string)}
	defer func() {
		for i := len(tx.held) - 1; i >= 0; i-- {
			tx.held[i].Unlock()
		}
	}()
	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range tx.invoices {
		m.invoices[inv.ID] = inv
	}
	for _, p := range tx.payments {
		m.payments[p.InvoiceID] = append(m.payments[p.InvoiceID], p)
	}
	for id, apply := range tx.statuses {
		inv := m.invoices[id]
		apply(&inv)
		m.invoices[id] = inv
	}
	for k, fp := range tx.keys {
		m.keys[k] = fp
	}
	if m.lostCommits > 0 {
		m.lostCommits--
		return errors.New("unexpected EOF awaiting commit")
	}
	return nil
}

func (t *memoryTx) LockInvoice(_ context.Context, id uuid.UUID) (Invoice, error) {
	t.store.mu.Lock()
	lock, ok := t.store.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		t.store.locks[id] = lock
	}
	t.store.mu.Unlock()

	lock.Lock()
	t.held = append(t.held, lock)

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	inv, ok := t.store.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (t *memoryTx) InvoicePayments(_ context.Context, invoiceID uuid.UUID) ([]Payment, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	out := append([]Payment(nil), t.store.payments[invoiceID]...)
	for _, p := range t.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memoryTx) InsertPayment(_ context.Context, p Payment) error {
	t.payments = append(t.payments, p)
	return nil
}

func (t *memoryTx) SetInvoiceStatus(_ context.Context, id uuid.UUID, status InvoiceStatus, cancelledAt *time.Time, updatedAt time.Time) error {
	t.statuses[id] = func(inv *Invoice) {
		inv.Status = status
		if cancelledAt != nil {
			inv.CancelledAt = cancelledAt
		}
		inv.UpdatedAt = updatedAt
	}
	return nil
}

func (t *memoryTx) StudentExists(_ context.Context, id uuid.UUID) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	_, ok := t.store.students[id]
	return ok, nil
}

func (t *memoryTx) InsertInvoice(_ context.Context, inv Invoice) error {
	t.invoices = append(t.invoices, inv)
	return nil
}

func (t *memoryTx) ClaimIdempotencyKey(_ context.Context, module, key, fingerprint string) error {
	k := module + "/" + key
	t.store.mu.Lock()
	stored, ok := t.store.keys[k]
	t.store.mu.Unlock()
	if !ok {
		stored, ok = t.keys[k]
	}
	if ok {
		if stored != fingerprint {
			return shared.ErrIdempotencyMismatch
		}
		return shared.ErrIdempotencyConflict
	}
	t.keys[k] = fingerprint
	return nil
}

func (m *memoryLedger) detail(inv Invoice) InvoiceDetail {
	st := m.students[inv.StudentID]
	return InvoiceDetail{
		Invoice:     inv,
		Payments:    append([]Payment(nil), m.payments[inv.ID]...),
		StudentName: st.name,
		SchoolID:    st.schoolID,
		SchoolName:  st.schoolName,
	}
}

func (m *memoryLedger) GetInvoice(_ context.Context, id uuid.UUID) (InvoiceDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return InvoiceDetail{}, ErrInvoiceNotFound
	}
	return m.detail(inv), nil
}

func (m *memoryLedger) ListInvoices(_ context.Context, filter InvoiceFilter) ([]InvoiceDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []InvoiceDetail
	for _, inv := range m.invoices {
		d := m.detail(inv)
		if filter.StudentID != uuid.Nil && inv.StudentID != filter.StudentID {
			continue
		}
		if filter.SchoolID != uuid.Nil && d.SchoolID != filter.SchoolID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.DueFrom != nil && inv.DueDate.Before(*filter.DueFrom) {
			continue
		}
		if filter.DueTo != nil && inv.DueDate.After(*filter.DueTo) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate != out[j].DueDate {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if filter.Limit > 0 || filter.Offset > 0 {
		out = paginate(out, filter.Limit, filter.Offset)
	}
	return out, nil
}

func (m *memoryLedger) InvoiceExists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.invoices[id]
	return ok, nil
}

func (m *memoryLedger) ListPayments(_ context.Context, filter PaymentFilter) ([]PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PaymentRecord
	for invoiceID, payments := range m.payments {
		inv := m.invoices[invoiceID]
		st := m.students[inv.StudentID]
		for _, p := range payments {
			if filter.InvoiceID != uuid.Nil && p.InvoiceID != filter.InvoiceID {
				continue
			}
			if filter.Method != "" && p.Method != filter.Method {
				continue
			}
			out = append(out, PaymentRecord{
				Payment:     p,
				StudentID:   inv.StudentID,
				StudentName: st.name,
				SchoolID:    st.schoolID,
				SchoolName:  st.schoolName,
			})
		}
	}
	return out, nil
}

func (m *memoryLedger) GetPayment(_ context.Context, id uuid.UUID) (PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for invoiceID, payments := range m.payments {
		for _, p := range payments {
			if p.ID != id {
				continue
			}
			inv := m.invoices[invoiceID]
			st := m.students[inv.StudentID]
			return PaymentRecord{
				Payment:     p,
				StudentID:   inv.StudentID,
				StudentName: st.name,
				SchoolID:    st.schoolID,
				SchoolName:  st.schoolName,
			}, nil
		}
	}
	return PaymentRecord{}, ErrPaymentNotFound
}
