package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/odyssey-erp/school-billing/internal/app"
	"github.com/odyssey-erp/school-billing/internal/ledger"
	"github.com/odyssey-erp/school-billing/internal/money"
	"github.com/odyssey-erp/school-billing/internal/platform/db"
	"github.com/odyssey-erp/school-billing/internal/roster"
)

type seedStudent struct {
	first, last string
	active      bool
}

type seedSchool struct {
	name, code, address string
	students            []seedStudent
}

var schools = []seedSchool{
	{
		name: "North Valley High", code: "NVH", address: "12 Orchard Road",
		students: []seedStudent{{"Ada", "Lovelace", true}, {"Alan", "Turing", true}, {"Grace", "Hopper", false}},
	},
	{
		name: "Riverside Academy", code: "RSA", address: "4 Mill Lane",
		students: []seedStudent{{"Edsger", "Dijkstra", true}, {"Barbara", "Liskov", true}},
	},
}

func main() {
	ctx := context.Background()
	if err := app.LoadDotEnv(); err != nil {
		log.Printf("dotenv: %v", err)
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 4})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	// Seeding bypasses the cache; the API picks up fresh data on first read.
	services := app.BuildServices(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), pool, nil, nil)

	existing, err := services.Roster.ListSchools(ctx, roster.SchoolFilter{})
	if err != nil {
		log.Fatalf("list schools: %v", err)
	}
	if len(existing) > 0 {
		fmt.Println("→ Schools already present, skipping seed")
		return
	}

	today := civil.DateOf(time.Now().In(cfg.Location()))
	for _, s := range schools {
		fmt.Printf("→ Seeding %s...\n", s.name)
		if err := seedOne(ctx, services, s, today); err != nil {
			log.Fatalf("seed %s: %v", s.code, err)
		}
	}
	fmt.Println("✓ Seed complete")
}

func seedOne(ctx context.Context, services *app.Services, s seedSchool, today civil.Date) error {
	now := time.Now().UTC()
	school := roster.School{ID: uuid.New(), Name: s.name, Code: s.code, Address: s.address, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := services.RosterRepo.CreateSchool(ctx, school); err != nil {
		return err
	}
	for i, st := range s.students {
		student := roster.Student{
			ID:             uuid.New(),
			SchoolID:       school.ID,
			FirstName:      st.first,
			LastName:       st.last,
			EnrollmentDate: today.AddDays(-200),
			IsActive:       st.active,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := services.RosterRepo.CreateStudent(ctx, student); err != nil {
			return err
		}
		if err := seedInvoices(ctx, services.Ledger, student.ID, today, i); err != nil {
			return err
		}
	}
	return nil
}

// seedInvoices creates one paid, one partial and one overdue invoice per
// student, plus a cancelled one for every other student.
func seedInvoices(ctx context.Context, svc *ledger.Service, studentID uuid.UUID, today civil.Date, n int) error {
	type plan struct {
		kind   ledger.InvoiceType
		amount string
		due    civil.Date
		paid   []string
		method ledger.PaymentMethod
		cancel bool
	}
	plans := []plan{
		{ledger.TypeEnrollment, "250.00", today.AddDays(-60), []string{"250.00"}, ledger.MethodBankTransfer, false},
		{ledger.TypeTuition, "1500.00", today.AddDays(20), []string{"400.00", "500.00"}, ledger.MethodCash, false},
		{ledger.TypeFee, "120.50", today.AddDays(-10 - n), nil, ledger.MethodOther, false},
	}
	if n%2 == 1 {
		plans = append(plans, plan{ledger.TypeCustom, "75.00", today.AddDays(5), nil, ledger.MethodOther, true})
	}

	for _, p := range plans {
		inv, err := svc.CreateInvoice(ctx, ledger.CreateInvoiceInput{
			StudentID:   studentID,
			Type:        p.kind,
			Amount:      money.MustParse(p.amount),
			DueDate:     p.due,
			Description: fmt.Sprintf("%s %s", p.kind, p.due),
		})
		if err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		for _, amt := range p.paid {
			if _, err := svc.ApplyPayment(ctx, ledger.ApplyPaymentInput{
				InvoiceID: inv.ID,
				Amount:    money.MustParse(amt),
				Method:    p.method,
				Reference: "SEED-" + inv.ID.String()[:8],
			}); err != nil {
				return fmt.Errorf("apply payment: %w", err)
			}
		}
		if p.cancel {
			if _, err := svc.CancelInvoice(ctx, inv.ID); err != nil {
				return fmt.Errorf("cancel invoice: %w", err)
			}
		}
	}
	return nil
}
