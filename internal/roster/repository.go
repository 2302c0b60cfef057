package roster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/school-billing/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for schools and students.
type Repository struct {
	db db.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool db.Pool) *Repository {
	return &Repository{db: pool}
}

const schoolColumns = `id, name, code, address, is_active, created_at, updated_at`

const studentColumns = `id, school_id, first_name, last_name, COALESCE(email, ''), enrollment_date, is_active, created_at, updated_at`

// GetSchool loads one school regardless of its active flag.
func (r *Repository) GetSchool(ctx context.Context, id uuid.UUID) (School, error) {
	row := r.db.QueryRow(ctx, `SELECT `+schoolColumns+` FROM schools WHERE id = $1`, id)
	s, err := scanSchool(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return School{}, ErrSchoolNotFound
	}
	if err != nil {
		return School{}, fmt.Errorf("roster: get school: %w", err)
	}
	return s, nil
}

// ListSchools lists schools ordered by name.
func (r *Repository) ListSchools(ctx context.Context, filter SchoolFilter) ([]School, error) {
	rows, err := r.db.Query(ctx, `SELECT `+schoolColumns+`
		FROM schools
		WHERE ($1::boolean IS FALSE OR is_active)
		ORDER BY name, id`, filter.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("roster: list schools: %w", err)
	}
	defer rows.Close()

	var out []School
	for rows.Next() {
		s, err := scanSchool(rows)
		if err != nil {
			return nil, fmt.Errorf("roster: scan school: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetStudent loads one student regardless of its active flag.
func (r *Repository) GetStudent(ctx context.Context, id uuid.UUID) (Student, error) {
	row := r.db.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
	s, err := scanStudent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Student{}, ErrStudentNotFound
	}
	if err != nil {
		return Student{}, fmt.Errorf("roster: get student: %w", err)
	}
	return s, nil
}

// ListStudents lists the students of one school ordered by name.
func (r *Repository) ListStudents(ctx context.Context, schoolID uuid.UUID, filter StudentFilter) ([]Student, error) {
	rows, err := r.db.Query(ctx, `SELECT `+studentColumns+`
		FROM students
		WHERE school_id = $1 AND ($2::boolean IS FALSE OR is_active)
		ORDER BY last_name, first_name, id`, schoolID, filter.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("roster: list students: %w", err)
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("roster: scan student: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateSchool inserts a school.
func (r *Repository) CreateSchool(ctx context.Context, s School) error {
	_, err := r.db.Exec(ctx, `INSERT INTO schools (id, name, code, address, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.Name, s.Code, s.Address, s.IsActive, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("roster: create school: %w", err)
	}
	return nil
}

// CreateStudent inserts a student.
func (r *Repository) CreateStudent(ctx context.Context, s Student) error {
	var email *string
	if s.Email != "" {
		email = &s.Email
	}
	_, err := r.db.Exec(ctx, `INSERT INTO students (id, school_id, first_name, last_name, email, enrollment_date, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.SchoolID, s.FirstName, s.LastName, email, s.EnrollmentDate.In(time.UTC), s.IsActive, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("roster: create student: %w", err)
	}
	return nil
}

// DeleteStudent hard-deletes a student. Invoices referencing the student make
// the delete fail with ErrStudentHasInvoices.
func (r *Repository) DeleteStudent(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		if db.PgCode(err) == db.CodeForeignKeyViolation {
			return ErrStudentHasInvoices
		}
		return fmt.Errorf("roster: delete student: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStudentNotFound
	}
	return nil
}

func scanSchool(row pgx.Row) (School, error) {
	var s School
	err := row.Scan(&s.ID, &s.Name, &s.Code, &s.Address, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func scanStudent(row pgx.Row) (Student, error) {
	var (
		s        Student
		enrolled time.Time
	)
	if err := row.Scan(&s.ID, &s.SchoolID, &s.FirstName, &s.LastName, &s.Email, &enrolled, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Student{}, err
	}
	s.EnrollmentDate = civil.DateOf(enrolled)
	return s, nil
}
