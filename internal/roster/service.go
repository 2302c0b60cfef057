package roster

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// RepositoryPort defines data access methods for the roster.
type RepositoryPort interface {
	GetSchool(ctx context.Context, id uuid.UUID) (School, error)
	ListSchools(ctx context.Context, filter SchoolFilter) ([]School, error)
	GetStudent(ctx context.Context, id uuid.UUID) (Student, error)
	ListStudents(ctx context.Context, schoolID uuid.UUID, filter StudentFilter) ([]Student, error)
	DeleteStudent(ctx context.Context, id uuid.UUID) error
}

// Service handles roster lookups.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// GetSchool returns one school.
func (s *Service) GetSchool(ctx context.Context, id uuid.UUID) (School, error) {
	return s.repo.GetSchool(ctx, id)
}

// ListSchools returns schools, optionally only active ones.
func (s *Service) ListSchools(ctx context.Context, filter SchoolFilter) ([]School, error) {
	return s.repo.ListSchools(ctx, filter)
}

// GetStudent returns one student.
func (s *Service) GetStudent(ctx context.Context, id uuid.UUID) (Student, error) {
	return s.repo.GetStudent(ctx, id)
}

// ListStudents returns the students of an existing school.
func (s *Service) ListStudents(ctx context.Context, schoolID uuid.UUID, filter StudentFilter) ([]Student, error) {
	if _, err := s.repo.GetSchool(ctx, schoolID); err != nil {
		return nil, err
	}
	return s.repo.ListStudents(ctx, schoolID, filter)
}

// DeleteStudent removes a student without invoices.
func (s *Service) DeleteStudent(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteStudent(ctx, id); err != nil {
		return err
	}
	s.logger.Info("student deleted", slog.String("student_id", id.String()))
	return nil
}
