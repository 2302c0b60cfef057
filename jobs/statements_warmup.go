package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/school-billing/internal/jobs"
	"github.com/odyssey-erp/school-billing/internal/roster"
	"github.com/odyssey-erp/school-billing/internal/statement"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SchoolLister lists the schools to warm.
type SchoolLister interface {
	ListSchools(ctx context.Context, filter roster.SchoolFilter) ([]roster.School, error)
}

// StatementWarmer builds and caches a school statement.
type StatementWarmer interface {
	SchoolStatement(ctx context.Context, schoolID uuid.UUID, period statement.Period) (statement.SchoolStatement, error)
}

// IdempotencyCleaner removes expired idempotency keys.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// StatementsWarmupJob pre-populates the statement cache for every school and
// prunes idempotency keys past their retention.
type StatementsWarmupJob struct {
	Schools     SchoolLister
	Statements  StatementWarmer
	Idempotency IdempotencyCleaner
	Retention   time.Duration
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	clock       func() time.Time
}

// NewStatementsWarmupJob wires dependencies for the warmup handler.
func NewStatementsWarmupJob(schools SchoolLister, statements StatementWarmer, idempotency IdempotencyCleaner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatementsWarmupJob {
	return &StatementsWarmupJob{
		Schools:     schools,
		Statements:  statements,
		Idempotency: idempotency,
		Retention:   retention,
		Logger:      logger,
		Metrics:     metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes statement warmup tasks.
func (j *StatementsWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Schools == nil || j.Statements == nil {
		return errors.New("statements warmup: handler not configured")
	}
	var payload StatementsWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.SchoolScope == "" {
		payload.SchoolScope = "active"
	}

	tracker := j.metrics().Track(TaskStatementsWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("school_scope", payload.SchoolScope))
	logger.Info("starting statements warmup")
	start := j.now()

	schools, err := j.Schools.ListSchools(ctx, roster.SchoolFilter{ActiveOnly: payload.SchoolScope != "all"})
	if err != nil {
		resultErr = err
		logger.Error("load warmup schools", slog.Any("error", err))
		return resultErr
	}

	warmed := 0
	for _, school := range schools {
		schoolCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		_, err := j.Statements.SchoolStatement(schoolCtx, school.ID, statement.Period{})
		cancel()
		if err != nil {
			resultErr = err
			logger.Error("warm school statement", slog.String("school_id", school.ID.String()), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}
	j.metrics().AddItems(TaskStatementsWarmup, "statements", warmed)

	if j.Idempotency != nil && j.Retention > 0 {
		removed, err := j.Idempotency.Cleanup(ctx, j.Retention)
		if err != nil {
			resultErr = err
			logger.Error("cleanup idempotency keys", slog.Any("error", err))
			return resultErr
		}
		j.metrics().AddItems(TaskStatementsWarmup, "idempotency_keys", int(removed))
		logger.Info("pruned idempotency keys", slog.Int64("removed", removed))
	}

	logger.Info("completed statements warmup", slog.Int("schools", warmed), slog.Duration("duration", j.now().Sub(start)))
	return resultErr
}

func (j *StatementsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStatementsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskStatementsWarmup))
}

func (j *StatementsWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StatementsWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
