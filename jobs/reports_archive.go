package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/school-billing/internal/jobs"
	"github.com/odyssey-erp/school-billing/internal/platform/objectstore"
	"github.com/odyssey-erp/school-billing/internal/reports"
)

// CollectionsSource computes daily collections.
type CollectionsSource interface {
	DailyCollections(ctx context.Context, filter reports.Filter) ([]reports.DailyCollection, error)
}

// ReportsArchiveJob writes one month of daily collections as CSV to object
// storage under collections/daily-YYYY-MM.csv.
type ReportsArchiveJob struct {
	Reports  CollectionsSource
	Store    objectstore.Store
	Location *time.Location
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewReportsArchiveJob wires dependencies for the archive handler.
func NewReportsArchiveJob(source CollectionsSource, store objectstore.Store, loc *time.Location, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportsArchiveJob {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportsArchiveJob{
		Reports:  source,
		Store:    store,
		Location: loc,
		Logger:   logger,
		Metrics:  metrics,
		clock:    time.Now,
	}
}

// ArchiveObjectName names the archive of the month starting at first.
func ArchiveObjectName(first civil.Date) string {
	return fmt.Sprintf("collections/daily-%s.csv", reports.MonthKey(first))
}

// Handle processes archive tasks.
func (j *ReportsArchiveJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reports == nil || j.Store == nil {
		return errors.New("reports archive: handler not configured")
	}
	var payload ReportsArchivePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	first, last, err := j.monthRange(payload.Month)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	tracker := j.metrics().Track(TaskReportsArchive)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	object := ArchiveObjectName(first)
	logger := j.logger().With(slog.String("object", object))

	rows, err := j.Reports.DailyCollections(ctx, reports.Filter{From: &first, To: &last})
	if err != nil {
		resultErr = err
		logger.Error("load daily collections", slog.Any("error", err))
		return resultErr
	}

	var buf bytes.Buffer
	if err := reports.WriteDailyCollectionsCSV(&buf, rows); err != nil {
		resultErr = err
		return resultErr
	}
	if err := j.Store.EnsureBucket(ctx); err != nil {
		resultErr = err
		logger.Error("ensure archive bucket", slog.Any("error", err))
		return resultErr
	}
	if err := j.Store.Put(ctx, object, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "text/csv"); err != nil {
		resultErr = err
		logger.Error("upload archive", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddItems(TaskReportsArchive, "rows", len(rows))
	logger.Info("archived daily collections", slog.Int("rows", len(rows)), slog.Int("bytes", buf.Len()))
	return resultErr
}

func (j *ReportsArchiveJob) monthRange(month string) (civil.Date, civil.Date, error) {
	if month == "" {
		first, last := reports.PreviousMonth(civil.DateOf(j.now().In(j.location())))
		return first, last, nil
	}
	parsed, err := time.Parse("2006-01", month)
	if err != nil {
		return civil.Date{}, civil.Date{}, fmt.Errorf("invalid month %q", month)
	}
	first := civil.DateOf(parsed)
	// The last day of month M is the day before the first of M+1.
	next := civil.DateOf(parsed.AddDate(0, 1, 0))
	return first, next.AddDays(-1), nil
}

func (j *ReportsArchiveJob) location() *time.Location {
	if j.Location != nil {
		return j.Location
	}
	return time.UTC
}

func (j *ReportsArchiveJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReportsArchive))
	}
	return slog.Default().With(slog.String("job", TaskReportsArchive))
}

func (j *ReportsArchiveJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReportsArchiveJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}
