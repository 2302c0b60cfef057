package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStatementsWarmup rebuilds cached school statements and prunes
	// expired idempotency keys.
	TaskStatementsWarmup = "billing:statements_warmup"
	// TaskReportsArchive exports one month of daily collections to object storage.
	TaskReportsArchive = "billing:reports_archive"
)

// StatementsWarmupPayload scopes a warmup run.
type StatementsWarmupPayload struct {
	// SchoolScope is "active" (default) or "all".
	SchoolScope string `json:"school_scope"`
}

// NewStatementsWarmupTask constructs the warmup task.
func NewStatementsWarmupTask(scope string) (*asynq.Task, error) {
	data, err := json.Marshal(StatementsWarmupPayload{SchoolScope: scope})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatementsWarmup, data), nil
}

// ReportsArchivePayload selects the archived month. An empty Month means the
// month before the run date.
type ReportsArchivePayload struct {
	Month string `json:"month,omitempty"`
}

// NewReportsArchiveTask constructs the archive task.
func NewReportsArchiveTask(month string) (*asynq.Task, error) {
	data, err := json.Marshal(ReportsArchivePayload{Month: month})
	if err != nil {
		return nil, fmt.Errorf("jobs: encode archive payload: %w", err)
	}
	return asynq.NewTask(TaskReportsArchive, data), nil
}
