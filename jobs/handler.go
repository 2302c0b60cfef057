package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/school-billing/internal/platform/httpx"
)

// QueueInspector reads queue state. *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Enqueuer submits out-of-schedule runs. *Client satisfies it.
type Enqueuer interface {
	EnqueueStatementsWarmup(ctx context.Context, scope string) (*asynq.TaskInfo, error)
	EnqueueReportsArchive(ctx context.Context, month string) (*asynq.TaskInfo, error)
}

// Handler exposes queue health and manual triggers for the billing jobs.
type Handler struct {
	inspector QueueInspector
	enqueuer  Enqueuer
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints. Either dependency
// may be nil.
func NewHandler(inspector QueueInspector, enqueuer Enqueuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, enqueuer: enqueuer, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Post("/statements-warmup", h.triggerWarmup)
	r.Post("/reports-archive", h.triggerArchive)
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Failed    int    `json:"failed_today"`
}

type enqueued struct {
	TaskID string `json:"task_id"`
	Type   string `json:"type"`
	Queue  string `json:"queue"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueueDefault})
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "job queue is unreachable")
		return
	}
	out := queueHealth{Queue: QueueDefault}
	if info != nil {
		out = queueHealth{
			Queue:     info.Queue,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Failed:    info.Failed,
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) triggerWarmup(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	switch scope {
	case "":
		scope = "active"
	case "active", "all":
	default:
		httpx.RespondError(w, fmt.Errorf("%w: scope must be active or all", httpx.ErrValidation))
		return
	}
	h.enqueue(w, r, TaskStatementsWarmup, func(ctx context.Context) (*asynq.TaskInfo, error) {
		return h.enqueuer.EnqueueStatementsWarmup(ctx, scope)
	})
}

func (h *Handler) triggerArchive(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	if month != "" {
		if _, err := time.Parse("2006-01", month); err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: month must be YYYY-MM", httpx.ErrValidation))
			return
		}
	}
	h.enqueue(w, r, TaskReportsArchive, func(ctx context.Context) (*asynq.TaskInfo, error) {
		return h.enqueuer.EnqueueReportsArchive(ctx, month)
	})
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, taskType string, fn func(context.Context) (*asynq.TaskInfo, error)) {
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "job queue is not configured")
		return
	}
	info, err := fn(r.Context())
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
			httpx.Problem(w, http.StatusConflict, "Conflict", "an identical job is already queued")
			return
		}
		h.logger.Error("enqueue job", slog.String("type", taskType), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "job could not be queued")
		return
	}
	h.logger.Info("job enqueued", slog.String("type", taskType), slog.String("task_id", info.ID))
	httpx.JSON(w, http.StatusAccepted, enqueued{TaskID: info.ID, Type: info.Type, Queue: info.Queue})
}
