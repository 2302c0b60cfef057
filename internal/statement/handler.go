package statement

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/school-billing/internal/platform/httpx"
	"github.com/odyssey-erp/school-billing/internal/shared"
)

// Handler serves statement endpoints.
type Handler struct {
	logger  *slog.Logger
	service *CachedService
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *CachedService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers statement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/students/{id}/statement", h.studentStatement)
	r.Get("/schools/{id}/statement", h.schoolStatement)
}

func periodFromRequest(r *http.Request) (Period, error) {
	from, to, err := httpx.Period(r)
	if err != nil {
		return Period{}, err
	}
	return Period{From: from, To: to}, nil
}

func (h *Handler) studentStatement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := periodFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.StudentStatement(r.Context(), id, period)
	if err != nil {
		h.fail(w, "student statement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) schoolStatement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := periodFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.SchoolStatement(r.Context(), id, period)
	if err != nil {
		h.fail(w, "school statement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.Kind(err) == nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
