package roster

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/school-billing/internal/platform/httpx"
	"github.com/odyssey-erp/school-billing/internal/shared"
)

// Handler manages roster endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers roster routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/schools", h.listSchools)
	r.Get("/schools/{id}", h.getSchool)
	r.Get("/schools/{id}/students", h.listStudents)
	r.Get("/students/{id}", h.getStudent)
	r.Delete("/students/{id}", h.deleteStudent)
}

func (h *Handler) listSchools(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := httpx.BoolQuery(r, "active_only", false)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	schools, err := h.service.ListSchools(r.Context(), SchoolFilter{ActiveOnly: activeOnly})
	if err != nil {
		h.fail(w, "list schools", err)
		return
	}
	if schools == nil {
		schools = []School{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"schools": schools, "count": len(schools)})
}

func (h *Handler) getSchool(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	school, err := h.service.GetSchool(r.Context(), id)
	if err != nil {
		h.fail(w, "get school", err)
		return
	}
	httpx.JSON(w, http.StatusOK, school)
}

func (h *Handler) listStudents(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	activeOnly, err := httpx.BoolQuery(r, "active_only", false)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	students, err := h.service.ListStudents(r.Context(), id, StudentFilter{ActiveOnly: activeOnly})
	if err != nil {
		h.fail(w, "list students", err)
		return
	}
	if students == nil {
		students = []Student{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"students": students, "count": len(students)})
}

func (h *Handler) getStudent(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	student, err := h.service.GetStudent(r.Context(), id)
	if err != nil {
		h.fail(w, "get student", err)
		return
	}
	httpx.JSON(w, http.StatusOK, student)
}

func (h *Handler) deleteStudent(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteStudent(r.Context(), id); err != nil {
		h.fail(w, "delete student", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.Kind(err) == nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
