package reports

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/school-billing/internal/platform/httpx"
	"github.com/odyssey-erp/school-billing/internal/shared"
)

// Handler serves report endpoints as JSON or CSV.
type Handler struct {
	logger  *slog.Logger
	service *Service
	csvPool sync.Pool
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	h := &Handler{logger: logger, service: service}
	h.csvPool.New = func() interface{} { return new(bytes.Buffer) }
	return h
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Get("/overdue", h.overdue)
		r.Get("/daily-collections", h.dailyCollections)
		r.Get("/monthly-revenue", h.monthlyRevenue)
		r.Get("/student-balances", h.studentBalances)
		r.Get("/school-summaries", h.schoolSummaries)
	})
}

func filterFromRequest(r *http.Request) (Filter, error) {
	schoolID, err := httpx.UUIDQuery(r, "school_id")
	if err != nil {
		return Filter{}, err
	}
	from, to, err := httpx.Period(r)
	if err != nil {
		return Filter{}, err
	}
	return Filter{SchoolID: schoolID, From: from, To: to}, nil
}

func wantsCSV(r *http.Request) (bool, error) {
	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "", "json":
		return false, nil
	case "csv":
		return true, nil
	default:
		return false, fmt.Errorf("%w: format must be json or csv", httpx.ErrValidation)
	}
}

// serve runs one report and renders it in the requested format.
func serve[T any](h *Handler, w http.ResponseWriter, r *http.Request, name string,
	load func(*http.Request, Filter) ([]T, error), writeCSV func(io.Writer, []T) error) {
	filter, err := filterFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	csvOut, err := wantsCSV(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := load(r, filter)
	if err != nil {
		h.fail(w, name, err)
		return
	}
	if !csvOut {
		httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows, "count": len(rows)})
		return
	}

	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		h.csvPool.Put(buf)
	}()
	if err := writeCSV(buf, rows); err != nil {
		h.fail(w, "write "+name+" csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.csv\"", name))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Error("stream csv", slog.Any("error", err))
	}
}

func (h *Handler) overdue(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "overdue", func(r *http.Request, f Filter) ([]OverdueRow, error) {
		return h.service.Overdue(r.Context(), f)
	}, WriteOverdueCSV)
}

func (h *Handler) dailyCollections(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "daily-collections", func(r *http.Request, f Filter) ([]DailyCollection, error) {
		return h.service.DailyCollections(r.Context(), f)
	}, WriteDailyCollectionsCSV)
}

func (h *Handler) monthlyRevenue(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "monthly-revenue", func(r *http.Request, f Filter) ([]MonthlyRevenue, error) {
		return h.service.MonthlyRevenue(r.Context(), f)
	}, WriteMonthlyRevenueCSV)
}

func (h *Handler) studentBalances(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "student-balances", func(r *http.Request, f Filter) ([]StudentBalance, error) {
		return h.service.StudentBalances(r.Context(), f)
	}, WriteStudentBalancesCSV)
}

func (h *Handler) schoolSummaries(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "school-summaries", func(r *http.Request, f Filter) ([]SchoolSummary, error) {
		return h.service.SchoolSummaries(r.Context(), f)
	}, WriteSchoolSummariesCSV)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.Kind(err) == nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
