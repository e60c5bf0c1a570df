package handler

import (
	"net/http"

	"microhub-redistribution-api/internal/model"
	"microhub-redistribution-api/internal/service"
	"microhub-redistribution-api/pkg/apierror"
	"microhub-redistribution-api/pkg/response"
	"microhub-redistribution-api/pkg/uid"

	"github.com/go-chi/chi/v5"
)

// RedistributionHandler runs the matching flow and serves stored runs.
type RedistributionHandler struct {
	svc    *service.RedistributionService
	symbol string
}

// NewRedistributionHandler creates a new redistribution handler. symbol prefixes the
// prices of report rows.
func NewRedistributionHandler(svc *service.RedistributionService, symbol string) *RedistributionHandler {
	return &RedistributionHandler{svc: svc, symbol: symbol}
}

// RunRequest is the optional body of POST /api/v1/redistribution/runs. Without
// inventory the configured snapshot source is used.
type RunRequest struct {
	Today     string        `json:"today,omitempty"`
	Inventory []UnitRequest `json:"inventory,omitempty"`
}

// RunResponse is a report together with its display rows.
type RunResponse struct {
	*model.Report
	Rows []model.ReportRow `json:"rows"`
}

func (h *RedistributionHandler) runResponse(report *model.Report) RunResponse {
	return RunResponse{Report: report, Rows: report.Rows(h.symbol)}
}

// CreateRun handles POST /api/v1/redistribution/runs
func (h *RedistributionHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	today, err := parseDay("today", req.Today, h.svc.Today())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var report *model.Report
	if req.Inventory != nil {
		units, rejected := toUnits(req.Inventory)
		report, err = h.svc.RunBatch(r.Context(), units, rejected, today)
	} else {
		report, err = h.svc.RunSnapshot(r.Context(), today)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.Created(w, h.runResponse(report))
}

// ListRuns handles GET /api/v1/redistribution/runs
func (h *RedistributionHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.svc.Runs(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSONWithMeta(w, http.StatusOK, runs, 0, 0, int64(len(runs)))
}

// GetRun handles GET /api/v1/redistribution/runs/{run_id}
func (h *RedistributionHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if !uid.IsValid(runID) {
		writeError(w, r, model.ErrRunNotFound)
		return
	}

	report, err := h.svc.Report(r.Context(), runID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, h.runResponse(report))
}

// Upcoming handles GET /api/v1/redistribution/upcoming?from=3&to=5&today=YYYY-MM-DD
func (h *RedistributionHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	from, err := queryInt(r, "from", service.DefaultUpcomingFrom)
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := queryInt(r, "to", service.DefaultUpcomingTo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if from < 0 || to < from {
		response.Error(w, apierror.BadRequest("from must be >= 0 and to must be >= from"))
		return
	}
	today, err := parseDay("today", r.URL.Query().Get("today"), h.svc.Today())
	if err != nil {
		writeError(w, r, err)
		return
	}

	upcoming, err := h.svc.UpcomingFromSnapshot(r.Context(), today, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSONWithMeta(w, http.StatusOK, upcoming, 0, 0, int64(len(upcoming)))
}
