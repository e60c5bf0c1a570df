package handler

import (
	"net/http"
	"strings"

	"microhub-redistribution-api/internal/model"
	"microhub-redistribution-api/internal/service"
	"microhub-redistribution-api/pkg/apierror"
	"microhub-redistribution-api/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// RetryHandler manages the retry queue.
type RetryHandler struct {
	svc *service.RedistributionService
}

// NewRetryHandler creates a new retry handler.
func NewRetryHandler(svc *service.RedistributionService) *RetryHandler {
	return &RetryHandler{svc: svc}
}

// EnqueueRequest is the body of POST /api/v1/retry-queue.
type EnqueueRequest struct {
	RunID string `json:"run_id"`
	SKUID string `json:"sku_id"`
}

// PassRequest is the optional body of the retry endpoints. Zero uses the default
// escalation.
type PassRequest struct {
	EscalationPct int `json:"escalation_pct"`
}

// ListQueue handles GET /api/v1/retry-queue
func (h *RetryHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	entries := h.svc.Queue().Entries()
	if entries == nil {
		entries = []model.RetryEntry{}
	}
	response.JSONWithMeta(w, http.StatusOK, entries, 0, 0, int64(len(entries)))
}

// Enqueue handles POST /api/v1/retry-queue
func (h *RetryHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var details []apierror.FieldError
	if strings.TrimSpace(req.RunID) == "" {
		details = append(details, apierror.FieldError{Field: "run_id", Message: "required"})
	}
	if strings.TrimSpace(req.SKUID) == "" {
		details = append(details, apierror.FieldError{Field: "sku_id", Message: "required"})
	}
	if len(details) > 0 {
		response.Error(w, apierror.ValidationError("invalid retry request", details...))
		return
	}

	queued, err := h.svc.EnqueueFromRun(r.Context(), req.RunID, req.SKUID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	body := map[string]interface{}{
		"sku_id":      req.SKUID,
		"queued":      queued,
		"queue_depth": h.svc.Queue().Len(),
	}
	if !queued {
		response.OK(w, body)
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("sku_id", req.SKUID).Str("run_id", req.RunID).Msg("queued for retry")
	response.Created(w, body)
}

// Pass handles POST /api/v1/retry-queue/pass
func (h *RetryHandler) Pass(w http.ResponseWriter, r *http.Request) {
	var req PassRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.svc.RetryPass(r.Context(), req.EscalationPct)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, res)
}

// RetryOne handles POST /api/v1/retry-queue/{sku_id}/retry
func (h *RetryHandler) RetryOne(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku_id")
	var req PassRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, found, err := h.svc.RetryOne(r.Context(), sku, req.EscalationPct)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !found {
		writeError(w, r, model.ErrEntryNotQueued)
		return
	}
	response.OK(w, res)
}

// Remove handles DELETE /api/v1/retry-queue/{sku_id}
func (h *RetryHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Queue().Remove(chi.URLParam(r, "sku_id")); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}
