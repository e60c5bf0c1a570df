package handler

import (
	"net/http"
	"strings"

	"microhub-redistribution-api/internal/clock"
	"microhub-redistribution-api/internal/directory"
	"microhub-redistribution-api/pkg/apierror"
	"microhub-redistribution-api/pkg/response"
)

// BuyerHandler serves the buyer directory and its zone rankings.
type BuyerHandler struct {
	ranker *directory.Ranker
	clock  clock.Clock
}

// NewBuyerHandler creates a new buyer handler.
func NewBuyerHandler(ranker *directory.Ranker, c clock.Clock) *BuyerHandler {
	if c == nil {
		c = clock.NewSystem()
	}
	return &BuyerHandler{ranker: ranker, clock: c}
}

// ListBuyers handles GET /api/v1/buyers
func (h *BuyerHandler) ListBuyers(w http.ResponseWriter, r *http.Request) {
	dir := h.ranker.Directory()
	buyers := dir.Buyers()
	response.JSONWithMeta(w, http.StatusOK, map[string]interface{}{
		"version": dir.Version(),
		"zones":   dir.Zones(),
		"buyers":  buyers,
	}, 0, 0, int64(len(buyers)))
}

// Ranked handles GET /api/v1/buyers/ranked?zone=Zone%20A&today=YYYY-MM-DD
func (h *BuyerHandler) Ranked(w http.ResponseWriter, r *http.Request) {
	zone := strings.TrimSpace(r.URL.Query().Get("zone"))
	if zone == "" {
		response.Error(w, apierror.ValidationError("zone is required", apierror.FieldError{
			Field:   "zone",
			Message: "required",
		}))
		return
	}
	today, err := parseDay("today", r.URL.Query().Get("today"), clock.Today(h.clock))
	if err != nil {
		writeError(w, r, err)
		return
	}

	scored := h.ranker.Scored(r.Context(), zone, today)
	response.JSONWithMeta(w, http.StatusOK, map[string]interface{}{
		"zone":   zone,
		"date":   today.Format(clock.DateLayout),
		"buyers": scored,
	}, 0, 0, int64(len(scored)))
}
