package handler

import (
	"net/http"
	"strings"

	"microhub-redistribution-api/internal/clock"
	"microhub-redistribution-api/internal/model"
	"microhub-redistribution-api/internal/repository"
	"microhub-redistribution-api/pkg/apierror"
	"microhub-redistribution-api/pkg/response"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// UnitRequest is an inventory unit as sent by clients.
type UnitRequest struct {
	SKUID         string           `json:"sku_id"`
	ProductName   string           `json:"product_name"`
	ExpiryDate    string           `json:"expiry_date"`
	Zone          string           `json:"zone"`
	Stock         int              `json:"stock"`
	Category      string           `json:"category,omitempty"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
}

func (u UnitRequest) toUnit() (model.InventoryUnit, *model.DataError) {
	unit := model.InventoryUnit{
		SKUID:       strings.TrimSpace(u.SKUID),
		ProductName: strings.TrimSpace(u.ProductName),
		Zone:        strings.TrimSpace(u.Zone),
		Stock:       u.Stock,
		Category:    strings.TrimSpace(u.Category),
	}
	if u.OriginalPrice != nil {
		unit.OriginalPrice = *u.OriginalPrice
	}
	if u.ExpiryDate != "" {
		d, err := clock.ParseDate(strings.TrimSpace(u.ExpiryDate))
		if err != nil {
			return unit, model.NewDataError(model.SourceInventory, unit.SKUID, "expiry_date", "must be YYYY-MM-DD")
		}
		unit.ExpiryDate = d
	}
	if derr := unit.Validate(); derr != nil {
		return unit, derr
	}
	return unit, nil
}

// toUnits converts a batch, splitting it into valid units and rejections.
func toUnits(reqs []UnitRequest) ([]model.InventoryUnit, []*model.DataError) {
	units := make([]model.InventoryUnit, 0, len(reqs))
	rejected := []*model.DataError{}
	for _, req := range reqs {
		unit, derr := req.toUnit()
		if derr != nil {
			rejected = append(rejected, derr)
			continue
		}
		units = append(units, unit)
	}
	return units, rejected
}

// InventoryHandler serves the stored inventory snapshot.
type InventoryHandler struct {
	repo repository.InventoryRepository
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(repo repository.InventoryRepository) *InventoryHandler {
	return &InventoryHandler{repo: repo}
}

// UpsertRequest is the body of POST /api/v1/inventory.
type UpsertRequest struct {
	Units []UnitRequest `json:"units"`
}

// UpsertInventory handles POST /api/v1/inventory
func (h *InventoryHandler) UpsertInventory(w http.ResponseWriter, r *http.Request) {
	var req UpsertRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Units) == 0 {
		response.Error(w, apierror.BadRequest("units is required"))
		return
	}

	units, rejected := toUnits(req.Units)
	if len(units) > 0 {
		if err := h.repo.UpsertUnits(r.Context(), units); err != nil {
			writeError(w, r, err)
			return
		}
	}

	zerolog.Ctx(r.Context()).Info().Int("stored", len(units)).Int("rejected", len(rejected)).Msg("inventory upserted")
	response.OK(w, map[string]interface{}{
		"stored":   len(units),
		"rejected": rejected,
	})
}

// GetInventory handles GET /api/v1/inventory
func (h *InventoryHandler) GetInventory(w http.ResponseWriter, r *http.Request) {
	units, rejected, err := h.repo.LoadSnapshot(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if units == nil {
		units = []model.InventoryUnit{}
	}
	if rejected == nil {
		rejected = []*model.DataError{}
	}

	response.JSONWithMeta(w, http.StatusOK, map[string]interface{}{
		"units":    units,
		"rejected": rejected,
	}, 0, 0, int64(len(units)))
}
