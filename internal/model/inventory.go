package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InventoryUnit is one row of an inventory snapshot.
type InventoryUnit struct {
	SKUID       string    `json:"sku_id"`
	ProductName string    `json:"product_name"`
	ExpiryDate  time.Time `json:"expiry_date"`
	Zone        string    `json:"zone"`
	Stock       int       `json:"stock"`
	Category    string    `json:"category,omitempty"`
	// OriginalPrice is optional; zero means the price is generated at match time.
	OriginalPrice decimal.Decimal `json:"original_price"`
}

// Validate reports the first missing or out-of-range field.
func (u InventoryUnit) Validate() *DataError {
	switch {
	case strings.TrimSpace(u.SKUID) == "":
		return NewDataError(SourceInventory, u.SKUID, "sku_id", "required")
	case strings.TrimSpace(u.ProductName) == "":
		return NewDataError(SourceInventory, u.SKUID, "product_name", "required")
	case u.ExpiryDate.IsZero():
		return NewDataError(SourceInventory, u.SKUID, "expiry_date", "required")
	case strings.TrimSpace(u.Zone) == "":
		return NewDataError(SourceInventory, u.SKUID, "zone", "required")
	case u.Stock < 0:
		return NewDataError(SourceInventory, u.SKUID, "stock", "must be >= 0")
	case u.OriginalPrice.IsNegative():
		return NewDataError(SourceInventory, u.SKUID, "original_price", "must be >= 0")
	}
	return nil
}

// UpcomingExpiry is a unit expiring later than the redistribution window.
type UpcomingExpiry struct {
	SKUID   string    `json:"sku_id"`
	Product string    `json:"product"`
	Expiry  time.Time `json:"expiry"`
	Stock   int       `json:"stock"`
	Zone    string    `json:"zone"`
}
