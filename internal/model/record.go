package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a RedistributionRecord.
type Status string

const (
	StatusPending     Status = "Pending"
	StatusRouted      Status = "Routed"
	StatusUnsold      Status = "Unsold"
	StatusRoutedRetry Status = "RoutedRetry"
	StatusRetryFailed Status = "RetryFailed"
)

// IsRouted reports whether the status carries an assigned buyer.
func (s Status) IsRouted() bool {
	return s == StatusRouted || s == StatusRoutedRetry
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRouted, StatusUnsold, StatusRoutedRetry, StatusRetryFailed:
		return true
	}
	return false
}

// Assignment is the buyer that accepted an offer.
type Assignment struct {
	Buyer   string  `json:"buyer"`
	Channel Channel `json:"channel"`
}

// RedistributionRecord tracks one near-expiry unit through matching and retries.
// Assignment is non-nil iff Status is Routed or RoutedRetry.
type RedistributionRecord struct {
	SKUID         string          `json:"sku_id"`
	Product       string          `json:"product"`
	ExpiryDate    time.Time       `json:"expiry_date"`
	Zone          string          `json:"zone"`
	Category      string          `json:"category,omitempty"`
	DaysToExpiry  int             `json:"days_to_expiry"`
	DiscountPct   int             `json:"discount_pct"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Assignment    *Assignment     `json:"assignment"`
	Stock         int             `json:"stock"`
	Status        Status          `json:"status"`
}

// NewRecord derives a Pending record from an inventory unit.
func NewRecord(unit InventoryUnit, daysToExpiry, discountPct int, original, price decimal.Decimal) RedistributionRecord {
	return RedistributionRecord{
		SKUID:         unit.SKUID,
		Product:       unit.ProductName,
		ExpiryDate:    unit.ExpiryDate,
		Zone:          unit.Zone,
		Category:      unit.Category,
		DaysToExpiry:  daysToExpiry,
		DiscountPct:   discountPct,
		Price:         price,
		OriginalPrice: original,
		Stock:         unit.Stock,
		Status:        StatusPending,
	}
}

// Assign records the accepting buyer. status must be Routed or RoutedRetry.
func (r *RedistributionRecord) Assign(buyer BuyerProfile, status Status) error {
	if !status.IsRouted() {
		return ErrInvalidStatus
	}
	r.Assignment = &Assignment{Buyer: buyer.Name, Channel: buyer.Channel}
	r.Status = status
	return nil
}

// Unassign clears the buyer and moves to an unresolved status.
func (r *RedistributionRecord) Unassign(status Status) error {
	if status.IsRouted() || !status.Valid() {
		return ErrInvalidStatus
	}
	r.Assignment = nil
	r.Status = status
	return nil
}

// Reprice applies a new discount percentage and price.
func (r *RedistributionRecord) Reprice(discountPct int, price decimal.Decimal) {
	r.DiscountPct = discountPct
	r.Price = price
}
