package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const noAssignment = "—"

// Summary aggregates the outcome of a run or retry pass.
type Summary struct {
	Flagged       int `json:"flagged"`
	Contacted     int `json:"contacted"`
	Accepted      int `json:"accepted"`
	Unsold        int `json:"unsold"`
	StockSaved    int `json:"stock_saved"`
	Unprocessable int `json:"unprocessable"`
}

// Report is the result of one redistribution run.
type Report struct {
	RunID         string                 `json:"run_id"`
	Date          time.Time              `json:"date"`
	GeneratedAt   time.Time              `json:"generated_at"`
	Records       []RedistributionRecord `json:"records"`
	Unprocessable []*DataError           `json:"unprocessable"`
	Log           []string               `json:"log"`
	Summary       Summary                `json:"summary"`
}

// Record returns the record for sku, if present.
func (r *Report) Record(sku string) (RedistributionRecord, bool) {
	for _, rec := range r.Records {
		if rec.SKUID == sku {
			return rec, true
		}
	}
	return RedistributionRecord{}, false
}

// ReportRow is the presentation view of a record handed to the reporting collaborator.
type ReportRow struct {
	SKUID       string `json:"sku_id"`
	Product     string `json:"product"`
	Expiry      string `json:"expiry"`
	Zone        string `json:"zone"`
	Buyer       string `json:"buyer"`
	Channel     string `json:"channel"`
	OldPrice    string `json:"old_price"`
	NewPrice    string `json:"new_price"`
	DiscountPct int    `json:"discount_pct"`
	Stock       int    `json:"stock"`
	Status      Status `json:"status"`
}

// Row renders r with prices formatted using the currency symbol.
func (r RedistributionRecord) Row(symbol string) ReportRow {
	row := ReportRow{
		SKUID:       r.SKUID,
		Product:     r.Product,
		Expiry:      r.ExpiryDate.Format("2006-01-02"),
		Zone:        r.Zone,
		Buyer:       noAssignment,
		Channel:     noAssignment,
		OldPrice:    FormatPrice(r.OriginalPrice, symbol),
		NewPrice:    FormatPrice(r.Price, symbol),
		DiscountPct: r.DiscountPct,
		Stock:       r.Stock,
		Status:      r.Status,
	}
	if r.Assignment != nil {
		row.Buyer = r.Assignment.Buyer
		row.Channel = string(r.Assignment.Channel)
	}
	return row
}

// Rows renders every record of the report.
func (r *Report) Rows(symbol string) []ReportRow {
	rows := make([]ReportRow, len(r.Records))
	for i, rec := range r.Records {
		rows[i] = rec.Row(symbol)
	}
	return rows
}

// FormatPrice renders an amount with two decimals, e.g. "₹50.00".
func FormatPrice(amount decimal.Decimal, symbol string) string {
	return symbol + amount.StringFixed(2)
}
