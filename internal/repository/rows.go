package repository

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"microhub-redistribution-api/internal/clock"
	"microhub-redistribution-api/internal/model"

	"github.com/shopspring/decimal"
)

// rawUnit is an inventory row before type conversion.
type rawUnit struct {
	SKUID    string
	Product  string
	Expiry   string
	Zone     string
	Stock    string
	Category string
	Price    string
}

func (r rawUnit) parse() (model.InventoryUnit, *model.DataError) {
	key := strings.TrimSpace(r.SKUID)
	fail := func(field, reason string) (model.InventoryUnit, *model.DataError) {
		return model.InventoryUnit{}, model.NewDataError(model.SourceInventory, key, field, reason)
	}

	expiry, err := parseDate(r.Expiry)
	if err != nil {
		return fail("expiry_date", "is not a YYYY-MM-DD date")
	}

	stock, err := strconv.Atoi(strings.TrimSpace(r.Stock))
	if err != nil {
		return fail("stock", "is not an integer")
	}

	var price decimal.Decimal
	if p := strings.TrimSpace(r.Price); p != "" {
		if price, err = decimal.NewFromString(p); err != nil {
			return fail("original_price", "is not a number")
		}
	}

	unit := model.InventoryUnit{
		SKUID:         key,
		ProductName:   strings.TrimSpace(r.Product),
		ExpiryDate:    expiry,
		Zone:          strings.TrimSpace(r.Zone),
		Stock:         stock,
		Category:      strings.TrimSpace(r.Category),
		OriginalPrice: price,
	}
	if derr := unit.Validate(); derr != nil {
		return model.InventoryUnit{}, derr
	}
	return unit, nil
}

// rawBuyer is a buyer row before type conversion.
type rawBuyer struct {
	Name        string
	Zone        string
	Channel     string
	Distance    string
	Engagement  string
	LastEngaged string
}

func (r rawBuyer) parse() (model.BuyerProfile, *model.DataError) {
	key := strings.TrimSpace(r.Name)
	fail := func(field, reason string) (model.BuyerProfile, *model.DataError) {
		return model.BuyerProfile{}, model.NewDataError(model.SourceBuyer, key, field, reason)
	}

	dist, err := strconv.ParseFloat(strings.TrimSpace(r.Distance), 64)
	if err != nil {
		return fail("distance_km", "is not a number")
	}
	eng, err := strconv.ParseFloat(strings.TrimSpace(r.Engagement), 64)
	if err != nil {
		return fail("engagement_score", "is not a number")
	}
	last, err := parseDate(r.LastEngaged)
	if err != nil {
		return fail("last_engaged", "is not a YYYY-MM-DD date")
	}

	b := model.BuyerProfile{
		Name:            key,
		Zone:            strings.TrimSpace(r.Zone),
		Channel:         model.ParseChannel(r.Channel),
		DistanceKm:      dist,
		EngagementScore: eng,
		LastEngaged:     last,
	}
	if derr := b.Validate(); derr != nil {
		return model.BuyerProfile{}, derr
	}
	return b, nil
}

// parseDate accepts a calendar date or a full timestamp as returned by drivers
// that decode DATE columns.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(clock.DateLayout) {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return clock.Date(t), nil
		}
	}
	return clock.ParseDate(s)
}

func formatPrice(p decimal.Decimal) sql.NullString {
	if p.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: p.String(), Valid: true}
}

// scanUnits reads rows selected as
// sku_id, product_name, expiry_date, zone, stock, category, original_price.
func scanUnits(rows *sql.Rows) ([]model.InventoryUnit, []*model.DataError, error) {
	defer rows.Close()

	var units []model.InventoryUnit
	var rejected []*model.DataError
	for rows.Next() {
		var sku, product, expiry, zone, stock, category, price sql.NullString
		if err := rows.Scan(&sku, &product, &expiry, &zone, &stock, &category, &price); err != nil {
			return nil, nil, fmt.Errorf("failed to scan inventory row: %w", err)
		}

		unit, derr := rawUnit{
			SKUID:    sku.String,
			Product:  product.String,
			Expiry:   expiry.String,
			Zone:     zone.String,
			Stock:    stock.String,
			Category: category.String,
			Price:    price.String,
		}.parse()
		if derr != nil {
			rejected = append(rejected, derr)
			continue
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read inventory rows: %w", err)
	}
	return units, rejected, nil
}

// scanBuyers reads rows selected as
// name, zone, channel, distance_km, engagement_score, last_engaged.
func scanBuyers(rows *sql.Rows) ([]model.BuyerProfile, []*model.DataError, error) {
	defer rows.Close()

	var buyers []model.BuyerProfile
	var rejected []*model.DataError
	for rows.Next() {
		var name, zone, channel, dist, eng, last sql.NullString
		if err := rows.Scan(&name, &zone, &channel, &dist, &eng, &last); err != nil {
			return nil, nil, fmt.Errorf("failed to scan buyer row: %w", err)
		}

		b, derr := rawBuyer{
			Name:        name.String,
			Zone:        zone.String,
			Channel:     channel.String,
			Distance:    dist.String,
			Engagement:  eng.String,
			LastEngaged: last.String,
		}.parse()
		if derr != nil {
			rejected = append(rejected, derr)
			continue
		}
		buyers = append(buyers, b)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read buyer rows: %w", err)
	}
	return buyers, rejected, nil
}
