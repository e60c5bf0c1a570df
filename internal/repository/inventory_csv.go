package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"microhub-redistribution-api/internal/model"
)

// csvColumns maps accepted header names to unit fields. "location" is the
// warehouse export name for the zone column.
var csvColumns = map[string]string{
	"sku_id":         "sku_id",
	"product_name":   "product_name",
	"product":        "product_name",
	"expiry_date":    "expiry_date",
	"location":       "zone",
	"zone":           "zone",
	"stock":          "stock",
	"category":       "category",
	"price":          "original_price",
	"original_price": "original_price",
}

var requiredCSVColumns = []string{"sku_id", "product_name", "expiry_date", "zone", "stock"}

// CSVSnapshot reads the inventory snapshot from a CSV export.
type CSVSnapshot struct {
	path string
}

// NewCSVSnapshot creates a snapshot source for the file at path.
func NewCSVSnapshot(path string) *CSVSnapshot {
	return &CSVSnapshot{path: path}
}

// LoadSnapshot opens and parses the file on every call so edits are picked up by the next run.
func (s *CSVSnapshot) LoadSnapshot(ctx context.Context) ([]model.InventoryUnit, []*model.DataError, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open inventory CSV: %w", err)
	}
	defer f.Close()

	return ParseSnapshotCSV(ctx, f)
}

// ParseSnapshotCSV parses an inventory CSV with a header row. A missing required
// column fails the whole file; a bad row is rejected on its own.
func ParseSnapshotCSV(ctx context.Context, r io.Reader) ([]model.InventoryUnit, []*model.DataError, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if field, ok := csvColumns[name]; ok {
			if _, dup := index[field]; !dup {
				index[field] = i
			}
		}
	}
	for _, col := range requiredCSVColumns {
		if _, ok := index[col]; !ok {
			return nil, nil, fmt.Errorf("inventory CSV is missing column %q", col)
		}
	}

	get := func(rec []string, field string) string {
		i, ok := index[field]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var units []model.InventoryUnit
	var rejected []*model.DataError
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		rec, err := cr.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rejected = append(rejected, model.NewDataError(model.SourceInventory, fmt.Sprintf("line %d", line), "row", err.Error()))
			continue
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}

		unit, derr := rawUnit{
			SKUID:    get(rec, "sku_id"),
			Product:  get(rec, "product_name"),
			Expiry:   get(rec, "expiry_date"),
			Zone:     get(rec, "zone"),
			Stock:    get(rec, "stock"),
			Category: get(rec, "category"),
			Price:    get(rec, "original_price"),
		}.parse()
		if derr != nil {
			if derr.Key == "" {
				derr.Key = fmt.Sprintf("line %d", line)
			}
			rejected = append(rejected, derr)
			continue
		}
		units = append(units, unit)
	}

	return units, rejected, nil
}

// Ensure CSVSnapshot implements SnapshotSource
var _ SnapshotSource = (*CSVSnapshot)(nil)
