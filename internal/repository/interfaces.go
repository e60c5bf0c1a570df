package repository

import (
	"context"
	"time"

	"microhub-redistribution-api/internal/model"
)

// SnapshotSource loads the inventory snapshot a redistribution run works on.
// Malformed records are returned as DataErrors instead of failing the load.
type SnapshotSource interface {
	LoadSnapshot(ctx context.Context) ([]model.InventoryUnit, []*model.DataError, error)
}

// InventoryRepository defines inventory data access methods.
type InventoryRepository interface {
	SnapshotSource

	// UpsertUnits inserts or updates units keyed by SKU id.
	UpsertUnits(ctx context.Context, units []model.InventoryUnit) error

	// DeleteExpiredBefore removes units whose expiry date is before cutoff.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// GetStats returns statistics about the inventory database.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Close closes the repository connection.
	Close() error
}

// BuyerRepository defines buyer directory data access methods.
type BuyerRepository interface {
	// ListBuyers returns every buyer row; malformed rows come back as DataErrors.
	ListBuyers(ctx context.Context) ([]model.BuyerProfile, []*model.DataError, error)

	// UpsertBuyers inserts or updates buyers keyed by name.
	UpsertBuyers(ctx context.Context, buyers []model.BuyerProfile) error
}
