package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"microhub-redistribution-api/internal/clock"
	"microhub-redistribution-api/internal/model"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteRepository stores the inventory snapshot and the buyer directory in SQLite.
// Thread-safe with WAL mode for concurrent reads.
type SQLiteRepository struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteRepository opens (or creates) the database at dbPath, e.g. "./data/inventory.db".
// ":memory:" gives a private in-memory database.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	dsn := dbPath
	if !strings.Contains(dbPath, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer; a single long-lived connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Info().Str("component", "repository").Str("path", dbPath).Msg("SQLite repository initialized")
	return &SQLiteRepository{db: db}, nil
}

func createTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS inventory_units (
		sku_id TEXT PRIMARY KEY,
		product_name TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		zone TEXT NOT NULL,
		stock INTEGER NOT NULL DEFAULT 0,
		category TEXT,
		original_price TEXT,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_inventory_expiry ON inventory_units(expiry_date);
	CREATE TABLE IF NOT EXISTS buyers (
		name TEXT PRIMARY KEY,
		zone TEXT NOT NULL,
		channel TEXT NOT NULL,
		distance_km REAL NOT NULL,
		engagement_score REAL NOT NULL,
		last_engaged TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_buyers_zone ON buyers(zone);
	`
	_, err := db.Exec(query)
	return err
}

// LoadSnapshot returns every stored unit ordered by expiry then SKU.
func (r *SQLiteRepository) LoadSnapshot(ctx context.Context) ([]model.InventoryUnit, []*model.DataError, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, `
		SELECT sku_id, product_name, expiry_date, zone, stock, category, original_price
		FROM inventory_units ORDER BY expiry_date, sku_id`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load inventory snapshot: %w", err)
	}
	return scanUnits(rows)
}

// UpsertUnits inserts or updates units in a single transaction.
func (r *SQLiteRepository) UpsertUnits(ctx context.Context, units []model.InventoryUnit) error {
	if len(units) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO inventory_units (sku_id, product_name, expiry_date, zone, stock, category, original_price, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sku_id) DO UPDATE SET
			product_name = excluded.product_name,
			expiry_date = excluded.expiry_date,
			zone = excluded.zone,
			stock = excluded.stock,
			category = excluded.category,
			original_price = excluded.original_price,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, u := range units {
		_, err := stmt.ExecContext(ctx, u.SKUID, u.ProductName, u.ExpiryDate.Format(clock.DateLayout),
			u.Zone, u.Stock, u.Category, formatPrice(u.OriginalPrice), now)
		if err != nil {
			return fmt.Errorf("failed to upsert unit %s: %w", u.SKUID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteExpiredBefore deletes units whose expiry date is before cutoff.
func (r *SQLiteRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.db.ExecContext(ctx, `DELETE FROM inventory_units WHERE expiry_date < ?`,
		cutoff.Format(clock.DateLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired units: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Info().Str("component", "repository").Int64("deleted", deleted).
			Time("cutoff", cutoff).Msg("purged expired inventory units")
	}
	return deleted, nil
}

// ListBuyers returns the buyer table in insertion order.
func (r *SQLiteRepository) ListBuyers(ctx context.Context) ([]model.BuyerProfile, []*model.DataError, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, `
		SELECT name, zone, channel, distance_km, engagement_score, last_engaged
		FROM buyers ORDER BY rowid`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list buyers: %w", err)
	}
	return scanBuyers(rows)
}

// UpsertBuyers inserts or updates buyers keyed by name.
func (r *SQLiteRepository) UpsertBuyers(ctx context.Context, buyers []model.BuyerProfile) error {
	if len(buyers) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO buyers (name, zone, channel, distance_km, engagement_score, last_engaged)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			zone = excluded.zone,
			channel = excluded.channel,
			distance_km = excluded.distance_km,
			engagement_score = excluded.engagement_score,
			last_engaged = excluded.last_engaged`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range buyers {
		_, err := stmt.ExecContext(ctx, b.Name, b.Zone, string(b.Channel), b.DistanceKm, b.EngagementScore,
			b.LastEngaged.Format(clock.DateLayout))
		if err != nil {
			return fmt.Errorf("failed to upsert buyer %s: %w", b.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetStats returns statistics about the database.
func (r *SQLiteRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]interface{})

	var units, buyers int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM inventory_units").Scan(&units); err != nil {
		return nil, err
	}
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM buyers").Scan(&buyers); err != nil {
		return nil, err
	}
	stats["total_units"] = units
	stats["total_buyers"] = buyers

	var earliest sql.NullString
	if err := r.db.QueryRowContext(ctx, "SELECT MIN(expiry_date) FROM inventory_units").Scan(&earliest); err == nil && earliest.Valid {
		stats["earliest_expiry"] = earliest.String
	}

	// Database file size (approximate from page count)
	var pageCount, pageSize int64
	r.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	r.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	stats["db_size_bytes"] = pageCount * pageSize

	return stats, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Ensure SQLiteRepository implements InventoryRepository and BuyerRepository
var (
	_ InventoryRepository = (*SQLiteRepository)(nil)
	_ BuyerRepository     = (*SQLiteRepository)(nil)
)
