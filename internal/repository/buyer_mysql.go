package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"microhub-redistribution-api/internal/clock"
	"microhub-redistribution-api/internal/model"

	"github.com/rs/zerolog/log"
)

// MySQLBuyerRepository implements BuyerRepository using MySQL.
type MySQLBuyerRepository struct {
	db *sql.DB
}

// NewMySQLBuyerRepository creates a new MySQL buyer repository.
func NewMySQLBuyerRepository(db *sql.DB) *MySQLBuyerRepository {
	return &MySQLBuyerRepository{db: db}
}

// ListBuyers returns active buyers in registration order.
func (r *MySQLBuyerRepository) ListBuyers(ctx context.Context) ([]model.BuyerProfile, []*model.DataError, error) {
	query := `
		SELECT name, zone, channel, distance_km, engagement_score, last_engaged
		FROM buyers
		WHERE is_active = 1
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list buyers: %w", err)
	}

	buyers, rejected, err := scanBuyers(rows)
	if err != nil {
		return nil, nil, err
	}

	log.Debug().Str("component", "repository").Int("buyers", len(buyers)).Int("rejected", len(rejected)).
		Msg("loaded buyers from MySQL")
	return buyers, rejected, nil
}

// UpsertBuyers inserts or updates buyers keyed by name in one statement.
func (r *MySQLBuyerRepository) UpsertBuyers(ctx context.Context, buyers []model.BuyerProfile) error {
	if len(buyers) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(buyers))
	args := make([]interface{}, 0, len(buyers)*6)
	for _, b := range buyers {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, 1)")
		args = append(args, b.Name, b.Zone, string(b.Channel), b.DistanceKm, b.EngagementScore,
			b.LastEngaged.Format(clock.DateLayout))
	}

	query := `
		INSERT INTO buyers (name, zone, channel, distance_km, engagement_score, last_engaged, is_active)
		VALUES ` + strings.Join(placeholders, ", ") + `
		ON DUPLICATE KEY UPDATE
			zone = VALUES(zone),
			channel = VALUES(channel),
			distance_km = VALUES(distance_km),
			engagement_score = VALUES(engagement_score),
			last_engaged = VALUES(last_engaged),
			is_active = 1`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert buyers: %w", err)
	}
	return nil
}

// Ensure MySQLBuyerRepository implements BuyerRepository
var _ BuyerRepository = (*MySQLBuyerRepository)(nil)
