package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"microhub-redistribution-api/internal/clock"
	"microhub-redistribution-api/internal/model"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBInventoryRepository implements InventoryRepository using MongoDB.
type MongoDBInventoryRepository struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
}

// NewMongoDBInventoryRepository creates a new MongoDB inventory repository.
func NewMongoDBInventoryRepository(uri, database, collection string) (*MongoDBInventoryRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	coll := db.Collection(collection)

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "sku_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "expiry_date", Value: 1}}},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		log.Warn().Str("component", "repository").Err(err).Msg("failed to create MongoDB indexes")
	}

	log.Info().Str("component", "repository").Str("database", database).Str("collection", collection).
		Msg("MongoDB inventory repository initialized")
	return &MongoDBInventoryRepository{
		client:     client,
		db:         db,
		collection: coll,
	}, nil
}

// UnitDocument represents an inventory unit in MongoDB. Dates are stored as
// YYYY-MM-DD strings and prices as decimal strings so they round-trip exactly.
type UnitDocument struct {
	SKUID         string    `bson:"sku_id"`
	ProductName   string    `bson:"product_name"`
	ExpiryDate    string    `bson:"expiry_date"`
	Zone          string    `bson:"zone"`
	Stock         int       `bson:"stock"`
	Category      string    `bson:"category,omitempty"`
	OriginalPrice string    `bson:"original_price,omitempty"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func (d UnitDocument) raw() rawUnit {
	return rawUnit{
		SKUID:    d.SKUID,
		Product:  d.ProductName,
		Expiry:   d.ExpiryDate,
		Zone:     d.Zone,
		Stock:    fmt.Sprint(d.Stock),
		Category: d.Category,
		Price:    d.OriginalPrice,
	}
}

// LoadSnapshot returns every stored unit ordered by expiry then SKU.
func (r *MongoDBInventoryRepository) LoadSnapshot(ctx context.Context) ([]model.InventoryUnit, []*model.DataError, error) {
	opts := options.Find().SetSort(bson.D{{Key: "expiry_date", Value: 1}, {Key: "sku_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load inventory snapshot: %w", err)
	}
	defer cursor.Close(ctx)

	var units []model.InventoryUnit
	var rejected []*model.DataError
	for cursor.Next(ctx) {
		var doc UnitDocument
		if err := cursor.Decode(&doc); err != nil {
			rejected = append(rejected, model.NewDataError(model.SourceInventory, "", "document", err.Error()))
			continue
		}
		unit, derr := doc.raw().parse()
		if derr != nil {
			rejected = append(rejected, derr)
			continue
		}
		units = append(units, unit)
	}
	if err := cursor.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read inventory snapshot: %w", err)
	}
	return units, rejected, nil
}

// UpsertUnits upserts units with an unordered bulk write.
func (r *MongoDBInventoryRepository) UpsertUnits(ctx context.Context, units []model.InventoryUnit) error {
	if len(units) == 0 {
		return nil
	}

	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(units))
	for _, u := range units {
		doc := UnitDocument{
			SKUID:       u.SKUID,
			ProductName: u.ProductName,
			ExpiryDate:  u.ExpiryDate.Format(clock.DateLayout),
			Zone:        u.Zone,
			Stock:       u.Stock,
			Category:    u.Category,
			UpdatedAt:   now,
		}
		if !u.OriginalPrice.IsZero() {
			doc.OriginalPrice = u.OriginalPrice.String()
		}

		filter := bson.M{"sku_id": u.SKUID}
		models = append(models, mongo.NewReplaceOneModel().SetFilter(filter).SetReplacement(doc).SetUpsert(true))
	}

	opts := options.BulkWrite().SetOrdered(false)
	if _, err := r.collection.BulkWrite(ctx, models, opts); err != nil {
		return fmt.Errorf("failed to batch upsert: %w", err)
	}

	log.Debug().Str("component", "repository").Int("units", len(units)).Msg("MongoDB batch upsert")
	return nil
}

// DeleteExpiredBefore deletes units whose expiry date is before cutoff.
// String comparison is valid because dates are stored as YYYY-MM-DD.
func (r *MongoDBInventoryRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"expiry_date": bson.M{
			"$lt": cutoff.Format(clock.DateLayout),
		},
	}

	result, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired units: %w", err)
	}

	if result.DeletedCount > 0 {
		log.Info().Str("component", "repository").Int64("deleted", result.DeletedCount).
			Time("cutoff", cutoff).Msg("purged expired inventory units")
	}
	return result.DeletedCount, nil
}

// GetStats returns statistics about the inventory collection.
func (r *MongoDBInventoryRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})
	stats["status"] = "connected"

	count, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return stats, err
	}
	stats["total_units"] = count

	opts := options.FindOne().SetSort(bson.D{{Key: "expiry_date", Value: 1}})
	var doc UnitDocument
	err = r.collection.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if err == nil {
		stats["earliest_expiry"] = doc.ExpiryDate
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		return stats, err
	}

	result := r.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: r.collection.Name()}})
	var collStats bson.M
	if err := result.Decode(&collStats); err == nil {
		if size, ok := collStats["size"].(int64); ok {
			stats["db_size_bytes"] = size
		} else if size, ok := collStats["size"].(int32); ok {
			stats["db_size_bytes"] = int64(size)
		}
	}

	return stats, nil
}

// Close closes the MongoDB connection.
func (r *MongoDBInventoryRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

// Ensure MongoDBInventoryRepository implements InventoryRepository
var _ InventoryRepository = (*MongoDBInventoryRepository)(nil)
