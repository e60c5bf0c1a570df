package directory

import (
	"context"
	"time"

	"microhub-redistribution-api/internal/model"
)

// SeedSource serves the built-in buyer list used when no database is configured.
type SeedSource struct{}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ListBuyers returns the seed buyers.
func (SeedSource) ListBuyers(ctx context.Context) ([]model.BuyerProfile, []*model.DataError, error) {
	return []model.BuyerProfile{
		{Name: "Tandoori Express", Zone: "Zone A", Channel: model.ChannelWhatsApp, DistanceKm: 1, EngagementScore: 8, LastEngaged: day(2025, 7, 9)},
		{Name: "Green Leaf NGO", Zone: "Zone A", Channel: model.ChannelEmail, DistanceKm: 3, EngagementScore: 5, LastEngaged: day(2025, 7, 7)},
		{Name: "Hostel Delight", Zone: "Zone B", Channel: model.ChannelSMS, DistanceKm: 2, EngagementScore: 6, LastEngaged: day(2025, 7, 10)},
		{Name: "Anna Daana NGO", Zone: "Zone B", Channel: model.ChannelWhatsApp, DistanceKm: 4, EngagementScore: 7, LastEngaged: day(2025, 7, 8)},
		{Name: "Kitchen 360", Zone: "Zone C", Channel: model.ChannelSlack, DistanceKm: 5, EngagementScore: 4, LastEngaged: day(2025, 7, 5)},
		{Name: "Feed Forward Foundation", Zone: "Zone C", Channel: model.ChannelEmail, DistanceKm: 1, EngagementScore: 9, LastEngaged: day(2025, 7, 10)},
	}, nil, nil
}
