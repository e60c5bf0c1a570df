package directory

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"microhub-redistribution-api/internal/cache"
	"microhub-redistribution-api/internal/clock"
	"microhub-redistribution-api/internal/model"

	"github.com/rs/zerolog/log"
)

// Score weights.
const (
	distanceWeight   = -2.0
	engagementWeight = 3.0
	recencyWeight    = 1.5
	recencyHorizon   = 10
)

// ScoredBuyer is a buyer with its composite score for a given day.
type ScoredBuyer struct {
	model.BuyerProfile
	Score float64 `json:"score"`
}

// Score computes the composite ranking score of b on today. Higher is better.
func Score(b model.BuyerProfile, today time.Time) float64 {
	daysSince := clock.DaysBetween(b.LastEngaged, today)
	recency := math.Max(0, float64(recencyHorizon-daysSince)) * recencyWeight

	return distanceWeight*b.DistanceKm +
		engagementWeight*b.EngagementScore +
		recency +
		b.Channel.Bonus()
}

// Ranker orders the buyers of a zone by descending score.
type Ranker struct {
	dir   *Directory
	cache cache.Cache
	ttl   time.Duration
}

// RankerOption configures a Ranker.
type RankerOption func(*Ranker)

// WithCache memoises rankings per zone and calendar day.
func WithCache(c cache.Cache, ttl time.Duration) RankerOption {
	return func(r *Ranker) {
		if c != nil && ttl > 0 {
			r.cache = c
			r.ttl = ttl
		}
	}
}

// NewRanker creates a ranker over dir.
func NewRanker(dir *Directory, opts ...RankerOption) *Ranker {
	r := &Ranker{dir: dir}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Directory returns the underlying buyer directory.
func (r *Ranker) Directory() *Directory {
	return r.dir
}

// Rank returns the buyers of zone ordered by descending score on today.
// Ties keep directory order. An unknown zone yields an empty slice.
func (r *Ranker) Rank(ctx context.Context, zone string, today time.Time) []model.BuyerProfile {
	scored := r.Scored(ctx, zone, today)
	out := make([]model.BuyerProfile, len(scored))
	for i, s := range scored {
		out[i] = s.BuyerProfile
	}
	return out
}

// Scored is Rank with the computed scores attached.
func (r *Ranker) Scored(ctx context.Context, zone string, today time.Time) []ScoredBuyer {
	today = clock.Date(today)
	if r.cache == nil {
		return r.score(zone, today)
	}

	key := r.cacheKey(zone, today)
	if data, err := r.cache.Get(ctx, key); err == nil {
		var cached []ScoredBuyer
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached
		}
		log.Warn().Str("component", "ranking").Str("key", key).Msg("discarding undecodable cached ranking")
	}

	scored := r.score(zone, today)
	if data, err := json.Marshal(scored); err == nil {
		if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
			log.Warn().Str("component", "ranking").Err(err).Str("key", key).Msg("failed to cache ranking")
		}
	}
	return scored
}

func (r *Ranker) score(zone string, today time.Time) []ScoredBuyer {
	buyers := r.dir.InZone(zone)
	scored := make([]ScoredBuyer, len(buyers))
	for i, b := range buyers {
		scored[i] = ScoredBuyer{BuyerProfile: b, Score: Score(b, today)}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

func (r *Ranker) cacheKey(zone string, today time.Time) string {
	return "rank:" + r.dir.Version() + ":" + today.Format(clock.DateLayout) + ":" + zone
}
