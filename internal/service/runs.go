package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"microhub-redistribution-api/internal/cache"
	"microhub-redistribution-api/internal/model"
)

// DefaultRunRetention is how long run reports stay retrievable.
const DefaultRunRetention = 24 * time.Hour

const maxIndexedRuns = 100

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	RunID       string        `json:"run_id"`
	Date        time.Time     `json:"date"`
	GeneratedAt time.Time     `json:"generated_at"`
	Summary     model.Summary `json:"summary"`
}

// RunStore keeps run reports in a cache for a retention period.
type RunStore struct {
	cache cache.Cache
	ttl   time.Duration

	mu  sync.Mutex
	ids []string // oldest first
}

// NewRunStore creates a store backed by c. A non-positive ttl uses DefaultRunRetention.
func NewRunStore(c cache.Cache, ttl time.Duration) *RunStore {
	if ttl <= 0 {
		ttl = DefaultRunRetention
	}
	return &RunStore{cache: c, ttl: ttl}
}

func runKey(id string) string {
	return "run:" + id
}

// Save stores a report under its run id.
func (s *RunStore) Save(ctx context.Context, report *model.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	if err := s.cache.Set(ctx, runKey(report.RunID), data, s.ttl); err != nil {
		return fmt.Errorf("failed to store run report: %w", err)
	}

	s.mu.Lock()
	s.ids = append(s.ids, report.RunID)
	if len(s.ids) > maxIndexedRuns {
		s.ids = s.ids[len(s.ids)-maxIndexedRuns:]
	}
	s.mu.Unlock()
	return nil
}

// Get returns the report for id, or ErrRunNotFound once it has expired.
func (s *RunStore) Get(ctx context.Context, id string) (*model.Report, error) {
	data, err := s.cache.Get(ctx, runKey(id))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, fmt.Errorf("run %s: %w", id, model.ErrRunNotFound)
		}
		return nil, err
	}

	var report model.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode run report: %w", err)
	}
	return &report, nil
}

// List returns the runs still retained, newest first.
func (s *RunStore) List(ctx context.Context) ([]RunSummary, error) {
	s.mu.Lock()
	ids := append([]string(nil), s.ids...)
	s.mu.Unlock()

	out := make([]RunSummary, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		report, err := s.Get(ctx, ids[i])
		if errors.Is(err, model.ErrRunNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, RunSummary{
			RunID:       report.RunID,
			Date:        report.Date,
			GeneratedAt: report.GeneratedAt,
			Summary:     report.Summary,
		})
	}
	return out, nil
}

// Len returns the number of indexed runs, including ones that may have expired.
func (s *RunStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
