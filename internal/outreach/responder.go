package outreach

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"microhub-redistribution-api/internal/model"
)

// Simulation defaults.
const (
	DefaultAcceptProbability = 0.30
	DefaultMinLatency        = 800 * time.Millisecond
	DefaultMaxLatency        = 1800 * time.Millisecond
)

// SimulatedResponder stands in for a notification channel. Each answer waits a random
// latency in [min, max] and accepts with a fixed probability, independently per attempt.
type SimulatedResponder struct {
	mu                sync.Mutex
	rng               *rand.Rand
	acceptProbability float64
	minLatency        time.Duration
	maxLatency        time.Duration
}

// SimulationOption configures a SimulatedResponder.
type SimulationOption func(*SimulatedResponder)

// WithAcceptProbability sets the chance in [0,1] that a buyer accepts.
func WithAcceptProbability(p float64) SimulationOption {
	return func(s *SimulatedResponder) {
		if p >= 0 && p <= 1 {
			s.acceptProbability = p
		}
	}
}

// WithLatency sets the bounds of the simulated response delay.
func WithLatency(min, max time.Duration) SimulationOption {
	return func(s *SimulatedResponder) {
		if min >= 0 && max >= min {
			s.minLatency = min
			s.maxLatency = max
		}
	}
}

// NewSimulatedResponder creates a responder drawing from rng. Seed rng explicitly for reproducible runs.
func NewSimulatedResponder(rng *rand.Rand, opts ...SimulationOption) *SimulatedResponder {
	s := &SimulatedResponder{
		rng:               rng,
		acceptProbability: DefaultAcceptProbability,
		minLatency:        DefaultMinLatency,
		maxLatency:        DefaultMaxLatency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Respond blocks for the simulated latency and returns the drawn answer.
func (s *SimulatedResponder) Respond(ctx context.Context, buyer model.BuyerProfile, offer Offer) (bool, error) {
	// Both draws happen up front so the random sequence does not depend on timeouts.
	s.mu.Lock()
	delay := s.minLatency + time.Duration(s.rng.Float64()*float64(s.maxLatency-s.minLatency))
	accepted := s.rng.Float64() < s.acceptProbability
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}
	return accepted, nil
}
