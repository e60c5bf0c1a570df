// Package retry holds unresolved redistribution records and re-dispatches them at escalated discounts.
package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"microhub-redistribution-api/internal/clock"
	"microhub-redistribution-api/internal/model"
	"microhub-redistribution-api/internal/outreach"
	"microhub-redistribution-api/internal/pricing"

	"github.com/rs/zerolog/log"
)

// BuyerRanker orders the buyers of a zone for a calendar day.
type BuyerRanker interface {
	Rank(ctx context.Context, zone string, today time.Time) []model.BuyerProfile
}

// OfferDispatcher contacts candidates until one accepts.
type OfferDispatcher interface {
	Dispatch(ctx context.Context, offer outreach.Offer, ranked []model.BuyerProfile) (outreach.Outcome, error)
}

// PassResult summarises one retry pass.
type PassResult struct {
	Resolved   []model.RedistributionRecord `json:"resolved"`
	Failed     []model.RetryEntry           `json:"failed"`
	Stale      []model.RetryEntry           `json:"stale"`
	Contacted  int                          `json:"contacted"`
	StockSaved int                          `json:"stock_saved"`
}

// Manager is the retry queue. Entries are keyed by SKU id and kept in insertion order.
//
// passMu serialises passes; mu guards the queue itself and is only held to snapshot
// entries and to commit a pass, so readers never observe a partially drained queue.
type Manager struct {
	ranker      BuyerRanker
	dispatcher  OfferDispatcher
	clock       clock.Clock
	maxAttempts int

	passMu   sync.Mutex
	mu       sync.RWMutex
	entries  map[string]*model.RetryEntry
	order    []string
	seq      uint64
	resolved map[string]time.Time // sku -> expiry date of the unit sold on retry
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for entry timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithMaxAttempts caps the dispatch attempts of an entry, counting the first run.
// An entry reaching the cap leaves the queue as stale. Zero means unbounded.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// NewManager creates an empty retry queue.
func NewManager(ranker BuyerRanker, dispatcher OfferDispatcher, opts ...Option) *Manager {
	m := &Manager{
		ranker:     ranker,
		dispatcher: dispatcher,
		clock:      clock.NewSystem(),
		entries:    make(map[string]*model.RetryEntry),
		resolved:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue adds an unresolved record after its first dispatch. It reports false if the SKU
// is already queued. A unit already sold by a retry pass is rejected with ErrRecordResolved.
func (m *Manager) Enqueue(rec model.RedistributionRecord) (bool, error) {
	if rec.Status.IsRouted() || rec.Assignment != nil {
		return false, fmt.Errorf("enqueue %s: %w", rec.SKUID, model.ErrRecordResolved)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if expiry, ok := m.resolved[rec.SKUID]; ok && expiry.Equal(rec.ExpiryDate) {
		return false, fmt.Errorf("enqueue %s: sold on retry: %w", rec.SKUID, model.ErrRecordResolved)
	}
	if _, ok := m.entries[rec.SKUID]; ok {
		return false, nil
	}

	m.seq++
	m.entries[rec.SKUID] = &model.RetryEntry{
		Record:          rec,
		Attempts:        1,
		LastDiscountPct: rec.DiscountPct,
		EnqueuedAt:      m.clock.Now(),
		Generation:      m.seq,
	}
	m.order = append(m.order, rec.SKUID)

	log.Info().Str("component", "retry").Str("sku", rec.SKUID).Str("zone", rec.Zone).Msg("queued for retry")
	return true, nil
}

// Len returns the number of queued entries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Entries returns a copy of the queue in insertion order.
func (m *Manager) Entries() []model.RetryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot(m.order)
}

// Get returns the queued entry for sku.
func (m *Manager) Get(sku string) (model.RetryEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[sku]
	if !ok {
		return model.RetryEntry{}, false
	}
	return *e, true
}

// Remove drops sku from the queue.
func (m *Manager) Remove(sku string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[sku]; !ok {
		return fmt.Errorf("remove %s: %w", sku, model.ErrEntryNotQueued)
	}
	m.drop(sku)
	return nil
}

// Pass retries every queued entry once at a discount raised by escalationPct points.
// Entries enqueued while the pass runs are kept for the next pass. If ctx is cancelled
// the entries processed so far are committed and the rest stay untouched.
func (m *Manager) Pass(ctx context.Context, escalationPct int, today time.Time) (PassResult, error) {
	if err := validateEscalation(escalationPct); err != nil {
		return PassResult{}, err
	}

	m.passMu.Lock()
	defer m.passMu.Unlock()

	m.mu.RLock()
	pending := m.snapshot(m.order)
	m.mu.RUnlock()

	start := time.Now()
	processed := make([]model.RetryEntry, 0, len(pending))
	contacted := 0
	var passErr error
	for _, entry := range pending {
		updated, n, err := m.process(ctx, entry, escalationPct, today)
		contacted += n
		if err != nil {
			passErr = err
			break
		}
		processed = append(processed, updated)
	}

	res := m.commit(processed)
	res.Contacted = contacted
	log.Info().Str("component", "retry").Int("queued", len(pending)).Int("resolved", len(res.Resolved)).
		Int("failed", len(res.Failed)).Int("stale", len(res.Stale)).Int("stock_saved", res.StockSaved).
		Dur("took", time.Since(start)).Msg("retry pass finished")

	return res, passErr
}

// RetryOne retries a single queued entry. An unknown SKU is not an error: found is false
// and the queue is unchanged.
func (m *Manager) RetryOne(ctx context.Context, sku string, escalationPct int, today time.Time) (res PassResult, found bool, err error) {
	if err := validateEscalation(escalationPct); err != nil {
		return PassResult{}, false, err
	}

	m.passMu.Lock()
	defer m.passMu.Unlock()

	m.mu.RLock()
	e, ok := m.entries[sku]
	var entry model.RetryEntry
	if ok {
		entry = *e
	}
	m.mu.RUnlock()

	if !ok {
		log.Debug().Str("component", "retry").Str("sku", sku).Err(model.ErrEntryNotQueued).Msg("retry skipped")
		return PassResult{}, false, nil
	}

	updated, contacted, err := m.process(ctx, entry, escalationPct, today)
	if err != nil {
		return PassResult{}, true, err
	}
	res = m.commit([]model.RetryEntry{updated})
	res.Contacted = contacted
	return res, true, nil
}

// process re-prices one entry and dispatches it to the buyers not tried before.
func (m *Manager) process(ctx context.Context, entry model.RetryEntry, escalationPct int, today time.Time) (model.RetryEntry, int, error) {
	rec := entry.Record

	// Cent rounding can hide part of the discount on very low prices.
	cur := max(pricing.CurrentDiscountPct(rec.Price, rec.OriginalPrice), entry.LastDiscountPct)
	pct := pricing.Escalate(cur, escalationPct)
	rec.Reprice(pct, pricing.ApplyDiscountPct(rec.OriginalPrice, pct))

	ranked := m.ranker.Rank(ctx, rec.Zone, today)
	candidates := Candidates(ranked, entry.Attempts)

	out, err := m.dispatcher.Dispatch(ctx, outreach.OfferFor(rec), candidates)
	if err != nil {
		return entry, len(out.Attempts), fmt.Errorf("retry %s: %w", rec.SKUID, err)
	}

	now := m.clock.Now()
	entry.LastAttemptAt = &now
	entry.LastDiscountPct = pct

	if out.Accepted() {
		if err := rec.Assign(*out.Buyer, model.StatusRoutedRetry); err != nil {
			return entry, len(out.Attempts), err
		}
		log.Info().Str("component", "retry").Str("sku", rec.SKUID).Str("buyer", out.Buyer.Name).
			Int("discount_pct", pct).Msg("routed on retry")
	} else {
		if err := rec.Unassign(model.StatusRetryFailed); err != nil {
			return entry, len(out.Attempts), err
		}
		entry.Attempts++
		log.Info().Str("component", "retry").Str("sku", rec.SKUID).Int("discount_pct", pct).
			Int("candidates", len(candidates)).Msg("retry failed")
	}

	entry.Record = rec
	return entry, len(out.Attempts), nil
}

// commit applies processed entries to the queue in one critical section.
func (m *Manager) commit(processed []model.RetryEntry) PassResult {
	var res PassResult

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range processed {
		sku := entry.Record.SKUID
		if cur, ok := m.entries[sku]; !ok || cur.Generation != entry.Generation {
			// removed, or removed and queued again, while the pass was running
			continue
		}

		switch {
		case entry.Record.Status == model.StatusRoutedRetry:
			m.drop(sku)
			m.resolved[sku] = entry.Record.ExpiryDate
			res.Resolved = append(res.Resolved, entry.Record)
			res.StockSaved += entry.Record.Stock
		case m.maxAttempts > 0 && entry.Attempts >= m.maxAttempts:
			m.drop(sku)
			res.Stale = append(res.Stale, entry)
		default:
			e := entry
			m.entries[sku] = &e
			res.Failed = append(res.Failed, entry)
		}
	}

	return res
}

func (m *Manager) snapshot(skus []string) []model.RetryEntry {
	out := make([]model.RetryEntry, 0, len(skus))
	for _, sku := range skus {
		out = append(out, *m.entries[sku])
	}
	return out
}

// drop removes sku; the caller holds mu.
func (m *Manager) drop(sku string) {
	delete(m.entries, sku)
	for i, s := range m.order {
		if s == sku {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// Candidates returns ranked minus its first tried entries.
func Candidates(ranked []model.BuyerProfile, tried int) []model.BuyerProfile {
	if tried <= 0 {
		return ranked
	}
	if tried >= len(ranked) {
		return nil
	}
	return ranked[tried:]
}

func validateEscalation(pct int) error {
	if pct < 1 || pct > pricing.MaxDiscountPct {
		return fmt.Errorf("escalation %d: %w", pct, model.ErrInvalidEscalation)
	}
	return nil
}
