package model

import "time"

// RetryEntry is an unresolved record waiting in the retry queue.
// Attempts counts the dispatch passes already made; a retry skips that many top-ranked buyers.
type RetryEntry struct {
	Record          RedistributionRecord `json:"record"`
	Attempts        int                  `json:"attempts"`
	LastDiscountPct int                  `json:"last_discount_pct"`
	EnqueuedAt      time.Time            `json:"enqueued_at"`
	LastAttemptAt   *time.Time           `json:"last_attempt_at,omitempty"`
	// Generation is unique per enqueue, so a re-queued SKU is never mistaken for its
	// earlier entry.
	Generation uint64 `json:"-"`
}
