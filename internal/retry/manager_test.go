package retry

import (
	"context"
	"sync"
	"testing"
	"time"

	"microhub-redistribution-api/internal/clock"
	"microhub-redistribution-api/internal/model"
	"microhub-redistribution-api/internal/outreach"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)

type mockRanker struct {
	mock.Mock
}

func (m *mockRanker) Rank(_ context.Context, zone string, day time.Time) []model.BuyerProfile {
	args := m.Called(zone, day)
	return args.Get(0).([]model.BuyerProfile)
}

type dispatchCall struct {
	offer      outreach.Offer
	candidates []string
}

// fakeDispatcher accepts the first candidate whose name is in accept.
type fakeDispatcher struct {
	mu     sync.Mutex
	accept map[string]bool
	calls  []dispatchCall
	hook   func(call int) error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, offer outreach.Offer, ranked []model.BuyerProfile) (outreach.Outcome, error) {
	f.mu.Lock()
	names := make([]string, 0, len(ranked))
	for _, b := range ranked {
		names = append(names, b.Name)
	}
	f.calls = append(f.calls, dispatchCall{offer: offer, candidates: names})
	n := len(f.calls)
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(n); err != nil {
			return outreach.Outcome{Status: model.StatusUnsold}, err
		}
	}

	out := outreach.Outcome{Status: model.StatusUnsold}
	for _, b := range ranked {
		out.Attempts = append(out.Attempts, outreach.Attempt{Buyer: b.Name, Accepted: f.accept[b.Name]})
		if f.accept[b.Name] {
			buyer := b
			out.Buyer = &buyer
			out.Status = model.StatusRouted
			return out, nil
		}
	}
	return out, nil
}

func (f *fakeDispatcher) lastCall() dispatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func zoneABuyers() []model.BuyerProfile {
	return []model.BuyerProfile{
		{Name: "Tandoori Express", Zone: "Zone A", Channel: model.ChannelWhatsApp},
		{Name: "Green Leaf NGO", Zone: "Zone A", Channel: model.ChannelEmail},
		{Name: "Corner Cafe", Zone: "Zone A", Channel: model.ChannelSMS},
	}
}

func paneerUnit(sku string) model.InventoryUnit {
	return model.InventoryUnit{
		SKUID:       sku,
		ProductName: "Paneer 200g",
		ExpiryDate:  today.AddDate(0, 0, 1),
		Zone:        "Zone A",
		Stock:       12,
	}
}

func unsoldRecord(sku string) model.RedistributionRecord {
	rec := model.NewRecord(paneerUnit(sku), 1, 50, decimal.NewFromInt(100), decimal.NewFromInt(50))
	_ = rec.Unassign(model.StatusUnsold)
	return rec
}

func newTestManager(d *fakeDispatcher, opts ...Option) (*Manager, *mockRanker) {
	r := &mockRanker{}
	r.On("Rank", "Zone A", today).Return(zoneABuyers())
	opts = append([]Option{WithClock(clock.NewFixed(today.Add(9 * time.Hour)))}, opts...)
	return NewManager(r, d, opts...), r
}

func TestEnqueue_Dedupes(t *testing.T) {
	m, _ := newTestManager(&fakeDispatcher{})

	added, err := m.Enqueue(unsoldRecord("SKU001"))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = m.Enqueue(unsoldRecord("SKU001"))
	require.NoError(t, err)
	assert.False(t, added)

	require.Equal(t, 1, m.Len())
	e, ok := m.Get("SKU001")
	require.True(t, ok)
	assert.Equal(t, 1, e.Attempts)
	assert.Equal(t, 50, e.LastDiscountPct)
}

func TestEnqueue_RejectsRoutedRecord(t *testing.T) {
	m, _ := newTestManager(&fakeDispatcher{})

	rec := unsoldRecord("SKU001")
	require.NoError(t, rec.Assign(zoneABuyers()[0], model.StatusRouted))

	_, err := m.Enqueue(rec)
	assert.ErrorIs(t, err, model.ErrRecordResolved)
	assert.Zero(t, m.Len())
}

func TestPass_EscalatesAndRoutes(t *testing.T) {
	d := &fakeDispatcher{accept: map[string]bool{"Green Leaf NGO": true}}
	m, r := newTestManager(d)
	_, err := m.Enqueue(unsoldRecord("SKU001"))
	require.NoError(t, err)

	res, err := m.Pass(context.Background(), 20, today)
	require.NoError(t, err)

	require.Len(t, res.Resolved, 1)
	rec := res.Resolved[0]
	assert.Equal(t, model.StatusRoutedRetry, rec.Status)
	assert.Equal(t, 70, rec.DiscountPct)
	assert.Equal(t, "30.00", rec.Price.StringFixed(2))
	require.NotNil(t, rec.Assignment)
	assert.Equal(t, "Green Leaf NGO", rec.Assignment.Buyer)
	assert.Equal(t, 12, res.StockSaved)
	assert.Equal(t, 1, res.Contacted)

	// the best-ranked buyer was tried in the first run
	call := d.lastCall()
	assert.Equal(t, []string{"Green Leaf NGO", "Corner Cafe"}, call.candidates)
	assert.Equal(t, "30.00", call.offer.Price.StringFixed(2))

	assert.Zero(t, m.Len())
	r.AssertExpectations(t)

	// resolved entries are never reprocessed
	res, err = m.Pass(context.Background(), 20, today)
	require.NoError(t, err)
	assert.Empty(t, res.Resolved)
	assert.Len(t, d.calls, 1)
}

func TestPass_FailedEntriesEscalateToCap(t *testing.T) {
	d := &fakeDispatcher{}
	m, _ := newTestManager(d)
	_, err := m.Enqueue(unsoldRecord("SKU001"))
	require.NoError(t, err)

	wantPct := []int{70, 90, 90, 90}
	wantCandidates := [][]string{
		{"Green Leaf NGO", "Corner Cafe"},
		{"Corner Cafe"},
		{},
		{},
	}

	prev := 50
	for i, pct := range wantPct {
		res, err := m.Pass(context.Background(), 20, today)
		require.NoError(t, err)
		require.Len(t, res.Failed, 1)

		e := res.Failed[0]
		assert.Equal(t, model.StatusRetryFailed, e.Record.Status)
		assert.Nil(t, e.Record.Assignment)
		assert.Equal(t, pct, e.Record.DiscountPct)
		assert.Equal(t, pct, e.LastDiscountPct)
		assert.GreaterOrEqual(t, e.Record.DiscountPct, prev)
		assert.Equal(t, i+2, e.Attempts)
		assert.NotNil(t, e.LastAttemptAt)
		assert.ElementsMatch(t, wantCandidates[i], d.lastCall().candidates)
		prev = e.Record.DiscountPct
	}

	e, ok := m.Get("SKU001")
	require.True(t, ok)
	assert.Equal(t, "10.00", e.Record.Price.StringFixed(2))
}

func TestPass_InvalidEscalation(t *testing.T) {
	m, _ := newTestManager(&fakeDispatcher{})

	for _, pct := range []int{0, -5, 91} {
		_, err := m.Pass(context.Background(), pct, today)
		assert.ErrorIs(t, err, model.ErrInvalidEscalation)
	}

	_, _, err := m.RetryOne(context.Background(), "SKU001", 0, today)
	assert.ErrorIs(t, err, model.ErrInvalidEscalation)
}

func TestPass_MaxAttemptsMovesToStale(t *testing.T) {
	m, _ := newTestManager(&fakeDispatcher{}, WithMaxAttempts(2))
	_, err := m.Enqueue(unsoldRecord("SKU001"))
	require.NoError(t, err)

	res, err := m.Pass(context.Background(), 20, today)
	require.NoError(t, err)

	assert.Empty(t, res.Failed)
	require.Len(t, res.Stale, 1)
	assert.Equal(t, 2, res.Stale[0].Attempts)
	assert.Zero(t, m.Len())
}

func TestPass_KeepsEntriesEnqueuedDuringPass(t *testing.T) {
	d := &fakeDispatcher{}
	m, _ := newTestManager(d)
	_, err := m.Enqueue(unsoldRecord("SKU001"))
	require.NoError(t, err)

	d.hook = func(call int) error {
		if call == 1 {
			_, err := m.Enqueue(unsoldRecord("SKU002"))
			return err
		}
		return nil
	}

	res, err := m.Pass(context.Background(), 20, today)
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)

	entries := m.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "SKU001", entries[0].Record.SKUID)
	assert.Equal(t, 2, entries[0].Attempts)
	assert.Equal(t, "SKU002", entries[1].Record.SKUID)
	assert.Equal(t, 1, entries[1].Attempts)
	assert.Equal(t, model.StatusUnsold, entries[1].Record.Status)
}

func TestPass_KeepsEntryRequeuedDuringPass(t *testing.T) {
	d := &fakeDispatcher{}
	m, _ := newTestManager(d)
	_, err := m.Enqueue(unsoldRecord("SKU001"))
	require.NoError(t, err)

	// same SKU removed and queued again at the same instant
	d.hook = func(call int) error {
		if call == 1 {
			if err := m.Remove("SKU001"); err != nil {
				return err
			}
			_, err := m.Enqueue(unsoldRecord("SKU001"))
			return err
		}
		return nil
	}

	res, err := m.Pass(context.Background(), 20, today)
	require.NoError(t, err)
	assert.Empty(t, res.Failed)

	e, ok := m.Get("SKU001")
	require.True(t, ok)
	assert.Equal(t, 1, e.Attempts)
	assert.Equal(t, 50, e.Record.DiscountPct)
	assert.Equal(t, model.StatusUnsold, e.Record.Status)
}

func TestPass_EscalatesFromLastDiscountOnTinyPrices(t *testing.T) {
	m, _ := newTestManager(&fakeDispatcher{})

	cent := decimal.RequireFromString("0.01")
	rec := model.NewRecord(paneerUnit("SKU001"), 1, 50, cent, cent)
	_ = rec.Unassign(model.StatusUnsold)
	_, err := m.Enqueue(rec)
	require.NoError(t, err)

	res, err := m.Pass(context.Background(), 20, today)
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 70, res.Failed[0].Record.DiscountPct)
	assert.Equal(t, 70, res.Failed[0].LastDiscountPct)
}

func TestEnqueue_RejectsUnitSoldOnRetry(t *testing.T) {
	d := &fakeDispatcher{accept: map[string]bool{"Green Leaf NGO": true}}
	m, _ := newTestManager(d)
	_, err := m.Enqueue(unsoldRecord("SKU001"))
	require.NoError(t, err)

	res, err := m.Pass(context.Background(), 20, today)
	require.NoError(t, err)
	require.Len(t, res.Resolved, 1)

	_, err = m.Enqueue(unsoldRecord("SKU001"))
	assert.ErrorIs(t, err, model.ErrRecordResolved)
	assert.Zero(t, m.Len())

	// a later batch of the same SKU is a different unit
	next := unsoldRecord("SKU001")
	next.ExpiryDate = today.AddDate(0, 0, 3)
	added, err := m.Enqueue(next)
	require.NoError(t, err)
	assert.True(t, added)
}

func TestPass_CancelledCommitsProcessedEntries(t *testing.T) {
	d := &fakeDispatcher{}
	m, _ := newTestManager(d)
	for _, sku := range []string{"SKU001", "SKU002"} {
		_, err := m.Enqueue(unsoldRecord(sku))
		require.NoError(t, err)
	}

	d.hook = func(call int) error {
		if call == 2 {
			return context.Canceled
		}
		return nil
	}

	res, err := m.Pass(context.Background(), 20, today)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, res.Failed, 1)

	first, _ := m.Get("SKU001")
	second, _ := m.Get("SKU002")
	assert.Equal(t, 70, first.Record.DiscountPct)
	assert.Equal(t, 50, second.Record.DiscountPct)
	assert.Equal(t, 1, second.Attempts)
}

func TestRetryOne(t *testing.T) {
	d := &fakeDispatcher{accept: map[string]bool{"Corner Cafe": true}}
	m, _ := newTestManager(d)
	for _, sku := range []string{"SKU001", "SKU002"} {
		_, err := m.Enqueue(unsoldRecord(sku))
		require.NoError(t, err)
	}

	res, found, err := m.RetryOne(context.Background(), "SKU002", 10, today)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, res.Resolved, 1)
	assert.Equal(t, 60, res.Resolved[0].DiscountPct)
	assert.Equal(t, "Corner Cafe", res.Resolved[0].Assignment.Buyer)

	entries := m.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "SKU001", entries[0].Record.SKUID)
}

func TestRetryOne_UnknownSKUIsNoop(t *testing.T) {
	d := &fakeDispatcher{}
	m, _ := newTestManager(d)

	res, found, err := m.RetryOne(context.Background(), "SKU404", 20, today)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, res.Resolved)
	assert.Empty(t, d.calls)
}

func TestRemove(t *testing.T) {
	m, _ := newTestManager(&fakeDispatcher{})
	_, err := m.Enqueue(unsoldRecord("SKU001"))
	require.NoError(t, err)

	require.NoError(t, m.Remove("SKU001"))
	assert.Zero(t, m.Len())
	assert.ErrorIs(t, m.Remove("SKU001"), model.ErrEntryNotQueued)
}

func TestCandidates(t *testing.T) {
	ranked := zoneABuyers()

	assert.Len(t, Candidates(ranked, 0), 3)
	assert.Equal(t, ranked[1:], Candidates(ranked, 1))
	assert.Equal(t, ranked[2:], Candidates(ranked, 2))
	assert.Empty(t, Candidates(ranked, 3))
	assert.Empty(t, Candidates(ranked, 10))
}

func TestManager_ConcurrentReadsDuringPasses(t *testing.T) {
	d := &fakeDispatcher{}
	m, _ := newTestManager(d)
	for _, sku := range []string{"SKU001", "SKU002", "SKU003"} {
		_, err := m.Enqueue(unsoldRecord(sku))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Pass(context.Background(), 5, today)
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				entries := m.Entries()
				assert.Len(t, entries, 3)
				// a pass commits all entries together
				for _, e := range entries[1:] {
					assert.Equal(t, entries[0].Attempts, e.Attempts)
				}
			}
		}()
	}
	wg.Wait()

	for _, e := range m.Entries() {
		assert.Equal(t, 5, e.Attempts)
		assert.Equal(t, 70, e.Record.DiscountPct)
	}
}
