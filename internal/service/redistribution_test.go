package service

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"microhub-redistribution-api/internal/cache"
	"microhub-redistribution-api/internal/clock"
	"microhub-redistribution-api/internal/directory"
	"microhub-redistribution-api/internal/model"
	"microhub-redistribution-api/internal/outreach"
	"microhub-redistribution-api/internal/pricing"
	"microhub-redistribution-api/internal/retry"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

var testToday = time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)

// namedResponder accepts offers from the buyers in accept.
type namedResponder struct {
	mu     sync.Mutex
	accept map[string]bool
}

func (r *namedResponder) Respond(_ context.Context, buyer model.BuyerProfile, _ outreach.Offer) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accept[buyer.Name], nil
}

func (r *namedResponder) set(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accept = make(map[string]bool, len(names))
	for _, n := range names {
		r.accept[n] = true
	}
}

type staticSnapshot struct {
	units    []model.InventoryUnit
	rejected []*model.DataError
}

func (s staticSnapshot) LoadSnapshot(context.Context) ([]model.InventoryUnit, []*model.DataError, error) {
	return s.units, s.rejected, nil
}

func unit(sku, product string, expiry time.Time, zone string, stock int, price int64) model.InventoryUnit {
	return model.InventoryUnit{
		SKUID:         sku,
		ProductName:   product,
		ExpiryDate:    expiry,
		Zone:          zone,
		Stock:         stock,
		OriginalPrice: decimal.NewFromInt(price),
	}
}

func snapshotUnits() []model.InventoryUnit {
	return []model.InventoryUnit{
		unit("SKU001", "Paneer 200g", testToday.AddDate(0, 0, 1), "Zone A", 12, 100),
		unit("SKU002", "Brown Bread", testToday.AddDate(0, 0, 2), "Zone B", 30, 80),
		unit("SKU003", "Milk 1L", testToday, "Zone C", 5, 60),
		unit("SKU004", "Butter 100g", testToday.AddDate(0, 0, 4), "Zone A", 9, 55),
		unit("SKU005", "Tofu", testToday.AddDate(0, 0, -1), "Zone D", 7, 40),
		unit("SKU006", "Curd 500g", testToday.AddDate(0, 0, 1), "", 3, 45),
	}
}

type RedistributionServiceSuite struct {
	suite.Suite
	ctx       context.Context
	responder *namedResponder
	ranker    *directory.Ranker
	queue     *retry.Manager
	svc       *RedistributionService
}

func (s *RedistributionServiceSuite) SetupTest() {
	s.ctx = context.Background()

	dir, _, err := directory.Load(s.ctx, directory.SeedSource{})
	s.Require().NoError(err)

	fixed := clock.NewFixed(testToday.Add(9 * time.Hour))
	s.responder = &namedResponder{}
	s.responder.set("Tandoori Express", "Anna Daana NGO")
	s.ranker = directory.NewRanker(dir)
	dispatcher := outreach.NewDispatcher(s.responder)
	s.queue = retry.NewManager(s.ranker, dispatcher, retry.WithClock(fixed))
	s.svc = s.newService(dispatcher, fixed)
}

func (s *RedistributionServiceSuite) newService(dispatcher retry.OfferDispatcher, c clock.Clock, opts ...Option) *RedistributionService {
	prices := pricing.NewRandomPrices(rand.New(rand.NewSource(1)), pricing.DefaultMinPrice, pricing.DefaultMaxPrice)
	base := []Option{
		WithClock(c),
		WithRunStore(NewRunStore(cache.NewMemoryCache(), time.Hour)),
		WithSnapshotSource(staticSnapshot{units: snapshotUnits()}),
	}
	return NewRedistributionService(s.ranker, dispatcher, prices, s.queue, append(base, opts...)...)
}

func TestRedistributionServiceSuite(t *testing.T) {
	suite.Run(t, new(RedistributionServiceSuite))
}

func (s *RedistributionServiceSuite) TestRun_RoutesAndClassifies() {
	report, err := s.svc.Run(s.ctx, snapshotUnits(), testToday)
	s.Require().NoError(err)

	s.NotEmpty(report.RunID)
	s.Equal(testToday, report.Date)
	s.Require().Len(report.Records, 4)

	paneer := report.Records[0]
	s.Equal("SKU001", paneer.SKUID)
	s.Equal(model.StatusRouted, paneer.Status)
	s.Equal("Tandoori Express", paneer.Assignment.Buyer)
	s.Equal(model.ChannelWhatsApp, paneer.Assignment.Channel)
	s.Equal(50, paneer.DiscountPct)
	s.Equal("50.00", paneer.Price.StringFixed(2))

	bread := report.Records[1]
	s.Equal(model.StatusRouted, bread.Status)
	s.Equal("Anna Daana NGO", bread.Assignment.Buyer)
	s.Equal(40, bread.DiscountPct)
	s.Equal("48.00", bread.Price.StringFixed(2))

	milk := report.Records[2]
	s.Equal(model.StatusUnsold, milk.Status)
	s.Nil(milk.Assignment)
	s.Equal(0, milk.DaysToExpiry)

	tofu := report.Records[3]
	s.Equal("SKU005", tofu.SKUID)
	s.Equal(model.StatusUnsold, tofu.Status)
	s.Equal(-1, tofu.DaysToExpiry)
	s.Equal(50, tofu.DiscountPct)

	for _, rec := range report.Records {
		if rec.Status.IsRouted() {
			s.True(rec.Price.LessThanOrEqual(rec.OriginalPrice))
		}
	}

	s.Equal(model.Summary{Flagged: 4, Contacted: 5, Accepted: 2, Unsold: 2, StockSaved: 42, Unprocessable: 1}, report.Summary)
	s.Require().Len(report.Unprocessable, 1)
	s.Equal("zone", report.Unprocessable[0].Field)
	s.Contains(report.Log[0], "[09:00:00] SKU SKU001 (Paneer 200g) is expiring on 2025-07-11")
	s.Zero(s.queue.Len())
}

func (s *RedistributionServiceSuite) TestRun_StoresReport() {
	first, err := s.svc.Run(s.ctx, snapshotUnits(), testToday)
	s.Require().NoError(err)
	second, err := s.svc.RunSnapshot(s.ctx, testToday)
	s.Require().NoError(err)

	got, err := s.svc.Report(s.ctx, first.RunID)
	s.Require().NoError(err)
	s.Equal(first.Summary, got.Summary)
	s.Equal(first.Records[0].Price.String(), got.Records[0].Price.String())

	runs, err := s.svc.Runs(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(runs, 2)
	s.Equal(second.RunID, runs[0].RunID)
	s.Equal(first.RunID, runs[1].RunID)

	_, err = s.svc.Report(s.ctx, "missing")
	s.ErrorIs(err, model.ErrRunNotFound)
}

func (s *RedistributionServiceSuite) TestRunSnapshot_MergesSourceRejections() {
	src := staticSnapshot{
		units:    snapshotUnits()[:1],
		rejected: []*model.DataError{model.NewDataError(model.SourceInventory, "line 4", "stock", "is not an integer")},
	}
	svc := s.newService(outreach.NewDispatcher(s.responder), clock.NewFixed(testToday), WithSnapshotSource(src))

	report, err := svc.RunSnapshot(s.ctx, testToday)
	s.Require().NoError(err)
	s.Len(report.Records, 1)
	s.Equal(1, report.Summary.Unprocessable)

	noSource := NewRedistributionService(s.ranker, outreach.NewDispatcher(s.responder), nil, s.queue)
	_, err = noSource.RunSnapshot(s.ctx, testToday)
	s.ErrorIs(err, model.ErrNoSnapshotSource)
}

func (s *RedistributionServiceSuite) TestRun_AutoEnqueue() {
	svc := s.newService(outreach.NewDispatcher(s.responder), clock.NewFixed(testToday), WithAutoEnqueue(true))

	_, err := svc.Run(s.ctx, snapshotUnits(), testToday)
	s.Require().NoError(err)

	entries := s.queue.Entries()
	s.Require().Len(entries, 2)
	s.Equal("SKU003", entries[0].Record.SKUID)
	s.Equal("SKU005", entries[1].Record.SKUID)
	s.Equal(1, entries[0].Attempts)
}

func (s *RedistributionServiceSuite) TestRun_ExpiryWindow() {
	svc := s.newService(outreach.NewDispatcher(s.responder), clock.NewFixed(testToday), WithExpiryWindow(4))

	report, err := svc.Run(s.ctx, snapshotUnits(), testToday)
	s.Require().NoError(err)
	s.Equal(5, report.Summary.Flagged)

	butter, ok := report.Record("SKU004")
	s.Require().True(ok)
	s.Equal(20, butter.DiscountPct)
	s.Equal("44.00", butter.Price.StringFixed(2))
}

func (s *RedistributionServiceSuite) TestRun_GeneratesMissingPrices() {
	u := unit("SKU010", "Dosa Batter", testToday.AddDate(0, 0, 1), "Zone A", 4, 0)

	report, err := s.svc.Run(s.ctx, []model.InventoryUnit{u}, testToday)
	s.Require().NoError(err)

	rec := report.Records[0]
	s.True(rec.OriginalPrice.GreaterThanOrEqual(decimal.NewFromInt(pricing.DefaultMinPrice)))
	s.True(rec.OriginalPrice.LessThanOrEqual(decimal.NewFromInt(pricing.DefaultMaxPrice)))
	s.True(rec.Price.Equal(pricing.ApplyDiscountPct(rec.OriginalPrice, 50)))
}

func (s *RedistributionServiceSuite) TestEnqueueFromRunAndRetry() {
	report, err := s.svc.Run(s.ctx, snapshotUnits(), testToday)
	s.Require().NoError(err)

	_, err = s.svc.EnqueueFromRun(s.ctx, report.RunID, "SKU001")
	s.ErrorIs(err, model.ErrRecordResolved)
	_, err = s.svc.EnqueueFromRun(s.ctx, report.RunID, "SKU404")
	s.ErrorIs(err, model.ErrRecordNotFound)
	_, err = s.svc.EnqueueFromRun(s.ctx, "nope", "SKU003")
	s.ErrorIs(err, model.ErrRunNotFound)

	added, err := s.svc.EnqueueFromRun(s.ctx, report.RunID, "SKU003")
	s.Require().NoError(err)
	s.True(added)

	// the first-ranked buyer already declined; only Kitchen 360 is left
	s.responder.set("Feed Forward Foundation", "Kitchen 360")
	res, err := s.svc.RetryPass(s.ctx, 0)
	s.Require().NoError(err)

	s.Require().Len(res.Resolved, 1)
	rec := res.Resolved[0]
	s.Equal(model.StatusRoutedRetry, rec.Status)
	s.Equal("Kitchen 360", rec.Assignment.Buyer)
	s.Equal(70, rec.DiscountPct)
	s.Equal("18.00", rec.Price.StringFixed(2))
	s.Equal(5, res.StockSaved)
	s.Zero(s.queue.Len())
}

func (s *RedistributionServiceSuite) TestEnqueueFromRun_RejectsUnitSoldOnRetry() {
	svc := s.newService(outreach.NewDispatcher(s.responder), clock.NewFixed(testToday), WithAutoEnqueue(true))
	report, err := svc.Run(s.ctx, snapshotUnits(), testToday)
	s.Require().NoError(err)

	s.responder.set("Kitchen 360")
	res, err := svc.RetryPass(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(res.Resolved, 1)
	s.Equal("SKU003", res.Resolved[0].SKUID)

	// the stored report still shows the first-pass Unsold record
	_, err = svc.EnqueueFromRun(s.ctx, report.RunID, "SKU003")
	s.ErrorIs(err, model.ErrRecordResolved)
	for _, e := range s.queue.Entries() {
		s.NotEqual("SKU003", e.Record.SKUID)
	}
}

func (s *RedistributionServiceSuite) TestRun_DuplicateSKUDispatchedOnce() {
	units := snapshotUnits()
	report, err := s.svc.Run(s.ctx, []model.InventoryUnit{units[0], units[0]}, testToday)
	s.Require().NoError(err)

	s.Require().Len(report.Records, 1)
	s.Equal(1, report.Summary.Flagged)
	s.Equal(1, report.Summary.Contacted)
	s.Equal(1, report.Summary.Accepted)
	s.Equal(12, report.Summary.StockSaved)
	s.Require().Len(report.Unprocessable, 1)
	s.Equal("SKU001", report.Unprocessable[0].Key)
	s.Equal("sku_id", report.Unprocessable[0].Field)
}

func (s *RedistributionServiceSuite) TestRetryOne() {
	report, err := s.svc.Run(s.ctx, snapshotUnits(), testToday)
	s.Require().NoError(err)
	_, err = s.svc.EnqueueFromRun(s.ctx, report.RunID, "SKU005")
	s.Require().NoError(err)

	res, found, err := s.svc.RetryOne(s.ctx, "SKU005", 30)
	s.Require().NoError(err)
	s.True(found)
	s.Require().Len(res.Failed, 1)
	s.Equal(80, res.Failed[0].Record.DiscountPct)
	s.Equal(model.StatusRetryFailed, res.Failed[0].Record.Status)

	_, found, err = s.svc.RetryOne(s.ctx, "SKU404", 30)
	s.NoError(err)
	s.False(found)
}

func (s *RedistributionServiceSuite) TestRun_ReproducibleWithSeed() {
	run := func() []model.Status {
		responder := outreach.NewSimulatedResponder(rand.New(rand.NewSource(99)), outreach.WithLatency(0, 0))
		svc := s.newService(outreach.NewDispatcher(responder), clock.NewFixed(testToday))
		report, err := svc.Run(s.ctx, snapshotUnits(), testToday)
		s.Require().NoError(err)

		statuses := make([]model.Status, 0, len(report.Records))
		for _, rec := range report.Records {
			statuses = append(statuses, rec.Status)
		}
		return statuses
	}

	s.Equal(run(), run())
}

func (s *RedistributionServiceSuite) TestRun_Cancelled() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	report, err := s.svc.Run(ctx, snapshotUnits(), testToday)
	s.ErrorIs(err, context.Canceled)
	s.Require().NotNil(report)
	s.Empty(report.Records)
}

func (s *RedistributionServiceSuite) TestUpcoming() {
	units := []model.InventoryUnit{
		unit("U6", "Ghee", testToday.AddDate(0, 0, 6), "Zone A", 1, 10),
		unit("U5", "Jam", testToday.AddDate(0, 0, 5), "Zone B", 2, 10),
		unit("U3b", "Cheese", testToday.AddDate(0, 0, 3), "Zone C", 3, 10),
		unit("U3a", "Cream", testToday.AddDate(0, 0, 3), "Zone A", 4, 10),
		unit("U2", "Milk", testToday.AddDate(0, 0, 2), "Zone A", 5, 10),
		unit("U4", "", testToday.AddDate(0, 0, 4), "Zone A", 5, 10),
	}

	got := s.svc.Upcoming(units, testToday, DefaultUpcomingFrom, DefaultUpcomingTo)
	s.Require().Len(got, 3)
	s.Equal("U3a", got[0].SKUID)
	s.Equal("U3b", got[1].SKUID)
	s.Equal("U5", got[2].SKUID)
	s.Equal("Jam", got[2].Product)

	fromSnapshot, err := s.svc.UpcomingFromSnapshot(s.ctx, testToday, 3, 5)
	s.Require().NoError(err)
	s.Require().Len(fromSnapshot, 1)
	s.Equal("SKU004", fromSnapshot[0].SKUID)
}
