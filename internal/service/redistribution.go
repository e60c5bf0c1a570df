package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"microhub-redistribution-api/internal/clock"
	"microhub-redistribution-api/internal/model"
	"microhub-redistribution-api/internal/outreach"
	"microhub-redistribution-api/internal/pricing"
	"microhub-redistribution-api/internal/repository"
	"microhub-redistribution-api/internal/retry"
	"microhub-redistribution-api/pkg/uid"

	"github.com/rs/zerolog/log"
)

// Defaults for a redistribution run.
const (
	DefaultExpiryWindowDays  = 2
	DefaultEscalationPercent = 20
	DefaultUpcomingFrom      = 3
	DefaultUpcomingTo        = 5
)

const logTimeLayout = "15:04:05"

// RedistributionService runs the matching flow over an inventory snapshot and owns the
// retry queue the unsold units go to.
type RedistributionService struct {
	ranker     retry.BuyerRanker
	dispatcher retry.OfferDispatcher
	prices     pricing.PriceSource
	queue      *retry.Manager
	runs       *RunStore
	source     repository.SnapshotSource
	clock      clock.Clock

	expiryWindow int
	autoEnqueue  bool
	escalation   int
}

// Option configures a RedistributionService.
type Option func(*RedistributionService)

// WithExpiryWindow sets how many days ahead a unit counts as near expiry.
func WithExpiryWindow(days int) Option {
	return func(s *RedistributionService) {
		if days >= 0 {
			s.expiryWindow = days
		}
	}
}

// WithAutoEnqueue queues every Unsold record of a run for retry.
func WithAutoEnqueue(enabled bool) Option {
	return func(s *RedistributionService) {
		s.autoEnqueue = enabled
	}
}

// WithDefaultEscalation sets the escalation used when a retry request names none.
func WithDefaultEscalation(pct int) Option {
	return func(s *RedistributionService) {
		if pct > 0 {
			s.escalation = pct
		}
	}
}

// WithSnapshotSource sets where RunSnapshot and UpcomingFromSnapshot load inventory from.
func WithSnapshotSource(src repository.SnapshotSource) Option {
	return func(s *RedistributionService) {
		s.source = src
	}
}

// WithRunStore keeps finished reports for later lookup.
func WithRunStore(store *RunStore) Option {
	return func(s *RedistributionService) {
		s.runs = store
	}
}

// WithClock sets the clock used for run timestamps and the default day.
func WithClock(c clock.Clock) Option {
	return func(s *RedistributionService) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewRedistributionService wires the matching flow.
func NewRedistributionService(
	ranker retry.BuyerRanker,
	dispatcher retry.OfferDispatcher,
	prices pricing.PriceSource,
	queue *retry.Manager,
	opts ...Option,
) *RedistributionService {
	s := &RedistributionService{
		ranker:       ranker,
		dispatcher:   dispatcher,
		prices:       prices,
		queue:        queue,
		clock:        clock.NewSystem(),
		expiryWindow: DefaultExpiryWindowDays,
		escalation:   DefaultEscalationPercent,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Queue returns the retry queue.
func (s *RedistributionService) Queue() *retry.Manager {
	return s.queue
}

// Today returns the service's current calendar day.
func (s *RedistributionService) Today() time.Time {
	return clock.Today(s.clock)
}

// DefaultEscalation returns the escalation applied when none is requested.
func (s *RedistributionService) DefaultEscalation() int {
	return s.escalation
}

// RunSnapshot loads the configured snapshot source and runs it.
func (s *RedistributionService) RunSnapshot(ctx context.Context, today time.Time) (*model.Report, error) {
	units, rejected, err := s.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, units, rejected, today)
}

// Run matches every near-expiry unit of units against the buyers of its zone.
// Malformed units are reported as unprocessable and never abort the run.
func (s *RedistributionService) Run(ctx context.Context, units []model.InventoryUnit, today time.Time) (*model.Report, error) {
	return s.run(ctx, units, nil, today)
}

// RunBatch is Run for a batch whose malformed rows were already rejected by the caller.
// The rejections are reported alongside the run's own.
func (s *RedistributionService) RunBatch(ctx context.Context, units []model.InventoryUnit, rejected []*model.DataError, today time.Time) (*model.Report, error) {
	return s.run(ctx, units, rejected, today)
}

func (s *RedistributionService) run(ctx context.Context, units []model.InventoryUnit, rejected []*model.DataError, today time.Time) (*model.Report, error) {
	today = clock.Date(today)
	report := &model.Report{
		RunID:         uid.NewOrdered(),
		Date:          today,
		GeneratedAt:   s.clock.Now(),
		Records:       []model.RedistributionRecord{},
		Unprocessable: append([]*model.DataError{}, rejected...),
		Log:           []string{},
	}
	logger := log.With().Str("component", "redistribution").Str("run_id", report.RunID).Logger()

	seen := make(map[string]bool, len(units))
	for _, unit := range units {
		if derr := unit.Validate(); derr != nil {
			report.Unprocessable = append(report.Unprocessable, derr)
			continue
		}
		// A SKU is dispatched at most once per run.
		if seen[unit.SKUID] {
			report.Unprocessable = append(report.Unprocessable,
				model.NewDataError(model.SourceInventory, unit.SKUID, "sku_id", "duplicate sku in snapshot"))
			continue
		}
		seen[unit.SKUID] = true

		days := clock.DaysBetween(today, unit.ExpiryDate)
		if days > s.expiryWindow {
			continue
		}

		report.Summary.Flagged++
		s.logf(report, "SKU %s (%s) is expiring on %s -> candidate for redistribution from %s",
			unit.SKUID, unit.ProductName, unit.ExpiryDate.Format(clock.DateLayout), unit.Zone)

		rec, err := s.match(ctx, report, unit, days, today)
		if err != nil {
			s.finish(ctx, report)
			return report, fmt.Errorf("run %s: %w", report.RunID, err)
		}
		report.Records = append(report.Records, rec)
	}

	s.finish(ctx, report)
	logger.Info().Int("flagged", report.Summary.Flagged).Int("accepted", report.Summary.Accepted).
		Int("unsold", report.Summary.Unsold).Int("stock_saved", report.Summary.StockSaved).
		Int("unprocessable", report.Summary.Unprocessable).Msg("redistribution run finished")
	return report, nil
}

// match prices one unit and dispatches it to the ranked buyers of its zone.
func (s *RedistributionService) match(ctx context.Context, report *model.Report, unit model.InventoryUnit, days int, today time.Time) (model.RedistributionRecord, error) {
	pct := pricing.DiscountPercent(days)
	original := s.prices.OriginalPrice(unit)
	rec := model.NewRecord(unit, days, pct, original, pricing.ApplyDiscountPct(original, pct))

	ranked := s.ranker.Rank(ctx, unit.Zone, today)
	out, err := s.dispatcher.Dispatch(ctx, outreach.OfferFor(rec), ranked)
	report.Summary.Contacted += len(out.Attempts)
	for _, a := range out.Attempts {
		s.logf(report, "%s", attemptLine(rec, a))
	}
	if err != nil {
		return rec, err
	}

	if out.Accepted() {
		if err := rec.Assign(*out.Buyer, model.StatusRouted); err != nil {
			return rec, err
		}
		report.Summary.Accepted++
		report.Summary.StockSaved += rec.Stock
		return rec, nil
	}

	if err := rec.Unassign(model.StatusUnsold); err != nil {
		return rec, err
	}
	report.Summary.Unsold++
	if len(ranked) == 0 {
		s.logf(report, "SKU %s: %v %q", rec.SKUID, model.ErrNoCandidate, rec.Zone)
	}
	if s.autoEnqueue {
		if _, err := s.queue.Enqueue(rec); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func attemptLine(rec model.RedistributionRecord, a outreach.Attempt) string {
	result := "declined"
	switch {
	case a.Accepted:
		result = "accepted"
	case a.TimedOut:
		result = "no response"
	case a.Error != "":
		result = "unreachable"
	}
	return fmt.Sprintf("Offered %s (%s) to %s via %s at %s (%d%% off): %s",
		rec.SKUID, rec.Product, a.Buyer, a.Channel, rec.Price.StringFixed(2), rec.DiscountPct, result)
}

func (s *RedistributionService) logf(report *model.Report, format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] ", s.clock.Now().Format(logTimeLayout)) + fmt.Sprintf(format, args...)
	report.Log = append(report.Log, line)
}

func (s *RedistributionService) finish(ctx context.Context, report *model.Report) {
	report.Summary.Unprocessable = len(report.Unprocessable)
	if s.runs == nil {
		return
	}
	if err := s.runs.Save(ctx, report); err != nil {
		log.Warn().Str("component", "redistribution").Str("run_id", report.RunID).Err(err).Msg("failed to store run report")
	}
}

// Report returns a stored run.
func (s *RedistributionService) Report(ctx context.Context, runID string) (*model.Report, error) {
	if s.runs == nil {
		return nil, model.ErrRunNotFound
	}
	return s.runs.Get(ctx, runID)
}

// Runs lists stored runs, newest first.
func (s *RedistributionService) Runs(ctx context.Context) ([]RunSummary, error) {
	if s.runs == nil {
		return []RunSummary{}, nil
	}
	return s.runs.List(ctx)
}

// EnqueueFromRun queues the Unsold record sku of a stored run for retry.
func (s *RedistributionService) EnqueueFromRun(ctx context.Context, runID, sku string) (bool, error) {
	report, err := s.Report(ctx, runID)
	if err != nil {
		return false, err
	}
	rec, ok := report.Record(sku)
	if !ok {
		return false, fmt.Errorf("%s in run %s: %w", sku, runID, model.ErrRecordNotFound)
	}
	return s.queue.Enqueue(rec)
}

// RetryPass runs one retry pass for today. A zero escalation uses the default.
func (s *RedistributionService) RetryPass(ctx context.Context, escalationPct int) (retry.PassResult, error) {
	return s.queue.Pass(ctx, s.escalationOrDefault(escalationPct), s.Today())
}

// RetryOne retries a single queued SKU for today.
func (s *RedistributionService) RetryOne(ctx context.Context, sku string, escalationPct int) (retry.PassResult, bool, error) {
	return s.queue.RetryOne(ctx, sku, s.escalationOrDefault(escalationPct), s.Today())
}

func (s *RedistributionService) escalationOrDefault(pct int) int {
	if pct == 0 {
		return s.escalation
	}
	return pct
}

// Upcoming lists valid units expiring between from and to days after today.
func (s *RedistributionService) Upcoming(units []model.InventoryUnit, today time.Time, from, to int) []model.UpcomingExpiry {
	return UpcomingExpiries(units, today, from, to)
}

// UpcomingExpiries lists valid units expiring between from and to days after today,
// inclusive, ordered by expiry date then SKU.
func UpcomingExpiries(units []model.InventoryUnit, today time.Time, from, to int) []model.UpcomingExpiry {
	today = clock.Date(today)
	out := []model.UpcomingExpiry{}
	for _, u := range units {
		if u.Validate() != nil {
			continue
		}
		days := clock.DaysBetween(today, u.ExpiryDate)
		if days < from || days > to {
			continue
		}
		out = append(out, model.UpcomingExpiry{
			SKUID:   u.SKUID,
			Product: u.ProductName,
			Expiry:  u.ExpiryDate,
			Stock:   u.Stock,
			Zone:    u.Zone,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Expiry.Equal(out[j].Expiry) {
			return out[i].Expiry.Before(out[j].Expiry)
		}
		return out[i].SKUID < out[j].SKUID
	})
	return out
}

// UpcomingFromSnapshot loads the snapshot source and lists its upcoming expiries.
func (s *RedistributionService) UpcomingFromSnapshot(ctx context.Context, today time.Time, from, to int) ([]model.UpcomingExpiry, error) {
	units, _, err := s.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.Upcoming(units, today, from, to), nil
}

func (s *RedistributionService) loadSnapshot(ctx context.Context) ([]model.InventoryUnit, []*model.DataError, error) {
	if s.source == nil {
		return nil, nil, model.ErrNoSnapshotSource
	}
	units, rejected, err := s.source.LoadSnapshot(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load inventory snapshot: %w", err)
	}
	return units, rejected, nil
}
