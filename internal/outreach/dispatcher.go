// Package outreach contacts ranked buyers one at a time until one accepts an offer.
package outreach

import (
	"context"
	"errors"
	"time"

	"microhub-redistribution-api/internal/model"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Offer is the deal presented to each candidate buyer. The price is fixed for the unit
// and is not renegotiated per buyer.
type Offer struct {
	SKUID         string
	Product       string
	Zone          string
	Price         decimal.Decimal
	OriginalPrice decimal.Decimal
	DiscountPct   int
	Stock         int
}

// OfferFor builds the offer for a record at its current price.
func OfferFor(rec model.RedistributionRecord) Offer {
	return Offer{
		SKUID:         rec.SKUID,
		Product:       rec.Product,
		Zone:          rec.Zone,
		Price:         rec.Price,
		OriginalPrice: rec.OriginalPrice,
		DiscountPct:   rec.DiscountPct,
		Stock:         rec.Stock,
	}
}

// Responder delivers an offer to a buyer and waits for the answer.
type Responder interface {
	Respond(ctx context.Context, buyer model.BuyerProfile, offer Offer) (accepted bool, err error)
}

// Attempt is one contacted buyer.
type Attempt struct {
	Buyer    string        `json:"buyer"`
	Channel  model.Channel `json:"channel"`
	Accepted bool          `json:"accepted"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Error    string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency"`
}

// Outcome is the result of dispatching one offer.
// Buyer is nil and Status is Unsold when every candidate declined.
type Outcome struct {
	Buyer    *model.BuyerProfile
	Status   model.Status
	Attempts []Attempt
}

// Accepted reports whether a buyer took the offer.
func (o Outcome) Accepted() bool {
	return o.Buyer != nil
}

// Dispatcher offers a unit to ranked buyers strictly in order and stops at the first acceptance.
type Dispatcher struct {
	responder     Responder
	timeout       time.Duration
	maxCandidates int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithResponseTimeout bounds the wait for each buyer. A timeout counts as a decline.
func WithResponseTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithMaxCandidates limits how many ranked buyers are contacted per dispatch. Zero means all.
func WithMaxCandidates(n int) DispatcherOption {
	return func(disp *Dispatcher) {
		if n > 0 {
			disp.maxCandidates = n
		}
	}
}

// NewDispatcher creates a dispatcher backed by responder.
func NewDispatcher(responder Responder, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{responder: responder}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch contacts ranked buyers one after another. It returns early with ctx's error
// if ctx is cancelled; attempts made so far are kept in the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, offer Offer, ranked []model.BuyerProfile) (Outcome, error) {
	candidates := ranked
	if d.maxCandidates > 0 && len(candidates) > d.maxCandidates {
		candidates = candidates[:d.maxCandidates]
	}

	out := Outcome{Status: model.StatusUnsold}
	for _, b := range candidates {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		attempt, err := d.attempt(ctx, b, offer)
		out.Attempts = append(out.Attempts, attempt)
		if err != nil {
			return out, err
		}

		log.Debug().Str("component", "outreach").Str("sku", offer.SKUID).Str("buyer", b.Name).
			Str("channel", string(b.Channel)).Bool("accepted", attempt.Accepted).
			Dur("latency", attempt.Latency).Msg("offer sent")

		if attempt.Accepted {
			buyer := b
			out.Buyer = &buyer
			out.Status = model.StatusRouted
			return out, nil
		}
	}

	return out, nil
}

func (d *Dispatcher) attempt(ctx context.Context, b model.BuyerProfile, offer Offer) (Attempt, error) {
	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if d.timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, d.timeout)
	}
	defer cancel()

	start := time.Now()
	accepted, err := d.responder.Respond(attemptCtx, b, offer)
	a := Attempt{
		Buyer:    b.Name,
		Channel:  b.Channel,
		Accepted: accepted && err == nil,
		Latency:  time.Since(start),
	}
	if err == nil {
		return a, nil
	}

	if ctx.Err() != nil {
		return a, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		a.TimedOut = true
		return a, nil
	}

	log.Warn().Str("component", "outreach").Str("sku", offer.SKUID).Str("buyer", b.Name).
		Err(err).Msg("responder failed, treating as decline")
	a.Error = err.Error()
	return a, nil
}
