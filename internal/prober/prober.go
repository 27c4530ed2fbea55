package prober

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Result is one answer from the cart-add oracle.
type Result int

const (
	// Available means the probed quantity fit in the cart.
	Available Result = iota
	// Unavailable means the site rejected the probed quantity.
	Unavailable
	// Transient means the call failed for reasons unrelated to stock
	// (timeout, rate limit) and may succeed if repeated.
	Transient
)

func (r Result) String() string {
	switch r {
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	case Transient:
		return "transient"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Oracle reports whether n units can currently be added to the cart. Calls
// are expensive, stateful and occasionally flaky; the prober treats them
// accordingly. A non-nil error is a hard failure and aborts the probe.
type Oracle func(ctx context.Context, n int) (Result, error)

// Options tune a Prober. Zero values fall back to defaults.
type Options struct {
	// UpperGuess is the first quantity probed. The true quantity may be
	// far above or below it.
	UpperGuess int
	// CeilingFactor bounds exponential growth at CeilingFactor*UpperGuess
	// so a misbehaving site cannot drive the search to infinity.
	CeilingFactor int
	// RetryBudget is how many times a single transient oracle call is
	// repeated before it counts as unavailable.
	RetryBudget int
	// RetryDelay is the base pause between transient retries; the n-th
	// retry waits n*RetryDelay.
	RetryDelay time.Duration
}

const (
	defaultUpperGuess    = 100
	defaultCeilingFactor = 10
	defaultRetryBudget   = 3
	defaultRetryDelay    = 500 * time.Millisecond
)

// Prober determines an unknown non-negative quantity using only the boolean
// cart-add oracle: an exponential phase finds an interval containing the
// boundary, a binary phase bisects it. Total oracle calls are logarithmic in
// the answer plus a constant retry factor.
type Prober struct {
	upperGuess  int
	ceiling     int
	retryBudget int
	retryDelay  time.Duration
	logger      *slog.Logger
}

func New(opts *Options) *Prober {
	if opts == nil {
		opts = &Options{}
	}

	upper := opts.UpperGuess
	if upper < 1 {
		upper = defaultUpperGuess
	}
	factor := opts.CeilingFactor
	if factor < 1 {
		factor = defaultCeilingFactor
	}
	budget := opts.RetryBudget
	if budget < 1 {
		budget = defaultRetryBudget
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	return &Prober{
		upperGuess:  upper,
		ceiling:     upper * factor,
		retryBudget: budget,
		retryDelay:  delay,
		logger:      slog.Default().With("component", "prober"),
	}
}

// Probe returns the largest quantity the oracle reported available. Hitting
// the growth ceiling returns the ceiling itself, a documented approximation
// rather than an error.
func (p *Prober) Probe(ctx context.Context, oracle Oracle) (int, error) {
	lo := 0 // zero items always fit
	hi := p.upperGuess

	// Exponential phase: double until the oracle says no or the ceiling
	// is reached.
	for {
		res, err := p.ask(ctx, oracle, hi)
		if err != nil {
			return 0, err
		}
		if res == Unavailable {
			break
		}

		lo = hi
		if hi >= p.ceiling {
			p.logger.Warn("probe hit growth ceiling", "ceiling", p.ceiling)
			return p.ceiling, nil
		}
		hi *= 2
		if hi > p.ceiling {
			hi = p.ceiling
		}
	}

	// Binary phase: lo is known available, hi known unavailable.
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		res, err := p.ask(ctx, oracle, mid)
		if err != nil {
			return 0, err
		}
		if res == Available {
			lo = mid
		} else {
			hi = mid
		}
	}

	return lo, nil
}

// ask performs one oracle call, retrying transient results up to the budget.
// An exhausted budget degrades to unavailable so a flaky site narrows the
// estimate instead of stalling the probe.
func (p *Prober) ask(ctx context.Context, oracle Oracle, n int) (Result, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Unavailable, err
		}

		res, err := oracle(ctx, n)
		if err != nil {
			return Unavailable, fmt.Errorf("oracle call for %d units: %w", n, err)
		}
		if res != Transient {
			return res, nil
		}

		if attempt >= p.retryBudget {
			p.logger.Warn("transient retry budget exhausted, treating as unavailable", "quantity", n)
			return Unavailable, nil
		}

		p.logger.Debug("transient oracle result, retrying", "quantity", n, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return Unavailable, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * p.retryDelay):
		}
	}
}
