package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stockscout/stockscout/internal/catalog"
	"github.com/stockscout/stockscout/internal/executor"
	"github.com/stockscout/stockscout/internal/prober"
	"github.com/stockscout/stockscout/internal/state"
)

// Phase is the engine's position in the per-run state machine.
type Phase string

const (
	PhaseInit        Phase = "init"
	PhaseListing     Phase = "listing"
	PhaseProduct     Phase = "product"
	PhaseFinalized   Phase = "finalized"
	PhaseInterrupted Phase = "interrupted"
	PhaseFailed      Phase = "failed"
)

// ErrNoListings is the setup failure for a run with nothing to crawl.
var ErrNoListings = errors.New("no listing URLs configured")

// ListingClient fetches one listing URL, walks its pagination and returns
// the normalized product URLs found.
type ListingClient interface {
	ProductURLs(ctx context.Context, listingURL string) ([]string, error)
}

// ProductSession is one open, isolated browsing session on a product page.
// Sessions are never shared between tasks; one task's cart state must not
// leak into another's.
type ProductSession interface {
	// Fields returns the extracted product fields of the open page.
	Fields() catalog.ProductFields
	// Axes returns the selectable attribute axes in page order.
	Axes() []catalog.AttributeAxis
	// Select puts the page into the state matching the given combination.
	Select(ctx context.Context, selections []catalog.Selection) error
	// OutOfStock reports the page's explicit out-of-stock marker for the
	// current selection, the short circuit that skips probing entirely.
	OutOfStock(ctx context.Context) (bool, error)
	// TryQuantity is the cart-add oracle for the current selection.
	TryQuantity(ctx context.Context, n int) (prober.Result, error)
	Close() error
}

// ProductClient opens product sessions.
type ProductClient interface {
	Open(ctx context.Context, productURL string) (ProductSession, error)
}

// EventSink receives a notification per resolved variant. Optional.
type EventSink interface {
	VariantResolved(ctx context.Context, rec catalog.StockRecord) error
}

// Options configure one discovery run.
type Options struct {
	// Listings are the listing URLs to crawl. Fixed for the run.
	Listings []string
	// ListingConcurrency caps the listing batch; typically low, listing
	// tasks are few and page-heavy.
	ListingConcurrency int
	// ProductConcurrency caps the product batch.
	ProductConcurrency int
	// RetryFailed seeds the product phase from the failure ledger
	// instead of the full frontier.
	RetryFailed bool
}

// Status is a point-in-time snapshot of a run, served by the HTTP API and
// printed in the final report.
type Status struct {
	RunID            string     `json:"run_id"`
	Phase            Phase      `json:"phase"`
	Listings         int        `json:"listings"`
	KnownProducts    int        `json:"known_products"`
	ResolvedVariants int        `json:"resolved_variants"`
	Records          int        `json:"records"`
	Failures         int        `json:"failures"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// Engine orchestrates the two-phase discovery pipeline: listing tasks fan
// out first and feed the frontier, then product tasks enumerate, probe and
// record every unresolved variant. All run state lives in the frontier and
// result store, both reloaded at INIT so an interrupted run resumes where
// it stopped.
type Engine struct {
	opts     Options
	store    state.Store
	listings ListingClient
	products ProductClient
	prober   *prober.Prober
	exec     *executor.Executor
	events   EventSink
	logger   *slog.Logger

	mu        sync.Mutex
	runID     string
	phase     Phase
	startedAt time.Time
	finished  *time.Time
	frontier  *state.Frontier
	results   *state.Results
}

func New(opts Options, store state.Store, listings ListingClient, products ProductClient, p *prober.Prober) *Engine {
	if opts.ListingConcurrency < 1 {
		opts.ListingConcurrency = 2
	}
	if opts.ProductConcurrency < 1 {
		opts.ProductConcurrency = 4
	}
	if p == nil {
		p = prober.New(nil)
	}

	return &Engine{
		opts:     opts,
		store:    store,
		listings: listings,
		products: products,
		prober:   p,
		exec:     executor.New(),
		logger:   slog.Default().With("component", "engine"),
		runID:    uuid.New().String(),
		phase:    PhaseInit,
	}
}

// SetEventSink attaches an optional per-variant event publisher. Must be
// called before Run.
func (e *Engine) SetEventSink(sink EventSink) {
	e.events = sink
}

// Results exposes the result store; valid after Run has loaded state.
func (e *Engine) Results() *state.Results {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results
}

// Status returns a snapshot of the current run.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		RunID:     e.runID,
		Phase:     e.phase,
		Listings:  len(e.opts.Listings),
		StartedAt: e.startedAt,
	}
	if e.finished != nil {
		t := *e.finished
		s.FinishedAt = &t
	}
	if e.frontier != nil {
		s.KnownProducts = len(e.frontier.ProductURLs())
		s.ResolvedVariants = e.frontier.ResolvedCount()
	}
	if e.results != nil {
		s.Records = len(e.results.Records())
		s.Failures = len(e.results.Failures())
	}
	return s
}

// Run drives the state machine to FINALIZED, or INTERRUPTED on
// cancellation, or FAILED on an unrecoverable setup error. Partial progress
// is persisted either way.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.startedAt = time.Now().UTC()
	e.mu.Unlock()

	if len(e.opts.Listings) == 0 {
		e.setPhase(PhaseFailed)
		return ErrNoListings
	}

	rs, err := e.store.Load(ctx)
	if err != nil {
		e.setPhase(PhaseFailed)
		return fmt.Errorf("failed to load run state: %w", err)
	}

	e.mu.Lock()
	e.frontier = state.NewFrontier(e.store, rs)
	e.results = state.NewResults(e.store, rs)
	frontier, results := e.frontier, e.results
	e.mu.Unlock()

	e.logger.Info("run state loaded",
		"run_id", e.runID,
		"known_products", len(rs.KnownProducts),
		"resolved_variants", len(rs.ResolvedVariants),
		"records", len(rs.Records))

	e.setPhase(PhaseListing)
	if err := e.runListingPhase(ctx, frontier, results); err != nil {
		e.setPhase(PhaseInterrupted)
		return err
	}

	e.setPhase(PhaseProduct)
	if err := e.runProductPhase(ctx, frontier, results); err != nil {
		e.setPhase(PhaseInterrupted)
		return err
	}

	e.setPhase(PhaseFinalized)
	e.logger.Info("run finalized",
		"run_id", e.runID,
		"products", len(frontier.ProductURLs()),
		"records", len(results.Records()),
		"failures", len(results.Failures()))
	return nil
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = p
	if p == PhaseFinalized || p == PhaseInterrupted || p == PhaseFailed {
		now := time.Now().UTC()
		e.finished = &now
	}
	e.logger.Info("phase change", "phase", string(p))
}

func (e *Engine) runListingPhase(ctx context.Context, frontier *state.Frontier, results *state.Results) error {
	tasks := make([]executor.Task, 0, len(e.opts.Listings))
	for _, listingURL := range e.opts.Listings {
		listingURL := listingURL
		tasks = append(tasks, executor.Task{
			Key: listingURL,
			Run: func(ctx context.Context) error {
				urls, err := e.listings.ProductURLs(ctx, listingURL)
				if err != nil {
					return err
				}
				added, err := frontier.MergeProductURLs(ctx, urls)
				if err != nil {
					return fmt.Errorf("failed to merge product urls: %w", err)
				}
				e.logger.Info("listing crawled", "url", listingURL, "found", len(urls), "new", added)
				return nil
			},
		})
	}

	return e.exec.RunAll(ctx, tasks, e.opts.ListingConcurrency, e.failureLedger(results))
}

func (e *Engine) runProductPhase(ctx context.Context, frontier *state.Frontier, results *state.Results) error {
	urls := frontier.ProductURLs()
	if e.opts.RetryFailed {
		urls = results.FailedKeys()
		e.logger.Info("retrying failed tasks from ledger", "count", len(urls))
	}

	tasks := make([]executor.Task, 0, len(urls))
	for _, productURL := range urls {
		productURL := productURL
		tasks = append(tasks, executor.Task{
			Key: productURL,
			Run: func(ctx context.Context) error {
				return e.resolveProduct(ctx, productURL, frontier, results)
			},
		})
	}

	return e.exec.RunAll(ctx, tasks, e.opts.ProductConcurrency, e.failureLedger(results))
}

// resolveProduct enumerates a product's variants and probes every key not
// already resolved. Errors abandon the whole task and are ledgered once by
// the executor's failure hook; cancellation propagates untagged.
func (e *Engine) resolveProduct(ctx context.Context, productURL string, frontier *state.Frontier, results *state.Results) error {
	session, err := e.products.Open(ctx, productURL)
	if err != nil {
		return catalog.Tag(catalog.ReasonNavigation, err)
	}
	defer session.Close()

	axes := session.Axes()
	keys := catalog.Enumerate(productURL, axes)

	// A count mismatch here is a defect in enumeration or extraction,
	// surfaced loudly rather than silently skipped.
	if len(keys) != catalog.ExpectedVariants(axes) {
		return catalog.Tag(catalog.ReasonEnumeration,
			fmt.Errorf("enumerated %d variants, axes imply %d", len(keys), catalog.ExpectedVariants(axes)))
	}
	if len(keys) == 0 {
		e.logger.Warn("product has an empty attribute axis, nothing to probe", "url", productURL)
		return nil
	}

	keyStrings := make([]string, len(keys))
	for i, k := range keys {
		keyStrings[i] = k.String()
	}
	if frontier.AllResolved(keyStrings) {
		e.logger.Info("product already fully resolved", "url", productURL)
		return nil
	}

	fields := session.Fields()

	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if frontier.IsResolved(keyStrings[i]) {
			continue
		}

		if err := session.Select(ctx, key.Selections); err != nil {
			return catalog.Tag(catalog.ReasonProbe, fmt.Errorf("failed to select %s: %w", keyStrings[i], err))
		}

		quantity := 0
		oos, err := session.OutOfStock(ctx)
		if err != nil {
			return catalog.Tag(catalog.ReasonExtraction, err)
		}
		if !oos {
			quantity, err = e.prober.Probe(ctx, session.TryQuantity)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return catalog.Tag(catalog.ReasonProbe, err)
			}
		}

		rec := catalog.StockRecord{
			Key:        keyStrings[i],
			ProductURL: productURL,
			Selections: key.Selections,
			Quantity:   quantity,
			Fields:     fields,
		}

		// Durable append first, then mark resolved: a crash in between
		// re-probes this key next run, it never loses the record.
		if err := results.Append(ctx, rec); err != nil {
			return fmt.Errorf("failed to append stock record: %w", err)
		}
		if err := frontier.MarkResolved(ctx, keyStrings[i]); err != nil {
			return fmt.Errorf("failed to mark variant resolved: %w", err)
		}

		if e.events != nil {
			if err := e.events.VariantResolved(ctx, rec); err != nil {
				e.logger.Warn("failed to publish variant event", "key", rec.Key, "error", err)
			}
		}
	}

	return nil
}

// failureLedger adapts the result store's ledger to the executor's failure
// hook, mapping error types to reason tags.
func (e *Engine) failureLedger(results *state.Results) executor.FailureFunc {
	return func(ctx context.Context, key string, err error) {
		// Cancellation is not a task failure; the key stays unresolved
		// and the next run picks it up.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			e.logger.Info("task interrupted", "key", key)
			return
		}

		reason := catalog.ReasonNavigation

		var tagged *catalog.TaggedError
		var panicked *executor.PanicError
		switch {
		case errors.As(err, &tagged):
			reason = tagged.Reason
		case errors.As(err, &panicked):
			reason = catalog.ReasonPanic
		}

		// Ledger writes should survive run cancellation.
		if ctx.Err() != nil {
			ctx = context.WithoutCancel(ctx)
		}
		if ledgerErr := results.RecordFailure(ctx, key, reason, err); ledgerErr != nil {
			e.logger.Error("failed to record task failure", "key", key, "error", ledgerErr)
		}
	}
}
