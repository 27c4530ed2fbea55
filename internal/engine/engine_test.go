package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockscout/stockscout/internal/catalog"
	"github.com/stockscout/stockscout/internal/prober"
	"github.com/stockscout/stockscout/internal/state"
)

type fakeListings struct {
	mu    sync.Mutex
	pages map[string][]string
	errs  map[string]error
	calls int
}

func (f *fakeListings) ProductURLs(_ context.Context, listingURL string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[listingURL]; err != nil {
		return nil, err
	}
	return f.pages[listingURL], nil
}

type fakeProduct struct {
	axes       []catalog.AttributeAxis
	fields     catalog.ProductFields
	quantities map[string]int // variant key string -> quantity
	outOfStock map[string]bool
	openErr    error
}

type fakeShop struct {
	mu       sync.Mutex
	products map[string]*fakeProduct
	probes   map[string]int // variant key string -> oracle calls
}

func newFakeShop() *fakeShop {
	return &fakeShop{
		products: make(map[string]*fakeProduct),
		probes:   make(map[string]int),
	}
}

func (s *fakeShop) Open(_ context.Context, productURL string) (ProductSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prod, ok := s.products[productURL]
	if !ok {
		return nil, fmt.Errorf("unknown product %s", productURL)
	}
	if prod.openErr != nil {
		return nil, prod.openErr
	}
	return &fakeSession{shop: s, prod: prod, url: productURL}, nil
}

func (s *fakeShop) probeCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes[key]
}

type fakeSession struct {
	shop    *fakeShop
	prod    *fakeProduct
	url     string
	current []catalog.Selection
}

func (s *fakeSession) Fields() catalog.ProductFields { return s.prod.fields }
func (s *fakeSession) Axes() []catalog.AttributeAxis { return s.prod.axes }
func (s *fakeSession) Close() error                  { return nil }

func (s *fakeSession) Select(_ context.Context, selections []catalog.Selection) error {
	s.current = selections
	return nil
}

func (s *fakeSession) currentKey() string {
	return catalog.VariantKey{ProductURL: s.url, Selections: s.current}.String()
}

func (s *fakeSession) OutOfStock(context.Context) (bool, error) {
	return s.prod.outOfStock[s.currentKey()], nil
}

func (s *fakeSession) TryQuantity(_ context.Context, n int) (prober.Result, error) {
	key := s.currentKey()
	s.shop.mu.Lock()
	s.shop.probes[key]++
	quantity := s.prod.quantities[key]
	s.shop.mu.Unlock()

	if n <= quantity {
		return prober.Available, nil
	}
	return prober.Unavailable, nil
}

// buildScenario wires the end-to-end fixture: 2 listings with 3 products
// each, one product with a Size axis, the rest single-variant, with fixed
// quantities per variant.
func buildScenario() (*fakeListings, *fakeShop, map[string]int) {
	listings := &fakeListings{
		pages: map[string][]string{
			"https://shop.example/arrows": {
				"https://shop.example/p1",
				"https://shop.example/p2",
				"https://shop.example/p3",
			},
			"https://shop.example/gear": {
				"https://shop.example/p4",
				"https://shop.example/p5",
				"https://shop.example/p6",
			},
		},
		errs: map[string]error{},
	}

	shop := newFakeShop()
	want := map[string]int{
		"https://shop.example/p1|Size=S": 0,
		"https://shop.example/p1|Size=M": 5,
		"https://shop.example/p2":        12,
		"https://shop.example/p3":        0,
		"https://shop.example/p4":        3,
		"https://shop.example/p5":        9,
		"https://shop.example/p6":        1,
	}

	shop.products["https://shop.example/p1"] = &fakeProduct{
		axes: []catalog.AttributeAxis{{Name: "Size", Options: []string{"S", "M"}}},
		quantities: map[string]int{
			"https://shop.example/p1|Size=S": 0,
			"https://shop.example/p1|Size=M": 5,
		},
		outOfStock: map[string]bool{},
	}
	for _, p := range []string{"p2", "p3", "p4", "p5", "p6"} {
		url := "https://shop.example/" + p
		shop.products[url] = &fakeProduct{
			quantities: map[string]int{url: want[url]},
			outOfStock: map[string]bool{},
		}
	}
	return listings, shop, want
}

func newEngine(t *testing.T, dir string, listings ListingClient, shop ProductClient, opts Options) *Engine {
	t.Helper()
	store, err := state.NewFileStore(dir, "shop")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p := prober.New(&prober.Options{UpperGuess: 16, RetryDelay: 1})
	return New(opts, store, listings, shop, p)
}

func defaultOpts() Options {
	return Options{
		Listings: []string{
			"https://shop.example/arrows",
			"https://shop.example/gear",
		},
		ListingConcurrency: 2,
		ProductConcurrency: 3,
	}
}

func TestRunEndToEnd(t *testing.T) {
	listings, shop, want := buildScenario()
	eng := newEngine(t, t.TempDir(), listings, shop, defaultOpts())

	require.NoError(t, eng.Run(context.Background()))
	assert.Equal(t, PhaseFinalized, eng.Status().Phase)

	records := eng.Results().Records()
	require.Len(t, records, 7)

	got := make(map[string]int, len(records))
	for _, rec := range records {
		got[rec.Key] = rec.Quantity
	}
	assert.Equal(t, want, got)
	assert.Empty(t, eng.Results().Failures())
}

func TestRunFailsWithoutListings(t *testing.T) {
	listings, shop, _ := buildScenario()
	eng := newEngine(t, t.TempDir(), listings, shop, Options{})

	err := eng.Run(context.Background())
	require.ErrorIs(t, err, ErrNoListings)
	assert.Equal(t, PhaseFailed, eng.Status().Phase)
}

func TestRunIsolatesTaskFailure(t *testing.T) {
	listings, shop, _ := buildScenario()
	shop.products["https://shop.example/p3"].openErr = errors.New("page structure changed")

	eng := newEngine(t, t.TempDir(), listings, shop, defaultOpts())
	require.NoError(t, eng.Run(context.Background()))

	assert.Equal(t, PhaseFinalized, eng.Status().Phase)
	assert.Len(t, eng.Results().Records(), 6)

	failures := eng.Results().Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "https://shop.example/p3", failures[0].Key)
	assert.Equal(t, catalog.ReasonNavigation, failures[0].Reason)
}

func TestRunResumesAfterCrash(t *testing.T) {
	dir := t.TempDir()

	// First run: half the products are broken, simulating a run that was
	// interrupted with partial progress persisted.
	listings, shop, want := buildScenario()
	broken := errors.New("timeout")
	shop.products["https://shop.example/p4"].openErr = broken
	shop.products["https://shop.example/p5"].openErr = broken
	shop.products["https://shop.example/p6"].openErr = broken

	first := newEngine(t, dir, listings, shop, defaultOpts())
	require.NoError(t, first.Run(context.Background()))
	require.Len(t, first.Results().Records(), 4)

	resolvedEarly := []string{
		"https://shop.example/p1|Size=S",
		"https://shop.example/p1|Size=M",
		"https://shop.example/p2",
		"https://shop.example/p3",
	}
	probesBefore := make(map[string]int)
	for _, key := range resolvedEarly {
		probesBefore[key] = shop.probeCount(key)
	}

	// Second run over the same store with the site healthy again.
	for _, p := range []string{"p4", "p5", "p6"} {
		shop.products["https://shop.example/"+p].openErr = nil
	}
	second := newEngine(t, dir, listings, shop, defaultOpts())
	require.NoError(t, second.Run(context.Background()))
	assert.Equal(t, PhaseFinalized, second.Status().Phase)

	// All variants resolved, each exactly once.
	records := second.Results().Records()
	require.Len(t, records, 7)
	got := make(map[string]int, len(records))
	for _, rec := range records {
		_, dup := got[rec.Key]
		assert.False(t, dup, "duplicate record for %s", rec.Key)
		got[rec.Key] = rec.Quantity
	}
	assert.Equal(t, want, got)

	// Already-resolved keys were not re-probed.
	for _, key := range resolvedEarly {
		assert.Equal(t, probesBefore[key], shop.probeCount(key), "key %s was re-probed", key)
	}
}

func TestRunSkipsProbingMarkedOutOfStock(t *testing.T) {
	listings, shop, _ := buildScenario()
	shop.products["https://shop.example/p3"].outOfStock["https://shop.example/p3"] = true

	eng := newEngine(t, t.TempDir(), listings, shop, defaultOpts())
	require.NoError(t, eng.Run(context.Background()))

	assert.Zero(t, shop.probeCount("https://shop.example/p3"), "oracle must not run for marked out-of-stock pages")
	for _, rec := range eng.Results().Records() {
		if rec.Key == "https://shop.example/p3" {
			assert.Zero(t, rec.Quantity)
		}
	}
}

func TestRunInterrupted(t *testing.T) {
	listings, shop, _ := buildScenario()
	eng := newEngine(t, t.TempDir(), listings, shop, defaultOpts())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := eng.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseInterrupted, eng.Status().Phase)
	// Cancellation is not a task failure.
	assert.Empty(t, eng.Results().Failures())
}

func TestRunRetryFailedSeedsFromLedger(t *testing.T) {
	dir := t.TempDir()
	listings, shop, _ := buildScenario()
	shop.products["https://shop.example/p2"].openErr = errors.New("timeout")

	first := newEngine(t, dir, listings, shop, defaultOpts())
	require.NoError(t, first.Run(context.Background()))
	require.Len(t, first.Results().Failures(), 1)

	shop.products["https://shop.example/p2"].openErr = nil
	listings.calls = 0

	opts := defaultOpts()
	opts.RetryFailed = true
	second := newEngine(t, dir, listings, shop, opts)
	require.NoError(t, second.Run(context.Background()))

	records := second.Results().Records()
	require.Len(t, records, 7)
	found := false
	for _, rec := range records {
		if rec.Key == "https://shop.example/p2" {
			found = true
			assert.Equal(t, 12, rec.Quantity)
		}
	}
	assert.True(t, found)
}
