package state

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Frontier holds the deduplicated crawl sets: product URLs discovered on
// listing pages and variant keys already resolved. Both sets only grow.
// Safe for concurrent use; every mutation is written through to the store
// before it is acknowledged.
type Frontier struct {
	mu       sync.Mutex
	store    Store
	products map[string]struct{}
	resolved map[string]struct{}
	logger   *slog.Logger
}

// NewFrontier rebuilds the frontier from a loaded run state.
func NewFrontier(store Store, rs *RunState) *Frontier {
	f := &Frontier{
		store:    store,
		products: make(map[string]struct{}, len(rs.KnownProducts)),
		resolved: make(map[string]struct{}, len(rs.ResolvedVariants)),
		logger:   slog.Default().With("component", "frontier"),
	}
	for _, u := range rs.KnownProducts {
		f.products[u] = struct{}{}
	}
	for _, k := range rs.ResolvedVariants {
		f.resolved[k] = struct{}{}
	}
	return f
}

// MergeProductURLs unions newly discovered URLs into the known set and
// persists the result. Idempotent: merging the same set twice changes
// nothing the second time. Returns how many URLs were actually new.
func (f *Frontier) MergeProductURLs(ctx context.Context, urls []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	added := 0
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := f.products[u]; !ok {
			f.products[u] = struct{}{}
			added++
		}
	}

	if added == 0 {
		return 0, nil
	}
	if err := f.saveLocked(ctx); err != nil {
		return added, err
	}

	f.logger.Debug("merged product urls", "new", added, "total", len(f.products))
	return added, nil
}

// ProductURLs returns the known product URLs in a stable order.
func (f *Frontier) ProductURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.products)
}

// IsResolved reports whether the variant key has already been observed.
func (f *Frontier) IsResolved(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.resolved[key]
	return ok
}

// MarkResolved adds the variant key to the resolved set and persists it.
func (f *Frontier) MarkResolved(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.resolved[key]; ok {
		return nil
	}
	f.resolved[key] = struct{}{}
	return f.saveLocked(ctx)
}

// ResolvedCount returns the size of the resolved-variant set.
func (f *Frontier) ResolvedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resolved)
}

// AllResolved reports whether every given key is already resolved. Used to
// skip products whose full variant set was observed in an earlier run.
func (f *Frontier) AllResolved(keys []string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, k := range keys {
		if _, ok := f.resolved[k]; !ok {
			return false
		}
	}
	return true
}

func (f *Frontier) saveLocked(ctx context.Context) error {
	return f.store.SaveFrontier(ctx, sortedKeys(f.products), sortedKeys(f.resolved))
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
