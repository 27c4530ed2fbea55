package state

import (
	"context"
	"errors"

	"github.com/stockscout/stockscout/internal/catalog"
)

// ErrStoreClosed is returned by store operations after Close.
var ErrStoreClosed = errors.New("state store is closed")

// RunState is everything a run reloads at startup: the frontier sets, the
// completed observations and the failure ledger. Owned by the discovery
// engine for the duration of a run.
type RunState struct {
	KnownProducts    []string              `json:"known_products"`
	ResolvedVariants []string              `json:"resolved_variants"`
	Records          []catalog.StockRecord `json:"records"`
	Failures         []catalog.FailedTask  `json:"failures"`
}

// Store is the persistence boundary. Implementations must make AppendRecord
// durable before returning, so a crash after a task is acknowledged never
// loses that task's records, and must tolerate concurrent calls.
type Store interface {
	// Load reconstructs the state left by the last completed write. A
	// store with no prior data returns an empty RunState, not an error.
	Load(ctx context.Context) (*RunState, error)
	// SaveFrontier snapshots the dedup sets.
	SaveFrontier(ctx context.Context, products, variants []string) error
	// AppendRecord durably appends one completed observation.
	AppendRecord(ctx context.Context, rec *catalog.StockRecord) error
	// AppendFailure durably appends one failure-ledger entry.
	AppendFailure(ctx context.Context, task *catalog.FailedTask) error
	Close() error
}
