package state

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stockscout/stockscout/internal/catalog"
)

// Results is the append-only record of completed variant observations plus
// the failure ledger. Appends are durable before they return; reloaded
// entries from prior runs are kept so partial results stay usable.
type Results struct {
	mu       sync.Mutex
	store    Store
	records  []catalog.StockRecord
	failures []catalog.FailedTask
	logger   *slog.Logger
}

// NewResults rebuilds the result store from a loaded run state.
func NewResults(store Store, rs *RunState) *Results {
	return &Results{
		store:    store,
		records:  append([]catalog.StockRecord(nil), rs.Records...),
		failures: append([]catalog.FailedTask(nil), rs.Failures...),
		logger:   slog.Default().With("component", "results"),
	}
}

// Append durably writes one stock record. Missing ID and timestamp are
// filled in here so callers only supply the observation itself.
func (r *Results) Append(ctx context.Context, rec catalog.StockRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.AppendRecord(ctx, &rec); err != nil {
		return err
	}
	r.records = append(r.records, rec)

	r.logger.Info("stock record appended",
		"key", rec.Key,
		"quantity", rec.Quantity)
	return nil
}

// RecordFailure durably appends one entry to the failure ledger.
func (r *Results) RecordFailure(ctx context.Context, key, reason string, cause error) error {
	task := catalog.FailedTask{
		ID:     uuid.New().String(),
		Key:    key,
		Reason: reason,
		At:     time.Now().UTC(),
	}
	if cause != nil {
		task.Error = cause.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.AppendFailure(ctx, &task); err != nil {
		return err
	}
	r.failures = append(r.failures, task)

	r.logger.Warn("task failure recorded", "key", key, "reason", reason, "error", task.Error)
	return nil
}

// Records returns a copy of all observations, oldest first.
func (r *Results) Records() []catalog.StockRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]catalog.StockRecord(nil), r.records...)
}

// Failures returns a copy of the failure ledger.
func (r *Results) Failures() []catalog.FailedTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]catalog.FailedTask(nil), r.failures...)
}

// FailedKeys returns the distinct task keys present in the ledger, used to
// seed a retry run.
func (r *Results) FailedKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(r.failures))
	var keys []string
	for _, f := range r.failures {
		if _, ok := seen[f.Key]; ok {
			continue
		}
		seen[f.Key] = struct{}{}
		keys = append(keys, f.Key)
	}
	return keys
}
