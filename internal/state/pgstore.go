package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stockscout/stockscout/internal/catalog"
)

// PGStore is the Postgres-backed Store. All rows are scoped by the run key
// so several sites can share one database.
type PGStore struct {
	pool   *pgxpool.Pool
	runKey string
}

// NewPGStore connects to Postgres and ensures the schema exists.
func NewPGStore(ctx context.Context, dsn, runKey string) (*PGStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PGStore{pool: pool, runKey: runKey}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) ensureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS frontier_products (
			run_key  TEXT NOT NULL,
			url      TEXT NOT NULL,
			added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (run_key, url)
		);
		CREATE TABLE IF NOT EXISTS frontier_variants (
			run_key     TEXT NOT NULL,
			variant_key TEXT NOT NULL,
			resolved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (run_key, variant_key)
		);
		CREATE TABLE IF NOT EXISTS stock_records (
			id          UUID PRIMARY KEY,
			run_key     TEXT NOT NULL,
			variant_key TEXT NOT NULL,
			product_url TEXT NOT NULL,
			selections  JSONB,
			quantity    INT NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL,
			fields      JSONB
		);
		CREATE TABLE IF NOT EXISTS failed_tasks (
			id       UUID PRIMARY KEY,
			run_key  TEXT NOT NULL,
			task_key TEXT NOT NULL,
			reason   TEXT NOT NULL,
			error    TEXT,
			at       TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_stock_records_run ON stock_records (run_key, observed_at);
		CREATE INDEX IF NOT EXISTS idx_failed_tasks_run ON failed_tasks (run_key, at);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func (s *PGStore) Load(ctx context.Context) (*RunState, error) {
	rs := &RunState{}

	rows, err := s.pool.Query(ctx,
		`SELECT url FROM frontier_products WHERE run_key = $1 ORDER BY url`, s.runKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load frontier products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("failed to scan product url: %w", err)
		}
		rs.KnownProducts = append(rs.KnownProducts, url)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT variant_key FROM frontier_variants WHERE run_key = $1 ORDER BY variant_key`, s.runKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load resolved variants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan variant key: %w", err)
		}
		rs.ResolvedVariants = append(rs.ResolvedVariants, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, variant_key, product_url, selections, quantity, observed_at, fields
		 FROM stock_records WHERE run_key = $1 ORDER BY observed_at`, s.runKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load stock records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec catalog.StockRecord
		var selections, fields []byte
		if err := rows.Scan(&rec.ID, &rec.Key, &rec.ProductURL, &selections,
			&rec.Quantity, &rec.ObservedAt, &fields); err != nil {
			return nil, fmt.Errorf("failed to scan stock record: %w", err)
		}
		if len(selections) > 0 {
			if err := json.Unmarshal(selections, &rec.Selections); err != nil {
				return nil, fmt.Errorf("failed to decode selections: %w", err)
			}
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &rec.Fields); err != nil {
				return nil, fmt.Errorf("failed to decode fields: %w", err)
			}
		}
		rs.Records = append(rs.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, task_key, reason, COALESCE(error, ''), at
		 FROM failed_tasks WHERE run_key = $1 ORDER BY at`, s.runKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load failed tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var task catalog.FailedTask
		if err := rows.Scan(&task.ID, &task.Key, &task.Reason, &task.Error, &task.At); err != nil {
			return nil, fmt.Errorf("failed to scan failed task: %w", err)
		}
		rs.Failures = append(rs.Failures, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rs, nil
}

// SaveFrontier inserts the sets with ON CONFLICT DO NOTHING; the sets only
// grow, so re-inserting existing members is a no-op.
func (s *PGStore) SaveFrontier(ctx context.Context, products, variants []string) error {
	batchInsert := func(query string, values []string) error {
		for _, v := range values {
			if _, err := s.pool.Exec(ctx, query, s.runKey, v); err != nil {
				return err
			}
		}
		return nil
	}

	if err := batchInsert(
		`INSERT INTO frontier_products (run_key, url) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		products); err != nil {
		return fmt.Errorf("failed to save frontier products: %w", err)
	}
	if err := batchInsert(
		`INSERT INTO frontier_variants (run_key, variant_key) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		variants); err != nil {
		return fmt.Errorf("failed to save resolved variants: %w", err)
	}
	return nil
}

func (s *PGStore) AppendRecord(ctx context.Context, rec *catalog.StockRecord) error {
	selections, err := json.Marshal(rec.Selections)
	if err != nil {
		return fmt.Errorf("failed to encode selections: %w", err)
	}
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO stock_records (id, run_key, variant_key, product_url, selections, quantity, observed_at, fields)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, s.runKey, rec.Key, rec.ProductURL, selections, rec.Quantity, rec.ObservedAt, fields)
	if err != nil {
		return fmt.Errorf("failed to insert stock record: %w", err)
	}
	return nil
}

func (s *PGStore) AppendFailure(ctx context.Context, task *catalog.FailedTask) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO failed_tasks (id, run_key, task_key, reason, error, at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		task.ID, s.runKey, task.Key, task.Reason, task.Error, task.At)
	if err != nil {
		return fmt.Errorf("failed to insert failed task: %w", err)
	}
	return nil
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
