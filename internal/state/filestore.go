package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/stockscout/stockscout/internal/catalog"
)

const (
	frontierFile = "frontier.json"
	recordsFile  = "records.jsonl"
	failuresFile = "failures.jsonl"
)

type frontierSnapshot struct {
	KnownProducts    []string `json:"known_products"`
	ResolvedVariants []string `json:"resolved_variants"`
}

// FileStore persists run state under a single directory: the frontier sets
// as a JSON snapshot replaced atomically via temp-file rename, records and
// failures as append-only JSONL files synced on every write.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	closed bool
}

// NewFileStore opens (or creates) the state directory for the given run key.
func NewFileStore(baseDir, runKey string) (*FileStore, error) {
	dir := filepath.Join(baseDir, runKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the resolved state directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Load(_ context.Context) (*RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rs := &RunState{}

	data, err := os.ReadFile(filepath.Join(s.dir, frontierFile))
	switch {
	case err == nil:
		var snap frontierSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("failed to parse frontier snapshot: %w", err)
		}
		rs.KnownProducts = snap.KnownProducts
		rs.ResolvedVariants = snap.ResolvedVariants
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read frontier snapshot: %w", err)
	}

	if err := readLines(filepath.Join(s.dir, recordsFile), func(line []byte) error {
		var rec catalog.StockRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		rs.Records = append(rs.Records, rec)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	if err := readLines(filepath.Join(s.dir, failuresFile), func(line []byte) error {
		var task catalog.FailedTask
		if err := json.Unmarshal(line, &task); err != nil {
			return err
		}
		rs.Failures = append(rs.Failures, task)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to read failures: %w", err)
	}

	return rs, nil
}

func (s *FileStore) SaveFrontier(_ context.Context, products, variants []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	data, err := json.MarshalIndent(frontierSnapshot{
		KnownProducts:    products,
		ResolvedVariants: variants,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal frontier: %w", err)
	}

	// Write to temp file first for atomicity.
	target := filepath.Join(s.dir, frontierFile)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write frontier snapshot: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to replace frontier snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) AppendRecord(_ context.Context, rec *catalog.StockRecord) error {
	return s.appendLine(recordsFile, rec)
}

func (s *FileStore) AppendFailure(_ context.Context, task *catalog.FailedTask) error {
	return s.appendLine(failuresFile, task)
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) appendLine(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s entry: %w", name, err)
	}

	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append to %s: %w", name, err)
	}
	// Durable before the owning task is acknowledged.
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	return nil
}

func readLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
