package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists and retrieves CheckpointStates by execution id. The
// engine ships a file-backed default; a Postgres-backed store is available
// for deployments that already run pgx elsewhere (§SPEC_FULL Part D).
type Store interface {
	Save(ctx context.Context, s *State) error
	Load(ctx context.Context, executionID string) (*State, error)
}

// FileStore persists each execution's checkpoint as
// <dir>/<executionId>.checkpoint.json,
// written tmp-then-rename for crash atomicity (§6 "Persisted files").
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if absent.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(executionID string) string {
	return filepath.Join(f.dir, executionID+".checkpoint.json")
}

// Save writes s, replacing any prior checkpoint for the same execution.
func (f *FileStore) Save(ctx context.Context, s *State) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	final := f.path(s.ExecutionID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write tmp: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// Load reads the checkpoint for executionID, or an error if none exists.
func (f *FileStore) Load(ctx context.Context, executionID string) (*State, error) {
	raw, err := os.ReadFile(f.path(executionID))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", executionID, err)
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal %s: %w", executionID, err)
	}
	return &s, nil
}

// PostgresStore persists checkpoints as a JSONB column, for deployments
// that want execution state queryable alongside other run metadata rather
// than scattered across a filesystem. Grounded on
// common/db.DB pgxpool wrapper and common/repository CRUD pattern.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. Callers are expected to have
// created the checkpoints table:
//
//	CREATE TABLE IF NOT EXISTS workflow_checkpoints (
//	    execution_id TEXT PRIMARY KEY,
//	    workflow_id  TEXT NOT NULL,
//	    captured_at  TIMESTAMPTZ NOT NULL,
//	    state        JSONB NOT NULL
//	);
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (p *PostgresStore) Save(ctx context.Context, s *State) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO workflow_checkpoints (execution_id, workflow_id, captured_at, state)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (execution_id) DO UPDATE
		SET workflow_id = EXCLUDED.workflow_id,
		    captured_at = EXCLUDED.captured_at,
		    state = EXCLUDED.state
	`, s.ExecutionID, s.WorkflowID, s.Timestamp, raw)
	if err != nil {
		return fmt.Errorf("checkpoint: upsert: %w", err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context, executionID string) (*State, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `
		SELECT state FROM workflow_checkpoints WHERE execution_id = $1
	`, executionID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: query %s: %w", executionID, err)
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal %s: %w", executionID, err)
	}
	return &s, nil
}
