package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CheckpointScope identifies what a checkpoint's progress applies to. Scans of
// different chains, events or contract filters never share progress.
type CheckpointScope struct {
	ChainID  uint64
	Topic0   string
	Contract string
}

func (s CheckpointScope) String() string {
	return fmt.Sprintf("scan:%d:%s:%s", s.ChainID, strings.ToLower(s.Topic0), strings.ToLower(s.Contract))
}

// Checkpointer persists the last fully processed block for a scope.
type Checkpointer interface {
	Load(ctx context.Context, scope CheckpointScope) (uint64, bool, error)
	Save(ctx context.Context, scope CheckpointScope, lastProcessed uint64) error
}

// Checkpoint tracks the last processed block.
type Checkpoint struct {
	ChainID            uint64 `json:"chain_id"`
	Scope              string `json:"scope"`
	LastProcessedBlock uint64 `json:"last_processed_block"`
	UpdatedAt          string `json:"updated_at"`
}

// CheckpointStore persists checkpoints to disk.
type CheckpointStore struct {
	path    string
	enabled bool
}

func NewCheckpointStore(path string, enabled bool) *CheckpointStore {
	return &CheckpointStore{path: path, enabled: enabled}
}

// Load returns the stored block. A checkpoint written for another scope is an
// error rather than a silent resume.
func (c *CheckpointStore) Load(_ context.Context, scope CheckpointScope) (uint64, bool, error) {
	if !c.enabled {
		return 0, false, nil
	}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return 0, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return 0, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.ChainID != scope.ChainID || cp.Scope != scope.String() {
		return 0, false, fmt.Errorf("checkpoint %s belongs to %s (chain %d), not %s", c.path, cp.Scope, cp.ChainID, scope)
	}

	return cp.LastProcessedBlock, true, nil
}

func (c *CheckpointStore) Save(_ context.Context, scope CheckpointScope, lastProcessed uint64) error {
	if !c.enabled {
		return nil
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	cp := Checkpoint{
		ChainID:            scope.ChainID,
		Scope:              scope.String(),
		LastProcessedBlock: lastProcessed,
		UpdatedAt:          time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	return nil
}

// StateStore is a named progress table, such as the Postgres scan_state.
type StateStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, block uint64) error
}

// StateCheckpoint adapts a StateStore to Checkpointer, one row per scope.
type StateCheckpoint struct {
	Store StateStore
}

func (s StateCheckpoint) Load(ctx context.Context, scope CheckpointScope) (uint64, bool, error) {
	return s.Store.LoadState(ctx, scope.String())
}

func (s StateCheckpoint) Save(ctx context.Context, scope CheckpointScope, lastProcessed uint64) error {
	return s.Store.SaveState(ctx, scope.String(), lastProcessed)
}
