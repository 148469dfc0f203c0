package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/IshaanNene/boardscrape/internal/storage"
	"github.com/IshaanNene/boardscrape/internal/types"
)

// Checkpoint is the discovery state saved next to the progress store.
type Checkpoint struct {
	RunID         string           `json:"run_id"`
	ListURL       string           `json:"list_url"`
	PageURL       string           `json:"page_url"`
	Iterations    int64            `json:"iterations"`
	DiscoveryDone bool             `json:"discovery_done"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Stats         map[string]int64 `json:"stats"`
}

// CheckpointManager reads and writes the checkpoint file.
type CheckpointManager struct {
	path string
}

// NewCheckpointManager creates a CheckpointManager for path.
func NewCheckpointManager(path string) *CheckpointManager {
	return &CheckpointManager{path: path}
}

// Path returns the checkpoint file location.
func (cm *CheckpointManager) Path() string { return cm.path }

// Save writes cp atomically.
func (cm *CheckpointManager) Save(cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := storage.WriteFileAtomic(cm.path, append(data, '\n')); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint. A missing file returns nil without error.
func (cm *CheckpointManager) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(cm.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &types.CorruptStoreError{Path: cm.path, Err: err}
	}
	return &cp, nil
}

// Clean removes the checkpoint file.
func (cm *CheckpointManager) Clean() error {
	if err := os.Remove(cm.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// loadCheckpoint returns the checkpoint for listURL, or nil when there is
// none or it belongs to another listing. A damaged checkpoint only costs the
// shortcut, so it is logged and ignored.
func (c *Collector) loadCheckpoint(listURL string) *Checkpoint {
	if c.checkpoint == nil {
		return nil
	}
	cp, err := c.checkpoint.Load()
	if err != nil {
		c.logger.Warn("ignoring checkpoint", "path", c.checkpoint.Path(), "error", err)
		return nil
	}
	if cp == nil || types.CanonicalURL(cp.ListURL) != types.CanonicalURL(listURL) {
		return nil
	}
	return cp
}

func (c *Collector) saveCheckpoint(listURL, pageURL string, done bool) {
	if c.checkpoint == nil {
		return
	}
	cp := &Checkpoint{
		RunID:         c.runID,
		ListURL:       listURL,
		PageURL:       pageURL,
		Iterations:    c.stats.Iterations.Load(),
		DiscoveryDone: done,
		UpdatedAt:     time.Now().UTC(),
		Stats:         c.stats.Counters(),
	}
	if err := c.checkpoint.Save(cp); err != nil {
		c.logger.Error("checkpoint save failed", "error", err)
		return
	}
	c.logger.Debug("checkpoint saved", "page", pageURL, "done", done)
}
