package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/rawlogs/rawlogs/internal/types"
)

// FileCheckpoints keeps the checkpoint in memory and, when path is set,
// persists it as {"last_processed_end": <epoch-ms>}. Safe for concurrent use.
type FileCheckpoints struct {
	mu   sync.Mutex
	path string
	cp   types.Checkpoint
	have bool
}

// persistState is the on-disk shape.
type persistState struct {
	LastProcessedEnd int64 `json:"last_processed_end"`
}

// NewFileCheckpoints returns a checkpoint store backed by path, or memory only if path is empty.
func NewFileCheckpoints(path string) *FileCheckpoints {
	return &FileCheckpoints{path: path}
}

// Load returns the stored checkpoint, reading path on first use.
func (f *FileCheckpoints) Load(ctx context.Context) (types.Checkpoint, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return types.Checkpoint{}, false, err
	}
	return f.cp, f.have, nil
}

// load reads path into f.cp unless a checkpoint is already held. f.mu must be held.
func (f *FileCheckpoints) load() error {
	if f.have || f.path == "" {
		return nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var state persistState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	f.cp, f.have = types.CheckpointFromMillis(state.LastProcessedEnd), true
	return nil
}

// Save stores cp, refusing to move behind the stored checkpoint (read from
// path if Load was never called), and writes it to path if set.
func (f *FileCheckpoints) Save(ctx context.Context, cp types.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return err
	}
	if err := CheckAdvance(f.cp, f.have, cp); err != nil {
		return err
	}
	if f.path != "" {
		data, err := json.Marshal(persistState{LastProcessedEnd: cp.Millis()})
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
			return err
		}
		tmp := f.path + ".tmp"
		if err := os.WriteFile(tmp, data, 0644); err != nil {
			return err
		}
		if err := os.Rename(tmp, f.path); err != nil {
			return err
		}
	}
	f.cp, f.have = cp, true
	return nil
}
