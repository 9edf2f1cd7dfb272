package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FileStore persists state as JSON on disk. Writes go through a temp file
// and rename, so a crash mid-save leaves the previous state intact.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore returns a JSON-backed state store.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger,
	}
}

// Load reads state from disk. A missing file is the normal first run and a
// corrupt file is discarded with a warning; both return empty state.
func (s *FileStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug().Str("path", s.path).Msg("no state file, starting fresh")
			return State{Stacks: map[string]StackSnapshot{}}, nil
		}
		return State{}, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn().Str("path", s.path).Err(err).Msg("state file corrupt, starting fresh")
		return State{Stacks: map[string]StackSnapshot{}}, nil
	}
	if state.Stacks == nil {
		state.Stacks = map[string]StackSnapshot{}
	}
	return state, nil
}

// Save writes state to disk atomically.
func (s *FileStore) Save(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state.Stacks == nil {
		state.Stacks = map[string]StackSnapshot{}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".convoy-*.json")
	if err != nil {
		return err
	}

	cleanup := func() {
		_ = os.Remove(tempFile.Name())
	}

	encoder := json.NewEncoder(tempFile)
	if err := encoder.Encode(state); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Close(); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tempFile.Name(), s.path); err != nil {
		cleanup()
		return err
	}

	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}

	return nil
}

// UpdateStack loads the full state, replaces one stack's snapshot, and saves
// the result. Other stacks in the same file are preserved.
func (s *FileStore) UpdateStack(ctx context.Context, stack string, snapshot StackSnapshot) error {
	state, err := s.Load(ctx)
	if err != nil {
		return err
	}
	state.Stacks[stack] = snapshot
	return s.Save(ctx, state)
}
