package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/jvanveen/groendus-hass/internal/auth"
	"github.com/jvanveen/groendus-hass/internal/sensors"
)

// State is everything groendus-hass persists between runs: the monotonic
// energy accumulator and the last known token set. Credentials and the
// chargepoint selection live in the configuration, not here.
type State struct {
	Version     int                 `json:"version"`
	Accumulator sensors.Accumulator `json:"accumulator"`
	Tokens      *auth.TokenSet      `json:"tokens,omitempty"`
}

const stateVersion = 1

// Store reads and writes the JSON state file.
type Store struct {
	path   string
	logger *logrus.Logger
}

// New creates a store for the given file path.
func New(path string, logger *logrus.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Load reads the persisted state. A missing file yields zero state; a
// corrupt file is logged and discarded rather than blocking startup, at the
// cost of the total energy counter restarting from the file's last good
// backup (none).
func (s *Store) Load() *State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.WithError(err).Warn("Failed to read state file, starting fresh")
		}
		return &State{Version: stateVersion}
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.WithError(err).WithField("path", s.path).Warn("State file is corrupt, starting fresh")
		return &State{Version: stateVersion}
	}
	state.Version = stateVersion
	return &state
}

// Save writes the state atomically (temp file + rename) so a crash mid-write
// cannot destroy the accumulator.
func (s *Store) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("store: failed to marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".groendus-hass-state-*")
	if err != nil {
		return fmt.Errorf("store: failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: failed to replace state file: %w", err)
	}

	// Tokens are in here; keep the file out of other users' reach.
	if err := os.Chmod(s.path, 0o600); err != nil {
		s.logger.WithError(err).Debug("Failed to tighten state file permissions")
	}

	s.logger.WithField("path", s.path).Debug("State persisted")
	return nil
}
