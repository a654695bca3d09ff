// Package state persists the bot's restart-critical state: the day's risk
// statistics and any open position, checkpointed to a JSON file.
package state

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"okxquant/internal/risk"
	"okxquant/internal/strategy"
)

// Checkpoint is everything worth surviving a restart.
type Checkpoint struct {
	SavedAt   time.Time                    `json:"saved_at"`
	Risk      risk.DailyState              `json:"risk"`
	Positions map[string]strategy.Position `json:"positions,omitempty"`
}

// Store serializes checkpoint access to one file.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save writes the checkpoint atomically: temp file then rename, so a crash
// mid-write never corrupts the previous checkpoint.
func (s *Store) Save(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the checkpoint. A missing file returns ok=false and no error;
// the bot simply starts fresh.
func (s *Store) Load() (Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}
