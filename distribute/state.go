package distribute

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/cosmo-local-credit/saleops/atomicfile"
)

const stateVersion = 1

var ErrResumeConflict = errors.New("resume state belongs to a different plan")

// State maps idempotency keys to the transaction that settled them. It is
// rewritten atomically after every change when it has a path.
type State struct {
	Version     int               `json:"version"`
	Fingerprint string            `json:"fingerprint"`
	Settled     map[string]string `json:"settled"`

	path string
	mu   sync.Mutex
}

// LoadState opens the resume document at path, or starts an empty one when
// the file does not exist. An empty path keeps the state in memory.
func LoadState(path, fingerprint string) (*State, error) {
	s := &State{Version: stateVersion, Fingerprint: fingerprint, Settled: map[string]string{}, path: path}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read resume state: %w", err)
	}
	var stored State
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode resume state %s: %w", path, err)
	}
	if stored.Version != stateVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrResumeConflict, stored.Version, stateVersion)
	}
	if stored.Fingerprint != fingerprint {
		return nil, fmt.Errorf("%w: fingerprint %s, plan is %s", ErrResumeConflict, stored.Fingerprint, fingerprint)
	}
	if stored.Settled != nil {
		s.Settled = stored.Settled
	}
	return s, nil
}

func (s *State) Lookup(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.Settled[key]
	return tx, ok
}

func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Settled)
}

// Settle records key as settled by tx and persists the document.
func (s *State) Settle(key, tx string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Settled[key] = tx
	return s.save()
}

// Forget drops key, used when a transaction recorded on submit reverted.
func (s *State) Forget(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Settled, key)
	return s.save()
}

func (s *State) save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode resume state: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write resume state: %w", err)
	}
	return nil
}
