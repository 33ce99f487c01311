// Package application contains the application services.
package application

import (
	"fmt"
	"sync"

	"github.com/jobrunner/stratum/internal/domain"
)

// inflight tracks ingestion targets that are currently being worked on
// so the same layer name or staged upload is never consumed twice
// concurrently.
type inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{keys: make(map[string]struct{})}
}

// acquire reserves a key. Fails fast instead of blocking when the key
// is already held.
func (f *inflight) acquire(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, held := f.keys[key]; held {
		return fmt.Errorf("%s: %w", key, domain.ErrIngestionInProgress)
	}
	f.keys[key] = struct{}{}
	return nil
}

// release frees a key reserved by acquire.
func (f *inflight) release(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
}
