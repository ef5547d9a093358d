// Package status implements the in-memory Status Registry: a thread-safe
// map of track_id to its current ProcessingStatus, plus the per-track
// "is a worker already running" check the Dispatcher relies on.
package status

import (
	"sync"
	"time"

	"github.com/arborfm/karaopipe/src/music"
)

// Entry is one track's current processing status.
type Entry struct {
	Status    music.Status `json:"status"`
	Progress  int          `json:"progress"`
	Detail    string       `json:"detail,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Registry is a thread-safe track_id -> Entry map. All mutating
// operations take a single lock; GetAll returns a defensive copy.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Set publishes a new status for track_id.
func (r *Registry) Set(trackID string, st music.Status, progress int, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[trackID] = Entry{Status: st, Progress: progress, Detail: detail, UpdatedAt: time.Now()}
}

// Get returns the entry for track_id and whether one exists.
func (r *Registry) Get(trackID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[trackID]
	return e, ok
}

// GetAll returns a defensive copy of every tracked entry.
func (r *Registry) GetAll() map[string]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Entry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

// Remove drops track_id from the registry entirely, used after an
// admin-initiated track delete.
func (r *Registry) Remove(trackID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, trackID)
}

// IsNonTerminal reports whether track_id has an entry whose status is
// neither COMPLETE nor ERROR, the single check that enforces "at most
// one worker per track_id".
func (r *Registry) IsNonTerminal(trackID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[trackID]
	return ok && !e.Status.Terminal()
}
