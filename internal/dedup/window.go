package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Key is the fingerprint of a logical event: what happened, to which entity,
// on which channel, in which emit window. The window token is the backend's
// timestamp when present and zero otherwise, so duplicates lacking a
// timestamp still share a fingerprint.
type Key struct {
	Type    string
	Entity  int64
	Channel int64
	Window  int64
}

// String renders the key the way it is logged.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%d:%d", k.Type, k.Entity, k.Channel, k.Window)
}

// Window is a time-bounded set of recently seen fingerprints.
type Window struct {
	mu      sync.Mutex
	entries map[Key]time.Time // fingerprint -> expiry

	// now is swappable for tests.
	now func() time.Time
}

// NewWindow creates an empty window.
func NewWindow() *Window {
	return &Window{
		entries: make(map[Key]time.Time),
		now:     time.Now,
	}
}

// Insert records the fingerprint with the given TTL. It returns true when
// the key was absent or expired (the event is fresh and should be
// dispatched) and false when a live entry already exists.
func (w *Window) Insert(k Key, ttl time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if exp, ok := w.entries[k]; ok && now.Before(exp) {
		return false
	}
	w.entries[k] = now.Add(ttl)
	return true
}

// Seen reports whether a live entry exists for the fingerprint.
func (w *Window) Seen(k Key) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	exp, ok := w.entries[k]
	return ok && w.now().Before(exp)
}

// Clear empties the window. Called on logout for hygiene.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = make(map[Key]time.Time)
}

// Len returns the number of entries, expired ones included until swept.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Run sweeps expired entries at the given interval until ctx is cancelled.
// Sweeping is an optimization; Insert already treats expired entries as
// absent.
func (w *Window) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Window) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for k, exp := range w.entries {
		if !now.Before(exp) {
			delete(w.entries, k)
		}
	}
}
