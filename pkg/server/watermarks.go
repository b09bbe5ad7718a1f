package server

import (
	"sync"
	"time"
)

// watermarks tracks, per item, the newest snapshot time applied. Snapshots
// advance it and delta updates at or before it are stale.
type watermarks struct {
	mu    sync.RWMutex
	marks map[string]time.Time
}

func newWatermarks() *watermarks {
	return &watermarks{marks: make(map[string]time.Time)}
}

// advance moves the mark for itemID to ts unless it is already later
func (w *watermarks) advance(itemID string, ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cur, ok := w.marks[itemID]; !ok || ts.After(cur) {
		w.marks[itemID] = ts
	}
}

func (w *watermarks) get(itemID string) (time.Time, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ts, ok := w.marks[itemID]
	return ts, ok
}
