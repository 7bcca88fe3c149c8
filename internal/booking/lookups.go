package booking

import (
	"context"
	"sync"
)

// lookupTracker makes the newest booked-slot lookup for a session win. Starting
// a lookup cancels the one already in flight for the same session, and a
// finished lookup learns whether it is still the current one.
type lookupTracker struct {
	mu       sync.Mutex
	seq      uint64
	inflight map[string]lookup
}

type lookup struct {
	seq    uint64
	cancel context.CancelFunc
}

func newLookupTracker() *lookupTracker {
	return &lookupTracker{inflight: make(map[string]lookup)}
}

func (t *lookupTracker) begin(ctx context.Context, key string) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.inflight[key]; ok {
		prev.cancel()
	}
	t.seq++
	t.inflight[key] = lookup{seq: t.seq, cancel: cancel}
	return ctx, t.seq
}

// finish releases the lookup and reports whether it was still current.
func (t *lookupTracker) finish(key string, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.inflight[key]
	if !ok || cur.seq != seq {
		return false
	}
	cur.cancel()
	delete(t.inflight, key)
	return true
}
