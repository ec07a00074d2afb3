package bridge

import (
	"sync"
	"time"
)

// DedupGuard is a short-lived set of in-flight operation keys. It
// prevents a replayed or retransmitted command (for example a device
// re-sending a speech-synthesis request) from being processed twice
// concurrently.
//
// Keys release automatically after the configured window whether or not
// the guarded operation finished. The window is a safety valve against
// lost completions, not a correctness guarantee; callers that need
// exactly-once must layer their own idempotency on top.
type DedupGuard struct {
	window time.Duration

	mu       sync.Mutex
	inflight map[string]*time.Timer
	closed   bool
}

// NewDedupGuard creates a guard whose keys auto-release after window.
func NewDedupGuard(window time.Duration) *DedupGuard {
	return &DedupGuard{
		window:   window,
		inflight: make(map[string]*time.Timer),
	}
}

// TryAcquire marks key as in-flight and returns true, or returns false
// when the key is already held. A false return means the caller must
// skip processing and return early.
func (g *DedupGuard) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}
	if _, held := g.inflight[key]; held {
		return false
	}
	g.inflight[key] = time.AfterFunc(g.window, func() {
		g.Release(key)
	})
	return true
}

// Release removes key early, shrinking the duplicate-suppression window
// once true completion is known. Releasing an unheld key is a no-op.
func (g *DedupGuard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t, ok := g.inflight[key]; ok {
		t.Stop()
		delete(g.inflight, key)
	}
}

// Len returns the number of keys currently held.
func (g *DedupGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

// Close stops all expiry timers and rejects further acquisitions.
func (g *DedupGuard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	for key, t := range g.inflight {
		t.Stop()
		delete(g.inflight, key)
	}
}
