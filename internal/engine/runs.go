package engine

import (
	"context"
	"sync"
)

// runHandle tracks one in-flight run for a session.
type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Runs maps session ids to their single active run. Starting a new run for a
// session cancels the previous one and waits for it to fully stop, so events
// from the old run can never interleave with the new run's stream.
type Runs struct {
	mu     sync.Mutex
	active map[string]*runHandle
}

// NewRuns creates an empty run registry.
func NewRuns() *Runs {
	return &Runs{active: make(map[string]*runHandle)}
}

// Begin registers a new run for sessionID. Any previous run is cancelled and
// Begin blocks until it has wound down. The returned context governs the new
// run; the returned finish function must be called exactly once when the run
// ends (on any path).
func (r *Runs) Begin(ctx context.Context, sessionID string) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	h := &runHandle{cancel: cancel, done: make(chan struct{})}

	// Read the previous handle and install the new one under one lock, so
	// two concurrent Begin calls for the same session can never both see
	// "no previous run" and proceed uncancelled. The loser of the swap is
	// cancelled and drained below, outside the lock (its finish needs it).
	r.mu.Lock()
	prev := r.active[sessionID]
	r.active[sessionID] = h
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	var once sync.Once
	finish := func() {
		once.Do(func() {
			cancel()
			close(h.done)
			r.mu.Lock()
			if r.active[sessionID] == h {
				delete(r.active, sessionID)
			}
			r.mu.Unlock()
		})
	}
	return runCtx, finish
}

// Cancel stops the active run for sessionID, if any, and waits for it.
func (r *Runs) Cancel(sessionID string) {
	r.mu.Lock()
	h := r.active[sessionID]
	r.mu.Unlock()

	if h != nil {
		h.cancel()
		<-h.done
	}
}

// ActiveCount reports how many runs are currently in flight.
func (r *Runs) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
