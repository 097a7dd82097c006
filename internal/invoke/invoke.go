// Package invoke defines the boundary between the orchestration engine and
// the mechanisms that actually produce agent output. The engine only sees a
// lazy stream of output chunks; how those chunks are produced (a subprocess,
// an HTTP API, a script) is an implementation detail behind the Invoker
// interface.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownAgent is returned when no invoker is registered for an agent id.
var ErrUnknownAgent = errors.New("unknown agent")

// Request carries everything an invoker needs for one agent invocation.
type Request struct {
	// Prompt is the fully assembled prompt for this invocation.
	Prompt string
	// Context holds the most recent prior-step outputs, oldest first,
	// already bounded by the pipeline's context window.
	Context []string
	// Settings are the per-step settings from the pipeline definition.
	Settings map[string]any
}

// Stream yields an agent's output incrementally. Recv returns io.EOF when the
// agent has finished. Streams must be closed; Close is safe to call while a
// Recv is blocked and unblocks it.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Invoker produces output for a single agent.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Stream, error)
}

// Registry maps agent ids to invokers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	invokers map[string]Invoker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{invokers: make(map[string]Invoker)}
}

// Register binds an invoker to an agent id, replacing any previous binding.
func (r *Registry) Register(agentID string, inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invokers[agentID] = inv
}

// Lookup returns the invoker for an agent id.
func (r *Registry) Lookup(agentID string) (Invoker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invokers[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return inv, nil
}

// Agents returns the registered agent ids.
func (r *Registry) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.invokers))
	for id := range r.invokers {
		ids = append(ids, id)
	}
	return ids
}
