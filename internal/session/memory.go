package session

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps sessions in process memory. It is the default backend
// for single-node deployments and tests.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]*Session)}
}

// Save creates or updates a session record.
func (b *MemoryBackend) Save(ctx context.Context, s *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	cp := *s
	cp.Pipeline = s.Pipeline.Clone()
	b.sessions[s.ID] = &cp
	return nil
}

// Load retrieves a session by ID.
func (b *MemoryBackend) Load(ctx context.Context, id string) (*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	s, ok := b.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.Pipeline = s.Pipeline.Clone()
	return &cp, nil
}

// Delete removes a session.
func (b *MemoryBackend) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	delete(b.sessions, id)
	return nil
}

// List returns all sessions, most recently updated first.
func (b *MemoryBackend) List(ctx context.Context) ([]*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	out := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		cp := *s
		cp.Pipeline = s.Pipeline.Clone()
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Close marks the backend closed.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
