package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bridgego-dev/bridgego/internal/pipeline"
)

// Manager manages session lifecycle over a storage backend.
// Manager is safe for concurrent use: read-modify-write operations on one
// session are serialized by a per-id lock, so concurrent Touch calls from
// connections sharing a session cannot lose updates.
type Manager struct {
	backend Backend

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a session manager with the given storage backend.
func NewManager(backend Backend) *Manager {
	return &Manager{
		backend: backend,
		locks:   make(map[string]*sync.Mutex),
	}
}

// lock acquires the per-session mutex and returns its release func.
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Manager) dropLock(id string) {
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
}

// Create creates a new session, snapshotting the pipeline definition so later
// edits to the caller's copy do not affect the session.
func (m *Manager) Create(ctx context.Context, name string, def pipeline.Definition) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.New().String(),
		Name:      name,
		Pipeline:  def.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.Name == "" {
		s.Name = "Session " + s.ID[:8]
	}
	if err := m.backend.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return s, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.backend.Load(ctx, id)
}

// List returns all sessions, most recently updated first.
func (m *Manager) List(ctx context.Context) ([]*Session, error) {
	return m.backend.List(ctx)
}

// Delete removes a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()
	if err := m.backend.Delete(ctx, id); err != nil {
		return err
	}
	m.dropLock(id)
	return nil
}

// UpdatePipeline replaces a session's pipeline snapshot.
func (m *Manager) UpdatePipeline(ctx context.Context, id string, def pipeline.Definition) (*Session, error) {
	unlock := m.lock(id)
	defer unlock()

	s, err := m.backend.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Pipeline = def.Clone()
	s.UpdatedAt = time.Now().UTC()
	if err := m.backend.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return s, nil
}

// Touch records activity on a session: bumps UpdatedAt and the message count.
func (m *Manager) Touch(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()

	s, err := m.backend.Load(ctx, id)
	if err != nil {
		return err
	}
	s.UpdatedAt = time.Now().UTC()
	s.MessageCount++
	return m.backend.Save(ctx, s)
}

// PurgeIdle deletes sessions idle for longer than maxIdle and returns how
// many were removed.
func (m *Manager) PurgeIdle(ctx context.Context, maxIdle time.Duration) (int, error) {
	sessions, err := m.backend.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-maxIdle)
	purged := 0
	for _, s := range sessions {
		if s.UpdatedAt.Before(cutoff) {
			if err := m.backend.Delete(ctx, s.ID); err != nil {
				return purged, err
			}
			purged++
		}
	}
	return purged, nil
}

// Close releases the underlying backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}
