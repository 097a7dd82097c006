package session

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	// ErrNotFound is returned when a session doesn't exist.
	ErrNotFound = errors.New("session not found")
	// ErrClosed is returned when operating on a closed backend.
	ErrClosed = errors.New("session backend is closed")
)

// Backend abstracts session persistence.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Save creates or updates a session record.
	Save(ctx context.Context, s *Session) error

	// Load retrieves a session by ID.
	// Returns ErrNotFound if the session doesn't exist.
	Load(ctx context.Context, id string) (*Session, error)

	// Delete removes a session. Deleting a missing session is not an
	// error.
	Delete(ctx context.Context, id string) error

	// List returns all sessions ordered by UpdatedAt, most recent first.
	List(ctx context.Context) ([]*Session, error)

	// Close releases any resources held by the backend.
	Close() error
}
