// Package session provides session records and their persistence. A session
// snapshots its pipeline definition at creation time; editing the live
// pipeline builder afterwards never changes an existing session.
package session

import (
	"time"

	"github.com/bridgego-dev/bridgego/internal/pipeline"
)

// Session is one chat session and its pipeline snapshot.
type Session struct {
	// ID is the unique session identifier.
	ID string `json:"id"`
	// Name is the user-visible session name.
	Name string `json:"name"`
	// Pipeline is the definition snapshot executed for this session's
	// queries.
	Pipeline pipeline.Definition `json:"pipeline"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the session last saw activity.
	UpdatedAt time.Time `json:"updatedAt"`
	// MessageCount is the number of queries submitted on this session.
	MessageCount int `json:"messageCount"`
}
