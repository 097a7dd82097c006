// Package aggregate folds an ordered event stream into transcript and agent
// state. The fold is deterministic: replaying the same event sequence from an
// empty state always reproduces the same messages, agent states, and final
// output, independent of delivery timing. That replayability is the package's
// core contract and what the tests pin down.
package aggregate

import (
	"fmt"
	"time"

	"github.com/bridgego-dev/bridgego/internal/protocol"
)

// Message is a client-side projection of one or more events. Streaming events
// for the same (agentId, type) pair accumulate into a single message until a
// boundary event closes it.
type Message struct {
	ID          string
	AgentID     string
	Content     string
	Timestamp   time.Time
	IsStreaming bool
	Type        protocol.EventType
}

// AgentState is the derived per-agent activity state.
type AgentState struct {
	IsActive   bool
	IsThinking bool
	// TokenCount counts streaming events received, an approximation of
	// token granularity rather than an exact tokenizer count.
	TokenCount int
}

// accKey identifies an open accumulation window.
type accKey struct {
	agentID string
	kind    protocol.EventType
}

// State is the folded view of a run's event stream so far.
type State struct {
	Messages    []Message
	Agents      map[string]AgentState
	FinalOutput string
	Satisfied   bool
	// Done is set once a terminal event has been folded.
	Done bool
	// Failed is set when the terminal event was an error.
	Failed bool

	open map[accKey]int // open accumulation -> index into Messages
	seq  int
	now  func() time.Time
}

// NewState creates an empty aggregation state.
func NewState() *State {
	return NewStateWithClock(time.Now)
}

// NewStateWithClock creates a state with an injected clock. Tests pass a
// fixed clock so replayed states compare equal.
func NewStateWithClock(now func() time.Time) *State {
	return &State{
		Agents: make(map[string]AgentState),
		open:   make(map[accKey]int),
		now:    now,
	}
}

// Replay folds a whole event sequence into a fresh state.
func Replay(events []protocol.Event, now func() time.Time) *State {
	s := NewStateWithClock(now)
	for _, ev := range events {
		s.Fold(ev)
	}
	return s
}

// Fold applies one event to the state. Events are normalized first, so the
// agentId fallback (lowercased agent label) applies before any map is keyed.
func (s *State) Fold(ev protocol.Event) {
	ev = ev.Normalized()

	switch ev.Type {
	case protocol.EventStatus, protocol.EventPipelineStep:
		s.appendSystem(ev)

	case protocol.EventIteration:
		// A new iteration re-attributes subsequent streaming events:
		// close everything open so they start fresh messages.
		s.closeAll()
		s.appendSystem(ev)

	case protocol.EventAgentStart:
		s.Agents[ev.AgentID] = AgentState{IsActive: true, IsThinking: true}

	case protocol.EventAgentComplete:
		s.closeAgent(ev.AgentID)
		st := s.Agents[ev.AgentID]
		st.IsActive = false
		st.IsThinking = false
		s.Agents[ev.AgentID] = st

	case protocol.EventToken, protocol.EventCritique, protocol.EventRefinement:
		s.accumulate(ev)

	case protocol.EventDone:
		s.closeAll()
		for id, st := range s.Agents {
			st.IsActive = false
			st.IsThinking = false
			s.Agents[id] = st
		}
		s.FinalOutput = ev.Payload
		s.Satisfied = ev.Satisfied != nil && *ev.Satisfied
		s.Done = true
		s.appendSystem(ev)

	case protocol.EventError:
		s.closeAll()
		for id, st := range s.Agents {
			st.IsActive = false
			st.IsThinking = false
			s.Agents[id] = st
		}
		s.Done = true
		s.Failed = true
		errEv := ev
		errEv.Content = "[error] " + ev.Content
		s.appendSystem(errEv)
	}
}

// accumulate appends a streaming event to its open message, opening one if
// none exists for the (agentId, type) key.
func (s *State) accumulate(ev protocol.Event) {
	key := accKey{agentID: ev.AgentID, kind: ev.Type}
	if idx, ok := s.open[key]; ok {
		s.Messages[idx].Content += ev.Content
	} else {
		s.open[key] = len(s.Messages)
		s.Messages = append(s.Messages, Message{
			ID:          s.nextID(),
			AgentID:     ev.AgentID,
			Content:     ev.Content,
			Timestamp:   s.now(),
			IsStreaming: true,
			Type:        ev.Type,
		})
	}

	st := s.Agents[ev.AgentID]
	st.TokenCount++
	s.Agents[ev.AgentID] = st
}

// appendSystem adds a standalone, non-accumulating message.
func (s *State) appendSystem(ev protocol.Event) {
	s.Messages = append(s.Messages, Message{
		ID:        s.nextID(),
		AgentID:   ev.AgentID,
		Content:   ev.Content,
		Timestamp: s.now(),
		Type:      ev.Type,
	})
}

// closeAgent closes every open accumulation for one agent.
func (s *State) closeAgent(agentID string) {
	for key, idx := range s.open {
		if key.agentID == agentID {
			s.Messages[idx].IsStreaming = false
			delete(s.open, key)
		}
	}
}

// closeAll closes every open accumulation.
func (s *State) closeAll() {
	for key, idx := range s.open {
		s.Messages[idx].IsStreaming = false
		delete(s.open, key)
	}
}

// Snapshot returns a deep copy safe to read while the original keeps folding.
func (s *State) Snapshot() State {
	out := State{
		Messages:    append([]Message(nil), s.Messages...),
		Agents:      make(map[string]AgentState, len(s.Agents)),
		FinalOutput: s.FinalOutput,
		Satisfied:   s.Satisfied,
		Done:        s.Done,
		Failed:      s.Failed,
	}
	for id, st := range s.Agents {
		out.Agents[id] = st
	}
	return out
}

// nextID returns a deterministic message id.
func (s *State) nextID() string {
	s.seq++
	return fmt.Sprintf("msg-%d", s.seq)
}
