// Package protocol defines the wire vocabulary exchanged between the
// orchestration engine and observing clients. Every message on the stream is
// a single JSON-encoded Event; the set of event types is closed and matched
// exhaustively so that adding a new kind is a compile-time visible change.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType identifies the kind of an event on the stream.
type EventType string

const (
	EventStatus        EventType = "status"
	EventToken         EventType = "token"
	EventCritique      EventType = "critique"
	EventRefinement    EventType = "refinement"
	EventDone          EventType = "done"
	EventError         EventType = "error"
	EventIteration     EventType = "iteration"
	EventPipelineStep  EventType = "pipeline_step"
	EventAgentStart    EventType = "agent_start"
	EventAgentComplete EventType = "agent_complete"
)

// Valid reports whether t is part of the protocol vocabulary.
func (t EventType) Valid() bool {
	switch t {
	case EventStatus, EventToken, EventCritique, EventRefinement,
		EventDone, EventError, EventIteration, EventPipelineStep,
		EventAgentStart, EventAgentComplete:
		return true
	}
	return false
}

// Streaming reports whether events of this type accumulate into a single
// message on the client until a boundary event closes the window.
func (t EventType) Streaming() bool {
	switch t {
	case EventToken, EventCritique, EventRefinement:
		return true
	}
	return false
}

// Reserved agent labels used for events that do not originate from a
// pipeline agent.
const (
	AgentOrchestrator = "ORCHESTRATOR"
	AgentSystem       = "SYSTEM"
)

// Event is the atomic unit of the engine-to-client stream. Events are totally
// ordered within one session: a single producer emits them and the transport
// delivers them in emission order.
//
// AgentID keys the client's accumulation and state maps. When the producer
// omits it, Normalized derives it as the lowercased Agent label; this
// fallback is part of the wire contract, not an incidental default.
//
// Run identifies the run an event belongs to. A new query starts a new run,
// and late events from a superseded run can still be in flight on the wire;
// clients reset their transcript when the run id changes rather than on
// submission. Events not tied to a run (submit rejections) leave it empty.
type Event struct {
	Agent     string    `json:"agent"`
	Type      EventType `json:"type"`
	Content   string    `json:"content,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	Satisfied *bool     `json:"satisfied,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Step      *int      `json:"step,omitempty"`
	AgentID   string    `json:"agentId,omitempty"`
	Run       string    `json:"run,omitempty"`
}

// Normalized returns a copy of the event with AgentID populated. Clients must
// apply this before keying any per-agent state.
func (e Event) Normalized() Event {
	if e.AgentID == "" {
		e.AgentID = strings.ToLower(e.Agent)
	}
	return e
}

// Terminal reports whether the event ends a run. A run produces exactly one
// terminal event.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Encode serializes the event to its wire form.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a wire-form event and rejects types outside the vocabulary.
// Callers drop (and log) the event on error; a malformed event is never fatal
// to the connection.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if !e.Type.Valid() {
		return Event{}, fmt.Errorf("decode event: unknown type %q", e.Type)
	}
	return e, nil
}

// Status builds a status event attributed to the given agent label.
func Status(agent, content string) Event {
	return Event{Agent: agent, Type: EventStatus, Content: content}
}

// Chunk builds an incremental output event. The type must be one of the
// streaming kinds (token, critique, refinement).
func Chunk(agent string, t EventType, content string) Event {
	return Event{Agent: agent, Type: t, Content: content}
}

// AgentStart marks the opening of an agent's streaming window.
func AgentStart(agent string) Event {
	return Event{Agent: agent, Type: EventAgentStart}
}

// AgentComplete closes an agent's streaming window.
func AgentComplete(agent string) Event {
	return Event{Agent: agent, Type: EventAgentComplete}
}

// StepMarker announces that step index i of the pipeline is about to run.
func StepMarker(i int, agent, content string) Event {
	step := i
	return Event{Agent: agent, Type: EventPipelineStep, Content: content, Step: &step}
}

// Iteration announces re-entry into the refinement loop. It resets per-agent
// streaming boundaries on the client.
func Iteration(n, max int) Event {
	return Event{
		Agent:     AgentOrchestrator,
		Type:      EventIteration,
		Content:   fmt.Sprintf("Iteration %d/%d", n, max),
		Iteration: n,
	}
}

// Done builds the successful terminal event carrying the consolidated output.
func Done(payload string, satisfied bool) Event {
	s := satisfied
	return Event{
		Agent:     AgentSystem,
		Type:      EventDone,
		Content:   "Bridge protocol complete",
		Payload:   payload,
		Satisfied: &s,
	}
}

// Errorf builds the failure terminal event. Partial output already streamed
// remains valid and is not retracted.
func Errorf(format string, args ...any) Event {
	return Event{
		Agent:   AgentSystem,
		Type:    EventError,
		Content: fmt.Sprintf(format, args...),
	}
}
