package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeValid(t *testing.T) {
	valid := []EventType{
		EventStatus, EventToken, EventCritique, EventRefinement,
		EventDone, EventError, EventIteration, EventPipelineStep,
		EventAgentStart, EventAgentComplete,
	}
	for _, et := range valid {
		assert.True(t, et.Valid(), "expected %q to be valid", et)
	}
	for _, et := range []EventType{"", "tokens", "DONE", "heartbeat"} {
		assert.False(t, et.Valid(), "expected %q to be invalid", et)
	}
}

func TestEventTypeStreaming(t *testing.T) {
	assert.True(t, EventToken.Streaming())
	assert.True(t, EventCritique.Streaming())
	assert.True(t, EventRefinement.Streaming())
	assert.False(t, EventStatus.Streaming())
	assert.False(t, EventDone.Streaming())
	assert.False(t, EventAgentStart.Streaming())
}

func TestNormalizedDerivesAgentID(t *testing.T) {
	ev := Event{Agent: "GEMINI", Type: EventToken, Content: "x"}
	n := ev.Normalized()
	assert.Equal(t, "gemini", n.AgentID)
	// original untouched
	assert.Empty(t, ev.AgentID)

	// explicit agentId wins over the fallback
	ev.AgentID = "custom"
	assert.Equal(t, "custom", ev.Normalized().AgentID)
}

func TestSatisfiedFalseSurvivesWire(t *testing.T) {
	data, err := Done("answer", false).Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"satisfied":false`)

	ev, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, ev.Satisfied)
	assert.False(t, *ev.Satisfied)
	assert.Equal(t, "answer", ev.Payload)
}

func TestStepZeroSurvivesWire(t *testing.T) {
	data, err := StepMarker(0, AgentOrchestrator, "Step 1/2").Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"step":0`)

	ev, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, ev.Step)
	assert.Equal(t, 0, *ev.Step)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"agent":"X","type":"mystery"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{not json`))
	assert.Error(t, err)
}

func TestDecodeAcceptsMinimalEvent(t *testing.T) {
	ev, err := Decode([]byte(`{"agent":"QWEN","type":"critique","content":"too slow"}`))
	require.NoError(t, err)
	assert.Equal(t, EventCritique, ev.Type)
	assert.Equal(t, "qwen", ev.Normalized().AgentID)
}

func TestTerminal(t *testing.T) {
	assert.True(t, Done("", true).Terminal())
	assert.True(t, Errorf("boom").Terminal())
	assert.False(t, Status(AgentOrchestrator, "x").Terminal())
	assert.False(t, Iteration(2, 8).Terminal())
}

func TestIterationEventShape(t *testing.T) {
	ev := Iteration(3, 8)
	assert.Equal(t, AgentOrchestrator, ev.Agent)
	assert.Equal(t, 3, ev.Iteration)
	assert.Equal(t, "Iteration 3/8", ev.Content)
}

func TestOmittedFieldsStayOffTheWire(t *testing.T) {
	data, err := Status(AgentOrchestrator, "ready").Encode()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "satisfied")
	assert.NotContains(t, raw, "step")
	assert.NotContains(t, raw, "payload")
	assert.NotContains(t, raw, "iteration")
	assert.NotContains(t, raw, "run")
}

func TestRunIDSurvivesWire(t *testing.T) {
	ev := Status(AgentOrchestrator, "starting")
	ev.Run = "run-abc"
	data, err := ev.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "run-abc", decoded.Run)
}
