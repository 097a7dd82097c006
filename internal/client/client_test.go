package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgego-dev/bridgego/internal/engine"
	"github.com/bridgego-dev/bridgego/internal/invoke"
	"github.com/bridgego-dev/bridgego/internal/protocol"
	"github.com/bridgego-dev/bridgego/internal/server"
	"github.com/bridgego-dev/bridgego/internal/session"
	"github.com/bridgego-dev/bridgego/pkg/config"
)

func startServer(t *testing.T) string {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Agents = map[string]config.AgentConfig{
		"gemini": {Kind: config.AgentKindScripted, Outputs: []string{"Hello world"}},
		"qwen": {Kind: config.AgentKindScripted, Outputs: []string{
			`{"satisfied": true, "best_answer": "Hello world", "evaluation_notes": "ok"}`,
		}},
	}
	sessions := session.NewManager(session.NewMemoryBackend())
	eng := engine.New(server.BuildRegistry(cfg), engine.Config{MaxIterations: 2})
	srv := server.New(cfg, eng, sessions)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/bridge"
}

func submitAndWait(t *testing.T, c *Client, query string) {
	t.Helper()
	done := make(chan struct{}, 1)
	c.OnEvent(func(ev protocol.Event) {
		if ev.Terminal() {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	require.NoError(t, c.Submit(protocol.SubmitRequest{Query: query}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal event")
	}
}

func TestClientRunToCompletion(t *testing.T) {
	url := startServer(t)
	c := New(url)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()
	assert.True(t, c.Connected())

	submitAndWait(t, c, "say hello")

	state := c.State()
	assert.True(t, state.Done)
	assert.True(t, state.Satisfied)
	assert.False(t, state.Failed)
	assert.Equal(t, "Hello world", state.FinalOutput)
	require.NotEmpty(t, state.Messages)

	// generator output accumulated into a single closed message
	var genContent string
	for _, m := range state.Messages {
		if m.Type == protocol.EventToken && m.AgentID == "gemini" {
			genContent += m.Content
			assert.False(t, m.IsStreaming)
		}
	}
	assert.Equal(t, "Hello world", genContent)

	for _, st := range state.Agents {
		assert.False(t, st.IsActive)
	}
}

func TestClientSubmitResetsTranscript(t *testing.T) {
	url := startServer(t)
	c := New(url)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	submitAndWait(t, c, "first")
	firstLen := len(c.State().Messages)
	require.Greater(t, firstLen, 0)

	submitAndWait(t, c, "second")
	state := c.State()
	assert.True(t, state.Done)
	// only the second run's events remain
	assert.LessOrEqual(t, len(state.Messages), firstLen)
	for _, m := range state.Messages {
		assert.NotContains(t, m.Content, "first")
	}
}

func TestClientResubmitDropsCancelledRunOutput(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	reg := invoke.NewRegistry()
	reg.Register("gemini", &invoke.Scripted{
		Outputs:   []string{strings.Repeat("FIRSTRUN ", 200), "Hello world"},
		ChunkSize: 9,
		Delay:     5 * time.Millisecond,
	})
	reg.Register("qwen", &invoke.Scripted{Outputs: []string{
		`{"satisfied": true, "best_answer": "Hello world", "evaluation_notes": "ok"}`,
	}})

	sessions := session.NewManager(session.NewMemoryBackend())
	eng := engine.New(reg, engine.Config{MaxIterations: 2})
	srv := server.New(cfg, eng, sessions)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/bridge"

	c := New(url)
	done := make(chan struct{}, 1)
	c.OnEvent(func(ev protocol.Event) {
		if ev.Terminal() {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.NoError(t, c.Submit(protocol.SubmitRequest{Query: "first"}))
	// let the first run stream for a while before superseding it
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, c.Submit(protocol.SubmitRequest{Query: "second"}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the second run to finish")
	}

	state := c.State()
	assert.True(t, state.Done)
	assert.Equal(t, "Hello world", state.FinalOutput)
	require.NotEmpty(t, state.Messages)
	for _, m := range state.Messages {
		assert.NotContains(t, m.Content, "FIRSTRUN",
			"cancelled run's output leaked into the new transcript")
	}
}

func TestClientSubmitWhileDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws/bridge")
	err := c.Submit(protocol.SubmitRequest{Query: "q"})
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.False(t, c.Connected())
}

func TestClientConnectFailure(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws/bridge")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, c.Connect(ctx))
	assert.False(t, c.Connected())
}

func TestClientDetectsDisconnect(t *testing.T) {
	url := startServer(t)
	c := New(url)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())

	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Submit(protocol.SubmitRequest{Query: "q"}), ErrDisconnected)
}

func TestClientReconnectStartsFresh(t *testing.T) {
	url := startServer(t)
	c := New(url)
	require.NoError(t, c.Connect(context.Background()))

	submitAndWait(t, c, "say hello")
	require.NotEmpty(t, c.State().Messages)

	require.NoError(t, c.Reconnect(context.Background()))
	defer c.Close()

	assert.True(t, c.Connected())
	assert.Empty(t, c.State().Messages, "reconnect starts from an empty transcript")

	// the fresh connection is fully usable
	submitAndWait(t, c, "again")
	assert.True(t, c.State().Done)
}
