package invoke

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s Stream) string {
	t.Helper()
	var out string
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out += chunk
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	inv := &Scripted{Outputs: []string{"x"}}
	reg.Register("gemini", inv)

	got, err := reg.Lookup("gemini")
	require.NoError(t, err)
	assert.Same(t, inv, got.(*Scripted))

	_, err = reg.Lookup("ghost")
	assert.ErrorIs(t, err, ErrUnknownAgent)

	assert.ElementsMatch(t, []string{"gemini"}, reg.Agents())
}

func TestRegistryReplace(t *testing.T) {
	reg := NewRegistry()
	first := &Scripted{Outputs: []string{"a"}}
	second := &Scripted{Outputs: []string{"b"}}
	reg.Register("x", first)
	reg.Register("x", second)

	got, err := reg.Lookup("x")
	require.NoError(t, err)
	assert.Same(t, second, got.(*Scripted))
	assert.Len(t, reg.Agents(), 1)
}

func TestScriptedChunking(t *testing.T) {
	s := &Scripted{Outputs: []string{"hello world"}, ChunkSize: 4}
	stream, err := s.Invoke(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "hell", chunk)

	rest := drain(t, stream)
	assert.Equal(t, "o world", rest)
}

func TestScriptedConsumesOutputsInOrder(t *testing.T) {
	s := &Scripted{Outputs: []string{"first", "second"}, ChunkSize: 100}

	for _, want := range []string{"first", "second", "second"} {
		stream, err := s.Invoke(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, want, drain(t, stream))
		stream.Close()
	}
	assert.Equal(t, 3, s.Calls())
}

func TestScriptedErr(t *testing.T) {
	s := &Scripted{Err: assert.AnError}
	_, err := s.Invoke(context.Background(), Request{})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, s.Calls())
}

func TestScriptedHonorsCancellation(t *testing.T) {
	s := &Scripted{Outputs: []string{"slow"}, ChunkSize: 1, Delay: 50 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := s.Invoke(ctx, Request{})
	require.NoError(t, err)
	defer stream.Close()

	cancel()
	_, err = stream.Recv()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScriptedClosedStreamEOF(t *testing.T) {
	s := &Scripted{Outputs: []string{"data"}}
	stream, err := s.Invoke(context.Background(), Request{})
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}
