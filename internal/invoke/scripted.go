package invoke

import (
	"context"
	"io"
	"sync"
	"time"
)

// Scripted is an Invoker that replays canned outputs, one per invocation, in
// order. The last output repeats once the script is exhausted. It exists for
// tests and for running the engine without any real agent binaries.
type Scripted struct {
	// Outputs are the full responses, consumed one per Invoke call.
	Outputs []string
	// ChunkSize splits each output into chunks of this many bytes
	// (default 10, mirroring incremental agent output).
	ChunkSize int
	// Delay is an optional pause before each chunk, to exercise
	// cancellation mid-stream.
	Delay time.Duration
	// Err, when set, fails every invocation.
	Err error

	mu    sync.Mutex
	calls int
}

// Calls reports how many times Invoke has been called.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Invoke returns a stream over the next scripted output.
func (s *Scripted) Invoke(ctx context.Context, req Request) (Stream, error) {
	s.mu.Lock()
	n := s.calls
	s.calls++
	s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}

	var out string
	if len(s.Outputs) > 0 {
		if n >= len(s.Outputs) {
			n = len(s.Outputs) - 1
		}
		out = s.Outputs[n]
	}

	size := s.ChunkSize
	if size <= 0 {
		size = 10
	}
	return &scriptedStream{ctx: ctx, content: out, size: size, delay: s.Delay}, nil
}

type scriptedStream struct {
	ctx     context.Context
	content string
	size    int
	delay   time.Duration
	pos     int
	closed  bool
	mu      sync.Mutex
}

func (s *scriptedStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.pos >= len(s.content) {
		return "", io.EOF
	}
	if s.delay > 0 {
		select {
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		case <-time.After(s.delay):
		}
	} else if err := s.ctx.Err(); err != nil {
		return "", err
	}

	end := s.pos + s.size
	if end > len(s.content) {
		end = len(s.content)
	}
	chunk := s.content[s.pos:end]
	s.pos = end
	return chunk, nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
