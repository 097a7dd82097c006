package server

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bridgego-dev/bridgego/internal/engine"
	"github.com/bridgego-dev/bridgego/internal/observability"
	"github.com/bridgego-dev/bridgego/internal/pipeline"
	"github.com/bridgego-dev/bridgego/internal/protocol"
)

// submitBurst bounds how many queries a connection may submit back-to-back
// before the per-second limiter applies.
const submitBurst = 4

// handleWS upgrades to a websocket and runs the duplex protocol: submit
// requests inbound, the event stream outbound. One connection serves one
// logical session; connections without a session parameter get a private
// run scope keyed by a fresh id.
//
// Disconnect policy: when the connection goes away, the in-flight run for its
// scope is aborted rather than left to complete invisibly.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	observability.ConnectionOpened()
	defer observability.ConnectionClosed()
	defer conn.Close()

	runKey := c.Query("session")
	tracked := runKey != ""
	if runKey == "" {
		runKey = "conn-" + uuid.New().String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Single writer goroutine: gorilla connections do not allow
	// concurrent writers.
	out := make(chan protocol.Event, 64)
	limiter := rate.NewLimiter(rate.Every(time.Second), submitBurst)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-out:
				if !ok {
					return nil
				}
				if err := conn.WriteJSON(ev.Normalized()); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			s.handleSubmit(ctx, runKey, tracked, data, limiter, out)
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("websocket session %s closed: %v", runKey, err)
	}
	// Abort any run this connection still owns before tearing down.
	s.runs.Cancel(runKey)
}

// handleSubmit parses one inbound message and, when valid, starts a run.
// Starting a run cancels and drains any run already active for the same
// scope, so events from the two can never interleave on the stream.
func (s *Server) handleSubmit(ctx context.Context, runKey string, tracked bool, data []byte, limiter *rate.Limiter, out chan<- protocol.Event) {
	send := func(ev protocol.Event) {
		select {
		case <-ctx.Done():
		case out <- ev:
		}
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("submit handling panic: %v", rec)
			send(protocol.Errorf("internal error: %v", rec))
		}
	}()

	var req protocol.SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		send(protocol.Errorf("malformed request: %v", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		send(protocol.Errorf("Empty query received"))
		return
	}
	if !limiter.Allow() {
		send(protocol.Errorf("rate limit exceeded, slow down"))
		return
	}

	def := s.resolvePipeline(ctx, runKey, tracked, req.Pipeline)
	opts := engine.RunOptions{
		MaxIterations: req.MaxIterations,
		SkipCritique:  req.SkipCritique,
	}

	if tracked {
		if err := s.sessions.Touch(ctx, runKey); err != nil {
			log.Printf("touch session %s: %v", runKey, err)
		}
	}

	runID := uuid.New().String()
	runCtx, finish := s.runs.Begin(ctx, runKey)
	events := s.engine.Run(runCtx, req.Query, def, opts)
	go func() {
		defer finish()
		for ev := range events {
			ev.Run = runID
			// Select on the run context, not the connection: once a
			// newer submit cancels this run, its buffered events are
			// dropped here instead of leaking onto the wire.
			select {
			case <-runCtx.Done():
				return
			case out <- ev:
			}
		}
	}()
}

// resolvePipeline picks the definition for a run: the request's own pipeline
// wins, then the session's snapshot, then the default.
func (s *Server) resolvePipeline(ctx context.Context, runKey string, tracked bool, override *pipeline.Definition) pipeline.Definition {
	if override != nil {
		return override.Clone()
	}
	if tracked {
		if sess, err := s.sessions.Get(ctx, runKey); err == nil {
			return sess.Pipeline.Clone()
		}
	}
	return pipeline.Default()
}
