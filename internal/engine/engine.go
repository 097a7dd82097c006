// Package engine implements the pipeline orchestration state machine: it
// executes a pipeline definition against a query, invoking one agent per
// step, streaming incremental output as events, and looping back through the
// refinement portion of the pipeline until a critic or analyzer signals
// satisfaction or the iteration cap is reached.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/bridgego-dev/bridgego/internal/invoke"
	"github.com/bridgego-dev/bridgego/internal/observability"
	"github.com/bridgego-dev/bridgego/internal/pipeline"
	"github.com/bridgego-dev/bridgego/internal/protocol"
)

// Config holds engine-level defaults, applied when a pipeline definition
// leaves the corresponding field zero.
type Config struct {
	// MaxIterations caps refinement passes per run.
	MaxIterations int
	// ContextWindow bounds how many prior-step outputs are carried into
	// the next invocation.
	ContextWindow int
	// Rubric is appended to generation prompts as the quality bar.
	Rubric string
}

// RunOptions are per-run overrides from the submit request.
type RunOptions struct {
	// MaxIterations, when positive, overrides the pipeline's bound.
	MaxIterations int
	// SkipCritique drops critic-role steps for this run.
	SkipCritique bool
}

// Engine executes pipeline runs. An Engine is stateless across runs and safe
// for concurrent use; per-session run exclusivity is enforced by Runs.
type Engine struct {
	registry *invoke.Registry
	cfg      Config
}

// New creates an engine over the given invoker registry.
func New(registry *invoke.Registry, cfg Config) *Engine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 8
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 5
	}
	return &Engine{registry: registry, cfg: cfg}
}

// Run executes the pipeline against the query and returns the event stream.
// The channel is closed after exactly one terminal event (done or error).
// If ctx is cancelled first, the run stops hard and the stale run's terminal
// event is suppressed.
func (e *Engine) Run(ctx context.Context, query string, def pipeline.Definition, opts RunOptions) <-chan protocol.Event {
	ch := make(chan protocol.Event, 64)
	go e.execute(ctx, query, def, opts, ch)
	return ch
}

func (e *Engine) execute(ctx context.Context, query string, def pipeline.Definition, opts RunOptions, ch chan<- protocol.Event) {
	defer close(ch)

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "engine.run")
	defer span.End()

	emit := func(ev protocol.Event) bool {
		select {
		case <-ctx.Done():
			return false
		case ch <- ev.Normalized():
			observability.RecordEvent(string(ev.Type))
			return true
		}
	}
	fail := func(format string, args ...any) {
		emit(protocol.Errorf(format, args...))
		observability.RecordRun("error", time.Since(start))
	}

	// A panicking invoker must surface as an error event on this run's
	// stream, never take the process down. Runs before the deferred close.
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("pipeline run panic: %v", rec)
			fail("internal pipeline failure: %v", rec)
		}
	}()

	def = e.effective(def, opts)
	span.SetAttributes(
		attribute.Int("pipeline.steps", len(def.Steps)),
		attribute.Int("pipeline.max_iterations", def.MaxIterations),
	)

	if strings.TrimSpace(query) == "" {
		fail("empty query received")
		return
	}
	if len(def.Steps) == 0 {
		fail("pipeline has no steps")
		return
	}
	if err := def.Validate(); err != nil {
		fail("invalid pipeline: %v", err)
		return
	}

	if !emit(protocol.Status(protocol.AgentOrchestrator, "Initializing bridge pipeline...")) {
		return
	}

	var (
		history   []string
		artifact  string // last generator/refiner output: the work product
		verdict   *Verdict
		iteration = 1
	)

	for i := 0; i < len(def.Steps); {
		if ctx.Err() != nil {
			return
		}
		step := def.Steps[i]

		marker := fmt.Sprintf("Step %d/%d: %s (%s)", i+1, len(def.Steps), step.AgentID, step.Role)
		if !emit(protocol.StepMarker(i, protocol.AgentOrchestrator, marker)) {
			return
		}

		out, err := e.runStep(ctx, step, query, history, emit)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			fail("agent %s failed: %v", step.AgentID, err)
			return
		}

		history = appendBounded(history, fmt.Sprintf("[%s]: %s", strings.ToUpper(step.AgentID), out), def.ContextWindow)
		if !step.Role.Evaluates() {
			artifact = out
		}

		if step.Role.Evaluates() {
			v, ok := ExtractVerdict(out)
			if ok {
				verdict = &v
			}
			satisfied := ok && v.Satisfied
			if !satisfied && iteration < def.MaxIterations {
				iteration++
				observability.RecordIteration()
				if !emit(protocol.Iteration(iteration, def.MaxIterations)) {
					return
				}
				i = def.LoopStart()
				continue
			}
		}
		i++
	}

	payload := artifact
	satisfied := false
	if verdict != nil {
		satisfied = verdict.Satisfied
		if verdict.BestAnswer != "" {
			payload = verdict.BestAnswer
		}
	}
	if payload == "" && len(history) > 0 {
		payload = history[len(history)-1]
	}

	if emit(protocol.Done(payload, satisfied)) {
		observability.RecordRun("done", time.Since(start))
	}
}

// effective applies run options and engine defaults to a cloned definition.
func (e *Engine) effective(def pipeline.Definition, opts RunOptions) pipeline.Definition {
	d := def.Clone()
	if opts.SkipCritique {
		d = d.WithoutRole(pipeline.RoleCritic)
	}
	if opts.MaxIterations > 0 {
		d.MaxIterations = opts.MaxIterations
	}
	if d.MaxIterations <= 0 {
		d.MaxIterations = e.cfg.MaxIterations
	}
	if d.ContextWindow <= 0 {
		d.ContextWindow = e.cfg.ContextWindow
	}
	return d
}

// runStep invokes one agent and streams its output, bracketed by agent_start
// and agent_complete. It returns the agent's full accumulated output.
func (e *Engine) runStep(ctx context.Context, step pipeline.Step, query string, history []string, emit func(protocol.Event) bool) (string, error) {
	inv, err := e.registry.Lookup(step.AgentID)
	if err != nil {
		return "", err
	}

	ctx, span := observability.StartSpan(ctx, "engine.step")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", step.AgentID),
		attribute.String("agent.role", string(step.Role)),
	)

	label := strings.ToUpper(step.AgentID)
	startEv := protocol.AgentStart(label)
	startEv.AgentID = step.AgentID
	if !emit(startEv) {
		return "", ctx.Err()
	}

	stream, err := inv.Invoke(ctx, invoke.Request{
		Prompt:   e.buildPrompt(step.Role, query, history),
		Context:  history,
		Settings: step.Settings,
	})
	if err != nil {
		observability.RecordAgentInvocation(step.AgentID, "error")
		return "", err
	}
	defer stream.Close()

	chunkType := chunkTypeFor(step.Role)
	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			observability.RecordAgentInvocation(step.AgentID, "error")
			return "", err
		}
		ev := protocol.Chunk(label, chunkType, chunk)
		ev.AgentID = step.AgentID
		if !emit(ev) {
			return "", ctx.Err()
		}
		sb.WriteString(chunk)
	}

	doneEv := protocol.AgentComplete(label)
	doneEv.AgentID = step.AgentID
	if !emit(doneEv) {
		return "", ctx.Err()
	}
	observability.RecordAgentInvocation(step.AgentID, "ok")
	return sb.String(), nil
}

// chunkTypeFor maps a step role to the streaming event type its output is
// labeled with.
func chunkTypeFor(role pipeline.Role) protocol.EventType {
	switch role {
	case pipeline.RoleCritic:
		return protocol.EventCritique
	case pipeline.RoleRefiner:
		return protocol.EventRefinement
	case pipeline.RoleGenerator, pipeline.RoleAnalyzer:
		return protocol.EventToken
	}
	return protocol.EventToken
}

// buildPrompt assembles the role-appropriate prompt: the original query, the
// bounded prior-step context, and role-specific instructions.
func (e *Engine) buildPrompt(role pipeline.Role, query string, history []string) string {
	var b strings.Builder
	ctxBlock := strings.Join(history, "\n")

	switch role {
	case pipeline.RoleGenerator:
		b.WriteString(query)
		if e.cfg.Rubric != "" {
			b.WriteString("\n\nDesign/quality requirements:\n")
			b.WriteString(e.cfg.Rubric)
		}
		if ctxBlock != "" {
			b.WriteString("\n\nPrior pipeline context:\n")
			b.WriteString(ctxBlock)
		}
		b.WriteString("\n\nProvide a complete, well-structured response.")
	case pipeline.RoleCritic:
		b.WriteString("Critique the following response to the user query.\n")
		b.WriteString("User query: ")
		b.WriteString(query)
		b.WriteString("\n\n")
		b.WriteString(ctxBlock)
		b.WriteString("\n\nEnd with a JSON object: {\"satisfied\": bool, \"best_answer\": string, \"evaluation_notes\": string}.")
	case pipeline.RoleRefiner:
		b.WriteString("Refine the response below, addressing every point of critique.\n")
		b.WriteString("User query: ")
		b.WriteString(query)
		b.WriteString("\n\n")
		b.WriteString(ctxBlock)
	case pipeline.RoleAnalyzer:
		b.WriteString("You are the final arbiter. Return ONLY JSON: {\"satisfied\": bool, \"best_answer\": string, \"evaluation_notes\": string}.\n")
		b.WriteString("User query: ")
		b.WriteString(query)
		b.WriteString("\n\n")
		b.WriteString(ctxBlock)
	}
	return b.String()
}

// appendBounded appends entry and keeps only the most recent window entries.
func appendBounded(history []string, entry string, window int) []string {
	history = append(history, entry)
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	return history
}
