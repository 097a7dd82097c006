// Package pipeline holds the user-configurable agent pipeline: pure data
// describing which agents run, in what order, and how the refinement loop is
// bounded. The engine executes a Definition; it never mutates one.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Role tags a step with the behavior expected from its agent.
type Role string

const (
	RoleGenerator Role = "generator"
	RoleCritic    Role = "critic"
	RoleRefiner   Role = "refiner"
	RoleAnalyzer  Role = "analyzer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleGenerator, RoleCritic, RoleRefiner, RoleAnalyzer:
		return true
	}
	return false
}

// Evaluates reports whether a step with this role produces a verdict the
// engine inspects for convergence.
func (r Role) Evaluates() bool {
	return r == RoleCritic || r == RoleAnalyzer
}

var (
	// ErrNoSteps is returned when a pipeline has no steps to execute.
	ErrNoSteps = errors.New("pipeline has no steps")
	// ErrStepNotFound is returned when editing a step that does not exist.
	ErrStepNotFound = errors.New("pipeline step not found")
)

// Step is a single agent invocation slot in the pipeline. Identity is the ID;
// order within the pipeline is significant and user-reorderable.
type Step struct {
	ID       string         `json:"id"`
	AgentID  string         `json:"agentId"`
	Role     Role           `json:"role"`
	Settings map[string]any `json:"settings,omitempty"`
}

// NewStep creates a step with a fresh identity.
func NewStep(agentID string, role Role, settings map[string]any) Step {
	return Step{
		ID:       uuid.New().String(),
		AgentID:  agentID,
		Role:     role,
		Settings: settings,
	}
}

// clone deep-copies the step so later edits to one copy never leak into the
// other.
func (s Step) clone() Step {
	c := s
	if s.Settings != nil {
		c.Settings = make(map[string]any, len(s.Settings))
		for k, v := range s.Settings {
			c.Settings[k] = v
		}
	}
	return c
}

// Definition is an ordered sequence of steps plus the loop bounds.
type Definition struct {
	Steps         []Step `json:"steps"`
	MaxIterations int    `json:"maxIterations"`
	ContextWindow int    `json:"contextWindow"`
}

// Default returns the two-step generator/critic pipeline selected when a
// submit request carries no pipeline of its own.
func Default() Definition {
	return Definition{
		Steps: []Step{
			NewStep("gemini", RoleGenerator, nil),
			NewStep("qwen", RoleCritic, nil),
		},
		MaxIterations: 8,
		ContextWindow: 5,
	}
}

// Validate checks the structural invariants: at least one step, unique step
// ids, known roles, and MaxIterations >= 1.
func (d Definition) Validate() error {
	if len(d.Steps) == 0 {
		return ErrNoSteps
	}
	if d.MaxIterations < 1 {
		return fmt.Errorf("maxIterations must be >= 1, got %d", d.MaxIterations)
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		if s.ID == "" {
			return fmt.Errorf("step %d has no id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
		if !s.Role.Valid() {
			return fmt.Errorf("step %q has unknown role %q", s.ID, s.Role)
		}
		if s.AgentID == "" {
			return fmt.Errorf("step %q has no agent", s.ID)
		}
	}
	return nil
}

// Clone deep-copies the definition. Sessions snapshot their pipeline at
// creation time through this.
func (d Definition) Clone() Definition {
	c := Definition{
		MaxIterations: d.MaxIterations,
		ContextWindow: d.ContextWindow,
	}
	if d.Steps != nil {
		c.Steps = make([]Step, len(d.Steps))
		for i, s := range d.Steps {
			c.Steps[i] = s.clone()
		}
	}
	return c
}

// Reorder moves the step at index from to index to, shifting the steps in
// between. Step ids and settings are untouched.
func (d *Definition) Reorder(from, to int) error {
	n := len(d.Steps)
	if from < 0 || from >= n {
		return fmt.Errorf("reorder: index %d out of range", from)
	}
	if to < 0 || to >= n {
		return fmt.Errorf("reorder: index %d out of range", to)
	}
	if from == to {
		return nil
	}
	s := d.Steps[from]
	rest := append(d.Steps[:from:from], d.Steps[from+1:]...)
	d.Steps = append(rest[:to:to], append([]Step{s}, rest[to:]...)...)
	return nil
}

// Insert adds a step at index i (clamped to the list bounds).
func (d *Definition) Insert(i int, s Step) {
	if i < 0 {
		i = 0
	}
	if i > len(d.Steps) {
		i = len(d.Steps)
	}
	d.Steps = append(d.Steps[:i:i], append([]Step{s}, d.Steps[i:]...)...)
}

// Remove deletes the step with the given id.
func (d *Definition) Remove(id string) error {
	for i, s := range d.Steps {
		if s.ID == id {
			d.Steps = append(d.Steps[:i], d.Steps[i+1:]...)
			return nil
		}
	}
	return ErrStepNotFound
}

// Clear removes all steps.
func (d *Definition) Clear() {
	d.Steps = nil
}

// LoopStart returns the index the refinement loop re-enters at: the first
// step whose role is not analyzer, or 0 when every step is an analyzer.
func (d Definition) LoopStart() int {
	for i, s := range d.Steps {
		if s.Role != RoleAnalyzer {
			return i
		}
	}
	return 0
}

// WithoutRole returns a copy of the definition with every step of the given
// role removed. Used for skipCritique submissions.
func (d Definition) WithoutRole(r Role) Definition {
	c := d.Clone()
	steps := c.Steps[:0]
	for _, s := range c.Steps {
		if s.Role != r {
			steps = append(steps, s)
		}
	}
	c.Steps = steps
	return c
}
