package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	def := Default()
	require.NoError(t, def.Validate())
	require.Len(t, def.Steps, 2)
	assert.Equal(t, RoleGenerator, def.Steps[0].Role)
	assert.Equal(t, RoleCritic, def.Steps[1].Role)
	assert.Equal(t, 8, def.MaxIterations)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{"empty", Definition{MaxIterations: 1}},
		{"zero iterations", Definition{
			Steps:         []Step{NewStep("a", RoleGenerator, nil)},
			MaxIterations: 0,
		}},
		{"unknown role", Definition{
			Steps:         []Step{NewStep("a", Role("editor"), nil)},
			MaxIterations: 1,
		}},
		{"missing agent", Definition{
			Steps:         []Step{NewStep("", RoleGenerator, nil)},
			MaxIterations: 1,
		}},
		{"duplicate id", Definition{
			Steps: []Step{
				{ID: "s1", AgentID: "a", Role: RoleGenerator},
				{ID: "s1", AgentID: "b", Role: RoleCritic},
			},
			MaxIterations: 1,
		}},
		{"missing id", Definition{
			Steps:         []Step{{AgentID: "a", Role: RoleGenerator}},
			MaxIterations: 1,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.def.Validate())
		})
	}
}

func TestReorderPreservesStepIdentity(t *testing.T) {
	def := Definition{
		Steps: []Step{
			NewStep("gen", RoleGenerator, map[string]any{"temp": 0.2}),
			NewStep("crit", RoleCritic, nil),
			NewStep("ref", RoleRefiner, nil),
		},
		MaxIterations: 3,
	}
	ids := []string{def.Steps[0].ID, def.Steps[1].ID, def.Steps[2].ID}

	require.NoError(t, def.Reorder(0, 2))
	assert.Equal(t, []string{ids[1], ids[2], ids[0]},
		[]string{def.Steps[0].ID, def.Steps[1].ID, def.Steps[2].ID})
	// settings travel with the step
	assert.Equal(t, 0.2, def.Steps[2].Settings["temp"])
	require.NoError(t, def.Validate())

	require.NoError(t, def.Reorder(2, 0))
	assert.Equal(t, ids[0], def.Steps[0].ID)

	assert.Error(t, def.Reorder(-1, 0))
	assert.Error(t, def.Reorder(0, 3))
	assert.NoError(t, def.Reorder(1, 1))
}

func TestCloneIsDeep(t *testing.T) {
	def := Definition{
		Steps:         []Step{NewStep("gen", RoleGenerator, map[string]any{"model": "a"})},
		MaxIterations: 2,
	}
	c := def.Clone()
	c.Steps[0].Settings["model"] = "b"
	c.Steps[0].AgentID = "other"

	assert.Equal(t, "a", def.Steps[0].Settings["model"])
	assert.Equal(t, "gen", def.Steps[0].AgentID)
}

func TestInsertRemoveClear(t *testing.T) {
	var def Definition
	def.MaxIterations = 1

	a := NewStep("a", RoleGenerator, nil)
	b := NewStep("b", RoleCritic, nil)
	c := NewStep("c", RoleRefiner, nil)

	def.Insert(0, a)
	def.Insert(99, b) // clamped to the end
	def.Insert(1, c)
	require.Len(t, def.Steps, 3)
	assert.Equal(t, []string{"a", "c", "b"},
		[]string{def.Steps[0].AgentID, def.Steps[1].AgentID, def.Steps[2].AgentID})

	require.NoError(t, def.Remove(c.ID))
	assert.Len(t, def.Steps, 2)
	assert.ErrorIs(t, def.Remove("nope"), ErrStepNotFound)

	def.Clear()
	assert.Empty(t, def.Steps)
	assert.ErrorIs(t, def.Validate(), ErrNoSteps)
}

func TestLoopStartSkipsLeadingAnalyzers(t *testing.T) {
	def := Definition{Steps: []Step{
		NewStep("judge", RoleAnalyzer, nil),
		NewStep("gen", RoleGenerator, nil),
	}}
	assert.Equal(t, 1, def.LoopStart())

	allAnalyzers := Definition{Steps: []Step{NewStep("judge", RoleAnalyzer, nil)}}
	assert.Equal(t, 0, allAnalyzers.LoopStart())

	assert.Equal(t, 0, Default().LoopStart())
}

func TestWithoutRole(t *testing.T) {
	def := Definition{
		Steps: []Step{
			NewStep("gen", RoleGenerator, nil),
			NewStep("crit", RoleCritic, nil),
			NewStep("ref", RoleRefiner, nil),
		},
		MaxIterations: 4,
	}
	trimmed := def.WithoutRole(RoleCritic)
	require.Len(t, trimmed.Steps, 2)
	assert.Equal(t, RoleGenerator, trimmed.Steps[0].Role)
	assert.Equal(t, RoleRefiner, trimmed.Steps[1].Role)
	// source definition untouched
	assert.Len(t, def.Steps, 3)
}

func TestRoleEvaluates(t *testing.T) {
	assert.False(t, RoleGenerator.Evaluates())
	assert.True(t, RoleCritic.Evaluates())
	assert.False(t, RoleRefiner.Evaluates())
	assert.True(t, RoleAnalyzer.Evaluates())
}
