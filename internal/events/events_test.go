package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackEmitter(t *testing.T) {
	var captured []*Event
	em := NewCallbackEmitter(func(e *Event) {
		captured = append(captured, e)
	})

	em.Emit(AgentPatch, TypeProgress, "branch", "Created branch: bugpilot/fix-1", nil)
	em.Emit(AgentPatch, TypeError, "push_branch", "push failed", map[string]any{"code": 1})

	require.Len(t, captured, 2)

	first := captured[0]
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())
	assert.Equal(t, AgentPatch, first.Agent)
	assert.Equal(t, TypeProgress, first.Type)
	assert.Equal(t, "branch", first.Step)
	assert.NotNil(t, first.Data, "nil data must default to an empty map")

	assert.Equal(t, 1, captured[1].Data["code"])
	assert.NotEqual(t, captured[0].ID, captured[1].ID)
}

func TestMultiFansOut(t *testing.T) {
	var a, b int
	em := Multi{
		NewCallbackEmitter(func(*Event) { a++ }),
		NewCallbackEmitter(func(*Event) { b++ }),
		NopEmitter{},
	}

	em.Emit(AgentPipeline, TypeStatus, "starting", "go", nil)

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestAgentLabel(t *testing.T) {
	assert.Equal(t, "PATCH GENERATION", agentLabel(AgentPatch))
	assert.Equal(t, "TRIAGE", agentLabel(AgentTriage))
}
