package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleMachine_HappyPath(t *testing.T) {
	m := newCycleMachine()
	assert.Equal(t, StateFetching, m.State())

	for _, next := range []CycleState{StateDeciding, StateExecuting, StateSummarizing, StateDone} {
		require.NoError(t, m.Transition(next))
		assert.Equal(t, next, m.State())
	}
}

func TestCycleMachine_FailedFromAnyActiveState(t *testing.T) {
	paths := [][]CycleState{
		{},
		{StateDeciding},
		{StateDeciding, StateExecuting},
		{StateDeciding, StateExecuting, StateSummarizing},
	}
	for _, path := range paths {
		m := newCycleMachine()
		for _, next := range path {
			require.NoError(t, m.Transition(next))
		}
		assert.NoError(t, m.Transition(StateFailed))
	}
}

func TestCycleMachine_RejectsInvalidTransitions(t *testing.T) {
	m := newCycleMachine()
	assert.Error(t, m.Transition(StateExecuting), "cannot skip deciding")
	assert.Error(t, m.Transition(StateDone), "cannot jump to done")
	assert.Equal(t, StateFetching, m.State(), "failed transition leaves state unchanged")
}

func TestCycleMachine_TerminalStatesAreFinal(t *testing.T) {
	m := newCycleMachine()
	require.NoError(t, m.Transition(StateFailed))
	assert.Error(t, m.Transition(StateDeciding))
	assert.Error(t, m.Transition(StateFailed))

	m = newCycleMachine()
	for _, next := range []CycleState{StateDeciding, StateExecuting, StateSummarizing, StateDone} {
		require.NoError(t, m.Transition(next))
	}
	assert.Error(t, m.Transition(StateFailed), "done never becomes failed")
}
