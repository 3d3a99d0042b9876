package engine

import "fmt"

// CycleState represents the current phase of a trading cycle.
type CycleState string

const (
	// StateFetching is the initial phase: requesting a market snapshot.
	StateFetching CycleState = "fetching"
	// StateDeciding runs the decision engine over the snapshot.
	StateDeciding CycleState = "deciding"
	// StateExecuting applies the emitted trade intents in order.
	StateExecuting CycleState = "executing"
	// StateSummarizing builds the cycle summary from post-trade state.
	StateSummarizing CycleState = "summarizing"
	// StateDone hands the summary to the performance logger.
	StateDone CycleState = "done"
	// StateFailed is terminal and reachable from any phase.
	StateFailed CycleState = "failed"
)

// validTransitions defines the allowed cycle progression. Failure is allowed
// from everywhere; nothing leaves a terminal state.
var validTransitions = map[CycleState][]CycleState{
	StateFetching:    {StateDeciding, StateFailed},
	StateDeciding:    {StateExecuting, StateFailed},
	StateExecuting:   {StateSummarizing, StateFailed},
	StateSummarizing: {StateDone, StateFailed},
	StateDone:        {},
	StateFailed:      {},
}

// cycleMachine tracks one cycle's phase and rejects invalid transitions.
type cycleMachine struct {
	current CycleState
}

func newCycleMachine() *cycleMachine {
	return &cycleMachine{current: StateFetching}
}

// State returns the current cycle phase.
func (m *cycleMachine) State() CycleState {
	return m.current
}

// Transition moves the cycle to the next phase.
func (m *cycleMachine) Transition(to CycleState) error {
	for _, allowed := range validTransitions[m.current] {
		if allowed == to {
			m.current = to
			return nil
		}
	}
	return fmt.Errorf("invalid cycle transition from %s to %s", m.current, to)
}
