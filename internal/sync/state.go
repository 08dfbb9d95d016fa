package sync

import "fmt"

// State is the lifecycle state of a single run.
type State string

const (
	StateIdle         State = "idle"
	StateScanning     State = "scanning"
	StateDiffing      State = "diffing"
	StateTransferring State = "transferring"
	StateCompleted    State = "completed"
	StateCancelled    State = "cancelled"
	StateFailed       State = "failed"
)

var transitions = map[State][]State{
	StateIdle:         {StateScanning, StateFailed, StateCancelled},
	StateScanning:     {StateDiffing, StateFailed, StateCancelled},
	StateDiffing:      {StateTransferring, StateCompleted, StateFailed, StateCancelled},
	StateTransferring: {StateCompleted, StateFailed, StateCancelled},
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

func (s State) canTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type invalidTransitionError struct {
	from, to State
}

func (e *invalidTransitionError) Error() string {
	return fmt.Sprintf("invalid run transition %s -> %s", e.from, e.to)
}
