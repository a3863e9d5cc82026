package indexer

import (
	"errors"
	"sync/atomic"
)

// ErrRebuildRunning is returned when a rebuild is requested while another
// one holds the builder.
var ErrRebuildRunning = errors.New("rebuild already in progress")

// State is the rebuild lifecycle of a Builder
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// stateMachine gates concurrent rebuilds with a single compare-and-swap.
// Only idle (or a terminal state, which counts as idle for admission) can
// transition to running; the losing caller gets ErrRebuildRunning.
type stateMachine struct {
	state atomic.Int32
}

func (m *stateMachine) begin() error {
	for {
		current := m.state.Load()
		if State(current) == StateRunning {
			return ErrRebuildRunning
		}
		if m.state.CompareAndSwap(current, int32(StateRunning)) {
			return nil
		}
	}
}

func (m *stateMachine) finish(err error) {
	if err != nil {
		m.state.Store(int32(StateFailed))
		return
	}
	m.state.Store(int32(StateSucceeded))
}

func (m *stateMachine) current() State {
	return State(m.state.Load())
}
