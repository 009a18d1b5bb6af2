package dispatch

import (
	"fmt"
	"log/slog"

	"vqaexplain/internal/logging"
)

// State is the progress of one (entry, method) pair.
type State int

const (
	StatePending State = iota
	StateAnswerResolved
	StateAnalyzing
	StateComposited
	StateDone
	StateAborted
)

var stateNames = [...]string{"Pending", "AnswerResolved", "Analyzing", "Composited", "Done", "Aborted"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

func allowed(from, to State) bool {
	if to == StateAborted {
		return !from.Terminal()
	}
	switch from {
	case StatePending:
		return to == StateAnswerResolved
	case StateAnswerResolved:
		return to == StateAnalyzing
	case StateAnalyzing:
		return to == StateComposited || to == StateDone
	case StateComposited:
		return to == StateDone
	default:
		return false
	}
}

type machine struct {
	state  State
	logger *slog.Logger
}

func newMachine(logger *slog.Logger) *machine {
	return &machine{state: StatePending, logger: logger}
}

func (m *machine) advance(to State) error {
	if !allowed(m.state, to) {
		return fmt.Errorf("dispatch: disallowed transition %s -> %s", m.state, to)
	}
	m.logger.Debug("state transition",
		logging.String("from", m.state.String()),
		logging.String("to", to.String()),
		logging.String(logging.FieldEventType, "state_transition"),
	)
	m.state = to
	return nil
}

// abort moves to Aborted unless the pair already finished.
func (m *machine) abort() {
	if m.state.Terminal() {
		return
	}
	_ = m.advance(StateAborted)
}
