package orchestrator

import "fmt"

// State is where a call sits in the turn loop.
type State string

const (
	StateGreeting        State = "greeting"
	StateAwaitingSpeech  State = "awaiting_speech"
	StateProcessing      State = "processing"
	StateRespondingAudio State = "responding_audio"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

var transitions = map[State][]State{
	StateGreeting:        {StateAwaitingSpeech, StateCompleted},
	StateAwaitingSpeech:  {StateProcessing, StateAwaitingSpeech, StateCompleted},
	StateProcessing:      {StateRespondingAudio, StateAwaitingSpeech, StateCompleted},
	StateRespondingAudio: {StateAwaitingSpeech, StateCompleted},
}

// CanTransition reports whether from → to is a legal move. Any non-terminal
// state may fail.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// machine tracks one turn's walk through the states.
type machine struct {
	state State
}

func (m *machine) move(to State) error {
	if !CanTransition(m.state, to) {
		return fmt.Errorf("illegal transition %s -> %s", m.state, to)
	}
	m.state = to
	return nil
}
