package orchestrator

import (
	"fmt"
)

// State is the state of a workflow run.
type State int

const (
	Init State = iota
	KeyReady
	Encrypted
	Computed
	Decrypted
	Reported
	Errored
)

var stateToString = []string{"Init", "KeyReady", "Encrypted", "Computed", "Decrypted", "Reported", "Errored"}

// String returns the string representation of the state.
func (s State) String() string {
	if s < Init || s > Errored {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateToString[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal returns whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Reported || s == Errored
}

// next returns the successor of s on the success path.
func (s State) next() State {
	if s >= Decrypted {
		return Reported
	}
	return s + 1
}

// machine tracks the state of a run and rejects invalid transitions.
type machine struct {
	state State
}

func (m *machine) advance(to State) error {
	if m.state.Terminal() || to != m.state.next() {
		return fmt.Errorf("invalid transition from %s to %s", m.state, to)
	}
	m.state = to
	return nil
}

// fail moves a non-terminal run to Errored.
func (m *machine) fail() {
	if !m.state.Terminal() {
		m.state = Errored
	}
}
