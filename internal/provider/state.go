package provider

import (
	"fmt"
	"sync"
)

// State is the connection/session state of one adapter.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateSessionReady
	StateListening
	StateProcessing
	StateCompleted
	StateError
	StateDisconnected
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateConnecting:   "connecting",
	StateSessionReady: "session_ready",
	StateListening:    "listening",
	StateProcessing:   "processing",
	StateCompleted:    "completed",
	StateError:        "error",
	StateDisconnected: "disconnected",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Listening-capable states accept audio frames.
func (s State) CanSendAudio() bool {
	return s == StateSessionReady || s == StateListening
}

// Live states hold an open transport.
func (s State) Live() bool {
	switch s {
	case StateSessionReady, StateListening, StateProcessing, StateCompleted, StateError:
		return true
	}
	return false
}

// validTransitions is the per-connection state machine:
//
//	idle -> connecting -> session_ready -> (listening <-> processing)
//	  -> completed | error -> disconnected
//
// error/completed return to listening only via ResetForNewRecording, never
// silently. Any live state may fail to error or be torn down to
// disconnected.
var validTransitions = map[State][]State{
	StateIdle:         {StateConnecting, StateDisconnected},
	StateConnecting:   {StateSessionReady, StateError, StateDisconnected},
	StateSessionReady: {StateListening, StateError, StateDisconnected},
	StateListening:    {StateProcessing, StateError, StateDisconnected},
	StateProcessing:   {StateCompleted, StateListening, StateError, StateDisconnected},
	StateCompleted:    {StateListening, StateError, StateDisconnected},
	StateError:        {StateListening, StateConnecting, StateDisconnected},
	StateDisconnected: {StateConnecting},
}

// Machine guards an adapter's state with transition validation and emits a
// connection_state_change event for every accepted transition.
type Machine struct {
	mu       sync.Mutex
	state    State
	provider ID
	bus      *Bus
}

// NewMachine creates a state machine in StateIdle.
func NewMachine(provider ID, bus *Bus) *Machine {
	return &Machine{provider: provider, bus: bus}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// To attempts a transition. Invalid transitions are rejected with an error
// and leave the state unchanged.
func (m *Machine) To(next State) error {
	m.mu.Lock()
	cur := m.state
	if cur == next {
		m.mu.Unlock()
		return nil
	}
	if !transitionAllowed(cur, next) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition %s -> %s", cur, next)
	}
	m.state = next
	m.mu.Unlock()

	m.bus.Publish(Event{
		Provider: m.provider,
		Kind:     EventConnectionStateChange,
		State:    next,
		Previous: cur,
	})
	return nil
}

// ToIf transitions only when the current state is one of from. Returns
// whether the transition happened.
func (m *Machine) ToIf(next State, from ...State) bool {
	m.mu.Lock()
	cur := m.state
	ok := false
	for _, f := range from {
		if cur == f {
			ok = true
			break
		}
	}
	if !ok || !transitionAllowed(cur, next) {
		m.mu.Unlock()
		return false
	}
	m.state = next
	m.mu.Unlock()

	m.bus.Publish(Event{
		Provider: m.provider,
		Kind:     EventConnectionStateChange,
		State:    next,
		Previous: cur,
	})
	return true
}

func transitionAllowed(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
