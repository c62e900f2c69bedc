package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatfeed/internal/bus"
)

// State is a connection session state.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Disconnected State = "DISCONNECTED"
)

// KindChanged is the bus event kind published on every transition.
const KindChanged = "session.status_changed"

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:         {Connecting, Disconnected},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
	Reconnecting: {Connecting, Disconnected},
	Disconnected: {Connecting, Reconnecting},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
	source  string
}

// NewMachine creates a state machine starting in Idle. source is attached to
// published changes so subscribers can tell sessions apart; b may be nil.
func NewMachine(b *bus.Bus, source string) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
		source:  source,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      KindChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				Source: m.source,
				From:   from,
				To:     to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	Source string
	From   State
	To     State
}
