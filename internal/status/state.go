package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/gram/internal/bus"
)

// State is the live-subscription state of a client session.
type State string

const (
	Idle          State = "IDLE"
	Subscribed    State = "SUBSCRIBED"
	Resubscribing State = "RESUBSCRIBING"
	Unsubscribed  State = "UNSUBSCRIBED"
)

// KindChanged is the bus event kind published on every transition.
const KindChanged = "session.subscription_changed"

// validTransitions defines allowed state transitions. Unsubscribed is terminal.
var validTransitions = map[State][]State{
	Idle:          {Subscribed, Unsubscribed},
	Subscribed:    {Resubscribing, Unsubscribed},
	Resubscribing: {Subscribed, Unsubscribed},
	Unsubscribed:  {},
}

// Machine tracks and enforces subscription state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
	user    string
}

// NewMachine creates a machine for user starting in Idle. b may be nil.
func NewMachine(b *bus.Bus, user string) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
		user:    user,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Terminal reports whether the machine reached Unsubscribed.
func (m *Machine) Terminal() bool {
	return m.Current() == Unsubscribed
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
		m.bus.Publish(bus.NewEvent(KindChanged, StatusChange{
			User: m.user,
			From: from,
			To:   to,
		}))
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	User string
	From State
	To   State
}
