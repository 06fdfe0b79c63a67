package establish

import (
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/drop/internal/util"
)

// Machine is a goroutine-safe wrapper around Transition. A machine that
// reached a terminal state must be discarded; create a new one to retry.
type Machine struct {
	mu        sync.Mutex
	snap      Snapshot
	err       error
	listeners []func(from, to State)
	log       util.Logger

	connected chan struct{}
	done      chan struct{}
	ended     chan struct{}
	isEnded   bool
}

// NewMachine returns a machine in StateIdle.
func NewMachine() *Machine {
	return &Machine{
		log:       util.NewLogger("establish"),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
		ended:     make(chan struct{}),
	}
}

// OnChange registers fn to be called (outside the lock) on every state change.
func (m *Machine) OnChange(fn func(from, to State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Fire applies e. It returns ErrTerminal for events after a terminal state,
// the escalated error when e terminates the session abnormally, and nil
// otherwise (including for transient events that were ignored).
func (m *Machine) Fire(e Event) error {
	m.mu.Lock()
	prev := m.snap
	next, effect := Transition(prev, e)
	m.snap = next

	var err error
	switch effect {
	case EffectIgnored:
		m.log.Debug("ignoring %s while %s", e, prev.State)
	case EffectRejected:
		if prev.State.Terminal() {
			err = fmt.Errorf("%w: %s after %s", ErrTerminal, e, prev.State)
		} else {
			m.log.Debug("event %s not applicable while %s", e, prev.State)
		}
	case EffectEscalate:
		if next.State == StateError {
			err = ErrNegotiation
		} else {
			err = fmt.Errorf("%w: %s", ErrSessionTerminated, e)
		}
		m.err = err
	}

	if next.State == StateConnected && prev.State != StateConnected {
		close(m.connected)
	}
	if next.State.Terminal() && !prev.State.Terminal() {
		close(m.done)
	}
	if !m.isEnded && (next.State.Terminal() || effect == EffectEscalate) {
		m.isEnded = true
		close(m.ended)
	}

	var listeners []func(from, to State)
	if next.State != prev.State {
		listeners = append(listeners, m.listeners...)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(prev.State, next.State)
	}
	return err
}

// Fail records cause and moves the machine to StateError.
func (m *Machine) Fail(cause error) error {
	err := m.Fire(EventNegotiationError)
	if !errors.Is(err, ErrNegotiation) {
		return err
	}

	m.mu.Lock()
	m.err = fmt.Errorf("%w: %v", ErrNegotiation, cause)
	err = m.err
	m.mu.Unlock()
	return err
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// State returns the current state.
func (m *Machine) State() State {
	return m.Snapshot().State
}

// Err returns the error that terminated the machine abnormally, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Connected is closed the first time the machine reaches StateConnected.
func (m *Machine) Connected() <-chan struct{} { return m.connected }

// Done is closed when the machine reaches a terminal state.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Ended is closed when the session stops serving: on a terminal state or
// on an escalated failure, whichever comes first. Err tells them apart.
func (m *Machine) Ended() <-chan struct{} { return m.ended }
