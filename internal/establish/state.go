// Package establish models one endpoint's progress towards an open direct
// channel. Transition is a pure function of (snapshot, event); Machine adds
// locking and change notification on top of it.
package establish

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionTerminated is escalated when the transport fails after the
	// channel had been connected.
	ErrSessionTerminated = errors.New("session terminated")

	// ErrNegotiation marks an unrecoverable negotiation failure.
	ErrNegotiation = errors.New("negotiation failed")

	// ErrTerminal is returned for events fed to a finished machine.
	ErrTerminal = errors.New("state machine is terminal")
)

// State is the establishment state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateDisconnected
	StateError
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateFailed:       "failed",
	StateDisconnected: "disconnected",
	StateError:        "error",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateError
}

// Event drives a transition.
type Event int

const (
	// Local API calls.
	EventCreate Event = iota
	EventJoin
	EventClose

	// Relay-delivered negotiation progress.
	EventPeerJoined
	EventLocalDescription
	EventRemoteOffer
	EventRemoteAnswer
	EventCandidate
	EventPeerLeft
	EventNegotiationError

	// Transport events.
	EventChannelOpen
	EventChannelClosed
	EventTransportConnected
	EventTransportDisconnected
	EventTransportFailed
)

var eventNames = [...]string{
	EventCreate:                "create",
	EventJoin:                  "join",
	EventClose:                 "close",
	EventPeerJoined:            "peer-joined",
	EventLocalDescription:      "local-description",
	EventRemoteOffer:           "remote-offer",
	EventRemoteAnswer:          "remote-answer",
	EventCandidate:             "candidate",
	EventPeerLeft:              "peer-left",
	EventNegotiationError:      "negotiation-error",
	EventChannelOpen:           "channel-open",
	EventChannelClosed:         "channel-closed",
	EventTransportConnected:    "transport-connected",
	EventTransportDisconnected: "transport-disconnected",
	EventTransportFailed:       "transport-failed",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

func (e Event) isLiveness() bool {
	return e == EventTransportDisconnected || e == EventTransportFailed
}

// Snapshot is the machine's complete state. EverConnected records whether
// StateConnected has been reached; it decides whether liveness failures are
// transient or fatal.
type Snapshot struct {
	State         State
	EverConnected bool
}

// Effect describes what the caller should do after a transition.
type Effect int

const (
	EffectNone Effect = iota
	// EffectIgnored: a transient liveness event during the handshake
	// window; log it, do not surface it.
	EffectIgnored
	// EffectEscalate: the session terminated abnormally; surface Err.
	EffectEscalate
	// EffectRejected: the event is not valid in the current state.
	EffectRejected
)

// Transition applies e to s. It never mutates its input.
func Transition(s Snapshot, e Event) (Snapshot, Effect) {
	next := s

	if s.State.Terminal() {
		return s, EffectRejected
	}

	if e == EventNegotiationError {
		next.State = StateError
		return next, EffectEscalate
	}

	switch s.State {
	case StateIdle:
		switch e {
		case EventCreate, EventJoin:
			next.State = StateConnecting
		case EventClose:
			next.State = StateDisconnected
		default:
			return s, EffectRejected
		}

	case StateConnecting:
		switch e {
		case EventPeerJoined, EventLocalDescription, EventRemoteOffer,
			EventRemoteAnswer, EventCandidate, EventTransportConnected:
			// progress within the handshake
		case EventChannelOpen:
			next.State = StateConnected
			next.EverConnected = true
		case EventTransportDisconnected, EventTransportFailed, EventChannelClosed:
			return s, EffectIgnored
		case EventClose, EventPeerLeft:
			// a handshake cannot complete without its peer
			next.State = StateDisconnected
		default:
			return s, EffectRejected
		}

	case StateConnected:
		switch {
		case e.isLiveness():
			next.State = StateFailed
			return next, EffectEscalate
		case e == EventPeerLeft, e == EventClose, e == EventChannelClosed:
			next.State = StateDisconnected
		case e == EventCandidate, e == EventTransportConnected, e == EventChannelOpen:
			// late trickle or duplicate notifications
		default:
			return s, EffectRejected
		}

	case StateFailed:
		next.State = StateDisconnected
	}

	return next, EffectNone
}
