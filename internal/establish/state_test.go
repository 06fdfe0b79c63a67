package establish

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	idle := Snapshot{State: StateIdle}
	connecting := Snapshot{State: StateConnecting}
	connected := Snapshot{State: StateConnected, EverConnected: true}
	failed := Snapshot{State: StateFailed, EverConnected: true}

	testCases := []struct {
		name   string
		from   Snapshot
		event  Event
		want   Snapshot
		effect Effect
	}{
		{"create starts connecting", idle, EventCreate, connecting, EffectNone},
		{"join starts connecting", idle, EventJoin, connecting, EffectNone},
		{"idle rejects channel open", idle, EventChannelOpen, idle, EffectRejected},
		{"idle close", idle, EventClose, Snapshot{State: StateDisconnected}, EffectNone},

		{"offer keeps connecting", connecting, EventRemoteOffer, connecting, EffectNone},
		{"answer keeps connecting", connecting, EventRemoteAnswer, connecting, EffectNone},
		{"candidate keeps connecting", connecting, EventCandidate, connecting, EffectNone},
		{"ice connected is not enough", connecting, EventTransportConnected, connecting, EffectNone},
		{"channel open connects", connecting, EventChannelOpen, connected, EffectNone},
		{"early disconnect is transient", connecting, EventTransportDisconnected, connecting, EffectIgnored},
		{"early failure is transient", connecting, EventTransportFailed, connecting, EffectIgnored},
		{"peer left mid-handshake", connecting, EventPeerLeft, Snapshot{State: StateDisconnected}, EffectNone},
		{"negotiation error", connecting, EventNegotiationError, Snapshot{State: StateError}, EffectEscalate},

		{"late failure escalates", connected, EventTransportFailed, failed, EffectEscalate},
		{"late disconnect escalates", connected, EventTransportDisconnected, failed, EffectEscalate},
		{"peer left", connected, EventPeerLeft, Snapshot{State: StateDisconnected, EverConnected: true}, EffectNone},
		{"late candidate", connected, EventCandidate, connected, EffectNone},
		{"connected rejects offer", connected, EventRemoteOffer, connected, EffectRejected},

		{"failed settles", failed, EventClose, Snapshot{State: StateDisconnected, EverConnected: true}, EffectNone},

		{"disconnected is terminal", Snapshot{State: StateDisconnected}, EventCreate, Snapshot{State: StateDisconnected}, EffectRejected},
		{"error is terminal", Snapshot{State: StateError}, EventChannelOpen, Snapshot{State: StateError}, EffectRejected},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, effect := Transition(tc.from, tc.event)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.effect, effect)
		})
	}
}

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine()

	var mu sync.Mutex
	var seen []State
	m.OnChange(func(from, to State) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	})

	for _, e := range []Event{EventCreate, EventLocalDescription, EventTransportFailed, EventRemoteAnswer, EventChannelOpen} {
		require.NoError(t, m.Fire(e), "event %s", e)
	}

	select {
	case <-m.Connected():
	default:
		t.Fatal("Connected() not closed")
	}
	assert.True(t, m.Snapshot().EverConnected)

	require.NoError(t, m.Fire(EventPeerLeft))
	assert.Equal(t, StateDisconnected, m.State())
	assert.NoError(t, m.Err())

	select {
	case <-m.Done():
	default:
		t.Fatal("Done() not closed")
	}

	err := m.Fire(EventCreate)
	assert.ErrorIs(t, err, ErrTerminal)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, seen)
}

func TestMachineEscalatesPostConnectFailure(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Fire(EventJoin))
	require.NoError(t, m.Fire(EventChannelOpen))

	err := m.Fire(EventTransportFailed)
	assert.ErrorIs(t, err, ErrSessionTerminated)
	assert.Equal(t, StateFailed, m.State())
	assert.ErrorIs(t, m.Err(), ErrSessionTerminated)

	// failed is not terminal, but the session has stopped serving.
	assert.True(t, isClosed(m.Ended()))
	assert.False(t, isClosed(m.Done()))

	require.NoError(t, m.Fire(EventClose))
	assert.Equal(t, StateDisconnected, m.State())
	assert.True(t, isClosed(m.Done()))
	assert.ErrorIs(t, m.Err(), ErrSessionTerminated)
}

func TestMachineEndedOnCleanClose(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Fire(EventCreate))
	require.NoError(t, m.Fire(EventChannelOpen))
	assert.False(t, isClosed(m.Ended()))

	require.NoError(t, m.Fire(EventPeerLeft))
	assert.True(t, isClosed(m.Ended()))
	assert.NoError(t, m.Err())
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestMachineFail(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Fire(EventCreate))

	cause := errors.New("bad sdp")
	err := m.Fail(cause)
	assert.ErrorIs(t, err, ErrNegotiation)
	assert.Contains(t, err.Error(), "bad sdp")
	assert.Equal(t, StateError, m.State())

	// Failing again does not replace the recorded cause.
	assert.ErrorIs(t, m.Fail(errors.New("other")), ErrTerminal)
	assert.Contains(t, m.Err().Error(), "bad sdp")
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "State(42)", State(42).String())
	assert.Equal(t, "channel-open", EventChannelOpen.String())
	assert.True(t, StateError.Terminal())
	assert.False(t, StateFailed.Terminal())
}
