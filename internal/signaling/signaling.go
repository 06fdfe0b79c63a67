// Package signaling drives an endpoint through the relay: it registers or
// joins a session, exchanges SDP and ICE candidates with the peer, and hands
// back a Session once the direct DataChannel is open. All WebSocket and
// SDP/ICE details are internal.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/drop/internal/establish"
	"github.com/1ureka/drop/internal/protocol"
	"github.com/1ureka/drop/internal/transport"
	"github.com/1ureka/drop/internal/util"
)

var (
	// ErrRelayRejected is returned when the relay answers register or join
	// with an error message.
	ErrRelayRejected = errors.New("relay rejected request")

	// ErrConnectionIDRequired is returned when joining without an id.
	ErrConnectionIDRequired = errors.New("connection id required")
)

// peer is the negotiation surface of a transport.Transport.
type peer interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(webrtc.ICECandidateInit) error
}

// Options configure one establishment attempt.
type Options struct {
	RelayURL     string // ws(s)://host/ws
	ConnectionID string // sender: optional requested id; receiver: required
	Transport    transport.Options

	// OnRegistered is called with the session id as soon as the relay
	// confirms it, before waiting for the peer. Sender only.
	OnRegistered func(connectionID string)
}

// Session is an established direct connection. The relay connection stays
// open for the session's lifetime so peer departure is reported.
type Session struct {
	ConnectionID string
	EndpointID   string
	Transport    *transport.Transport
	Machine      *establish.Machine

	conn   *conn
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.Machine.Done()
}

// Ended is closed when the session stops serving: the peer left, the
// session was closed, or the connection failed after being established.
func (s *Session) Ended() <-chan struct{} {
	return s.Machine.Ended()
}

// Err returns the error that terminated the session abnormally, or nil after
// a clean shutdown.
func (s *Session) Err() error {
	return s.Machine.Err()
}

// Close ends the session: the machine moves to disconnected, and the relay
// connection and the transport are closed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.Machine.Fire(establish.EventClose)
		s.cancel()
		s.closeErr = errors.Join(s.conn.close(), s.Transport.Close())
	})
	return s.closeErr
}

// EstablishAsSender registers a session at the relay, offers to the first
// peer that joins and returns once the DataChannel is open:
//  1. Connect to the relay and read the welcome
//  2. Register (optionally under opts.ConnectionID)
//  3. Create the Transport and wire its events into the state machine
//  4. Send an offer when the peer joins; trickle candidates both ways
//  5. Return the Session once the machine reaches connected
func EstablishAsSender(ctx context.Context, opts Options) (*Session, error) {
	return establishSession(ctx, opts, true)
}

// EstablishAsReceiver joins the session opts.ConnectionID, answers the
// sender's offer and returns once the DataChannel is open.
func EstablishAsReceiver(ctx context.Context, opts Options) (*Session, error) {
	if opts.ConnectionID == "" {
		return nil, ErrConnectionIDRequired
	}
	return establishSession(ctx, opts, false)
}

func establishSession(ctx context.Context, opts Options, initiator bool) (*Session, error) {
	log := util.NewLogger("signaling")

	// 1. Connect and wait for the welcome.
	c, err := dial(ctx, opts.RelayURL)
	if err != nil {
		return nil, err
	}

	welcome, err := expect(ctx, c, protocol.MsgTypeWelcome)
	if err != nil {
		c.close()
		return nil, err
	}
	log = log.With("endpoint", welcome.EndpointID)
	log.Debug("connected to %s", opts.RelayURL)

	// 2. Register or join.
	machine := establish.NewMachine()
	req := &protocol.Message{Type: protocol.MsgTypeJoin, ConnectionID: opts.ConnectionID}
	ack := protocol.MsgTypeJoined
	event := establish.EventJoin
	if initiator {
		req.Type = protocol.MsgTypeRegister
		ack = protocol.MsgTypeRegistered
		event = establish.EventCreate
	}

	machine.Fire(event)
	if err := c.send(req); err != nil {
		c.close()
		return nil, err
	}
	reply, err := expect(ctx, c, ack)
	if err != nil {
		machine.Fire(establish.EventClose)
		c.close()
		return nil, err
	}
	connectionID := reply.ConnectionID
	log = log.With("session", connectionID)
	log.Info("%s session %s", req.Type, connectionID)

	if initiator && opts.OnRegistered != nil {
		opts.OnRegistered(connectionID)
	}

	// 3. Create the transport.
	sCtx, cancel := context.WithCancel(ctx)
	tr, err := transport.NewTransport(sCtx, opts.Transport)
	if err != nil {
		cancel()
		machine.Fail(err)
		c.close()
		return nil, err
	}

	s := &Session{
		ConnectionID: connectionID,
		EndpointID:   welcome.EndpointID,
		Transport:    tr,
		Machine:      machine,
		conn:         c,
		cancel:       cancel,
	}
	out := &sender{peer: tr, conn: c, connectionID: connectionID}
	in := &receiver{peer: tr, machine: machine, sender: out, initiator: initiator, log: log}

	wireTransport(sCtx, tr, machine, out, log)

	// 4. Negotiate.
	watchErr := make(chan error, 1)
	go func() { watchErr <- in.watch(c) }()
	go c.keepalive(sCtx, pingInterval)

	// 5. Wait for the channel.
	select {
	case <-machine.Connected():
		log.Info("direct channel established")
		return s, nil

	case <-machine.Done():
		s.Close()
		if err := machine.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s before the channel opened", establish.ErrSessionTerminated, machine.State())

	case err := <-watchErr:
		s.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

// wireTransport forwards transport events into the machine and local
// candidates to the relay.
func wireTransport(ctx context.Context, tr *transport.Transport, m *establish.Machine, out *sender, log util.Logger) {
	tr.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		// Best effort: a lost candidate only narrows the candidate pairs.
		if err := out.sendCandidate(c.ToJSON()); err != nil {
			log.Debug("candidate not sent: %v", err)
		}
	})

	tr.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if e, ok := transportEvent(state); ok {
			if err := m.Fire(e); err != nil && !errors.Is(err, establish.ErrTerminal) {
				log.Error("%v", err)
			}
		}
	})

	tr.OnChannelClose(func() {
		m.Fire(establish.EventChannelClosed)
	})

	go func() {
		select {
		case <-tr.Ready():
			m.Fire(establish.EventChannelOpen)
		case <-ctx.Done():
		}
	}()
}

// transportEvent maps PeerConnection states onto machine events.
func transportEvent(state webrtc.PeerConnectionState) (establish.Event, bool) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		return establish.EventTransportConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return establish.EventTransportDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return establish.EventTransportFailed, true
	default:
		return 0, false
	}
}

// expect reads relay messages until one of type want arrives. An error
// message from the relay fails with ErrRelayRejected.
func expect(ctx context.Context, c *conn, want protocol.MessageType) (*protocol.Message, error) {
	for {
		msg, err := c.next(ctx)
		if err != nil {
			return nil, err
		}
		switch msg.Type {
		case want:
			return msg, nil
		case protocol.MsgTypeError:
			return nil, fmt.Errorf("%w: %s", ErrRelayRejected, msg.Message)
		default:
			c.log.Debug("ignoring %s while waiting for %s", msg.Type, want)
		}
	}
}
