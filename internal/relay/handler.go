package relay

import (
	"fmt"

	"github.com/1ureka/drop/internal/protocol"
	"github.com/1ureka/drop/internal/registry"
	"github.com/1ureka/drop/internal/util"
)

// handle dispatches one inbound signaling message. Failures are reported to
// the sender only and never terminate the connection.
func (s *Server) handle(ep *endpoint, data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		ep.sendError(err)
		return
	}

	switch msg.Type {
	case protocol.MsgTypeRegister:
		id, err := s.register(ep, msg.ConnectionID)
		if err != nil {
			ep.sendError(err)
			return
		}
		ep.send(&protocol.Message{Type: protocol.MsgTypeRegistered, ConnectionID: id})

		// A joiner that arrived first is already waiting for an offer.
		for range s.sessions.MembersExcept(id, ep) {
			ep.send(&protocol.Message{Type: protocol.MsgTypePeerJoined, ConnectionID: id})
		}

	case protocol.MsgTypeJoin:
		if err := s.join(ep, msg.ConnectionID); err != nil {
			ep.sendError(err)
			return
		}
		ep.send(&protocol.Message{Type: protocol.MsgTypeJoined, ConnectionID: msg.ConnectionID})

		for _, peer := range s.sessions.MembersExcept(msg.ConnectionID, ep) {
			peer.send(&protocol.Message{Type: protocol.MsgTypePeerJoined, ConnectionID: msg.ConnectionID})
		}

	case protocol.MsgTypeOffer, protocol.MsgTypeAnswer, protocol.MsgTypeCandidate:
		if _, err := s.relay(ep, msg.ConnectionID, data); err != nil {
			ep.sendError(err)
		}

	case protocol.MsgTypePing:
		ep.send(&protocol.Message{Type: protocol.MsgTypePong})

	default:
		ep.sendError(fmt.Errorf("%w: unknown message type %q", protocol.ErrMetadataParse, msg.Type))
	}
}

// register resolves (or generates) the session id and adds ep as initiator.
func (s *Server) register(ep *endpoint, requestedID string) (string, error) {
	id, err := s.sessions.CreateSession(requestedID)
	if err != nil {
		return "", err
	}
	if err := s.enter(ep, id, registry.RoleInitiator); err != nil {
		return "", err
	}
	ep.setRole(registry.RoleInitiator)
	ep.log.Info("registered session %s", id)
	return id, nil
}

// join adds ep as joiner. The session is created on demand if nobody has
// registered it yet.
func (s *Server) join(ep *endpoint, sessionID string) error {
	if sessionID == "" {
		return ErrMissingSessionID
	}
	if err := s.enter(ep, sessionID, registry.RoleJoiner); err != nil {
		return err
	}
	ep.setRole(registry.RoleJoiner)
	ep.log.Info("joined session %s", sessionID)
	return nil
}

// enter adds ep to the session. If ep was in another session, the members
// left there are told it is gone.
func (s *Server) enter(ep *endpoint, sessionID string, role registry.Role) error {
	left, moved, err := s.sessions.Enter(sessionID, ep, role)
	if err != nil {
		return err
	}
	if moved {
		ep.log.Info("%s moved from session %s to %s", ep.Role(), left.SessionID, sessionID)
		notifyDeparture(left.SessionID, left.Remaining)
	}
	return nil
}

// relay forwards raw, byte-for-byte, to every other member of the session.
// It never waits for delivery; it returns the number of members the message
// was handed to.
func (s *Server) relay(ep *endpoint, sessionID string, raw []byte) (int, error) {
	if sessionID == "" {
		return 0, ErrMissingSessionID
	}

	delivered := 0
	for _, peer := range s.sessions.MembersExcept(sessionID, ep) {
		if peer.enqueue(raw) {
			delivered++
			util.Stats.AddRelayed()
		}
	}

	if delivered == 0 {
		ep.log.Debug("no recipient in session %s yet", sessionID)
	}
	return delivered, nil
}
