package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/drop/internal/establish"
	"github.com/1ureka/drop/internal/protocol"
	"github.com/1ureka/drop/internal/util"
)

// receiver applies relay messages to the local peer and the state machine.
// It runs on a single goroutine, so its fields need no locking.
type receiver struct {
	peer      peer
	machine   *establish.Machine
	sender    *sender
	initiator bool
	log       util.Logger

	// Remote candidates that arrived before the remote description.
	pending []webrtc.ICECandidateInit
}

// watch consumes relay messages until the connection ends.
func (r *receiver) watch(c *conn) error {
	for msg := range c.inbox {
		if err := r.handle(msg); err != nil {
			r.log.Error("%v", err)
			r.machine.Fail(err)
		}
	}
	return c.err()
}

func (r *receiver) handle(msg *protocol.Message) error {
	switch msg.Type {
	case protocol.MsgTypePeerJoined:
		r.fire(establish.EventPeerJoined)
		if !r.initiator {
			return nil
		}
		if err := r.sender.sendOffer(); err != nil {
			return err
		}
		r.fire(establish.EventLocalDescription)

	case protocol.MsgTypeOffer:
		if r.initiator {
			r.log.Warn("ignoring offer: this endpoint is the offerer")
			return nil
		}
		if err := r.setRemote(msg, webrtc.SDPTypeOffer); err != nil {
			return err
		}
		r.fire(establish.EventRemoteOffer)
		if err := r.sender.sendAnswer(); err != nil {
			return err
		}
		r.fire(establish.EventLocalDescription)

	case protocol.MsgTypeAnswer:
		if !r.initiator {
			r.log.Warn("ignoring answer: this endpoint is the answerer")
			return nil
		}
		if err := r.setRemote(msg, webrtc.SDPTypeAnswer); err != nil {
			return err
		}
		r.fire(establish.EventRemoteAnswer)

	case protocol.MsgTypeCandidate:
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Payload, &init); err != nil {
			return fmt.Errorf("decode candidate: %w", err)
		}
		r.fire(establish.EventCandidate)
		if !r.peer.HasRemoteDescription() {
			r.pending = append(r.pending, init)
			return nil
		}
		if err := r.peer.AddICECandidate(init); err != nil {
			r.log.Warn("AddICECandidate: %v", err)
		}

	case protocol.MsgTypePeerDisconnected:
		r.log.Info("peer left %s", msg.ConnectionID)
		r.fire(establish.EventPeerLeft)

	case protocol.MsgTypeError:
		r.log.Warn("relay: %s", msg.Message)

	case protocol.MsgTypePong:

	default:
		r.log.Debug("ignoring %s", msg.Type)
	}
	return nil
}

func (r *receiver) setRemote(msg *protocol.Message, want webrtc.SDPType) error {
	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(msg.Payload, &sdp); err != nil {
		return fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	if sdp.Type != want {
		return fmt.Errorf("%s carries SDP type %s", msg.Type, sdp.Type)
	}
	if err := r.peer.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("set remote %s: %w", msg.Type, err)
	}

	for _, c := range r.pending {
		if err := r.peer.AddICECandidate(c); err != nil {
			r.log.Warn("AddICECandidate (queued): %v", err)
		}
	}
	r.pending = nil
	return nil
}

// fire feeds an event to the machine. Rejections after a terminal state
// are expected while the relay connection drains.
func (r *receiver) fire(e establish.Event) {
	if err := r.machine.Fire(e); err != nil {
		r.log.Debug("%v", err)
	}
}
