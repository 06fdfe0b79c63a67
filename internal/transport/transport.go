// Package transport wraps a pion PeerConnection and its single negotiated
// DataChannel behind the message-channel contract used by the transfer
// protocol.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/drop/internal/transfer"
	"github.com/1ureka/drop/internal/util"
)

var errClosed = errors.New("transport closed")

// Options tune the transport. Zero values select the defaults; see
// newPeerConnection for how ICEServers is interpreted.
type Options struct {
	ICEServers   []string
	LowWaterMark uint64
	Loopback     bool // offer loopback host candidates, for peers on the same machine
}

// Transport wraps a single PeerConnection + DataChannel pair, providing the
// negotiation surface used by signaling and the transfer.Channel contract
// used once the channel is open.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time. PeerConnection state changes are forwarded to the
// registered listener but never close the transport on their own.
type Transport struct {
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel
	flow *flow
	log  util.Logger

	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
	onState func(webrtc.PeerConnectionState)
	onClose func()

	// Inbound messages are held in backlog until OnMessage attaches a
	// handler; deliverMu keeps them in arrival order across the handover.
	deliverMu sync.Mutex
	onMessage func(transfer.Message)
	backlog   []transfer.Message
}

var _ transfer.Channel = (*Transport)(nil)

// NewTransport creates a Transport backed by a new PeerConnection and a
// pre-negotiated DataChannel. The caller performs negotiation through
// CreateOffer / CreateAnswer / … and then moves data with Send / OnMessage.
func NewTransport(ctx context.Context, opts Options) (*Transport, error) {
	if opts.LowWaterMark == 0 {
		opts.LowWaterMark = transfer.DefaultLowWaterMark
	}

	pc, err := newPeerConnection(opts.ICEServers, opts.Loopback)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	tCtx, tCancel := context.WithCancel(ctx)

	t := &Transport{
		pc:         pc,
		dc:         dc,
		flow:       newFlow(dc, opts.LowWaterMark),
		log:        util.NewLogger("transport"),
		openSignal: make(chan struct{}),
		ctx:        tCtx,
		cancel:     tCancel,
		pcState:    webrtc.PeerConnectionStateNew,
	}

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		t.log.Debug("DataChannel open")
		openOnce.Do(func() { close(t.openSignal) })
	})

	// DC close → cancel transport context.
	dc.OnClose(func() {
		t.log.Debug("DataChannel closed")
		tCancel()

		t.mu.RLock()
		fn := t.onClose
		t.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})

	dc.OnMessage(t.deliver)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.log.Debug("PeerConnection state: %s", state)

		t.mu.Lock()
		t.pcState = state
		fn := t.onState
		t.mu.Unlock()

		if fn != nil {
			fn(state)
		}
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open.
func (t *Transport) Ready() <-chan struct{} {
	return t.openSignal
}

// Done returns a channel that is closed when the Transport is shut down
// (DataChannel closed or parent context cancelled).
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down the DataChannel and PeerConnection. In-flight sends are
// abandoned.
func (t *Transport) Close() error {
	t.cancel()
	return errors.Join(t.dc.Close(), t.pc.Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// OnConnectionStateChange registers fn to receive every PeerConnection
// state change. Only one listener is kept.
func (t *Transport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

// OnChannelClose registers fn to run once the DataChannel closes.
func (t *Transport) OnChannelClose(fn func()) {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// HasRemoteDescription reports whether a remote SDP has been applied.
func (t *Transport) HasRemoteDescription() bool {
	return t.pc.RemoteDescription() != nil
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *Transport) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// IsOpen reports whether the DataChannel is open for sending.
func (t *Transport) IsOpen() bool {
	return t.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Send queues a binary message.
func (t *Transport) Send(data []byte) error {
	return t.dc.Send(data)
}

// SendText queues a text message.
func (t *Transport) SendText(text string) error {
	return t.dc.SendText(text)
}

// BufferedAmount returns the number of bytes queued but not yet sent.
func (t *Transport) BufferedAmount() uint64 {
	return t.dc.BufferedAmount()
}

// Drained receives a value whenever the buffered amount falls below the
// low-water mark.
func (t *Transport) Drained() <-chan struct{} {
	return t.flow.drained
}

// Flush blocks until every queued byte has left the buffer. Call it before
// Close so the peer receives the tail of the last file.
func (t *Transport) Flush(ctx context.Context) error {
	return t.flow.flush(ctx, t.dc, t.Done())
}

// OnMessage registers a callback invoked for every inbound DataChannel
// message, in arrival order. Messages that arrived before the first call are
// replayed to fn before it returns. fn must not call OnMessage.
func (t *Transport) OnMessage(fn func(transfer.Message)) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.onMessage = fn
	backlog := t.backlog
	t.backlog = nil
	for _, m := range backlog {
		fn(m)
	}
}

func (t *Transport) deliver(msg webrtc.DataChannelMessage) {
	m := transfer.Message{Data: msg.Data, IsText: msg.IsString}

	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	if t.onMessage == nil {
		t.backlog = append(t.backlog, m)
		return
	}
	t.onMessage(m)
}
