package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/1ureka/drop/internal/protocol"
	"github.com/1ureka/drop/internal/registry"
	"github.com/1ureka/drop/internal/util"
)

const (
	outboxSize   = 64               // per-endpoint outgoing message capacity
	writeTimeout = 10 * time.Second // per-message write deadline
	maxFrameSize = 64 * 1024        // inbound signaling message limit
)

// endpoint is one live signaling connection. Writes are serialized through
// a single writer goroutine fed by a bounded outbox; enqueueing never blocks,
// so a slow member cannot stall fan-out to others.
type endpoint struct {
	id      string
	addr    string
	conn    *websocket.Conn
	limiter *rate.Limiter
	log     util.Logger

	mu   sync.Mutex
	role registry.Role

	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newEndpoint(conn *websocket.Conn, addr string, limiter *rate.Limiter) *endpoint {
	id := uuid.NewString()
	return &endpoint{
		id:      id,
		addr:    addr,
		conn:    conn,
		limiter: limiter,
		log:     util.NewLogger("relay").With("endpoint", id[:8], "addr", addr),
		outbox:  make(chan []byte, outboxSize),
		done:    make(chan struct{}),
	}
}

// ID implements registry.Endpoint.
func (e *endpoint) ID() string { return e.id }

func (e *endpoint) setRole(role registry.Role) {
	e.mu.Lock()
	e.role = role
	e.mu.Unlock()
}

func (e *endpoint) Role() registry.Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// enqueue hands raw bytes to the writer. It reports false when the endpoint
// is closed or its outbox is full; the message is then dropped.
func (e *endpoint) enqueue(data []byte) bool {
	select {
	case <-e.done:
		return false
	default:
	}

	select {
	case e.outbox <- data:
		return true
	default:
		e.log.Warn("outbox full, dropping message")
		return false
	}
}

// send encodes and enqueues a relay-originated message.
func (e *endpoint) send(msg *protocol.Message) {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		e.log.Error("%v", err)
		return
	}
	e.enqueue(data)
}

// sendError reports err back to this endpoint only.
func (e *endpoint) sendError(err error) {
	e.send(&protocol.Message{Type: protocol.MsgTypeError, Message: err.Error()})
}

// writeLoop is the single writer for the connection. It exits when the
// endpoint is closed or a write fails.
func (e *endpoint) writeLoop() {
	for {
		select {
		case data := <-e.outbox:
			e.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := e.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				e.log.Debug("write failed: %v", err)
				e.close()
				return
			}
		case <-e.done:
			return
		}
	}
}

// close releases the connection exactly once; the blocked reader then
// returns and the server runs disconnect cleanup.
func (e *endpoint) close() {
	e.closeOnce.Do(func() {
		close(e.done)
		e.conn.Close()
	})
}

// reject sends a terminal close frame with code and closes conn. Used for
// admission and origin rejections before an endpoint exists.
func reject(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}
