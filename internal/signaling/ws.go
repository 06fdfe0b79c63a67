package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/drop/internal/protocol"
	"github.com/1ureka/drop/internal/util"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	inboxSize    = 32
)

var errConnectionLost = errors.New("relay connection lost")

// conn is the endpoint side of a relay connection. Decoded messages are
// delivered on inbox by a single reader goroutine; writes are serialized
// by a mutex.
type conn struct {
	ws  *websocket.Conn
	log util.Logger

	mu sync.Mutex

	inbox   chan *protocol.Message
	readErr chan error

	done      chan struct{}
	closeOnce sync.Once
}

// dial connects to the relay's WebSocket endpoint and starts reading.
func dial(ctx context.Context, url string) (*conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to relay %s: %w", url, err)
	}

	c := &conn{
		ws:      ws,
		log:     util.NewLogger("signaling"),
		inbox:   make(chan *protocol.Message, inboxSize),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *conn) readLoop() {
	defer close(c.inbox)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readErr <- err
			return
		}

		msg, err := protocol.DecodeMessage(data)
		if err != nil {
			c.log.Warn("ignoring relay message: %v", err)
			continue
		}
		select {
		case c.inbox <- msg:
		case <-c.done:
			return
		}
	}
}

// send writes msg to the relay.
func (c *conn) send(msg *protocol.Message) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// next returns the next relay message. It fails when the connection ends
// or ctx is done.
func (c *conn) next(ctx context.Context) (*protocol.Message, error) {
	select {
	case msg, ok := <-c.inbox:
		if !ok {
			return nil, c.err()
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// err returns why the read loop stopped. Only valid after inbox is closed.
func (c *conn) err() error {
	select {
	case err := <-c.readErr:
		c.readErr <- err
		return fmt.Errorf("%w: %v", errConnectionLost, err)
	default:
		return errConnectionLost
	}
}

// keepalive pings the relay until ctx is done so idle sessions survive
// proxies that reap quiet connections.
func (c *conn) keepalive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.send(&protocol.Message{Type: protocol.MsgTypePing}); err != nil {
				c.log.Debug("keepalive stopped: %v", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// close sends a normal closure and tears the connection down. Only the
// first call has any effect.
func (c *conn) close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		err = c.ws.Close()
	})
	return err
}
