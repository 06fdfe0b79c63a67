package transfer

import (
	"errors"
	"sync"
)

var errStubClosed = errors.New("stub channel closed")

// stubChannel is an in-memory Channel. Every sent message is recorded and,
// when deliver is set, handed to it synchronously. With autoDrain the
// buffered amount returns to zero after every send (an unthrottled link);
// otherwise it accumulates until drain is called.
type stubChannel struct {
	mu        sync.Mutex
	open      bool
	autoDrain bool
	buffered  uint64
	sent      []Message
	deliver   func(Message)

	drained   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newStubChannel(deliver func(Message)) *stubChannel {
	return &stubChannel{
		open:      true,
		autoDrain: true,
		deliver:   deliver,
		drained:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (c *stubChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *stubChannel) Send(data []byte) error {
	return c.push(Message{Data: data})
}

func (c *stubChannel) SendText(text string) error {
	return c.push(Message{Data: []byte(text), IsText: true})
}

func (c *stubChannel) push(msg Message) error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return errStubClosed
	}
	c.sent = append(c.sent, msg)
	if !c.autoDrain {
		c.buffered += uint64(len(msg.Data))
	}
	deliver := c.deliver
	c.mu.Unlock()

	if deliver != nil {
		deliver(msg)
	}
	return nil
}

func (c *stubChannel) BufferedAmount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *stubChannel) Drained() <-chan struct{} { return c.drained }
func (c *stubChannel) Done() <-chan struct{}    { return c.done }

// drain empties the buffer and fires the drained notification.
func (c *stubChannel) drain() {
	c.mu.Lock()
	c.buffered = 0
	c.mu.Unlock()

	select {
	case c.drained <- struct{}{}:
	default:
	}
}

func (c *stubChannel) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.open = false
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *stubChannel) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}
