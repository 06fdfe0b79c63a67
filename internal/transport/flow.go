package transport

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
)

// flushPoll is how often Flush re-checks the buffered amount once it has
// dropped below the low-water mark and no further notifications will fire.
const flushPoll = 20 * time.Millisecond

// flow wires DataChannel backpressure notifications into a coalescing
// signal channel. A pending signal is never lost and never duplicated.
type flow struct {
	drained chan struct{}
}

func newFlow(dc *webrtc.DataChannel, lowWaterMark uint64) *flow {
	f := &flow{drained: make(chan struct{}, 1)}

	dc.SetBufferedAmountLowThreshold(lowWaterMark)
	dc.OnBufferedAmountLow(func() {
		select {
		case f.drained <- struct{}{}:
		default:
		}
	})

	return f
}

// flush blocks until dc has handed every queued byte to the network, the
// channel closes, or ctx is done.
func (f *flow) flush(ctx context.Context, dc *webrtc.DataChannel, done <-chan struct{}) error {
	ticker := time.NewTicker(flushPoll)
	defer ticker.Stop()

	for dc.BufferedAmount() > 0 {
		select {
		case <-ticker.C:
		case <-f.drained:
		case <-done:
			return errClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
