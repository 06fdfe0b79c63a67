package transfer

import (
	"fmt"
	"sync"

	"github.com/1ureka/drop/internal/protocol"
	"github.com/1ureka/drop/internal/util"
)

// incoming is the accumulation state of the file currently being received.
type incoming struct {
	name     string
	mimeType string
	size     int64
	received int64
	chunks   [][]byte
	progress *progress
}

// Receiver reassembles files from channel messages. Only one file is
// accumulated at a time: a new file-info discards any unfinished one.
type Receiver struct {
	onComplete func(ReceivedFile)
	onProgress ProgressFunc
	log        util.Logger

	mu  sync.Mutex
	cur *incoming
}

// NewReceiver creates a receiver. onComplete is called once per completed
// file; onProgress may be nil.
func NewReceiver(onComplete func(ReceivedFile), onProgress ProgressFunc) *Receiver {
	return &Receiver{
		onComplete: onComplete,
		onProgress: onProgress,
		log:        util.NewLogger("receiver"),
	}
}

// ProcessMessage feeds one channel message. Malformed frames and orphan
// chunks are logged and dropped; the returned error is informational and
// never corrupts the state of the file in progress.
func (r *Receiver) ProcessMessage(msg Message) error {
	if !msg.IsText {
		return r.processChunk(msg.Data)
	}

	frame, err := protocol.DecodeFrame(msg.Data)
	if err != nil {
		r.log.Error("dropping frame: %v", err)
		return err
	}

	switch frame.Type {
	case protocol.FrameFileInfo:
		r.begin(frame)
		return nil
	default:
		return r.complete()
	}
}

func (r *Receiver) begin(f *protocol.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cur != nil {
		r.log.Warn("discarding unfinished %s (%d/%d bytes)", r.cur.name, r.cur.received, r.cur.size)
	}
	r.cur = &incoming{
		name:     f.Name,
		mimeType: f.MIMEType,
		size:     f.Size,
		progress: newProgress(r.onProgress),
	}
	r.log.Debug("receiving %s (%d bytes, %s)", f.Name, f.Size, f.MIMEType)
}

func (r *Receiver) processChunk(data []byte) error {
	r.mu.Lock()
	cur := r.cur
	if cur == nil {
		r.mu.Unlock()
		err := fmt.Errorf("%w: dropping %d-byte chunk", ErrNoActiveTransfer, len(data))
		r.log.Error("%v", err)
		return err
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)
	cur.chunks = append(cur.chunks, chunk)
	cur.received += int64(len(chunk))
	pct := cur.progress.update(cur.received, cur.size)
	r.mu.Unlock()

	util.Stats.AddRecv(len(data))
	cur.progress.report(pct)
	return nil
}

func (r *Receiver) complete() error {
	r.mu.Lock()
	cur := r.cur
	if cur == nil {
		r.mu.Unlock()
		err := fmt.Errorf("%w: ignoring file-complete", ErrNoActiveTransfer)
		r.log.Error("%v", err)
		return err
	}
	r.cur = nil

	data := make([]byte, 0, cur.received)
	for _, c := range cur.chunks {
		data = append(data, c...)
	}
	pct := cur.progress.update(1, 1)
	r.mu.Unlock()

	cur.progress.report(pct)
	r.log.Debug("received %s (%d bytes)", cur.name, len(data))

	if r.onComplete != nil {
		r.onComplete(ReceivedFile{Name: cur.name, MIMEType: cur.mimeType, Data: data})
	}
	return nil
}

// Reset discards any file in progress. Completed files are unaffected.
func (r *Receiver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur = nil
}

// Pending reports the file currently being accumulated, if any.
func (r *Receiver) Pending() (name string, received, size int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return "", 0, 0, false
	}
	return r.cur.name, r.cur.received, r.cur.size, true
}
