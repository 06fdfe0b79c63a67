package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/1ureka/drop/internal/protocol"
	"github.com/1ureka/drop/internal/util"
)

// Flow-control defaults.
const (
	DefaultChunkSize    = 256 * 1024 // bytes per binary chunk
	DefaultLowWaterMark = 64 * 1024  // pause while more than this is buffered
)

// Options tune the sender. Zero values select the defaults.
type Options struct {
	ChunkSize    int
	LowWaterMark uint64
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.LowWaterMark == 0 {
		o.LowWaterMark = DefaultLowWaterMark
	}
	return o
}

// Sender pushes files over a Channel, one at a time.
type Sender struct {
	ch   Channel
	opts Options
	log  util.Logger

	mu sync.Mutex // one file producing chunks at a time
}

// NewSender creates a sender bound to ch.
func NewSender(ch Channel, opts Options) *Sender {
	return &Sender{
		ch:   ch,
		opts: opts.withDefaults(),
		log:  util.NewLogger("sender"),
	}
}

// SendFile transmits f: file-info, then chunks in order, then file-complete.
// It returns once file-complete has been handed to the channel. A channel
// that closes before that fails the call with ErrTransferInterrupted; the
// receiver never sees a file-complete for it.
func (s *Sender) SendFile(ctx context.Context, f File, onProgress ProgressFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ch.IsOpen() {
		return ErrChannelNotOpen
	}

	log := s.log.With("file", f.Name)
	log.Debug("sending %d bytes (%s)", f.Size, f.MIMEType)

	if err := s.ch.SendText(protocol.EncodeFrame(protocol.FileInfo(f.Name, f.MIMEType, f.Size))); err != nil {
		return s.interrupted(err)
	}

	p := newProgress(onProgress)
	buf := make([]byte, s.opts.ChunkSize)
	var sent int64

	for {
		n, readErr := io.ReadFull(f.Reader, buf)

		if n > 0 {
			if err := s.waitWritable(ctx); err != nil {
				return err
			}

			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := s.ch.Send(chunk); err != nil {
				return s.interrupted(err)
			}

			sent += int64(n)
			util.Stats.AddSent(n)
			p.report(p.update(sent, f.Size))
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read %s: %w", f.Name, readErr)
		}
	}

	if err := s.ch.SendText(protocol.EncodeFrame(protocol.FileComplete())); err != nil {
		return s.interrupted(err)
	}

	// Empty files and files shorter than declared still finish at 100.
	p.report(p.update(1, 1))
	log.Debug("sent %d bytes", sent)
	return nil
}

// SendFiles sends files sequentially, stopping at the first failure.
func (s *Sender) SendFiles(ctx context.Context, files []File, onProgress func(f File, percent int)) error {
	for _, f := range files {
		var fn ProgressFunc
		if onProgress != nil {
			f := f
			fn = func(pct int) { onProgress(f, pct) }
		}
		if err := s.SendFile(ctx, f, fn); err != nil {
			return fmt.Errorf("send %s: %w", f.Name, err)
		}
	}
	return nil
}

// waitWritable is the sender's only suspension point: while the channel
// buffers more than the low-water mark, wait for its drained notification.
func (s *Sender) waitWritable(ctx context.Context) error {
	for s.ch.BufferedAmount() > s.opts.LowWaterMark {
		select {
		case <-s.ch.Drained():
		case <-s.ch.Done():
			return ErrTransferInterrupted
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case <-s.ch.Done():
		return ErrTransferInterrupted
	default:
		return nil
	}
}

func (s *Sender) interrupted(err error) error {
	if errors.Is(err, ErrTransferInterrupted) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransferInterrupted, err)
}
