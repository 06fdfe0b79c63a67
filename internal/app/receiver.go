package app

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/1ureka/drop/internal/config"
	"github.com/1ureka/drop/internal/signaling"
	"github.com/1ureka/drop/internal/transfer"
	"github.com/1ureka/drop/internal/util"
)

// RunReceiver orchestrates the receiver lifecycle:
//  1. Prepare the output directory
//  2. Resolve the relay and join the session
//  3. Reassemble incoming files and write each one on completion
//  4. Return when the sender leaves or ctx is cancelled
//
// It returns the paths written, in arrival order.
func RunReceiver(ctx context.Context, cfg config.Config) ([]string, error) {
	// ── 1. Output ──────────────────────────────────────────────────────
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	// ── 2. Session ─────────────────────────────────────────────────────
	relayURL, err := resolveRelay(ctx, cfg.RelayURL)
	if err != nil {
		return nil, err
	}

	util.LogInfo("joining session %s...", cfg.ConnectionID)
	session, err := signaling.EstablishAsReceiver(ctx, signalingOptions(cfg, relayURL))
	if err != nil {
		return nil, fmt.Errorf("establish session: %w", err)
	}
	defer session.Close()
	onEstablished(session)
	util.LogSuccess("direct channel open, waiting for files")

	// ── 3. Receive ─────────────────────────────────────────────────────
	sink := &fileSink{dir: cfg.OutputDir}
	rx := transfer.NewReceiver(sink.complete, sink.progress)
	sink.rx = rx

	session.Transport.OnMessage(func(m transfer.Message) {
		// Errors are logged by the receiver and never poison the next file.
		rx.ProcessMessage(m)
	})

	// ── 4. Wait ────────────────────────────────────────────────────────
	select {
	case <-session.Ended():
		if session.Err() == nil {
			util.LogInfo("sender left the session")
		}
	case <-ctx.Done():
	}

	if name, got, size, ok := rx.Pending(); ok {
		util.LogWarning("discarding incomplete %s (%s of %s)", name,
			util.FormatBytes(float64(got)), util.FormatBytes(float64(size)))
	}
	rx.Reset()
	sink.finish()

	if err := session.Err(); err != nil {
		return sink.written(), fmt.Errorf("session lost: %w", err)
	}
	return sink.written(), sink.err()
}

// fileSink writes completed files to disk and drives their progress bars.
// Receiver callbacks arrive on the DataChannel's delivery goroutine.
type fileSink struct {
	dir string
	rx  *transfer.Receiver

	mu       sync.Mutex
	bar      *progressBar
	paths    []string
	firstErr error
}

func (s *fileSink) progress(pct int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bar == nil {
		name, _, _, _ := s.rx.Pending()
		s.bar = newProgressBar(name)
	}
	s.bar.set(pct)
}

func (s *fileSink) complete(f transfer.ReceivedFile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bar != nil {
		s.bar.stop()
		s.bar = nil
	}

	path, err := saveFile(s.dir, f.Name, f.Data)
	if err != nil {
		util.LogError("save %s: %v", f.Name, err)
		if s.firstErr == nil {
			s.firstErr = err
		}
		return
	}

	s.paths = append(s.paths, path)
	util.LogSuccess("received %s (%s, %s)", path, util.FormatBytes(float64(len(f.Data))), f.MIMEType)
}

func (s *fileSink) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar != nil {
		s.bar.stop()
		s.bar = nil
	}
}

func (s *fileSink) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func (s *fileSink) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}
