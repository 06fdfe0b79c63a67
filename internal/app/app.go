// Package app contains the top-level orchestration for the send and receive
// roles: it resolves the relay, establishes the direct session and moves
// files between disk and the transfer protocol.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/drop/internal/config"
	"github.com/1ureka/drop/internal/discovery"
	"github.com/1ureka/drop/internal/signaling"
	"github.com/1ureka/drop/internal/transport"
	"github.com/1ureka/drop/internal/util"
)

// resolveRelay returns the relay WebSocket URL: the configured one, or the
// first relay advertised on the local network.
func resolveRelay(ctx context.Context, raw string) (string, error) {
	if raw != "" {
		return config.NormalizeWSURL(raw)
	}

	util.LogInfo("no relay given, searching the local network...")
	relay, err := discovery.Discover(ctx, discovery.Config{})
	if err != nil {
		return "", fmt.Errorf("discover relay: %w", err)
	}
	util.LogInfo("using relay %q at %s", relay.Instance, relay.URL)
	return relay.URL, nil
}

// onEstablished runs once a runner's session is up, before any file moves.
var onEstablished = func(*signaling.Session) {}

func signalingOptions(cfg config.Config, relayURL string) signaling.Options {
	return signaling.Options{
		RelayURL:     relayURL,
		ConnectionID: cfg.ConnectionID,
		Transport: transport.Options{
			ICEServers:   cfg.ICEServers,
			LowWaterMark: cfg.LowWaterMark,
			Loopback:     cfg.Loopback,
		},
	}
}

// progressBar renders one file's progress. Percentages arrive already
// deduplicated and increasing.
type progressBar struct {
	bar  *pterm.ProgressbarPrinter
	last int
}

func newProgressBar(title string) *progressBar {
	bar, err := pterm.DefaultProgressbar.
		WithTotal(100).
		WithTitle(title).
		WithShowElapsedTime(true).
		Start()
	if err != nil {
		util.LogDebug("progress bar unavailable: %v", err)
		return &progressBar{}
	}
	return &progressBar{bar: bar}
}

func (p *progressBar) set(pct int) {
	if p.bar == nil || pct <= p.last {
		return
	}
	p.bar.Add(pct - p.last)
	p.last = pct
}

func (p *progressBar) stop() {
	if p.bar != nil {
		p.bar.Stop()
	}
}

// waitOrLinger blocks until done closes, ctx ends, or d elapses.
func waitOrLinger(ctx context.Context, done <-chan struct{}, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-done:
	case <-ctx.Done():
	case <-timer.C:
	}
}
