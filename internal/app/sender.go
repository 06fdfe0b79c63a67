package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/drop/internal/config"
	"github.com/1ureka/drop/internal/signaling"
	"github.com/1ureka/drop/internal/transfer"
	"github.com/1ureka/drop/internal/util"
)

// lingerTimeout is how long the sender keeps the session open after the
// last byte left its buffer, giving the receiver time to drain the link
// and hang up first.
var lingerTimeout = 5 * time.Second

// RunSender orchestrates the sender lifecycle:
//  1. Open every file (fail before touching the network)
//  2. Resolve the relay and register a session
//  3. Print the connection id for the receiver
//  4. Wait for the direct channel
//  5. Send the files in order with per-file progress
//  6. Flush, linger, and close
func RunSender(ctx context.Context, cfg config.Config) error {
	// ── 1. Open files ──────────────────────────────────────────────────
	files := make([]transfer.File, 0, len(cfg.Files))
	for _, path := range cfg.Files {
		f, fh, err := transfer.OpenFile(path)
		if err != nil {
			return err
		}
		defer fh.Close()
		files = append(files, f)
	}

	// ── 2. Relay ───────────────────────────────────────────────────────
	relayURL, err := resolveRelay(ctx, cfg.RelayURL)
	if err != nil {
		return err
	}

	// ── 3–4. Session ───────────────────────────────────────────────────
	opts := signalingOptions(cfg, relayURL)
	opts.OnRegistered = printConnectionID

	session, err := signaling.EstablishAsSender(ctx, opts)
	if err != nil {
		return fmt.Errorf("establish session: %w", err)
	}
	defer session.Close()
	onEstablished(session)
	util.LogSuccess("direct channel open, sending %d file(s)", len(files))

	// ── 5. Send ────────────────────────────────────────────────────────
	// A session that fails mid-transfer does not always close the channel,
	// so sends are also bound to the session's end.
	sendCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-session.Ended():
			stop()
		case <-sendCtx.Done():
		}
	}()

	tx := transfer.NewSender(session.Transport, transfer.Options{
		ChunkSize:    cfg.ChunkSize,
		LowWaterMark: cfg.LowWaterMark,
	})

	for _, f := range files {
		bar := newProgressBar(f.Name)
		err := tx.SendFile(sendCtx, f, bar.set)
		bar.stop()

		if err != nil {
			return fmt.Errorf("send %s: %w", f.Name, sendError(ctx, session, err))
		}
		util.LogSuccess("sent %s (%s)", f.Name, util.FormatBytes(float64(f.Size)))
	}

	// ── 6. Drain and close ─────────────────────────────────────────────
	if err := session.Transport.Flush(sendCtx); err != nil {
		return fmt.Errorf("flush: %w", sendError(ctx, session, err))
	}
	waitOrLinger(ctx, session.Ended(), lingerTimeout)
	if err := session.Err(); err != nil {
		return fmt.Errorf("session lost: %w", err)
	}
	return nil
}

// sendError explains why a send stopped: a failed session, a peer that left
// (which also cancels sends), or err itself.
func sendError(ctx context.Context, session *signaling.Session, err error) error {
	if serr := session.Err(); serr != nil {
		return fmt.Errorf("session lost: %w", serr)
	}
	select {
	case <-session.Ended():
		if ctx.Err() == nil {
			return fmt.Errorf("peer went away: %w", transfer.ErrTransferInterrupted)
		}
	default:
	}
	if errors.Is(err, transfer.ErrTransferInterrupted) {
		return fmt.Errorf("peer went away: %w", err)
	}
	return err
}

func printConnectionID(id string) {
	pterm.Println()
	pterm.DefaultBox.
		WithTitle("Connection ID").
		Println(pterm.Bold.Sprint(id))
	pterm.Println()
	pterm.Info.Println("share this id with the receiver: drop -role receive -id " + id)
}
