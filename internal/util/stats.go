package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/connection counter.
var Stats = &stats{}

type stats struct {
	ActiveConns atomic.Int64 // signaling connections currently open
	TotalConns  atomic.Int64 // cumulative signaling connections accepted
	Relayed     atomic.Int64 // cumulative negotiation messages forwarded
	BytesSent   atomic.Int64 // cumulative bytes written to the DataChannel
	BytesRecv   atomic.Int64 // cumulative bytes read from the DataChannel
}

func (s *stats) AddConn() {
	s.TotalConns.Add(1)
	s.ActiveConns.Add(1)
}

func (s *stats) RemoveConn()   { s.ActiveConns.Add(-1) }
func (s *stats) AddRelayed()   { s.Relayed.Add(1) }
func (s *stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs statistics every
// interval, only when something changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevSent, prevRecv, prevTotal, prevRelayed int64
		for {
			select {
			case <-ticker.C:
				total := Stats.TotalConns.Load()
				relayed := Stats.Relayed.Load()
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()

				secs := interval.Seconds()
				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs

				if total != prevTotal || relayed != prevRelayed || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, Stats.ActiveConns.Load(), relayed-prevRelayed))
				}

				prevSent = sent
				prevRecv = recv
				prevTotal = total
				prevRelayed = relayed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes formats a byte count with a fixed width of 8 characters,
// e.g. "99.0   B", " 1.5 KiB", "98.9 GiB".
func FormatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

func formatStats(inS, outS float64, active, relayed int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Conn: %3d | Relayed: %4d",
		FormatBytes(inS),
		FormatBytes(outS),
		active,
		relayed,
	)
}
