// Package util provides logging and process-wide traffic counters.
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

// Stats is the process-wide control-channel counter set.
var Stats = &stats{}

type stats struct {
	FramesRecv      atomic.Int64 // datagrams read from the datagram transport
	FramesAccepted  atomic.Int64 // frames parsed into a command and queued
	FramesStale     atomic.Int64 // frames dropped by the sequence validator
	FramesMalformed atomic.Int64 // frames discarded as undecodable
	StreamRecv      atomic.Int64 // commands decoded from the reliable stream
	DeviceSent      atomic.Int64 // device messages written to the reliable stream
	BytesRecv       atomic.Int64 // bytes read from the datagram transport
	BytesSent       atomic.Int64 // bytes written to either transport
}

func (s *stats) AddFrame(n int) {
	s.FramesRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddAccepted()   { s.FramesAccepted.Add(1) }
func (s *stats) AddStale()      { s.FramesStale.Add(1) }
func (s *stats) AddMalformed()  { s.FramesMalformed.Add(1) }
func (s *stats) AddStreamRecv() { s.StreamRecv.Add(1) }
func (s *stats) AddSent(n int)  { s.BytesSent.Add(int64(n)) }

func (s *stats) AddDeviceSent(n int) {
	s.DeviceSent.Add(1)
	s.BytesSent.Add(int64(n))
}

// snapshot is a point-in-time copy used by the reporter.
type snapshot struct {
	frames, accepted, stale, malformed, stream, sent int64
	bytesIn, bytesOut                                int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		frames:    s.FramesRecv.Load(),
		accepted:  s.FramesAccepted.Load(),
		stale:     s.FramesStale.Load(),
		malformed: s.FramesMalformed.Load(),
		stream:    s.StreamRecv.Load(),
		sent:      s.DeviceSent.Load(),
		bytesIn:   s.BytesRecv.Load(),
		bytesOut:  s.BytesSent.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs control-channel statistics
// every interval. Quiet intervals are skipped. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := Stats.snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur, prev, interval))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders the delta between two snapshots as one log line.
func formatStats(cur, prev snapshot, interval time.Duration) string {
	secs := interval.Seconds()
	return fmt.Sprintf("In: %s/s | Out: %s/s | UDP: %d ok %d stale %d bad | Stream: %d | Sent: %d",
		formatBytes(float64(cur.bytesIn-prev.bytesIn)/secs),
		formatBytes(float64(cur.bytesOut-prev.bytesOut)/secs),
		cur.accepted-prev.accepted,
		cur.stale-prev.stale,
		cur.malformed-prev.malformed,
		cur.stream-prev.stream,
		cur.sent-prev.sent,
	)
}
