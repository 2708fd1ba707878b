// Package progress reports the throughput of long running copies.
package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// DefaultInterval is how often a running Tracker logs.
const DefaultInterval = time.Second

// Tracker counts bytes passed through its Writer and logs the progress
// periodically while it runs.
type Tracker struct {
	log      logrus.FieldLogger
	total    uint64
	interval time.Duration
	quiet    bool

	processed atomic.Uint64
	startTime time.Time

	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

// New returns a Tracker for a transfer of total bytes. A total of zero
// means the size is unknown.
func New(log logrus.FieldLogger, total uint64) *Tracker {
	return &Tracker{
		log:      log,
		total:    total,
		interval: DefaultInterval,
	}
}

// SetInterval changes the logging interval. It has no effect once started.
func (t *Tracker) SetInterval(d time.Duration) {
	if d > 0 {
		t.interval = d
	}
}

// SetQuiet disables the periodic messages; the final summary is still logged.
func (t *Tracker) SetQuiet(quiet bool) {
	t.quiet = quiet
}

// Start launches the periodic logger. Calling Start twice is a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done != nil {
		return
	}

	t.startTime = time.Now()
	t.done = make(chan struct{})
	t.stopped = make(chan struct{})
	go t.logger()
}

// Stop ends the periodic logger and logs a summary.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done == nil {
		return
	}

	close(t.done)
	<-t.stopped
	t.done = nil
}

// AddBytes adds processed bytes to the counter.
func (t *Tracker) AddBytes(n uint64) {
	if n > 0 {
		t.processed.Add(n)
	}
}

// Processed returns the number of bytes counted so far.
func (t *Tracker) Processed() uint64 {
	return t.processed.Load()
}

// Writer wraps w so that every byte written to it is counted.
func (t *Tracker) Writer(w io.Writer) io.Writer {
	return &Writer{W: w, t: t}
}

// formatRate returns a human-readable rate string
func formatRate(bytesPerSec uint64) string {
	return humanize.IBytes(bytesPerSec) + "/s"
}

// formatETA returns the time left at the current rate.
func formatETA(remaining, rate uint64) string {
	if rate == 0 {
		return "calculating..."
	}

	secondsRemaining := float64(remaining) / float64(rate)
	if secondsRemaining < 60 {
		return fmt.Sprintf("%.0f seconds", secondsRemaining)
	} else if secondsRemaining < 3600 {
		return fmt.Sprintf("%.1f minutes", secondsRemaining/60)
	}
	return fmt.Sprintf("%.1f hours", secondsRemaining/3600)
}

// fields describes the current progress for a log line.
func (t *Tracker) fields(current, rate uint64) logrus.Fields {
	fields := logrus.Fields{
		"done": humanize.IBytes(current),
		"rate": formatRate(rate),
	}
	if t.total > 0 {
		remaining := uint64(0)
		if current < t.total {
			remaining = t.total - current
		}
		fields["total"] = humanize.IBytes(t.total)
		fields["percent"] = fmt.Sprintf("%.1f%%", float64(current)/float64(t.total)*100)
		fields["eta"] = formatETA(remaining, rate)
	}
	return fields
}

// logger logs processing progress periodically
func (t *Tracker) logger() {
	defer close(t.stopped)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var prevBytes uint64
	for {
		select {
		case <-ticker.C:
			currentBytes := t.processed.Load()
			rate := uint64(float64(currentBytes-prevBytes) / t.interval.Seconds())
			prevBytes = currentBytes
			if !t.quiet {
				t.log.WithFields(t.fields(currentBytes, rate)).Info("progress")
			}
		case <-t.done:
			totalTime := time.Since(t.startTime).Seconds()
			if totalTime < 0.001 {
				totalTime = 0.001
			}
			total := t.processed.Load()
			t.log.WithFields(logrus.Fields{
				"done":     humanize.IBytes(total),
				"elapsed":  fmt.Sprintf("%.1fs", totalTime),
				"avg_rate": formatRate(uint64(float64(total) / totalTime)),
			}).Info("completed")
			return
		}
	}
}

// Writer is a writer that tracks bytes written for progress reporting
type Writer struct {
	W io.Writer
	t *Tracker
}

// Write implements io.Writer and tracks bytes written
func (pw *Writer) Write(p []byte) (n int, err error) {
	n, err = pw.W.Write(p)
	if n > 0 {
		pw.t.AddBytes(uint64(n))
	}
	return
}
