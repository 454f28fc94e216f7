// Package segment assembles captured frames into fixed-duration video
// segments for deep medical analysis.
//
// The recorder consumes a frame stream, seals a segment once the configured
// duration has elapsed, and parks it in a single-slot handoff. Only the
// freshest view of a survivor's condition matters, so an unconsumed segment
// is replaced, never queued behind.
package segment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rescuedyne/go-rover/internal/log"
	"github.com/rescuedyne/go-rover/pkg/frame"
)

// DefaultDuration matches the original five-second recording window.
const DefaultDuration = 5 * time.Second

// Segment is an ordered run of frames spanning the configured duration.
// Sealed segments are immutable and owned by the analysis loop for the
// duration of one analyzer call.
type Segment struct {
	Frames []frame.Frame
	Start  time.Time
	End    time.Time

	// Degraded marks a segment assembled from an incomplete stream
	// (sequence gaps mean the capture side dropped frames on us).
	Degraded bool
}

// Duration returns the time span covered by the segment.
func (s *Segment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Recorder accumulates frames into segments.
type Recorder struct {
	duration time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	latest    *Segment
	sealed    uint64
	discarded uint64

	// open segment under assembly; touched only by Run's goroutine
	open    *Segment
	lastSeq uint64
}

// NewRecorder creates a recorder sealing segments of the given duration.
func NewRecorder(duration time.Duration) *Recorder {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Recorder{
		duration: duration,
		logger:   log.Component("recorder"),
	}
}

// Run consumes the frame stream until the context is cancelled or the
// stream closes. It never blocks the producer; sealing and handoff are
// local operations.
func (r *Recorder) Run(ctx context.Context, frames <-chan frame.Frame) {
	r.logger.Info("segment recorder started", "duration", r.duration)
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			r.ingest(f)
		}
	}
}

func (r *Recorder) ingest(f frame.Frame) {
	if r.open == nil {
		r.begin(f)
		return
	}

	if f.Timestamp.Sub(r.open.Start) >= r.duration {
		r.open.End = f.Timestamp
		r.seal()
		r.begin(f)
		return
	}

	if r.lastSeq != 0 && f.Seq != r.lastSeq+1 {
		r.open.Degraded = true
	}
	r.open.Frames = append(r.open.Frames, f)
	r.open.End = f.Timestamp
	r.lastSeq = f.Seq
}

func (r *Recorder) begin(f frame.Frame) {
	r.open = &Segment{
		Frames: []frame.Frame{f},
		Start:  f.Timestamp,
		End:    f.Timestamp,
	}
	r.lastSeq = f.Seq
}

// seal parks the finished segment in the handoff slot, replacing any
// unconsumed predecessor.
func (r *Recorder) seal() {
	s := r.open
	r.open = nil

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest != nil {
		r.discarded++
		r.logger.Debug("discarding unconsumed segment",
			"frames", len(r.latest.Frames), "discarded_total", r.discarded)
	}
	r.latest = s
	r.sealed++

	if s.Degraded {
		r.logger.Warn("sealed degraded segment",
			"frames", len(s.Frames), "span", s.Duration())
	}
}

// TakeLatest removes and returns the most recent sealed segment, if one is
// waiting. The caller owns the returned segment exclusively.
func (r *Recorder) TakeLatest() (*Segment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return nil, false
	}
	s := r.latest
	r.latest = nil
	return s, true
}

// Stats returns the number of segments sealed and discarded so far.
func (r *Recorder) Stats() (sealed, discarded uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed, r.discarded
}
