package detect

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rescuedyne/go-rover/internal/log"
	"github.com/rescuedyne/go-rover/pkg/frame"
)

// FrameGetter is the narrow slice of the frame source this loop needs.
type FrameGetter interface {
	Latest() (frame.Frame, bool)
}

// Loop runs positional detection on the fast cadence. Each tick reads the
// latest frame, submits it to the detector with a bounded timeout, and
// hands the result to the handler strictly in tick order. A tick with no
// frame is skipped silently; a detector failure is logged and handled as
// target-absent. Nothing here can stall the loop beyond one timeout.
type Loop struct {
	interval time.Duration
	timeout  time.Duration
	frames   FrameGetter
	detector Detector
	handle   func(Result)
	logger   *slog.Logger

	ticks    atomic.Uint64
	failures atomic.Uint64
}

// NewLoop creates the fast detection loop. handle is invoked from the
// loop's own goroutine, one call at a time.
func NewLoop(interval, timeout time.Duration, frames FrameGetter, detector Detector, handle func(Result)) *Loop {
	return &Loop{
		interval: interval,
		timeout:  timeout,
		frames:   frames,
		detector: detector,
		handle:   handle,
		logger:   log.Component("detect-loop"),
	}
}

// Run ticks until the context is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("positional detection loop started",
		"interval", l.interval, "timeout", l.timeout)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	f, ok := l.frames.Latest()
	if !ok {
		// Camera warming up; not an error.
		return
	}
	l.ticks.Add(1)

	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	res, err := l.detector.Detect(cctx, f)
	cancel()

	if err != nil {
		l.failures.Add(1)
		l.logger.Warn("detector call failed, treating as target absent",
			"seq", f.Seq, "error", err)
		l.handle(Absent(f.Timestamp))
		return
	}

	l.logger.Debug("detection result",
		"present", res.TargetPresent, "confidence", res.Confidence,
		"x", res.X, "y", res.Y, "centered", res.Centered)
	l.handle(res)
}

// Stats returns the number of completed ticks and detector failures.
func (l *Loop) Stats() (ticks, failures uint64) {
	return l.ticks.Load(), l.failures.Load()
}
