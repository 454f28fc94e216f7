package analyze

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rescuedyne/go-rover/internal/log"
	"github.com/rescuedyne/go-rover/pkg/segment"
)

// SegmentTaker is the narrow slice of the recorder this loop needs.
type SegmentTaker interface {
	TakeLatest() (*segment.Segment, bool)
}

// Loop runs deep analysis on the slow cadence, independent of the
// positional loop. Each tick takes the latest sealed segment if one is
// waiting, submits it to the analyzer with a bounded timeout, and hands
// any assessment to the handler. Analyzer failures mean "no new
// assessment"; they never halt the loop or the mission.
type Loop struct {
	interval time.Duration
	timeout  time.Duration
	segments SegmentTaker
	analyzer Analyzer
	handle   func(Assessment)
	logger   *slog.Logger

	scans     atomic.Uint64
	failures  atomic.Uint64
	survivors atomic.Uint64
}

// NewLoop creates the deep-analysis loop. handle is invoked from the
// loop's own goroutine, one call at a time.
func NewLoop(interval, timeout time.Duration, segments SegmentTaker, analyzer Analyzer, handle func(Assessment)) *Loop {
	return &Loop{
		interval: interval,
		timeout:  timeout,
		segments: segments,
		analyzer: analyzer,
		handle:   handle,
		logger:   log.Component("analysis-loop"),
	}
}

// Run ticks until the context is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("deep analysis loop started",
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
	seg, ok := l.segments.TakeLatest()
	if !ok {
		// No sealed segment yet; next tick will try again.
		return
	}
	scan := l.scans.Add(1)

	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	assessment, err := l.analyzer.Analyze(cctx, seg)
	cancel()

	if err != nil {
		l.failures.Add(1)
		l.logger.Warn("analyzer call failed, no new assessment",
			"scan", scan, "frames", len(seg.Frames), "error", err)
		return
	}

	if assessment.SurvivorsDetected {
		l.survivors.Add(uint64(assessment.SurvivorCount))
	}
	l.logger.Info("assessment received",
		"scan", scan, "survivors", assessment.SurvivorCount,
		"priority", assessment.RescuePriority, "degraded_segment", seg.Degraded)
	l.handle(assessment)
}

// Stats returns scans completed, analyzer failures, and survivors seen.
func (l *Loop) Stats() (scans, failures, survivors uint64) {
	return l.scans.Load(), l.failures.Load(), l.survivors.Load()
}
