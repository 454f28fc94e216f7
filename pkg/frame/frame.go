// Package frame provides continuous frame acquisition for the rover.
//
// A Source owns exactly one camera and publishes timestamped, sequence
// numbered frames two ways: a fixed-capacity ring for consumers that only
// ever want the most recent frame (the positional detection loop), and
// per-subscriber stream channels for consumers that assemble segments and
// must know when they fall behind. Frames are immutable once published.
package frame

import (
	"context"
	"errors"
	"time"
)

// Frame is one captured camera image. The payload is an encoded JPEG and is
// never mutated after publication; consumers share it read-only.
type Frame struct {
	Seq       uint64
	Data      []byte
	Timestamp time.Time
}

// Source produces frames from a camera.
type Source interface {
	// Start acquires the camera and begins continuous capture on its own
	// goroutine. Acquisition failures are retried with bounded exponential
	// backoff; a returned error means the camera is permanently unavailable
	// and the mission cannot run.
	Start(ctx context.Context) error

	// Latest returns the most recent frame without blocking.
	Latest() (Frame, bool)

	// Stream subscribes a named consumer to the live frame feed. The
	// returned cancel func must be called when the consumer is done.
	Stream(name string) (<-chan Frame, func())

	// Degraded reports whether any stream subscriber has fallen behind and
	// had frames dropped since start, or whether capture has stopped.
	Degraded() bool

	// Done is closed if capture stops permanently after a successful
	// Start: the device died or the remote feed could not be re-reached
	// within the retry budget. A clean Close does not close it.
	Done() <-chan struct{}

	// Err reports the terminal capture failure, if any.
	Err() error

	// Close stops capture and releases the camera.
	Close() error
}

// ErrCameraUnavailable is returned by Start when the camera could not be
// acquired within the configured retry budget.
var ErrCameraUnavailable = errors.New("frame: camera unavailable")

// Options configure a Source.
type Options struct {
	// BufferSize is the ring capacity. When full, the oldest frame is
	// overwritten first.
	BufferSize int

	// CaptureInterval paces the capture loop. Zero means the 10 FPS
	// default.
	CaptureInterval time.Duration

	// AcquireRetries bounds camera acquisition attempts before Start fails.
	AcquireRetries int
}

// Defaults for Options.
const (
	DefaultBufferSize      = 30
	DefaultCaptureInterval = 100 * time.Millisecond
	DefaultAcquireRetries  = 5
)

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.CaptureInterval <= 0 {
		o.CaptureInterval = DefaultCaptureInterval
	}
	if o.AcquireRetries <= 0 {
		o.AcquireRetries = DefaultAcquireRetries
	}
	return o
}
