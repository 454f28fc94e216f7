// Package detect provides the fast positional survivor-detection loop.
//
// The external positional detector is only specified by its call contract:
// given one frame it reports whether a target is present, where it sits in
// the frame, and how confident it is. Failures and timeouts are treated as
// "target absent" so the control loop never stalls on the network.
package detect

import (
	"context"
	"errors"
	"time"

	"github.com/rescuedyne/go-rover/pkg/frame"
)

// Result is one positional detection. Produced once per detector call and
// never mutated.
type Result struct {
	// TargetPresent reports whether a survivor is visible at all.
	TargetPresent bool

	// X, Y is the target's normalized frame position, each in [0, 1] with
	// (0.5, 0.5) at frame center. Only meaningful when TargetPresent.
	X, Y float64

	// Confidence in [0, 1].
	Confidence float64

	// Centered is the detector's own "locked" signal: the target is
	// clearly detected and close enough to frame center to engage.
	Centered bool

	// Position is the detector's free-text location description.
	Position string

	// Timestamp of the source frame.
	Timestamp time.Time
}

// Absent returns a target-absent result for the given frame time. Used when
// the detector errors or times out.
func Absent(ts time.Time) Result {
	return Result{Timestamp: ts}
}

// Detector is the external positional detector contract.
type Detector interface {
	Detect(ctx context.Context, f frame.Frame) (Result, error)
}

// ErrMalformedResponse is returned when the detector's output cannot be
// parsed into a Result. Callers treat it like any other detector failure.
var ErrMalformedResponse = errors.New("detect: malformed detector response")
