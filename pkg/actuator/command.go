// Package actuator translates movement intents into commands for the
// remote actuator controller over an unreliable network link.
package actuator

import (
	"time"

	"github.com/google/uuid"
)

// Intent is what the rover's drive should do next.
type Intent string

const (
	// IntentStop halts all movement, including the scan spin.
	IntentStop Intent = "stop"
	// IntentRotate spins the rover in place to scan or to center a target.
	IntentRotate Intent = "rotate"
	// IntentAdvance drives the rover toward the current target.
	IntentAdvance Intent = "advance"
	// IntentHold keeps the rover stationary during the rescue protocol.
	IntentHold Intent = "hold"
)

// Target is a normalized frame-position hint attached to a command so the
// controller can bias its turn direction.
type Target struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Command is a single movement instruction. Each state-machine transition
// creates exactly one; retries reuse the same idempotency token so a
// partially delivered command is safe to resend.
type Command struct {
	Intent   Intent    `json:"intent"`
	Target   *Target   `json:"target,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
	Token    string    `json:"token"`
}

// New creates a command with a fresh idempotency token.
func New(intent Intent) Command {
	return Command{
		Intent:   intent,
		IssuedAt: time.Now(),
		Token:    uuid.NewString(),
	}
}

// NewWithTarget creates a command carrying a target-position hint.
func NewWithTarget(intent Intent, x, y float64) Command {
	cmd := New(intent)
	cmd.Target = &Target{X: x, Y: y}
	return cmd
}
