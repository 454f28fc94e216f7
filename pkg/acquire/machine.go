// Package acquire converts positional detection results into movement
// commands via a target-acquisition state machine.
//
// The machine is the single owner of its tracking state. It is fed exactly
// once per fast-loop cycle, in tick order, and emits at most what the
// triggering transition requires: phase changes and course corrections
// produce one command each, steady state produces none.
package acquire

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rescuedyne/go-rover/internal/log"
	"github.com/rescuedyne/go-rover/pkg/actuator"
	"github.com/rescuedyne/go-rover/pkg/detect"
)

// Phase is the target-acquisition phase.
type Phase int

const (
	// Searching spins the rover scanning for a target.
	Searching Phase = iota
	// Centering turns toward a detected target until it sits in the
	// tolerance band around frame center.
	Centering
	// Locked holds one cycle with the target centered; the scan spin is
	// stopped here.
	Locked
	// Approaching drives toward the locked target.
	Approaching
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case Searching:
		return "searching"
	case Centering:
		return "centering"
	case Locked:
		return "locked"
	case Approaching:
		return "approaching"
	default:
		return "unknown"
	}
}

// Config holds the acquisition tunables.
type Config struct {
	// ConfidenceThreshold gates every cycle. Results below it count as
	// misses and never produce commands, whatever the current phase.
	ConfidenceThreshold float64

	// CenterTolerance is the per-axis distance from (0.5, 0.5) within
	// which a target counts as centered.
	CenterTolerance float64

	// DriftTolerance is the per-axis position change below which a cycle
	// counts as steady state and emits nothing.
	DriftTolerance float64

	// LockCycles is how many consecutive in-band cycles lock the target
	// when the detector itself does not assert its centered signal.
	LockCycles int

	// LossCycles is how many consecutive misses reset any phase back to
	// Searching.
	LossCycles int
}

// DefaultConfig returns the recommended acquisition tuning.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.75,
		CenterTolerance:     0.20,
		DriftTolerance:      0.05,
		LockCycles:          3,
		LossCycles:          8,
	}
}

// State is a read-only snapshot of the tracking state.
type State struct {
	Phase         Phase
	Last          detect.Result
	LockStreak    int
	MissStreak    int
	Held          bool
	LastCommandAt time.Time
}

// Machine is the target-acquisition state machine.
type Machine struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	phase      Phase
	last       detect.Result
	lockStreak int
	missStreak int
	held       bool
	lastCmdAt  time.Time
}

// New creates a machine in the Searching phase.
func New(cfg Config) *Machine {
	return &Machine{
		cfg:    cfg,
		logger: log.Component("acquire"),
	}
}

// Observe evaluates one detection cycle and returns the commands the
// resulting transition requires, in dispatch order. Most cycles return
// nothing.
func (m *Machine) Observe(res detect.Result) []actuator.Command {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held {
		m.last = res
		return nil
	}

	// Confidence gating happens on every cycle, not only at phase entry.
	if !res.TargetPresent || res.Confidence < m.cfg.ConfidenceThreshold {
		return m.miss(res)
	}

	m.missStreak = 0
	defer func() { m.last = res }()

	switch m.phase {
	case Searching:
		m.transition(Centering, res)
		return m.emit(actuator.NewWithTarget(actuator.IntentRotate, res.X, res.Y))

	case Centering:
		if m.lockReady(res) {
			m.lockStreak = 0
			m.transition(Locked, res)
			return m.emit(actuator.New(actuator.IntentStop))
		}
		if m.drifted(res) {
			return m.emit(actuator.NewWithTarget(actuator.IntentRotate, res.X, res.Y))
		}
		return nil

	case Locked:
		// One cycle after lock: stop-spin already issued, now advance.
		m.transition(Approaching, res)
		return m.emit(actuator.NewWithTarget(actuator.IntentAdvance, res.X, res.Y))

	case Approaching:
		if m.drifted(res) {
			return m.emit(actuator.NewWithTarget(actuator.IntentAdvance, res.X, res.Y))
		}
		return nil
	}
	return nil
}

// miss handles an absent or below-threshold cycle. No command is ever
// emitted from a low-confidence result; the reset to Searching emits the
// resume-scan rotation once the loss budget is exhausted.
func (m *Machine) miss(res detect.Result) []actuator.Command {
	m.lockStreak = 0
	m.missStreak++
	m.last = res

	if m.phase != Searching && m.missStreak >= m.cfg.LossCycles {
		m.missStreak = 0
		m.transition(Searching, res)
		return m.emit(actuator.New(actuator.IntentRotate))
	}
	return nil
}

// lockReady reports whether this cycle locks the target: either the
// detector asserts its own centered signal, or the position has stayed in
// the tolerance band for the configured run of cycles.
func (m *Machine) lockReady(res detect.Result) bool {
	if res.Centered {
		return true
	}
	if m.inBand(res) {
		m.lockStreak++
	} else {
		m.lockStreak = 0
	}
	return m.lockStreak >= m.cfg.LockCycles
}

func (m *Machine) inBand(res detect.Result) bool {
	return math.Abs(res.X-0.5) <= m.cfg.CenterTolerance &&
		math.Abs(res.Y-0.5) <= m.cfg.CenterTolerance
}

func (m *Machine) drifted(res detect.Result) bool {
	return math.Abs(res.X-m.last.X) > m.cfg.DriftTolerance ||
		math.Abs(res.Y-m.last.Y) > m.cfg.DriftTolerance
}

func (m *Machine) transition(to Phase, res detect.Result) {
	m.logger.Info("phase transition",
		"from", m.phase.String(), "to", to.String(),
		"confidence", res.Confidence, "x", res.X, "y", res.Y)
	m.phase = to
}

func (m *Machine) emit(cmds ...actuator.Command) []actuator.Command {
	m.lastCmdAt = time.Now()
	return cmds
}

// ForceHold freezes the machine for the rescue protocol and returns the
// hold command to dispatch. While held, Observe records results but
// neither transitions nor emits.
func (m *Machine) ForceHold() actuator.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = true
	m.logger.Info("acquisition held for rescue protocol", "phase", m.phase.String())
	return m.emit(actuator.New(actuator.IntentHold))[0]
}

// Resume lifts a hold and restarts the search.
func (m *Machine) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = false
	m.phase = Searching
	m.lockStreak = 0
	m.missStreak = 0
}

// State returns a snapshot of the tracking state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Phase:         m.phase,
		Last:          m.last,
		LockStreak:    m.lockStreak,
		MissStreak:    m.missStreak,
		Held:          m.held,
		LastCommandAt: m.lastCmdAt,
	}
}
