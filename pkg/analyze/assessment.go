// Package analyze provides the slow deep-analysis loop.
//
// The external medical analyzer consumes a sealed video segment and returns
// a structured assessment of any survivors in view. As with the positional
// detector, failures are absorbed: a failed analysis means "no new
// assessment", never a stalled loop.
package analyze

import (
	"context"
	"errors"
	"time"

	"github.com/rescuedyne/go-rover/pkg/segment"
)

// Urgency grades one survivor's condition.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Priority is the overall rescue priority of an assessment.
type Priority string

const (
	PriorityNone     Priority = "none"
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether p is at least as severe as other.
func (p Priority) AtLeast(other Priority) bool {
	return p.rank() >= other.rank()
}

// Survivor is one detected person.
type Survivor struct {
	Position   string  `json:"position"`
	Condition  string  `json:"condition"`
	Urgency    Urgency `json:"urgency"`
	Confidence float64 `json:"confidence"`
}

// Assessment is the medical analyzer's verdict on one video segment.
// Produced once per analysis call and never mutated.
type Assessment struct {
	SurvivorsDetected bool       `json:"survivors_detected"`
	SurvivorCount     int        `json:"survivor_count"`
	Description       string     `json:"description"`
	Survivors         []Survivor `json:"survivors"`
	RescuePriority    Priority   `json:"rescue_priority"`
	RecommendedAction string     `json:"recommended_action"`
	Timestamp         time.Time  `json:"timestamp"`
}

// Analyzer is the external deep-analysis contract.
type Analyzer interface {
	Analyze(ctx context.Context, seg *segment.Segment) (Assessment, error)
}

// ErrMalformedResponse is returned when the analyzer's output cannot be
// parsed into an Assessment.
var ErrMalformedResponse = errors.New("analyze: malformed analyzer response")
