package mission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rescuedyne/go-rover/internal/log"
	"github.com/rescuedyne/go-rover/pkg/analyze"
)

// RescueProtocol is the external collaborator that takes over once the
// rover has found and held position near a survivor. Execute blocks until
// the handoff is complete or the context is cancelled.
type RescueProtocol interface {
	Execute(ctx context.Context, assessment analyze.Assessment) error
}

// LogProtocol is the default protocol: it narrates the handoff sequence
// to the mission log. Supply deployment, two-way voice and base-station
// links are carried by separate hardware; this side only has to hold
// position and hand over the assessment.
type LogProtocol struct {
	logger *slog.Logger
}

// NewLogProtocol creates the logging rescue protocol.
func NewLogProtocol() *LogProtocol {
	return &LogProtocol{logger: log.Component("rescue")}
}

// Execute narrates the rescue handoff for one assessment.
func (p *LogProtocol) Execute(ctx context.Context, assessment analyze.Assessment) error {
	steps := []string{
		"position held, stabilizing for rescue operations",
		fmt.Sprintf("relaying assessment: %d survivor(s), priority %s",
			assessment.SurvivorCount, assessment.RescuePriority),
		"deploying medical supply package",
		"opening two-way voice channel to survivor",
		"reporting location and condition to base station",
		"rescue team dispatched, holding position until arrival",
	}

	for i, step := range steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.logger.Info("rescue protocol",
			"step", i+1, "of", len(steps), "action", step)
	}

	for _, s := range assessment.Survivors {
		p.logger.Info("survivor briefed to rescue team",
			"position", s.Position, "condition", s.Condition,
			"urgency", s.Urgency, "confidence", s.Confidence)
	}
	return nil
}
