// Package mission ties the perception and control components into one
// running rescue mission: it owns the component lifecycle, routes movement
// commands from the acquisition machine to the actuator, and raises the
// rescue protocol when an assessment warrants it.
package mission

import (
	"time"

	"github.com/rescuedyne/go-rover/pkg/analyze"
	"github.com/rescuedyne/go-rover/pkg/detect"
)

// State is a point-in-time snapshot of the mission. It is assembled on
// demand and safe to serialize for the dashboard.
type State struct {
	MissionID string    `json:"mission_id"`
	RoverName string    `json:"rover_name"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`

	Phase string `json:"phase"`
	Held  bool   `json:"held"`

	RescueActive     bool `json:"rescue_active"`
	ActuatorDegraded bool `json:"actuator_degraded"`
	CaptureDegraded  bool `json:"capture_degraded"`

	LastDetection  detect.Result       `json:"last_detection"`
	LastAssessment *analyze.Assessment `json:"last_assessment,omitempty"`

	DetectionTicks    uint64 `json:"detection_ticks"`
	DetectionFailures uint64 `json:"detection_failures"`
	Scans             uint64 `json:"scans"`
	ScanFailures      uint64 `json:"scan_failures"`
	SurvivorsSeen     uint64 `json:"survivors_seen"`
	SegmentsSealed    uint64 `json:"segments_sealed"`
	SegmentsDiscarded uint64 `json:"segments_discarded"`
	CommandsSent      uint64 `json:"commands_sent"`
	CommandsFailed    uint64 `json:"commands_failed"`
	CommandsDropped   uint64 `json:"commands_dropped"`
}

// EventKind labels entries on the mission event feed.
type EventKind string

const (
	EventState         EventKind = "state"
	EventDetection     EventKind = "detection"
	EventAssessment    EventKind = "assessment"
	EventRescueTrigger EventKind = "rescue_trigger"
	EventDegraded      EventKind = "degraded"
	EventShutdown      EventKind = "shutdown"
)

// Event is one entry on the mission feed. Exactly one of the payload
// pointers is set depending on Kind.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`

	Detection  *detect.Result      `json:"detection,omitempty"`
	Assessment *analyze.Assessment `json:"assessment,omitempty"`
	State      *State              `json:"state,omitempty"`
}
