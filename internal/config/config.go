// Package config provides the immutable mission configuration for go-rover.
// One Config value is constructed at startup, validated, and passed to each
// component's constructor; no component reads ambient global state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultCameraID          = 0
	DefaultBufferSize        = 30
	DefaultSegmentDuration   = 5 * time.Second
	DefaultMovementFrameRate = 250 * time.Millisecond
	DefaultDetectionInterval = 10 * time.Second

	DefaultConfidenceThreshold = 0.75
	DefaultCenterTolerance     = 0.20 // middle 40% of the frame counts as centered
	DefaultLockCycles          = 3
	DefaultLossCycles          = 8

	DefaultActuatorPort    = "8000"
	DefaultActuatorRetries = 3
	DefaultCameraRetries   = 5

	DefaultDetectTimeout   = 5 * time.Second
	DefaultAnalyzeTimeout  = 30 * time.Second
	DefaultActuatorTimeout = 2 * time.Second

	DefaultDashboardPort  = "8090"
	DefaultStatusInterval = 30 * time.Second
)

// Config holds every tunable for a rescue mission. Construct with FromEnv,
// call Validate before handing it to the orchestrator, then treat it as
// read-only.
type Config struct {
	// Mission identity.
	MissionID string
	RoverName string

	// Camera. If RemoteCameraAddr is set the frames come from a websocket
	// feed instead of a local device.
	CameraID         int
	RemoteCameraAddr string
	BufferSize       int
	CameraRetries    int

	// Cadences.
	SegmentDuration   time.Duration // length of each sealed video segment
	MovementFrameRate time.Duration // fast positional-detection cadence
	DetectionInterval time.Duration // slow deep-analysis cadence

	// Target acquisition.
	ConfidenceThreshold float64
	CenterTolerance     float64 // max distance from frame center, per axis
	LockCycles          int     // consecutive in-band cycles to lock
	LossCycles          int     // consecutive misses before reset to search

	// Actuator controller.
	ActuatorHost    string
	ActuatorPort    string
	ActuatorRetries int

	// External call timeouts. Mandatory; no call may outlive these.
	DetectTimeout   time.Duration
	AnalyzeTimeout  time.Duration
	ActuatorTimeout time.Duration

	// Inference.
	GeminiAPIKey string

	// Dashboard.
	DashboardPort string

	// Housekeeping.
	StatusInterval time.Duration
	LogLevel       string
}

// Default returns a Config with all defaults applied and no mission
// identity. FromEnv starts from this.
func Default() Config {
	return Config{
		MissionID:           "mission_001",
		RoverName:           "RescueBot",
		CameraID:            DefaultCameraID,
		BufferSize:          DefaultBufferSize,
		CameraRetries:       DefaultCameraRetries,
		SegmentDuration:     DefaultSegmentDuration,
		MovementFrameRate:   DefaultMovementFrameRate,
		DetectionInterval:   DefaultDetectionInterval,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		CenterTolerance:     DefaultCenterTolerance,
		LockCycles:          DefaultLockCycles,
		LossCycles:          DefaultLossCycles,
		ActuatorPort:        DefaultActuatorPort,
		ActuatorRetries:     DefaultActuatorRetries,
		DetectTimeout:       DefaultDetectTimeout,
		AnalyzeTimeout:      DefaultAnalyzeTimeout,
		ActuatorTimeout:     DefaultActuatorTimeout,
		DashboardPort:       DefaultDashboardPort,
		StatusInterval:      DefaultStatusInterval,
		LogLevel:            "info",
	}
}

// FromEnv builds a Config from environment variables, starting from the
// defaults. Malformed values are reported as errors rather than silently
// falling back.
func FromEnv() (Config, error) {
	cfg := Default()
	var errs []string

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = f
		}
	}
	seconds := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = time.Duration(f * float64(time.Second))
		}
	}

	str("MISSION_ID", &cfg.MissionID)
	str("ROVER_NAME", &cfg.RoverName)
	integer("BODY_CAMERA_ID", &cfg.CameraID)
	str("REMOTE_CAMERA_ADDR", &cfg.RemoteCameraAddr)
	integer("CAPTURE_BUFFER_SIZE", &cfg.BufferSize)
	seconds("VIDEO_RECORDING_DURATION", &cfg.SegmentDuration)
	seconds("MOVEMENT_FRAME_RATE", &cfg.MovementFrameRate)
	seconds("DETECTION_INTERVAL", &cfg.DetectionInterval)
	float("CONFIDENCE_THRESHOLD", &cfg.ConfidenceThreshold)
	float("CENTER_TOLERANCE", &cfg.CenterTolerance)
	integer("LOCK_CYCLES", &cfg.LockCycles)
	integer("LOSS_CYCLES", &cfg.LossCycles)
	str("ACTUATOR_HOST", &cfg.ActuatorHost)
	str("ACTUATOR_PORT", &cfg.ActuatorPort)
	integer("ACTUATOR_RETRIES", &cfg.ActuatorRetries)
	str("GEMINI_API_KEY", &cfg.GeminiAPIKey)
	str("DASHBOARD_PORT", &cfg.DashboardPort)
	seconds("STATUS_INTERVAL", &cfg.StatusInterval)
	str("LOG_LEVEL", &cfg.LogLevel)

	if len(errs) > 0 {
		return cfg, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// ActuatorURL returns the base URL of the actuator controller.
func (c Config) ActuatorURL() string {
	return fmt.Sprintf("http://%s:%s", c.ActuatorHost, c.ActuatorPort)
}

// Validate checks that the configuration can drive a mission. Invalid
// configuration is a fatal startup error; the orchestrator must not start.
func (c Config) Validate() error {
	var errs []string

	if c.MissionID == "" {
		errs = append(errs, "mission id is required")
	}
	if c.RoverName == "" {
		errs = append(errs, "rover name is required")
	}
	if c.CameraID < 0 {
		errs = append(errs, "camera id must not be negative")
	}
	if c.BufferSize < 1 {
		errs = append(errs, "capture buffer size must be at least 1")
	}
	if c.CameraRetries < 1 {
		errs = append(errs, "camera retries must be at least 1")
	}
	if c.SegmentDuration <= 0 {
		errs = append(errs, "segment duration must be positive")
	}
	if c.MovementFrameRate <= 0 {
		errs = append(errs, "movement frame rate must be positive")
	}
	if c.DetectionInterval <= 0 {
		errs = append(errs, "detection interval must be positive")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, "confidence threshold must be within [0, 1]")
	}
	if c.CenterTolerance <= 0 || c.CenterTolerance > 0.5 {
		errs = append(errs, "center tolerance must be within (0, 0.5]")
	}
	if c.LockCycles < 1 {
		errs = append(errs, "lock cycles must be at least 1")
	}
	if c.LossCycles < 1 {
		errs = append(errs, "loss cycles must be at least 1")
	}
	if c.ActuatorHost == "" {
		errs = append(errs, "actuator host is required")
	}
	if c.ActuatorPort == "" {
		errs = append(errs, "actuator port is required")
	}
	if c.ActuatorRetries < 1 {
		errs = append(errs, "actuator retries must be at least 1")
	}
	if c.DetectTimeout <= 0 || c.AnalyzeTimeout <= 0 || c.ActuatorTimeout <= 0 {
		errs = append(errs, "external call timeouts must be positive")
	}
	if c.StatusInterval <= 0 {
		errs = append(errs, "status interval must be positive")
	}
	if c.GeminiAPIKey == "" {
		errs = append(errs, "GEMINI_API_KEY is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
