package frame

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gocv.io/x/gocv"

	"github.com/rescuedyne/go-rover/internal/log"
)

// CameraSource captures frames from a local video device via OpenCV.
// It owns the device exclusively for the life of the mission.
type CameraSource struct {
	*fanout

	deviceID int
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	capture *gocv.VideoCapture
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewCameraSource creates a camera source for the given device id.
func NewCameraSource(deviceID int, opts Options) *CameraSource {
	opts = opts.withDefaults()
	return &CameraSource{
		fanout:   newFanout(opts.BufferSize, "camera"),
		deviceID: deviceID,
		opts:     opts,
		logger:   log.Component("camera"),
	}
}

// Start acquires the camera, retrying with bounded exponential backoff, and
// launches the capture loop. A returned error is fatal for the mission.
func (s *CameraSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("frame: camera source already started")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.opts.AcquireRetries-1)),
		ctx,
	)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		cap, err := s.acquire()
		if err != nil {
			s.logger.Warn("camera acquisition failed",
				"device", s.deviceID, "attempt", attempt, "error", err)
			return err
		}
		s.capture = cap
		return nil
	}, policy)
	if err != nil {
		return fmt.Errorf("%w: device %d after %d attempts: %v",
			ErrCameraUnavailable, s.deviceID, attempt, err)
	}

	s.logger.Info("camera acquired", "device", s.deviceID,
		"buffer", s.opts.BufferSize, "interval", s.opts.CaptureInterval)

	s.done = make(chan struct{})
	s.started = true
	s.wg.Add(1)
	go s.captureLoop(ctx)
	return nil
}

// misreadLimit is how many consecutive failed reads the loop tolerates
// before it gives up on the handle and reopens the device.
const misreadLimit = 150

// reacquire drops a wedged capture handle and reopens the device with the
// same backoff budget as Start. Called only from captureLoop, which is the
// sole owner of s.capture while running, so no lock is taken here; Close
// waits for the loop to exit before touching the handle. Returns false when
// the loop should stop, recording a terminal failure unless the source is
// shutting down.
func (s *CameraSource) reacquire(ctx context.Context) bool {
	s.logger.Warn("camera wedged, reacquiring", "device", s.deviceID)
	s.capture.Close()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.opts.AcquireRetries-1)),
		ctx,
	)
	var cap *gocv.VideoCapture
	err := backoff.Retry(func() error {
		c, aerr := s.acquire()
		if aerr != nil {
			s.logger.Warn("camera reacquisition failed", "device", s.deviceID, "error", aerr)
			return aerr
		}
		cap = c
		return nil
	}, policy)
	if err != nil {
		select {
		case <-s.done:
			return false
		default:
		}
		if ctx.Err() != nil {
			return false
		}
		s.fail(fmt.Errorf("frame: camera reacquisition exhausted on device %d: %w", s.deviceID, err))
		return false
	}

	s.capture = cap
	s.logger.Info("camera reacquired", "device", s.deviceID)
	return true
}

// acquire opens the device and verifies one frame can be read.
func (s *CameraSource) acquire() (*gocv.VideoCapture, error) {
	cap, err := gocv.OpenVideoCapture(s.deviceID)
	if err != nil {
		return nil, fmt.Errorf("open device %d: %w", s.deviceID, err)
	}

	img := gocv.NewMat()
	defer img.Close()
	if ok := cap.Read(&img); !ok || img.Empty() {
		cap.Close()
		return nil, fmt.Errorf("device %d opened but cannot capture", s.deviceID)
	}
	return cap, nil
}

func (s *CameraSource) captureLoop(ctx context.Context) {
	defer s.wg.Done()

	img := gocv.NewMat()
	defer img.Close()

	ticker := time.NewTicker(s.opts.CaptureInterval)
	defer ticker.Stop()

	misreads := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
		}

		if ok := s.capture.Read(&img); !ok || img.Empty() {
			misreads++
			if misreads == 1 || misreads%50 == 0 {
				s.logger.Warn("frame read failed", "device", s.deviceID, "misreads", misreads)
			}
			if misreads < misreadLimit {
				continue
			}
			if !s.reacquire(ctx) {
				return
			}
			misreads = 0
			continue
		}
		misreads = 0

		buf, err := gocv.IMEncode(".jpg", img)
		if err != nil {
			s.logger.Warn("frame encode failed", "error", err)
			continue
		}
		// GetBytes returns memory owned by buf; copy before it is closed
		// so published frames stay immutable.
		data := make([]byte, len(buf.GetBytes()))
		copy(data, buf.GetBytes())
		buf.Close()

		s.publish(data, time.Now())
	}
}

// Close stops the capture loop and releases the camera device.
func (s *CameraSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false

	close(s.done)
	s.wg.Wait()
	s.closeSubscribers()

	err := s.capture.Close()
	s.capture = nil
	s.logger.Info("camera released", "device", s.deviceID)
	return err
}

var _ Source = (*CameraSource)(nil)
