package frame

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/rescuedyne/go-rover/internal/log"
)

// RemoteSource receives frames from a detached vision unit over a websocket
// feed. Each binary message is one encoded JPEG frame. Used on rover builds
// where the camera hangs off a separate board instead of the main computer.
type RemoteSource struct {
	*fanout

	url    string
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewRemoteSource creates a source reading ws://addr/stream.
func NewRemoteSource(addr string, opts Options) *RemoteSource {
	opts = opts.withDefaults()
	return &RemoteSource{
		fanout: newFanout(opts.BufferSize, "remote-camera"),
		url:    fmt.Sprintf("ws://%s/stream", addr),
		opts:   opts,
		logger: log.Component("remote-camera"),
	}
}

// Start connects to the feed, retrying with bounded exponential backoff, and
// launches the read loop. A returned error is fatal for the mission.
func (s *RemoteSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("frame: remote source already started")
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCameraUnavailable, s.url, err)
	}
	s.conn = conn
	s.logger.Info("remote camera connected", "url", s.url)

	s.done = make(chan struct{})
	s.started = true
	s.wg.Add(1)
	go s.readLoop(ctx)
	return nil
}

func (s *RemoteSource) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.opts.AcquireRetries-1)),
		ctx,
	)

	var conn *websocket.Conn
	err := backoff.Retry(func() error {
		c, _, err := dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Warn("remote camera dial failed", "url", s.url, "error", err)
			return err
		}
		conn = c
		return nil
	}, policy)
	return conn, err
}

func (s *RemoteSource) readLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closing() {
				return
			}
			s.logger.Warn("remote camera read failed, reconnecting", "error", err)
			conn, derr := s.dial(ctx)
			if derr != nil {
				if s.closing() || ctx.Err() != nil {
					return
				}
				s.fail(fmt.Errorf("frame: remote camera reconnect exhausted: %w", derr))
				return
			}
			s.mu.Lock()
			s.conn = conn
			s.mu.Unlock()
			continue
		}
		if msgType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		s.publish(data, time.Now())
	}
}

func (s *RemoteSource) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close stops the read loop and closes the connection.
func (s *RemoteSource) Close() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.done)
	err := s.conn.Close()
	s.mu.Unlock()

	s.wg.Wait()
	s.closeSubscribers()
	return err
}

var _ Source = (*RemoteSource)(nil)
