// Package web serves the mission dashboard: current state and recent
// events over REST, live event and camera feeds over websockets.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/rescuedyne/go-rover/internal/log"
	"github.com/rescuedyne/go-rover/pkg/hub"
	"github.com/rescuedyne/go-rover/pkg/mission"
)

// MissionView is the read-only slice of the orchestrator the dashboard
// needs.
type MissionView interface {
	Snapshot() mission.State
	Recent() []mission.Event
}

// Server is the dashboard HTTP and websocket server. Feeds are best
// effort; a browser that misses events catches up from /api/state.
type Server struct {
	app    *fiber.App
	port   string
	view   MissionView
	logger *slog.Logger

	events *hub.Hub
	camera *hub.Hub
}

// NewServer creates the dashboard server for one mission.
func NewServer(port string, view MissionView) *Server {
	s := &Server{
		port:   port,
		view:   view,
		logger: log.Component("web"),
		events: hub.New("events"),
		camera: hub.New("camera"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Rover Mission Dashboard",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/events", s.handleEvents)
	api.Get("/health", s.handleHealth)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	s.app = app
	return s
}

// EventSink returns the hub the orchestrator publishes mission events to.
func (s *Server) EventSink() *hub.Hub {
	return s.events
}

// PublishFrame forwards a JPEG frame to connected camera viewers.
func (s *Server) PublishFrame(jpeg []byte) {
	s.camera.BroadcastBinary(jpeg)
}

// Run serves the dashboard until ctx is cancelled, then shuts down
// gracefully. Listen errors are returned; shutdown is not an error.
func (s *Server) Run(ctx context.Context) error {
	go s.events.Run(ctx)
	go s.camera.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "port", s.port)
		errc <- s.app.Listen(":" + s.port)
	}()

	select {
	case <-ctx.Done():
		return s.app.Shutdown()
	case err := <-errc:
		return err
	}
}
