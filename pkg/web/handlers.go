package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/rescuedyne/go-rover/pkg/hub"
	"github.com/rescuedyne/go-rover/pkg/mission"
)

// handleState returns the current mission snapshot.
func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.view.Snapshot())
}

// handleEvents returns the recent event ring, oldest first.
func (s *Server) handleEvents(c *fiber.Ctx) error {
	events := s.view.Recent()
	if events == nil {
		events = []mission.Event{}
	}
	return c.JSON(events)
}

// handleHealth is a liveness probe that also reports degradation.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	snap := s.view.Snapshot()
	status := "ok"
	if snap.ActuatorDegraded || snap.CaptureDegraded {
		status = "degraded"
	}
	return c.JSON(fiber.Map{
		"status":            status,
		"mission_id":        snap.MissionID,
		"uptime":            snap.Uptime,
		"actuator_degraded": snap.ActuatorDegraded,
		"capture_degraded":  snap.CaptureDegraded,
	})
}

// handleEventsWS streams mission events. Recent history is replayed on
// connect so a fresh browser tab has context.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	for _, ev := range s.view.Recent() {
		if err := c.WriteJSON(ev); err != nil {
			c.Close()
			return
		}
	}
	hub.NewClient(s.events, c).Run()
}

// handleCameraWS streams live JPEG frames.
func (s *Server) handleCameraWS(c *websocket.Conn) {
	hub.NewClient(s.camera, c).Run()
}
