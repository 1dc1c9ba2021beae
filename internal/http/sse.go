package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/conceptd/internal/bus"
)

// handleEvents streams session lifecycle events via Server-Sent Events.
//
// The handler subscribes to the session's subject space on the event
// bus and forwards each event to the client. The connection stays open
// until the client disconnects; terminal session events (abandoned)
// close the stream.
//
// Example:
//
//	GET /api/v1/sessions/{id}/events
//
//	event: turn_applied
//	data: {"version":3,"deltas":[...],"readiness":0.5}
//
//	event: phase_advanced
//	data: {"from":"LEVEL_1_FOUNDATION","to":"LEVEL_2_STRESS_TEST",...}
func (s *Server) handleEvents(c echo.Context) error {
	sessionID := c.Param("id")

	if _, err := s.engine.Info(c.Request().Context(), sessionID); err != nil {
		return s.mapError(c, err)
	}
	if s.eventBus == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream is not available")
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	msgChan := make(chan *nats.Msg, 16)
	sub, err := s.eventBus.Conn().ChanSubscribe(bus.SessionWildcard(sessionID), msgChan)
	if err != nil {
		return err
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	s.metrics.StreamOpened(c)
	defer s.metrics.StreamClosed(c)

	// Heartbeat ticker to prevent proxy timeouts
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			eventType := bus.EventFromSubject(msg.Subject)
			if eventType == "" {
				continue
			}

			fmt.Fprintf(c.Response(), "event: %s\n", eventType)
			fmt.Fprintf(c.Response(), "data: %s\n\n", string(msg.Data))
			c.Response().Flush()

			if eventType == bus.EventAbandoned {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}
