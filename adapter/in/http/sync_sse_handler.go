package http

import (
	"bufio"
	"time"

	"mailsync_server/adapter/out/realtime"
	"mailsync_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// SSEHandler handles Server-Sent Events connections. Sync progress and
// notification events stream to the browser through here.
type SSEHandler struct {
	hub *realtime.SSEHub
	log zerolog.Logger
}

// NewSSEHandler creates a new SSE handler.
func NewSSEHandler(hub *realtime.SSEHub, log zerolog.Logger) *SSEHandler {
	return &SSEHandler{
		hub: hub,
		log: log.With().Str("handler", "sse").Logger(),
	}
}

// Register registers SSE routes.
func (h *SSEHandler) Register(router fiber.Router) {
	router.Get("/events", h.Stream)
}

// Stream handles SSE connections.
func (h *SSEHandler) Stream(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	userIDStr := userID.String()
	client := h.hub.CreateClient(userIDStr)

	h.log.Info().
		Str("user_id", userIDStr).
		Msg("SSE client connected")

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no") // disable nginx buffering

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(client.HeartbeatInterval())
		defer ticker.Stop()
		defer func() {
			client.Close()
			h.log.Info().
				Str("user_id", userIDStr).
				Msg("SSE client disconnected")
		}()

		// Initial connection event
		w.WriteString("event: connected\n")
		w.WriteString("data: {\"status\":\"connected\"}\n\n")
		w.Flush()

		for {
			select {
			case event, ok := <-client.Events:
				if !ok {
					return
				}

				data, err := realtime.SerializeEvent(event)
				if err != nil {
					h.log.Error().Err(err).Msg("failed to serialize event")
					continue
				}

				w.WriteString("event: ")
				w.WriteString(string(event.Type))
				w.WriteString("\n")
				w.WriteString("data: ")
				w.Write(data)
				w.WriteString("\n\n")

				if err := w.Flush(); err != nil {
					h.log.Debug().Err(err).Msg("client disconnected during write")
					return
				}

			case <-ticker.C:
				w.WriteString(": heartbeat\n\n")
				if err := w.Flush(); err != nil {
					h.log.Debug().Err(err).Msg("client disconnected during heartbeat")
					return
				}

			case <-client.Done:
				return
			}
		}
	})

	return nil
}
