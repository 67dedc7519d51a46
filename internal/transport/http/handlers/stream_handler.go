package handlers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/internal/infrastructure/logger"
)

const streamWriteTimeout = 10 * time.Second

// StreamHandler pushes a run's events over a websocket: first the backlog,
// then live events until the run finishes or the client goes away.
type StreamHandler struct {
	runs   ports.RunService
	logger *logger.Logger
}

func NewStreamHandler(runs ports.RunService, logger *logger.Logger) *StreamHandler {
	return &StreamHandler{runs: runs, logger: logger}
}

func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	id := c.Params("id")
	events, backlog, cancel, err := h.runs.Subscribe(id)
	if err != nil {
		h.logger.Warnw("stream_run_not_found", "run_id", id)
		_ = c.WriteJSON(map[string]string{"error": "run not found"})
		return
	}
	defer cancel()

	h.logger.Infow("stream_opened", "run_id", id, "backlog", len(backlog))

	// Reads only detect the client closing the connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, ev := range backlog {
		if err := h.write(c, ev); err != nil {
			return
		}
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				h.logger.Infow("stream_run_finished", "run_id", id)
				_ = c.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				return
			}
			if err := h.write(c, ev); err != nil {
				return
			}
		case <-closed:
			h.logger.Infow("stream_client_closed", "run_id", id)
			return
		}
	}
}

func (h *StreamHandler) write(c *websocket.Conn, ev domain.RunEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_ = c.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.logger.Warnw("stream_write_failed", "error", err)
		return err
	}
	return nil
}
