package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"fixedswap/services/swapd/api"
)

const wsWriteTimeout = 10 * time.Second

// Handler serves the event stream over a websocket. The optional "cursor"
// query parameter resumes after a previously seen sequence.
func (h *Hub) Handler(originPatterns ...string) http.Handler {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "stream closed")
		// Reads are only needed to observe client close frames.
		ctx := conn.CloseRead(r.Context())
		if err := h.stream(ctx, conn, cursor); err != nil {
			if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
				slog.Debug("event stream terminated", "error", err)
				_ = conn.Close(websocket.StatusInternalError, "stream error")
			}
		}
	})
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, cursor string) error {
	updates, cancel, backlog := h.Subscribe(ctx, cursor)
	defer cancel()

	for _, event := range backlog {
		if err := writeEvent(ctx, conn, event); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEvent(ctx, conn, event); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event api.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
