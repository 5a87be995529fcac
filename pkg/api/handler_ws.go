package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
)

// wsHandler handles GET /ws?tags=a,b: upgrades to WebSocket and streams
// bus notifications matching the tag filter (any-match; no tags means
// everything) as JSON text messages until the client disconnects. It is a
// plain http.HandlerFunc because the upgrade hijacks the connection.
func (s *Server) wsHandler(w http.ResponseWriter, req *http.Request) {
	if s.opts.Receiver == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "notification stream not available"})
		return
	}

	var tags []string
	if raw := req.URL.Query().Get("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := req.Context()
	notifications, err := s.opts.Receiver.Receive(ctx, tags...)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}

	// Reads are discarded; a read error means the client went away and
	// cancels the subscription context.
	ctx = conn.CloseRead(ctx)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case n, ok := <-notifications:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				slog.Warn("Failed to marshal notification for WebSocket client",
					"type", n.Env().Type,
					"error", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
