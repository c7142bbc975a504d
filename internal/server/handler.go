// Package server binds dialogue sessions to WebSocket connections.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ashureev/kempenbot/internal/session"
	"github.com/ashureev/kempenbot/internal/wire"
)

// WebSocketHandler handles WebSocket-based chat sessions.
type WebSocketHandler struct {
	registry      *session.Registry
	allowedOrigin string
	isDev         bool
	queueSize     int
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(registry *session.Registry, allowedOrigin string, isDev bool, queueSize int) *WebSocketHandler {
	return &WebSocketHandler{
		registry:      registry,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		queueSize:     queueSize,
	}
}

// sessionFrame tells the client its session identity and the token to
// present when reconnecting within the grace period.
type sessionFrame struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	ResumeToken string `json:"resume_token"`
	Resumed     bool   `json:"resumed,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	handle, resumed := h.registry.Accept(r.URL.Query().Get("resume"))
	defer h.registry.Disconnect(handle.ID)
	slog.Info("WebSocket connection bound", "session_id", handle.ID, "resumed", resumed, "ip", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	queue := newOutboundQueue(h.queueSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		h.writeLoop(ctx, ws, queue, handle.ID)
	}()

	frame, err := json.Marshal(sessionFrame{
		Type:        "session",
		SessionID:   handle.ID,
		ResumeToken: handle.ResumeToken(),
		Resumed:     resumed,
	})
	if err == nil {
		queue.push(frame)
	}

	// Fresh sessions get the greeting; resumed ones get the prompt for
	// wherever they left off, so no progress is repeated or lost.
	h.enqueue(queue, handle.Machine.Prompt(), handle.ID)

	h.readLoop(ctx, ws, queue, handle)

	cancel()
	<-writerDone
	slog.Info("Chat connection ended", "session_id", handle.ID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop processes inbound frames strictly in arrival order. It is
// the only caller of the session's machine, so per-session handling is
// serialized while other sessions run independently.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, queue *outboundQueue, handle *session.Handle) {
	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", handle.ID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", handle.ID)
			}
			return
		}

		msg, err := wire.Decode(raw)
		if err != nil {
			slog.Debug("Rejected malformed frame", "error", err, "session_id", handle.ID)
			h.enqueue(queue, []wire.Message{
				wire.Error{Content: "Sorry, I couldn't read that message."},
			}, handle.ID)
			continue
		}

		h.enqueue(queue, handle.Machine.Handle(ctx, msg), handle.ID)
	}
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, ws *websocket.Conn, queue *outboundQueue, sessionID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-queue.signal:
		}

		for _, frame := range queue.drain() {
			if err := ws.Write(ctx, websocket.MessageText, frame); err != nil {
				if ctx.Err() == nil {
					slog.Debug("WebSocket write error", "error", err, "session_id", sessionID)
				}
				return
			}
		}

		if queue.overflowed() {
			slog.Warn("Outbound queue overflowed, closing connection", "session_id", sessionID)
			_ = ws.Close(websocket.StatusTryAgainLater, "client too slow")
			return
		}
	}
}

func (h *WebSocketHandler) enqueue(queue *outboundQueue, msgs []wire.Message, sessionID string) {
	for _, msg := range msgs {
		frame, err := wire.Encode(msg)
		if err != nil {
			slog.Error("Failed to encode outbound message", "error", err, "session_id", sessionID)
			continue
		}
		queue.push(frame)
	}
}
