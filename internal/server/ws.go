package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/letskickk/fact/internal/protocol"
	"github.com/letskickk/fact/internal/session"
)

// wsEmitter serializes event frames onto one websocket connection
type wsEmitter struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (e *wsEmitter) Emit(event protocol.Event) error {
	data, err := event.Encode()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.writeTimeout > 0 {
		if err := e.conn.SetWriteDeadline(time.Now().Add(e.writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	if err := e.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", event.Type, err)
	}
	return nil
}

// handleWebSocket implements the /ws endpoint: one connection, one session
func (h *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	if h.config.ReadLimitBytes > 0 {
		conn.SetReadLimit(h.config.ReadLimitBytes)
	}

	emitter := &wsEmitter{
		conn:         conn,
		writeTimeout: time.Duration(h.config.WriteTimeout) * time.Second,
	}
	pingInterval := time.Duration(h.config.PingInterval) * time.Second

	ctrl := session.NewController(h.deps.Registry, h.deps.Runner, emitter, pingInterval, h.deps.Metrics, h.logger)
	defer ctrl.Close()

	h.deps.Metrics.RecordClientConnected()
	defer h.deps.Metrics.RecordClientDisconnected()

	logger := h.logger.With(slog.String("session_id", ctrl.ID()))
	logger.Info("Client connected", slog.String("remote_addr", r.RemoteAddr))

	// A transport failure seen by the controller unblocks the read loop
	go func() {
		<-ctrl.Done()
		_ = conn.Close()
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Client connection lost", slog.String("error", err.Error()))
			} else {
				logger.Info("Client disconnected")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		ctrl.HandleMessage(data)
	}
}
