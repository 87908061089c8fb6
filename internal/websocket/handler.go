package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"codementor/internal/metrics"
	"codementor/pkg/interfaces"
	"codementor/pkg/types"
)

// Dispatcher consumes what arrives on a connection.
type Dispatcher interface {
	Dispatch(ctx context.Context, c interfaces.Client, data []byte)
	Join(ctx context.Context, c interfaces.Client, roomID string)
	Disconnect(c interfaces.Client)
}

// HandlerConfig tunes socket limits and heartbeat timing.
type HandlerConfig struct {
	// AllowedOrigins lists accepted Origin headers; empty accepts any.
	AllowedOrigins  []string
	MaxMessageBytes int64
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	SendBuffer      int
}

// Handler upgrades HTTP requests and runs the read side of each connection.
type Handler struct {
	registry   *Registry
	dispatcher Dispatcher
	cfg        HandlerConfig
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(registry *Registry, dispatcher Dispatcher, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if cfg.PongWait <= 0 {
		cfg.PongWait = DefaultPongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = types.MaxTextBytes * 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request. An optional room query parameter
// joins that room right after the welcome event.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID != "" && !types.IsValidRoomID(roomID) {
		http.Error(w, "Invalid room parameter", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(ws, ConnectionOptions{
		SendBuffer:   h.cfg.SendBuffer,
		WriteWait:    h.cfg.WriteWait,
		PingInterval: h.cfg.PingInterval,
	})
	if err := h.registry.Register(conn); err != nil {
		h.logger.Error("failed to register connection", zap.Error(err))
		_ = conn.Close()
		return
	}
	metrics.ConnectionOpened()
	h.logger.Debug("connection opened",
		zap.String("conn_id", conn.ID()),
		zap.String("remote_addr", r.RemoteAddr))

	if err := conn.Send(types.NewWelcomeEvent(conn.ID())); err != nil {
		h.logger.Debug("welcome not delivered", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
	if roomID != "" {
		h.dispatcher.Join(conn.Context(), conn, roomID)
	}

	go h.handleConnection(conn)
}

// handleConnection reads frames until the socket fails, then runs the
// disconnect path exactly once.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.dispatcher.Disconnect(conn)
		h.registry.Unregister(conn)
		_ = conn.Close()
		metrics.ConnectionClosed()
		h.logger.Debug("connection closed", zap.String("conn_id", conn.ID()))
	}()

	conn.conn.SetReadLimit(h.cfg.MaxMessageBytes)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("conn_id", conn.ID()), zap.Error(err))
			}
			return
		}
		if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait)); err != nil {
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatcher.Dispatch(conn.Context(), conn, data)
	}
}
