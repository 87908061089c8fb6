package websocket

import (
	"sync"

	"go.uber.org/zap"

	"codementor/pkg/types"
)

// Registry tracks live connections by identity and delivers events to them.
// It is the transport side of the room notifier.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	logger      *zap.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		connections: make(map[string]*Connection),
		logger:      logger,
	}
}

// Register adds conn under its identity.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	return nil
}

// Unregister removes conn. Only the registered instance is removed; calling
// it twice is harmless.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if registered, ok := r.connections[conn.ID()]; ok && registered == conn {
		delete(r.connections, conn.ID())
	}
}

// Get returns the connection with the given identity.
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connID]
	return conn, ok
}

// Notify delivers event to connID if it is still connected. It never
// blocks; a connection whose buffer is full is closed by Send.
func (r *Registry) Notify(connID string, event types.Event) {
	conn, ok := r.Get(connID)
	if !ok {
		r.logger.Debug("notify skipped, connection gone",
			zap.String("conn_id", connID),
			zap.String("event", event.Type))
		return
	}
	if err := conn.Send(event); err != nil {
		r.logger.Debug("notify failed",
			zap.String("conn_id", connID),
			zap.String("event", event.Type),
			zap.Error(err))
	}
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// GetStats returns registry statistics for health reporting.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inRoom := 0
	for _, conn := range r.connections {
		if conn.RoomID() != "" {
			inRoom++
		}
	}
	return map[string]int{
		"total_connections":   len(r.connections),
		"connections_in_room": inRoom,
	}
}

// CloseAll closes every registered connection. Read loops observe the close
// and run their normal disconnect path.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			r.logger.Debug("close failed", zap.String("conn_id", conn.ID()), zap.Error(err))
		}
	}
}
