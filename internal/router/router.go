// Package router decodes inbound client frames and dispatches them to the
// session coordinator. Failures are answered with an error event to the
// sending connection only.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"codementor/internal/codesync"
	"codementor/internal/coordinator"
	"codementor/internal/metrics"
	"codementor/internal/room"
	"codementor/pkg/interfaces"
	"codementor/pkg/types"
)

// Router routes frames from connected clients.
type Router struct {
	coord       *coordinator.Coordinator
	rateLimiter *RateLimiter
	logger      *zap.Logger
}

// NewRouter creates a router that admits limit frames per window from each
// connection.
func NewRouter(coord *coordinator.Coordinator, limit int, window time.Duration, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		coord:       coord,
		rateLimiter: NewRateLimiter(limit, window),
		logger:      logger,
	}
}

// RateLimiter exposes the limiter so its cleanup can be scheduled.
func (r *Router) RateLimiter() *RateLimiter {
	return r.rateLimiter
}

// Dispatch handles one raw frame from c.
func (r *Router) Dispatch(ctx context.Context, c interfaces.Client, data []byte) {
	// Every frame counts against the limit, malformed ones included.
	if !r.rateLimiter.Allow(c.ID()) {
		r.reject(c, "", ErrRateLimitExceeded)
		return
	}
	var frame types.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		r.reject(c, "", fmt.Errorf("%w: %v", ErrMalformedFrame, err))
		return
	}
	if err := r.Route(ctx, c, &frame); err != nil {
		r.reject(c, frame.RoomID, err)
	}
}

// Route validates frame and performs it on behalf of c.
func (r *Router) Route(ctx context.Context, c interfaces.Client, frame *types.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}

	switch frame.Type {
	case types.FramePing:
		return c.Send(types.NewPongEvent())
	case types.FrameJoin:
		_, err := r.coord.Join(ctx, c, frame.RoomID)
		return err
	case types.FrameEdit:
		return r.coord.Edit(c, frame.RoomID, frame.Text)
	case types.FrameSubmit:
		_, err := r.coord.Submit(c, frame.RoomID, frame.Text)
		return err
	case types.FrameLeave:
		return r.coord.Leave(c, frame.RoomID)
	}
	return types.ErrInvalidFrameType
}

// Join performs a join requested out of band, such as the room query
// parameter on connect.
func (r *Router) Join(ctx context.Context, c interfaces.Client, roomID string) {
	frame := &types.Frame{Type: types.FrameJoin, RoomID: roomID}
	if err := r.Route(ctx, c, frame); err != nil {
		r.reject(c, roomID, err)
	}
}

// Disconnect releases everything held for c.
func (r *Router) Disconnect(c interfaces.Client) {
	r.coord.Disconnect(c)
	r.rateLimiter.Forget(c.ID())
}

func (r *Router) reject(c interfaces.Client, roomID string, err error) {
	if errors.Is(err, codesync.ErrCancelled) {
		return
	}
	code := ErrorCode(err)
	metrics.FrameRejected(code)
	if code == types.ErrorCodeInternal {
		r.logger.Error("frame failed",
			zap.String("conn_id", c.ID()),
			zap.String("room_id", roomID),
			zap.Error(err))
	} else {
		r.logger.Debug("frame rejected",
			zap.String("conn_id", c.ID()),
			zap.String("room_id", roomID),
			zap.String("code", code),
			zap.Error(err))
	}

	message := err.Error()
	if code == types.ErrorCodeInternal {
		message = "internal error"
	}
	if sendErr := c.Send(types.NewErrorEvent(roomID, code, message)); sendErr != nil {
		r.logger.Debug("error event not delivered", zap.String("conn_id", c.ID()), zap.Error(sendErr))
	}
}

// ErrorCode maps an error to the code reported to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMalformedFrame),
		errors.Is(err, types.ErrInvalidFrameType),
		errors.Is(err, types.ErrInvalidRoomID),
		errors.Is(err, types.ErrMissingRoomID),
		errors.Is(err, types.ErrTextTooLarge),
		errors.Is(err, coordinator.ErrInvalidRoomID):
		return types.ErrorCodeInvalidFrame
	case errors.Is(err, coordinator.ErrUnknownExercise):
		return types.ErrorCodeUnknownExercise
	case errors.Is(err, room.ErrNotMember),
		errors.Is(err, room.ErrRoomNotFound),
		errors.Is(err, coordinator.ErrNotInRoom):
		return types.ErrorCodeNotMember
	case errors.Is(err, room.ErrNotStudent):
		return types.ErrorCodeNotStudent
	case errors.Is(err, room.ErrAlreadyMember):
		return types.ErrorCodeAlreadyMember
	case errors.Is(err, ErrRateLimitExceeded):
		return types.ErrorCodeRateLimited
	default:
		return types.ErrorCodeInternal
	}
}
