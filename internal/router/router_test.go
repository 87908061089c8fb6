package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codementor/internal/coordinator"
	"codementor/internal/room"
	"codementor/pkg/interfaces"
	"codementor/pkg/types"
)

// fakeClient is a participant whose events are recorded in a shared hub.
type fakeClient struct {
	id  string
	hub *hub

	mu     sync.Mutex
	roomID string
	role   types.Role
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *fakeClient) Role() types.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *fakeClient) SetMembership(roomID string, role types.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID, c.role = roomID, role
}

func (c *fakeClient) ClearMembership() { c.SetMembership("", "") }

func (c *fakeClient) Send(event types.Event) error {
	c.hub.Notify(c.id, event)
	return nil
}

type hub struct {
	mu     sync.Mutex
	events map[string][]types.Event
}

func (h *hub) Notify(connID string, event types.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[connID] = append(h.events[connID], event)
}

func (h *hub) last(connID, eventType string) (types.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	evs := h.events[connID]
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == eventType {
			return evs[i], true
		}
	}
	return types.Event{}, false
}

type exercises map[string]*types.Exercise

func (s exercises) Get(_ context.Context, id string) (*types.Exercise, error) {
	if ex, ok := s[id]; ok {
		return ex, nil
	}
	return nil, interfaces.ErrExerciseNotFound
}

func (s exercises) List(context.Context) ([]*types.Exercise, error) { return nil, nil }

func newTestRouter(t *testing.T, limit int) (*Router, *hub) {
	t.Helper()
	h := &hub{events: make(map[string][]types.Event)}
	store := exercises{"E1": {ID: "E1", Title: "Log one", Hint: "// TODO", Solution: "console.log(1)"}}
	coord := coordinator.New(store, room.NewRegistry(nil, h, nil), 0, nil)
	return NewRouter(coord, limit, time.Minute, nil), h
}

func frame(typ, roomID, text string) []byte {
	return []byte(fmt.Sprintf(`{"type":%q,"room_id":%q,"text":%q}`, typ, roomID, text))
}

func errorCodeOf(t *testing.T, h *hub, connID string) string {
	t.Helper()
	ev, ok := h.last(connID, types.EventError)
	require.True(t, ok, "no error event for %s", connID)
	return ev.Data.(types.ErrorPayload).Code
}

func TestRouter_ConcreteScenario(t *testing.T) {
	r, h := newTestRouter(t, 0)
	ctx := context.Background()
	a := &fakeClient{id: "A", hub: h}
	b := &fakeClient{id: "B", hub: h}

	r.Dispatch(ctx, a, frame(types.FrameJoin, "E1", ""))
	r.Dispatch(ctx, b, frame(types.FrameJoin, "E1", ""))
	assert.Equal(t, types.RoleMentor, a.Role())
	assert.Equal(t, types.RoleStudent, b.Role())

	r.Dispatch(ctx, b, frame(types.FrameEdit, "E1", "console.log(1)"))
	ev, ok := h.last("A", types.EventCodeChanged)
	require.True(t, ok)
	assert.Equal(t, types.CodeChanged{Text: "console.log(1)", EditorID: "B"}, ev.Data)

	r.Dispatch(ctx, b, frame(types.FrameSubmit, "E1", "console.log(1)"))
	for _, id := range []string{"A", "B"} {
		ev, ok := h.last(id, types.EventSubmissionResult)
		require.True(t, ok, id)
		assert.Equal(t, types.SubmissionResult{Correct: true}, ev.Data)
	}

	_, hasErr := h.last("A", types.EventError)
	assert.False(t, hasErr)
	_, hasErr = h.last("B", types.EventError)
	assert.False(t, hasErr)
}

func TestRouter_Rejections(t *testing.T) {
	r, h := newTestRouter(t, 0)
	ctx := context.Background()
	a := &fakeClient{id: "A", hub: h}
	b := &fakeClient{id: "B", hub: h}
	r.Dispatch(ctx, a, frame(types.FrameJoin, "E1", ""))
	r.Dispatch(ctx, b, frame(types.FrameJoin, "E1", ""))

	tests := []struct {
		name   string
		client *fakeClient
		data   []byte
		want   string
	}{
		{"malformed json", a, []byte(`{"type":`), types.ErrorCodeInvalidFrame},
		{"unknown type", a, frame("dance", "E1", ""), types.ErrorCodeInvalidFrame},
		{"missing room", a, frame(types.FrameEdit, "", "x"), types.ErrorCodeInvalidFrame},
		{"unknown exercise", a, frame(types.FrameJoin, "E404", ""), types.ErrorCodeUnknownExercise},
		{"mentor submit", a, frame(types.FrameSubmit, "E1", "console.log(1)"), types.ErrorCodeNotStudent},
		{"mentor edit", a, frame(types.FrameEdit, "E1", "x"), types.ErrorCodeNotStudent},
		{"join twice", b, frame(types.FrameJoin, "E1", ""), types.ErrorCodeAlreadyMember},
		{"edit other room", b, frame(types.FrameEdit, "E2", "x"), types.ErrorCodeNotMember},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r.Dispatch(ctx, tt.client, tt.data)
			assert.Equal(t, tt.want, errorCodeOf(t, h, tt.client.id))
		})
	}

	_, ok := h.last("B", types.EventSubmissionResult)
	assert.False(t, ok, "rejected submit must not broadcast")
}

func TestRouter_Ping(t *testing.T) {
	r, h := newTestRouter(t, 0)
	c := &fakeClient{id: "A", hub: h}

	r.Dispatch(context.Background(), c, []byte(`{"type":"ping"}`))
	_, ok := h.last("A", types.EventPong)
	assert.True(t, ok)
}

func TestRouter_RateLimited(t *testing.T) {
	r, h := newTestRouter(t, 3)
	c := &fakeClient{id: "A", hub: h}

	for i := 0; i < 3; i++ {
		r.Dispatch(context.Background(), c, []byte(`{"type":"ping"}`))
	}
	_, limited := h.last("A", types.EventError)
	assert.False(t, limited)

	r.Dispatch(context.Background(), c, []byte(`{"type":"ping"}`))
	assert.Equal(t, types.ErrorCodeRateLimited, errorCodeOf(t, h, "A"))

	r.Disconnect(c)
	assert.Equal(t, 0, r.RateLimiter().Len())
}

func TestRouter_MalformedFramesCountTowardLimit(t *testing.T) {
	r, h := newTestRouter(t, 2)
	c := &fakeClient{id: "A", hub: h}

	for i := 0; i < 2; i++ {
		r.Dispatch(context.Background(), c, []byte(`not json`))
		assert.Equal(t, types.ErrorCodeInvalidFrame, errorCodeOf(t, h, "A"))
	}

	r.Dispatch(context.Background(), c, []byte(`not json`))
	assert.Equal(t, types.ErrorCodeRateLimited, errorCodeOf(t, h, "A"))

	r.Dispatch(context.Background(), c, []byte(`{"type":"ping"}`))
	_, ok := h.last("A", types.EventPong)
	assert.False(t, ok, "a valid frame over the limit is dropped too")
}

func TestRouter_JoinAndDisconnect(t *testing.T) {
	r, h := newTestRouter(t, 0)
	a := &fakeClient{id: "A", hub: h}
	b := &fakeClient{id: "B", hub: h}

	r.Join(context.Background(), a, "E1")
	r.Join(context.Background(), b, "E1")
	r.Disconnect(a)

	_, ok := h.last("B", types.EventMentorDisconnected)
	assert.True(t, ok)
	assert.Empty(t, a.RoomID())

	r.Join(context.Background(), a, "bad id!")
	assert.Equal(t, types.ErrorCodeInvalidFrame, errorCodeOf(t, h, "A"))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("wrap: %w", room.ErrNotMember), types.ErrorCodeNotMember},
		{room.ErrRoomNotFound, types.ErrorCodeNotMember},
		{coordinator.ErrNotInRoom, types.ErrorCodeNotMember},
		{room.ErrNotStudent, types.ErrorCodeNotStudent},
		{fmt.Errorf("%w: E9", coordinator.ErrUnknownExercise), types.ErrorCodeUnknownExercise},
		{types.ErrTextTooLarge, types.ErrorCodeInvalidFrame},
		{ErrRateLimitExceeded, types.ErrorCodeRateLimited},
		{errors.New("disk on fire"), types.ErrorCodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), tt.err.Error())
	}
}
