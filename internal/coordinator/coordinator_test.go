package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codementor/internal/room"
	"codementor/pkg/interfaces"
	"codementor/pkg/types"
)

type participant struct {
	id string

	mu     sync.Mutex
	roomID string
	role   types.Role
}

func (p *participant) ID() string { return p.id }

func (p *participant) RoomID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roomID
}

func (p *participant) Role() types.Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}

func (p *participant) SetMembership(roomID string, role types.Role) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roomID, p.role = roomID, role
}

func (p *participant) ClearMembership() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roomID, p.role = "", ""
}

type store map[string]*types.Exercise

func (s store) Get(_ context.Context, id string) (*types.Exercise, error) {
	ex, ok := s[id]
	if !ok {
		return nil, interfaces.ErrExerciseNotFound
	}
	return ex, nil
}

func (s store) List(context.Context) ([]*types.Exercise, error) {
	out := make([]*types.Exercise, 0, len(s))
	for _, ex := range s {
		out = append(out, ex)
	}
	return out, nil
}

type failingStore struct{ store }

func (failingStore) Get(context.Context, string) (*types.Exercise, error) {
	return nil, errors.New("database is locked")
}

type inbox struct {
	mu     sync.Mutex
	events map[string][]types.Event
}

func newInbox() *inbox {
	return &inbox{events: make(map[string][]types.Event)}
}

func (b *inbox) Notify(connID string, event types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[connID] = append(b.events[connID], event)
}

func (b *inbox) ofType(connID, eventType string) []types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.Event
	for _, ev := range b.events[connID] {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (b *inbox) sequence(connID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, ev := range b.events[connID] {
		out = append(out, ev.Type)
	}
	return out
}

func testStore() store {
	return store{
		"E1": {ID: "E1", Title: "Log one", Hint: "// TODO", Solution: "console.log(1)"},
		"E2": {ID: "E2", Title: "Return two", Hint: "function two() {}", Solution: "function two() { return 2 }"},
	}
}

func newTestCoordinator(t *testing.T, quiet time.Duration) (*Coordinator, *inbox) {
	t.Helper()
	box := newInbox()
	return New(testStore(), room.NewRegistry(nil, box, nil), quiet, nil), box
}

func TestCoordinator_ConcreteScenario(t *testing.T) {
	c, box := newTestCoordinator(t, 0)
	ctx := context.Background()
	a, b := &participant{id: "A"}, &participant{id: "B"}

	res, err := c.Join(ctx, a, "E1")
	require.NoError(t, err)
	assert.Equal(t, types.RoleMentor, res.Role)
	assert.Equal(t, types.RoleMentor, a.Role())
	assert.Equal(t, "// TODO", res.Room.Text)

	res, err = c.Join(ctx, b, "E1")
	require.NoError(t, err)
	assert.Equal(t, types.RoleStudent, res.Role)

	for _, id := range []string{"A", "B"} {
		statuses := box.ofType(id, types.EventRoomStatus)
		require.NotEmpty(t, statuses, id)
		status := statuses[len(statuses)-1].Data.(types.RoomStatus)
		assert.Equal(t, 1, status.StudentCount)
		assert.True(t, status.MentorPresent)
	}

	require.NoError(t, c.Edit(b, "E1", "console.log(1)"))
	changes := box.ofType("A", types.EventCodeChanged)
	require.NotEmpty(t, changes)
	assert.Equal(t, types.CodeChanged{Text: "console.log(1)", EditorID: "B"}, changes[len(changes)-1].Data)
	// The joiner's catch-up is the only code_changed B ever sees.
	assert.Len(t, box.ofType("B", types.EventCodeChanged), 1)

	correct, err := c.Submit(b, "E1", "console.log(1)")
	require.NoError(t, err)
	assert.True(t, correct)
	for _, id := range []string{"A", "B"} {
		results := box.ofType(id, types.EventSubmissionResult)
		require.Len(t, results, 1, id)
		assert.Equal(t, types.SubmissionResult{Correct: true}, results[0].Data)
	}
}

func TestCoordinator_JoinUnknownExercise(t *testing.T) {
	c, box := newTestCoordinator(t, 0)
	p := &participant{id: "A"}

	_, err := c.Join(context.Background(), p, "nope")
	assert.ErrorIs(t, err, ErrUnknownExercise)
	assert.Empty(t, p.RoomID())
	assert.Equal(t, 0, c.Rooms().Count())
	assert.Empty(t, box.sequence("A"))

	_, err = c.Join(context.Background(), p, "../etc")
	assert.ErrorIs(t, err, ErrInvalidRoomID)
}

func TestCoordinator_JoinStoreFailure(t *testing.T) {
	c := New(failingStore{}, room.NewRegistry(nil, newInbox(), nil), 0, nil)
	_, err := c.Join(context.Background(), &participant{id: "A"}, "E1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownExercise)
}

func TestCoordinator_JoinTwice(t *testing.T) {
	c, _ := newTestCoordinator(t, 0)
	p := &participant{id: "A"}

	_, err := c.Join(context.Background(), p, "E1")
	require.NoError(t, err)
	_, err = c.Join(context.Background(), p, "E1")
	assert.ErrorIs(t, err, room.ErrAlreadyMember)
	assert.Equal(t, types.RoleMentor, p.Role())
}

func TestCoordinator_JoiningAnotherRoomLeavesCurrent(t *testing.T) {
	c, box := newTestCoordinator(t, 0)
	ctx := context.Background()
	a, b := &participant{id: "A"}, &participant{id: "B"}

	_, err := c.Join(ctx, a, "E1")
	require.NoError(t, err)
	_, err = c.Join(ctx, b, "E1")
	require.NoError(t, err)

	res, err := c.Join(ctx, b, "E2")
	require.NoError(t, err)
	assert.Equal(t, types.RoleMentor, res.Role)
	assert.Equal(t, "E2", b.RoomID())

	rm, ok := c.Rooms().Get("E1")
	require.True(t, ok)
	assert.Equal(t, 0, rm.Snapshot().StudentCount)

	statuses := box.ofType("A", types.EventRoomStatus)
	assert.Equal(t, 0, statuses[len(statuses)-1].Data.(types.RoomStatus).StudentCount)
}

func TestCoordinator_RoleChecks(t *testing.T) {
	c, box := newTestCoordinator(t, 0)
	ctx := context.Background()
	a, b, x := &participant{id: "A"}, &participant{id: "B"}, &participant{id: "X"}

	_, err := c.Join(ctx, a, "E1")
	require.NoError(t, err)
	_, err = c.Join(ctx, b, "E1")
	require.NoError(t, err)

	assert.ErrorIs(t, c.Edit(a, "E1", "mentor text"), room.ErrNotStudent)
	assert.ErrorIs(t, c.Edit(x, "E1", "outsider text"), room.ErrNotMember)
	assert.ErrorIs(t, c.Edit(b, "E2", "wrong room"), room.ErrNotMember)

	_, err = c.Submit(a, "E1", "console.log(1)")
	assert.ErrorIs(t, err, room.ErrNotStudent)
	_, err = c.Submit(x, "E1", "console.log(1)")
	assert.ErrorIs(t, err, room.ErrNotMember)

	rm, _ := c.Rooms().Get("E1")
	assert.Equal(t, "// TODO", rm.Snapshot().Text)
	assert.Empty(t, box.ofType("A", types.EventSubmissionResult))
	assert.Len(t, box.ofType("B", types.EventCodeChanged), 1)
}

func TestCoordinator_SubmitFlushesPendingEdit(t *testing.T) {
	c, box := newTestCoordinator(t, time.Hour)
	ctx := context.Background()
	a, b := &participant{id: "A"}, &participant{id: "B"}

	_, err := c.Join(ctx, a, "E1")
	require.NoError(t, err)
	_, err = c.Join(ctx, b, "E1")
	require.NoError(t, err)

	require.NoError(t, c.Edit(b, "E1", "console.log"))
	require.NoError(t, c.Edit(b, "E1", "console.log(1)"))
	// Still inside the quiet period.
	assert.Len(t, box.ofType("A", types.EventCodeChanged), 1)

	_, err = c.Submit(b, "E1", "console.log(1)")
	require.NoError(t, err)

	seq := box.sequence("A")
	require.GreaterOrEqual(t, len(seq), 2)
	assert.Equal(t, []string{types.EventCodeChanged, types.EventSubmissionResult}, seq[len(seq)-2:])
	changes := box.ofType("A", types.EventCodeChanged)
	assert.Equal(t, "console.log(1)", changes[len(changes)-1].Data.(types.CodeChanged).Text)
}

func TestCoordinator_DisconnectDiscardsPendingEdit(t *testing.T) {
	c, box := newTestCoordinator(t, 30*time.Millisecond)
	ctx := context.Background()
	a, b := &participant{id: "A"}, &participant{id: "B"}

	_, err := c.Join(ctx, a, "E1")
	require.NoError(t, err)
	_, err = c.Join(ctx, b, "E1")
	require.NoError(t, err)

	require.NoError(t, c.Edit(b, "E1", "half typed"))
	c.Disconnect(b)
	time.Sleep(90 * time.Millisecond)

	assert.Len(t, box.ofType("A", types.EventCodeChanged), 1)
	rm, ok := c.Rooms().Get("E1")
	require.True(t, ok)
	assert.Equal(t, "// TODO", rm.Snapshot().Text)
	assert.Equal(t, 0, rm.Snapshot().StudentCount)
	assert.Empty(t, b.RoomID())
}

func TestCoordinator_MentorDisconnectEndsRoom(t *testing.T) {
	c, box := newTestCoordinator(t, 0)
	ctx := context.Background()
	m, s1, s2 := &participant{id: "M"}, &participant{id: "S1"}, &participant{id: "S2"}

	for _, p := range []*participant{m, s1, s2} {
		_, err := c.Join(ctx, p, "E1")
		require.NoError(t, err)
	}

	c.Disconnect(m)
	assert.Len(t, box.ofType("S1", types.EventMentorDisconnected), 1)
	assert.Len(t, box.ofType("S2", types.EventMentorDisconnected), 1)
	_, ok := c.Rooms().Get("E1")
	assert.False(t, ok)

	// Evicted students no longer record the dead room.
	for _, s := range []*participant{s1, s2} {
		assert.Empty(t, s.RoomID())
		assert.Empty(t, s.Role())
	}
	assert.ErrorIs(t, c.Leave(s2, ""), ErrNotInRoom)
	assert.ErrorIs(t, c.Edit(s1, "E1", "anyone?"), room.ErrNotMember)

	// Rejoining the same id creates a fresh room with a new mentor.
	res, err := c.Join(ctx, s1, "E1")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, types.RoleMentor, res.Role)

	// Disconnecting a participant whose room is gone is harmless.
	c.Disconnect(s2)
	assert.Empty(t, s2.RoomID())
}

func TestCoordinator_TeardownSparesStudentWhoRejoined(t *testing.T) {
	c, _ := newTestCoordinator(t, 0)
	ctx := context.Background()
	m, s := &participant{id: "M"}, &participant{id: "S"}
	_, _ = c.Join(ctx, m, "E1")
	_, _ = c.Join(ctx, s, "E1")

	c.Disconnect(m)
	res, err := c.Join(ctx, s, "E1")
	require.NoError(t, err)

	// A late eviction for the old room must not clear the fresh membership.
	c.evict("E1", []string{"S"})
	assert.Equal(t, "E1", s.RoomID())
	assert.Equal(t, res.Role, s.Role())
}

func TestCoordinator_Leave(t *testing.T) {
	c, _ := newTestCoordinator(t, 0)
	p := &participant{id: "A"}

	assert.ErrorIs(t, c.Leave(p, ""), ErrNotInRoom)

	_, err := c.Join(context.Background(), p, "E1")
	require.NoError(t, err)
	require.NoError(t, c.Leave(p, ""))
	assert.Empty(t, p.RoomID())
	assert.Equal(t, 0, c.Rooms().Count())

	assert.ErrorIs(t, c.Leave(p, "E1"), room.ErrNotMember)
}

func TestCoordinator_ConcurrentJoinsElectOneMentor(t *testing.T) {
	c, _ := newTestCoordinator(t, 0)
	const n = 40

	participants := make([]*participant, n)
	var wg sync.WaitGroup
	for i := range participants {
		participants[i] = &participant{id: fmt.Sprintf("conn-%d", i)}
		wg.Add(1)
		go func(p *participant) {
			defer wg.Done()
			_, err := c.Join(context.Background(), p, "E1")
			assert.NoError(t, err)
		}(participants[i])
	}
	wg.Wait()

	mentors := 0
	for _, p := range participants {
		if p.Role() == types.RoleMentor {
			mentors++
		}
	}
	assert.Equal(t, 1, mentors)
	rm, _ := c.Rooms().Get("E1")
	assert.Equal(t, n-1, rm.Snapshot().StudentCount)
}
