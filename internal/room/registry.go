package room

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"codementor/pkg/interfaces"
	"codementor/pkg/types"
)

// Registry maps room IDs to live rooms. Its own lock only guards the map;
// all room state is guarded by the room's lock, so unrelated rooms never
// contend with each other.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	policy   RolePolicy
	notifier interfaces.Notifier
	logger   *zap.Logger
}

// JoinResult is what a successful join produced.
type JoinResult struct {
	Room    Snapshot
	Role    types.Role
	Created bool
}

// NewRegistry creates an empty registry. A nil policy defaults to
// FirstJoinerMentor.
func NewRegistry(policy RolePolicy, notifier interfaces.Notifier, logger *zap.Logger) *Registry {
	if policy == nil {
		policy = FirstJoinerMentor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rooms:    make(map[string]*Room),
		policy:   policy,
		notifier: notifier,
		logger:   logger,
	}
}

// Notifier returns the notifier rooms in this registry report through.
func (r *Registry) Notifier() interfaces.Notifier {
	return r.notifier
}

// Join finds or creates the room for roomID and adds connID to it. The
// exercise is only used when the room has to be created. Two connections
// racing into an empty room resolve to one room with exactly one mentor.
func (r *Registry) Join(roomID string, exercise *types.Exercise, connID string) (JoinResult, error) {
	if exercise == nil {
		return JoinResult{}, ErrNilExercise
	}
	for {
		rm, created := r.getOrCreate(roomID, exercise)
		snap, role, err := rm.join(connID, r.policy, r.notifier)
		if errors.Is(err, errRoomClosed) {
			// Torn down between lookup and join; drop the stale entry and retry.
			r.remove(rm)
			continue
		}
		if err != nil {
			return JoinResult{}, err
		}

		r.logger.Info("connection joined room",
			zap.String("room_id", roomID),
			zap.String("conn_id", connID),
			zap.String("role", string(role)),
			zap.Int("student_count", snap.StudentCount))
		return JoinResult{Room: snap, Role: role, Created: created}, nil
	}
}

// Leave removes connID from roomID. A departing mentor ends the room for
// everyone; the last member leaving deletes it.
func (r *Registry) Leave(roomID, connID string) (LeaveResult, error) {
	rm, ok := r.Get(roomID)
	if !ok {
		return LeaveResult{}, ErrRoomNotFound
	}
	res, err := rm.leave(connID, r.notifier)
	if err != nil {
		return LeaveResult{}, err
	}
	if res.Closed {
		r.remove(rm)
		r.logger.Info("room closed",
			zap.String("room_id", roomID),
			zap.Bool("mentor_left", res.Ended))
	} else {
		r.logger.Info("connection left room",
			zap.String("room_id", roomID),
			zap.String("conn_id", connID),
			zap.Int("remaining", res.Remaining))
	}
	return res, nil
}

// ApplyEdit routes an edit to the addressed room.
func (r *Registry) ApplyEdit(roomID, connID, text string) error {
	rm, ok := r.Get(roomID)
	if !ok {
		return ErrNotMember
	}
	return rm.ApplyEdit(connID, text, r.notifier)
}

// Get returns the live room for roomID.
func (r *Registry) Get(roomID string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	return rm, ok
}

// Count returns the number of live rooms.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Snapshots returns a snapshot of every live room ordered by ID.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(rooms))
	for _, rm := range rooms {
		if rm.isClosed() {
			continue
		}
		out = append(out, rm.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) getOrCreate(roomID string, exercise *types.Exercise) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		return rm, false
	}
	rm := newRoom(roomID, exercise)
	r.rooms[roomID] = rm
	return rm, true
}

// remove deletes rm only if it is still the room registered under its ID,
// so a stale teardown never removes a newer room.
func (r *Registry) remove(rm *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.rooms[rm.ID]; ok && current == rm {
		delete(r.rooms, rm.ID)
	}
}
