package room

import (
	"sort"
	"sync"
	"time"

	"codementor/pkg/interfaces"
	"codementor/pkg/types"
)

// Room is the live state of one exercise session. Every mutation happens
// under mu, and notifications for a mutation are sent before mu is released
// so members observe events in the same order the state changed.
type Room struct {
	ID        string
	CreatedAt time.Time

	exercise *types.Exercise

	mu           sync.Mutex
	mentorID     string
	students     map[string]time.Time // connID -> joined at
	text         string
	lastEditorID string
	closed       bool
}

// Snapshot is a copy of room state safe to hand outside the lock.
type Snapshot struct {
	ID            string    `json:"id"`
	ExerciseID    string    `json:"exercise_id"`
	MentorID      string    `json:"-"`
	StudentIDs    []string  `json:"-"`
	StudentCount  int       `json:"student_count"`
	MentorPresent bool      `json:"mentor_present"`
	Text          string    `json:"-"`
	LastEditorID  string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// LeaveResult describes what a departure did to the room.
type LeaveResult struct {
	RoomID string
	Role   types.Role
	// Ended is true when the mentor left and the room was torn down.
	Ended bool
	// Closed is true when the room no longer exists, either because it
	// ended or because the last member left.
	Closed    bool
	Remaining int
	// Evicted lists the students removed when the room ended, sorted.
	Evicted []string
}

func newRoom(id string, exercise *types.Exercise) *Room {
	return &Room{
		ID:        id,
		CreatedAt: time.Now(),
		exercise:  exercise,
		students:  make(map[string]time.Time),
		text:      exercise.Hint,
	}
}

// Exercise returns the exercise the room was created for.
func (r *Room) Exercise() *types.Exercise {
	return r.exercise
}

// Snapshot returns a copy of the current state.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// RoleOf returns the role connID holds in this room.
func (r *Room) RoleOf(connID string) (types.Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roleOfLocked(connID)
}

// Authorize checks that connID is a current student of the room.
func (r *Room) Authorize(connID string) error {
	role, ok := r.RoleOf(connID)
	if !ok {
		return ErrNotMember
	}
	if role != types.RoleStudent {
		return ErrNotStudent
	}
	return nil
}

// Broadcast sends event to every member except the connection named by except.
func (r *Room) Broadcast(event types.Event, n interfaces.Notifier, except string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.broadcastLocked(event, n, except)
}

// Submit checks that connID is a current student, judges text with verify
// and broadcasts the verdict to every member. The check and the broadcast
// happen under one lock so a submitter who has already left gets
// ErrNotMember rather than a verdict.
func (r *Room) Submit(connID, text string, verify func(*types.Exercise, string) bool, n interfaces.Notifier) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, ErrNotMember
	}
	role, ok := r.roleOfLocked(connID)
	if !ok {
		return false, ErrNotMember
	}
	if role != types.RoleStudent {
		return false, ErrNotStudent
	}

	correct := verify(r.exercise, text)
	r.broadcastLocked(types.NewSubmissionResultEvent(r.ID, correct), n, "")
	return correct, nil
}

// ApplyEdit replaces the room text wholesale with text written by connID and
// relays it to everyone else. Edits from non-members and from the mentor are
// dropped without touching state.
func (r *Room) ApplyEdit(connID, text string, n interfaces.Notifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrNotMember
	}
	role, ok := r.roleOfLocked(connID)
	if !ok {
		return ErrNotMember
	}
	if role != types.RoleStudent {
		return ErrNotStudent
	}

	r.text = text
	r.lastEditorID = connID
	r.broadcastLocked(types.NewCodeChangedEvent(r.ID, text, connID), n, connID)
	return nil
}

func (r *Room) join(connID string, policy RolePolicy, n interfaces.Notifier) (Snapshot, types.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Snapshot{}, "", errRoomClosed
	}
	if _, ok := r.roleOfLocked(connID); ok {
		return Snapshot{}, "", ErrAlreadyMember
	}

	role := policy.Assign(Occupancy{
		Members:       r.memberCountLocked(),
		MentorPresent: r.mentorID != "",
	})
	if role == types.RoleMentor && r.mentorID != "" {
		// A policy may never produce a second mentor.
		role = types.RoleStudent
	}

	switch role {
	case types.RoleMentor:
		r.mentorID = connID
	default:
		r.students[connID] = time.Now()
	}

	n.Notify(connID, types.NewRoleAssignedEvent(r.ID, role))
	n.Notify(connID, types.NewCodeChangedEvent(r.ID, r.text, r.lastEditorID))
	r.broadcastLocked(types.NewRoomStatusEvent(r.ID, len(r.students), r.mentorID != ""), n, "")

	return r.snapshotLocked(), role, nil
}

func (r *Room) leave(connID string, n interfaces.Notifier) (LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return LeaveResult{}, ErrNotMember
	}
	role, ok := r.roleOfLocked(connID)
	if !ok {
		return LeaveResult{}, ErrNotMember
	}

	res := LeaveResult{RoomID: r.ID, Role: role}
	if role == types.RoleMentor {
		r.mentorID = ""
		for id := range r.students {
			res.Evicted = append(res.Evicted, id)
			n.Notify(id, types.NewMentorDisconnectedEvent(r.ID))
		}
		sort.Strings(res.Evicted)
		r.students = make(map[string]time.Time)
		r.closed = true
		res.Ended = true
		res.Closed = true
		return res, nil
	}

	delete(r.students, connID)
	if r.lastEditorID == connID {
		r.lastEditorID = ""
	}
	res.Remaining = r.memberCountLocked()
	if res.Remaining == 0 {
		r.closed = true
		res.Closed = true
		return res, nil
	}
	r.broadcastLocked(types.NewRoomStatusEvent(r.ID, len(r.students), r.mentorID != ""), n, "")
	return res, nil
}

func (r *Room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) roleOfLocked(connID string) (types.Role, bool) {
	if connID == "" {
		return "", false
	}
	if connID == r.mentorID {
		return types.RoleMentor, true
	}
	if _, ok := r.students[connID]; ok {
		return types.RoleStudent, true
	}
	return "", false
}

func (r *Room) memberCountLocked() int {
	count := len(r.students)
	if r.mentorID != "" {
		count++
	}
	return count
}

func (r *Room) broadcastLocked(event types.Event, n interfaces.Notifier, except string) {
	if r.mentorID != "" && r.mentorID != except {
		n.Notify(r.mentorID, event)
	}
	for id := range r.students {
		if id != except {
			n.Notify(id, event)
		}
	}
}

func (r *Room) snapshotLocked() Snapshot {
	ids := make([]string, 0, len(r.students))
	for id := range r.students {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Snapshot{
		ID:            r.ID,
		ExerciseID:    r.exercise.ID,
		MentorID:      r.mentorID,
		StudentIDs:    ids,
		StudentCount:  len(ids),
		MentorPresent: r.mentorID != "",
		Text:          r.text,
		LastEditorID:  r.lastEditorID,
		CreatedAt:     r.CreatedAt,
	}
}
