package types

// Role identifies what a participant may do inside a room.
type Role string

const (
	RoleMentor  Role = "mentor"
	RoleStudent Role = "student"
)

// Inbound frame types sent by clients.
const (
	FrameJoin   = "join"
	FrameEdit   = "edit"
	FrameSubmit = "submit"
	FrameLeave  = "leave"
	FramePing   = "ping"
)

// Outbound event types sent by the server.
const (
	EventWelcome            = "welcome"
	EventRoleAssigned       = "role_assigned"
	EventRoomStatus         = "room_status"
	EventCodeChanged        = "code_changed"
	EventSubmissionResult   = "submission_result"
	EventMentorDisconnected = "mentor_disconnected"
	EventError              = "error"
	EventPong               = "pong"
)

// Error codes carried by EventError.
const (
	ErrorCodeInvalidFrame    = "invalid_frame"
	ErrorCodeUnknownExercise = "unknown_exercise"
	ErrorCodeNotMember       = "not_member"
	ErrorCodeNotStudent      = "not_student"
	ErrorCodeAlreadyMember   = "already_member"
	ErrorCodeRateLimited     = "rate_limited"
	ErrorCodeInternal        = "internal_error"
)

// Exercise is a code exercise as stored in the catalogue.
// It is treated as immutable once a room has been created for it.
type Exercise struct {
	ID          string `json:"id" db:"id"`
	Title       string `json:"title" db:"title"`
	Description string `json:"description" db:"description"`
	Hint        string `json:"hint" db:"hint"`
	Solution    string `json:"solution" db:"solution"`
}

// ExerciseSummary is the lobby listing view of an exercise.
type ExerciseSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Summary returns the listing view of the exercise.
func (e *Exercise) Summary() *ExerciseSummary {
	return &ExerciseSummary{ID: e.ID, Title: e.Title, Description: e.Description}
}

// Frame is a message received from a client.
type Frame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Event is a message pushed to a client.
type Event struct {
	Type   string      `json:"type"`
	RoomID string      `json:"room_id,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

type Welcome struct {
	ConnectionID string `json:"connection_id"`
}

type RoleAssigned struct {
	Role Role `json:"role"`
}

type RoomStatus struct {
	StudentCount  int  `json:"student_count"`
	MentorPresent bool `json:"mentor_present"`
}

type CodeChanged struct {
	Text     string `json:"text"`
	EditorID string `json:"editor_id,omitempty"`
}

type SubmissionResult struct {
	Correct bool `json:"correct"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewWelcomeEvent(connID string) Event {
	return Event{Type: EventWelcome, Data: Welcome{ConnectionID: connID}}
}

func NewRoleAssignedEvent(roomID string, role Role) Event {
	return Event{Type: EventRoleAssigned, RoomID: roomID, Data: RoleAssigned{Role: role}}
}

func NewRoomStatusEvent(roomID string, studentCount int, mentorPresent bool) Event {
	return Event{Type: EventRoomStatus, RoomID: roomID, Data: RoomStatus{StudentCount: studentCount, MentorPresent: mentorPresent}}
}

func NewCodeChangedEvent(roomID, text, editorID string) Event {
	return Event{Type: EventCodeChanged, RoomID: roomID, Data: CodeChanged{Text: text, EditorID: editorID}}
}

func NewSubmissionResultEvent(roomID string, correct bool) Event {
	return Event{Type: EventSubmissionResult, RoomID: roomID, Data: SubmissionResult{Correct: correct}}
}

func NewMentorDisconnectedEvent(roomID string) Event {
	return Event{Type: EventMentorDisconnected, RoomID: roomID}
}

func NewErrorEvent(roomID, code, message string) Event {
	return Event{Type: EventError, RoomID: roomID, Data: ErrorPayload{Code: code, Message: message}}
}

func NewPongEvent() Event {
	return Event{Type: EventPong}
}
