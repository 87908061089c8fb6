package room

import (
	"sync"

	"codementor/pkg/types"
)

// recorder captures notifications per connection.
type recorder struct {
	mu     sync.Mutex
	events map[string][]types.Event
}

func newRecorder() *recorder {
	return &recorder{events: make(map[string][]types.Event)}
}

func (r *recorder) Notify(connID string, event types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[connID] = append(r.events[connID], event)
}

func (r *recorder) of(connID string) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Event, len(r.events[connID]))
	copy(out, r.events[connID])
	return out
}

func (r *recorder) ofType(connID, eventType string) []types.Event {
	var out []types.Event
	for _, ev := range r.of(connID) {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) last(connID, eventType string) (types.Event, bool) {
	evs := r.ofType(connID, eventType)
	if len(evs) == 0 {
		return types.Event{}, false
	}
	return evs[len(evs)-1], true
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = make(map[string][]types.Event)
}

func testExercise() *types.Exercise {
	return &types.Exercise{
		ID:       "E1",
		Title:    "Log one",
		Hint:     "// TODO",
		Solution: "console.log(1)",
	}
}
