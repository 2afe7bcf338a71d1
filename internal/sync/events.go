package sync

import (
	"time"

	"github.com/marcus/roofsync/internal/models"
)

// State is the lifecycle state of the engine
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateError   State = "error"
)

// EventType identifies what a listener is being told about
type EventType string

const (
	EventState         EventType = "state"
	EventProgress      EventType = "progress"
	EventConflict      EventType = "conflict"
	EventPhotoProgress EventType = "photo_progress"
	EventError         EventType = "error"
	EventComplete      EventType = "complete"
)

// Event is dispatched to every subscribed listener
type Event struct {
	Type      EventType
	State     State
	Step      string
	Done      int
	Total     int
	ReportID  string
	PhotoID   string
	Percent   int
	Conflicts []models.ConflictInfo
	Err       error
	Summary   *Summary
}

// Listener receives engine events synchronously on the syncing goroutine
type Listener func(Event)

// Summary is the outcome of one sync cycle
type Summary struct {
	StartedAt      time.Time
	FinishedAt     time.Time
	Deduplicated   int
	Uploaded       int
	Conflicts      int
	Resolved       int
	Rejected       []*RejectedError
	Purged         int
	PhotosUploaded int
	PhotosFailed   int
	Bootstrapped   int
}

type subscriber struct {
	id int
	fn Listener
}

// Subscribe registers a listener and returns a function that removes it
func (e *Engine) Subscribe(l Listener) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.subs = append(e.subs, subscriber{id: id, fn: l})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	subs := make([]subscriber, len(e.subs))
	copy(subs, e.subs)
	if ev.State == "" {
		ev.State = e.state
	}
	e.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
