package annotation

import (
	"log"
	"strings"
	"sync"
)

const (
	EventCommentAdded   = "comment-added"
	EventCommentRemoved = "comment-removed"
	EventCommentPruned  = "comment-pruned"
	EventCommentUpdated = "comment-updated"
	EventValidation     = "validation"
	EventPersistence    = "persistence"
)

// Event is a human-readable notification emitted by the engine.
type Event struct {
	Kind       string   `json:"kind"`
	DocumentID string   `json:"documentId"`
	Message    string   `json:"message"`
	CommentIDs []string `json:"commentIds,omitempty"`
}

// Notifier receives engine events. Implementations must not call back into
// the engine.
type Notifier interface {
	Notify(Event)
}

// LogNotifier writes events to the standard logger.
type LogNotifier struct{}

func (LogNotifier) Notify(e Event) {
	ids := ""
	if len(e.CommentIDs) > 0 {
		ids = " comments=" + strings.Join(e.CommentIDs, ",")
	}
	log.Printf("annotation: %s doc=%s%s %s", e.Kind, e.DocumentID, ids, e.Message)
}

// Recorder collects events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Drain returns the recorded events and forgets them.
func (r *Recorder) Drain() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := r.events
	r.events = nil
	if events == nil {
		events = []Event{}
	}
	return events
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// MultiNotifier fans events out in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(e)
		}
	}
}
