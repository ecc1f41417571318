// Package audit keeps the append-only trail of everything that happens
// to a drift: state transitions, human actions, failures, writebacks.
// Records are never deleted; retention only redacts payloads.
package audit

import (
	"sync"
	"time"
)

// ActorType identifies who performed an action.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
	ActorBot    ActorType = "bot"
)

// Event types recorded on the trail.
const (
	EventStateTransition = "state_transition"
	EventHumanAction     = "human_action"
	EventFailure         = "failure"
	EventNotification    = "notification"
	EventWriteback       = "writeback"
	EventRetention       = "retention_applied"
)

// Event is a single audit trail record.
type Event struct {
	ID                string    `json:"id"`
	WorkspaceID       string    `json:"workspace_id"`
	Timestamp         time.Time `json:"timestamp"`
	EntityType        string    `json:"entity_type"`
	EntityID          string    `json:"entity_id"`
	EventType         string    `json:"event_type"`
	ActorType         ActorType `json:"actor_type"`
	ActorID           string    `json:"actor_id,omitempty"`
	FromState         string    `json:"from_state,omitempty"`
	ToState           string    `json:"to_state,omitempty"`
	Summary           string    `json:"summary"`
	Payload           string    `json:"payload,omitempty"`
	RequiresRetention bool      `json:"requires_retention,omitempty"`
	ComplianceTag     string    `json:"compliance_tag,omitempty"`
}

// Feed fans out audit events to in-process subscribers, feeding the
// live stream endpoint. Slow subscribers drop events rather than block
// the writer.
type Feed struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewFeed creates an empty Feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a listener. The returned cancel func must be
// called when done.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to all current subscribers.
func (f *Feed) Publish(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
