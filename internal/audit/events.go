package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies an audit trail event.
type EventType string

const (
	EventOfferCreated       EventType = "negotiation.offer.created"
	EventOfferAccepted      EventType = "negotiation.offer.accepted"
	EventOfferExpired       EventType = "negotiation.offer.expired"
	EventRateLimitViolation EventType = "ratelimit.violation"
	EventConnectionOpened   EventType = "connection.opened"
	EventConnectionClosed   EventType = "connection.closed"
	EventRequestScored      EventType = "request.scored"
	EventRequestRejected    EventType = "request.rejected"
	EventPriceUpdated       EventType = "catalog.price.updated"
)

// Event is one append-only audit record.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	AgentID   string         `json:"agentId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventPublisher pushes events beyond the local trail (e.g. Redis pub/sub).
// Publish must not block the caller's request path.
type EventPublisher interface {
	Publish(event *Event)
}

// Trail is the in-process append-only audit channel. An optional
// publisher mirrors every event to an external sink; the local trail is
// always written first so a publisher outage loses nothing.
type Trail struct {
	mu        sync.RWMutex
	events    []*Event
	publisher EventPublisher
}

func NewTrail(publisher EventPublisher) *Trail {
	return &Trail{publisher: publisher}
}

// Record appends an event to the trail and mirrors it to the publisher.
func (t *Trail) Record(eventType EventType, agentID string, data map[string]any) *Event {
	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		AgentID:   agentID,
		Data:      data,
	}

	t.mu.Lock()
	t.events = append(t.events, event)
	t.mu.Unlock()

	if t.publisher != nil {
		t.publisher.Publish(event)
	}
	return event
}

// Events returns a snapshot of the trail, optionally filtered by type.
func (t *Trail) Events(eventType EventType) []*Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Event
	for _, e := range t.events {
		if eventType != "" && e.Type != eventType {
			continue
		}
		out = append(out, e)
	}
	return out
}
