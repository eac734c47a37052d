// Package connection tracks agent-to-agent connection records: opened on
// first interaction, established or rejected during setup, and closed
// with an audit event on termination.
package connection

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trustoracle/backend/internal/audit"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusEstablished Status = "established"
	StatusClosed      Status = "closed"
	StatusRejected    Status = "rejected"
)

// Connection is one agent relationship over a connection topic.
type Connection struct {
	ID            string     `json:"connectionId"`
	AgentID       string     `json:"agentId"`
	TopicID       string     `json:"connectionTopicId"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	EstablishedAt *time.Time `json:"establishedAt,omitempty"`
	ClosedAt      *time.Time `json:"closedAt,omitempty"`
}

// Manager owns the connection records.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	trail       *audit.Trail
}

func NewManager(trail *audit.Trail) *Manager {
	return &Manager{
		connections: make(map[string]*Connection),
		trail:       trail,
	}
}

// Open creates a pending connection for an agent.
func (m *Manager) Open(agentID, topicID string) (*Connection, error) {
	if agentID == "" {
		return nil, audit.NewValidationError(audit.CodeValidationFailed, "agentId is required")
	}

	conn := &Connection{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		TopicID:   topicID,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.connections[conn.ID] = conn
	m.mu.Unlock()

	if m.trail != nil {
		m.trail.Record(audit.EventConnectionOpened, agentID, map[string]any{
			"connectionId": conn.ID,
			"topicId":      topicID,
		})
	}
	return conn, nil
}

// Establish moves a pending connection to established. EstablishedAt is
// set exactly once.
func (m *Manager) Establish(id string) (*Connection, error) {
	return m.transition(id, StatusPending, StatusEstablished, func(c *Connection, now time.Time) {
		c.EstablishedAt = &now
	}, "")
}

// Reject moves a pending connection to rejected.
func (m *Manager) Reject(id string) (*Connection, error) {
	return m.transition(id, StatusPending, StatusRejected, nil, "")
}

// Close terminates an established connection. ClosedAt is set exactly
// once and the termination is audited.
func (m *Manager) Close(id string) (*Connection, error) {
	return m.transition(id, StatusEstablished, StatusClosed, func(c *Connection, now time.Time) {
		c.ClosedAt = &now
	}, audit.EventConnectionClosed)
}

func (m *Manager) transition(id string, from, to Status, stamp func(*Connection, time.Time), event audit.EventType) (*Connection, error) {
	m.mu.Lock()
	conn, ok := m.connections[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("connection %s not found", id)
	}
	if conn.Status != from {
		m.mu.Unlock()
		return nil, fmt.Errorf("connection %s is %s, cannot transition to %s", id, conn.Status, to)
	}
	conn.Status = to
	if stamp != nil {
		stamp(conn, time.Now())
	}
	snapshot := *conn
	m.mu.Unlock()

	if event != "" && m.trail != nil {
		m.trail.Record(event, snapshot.AgentID, map[string]any{
			"connectionId": snapshot.ID,
		})
	}
	return &snapshot, nil
}

// Get returns a snapshot of one connection.
func (m *Manager) Get(id string) (Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.connections[id]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// List returns snapshots of all connections.
func (m *Manager) List() []Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Connection, 0, len(m.connections))
	for _, c := range m.connections {
		out = append(out, *c)
	}
	return out
}
