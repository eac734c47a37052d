package audit

import (
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrorLogEntry is the persisted record of one handled error. Immutable
// after creation except for the Resolved flag.
type ErrorLogEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Category   Category  `json:"category"`
	Severity   Severity  `json:"severity"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	StackTrace string    `json:"stackTrace,omitempty"`
	Context    Context   `json:"context"`
	Resolved   bool      `json:"resolved"`
}

// Filter selects log entries. Zero-valued fields are ignored; provided
// fields combine with AND semantics.
type Filter struct {
	Category Category
	AgentID  string
	From     time.Time
	To       time.Time
}

// Handler records every handled error, keeps the queryable log, and
// pushes CRITICAL entries to the configured alert channels.
type Handler struct {
	mu       sync.RWMutex
	entries  []*ErrorLogEntry
	byID     map[string]*ErrorLogEntry
	alerting bool
	channels []AlertChannel
	logger   *log.Logger
}

// NewHandler creates an error handler. If alerting is enabled and no
// channel is configured, a default log-backed channel is installed.
func NewHandler(alerting bool, channels ...AlertChannel) *Handler {
	if alerting && len(channels) == 0 {
		channels = []AlertChannel{NewLogChannel()}
	}
	return &Handler{
		byID:     make(map[string]*ErrorLogEntry),
		alerting: alerting,
		channels: channels,
		logger:   log.New(log.Writer(), "[AUDIT] ", log.LstdFlags),
	}
}

// Handle logs err and returns the created entry. Plain errors are wrapped
// as CRITICAL since an uncategorized failure reaching the handler is by
// definition unexpected.
func (h *Handler) Handle(err error) *ErrorLogEntry {
	ae, ok := err.(*Error)
	if !ok {
		ae = NewCriticalError("unexpected internal failure", err)
	}

	entry := &ErrorLogEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Category:  ae.Category,
		Severity:  ae.Severity,
		Code:      ae.Code,
		Message:   ae.Message,
		Context:   ae.Context,
	}
	if ae.Category == CategoryCritical {
		entry.StackTrace = string(debug.Stack())
	}

	h.mu.Lock()
	h.entries = append(h.entries, entry)
	h.byID[entry.ID] = entry
	h.mu.Unlock()

	h.logger.Printf("%s %s: %s (agent=%s account=%s)",
		entry.Category, entry.Code, entry.Message, entry.Context.AgentID, entry.Context.AccountID)

	if h.alerting && entry.Severity == SeverityCritical {
		for _, ch := range h.channels {
			ch.Alert(entry)
		}
	}
	return entry
}

// Query returns entries matching the AND of all provided filters. An
// empty filter returns every entry.
func (h *Handler) Query(f Filter) []*ErrorLogEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*ErrorLogEntry
	for _, e := range h.entries {
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.AgentID != "" && e.Context.AgentID != f.AgentID {
			continue
		}
		if !f.From.IsZero() && e.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.Timestamp.After(f.To) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Resolve flips the only mutable field of an entry.
func (h *Handler) Resolve(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.byID[id]
	if !ok {
		return false
	}
	e.Resolved = true
	return true
}

// Len reports the number of logged entries.
func (h *Handler) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
