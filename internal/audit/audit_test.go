package audit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureChannel struct {
	mu      sync.Mutex
	entries []*ErrorLogEntry
}

func (c *captureChannel) Alert(entry *ErrorLogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func TestHandleCategorizedError(t *testing.T) {
	h := NewHandler(false)

	err := NewPaymentError(CodePaymentRequired, "no payment presented").WithContext(Context{
		AgentID:   "buyer-1",
		AccountID: "0.0.12345",
	})
	entry := h.Handle(err)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, CategoryPayment, entry.Category)
	assert.Equal(t, CodePaymentRequired, entry.Code)
	assert.Equal(t, "buyer-1", entry.Context.AgentID)
	assert.False(t, entry.Resolved)
	assert.Empty(t, entry.StackTrace)
}

func TestHandlePlainErrorBecomesCritical(t *testing.T) {
	h := NewHandler(false)

	entry := h.Handle(errors.New("nil pointer somewhere"))

	assert.Equal(t, CategoryCritical, entry.Category)
	assert.Equal(t, SeverityCritical, entry.Severity)
	assert.NotEmpty(t, entry.StackTrace)
}

func TestCriticalTriggersAlert(t *testing.T) {
	ch := &captureChannel{}
	h := NewHandler(true, ch)

	h.Handle(NewCriticalError("panic recovered", nil))
	h.Handle(NewValidationError(CodeValidationFailed, "bad account id"))

	ch.mu.Lock()
	defer ch.mu.Unlock()
	require.Len(t, ch.entries, 1)
	assert.Equal(t, CategoryCritical, ch.entries[0].Category)
}

func TestQueryANDSemantics(t *testing.T) {
	h := NewHandler(false)

	h.Handle(NewPaymentError(CodePaymentRequired, "a").WithContext(Context{AgentID: "alice"}))
	h.Handle(NewPaymentError(CodePaymentVerificationFailed, "b").WithContext(Context{AgentID: "bob"}))
	h.Handle(NewValidationError(CodeValidationFailed, "c").WithContext(Context{AgentID: "alice"}))

	all := h.Query(Filter{})
	assert.Len(t, all, 3)

	payments := h.Query(Filter{Category: CategoryPayment})
	assert.Len(t, payments, 2)

	alicePayments := h.Query(Filter{Category: CategoryPayment, AgentID: "alice"})
	require.Len(t, alicePayments, 1)
	assert.Equal(t, CodePaymentRequired, alicePayments[0].Code)

	future := h.Query(Filter{From: time.Now().Add(time.Hour)})
	assert.Empty(t, future)
}

func TestResolveFlag(t *testing.T) {
	h := NewHandler(false)
	entry := h.Handle(NewServiceError("mirror down", nil))

	require.True(t, h.Resolve(entry.ID))
	assert.True(t, h.Query(Filter{})[0].Resolved)
	assert.False(t, h.Resolve("no-such-id"))
}

func TestTrailRecordsAndFilters(t *testing.T) {
	trail := NewTrail(nil)

	trail.Record(EventOfferCreated, "producer-1", map[string]any{"offerId": "o1"})
	trail.Record(EventRateLimitViolation, "buyer-1", map[string]any{"count": 101})
	trail.Record(EventOfferCreated, "producer-1", nil)

	assert.Len(t, trail.Events(""), 3)
	assert.Len(t, trail.Events(EventOfferCreated), 2)

	violations := trail.Events(EventRateLimitViolation)
	require.Len(t, violations, 1)
	assert.Equal(t, "buyer-1", violations[0].AgentID)
	assert.NotEmpty(t, violations[0].ID)
}
