package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustoracle/backend/internal/audit"
)

func TestCountMonotoneWithinWindow(t *testing.T) {
	l := NewLimiter(Limit{Calls: 5, PeriodSeconds: 60}, 1, nil, nil)

	var last int
	for i := 1; i <= 8; i++ {
		res := l.Check("consumer-1", Limit{})
		assert.GreaterOrEqual(t, res.Count, last, "count must never decrease within a window")
		assert.Equal(t, i, res.Count, "count advances on every call, allowed or not")
		last = res.Count

		if i <= 5 {
			assert.True(t, res.Allowed)
		} else {
			assert.False(t, res.Allowed)
			assert.Positive(t, res.RetryAfter)
		}
	}
}

func TestWindowResetsExactlyAtResetAt(t *testing.T) {
	l := NewLimiter(Limit{Calls: 2, PeriodSeconds: 60}, 1, nil, nil)
	base := time.Now()
	current := base
	l.now = func() time.Time { return current }

	first := l.Check("c", Limit{})
	l.Check("c", Limit{})
	res := l.Check("c", Limit{})
	assert.False(t, res.Allowed)

	// One nanosecond before resetAt: still the same window.
	current = first.ResetAt.Add(-time.Nanosecond)
	res = l.Check("c", Limit{})
	assert.False(t, res.Allowed)
	assert.Equal(t, 4, res.Count)

	// Exactly at resetAt: window rebuilt, count restarts at 1.
	current = first.ResetAt
	res = l.Check("c", Limit{})
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, first.ResetAt.Add(60*time.Second), res.ResetAt)
}

func TestDefaultLimitApplied(t *testing.T) {
	l := NewLimiter(Limit{}, 1, nil, nil)

	res := l.Check("anon", Limit{})
	assert.Equal(t, 100, res.Limit.Calls)
	assert.Equal(t, 86400, res.Limit.PeriodSeconds)
}

func TestNegotiatedLimitSeparateKey(t *testing.T) {
	l := NewLimiter(Limit{Calls: 100, PeriodSeconds: 86400}, 1, nil, nil)
	negotiated := Limit{Calls: 2, PeriodSeconds: 3600}

	l.Check("c", negotiated)
	l.Check("c", negotiated)
	res := l.Check("c", negotiated)
	assert.False(t, res.Allowed)

	// Default-keyed window is independent of the negotiated one.
	res = l.Check("c", Limit{})
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 2, l.ActiveWindows())
}

func TestRepeatedViolationsAudited(t *testing.T) {
	trail := audit.NewTrail(nil)
	l := NewLimiter(Limit{Calls: 1, PeriodSeconds: 60}, 1, trail, nil)

	l.Check("abuser", Limit{})
	l.Check("abuser", Limit{}) // first violation: under threshold, not audited
	assert.Empty(t, trail.Events(audit.EventRateLimitViolation))

	l.Check("abuser", Limit{}) // second violation: audited
	events := trail.Events(audit.EventRateLimitViolation)
	require.Len(t, events, 1)
	assert.Equal(t, "abuser", events[0].AgentID)
	assert.Equal(t, 2, events[0].Data["violationCount"])
	assert.Equal(t, 2, l.Violations("abuser"))
}

func TestConcurrentChecksLoseNoCounts(t *testing.T) {
	l := NewLimiter(Limit{Calls: 1000, PeriodSeconds: 3600}, 1, nil, nil)

	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				l.Check("parallel", Limit{})
			}
		}()
	}
	wg.Wait()

	res := l.Check("parallel", Limit{})
	assert.Equal(t, goroutines*perGoroutine+1, res.Count)
}
