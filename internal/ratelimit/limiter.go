// Package ratelimit enforces per-consumer call quotas within rolling
// windows. Limits come from negotiated session terms when present,
// otherwise from the product registry default.
package ratelimit

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/trustoracle/backend/internal/audit"
	"github.com/trustoracle/backend/internal/metrics"
)

// Limit is a quota of Calls per PeriodSeconds.
type Limit struct {
	Calls         int
	PeriodSeconds int
}

func (l Limit) IsZero() bool { return l.Calls == 0 && l.PeriodSeconds == 0 }

func (l Limit) key(consumerID string) string {
	return fmt.Sprintf("%s|%d|%d", consumerID, l.Calls, l.PeriodSeconds)
}

// Result reports the outcome of one quota check.
type Result struct {
	Allowed    bool
	Count      int
	Limit      Limit
	ResetAt    time.Time
	RetryAfter time.Duration
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter tracks call counts per (consumer, limit-config) key. Exactly one
// window exists per active key; the count within a window only grows, and
// the window is rebuilt with count 0 on the first call at or after resetAt.
type Limiter struct {
	mu         sync.Mutex
	windows    map[string]*window
	violations map[string]int // consumerID -> violations this session
	defaults   Limit
	threshold  int // violations before the audit trail hears about it
	trail      *audit.Trail
	metrics    *metrics.Metrics
	logger     *log.Logger
	now        func() time.Time
}

// NewLimiter creates a limiter with the given default limit, applied when
// a caller passes a zero-valued limit. trail and m may be nil in tests.
func NewLimiter(defaults Limit, violationThreshold int, trail *audit.Trail, m *metrics.Metrics) *Limiter {
	if defaults.IsZero() {
		defaults = Limit{Calls: 100, PeriodSeconds: 86400}
	}
	if violationThreshold <= 0 {
		violationThreshold = 1
	}
	l := &Limiter{
		windows:    make(map[string]*window),
		violations: make(map[string]int),
		defaults:   defaults,
		threshold:  violationThreshold,
		trail:      trail,
		metrics:    m,
		logger:     log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
		now:        time.Now,
	}

	go l.cleanup()
	return l
}

// Check counts one call against the consumer's active window and reports
// whether it is within the limit. The count advances whether or not the
// call is allowed; exceeding the limit only changes the response.
func (l *Limiter) Check(consumerID string, limit Limit) Result {
	if limit.IsZero() {
		limit = l.defaults
	}
	period := time.Duration(limit.PeriodSeconds) * time.Second
	key := limit.key(consumerID)
	now := l.now()

	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(period)}
		l.windows[key] = w
	}
	w.count++
	count := w.count
	resetAt := w.resetAt

	allowed := count <= limit.Calls
	var violationCount int
	if !allowed {
		l.violations[consumerID]++
		violationCount = l.violations[consumerID]
	}
	l.mu.Unlock()

	res := Result{
		Allowed:    allowed,
		Count:      count,
		Limit:      limit,
		ResetAt:    resetAt,
		RetryAfter: time.Until(resetAt),
	}

	if !allowed {
		l.logger.Printf("🚫 Rate limit exceeded: consumer=%s count=%d limit=%d/%ds",
			consumerID, count, limit.Calls, limit.PeriodSeconds)
		if l.metrics != nil {
			l.metrics.RateLimitViolations.WithLabelValues(consumerID).Inc()
		}
		if l.trail != nil && violationCount > l.threshold {
			l.trail.Record(audit.EventRateLimitViolation, consumerID, map[string]any{
				"calls":          limit.Calls,
				"periodSeconds":  limit.PeriodSeconds,
				"callCount":      count,
				"violationCount": violationCount,
			})
		}
	}
	return res
}

// Violations reports how many rejected calls a consumer has accumulated.
func (l *Limiter) Violations(consumerID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.violations[consumerID]
}

// ActiveWindows reports how many keys currently hold a window.
func (l *Limiter) ActiveWindows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// cleanup periodically evicts expired windows so idle consumers don't
// leak memory.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		now := l.now()
		for key, w := range l.windows {
			if !now.Before(w.resetAt) {
				delete(l.windows, key)
			}
		}
		l.mu.Unlock()
	}
}
