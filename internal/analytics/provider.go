package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/trustoracle/backend/internal/audit"
	"github.com/trustoracle/backend/internal/metrics"
)

// Bundle is one account's analytics snapshot. Datasets that exhausted
// their retries are nil and listed in Unavailable; the bundle is still
// usable for degraded scoring.
type Bundle struct {
	AccountID    string
	Account      *AccountInfo
	Transactions []Transaction
	Tokens       []TokenBalance
	Messages     []TopicMessage
	Unavailable  []Dataset
	FetchedAt    time.Time
}

// Has reports whether a dataset was fetched successfully.
func (b *Bundle) Has(d Dataset) bool {
	for _, u := range b.Unavailable {
		if u == d {
			return false
		}
	}
	return true
}

// Staleness describes a cached bundle's age relative to the cache TTL.
type Staleness struct {
	Age      time.Duration
	IsStale  bool
	PctOfTTL float64
}

// ErrAllDatasetsUnavailable is returned when every fetch failed; partial
// failure never produces an error.
var ErrAllDatasetsUnavailable = errors.New("all analytics datasets unavailable")

// Provider fetches the four datasets with bounded retries, caches
// complete bundles with a TTL, and coalesces concurrent refreshes of the
// same account through singleflight.
type Provider struct {
	client     MirrorClient
	maxRetries int
	retryBase  time.Duration
	cacheTTL   time.Duration

	mu    sync.RWMutex
	cache map[string]*Bundle

	group   singleflight.Group
	metrics *metrics.Metrics
	handler *audit.Handler
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewProvider wires the provider. handler and m may be nil in tests.
func NewProvider(client MirrorClient, maxRetries int, retryBase, cacheTTL time.Duration, handler *audit.Handler, m *metrics.Metrics) *Provider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}
	return &Provider{
		client:     client,
		maxRetries: maxRetries,
		retryBase:  retryBase,
		cacheTTL:   cacheTTL,
		cache:      make(map[string]*Bundle),
		metrics:    m,
		handler:    handler,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch returns the account's bundle, from cache when fresh. Concurrent
// fetches of the same account share one upstream round trip.
func (p *Provider) Fetch(ctx context.Context, accountID string) (*Bundle, error) {
	p.mu.RLock()
	cached, ok := p.cache[accountID]
	p.mu.RUnlock()
	if ok && time.Since(cached.FetchedAt) < p.cacheTTL {
		if p.metrics != nil {
			p.metrics.AnalyticsCacheHits.Inc()
		}
		return cached, nil
	}
	if p.metrics != nil {
		p.metrics.AnalyticsCacheMiss.Inc()
	}

	result, err, _ := p.group.Do(accountID, func() (any, error) {
		// The fetch outcome is shared across coalesced callers, so one
		// caller's cancellation must not fail the waiters.
		bundle, err := p.fetchAll(context.WithoutCancel(ctx), accountID)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cache[accountID] = bundle
		p.mu.Unlock()
		return bundle, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Bundle), nil
}

// CachedStaleness reports the staleness of the cached bundle for an
// account, without fetching.
func (p *Provider) CachedStaleness(accountID string) (Staleness, bool) {
	p.mu.RLock()
	bundle, ok := p.cache[accountID]
	p.mu.RUnlock()
	if !ok {
		return Staleness{}, false
	}
	return p.StalenessOf(bundle), true
}

// RetryHint is the delay to suggest to callers after a total fetch
// failure. The retry budget is spent by the time Fetch errors, so the
// next worthwhile attempt is a cache TTL away.
func (p *Provider) RetryHint() time.Duration {
	return p.cacheTTL
}

// StalenessOf computes the staleness indicator for any bundle.
func (p *Provider) StalenessOf(bundle *Bundle) Staleness {
	age := time.Since(bundle.FetchedAt)
	return Staleness{
		Age:      age,
		IsStale:  age >= p.cacheTTL,
		PctOfTTL: float64(age) / float64(p.cacheTTL) * 100,
	}
}

// fetchAll pulls the four datasets independently. One dataset exhausting
// its retries does not abort the others.
func (p *Provider) fetchAll(ctx context.Context, accountID string) (*Bundle, error) {
	bundle := &Bundle{AccountID: accountID, FetchedAt: time.Now()}

	if err := p.withRetry(ctx, DatasetAccount, func() error {
		account, err := p.client.AccountInfo(ctx, accountID)
		if err != nil {
			return err
		}
		bundle.Account = account
		return nil
	}); err != nil {
		bundle.Unavailable = append(bundle.Unavailable, DatasetAccount)
	}

	if err := p.withRetry(ctx, DatasetTransactions, func() error {
		txs, err := p.client.Transactions(ctx, accountID)
		if err != nil {
			return err
		}
		bundle.Transactions = txs
		return nil
	}); err != nil {
		bundle.Unavailable = append(bundle.Unavailable, DatasetTransactions)
	}

	if err := p.withRetry(ctx, DatasetTokens, func() error {
		tokens, err := p.client.TokenBalances(ctx, accountID)
		if err != nil {
			return err
		}
		bundle.Tokens = tokens
		return nil
	}); err != nil {
		bundle.Unavailable = append(bundle.Unavailable, DatasetTokens)
	}

	if err := p.withRetry(ctx, DatasetMessages, func() error {
		messages, err := p.client.TopicMessages(ctx, accountID)
		if err != nil {
			return err
		}
		bundle.Messages = messages
		return nil
	}); err != nil {
		bundle.Unavailable = append(bundle.Unavailable, DatasetMessages)
	}

	if len(bundle.Unavailable) == 4 {
		err := audit.NewServiceError("analytics provider fully unavailable", nil).WithContext(audit.Context{
			AccountID: accountID,
		})
		if p.handler != nil {
			p.handler.Handle(err)
		}
		return nil, ErrAllDatasetsUnavailable
	}
	return bundle, nil
}

// withRetry runs fn with at most maxRetries retries. Delay doubles each
// attempt; a provider 429 overrides the schedule with its retry-after.
// Context cancellation is non-retryable and surfaces immediately.
func (p *Provider) withRetry(ctx context.Context, dataset Dataset, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.retryBase << (attempt - 1)
			var rateLimited *RateLimitedError
			if errors.As(lastErr, &rateLimited) {
				delay = rateLimited.RetryAfter
			}
			if p.metrics != nil {
				p.metrics.AnalyticsRetries.WithLabelValues(string(dataset)).Inc()
			}
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			break
		}
		slog.Warn("analytics fetch failed", "dataset", dataset, "attempt", attempt+1, "error", lastErr)
	}

	slog.Warn("dataset marked unavailable", "dataset", dataset, "error", lastErr)
	if p.metrics != nil {
		p.metrics.AnalyticsFailures.WithLabelValues(string(dataset)).Inc()
	}
	if p.handler != nil {
		p.handler.Handle(audit.NewServiceError(
			"dataset "+string(dataset)+" unavailable after retries", lastErr))
	}
	return lastErr
}
