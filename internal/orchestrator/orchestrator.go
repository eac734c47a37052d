// Package orchestrator runs a paid trust-score request through its fixed
// pipeline: resolve terms, check the rate limit, settle the payment,
// fetch analytics, compute the score. Every terminal transition is
// audited and metered.
package orchestrator

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/trustoracle/backend/internal/analytics"
	"github.com/trustoracle/backend/internal/audit"
	"github.com/trustoracle/backend/internal/catalog"
	"github.com/trustoracle/backend/internal/metrics"
	"github.com/trustoracle/backend/internal/negotiation"
	"github.com/trustoracle/backend/internal/ratelimit"
	"github.com/trustoracle/backend/internal/trustscore"
	"github.com/trustoracle/backend/internal/x402"
)

// State marks where in the pipeline a request currently is or ended.
type State string

const (
	StateReceived        State = "RECEIVED"
	StatePricingResolved State = "PRICING_RESOLVED"
	StateRateChecked     State = "RATE_CHECKED"
	StatePaymentChecked  State = "PAYMENT_CHECKED"
	StateScored          State = "SCORED"
	StateRejected        State = "REJECTED"
)

// Request is one inbound trust-score query.
type Request struct {
	AccountID     string // account being scored
	ConsumerID    string // paying agent
	PaymentHeader string // raw X-PAYMENT header, may be empty
	Resource      string // resource URL echoed into payment requirements
}

// ScoreResponse is the delivered product.
type ScoreResponse struct {
	Account    string                `json:"account"`
	Score      int                   `json:"score"`
	Components trustscore.Components `json:"components"`
	RiskFlags  []trustscore.RiskFlag `json:"riskFlags"`
	Degraded   []string              `json:"degraded,omitempty"`
	Timestamp  time.Time             `json:"timestamp"`
	Payment    x402.PaymentStamp     `json:"payment"`
}

// Outcome is the terminal result of one pipeline run. Score is set on
// success; every rejection carries a categorized Err so the error log
// sees each failure path. RetryAfter is set on transient 503 outcomes.
type Outcome struct {
	State        State
	HTTPStatus   int
	Score        *ScoreResponse
	PaymentError *x402.ErrorBody
	RateLimit    *ratelimit.Result
	RetryAfter   time.Duration
	Err          *audit.Error
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	productID   string
	registry    *catalog.Registry
	negotiator  *negotiation.Engine
	limiter     *ratelimit.Limiter
	verifier    *x402.Verifier
	facilitator *x402.Facilitator
	provider    *analytics.Provider
	scorer      *trustscore.Engine
	trail       *audit.Trail
	handler     *audit.Handler
	metrics     *metrics.Metrics
	logger      *log.Logger
}

type Deps struct {
	ProductID   string
	Registry    *catalog.Registry
	Negotiator  *negotiation.Engine
	Limiter     *ratelimit.Limiter
	Verifier    *x402.Verifier
	Facilitator *x402.Facilitator
	Provider    *analytics.Provider
	Scorer      *trustscore.Engine
	Trail       *audit.Trail
	Handler     *audit.Handler
	Metrics     *metrics.Metrics
}

func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		productID:   deps.ProductID,
		registry:    deps.Registry,
		negotiator:  deps.Negotiator,
		limiter:     deps.Limiter,
		verifier:    deps.Verifier,
		facilitator: deps.Facilitator,
		provider:    deps.Provider,
		scorer:      deps.Scorer,
		trail:       deps.Trail,
		handler:     deps.Handler,
		metrics:     deps.Metrics,
		logger:      log.New(log.Writer(), "[ORCHESTRATOR] ", log.LstdFlags),
	}
}

// Handle runs the request through the pipeline and returns its terminal
// outcome. The pipeline order is fixed: the rate limit is checked against
// the consumer's resolved terms before any payment work, so an
// over-quota consumer is rejected whether or not they attached payment.
func (o *Orchestrator) Handle(ctx context.Context, req Request) Outcome {
	start := time.Now()

	if req.AccountID == "" {
		return o.reject(start, Outcome{
			State:      StateRejected,
			HTTPStatus: http.StatusBadRequest,
			Err:        audit.NewValidationError(audit.CodeValidationFailed, "accountId is required"),
		}, req, "missing accountId")
	}

	product, ok := o.registry.Get(o.productID)
	if !ok {
		return o.reject(start, Outcome{
			State:      StateRejected,
			HTTPStatus: http.StatusInternalServerError,
			Err:        audit.NewCriticalError("product "+o.productID+" missing from registry", nil),
		}, req, "product not registered")
	}

	// Terms come from exactly one source: an unexpired acceptance for
	// this (consumer, product) pair, or the registry default.
	price := product.DefaultPrice
	limit := ratelimit.Limit{Calls: product.RateLimit.Calls, PeriodSeconds: product.RateLimit.PeriodSeconds}
	if acc, bound := o.negotiator.ActiveAcceptance(req.ConsumerID, o.productID); bound {
		price = acc.Offer.Price
		limit = ratelimit.Limit{Calls: acc.Offer.RateLimit.Calls, PeriodSeconds: acc.Offer.RateLimit.PeriodSeconds}
	}

	res := o.limiter.Check(req.ConsumerID, limit)
	if !res.Allowed {
		return o.reject(start, Outcome{
			State:      StateRejected,
			HTTPStatus: http.StatusTooManyRequests,
			RateLimit:  &res,
			Err: audit.NewValidationError(audit.CodeRateLimitExceeded, "rate limit exceeded").WithContext(audit.Context{
				AgentID:   req.ConsumerID,
				AccountID: req.AccountID,
			}),
		}, req, "rate limit exceeded")
	}

	reqs := o.facilitator.RequirementsFor(product, price, req.Resource)

	if req.PaymentHeader == "" {
		body := o.facilitator.PaymentRequired(reqs)
		o.countPayment("required")
		return o.reject(start, Outcome{
			State:        StateRejected,
			HTTPStatus:   http.StatusPaymentRequired,
			PaymentError: &body,
			Err:          o.paymentErr(audit.CodePaymentRequired, "request carried no payment", req),
		}, req, "payment required")
	}

	payload, err := x402.DecodeHeader(req.PaymentHeader)
	if err != nil {
		body := o.facilitator.VerificationFailed(reqs, err.Error())
		o.countPayment("invalid")
		return o.reject(start, Outcome{
			State:        StateRejected,
			HTTPStatus:   http.StatusPaymentRequired,
			PaymentError: &body,
			Err:          o.paymentErr(audit.CodePaymentVerificationFailed, "malformed payment header", req),
		}, req, "malformed payment header")
	}

	settled := o.verifier.Settle(ctx, payload, reqs)
	if !settled.Valid {
		body := o.facilitator.VerificationFailed(reqs, settled.Reason)
		o.countPayment("unsettled")
		return o.reject(start, Outcome{
			State:        StateRejected,
			HTTPStatus:   http.StatusPaymentRequired,
			PaymentError: &body,
			Err:          o.paymentErr(audit.CodePaymentVerificationFailed, settled.Reason, req),
		}, req, settled.Reason)
	}
	o.countPayment("verified")

	bundle, err := o.provider.Fetch(ctx, req.AccountID)
	if err != nil {
		return o.reject(start, Outcome{
			State:      StateRejected,
			HTTPStatus: http.StatusServiceUnavailable,
			RetryAfter: o.provider.RetryHint(),
			Err: audit.NewServiceError("analytics unavailable", err).WithContext(audit.Context{
				AgentID:   req.ConsumerID,
				AccountID: req.AccountID,
			}),
		}, req, "analytics unavailable")
	}

	score := o.scorer.Compute(bundle)
	response := &ScoreResponse{
		Account:    score.Account,
		Score:      score.Total,
		Components: score.Components,
		RiskFlags:  score.RiskFlags,
		Degraded:   score.Degraded,
		Timestamp:  time.Now(),
		Payment:    o.facilitator.Stamp(reqs, product.Currency),
	}

	o.logger.Printf("Scored %s for %s: score=%d degraded=%v price=%s",
		req.AccountID, req.ConsumerID, score.Total, score.Degraded, price)

	if o.trail != nil {
		o.trail.Record(audit.EventRequestScored, req.ConsumerID, map[string]any{
			"accountId": req.AccountID,
			"score":     score.Total,
			"degraded":  score.Degraded,
			"price":     price.String(),
		})
	}
	if o.metrics != nil {
		o.metrics.ScoreDistribution.Observe(float64(score.Total))
		o.metrics.RequestsTotal.WithLabelValues("scored").Inc()
		o.metrics.RequestDuration.WithLabelValues("scored").Observe(time.Since(start).Seconds())
	}

	return Outcome{State: StateScored, HTTPStatus: http.StatusOK, Score: response}
}

func (o *Orchestrator) reject(start time.Time, out Outcome, req Request, reason string) Outcome {
	if o.trail != nil {
		o.trail.Record(audit.EventRequestRejected, req.ConsumerID, map[string]any{
			"accountId": req.AccountID,
			"status":    out.HTTPStatus,
			"reason":    reason,
		})
	}
	if o.handler != nil && out.Err != nil {
		o.handler.Handle(out.Err)
	}
	if o.metrics != nil {
		o.metrics.RequestsTotal.WithLabelValues("rejected").Inc()
		o.metrics.RequestDuration.WithLabelValues("rejected").Observe(time.Since(start).Seconds())
	}
	return out
}

func (o *Orchestrator) paymentErr(code, message string, req Request) *audit.Error {
	return audit.NewPaymentError(code, message).WithContext(audit.Context{
		AgentID:   req.ConsumerID,
		AccountID: req.AccountID,
	})
}

func (o *Orchestrator) countPayment(outcome string) {
	if o.metrics != nil {
		o.metrics.PaymentVerifications.WithLabelValues(outcome).Inc()
	}
}
