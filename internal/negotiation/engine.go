package negotiation

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trustoracle/backend/internal/audit"
	"github.com/trustoracle/backend/internal/catalog"
)

var (
	ErrOfferNotFound = errors.New("offer not found")
	ErrOfferExpired  = errors.New("offer expired")
	ErrOfferConsumed = errors.New("offer already accepted")
)

// How long accepted terms stay in force. Offers expire fast so quotes
// don't go stale; a session bound by an acceptance keeps its terms for
// the full day, covering the longest default rate-limit window.
const defaultSessionTTL = 24 * time.Hour

// Engine constructs and validates AP2 messages and tracks the offers it
// has issued and the acceptances binding buyer sessions.
type Engine struct {
	mu          sync.Mutex
	offers      map[string]*Offer
	consumed    map[string]bool        // offerID -> accepted
	acceptances map[string]*Acceptance // buyerID|productID -> latest acceptance
	registry    *catalog.Registry
	trail       *audit.Trail
	offerTTL    time.Duration
	sessionTTL  time.Duration
	producerID  string
	logger      *log.Logger
	now         func() time.Time
}

// NewEngine creates a negotiation engine issuing offers on behalf of
// producerID, valid for offerTTL.
func NewEngine(registry *catalog.Registry, trail *audit.Trail, producerID string, offerTTL time.Duration) *Engine {
	if offerTTL <= 0 {
		offerTTL = 5 * time.Minute
	}
	return &Engine{
		offers:      make(map[string]*Offer),
		consumed:    make(map[string]bool),
		acceptances: make(map[string]*Acceptance),
		registry:    registry,
		trail:       trail,
		offerTTL:    offerTTL,
		sessionTTL:  defaultSessionTTL,
		producerID:  producerID,
		logger:      log.New(log.Writer(), "[AP2] ", log.LstdFlags),
		now:         time.Now,
	}
}

// NewRequest builds a validated AP2::NEGOTIATE message for a buyer.
func NewRequest(productID, buyerAgentID string, maxPrice decimal.Decimal, currency string, rateLimit catalog.RateLimit) (*Request, error) {
	if productID == "" || buyerAgentID == "" {
		return nil, audit.NewValidationError(audit.CodeValidationFailed, "productId and buyerAgentId are required")
	}
	if maxPrice.LessThanOrEqual(decimal.Zero) {
		return nil, audit.NewValidationError(audit.CodeValidationFailed, "maxPrice must be positive")
	}
	if rateLimit.Calls <= 0 || rateLimit.PeriodSeconds <= 0 {
		return nil, audit.NewValidationError(audit.CodeValidationFailed, "rateLimit calls and period must be positive")
	}
	return &Request{
		Type:         TypeNegotiate,
		ProductID:    productID,
		BuyerAgentID: buyerAgentID,
		MaxPrice:     maxPrice,
		Currency:     currency,
		RateLimit:    rateLimit,
		Timestamp:    time.Now(),
	}, nil
}

// CreateOffer answers a NEGOTIATE with an AP2::OFFER. The offered price
// is the lesser of the buyer's ceiling and the registry default; the
// requested rate limit is granted as asked, and SLA comes from the
// registry. Zero-valued rate limits fall back to the product default.
func (e *Engine) CreateOffer(req *Request) (*Offer, error) {
	product, ok := e.registry.Get(req.ProductID)
	if !ok {
		return nil, audit.NewValidationError(audit.CodeValidationFailed,
			fmt.Sprintf("unknown product %s", req.ProductID))
	}

	price := product.DefaultPrice
	if req.MaxPrice.LessThan(price) {
		price = req.MaxPrice
	}

	rateLimit := req.RateLimit
	if rateLimit.Calls == 0 && rateLimit.PeriodSeconds == 0 {
		rateLimit = product.RateLimit
	}

	now := e.now()
	offer := &Offer{
		Type:       TypeOffer,
		ID:         uuid.New().String(),
		ProductID:  product.ID,
		Price:      price,
		Currency:   product.Currency,
		Slippage:   decimal.Zero,
		RateLimit:  rateLimit,
		SLA:        product.SLA,
		ValidUntil: now.Add(e.offerTTL).UnixMilli(),
		Metadata: OfferMetadata{
			ProducerAgentID: e.producerID,
			Timestamp:       now,
		},
	}

	e.mu.Lock()
	e.offers[offer.ID] = offer
	e.mu.Unlock()

	e.logger.Printf("Offer %s: product=%s price=%s %s limit=%d/%ds validUntil=%d",
		offer.ID, offer.ProductID, offer.Price, offer.Currency,
		offer.RateLimit.Calls, offer.RateLimit.PeriodSeconds, offer.ValidUntil)

	if e.trail != nil {
		e.trail.Record(audit.EventOfferCreated, req.BuyerAgentID, map[string]any{
			"offerId":   offer.ID,
			"productId": offer.ProductID,
			"price":     offer.Price.String(),
		})
	}
	return offer, nil
}

// AcceptOffer consumes an unexpired offer exactly once, binding the
// buyer's session to its terms. The buyer's next paid request uses these
// terms instead of registry defaults.
func (e *Engine) AcceptOffer(offerID, buyerAgentID string) (*Acceptance, error) {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	offer, ok := e.offers[offerID]
	if !ok {
		return nil, ErrOfferNotFound
	}
	if offer.Expired(now) {
		if e.trail != nil {
			e.trail.Record(audit.EventOfferExpired, buyerAgentID, map[string]any{
				"offerId": offerID,
			})
		}
		return nil, ErrOfferExpired
	}
	if e.consumed[offerID] {
		return nil, ErrOfferConsumed
	}
	e.consumed[offerID] = true

	acceptance := &Acceptance{
		Offer:           *offer,
		BuyerAgentID:    buyerAgentID,
		AcceptedAt:      now,
		TermsValidUntil: now.Add(e.sessionTTL),
	}
	e.acceptances[buyerAgentID+"|"+offer.ProductID] = acceptance

	e.logger.Printf("✅ Offer %s accepted by %s (terms until %s)",
		offerID, buyerAgentID, acceptance.TermsValidUntil.Format(time.RFC3339))

	if e.trail != nil {
		e.trail.Record(audit.EventOfferAccepted, buyerAgentID, map[string]any{
			"offerId":   offerID,
			"productId": offer.ProductID,
			"price":     offer.Price.String(),
		})
	}
	return acceptance, nil
}

// ActiveAcceptance returns the binding acceptance for a (buyer, product)
// pair if its terms are still in force. The orchestrator consults this
// before falling back to registry defaults.
func (e *Engine) ActiveAcceptance(buyerAgentID, productID string) (*Acceptance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acc, ok := e.acceptances[buyerAgentID+"|"+productID]
	if !ok || e.now().After(acc.TermsValidUntil) {
		return nil, false
	}
	return acc, true
}
