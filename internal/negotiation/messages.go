// Package negotiation implements the AP2 sub-protocol: a buyer sends a
// NEGOTIATE request, the producer answers with a time-bounded OFFER, and
// an ACCEPT before expiry binds the session to the offered terms.
package negotiation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/trustoracle/backend/internal/catalog"
)

// MessageType is the closed set of AP2 message kinds. Dispatch over these
// is an exhaustive switch, not a handler map, so an unhandled kind is a
// compile-visible default case rather than a runtime lookup miss.
type MessageType string

const (
	TypeNegotiate MessageType = "AP2::NEGOTIATE"
	TypeOffer     MessageType = "AP2::OFFER"
	TypeAccept    MessageType = "AP2::ACCEPT"
)

// Request is the buyer's AP2::NEGOTIATE message.
type Request struct {
	Type         MessageType       `json:"type"`
	ProductID    string            `json:"productId"`
	BuyerAgentID string            `json:"buyerAgentId"`
	MaxPrice     decimal.Decimal   `json:"maxPrice"`
	Currency     string            `json:"currency"`
	RateLimit    catalog.RateLimit `json:"rateLimit"`
	Timestamp    time.Time         `json:"timestamp"`
}

// OfferMetadata identifies the producer and when the offer was cut.
type OfferMetadata struct {
	ProducerAgentID string    `json:"producerAgentId"`
	Timestamp       time.Time `json:"timestamp"`
}

// Offer is the producer's AP2::OFFER message. ValidUntil is epoch
// milliseconds; the offer self-expires by timestamp comparison at use
// time — no timer is armed.
type Offer struct {
	Type       MessageType       `json:"type"`
	ID         string            `json:"offerId"`
	ProductID  string            `json:"productId"`
	Price      decimal.Decimal   `json:"price"`
	Currency   string            `json:"currency"`
	Slippage   decimal.Decimal   `json:"slippage"`
	RateLimit  catalog.RateLimit `json:"rateLimit"`
	SLA        catalog.SLA       `json:"sla"`
	ValidUntil int64             `json:"validUntil"`
	Metadata   OfferMetadata     `json:"metadata"`
}

// Expired reports whether the offer is past its ValidUntil at the given
// instant.
func (o *Offer) Expired(now time.Time) bool {
	return now.UnixMilli() > o.ValidUntil
}

// Acceptance binds a buyer to an offer's terms. Terms stay in force
// until TermsValidUntil regardless of the offer's own expiry.
type Acceptance struct {
	Offer           Offer     `json:"offer"`
	BuyerAgentID    string    `json:"buyerAgentId"`
	AcceptedAt      time.Time `json:"acceptedAt"`
	TermsValidUntil time.Time `json:"termsValidUntil"`
}
