package x402

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trustoracle/backend/internal/catalog"
)

// Facilitator builds the payment-requirements documents and the 402
// error bodies for the producer's priced resources.
type Facilitator struct {
	payTo             string
	network           string
	asset             string
	maxTimeoutSeconds int
}

// NewFacilitator configures the facilitator with the producer's receiving
// account and network.
func NewFacilitator(payTo, network, asset string, maxTimeoutSeconds int) *Facilitator {
	if maxTimeoutSeconds <= 0 {
		maxTimeoutSeconds = 60
	}
	return &Facilitator{
		payTo:             payTo,
		network:           network,
		asset:             asset,
		maxTimeoutSeconds: maxTimeoutSeconds,
	}
}

// RequirementsFor issues the immutable payment-requirements document for
// one resource instance at the given (negotiated or default) price.
func (f *Facilitator) RequirementsFor(product catalog.Product, price decimal.Decimal, resource string) PaymentRequirements {
	return PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           f.network,
		Asset:             f.asset,
		PayTo:             f.payTo,
		MaxAmountRequired: price.String(),
		Resource:          resource,
		Description:       fmt.Sprintf("%s (%s)", product.Name, product.Version),
		MimeType:          "application/json",
		MaxTimeoutSeconds: f.maxTimeoutSeconds,
	}
}

// PaymentRequired builds the 402 body for a request with no valid payment.
// Reproducible: a retrying client receives the same requirements.
func (f *Facilitator) PaymentRequired(reqs PaymentRequirements) ErrorBody {
	return ErrorBody{Error: ErrorDetail{
		Code:      "PAYMENT_REQUIRED",
		Message:   fmt.Sprintf("payment of %s %s to %s is required for %s", reqs.MaxAmountRequired, reqs.Asset, reqs.PayTo, reqs.Resource),
		Payment:   reqs,
		Timestamp: time.Now(),
	}}
}

// VerificationFailed builds the 402 body for a payment that did not
// settle, carrying the reason and the same requirements so the client can
// pay again.
func (f *Facilitator) VerificationFailed(reqs PaymentRequirements, reason string) ErrorBody {
	return ErrorBody{Error: ErrorDetail{
		Code:      "PAYMENT_VERIFICATION_FAILED",
		Message:   "payment could not be verified on-chain",
		Reason:    reason,
		Payment:   reqs,
		Timestamp: time.Now(),
	}}
}

// Stamp builds the payment confirmation attached to a delivered score.
func (f *Facilitator) Stamp(reqs PaymentRequirements, currency string) PaymentStamp {
	return PaymentStamp{
		Verified: true,
		Amount:   reqs.MaxAmountRequired,
		Currency: currency,
	}
}
