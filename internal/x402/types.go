// Package x402 implements the payment-required/verify/settle sub-protocol
// gating access to the priced trust-score resource.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Version is the protocol version stamped on every message.
const Version = 1

// SchemeExact is the only supported payment scheme: the payer transfers
// exactly the required amount to the payTo account.
const SchemeExact = "exact"

// PaymentRequirements describes exactly one payable resource instance.
// Immutable once issued.
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Asset             string `json:"asset"`
	PayTo             string `json:"payTo"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	Description       string `json:"description"`
	MimeType          string `json:"mimeType"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
}

// ExactPayload names the fields of an exact-scheme payment token.
type ExactPayload struct {
	TransactionID string `json:"transactionId"`
	Payer         string `json:"payer,omitempty"`
	Signature     string `json:"signature,omitempty"`
}

// PaymentPayload is the decoded X-PAYMENT header.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// DecodeHeader parses a base64-encoded X-PAYMENT header value.
func DecodeHeader(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("payment header is not valid base64: %w", err)
	}
	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("payment header is not valid JSON: %w", err)
	}
	return &payload, nil
}

// EncodeHeader is the inverse of DecodeHeader, used by tests and client
// tooling.
func EncodeHeader(payload *PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// VerifyResult is the outcome of either verification step.
type VerifyResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// PaymentStamp is attached to a successful score response.
type PaymentStamp struct {
	Verified bool   `json:"verified"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// ErrorBody is the machine-readable body of a 402 response. Identical
// input produces an identical body (except the timestamp), so a retrying
// client always sees the same requirements.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string              `json:"code"`
	Message   string              `json:"message"`
	Reason    string              `json:"reason,omitempty"`
	Payment   PaymentRequirements `json:"payment"`
	Timestamp time.Time           `json:"timestamp"`
}
