package x402

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustoracle/backend/internal/catalog"
	"github.com/trustoracle/backend/internal/ledger"
)

func testRequirements() PaymentRequirements {
	return PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           "hedera-testnet",
		Asset:             "HBAR",
		PayTo:             "0.0.2001",
		MaxAmountRequired: "0.3",
		Resource:          "/v1/trust-score/0.0.12345",
		MimeType:          "application/json",
		MaxTimeoutSeconds: 5,
	}
}

func testPayload(txID string) *PaymentPayload {
	return &PaymentPayload{
		X402Version: Version,
		Scheme:      SchemeExact,
		Network:     "hedera-testnet",
		Payload:     ExactPayload{TransactionID: txID, Payer: "0.0.1001"},
	}
}

func successRecord(txID string) *ledger.TransactionRecord {
	return &ledger.TransactionRecord{
		ID:     txID,
		Status: ledger.StatusSuccess,
		Transfers: []ledger.Transfer{
			{Account: "0.0.1001", Amount: decimal.RequireFromString("-0.3")},
			{Account: "0.0.2001", Amount: decimal.RequireFromString("0.3")},
		},
	}
}

func TestVerifyStructural(t *testing.T) {
	v := NewVerifier(ledger.NewMockClient())
	reqs := testRequirements()

	assert.True(t, v.Verify(testPayload("tx-1"), reqs).Valid)

	cases := []struct {
		name   string
		mutate func(*PaymentPayload)
	}{
		{"wrong version", func(p *PaymentPayload) { p.X402Version = 2 }},
		{"wrong scheme", func(p *PaymentPayload) { p.Scheme = "upto" }},
		{"wrong network", func(p *PaymentPayload) { p.Network = "hedera-mainnet" }},
		{"missing transaction", func(p *PaymentPayload) { p.Payload.TransactionID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := testPayload("tx-1")
			tc.mutate(p)
			res := v.Verify(p, reqs)
			assert.False(t, res.Valid)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestSettleSuccess(t *testing.T) {
	mock := ledger.NewMockClient()
	mock.Put(successRecord("tx-ok"))
	v := NewVerifier(mock)

	res := v.Settle(context.Background(), testPayload("tx-ok"), testRequirements())
	assert.True(t, res.Valid)

	recorded, ok := v.Settled("tx-ok")
	require.True(t, ok)
	assert.True(t, recorded.Valid)
}

func TestSettleFailsOnLedgerStatus(t *testing.T) {
	mock := ledger.NewMockClient()
	record := successRecord("tx-failed")
	record.Status = "INSUFFICIENT_PAYER_BALANCE"
	mock.Put(record)
	v := NewVerifier(mock)

	res := v.Settle(context.Background(), testPayload("tx-failed"), testRequirements())
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "INSUFFICIENT_PAYER_BALANCE")
}

func TestSettleFailsOnWrongRecipient(t *testing.T) {
	mock := ledger.NewMockClient()
	record := successRecord("tx-misdirected")
	record.Transfers[1].Account = "0.0.9999"
	mock.Put(record)
	v := NewVerifier(mock)

	res := v.Settle(context.Background(), testPayload("tx-misdirected"), testRequirements())
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "no transfer to recipient")
}

func TestSettleFailsOnWrongAmount(t *testing.T) {
	mock := ledger.NewMockClient()
	record := successRecord("tx-short")
	record.Transfers[1].Amount = decimal.RequireFromString("0.2")
	mock.Put(record)
	v := NewVerifier(mock)

	res := v.Settle(context.Background(), testPayload("tx-short"), testRequirements())
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "does not equal required amount")
}

func TestSettleNotFoundStaysRetryable(t *testing.T) {
	mock := ledger.NewMockClient()
	v := NewVerifier(mock)
	payload := testPayload("tx-pending")

	res := v.Settle(context.Background(), payload, testRequirements())
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "not found")

	// No outcome is recorded for a missing transaction, so once the
	// ledger catches up the same token settles.
	_, recorded := v.Settled("tx-pending")
	assert.False(t, recorded)

	mock.Put(successRecord("tx-pending"))
	res = v.Settle(context.Background(), payload, testRequirements())
	assert.True(t, res.Valid)
}

func TestSettleIdempotent(t *testing.T) {
	mock := ledger.NewMockClient()
	mock.Put(successRecord("tx-once"))
	v := NewVerifier(mock)
	payload := testPayload("tx-once")
	reqs := testRequirements()

	first := v.Settle(context.Background(), payload, reqs)
	require.True(t, first.Valid)

	// Even if the ledger record later mutates (it shouldn't), the
	// recorded settlement outcome is returned unchanged.
	broken := successRecord("tx-once")
	broken.Status = "FAILED"
	mock.Put(broken)

	second := v.Settle(context.Background(), payload, reqs)
	assert.Equal(t, first, second)
}

func TestSettleHonorsTimeout(t *testing.T) {
	mock := ledger.NewMockClient()
	mock.Put(successRecord("tx-slow"))
	mock.Delay = 3 * time.Second
	v := NewVerifier(mock)

	reqs := testRequirements()
	reqs.MaxTimeoutSeconds = 1

	start := time.Now()
	res := v.Settle(context.Background(), testPayload("tx-slow"), reqs)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "deadline")
	assert.Less(t, time.Since(start), 3*time.Second, "deadline must cut the wait short")
}

func TestHeaderRoundTrip(t *testing.T) {
	payload := testPayload("tx-header")
	header, err := EncodeHeader(payload)
	require.NoError(t, err)

	decoded, err := DecodeHeader(header)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)

	_, err = DecodeHeader("not-base64!!!")
	assert.Error(t, err)
}

func TestFacilitatorDocuments(t *testing.T) {
	f := NewFacilitator("0.0.2001", "hedera-testnet", "HBAR", 60)
	product := catalog.Product{ID: "trust-score-v1", Name: "Account Trust Score", Version: "1.0.0"}

	reqs := f.RequirementsFor(product, decimal.RequireFromString("0.3"), "/v1/trust-score/0.0.12345")
	assert.Equal(t, SchemeExact, reqs.Scheme)
	assert.Equal(t, "0.0.2001", reqs.PayTo)
	assert.Equal(t, "0.3", reqs.MaxAmountRequired)
	assert.Equal(t, 60, reqs.MaxTimeoutSeconds)

	required := f.PaymentRequired(reqs)
	assert.Equal(t, "PAYMENT_REQUIRED", required.Error.Code)
	assert.Equal(t, reqs, required.Error.Payment)
	assert.False(t, required.Error.Timestamp.IsZero())

	failed := f.VerificationFailed(reqs, "transaction status is FAILED, not SUCCESS")
	assert.Equal(t, "PAYMENT_VERIFICATION_FAILED", failed.Error.Code)
	assert.NotEmpty(t, failed.Error.Reason)
	assert.Equal(t, reqs, failed.Error.Payment)

	stamp := f.Stamp(reqs, "HBAR")
	assert.True(t, stamp.Verified)
	assert.Equal(t, "0.3", stamp.Amount)
}
