package x402

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trustoracle/backend/internal/ledger"
)

// settlement is the recorded outcome of one on-chain confirmation.
// Repeating a settle call for the same transaction returns the recorded
// outcome instead of touching the ledger again.
type settlement struct {
	result    VerifyResult
	amount    decimal.Decimal
	settledAt time.Time
}

// Verifier performs the two x402 verification steps. Verify is
// structural and provisional; Settle is authoritative and consults only
// the ledger.
type Verifier struct {
	mu          sync.Mutex
	ledger      ledger.Client
	settlements map[string]*settlement // transactionID -> outcome
	logger      *log.Logger
}

func NewVerifier(ledgerClient ledger.Client) *Verifier {
	return &Verifier{
		ledger:      ledgerClient,
		settlements: make(map[string]*settlement),
		logger:      log.New(log.Writer(), "[X402] ", log.LstdFlags),
	}
}

// Verify checks the token's structure against the requirements: version,
// scheme, network, and the presence of a transaction reference. It never
// authorizes delivery by itself — a structurally sound token can still
// reference a failed or nonexistent transaction.
func (v *Verifier) Verify(payload *PaymentPayload, reqs PaymentRequirements) VerifyResult {
	switch {
	case payload == nil:
		return VerifyResult{Reason: "no payment payload"}
	case payload.X402Version != Version:
		return VerifyResult{Reason: fmt.Sprintf("unsupported x402 version %d", payload.X402Version)}
	case payload.Scheme != reqs.Scheme:
		return VerifyResult{Reason: fmt.Sprintf("scheme %q does not match required %q", payload.Scheme, reqs.Scheme)}
	case payload.Network != reqs.Network:
		return VerifyResult{Reason: fmt.Sprintf("network %q does not match required %q", payload.Network, reqs.Network)}
	case payload.Payload.TransactionID == "":
		return VerifyResult{Reason: "payment payload carries no transaction id"}
	}
	return VerifyResult{Valid: true}
}

// Settle confirms the payment on-chain. All four conditions must hold:
// the transaction exists, its final status is SUCCESS, some transfer
// credits reqs.PayTo, and that transfer's amount equals
// reqs.MaxAmountRequired. Any single failure yields an unverified result
// with the reason. The ledger query is bounded by reqs.MaxTimeoutSeconds;
// exceeding the deadline is a verification failure, not a wait.
func (v *Verifier) Settle(ctx context.Context, payload *PaymentPayload, reqs PaymentRequirements) VerifyResult {
	if res := v.Verify(payload, reqs); !res.Valid {
		return res
	}
	txID := payload.Payload.TransactionID

	v.mu.Lock()
	if prior, ok := v.settlements[txID]; ok {
		v.mu.Unlock()
		return prior.result
	}
	v.mu.Unlock()

	timeout := time.Duration(reqs.MaxTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	record, err := v.ledger.Transaction(ctx, txID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		// Not recorded: the transaction may simply not have reached the
		// mirror yet, so the client may retry with the same token.
		return VerifyResult{Reason: fmt.Sprintf("transaction %s not found on ledger", txID)}
	case errors.Is(err, context.DeadlineExceeded):
		return VerifyResult{Reason: fmt.Sprintf("ledger query exceeded %ds deadline", reqs.MaxTimeoutSeconds)}
	case err != nil:
		return VerifyResult{Reason: fmt.Sprintf("ledger query failed: %v", err)}
	}

	result := evaluateRecord(record, reqs)

	// Only terminal outcomes are recorded. A not-found or network failure
	// above must stay retryable.
	v.mu.Lock()
	if _, ok := v.settlements[txID]; !ok {
		amount, _ := decimal.NewFromString(reqs.MaxAmountRequired)
		v.settlements[txID] = &settlement{result: result, amount: amount, settledAt: time.Now()}
	}
	recorded := v.settlements[txID].result
	v.mu.Unlock()

	if recorded.Valid {
		v.logger.Printf("✅ Settled %s: %s %s → %s", txID, reqs.MaxAmountRequired, reqs.Asset, reqs.PayTo)
	} else {
		v.logger.Printf("❌ Settlement failed for %s: %s", txID, recorded.Reason)
	}
	return recorded
}

func evaluateRecord(record *ledger.TransactionRecord, reqs PaymentRequirements) VerifyResult {
	if record.Status != ledger.StatusSuccess {
		return VerifyResult{Reason: fmt.Sprintf("transaction status is %s, not %s", record.Status, ledger.StatusSuccess)}
	}

	required, err := decimal.NewFromString(reqs.MaxAmountRequired)
	if err != nil {
		return VerifyResult{Reason: fmt.Sprintf("requirements carry malformed amount %q", reqs.MaxAmountRequired)}
	}

	var credited bool
	for _, transfer := range record.Transfers {
		if transfer.Account != reqs.PayTo {
			continue
		}
		credited = true
		if transfer.Amount.Equal(required) {
			return VerifyResult{Valid: true}
		}
	}
	if credited {
		return VerifyResult{Reason: fmt.Sprintf("transfer to %s does not equal required amount %s", reqs.PayTo, reqs.MaxAmountRequired)}
	}
	return VerifyResult{Reason: fmt.Sprintf("no transfer to recipient %s", reqs.PayTo)}
}

// Settled reports whether a transaction id already has a recorded
// outcome, and that outcome.
func (v *Verifier) Settled(transactionID string) (VerifyResult, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.settlements[transactionID]
	if !ok {
		return VerifyResult{}, false
	}
	return s.result, true
}
