// Package ledger reads the authoritative transaction record used to
// confirm payment settlement. Only what the ledger reports is trusted;
// client-presented payment tokens alone never are.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound means the ledger has no record of the transaction.
var ErrNotFound = errors.New("transaction not found on ledger")

// StatusSuccess is the mirror API's terminal success result.
const StatusSuccess = "SUCCESS"

// Transfer is one balance movement within a transaction.
type Transfer struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// TransactionRecord is the ledger's view of one transaction.
type TransactionRecord struct {
	ID          string     `json:"transaction_id"`
	Hash        string     `json:"transaction_hash"`
	Status      string     `json:"result"`
	ConsensusAt time.Time  `json:"consensus_timestamp"`
	Transfers   []Transfer `json:"transfers"`
}

// Client queries the ledger for a transaction by id or hash.
type Client interface {
	Transaction(ctx context.Context, idOrHash string) (*TransactionRecord, error)
}

// tinybars per HBAR; the mirror reports transfer amounts in tinybars.
const tinybarsPerHbar = 100_000_000

// HTTPClient reads transactions from a mirror node REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type mirrorTransfer struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

type mirrorTransaction struct {
	TransactionID   string           `json:"transaction_id"`
	TransactionHash string           `json:"transaction_hash"`
	Result          string           `json:"result"`
	Transfers       []mirrorTransfer `json:"transfers"`
}

type mirrorTransactionsPage struct {
	Transactions []mirrorTransaction `json:"transactions"`
}

// Transaction fetches one transaction record. A transaction id the mirror
// has not seen (or not yet reached consensus on) returns ErrNotFound; the
// caller decides whether that is retryable.
func (c *HTTPClient) Transaction(ctx context.Context, idOrHash string) (*TransactionRecord, error) {
	endpoint := fmt.Sprintf("%s/api/v1/transactions/%s", c.baseURL, url.PathEscape(idOrHash))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger query returned HTTP %d", resp.StatusCode)
	}

	var page mirrorTransactionsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode ledger response: %w", err)
	}
	if len(page.Transactions) == 0 {
		return nil, ErrNotFound
	}

	// The mirror may return several rows for one id (duplicates, child
	// transactions); the first row is the top-level outcome.
	tx := page.Transactions[0]
	record := &TransactionRecord{
		ID:     tx.TransactionID,
		Hash:   tx.TransactionHash,
		Status: tx.Result,
	}
	for _, tr := range tx.Transfers {
		record.Transfers = append(record.Transfers, Transfer{
			Account: tr.Account,
			Amount:  decimal.NewFromInt(tr.Amount).Div(decimal.NewFromInt(tinybarsPerHbar)),
		})
	}
	return record, nil
}

// MockClient serves canned transaction records for tests and local
// development without a ledger.
type MockClient struct {
	mu      sync.RWMutex
	records map[string]*TransactionRecord

	// Delay simulates ledger query latency when positive.
	Delay time.Duration
}

func NewMockClient() *MockClient {
	return &MockClient{records: make(map[string]*TransactionRecord)}
}

// Put registers a record under its id (and hash, when set).
func (m *MockClient) Put(record *TransactionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record
	if record.Hash != "" {
		m.records[record.Hash] = record
	}
}

func (m *MockClient) Transaction(ctx context.Context, idOrHash string) (*TransactionRecord, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[idOrHash]
	if !ok {
		return nil, ErrNotFound
	}
	return record, nil
}
