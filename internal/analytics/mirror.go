// Package analytics fetches account behavior data from the mirror read
// API and serves it through a retrying, TTL-cached provider that degrades
// per-dataset instead of failing whole requests.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Dataset names one of the four independently fetched collections.
type Dataset string

const (
	DatasetAccount      Dataset = "account"
	DatasetTransactions Dataset = "transactions"
	DatasetTokens       Dataset = "tokens"
	DatasetMessages     Dataset = "messages"
)

// RateLimitedError reports a 429 from the provider. RetryAfter replaces
// the exponential backoff schedule for the next attempt.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
}

// AccountInfo is the mirror's account metadata.
type AccountInfo struct {
	AccountID string          `json:"account"`
	CreatedAt time.Time       `json:"created_timestamp"`
	Balance   decimal.Decimal `json:"balance"`
	Deleted   bool            `json:"deleted"`
}

// Transaction is one ledger transaction touching the account.
type Transaction struct {
	ID           string          `json:"transaction_id"`
	ConsensusAt  time.Time       `json:"consensus_timestamp"`
	Amount       decimal.Decimal `json:"amount"`
	Counterparty string          `json:"counterparty"`
	Result       string          `json:"result"`
}

// TokenBalance is one token position held by the account.
type TokenBalance struct {
	TokenID string          `json:"token_id"`
	Balance decimal.Decimal `json:"balance"`
}

// TopicMessage is one consensus-topic message the account participated in.
type TopicMessage struct {
	TopicID     string    `json:"topic_id"`
	ConsensusAt time.Time `json:"consensus_timestamp"`
	SequenceNo  int64     `json:"sequence_number"`
}

// MirrorClient fetches the four datasets. Each method returns the
// provider's raw view; retries and caching live above this interface.
type MirrorClient interface {
	AccountInfo(ctx context.Context, accountID string) (*AccountInfo, error)
	Transactions(ctx context.Context, accountID string) ([]Transaction, error)
	TokenBalances(ctx context.Context, accountID string) ([]TokenBalance, error)
	TopicMessages(ctx context.Context, accountID string) ([]TopicMessage, error)
}

// HTTPMirrorClient reads from a mirror node REST API.
type HTTPMirrorClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPMirrorClient(baseURL string, timeout time.Duration) *HTTPMirrorClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPMirrorClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPMirrorClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mirror request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 5 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitedError{RetryAfter: retryAfter}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mirror returned HTTP %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// consensusTime parses the mirror's "seconds.nanos" timestamp format.
func consensusTime(raw string) time.Time {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}
	}
	secs := int64(f)
	nanos := int64((f - float64(secs)) * 1e9)
	return time.Unix(secs, nanos)
}

func (c *HTTPMirrorClient) AccountInfo(ctx context.Context, accountID string) (*AccountInfo, error) {
	var raw struct {
		Account          string `json:"account"`
		CreatedTimestamp string `json:"created_timestamp"`
		Deleted          bool   `json:"deleted"`
		Balance          struct {
			Balance int64 `json:"balance"`
		} `json:"balance"`
	}
	if err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(accountID), &raw); err != nil {
		return nil, err
	}
	return &AccountInfo{
		AccountID: raw.Account,
		CreatedAt: consensusTime(raw.CreatedTimestamp),
		Balance:   decimal.NewFromInt(raw.Balance.Balance).Div(decimal.NewFromInt(100_000_000)),
		Deleted:   raw.Deleted,
	}, nil
}

func (c *HTTPMirrorClient) Transactions(ctx context.Context, accountID string) ([]Transaction, error) {
	var raw struct {
		Transactions []struct {
			TransactionID      string `json:"transaction_id"`
			ConsensusTimestamp string `json:"consensus_timestamp"`
			Result             string `json:"result"`
			Transfers          []struct {
				Account string `json:"account"`
				Amount  int64  `json:"amount"`
			} `json:"transfers"`
		} `json:"transactions"`
	}
	path := "/api/v1/transactions?account.id=" + url.QueryEscape(accountID) + "&limit=100&order=desc"
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, err
	}

	out := make([]Transaction, 0, len(raw.Transactions))
	for _, tx := range raw.Transactions {
		t := Transaction{
			ID:          tx.TransactionID,
			ConsensusAt: consensusTime(tx.ConsensusTimestamp),
			Result:      tx.Result,
		}
		// The account's own movement and the largest counterparty leg.
		for _, tr := range tx.Transfers {
			amount := decimal.NewFromInt(tr.Amount).Div(decimal.NewFromInt(100_000_000))
			if tr.Account == accountID {
				t.Amount = amount
			} else if t.Counterparty == "" {
				t.Counterparty = tr.Account
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *HTTPMirrorClient) TokenBalances(ctx context.Context, accountID string) ([]TokenBalance, error) {
	var raw struct {
		Tokens []struct {
			TokenID string `json:"token_id"`
			Balance int64  `json:"balance"`
		} `json:"tokens"`
	}
	if err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(accountID)+"/tokens", &raw); err != nil {
		return nil, err
	}

	out := make([]TokenBalance, 0, len(raw.Tokens))
	for _, tok := range raw.Tokens {
		out = append(out, TokenBalance{TokenID: tok.TokenID, Balance: decimal.NewFromInt(tok.Balance)})
	}
	return out, nil
}

func (c *HTTPMirrorClient) TopicMessages(ctx context.Context, accountID string) ([]TopicMessage, error) {
	var raw struct {
		Messages []struct {
			TopicID            string `json:"topic_id"`
			ConsensusTimestamp string `json:"consensus_timestamp"`
			SequenceNumber     int64  `json:"sequence_number"`
		} `json:"messages"`
	}
	path := "/api/v1/topics/messages?account.id=" + url.QueryEscape(accountID) + "&limit=100"
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, err
	}

	out := make([]TopicMessage, 0, len(raw.Messages))
	for _, m := range raw.Messages {
		out = append(out, TopicMessage{
			TopicID:     m.TopicID,
			ConsensusAt: consensusTime(m.ConsensusTimestamp),
			SequenceNo:  m.SequenceNumber,
		})
	}
	return out, nil
}
