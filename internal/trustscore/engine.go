// Package trustscore turns an account's (possibly partial) analytics
// bundle into a bounded 0–100 trust score with a component breakdown and
// risk flags. Missing datasets zero their components; a score is always
// produced, never withheld.
package trustscore

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trustoracle/backend/internal/analytics"
)

// Config carries the topic allow/deny lists used by the HCS quality
// component. Both are deployment data; empty lists score the component 0.
type Config struct {
	TrustedTopics    []string
	SuspiciousTopics []string
}

// Components is the per-factor breakdown. Each factor is independently
// bounded; the total is the clamped sum.
type Components struct {
	AccountAge  int `json:"accountAge"`  // 0..20
	Diversity   int `json:"diversity"`   // 0..20
	Volatility  int `json:"volatility"`  // 0..20
	TokenHealth int `json:"tokenHealth"` // 0 or 10
	HCSQuality  int `json:"hcsQuality"`  // -10, 0, or 10
	RiskPenalty int `json:"riskPenalty"` // -20..0
}

// RiskFlag describes one detected risk, surfaced alongside the score.
type RiskFlag struct {
	Code        string `json:"code"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Deduction   int    `json:"deduction"`
}

// Score is the full scoring result.
type Score struct {
	Account    string     `json:"account"`
	Total      int        `json:"score"`
	Components Components `json:"components"`
	RiskFlags  []RiskFlag `json:"riskFlags"`
	Degraded   []string   `json:"degraded,omitempty"`
}

// Engine computes scores. Pure: no I/O, no retained state beyond config.
type Engine struct {
	cfg Config
	now func() time.Time
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, now: time.Now}
}

// Compute scores the bundle. Components whose backing dataset is
// unavailable contribute 0 and appear in Degraded.
func (e *Engine) Compute(bundle *analytics.Bundle) Score {
	score := Score{Account: bundle.AccountID}
	c := &score.Components

	if bundle.Has(analytics.DatasetAccount) && bundle.Account != nil {
		c.AccountAge = accountAgeScore(e.now().Sub(bundle.Account.CreatedAt))
	} else {
		score.Degraded = append(score.Degraded, "accountAge")
	}

	if bundle.Has(analytics.DatasetTransactions) {
		c.Diversity = diversityScore(bundle.Transactions)
		c.Volatility = volatilityScore(bundle.Transactions)
	} else {
		score.Degraded = append(score.Degraded, "diversity", "volatility")
	}

	if bundle.Has(analytics.DatasetTokens) {
		c.TokenHealth = tokenHealthScore(bundle.Tokens)
	} else {
		score.Degraded = append(score.Degraded, "tokenHealth")
	}

	if bundle.Has(analytics.DatasetMessages) {
		c.HCSQuality = e.hcsQualityScore(bundle.Messages)
	} else {
		score.Degraded = append(score.Degraded, "hcsQuality")
	}

	score.RiskFlags = e.detectRiskFlags(bundle)
	penalty := 0
	for _, flag := range score.RiskFlags {
		penalty -= flag.Deduction
	}
	if penalty < -20 {
		penalty = -20
	}
	c.RiskPenalty = penalty

	total := c.AccountAge + c.Diversity + c.Volatility + c.TokenHealth + c.HCSQuality + c.RiskPenalty
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}
	score.Total = total
	return score
}

const month = 30 * 24 * time.Hour

func accountAgeScore(age time.Duration) int {
	switch {
	case age > 6*month:
		return 20
	case age >= month:
		return 10
	default:
		return 3
	}
}

func diversityScore(txs []analytics.Transaction) int {
	counterparties := make(map[string]struct{})
	for _, tx := range txs {
		if tx.Counterparty != "" {
			counterparties[tx.Counterparty] = struct{}{}
		}
	}
	switch {
	case len(counterparties) >= 25:
		return 20
	case len(counterparties) >= 10:
		return 10
	default:
		return 5
	}
}

// volatilityScore grades the coefficient of variation of transaction
// amounts: steadier flows score higher. Too few amounts to measure
// stability score the floor.
func volatilityScore(txs []analytics.Transaction) int {
	var amounts []float64
	for _, tx := range txs {
		f, _ := tx.Amount.Abs().Float64()
		if f > 0 {
			amounts = append(amounts, f)
		}
	}
	if len(amounts) < 2 {
		return 3
	}

	var sum float64
	for _, a := range amounts {
		sum += a
	}
	mean := sum / float64(len(amounts))
	if mean == 0 {
		return 3
	}

	var variance float64
	for _, a := range amounts {
		variance += (a - mean) * (a - mean)
	}
	variance /= float64(len(amounts))
	cv := math.Sqrt(variance) / mean

	switch {
	case cv < 0.3:
		return 20
	case cv < 0.7:
		return 10
	default:
		return 3
	}
}

func tokenHealthScore(tokens []analytics.TokenBalance) int {
	if len(tokens) == 0 {
		return 0
	}

	total := decimal.Zero
	for _, tok := range tokens {
		total = total.Add(tok.Balance.Abs())
	}
	if total.IsZero() {
		return 0
	}

	half := total.Div(decimal.NewFromInt(2))
	for _, tok := range tokens {
		if tok.Balance.Abs().GreaterThan(half) {
			return 0 // concentration risk
		}
	}
	return 10
}

// hcsQualityScore applies the deny-list-first rule: any suspicious-topic
// interaction scores -10 regardless of trusted activity.
func (e *Engine) hcsQualityScore(messages []analytics.TopicMessage) int {
	suspicious := toSet(e.cfg.SuspiciousTopics)
	trusted := toSet(e.cfg.TrustedTopics)

	var sawTrusted bool
	for _, msg := range messages {
		if _, ok := suspicious[msg.TopicID]; ok {
			return -10
		}
		if _, ok := trusted[msg.TopicID]; ok {
			sawTrusted = true
		}
	}
	if sawTrusted {
		return 10
	}
	return 0
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
