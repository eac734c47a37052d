package trustscore

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustoracle/backend/internal/analytics"
)

func bundleWithAge(age time.Duration) *analytics.Bundle {
	return &analytics.Bundle{
		AccountID: "0.0.12345",
		Account:   &analytics.AccountInfo{AccountID: "0.0.12345", CreatedAt: time.Now().Add(-age)},
		FetchedAt: time.Now(),
	}
}

func steadyTransactions(n int, counterparties int) []analytics.Transaction {
	txs := make([]analytics.Transaction, n)
	for i := range txs {
		txs[i] = analytics.Transaction{
			ID:           fmt.Sprintf("tx-%d", i),
			ConsensusAt:  time.Now().Add(-time.Duration(i) * time.Hour),
			Amount:       decimal.RequireFromString("1.0"),
			Counterparty: fmt.Sprintf("0.0.%d", 100+i%counterparties),
			Result:       "SUCCESS",
		}
	}
	return txs
}

func TestAccountAgeBuckets(t *testing.T) {
	engine := NewEngine(Config{})

	cases := []struct {
		age  time.Duration
		want int
	}{
		{8 * 30 * 24 * time.Hour, 20},
		{3 * 30 * 24 * time.Hour, 10},
		{10 * 24 * time.Hour, 3},
	}
	for _, tc := range cases {
		score := engine.Compute(bundleWithAge(tc.age))
		assert.Equal(t, tc.want, score.Components.AccountAge, "age %s", tc.age)
	}
}

func TestAccountAgeMonotone(t *testing.T) {
	engine := NewEngine(Config{})

	var last int
	for _, days := range []int{5, 20, 40, 100, 200, 400} {
		score := engine.Compute(bundleWithAge(time.Duration(days) * 24 * time.Hour))
		assert.GreaterOrEqual(t, score.Components.AccountAge, last,
			"older account must never score lower on age (%d days)", days)
		last = score.Components.AccountAge
	}
}

func TestDiversityBuckets(t *testing.T) {
	engine := NewEngine(Config{})

	cases := []struct {
		counterparties int
		want           int
	}{
		{3, 5},
		{10, 10},
		{30, 20},
	}
	var last int
	for _, tc := range cases {
		b := bundleWithAge(time.Hour)
		b.Transactions = steadyTransactions(40, tc.counterparties)
		score := engine.Compute(b)
		assert.Equal(t, tc.want, score.Components.Diversity, "%d counterparties", tc.counterparties)
		assert.GreaterOrEqual(t, score.Components.Diversity, last)
		last = score.Components.Diversity
	}
}

func TestVolatilityBuckets(t *testing.T) {
	engine := NewEngine(Config{})

	steady := bundleWithAge(time.Hour)
	steady.Transactions = steadyTransactions(10, 3) // identical amounts, CV = 0
	assert.Equal(t, 20, engine.Compute(steady).Components.Volatility)

	wild := bundleWithAge(time.Hour)
	wild.Transactions = steadyTransactions(10, 3)
	for i := range wild.Transactions {
		if i%2 == 0 {
			wild.Transactions[i].Amount = decimal.RequireFromString("100")
		} else {
			wild.Transactions[i].Amount = decimal.RequireFromString("0.01")
		}
	}
	assert.Equal(t, 3, engine.Compute(wild).Components.Volatility)

	sparse := bundleWithAge(time.Hour)
	sparse.Transactions = steadyTransactions(1, 1)
	assert.Equal(t, 3, engine.Compute(sparse).Components.Volatility,
		"too few amounts to measure stability scores the floor")
}

func TestTokenHealth(t *testing.T) {
	engine := NewEngine(Config{})

	healthy := bundleWithAge(time.Hour)
	healthy.Tokens = []analytics.TokenBalance{
		{TokenID: "0.0.1", Balance: decimal.NewFromInt(30)},
		{TokenID: "0.0.2", Balance: decimal.NewFromInt(35)},
		{TokenID: "0.0.3", Balance: decimal.NewFromInt(35)},
	}
	assert.Equal(t, 10, engine.Compute(healthy).Components.TokenHealth)

	concentrated := bundleWithAge(time.Hour)
	concentrated.Tokens = []analytics.TokenBalance{
		{TokenID: "0.0.1", Balance: decimal.NewFromInt(90)},
		{TokenID: "0.0.2", Balance: decimal.NewFromInt(10)},
	}
	assert.Equal(t, 0, engine.Compute(concentrated).Components.TokenHealth)

	empty := bundleWithAge(time.Hour)
	assert.Equal(t, 0, engine.Compute(empty).Components.TokenHealth, "no tokens held scores 0")
}

func TestHCSQualityDenyListPrecedence(t *testing.T) {
	engine := NewEngine(Config{
		TrustedTopics:    []string{"0.0.111"},
		SuspiciousTopics: []string{"0.0.666"},
	})

	trusted := bundleWithAge(time.Hour)
	trusted.Messages = []analytics.TopicMessage{{TopicID: "0.0.111"}}
	assert.Equal(t, 10, engine.Compute(trusted).Components.HCSQuality)

	mixed := bundleWithAge(time.Hour)
	mixed.Messages = []analytics.TopicMessage{{TopicID: "0.0.111"}, {TopicID: "0.0.666"}}
	score := engine.Compute(mixed)
	assert.Equal(t, -10, score.Components.HCSQuality, "deny list takes precedence")

	var codes []string
	for _, f := range score.RiskFlags {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, FlagSuspiciousTopicActive)

	neither := bundleWithAge(time.Hour)
	neither.Messages = []analytics.TopicMessage{{TopicID: "0.0.999"}}
	assert.Equal(t, 0, engine.Compute(neither).Components.HCSQuality)

	silent := bundleWithAge(time.Hour)
	assert.Equal(t, 0, engine.Compute(silent).Components.HCSQuality, "no message history scores 0")
}

func TestRiskFlags(t *testing.T) {
	engine := NewEngine(Config{})

	failing := bundleWithAge(time.Hour)
	failing.Transactions = steadyTransactions(10, 5)
	for i := 0; i < 5; i++ {
		failing.Transactions[i].Result = "INSUFFICIENT_PAYER_BALANCE"
	}
	score := engine.Compute(failing)
	require.NotEmpty(t, score.RiskFlags)
	assert.Equal(t, FlagHighFailureRate, score.RiskFlags[0].Code)
	assert.Negative(t, score.Components.RiskPenalty)

	dominated := bundleWithAge(time.Hour)
	dominated.Transactions = steadyTransactions(10, 1)
	score = engine.Compute(dominated)
	var codes []string
	for _, f := range score.RiskFlags {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, FlagCounterpartyDominance)
}

func TestDormantReactivationFlag(t *testing.T) {
	engine := NewEngine(Config{})

	b := bundleWithAge(365 * 24 * time.Hour)
	now := time.Now()
	b.Transactions = []analytics.Transaction{
		{ID: "t1", ConsensusAt: now, Amount: decimal.NewFromInt(1), Counterparty: "0.0.2", Result: "SUCCESS"},
		{ID: "t2", ConsensusAt: now.Add(-24 * time.Hour), Amount: decimal.NewFromInt(1), Counterparty: "0.0.3", Result: "SUCCESS"},
		{ID: "t3", ConsensusAt: now.Add(-48 * time.Hour), Amount: decimal.NewFromInt(1), Counterparty: "0.0.4", Result: "SUCCESS"},
		{ID: "t4", ConsensusAt: now.Add(-200 * 24 * time.Hour), Amount: decimal.NewFromInt(1), Counterparty: "0.0.5", Result: "SUCCESS"},
	}

	score := engine.Compute(b)
	var codes []string
	for _, f := range score.RiskFlags {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, FlagDormantReactivation)
}

func TestRiskPenaltyClamped(t *testing.T) {
	engine := NewEngine(Config{SuspiciousTopics: []string{"0.0.666"}})

	b := bundleWithAge(365 * 24 * time.Hour)
	b.Transactions = steadyTransactions(10, 1)
	for i := 0; i < 5; i++ {
		b.Transactions[i].Result = "FAILED"
	}
	b.Messages = []analytics.TopicMessage{{TopicID: "0.0.666"}}

	score := engine.Compute(b)
	assert.GreaterOrEqual(t, score.Components.RiskPenalty, -20)
	assert.LessOrEqual(t, score.Components.RiskPenalty, 0)
}

func TestDegradedComponentsZeroed(t *testing.T) {
	engine := NewEngine(Config{})

	b := bundleWithAge(365 * 24 * time.Hour)
	b.Transactions = steadyTransactions(40, 30)
	b.Unavailable = []analytics.Dataset{analytics.DatasetTokens, analytics.DatasetMessages}

	score := engine.Compute(b)
	assert.Equal(t, 0, score.Components.TokenHealth)
	assert.Equal(t, 0, score.Components.HCSQuality)
	assert.ElementsMatch(t, []string{"tokenHealth", "hcsQuality"}, score.Degraded)

	// The score never exceeds the sum of the remaining components' maxima.
	assert.LessOrEqual(t, score.Total, 20+20+20)
	assert.Positive(t, score.Total, "degraded inputs still yield a usable score")
}

func TestTotalAlwaysBounded(t *testing.T) {
	engine := NewEngine(Config{SuspiciousTopics: []string{"0.0.666"}})

	// Worst case: young account, no tokens, deny-listed activity, failures.
	worst := bundleWithAge(24 * time.Hour)
	worst.Transactions = steadyTransactions(10, 1)
	for i := range worst.Transactions {
		worst.Transactions[i].Result = "FAILED"
	}
	worst.Messages = []analytics.TopicMessage{{TopicID: "0.0.666"}}
	score := engine.Compute(worst)
	assert.GreaterOrEqual(t, score.Total, 0)

	// Best case: everything maxed.
	best := bundleWithAge(365 * 24 * time.Hour)
	best.Transactions = steadyTransactions(50, 30)
	best.Tokens = []analytics.TokenBalance{
		{TokenID: "0.0.1", Balance: decimal.NewFromInt(30)},
		{TokenID: "0.0.2", Balance: decimal.NewFromInt(35)},
		{TokenID: "0.0.3", Balance: decimal.NewFromInt(35)},
	}
	score = engine.Compute(best)
	assert.LessOrEqual(t, score.Total, 100)
	assert.Equal(t, 70, score.Total, "20+20+20+10+0+0 with empty topic lists")
}
