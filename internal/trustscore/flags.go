package trustscore

import (
	"fmt"
	"sort"
	"time"

	"github.com/trustoracle/backend/internal/analytics"
)

// Risk flag codes.
const (
	FlagHighFailureRate       = "HIGH_FAILURE_RATE"
	FlagDormantReactivation   = "DORMANT_REACTIVATION"
	FlagCounterpartyDominance = "COUNTERPARTY_DOMINANCE"
	FlagSuspiciousTopicActive = "SUSPICIOUS_TOPIC_ACTIVITY"
)

const (
	failureRateThreshold = 0.3
	dominanceThreshold   = 0.8
	dormancyGap          = 90 * 24 * time.Hour
	burstWindow          = 7 * 24 * time.Hour
)

// detectRiskFlags inspects whatever datasets are available. Flags only
// ever deduct; their combined effect is clamped by the caller.
func (e *Engine) detectRiskFlags(bundle *analytics.Bundle) []RiskFlag {
	var flags []RiskFlag

	if bundle.Has(analytics.DatasetTransactions) && len(bundle.Transactions) > 0 {
		if flag, ok := failureRateFlag(bundle.Transactions); ok {
			flags = append(flags, flag)
		}
		if flag, ok := dominanceFlag(bundle.Transactions); ok {
			flags = append(flags, flag)
		}
		if flag, ok := dormancyFlag(bundle.Transactions); ok {
			flags = append(flags, flag)
		}
	}

	if bundle.Has(analytics.DatasetMessages) {
		suspicious := toSet(e.cfg.SuspiciousTopics)
		for _, msg := range bundle.Messages {
			if _, ok := suspicious[msg.TopicID]; ok {
				flags = append(flags, RiskFlag{
					Code:        FlagSuspiciousTopicActive,
					Severity:    "HIGH",
					Description: fmt.Sprintf("activity on deny-listed topic %s", msg.TopicID),
					Deduction:   10,
				})
				break
			}
		}
	}
	return flags
}

func failureRateFlag(txs []analytics.Transaction) (RiskFlag, bool) {
	var failed int
	for _, tx := range txs {
		if tx.Result != "" && tx.Result != "SUCCESS" {
			failed++
		}
	}
	ratio := float64(failed) / float64(len(txs))
	if ratio <= failureRateThreshold {
		return RiskFlag{}, false
	}
	return RiskFlag{
		Code:        FlagHighFailureRate,
		Severity:    "MEDIUM",
		Description: fmt.Sprintf("%.0f%% of recent transactions failed", ratio*100),
		Deduction:   10,
	}, true
}

func dominanceFlag(txs []analytics.Transaction) (RiskFlag, bool) {
	if len(txs) < 5 {
		return RiskFlag{}, false
	}
	counts := make(map[string]int)
	for _, tx := range txs {
		if tx.Counterparty != "" {
			counts[tx.Counterparty]++
		}
	}
	for counterparty, n := range counts {
		if float64(n)/float64(len(txs)) >= dominanceThreshold {
			return RiskFlag{
				Code:        FlagCounterpartyDominance,
				Severity:    "MEDIUM",
				Description: fmt.Sprintf("%s is counterparty to %d of %d transactions", counterparty, n, len(txs)),
				Deduction:   5,
			}, true
		}
	}
	return RiskFlag{}, false
}

// dormancyFlag fires when a long-idle account suddenly bursts into
// activity, a pattern common to compromised or rented accounts.
func dormancyFlag(txs []analytics.Transaction) (RiskFlag, bool) {
	if len(txs) < 4 {
		return RiskFlag{}, false
	}

	sorted := make([]analytics.Transaction, len(txs))
	copy(sorted, txs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ConsensusAt.After(sorted[j].ConsensusAt)
	})

	newest := sorted[0].ConsensusAt
	var burst int
	for _, tx := range sorted {
		if newest.Sub(tx.ConsensusAt) <= burstWindow {
			burst++
		}
	}
	if burst < 3 || burst >= len(sorted) {
		return RiskFlag{}, false
	}

	// First transaction older than the burst window: the gap before the
	// burst is what matters.
	priorAt := sorted[burst].ConsensusAt
	if newest.Sub(priorAt) < dormancyGap {
		return RiskFlag{}, false
	}
	return RiskFlag{
		Code:        FlagDormantReactivation,
		Severity:    "MEDIUM",
		Description: fmt.Sprintf("%d transactions in the last week after %d days dormant", burst, int(newest.Sub(priorAt).Hours()/24)),
		Deduction:   10,
	}, true
}
