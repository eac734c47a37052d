package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsApplied(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0.3", cfg.Producer.DefaultPrice)
	assert.Equal(t, "HBAR", cfg.Producer.Currency)
	assert.Equal(t, "hedera-testnet", cfg.Producer.Network)
	assert.Equal(t, 100, cfg.RateLimit.DefaultCalls)
	assert.Equal(t, 86400, cfg.RateLimit.DefaultPeriodSecs)
	assert.Equal(t, 3, cfg.Mirror.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Negotiation.OfferTTL)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: "9090"
producer:
  account_id: "0.0.98765"
  default_price: "0.5"
rate_limit:
  default_calls: 50
  default_period_seconds: 3600
scoring:
  trusted_topics: ["0.0.111"]
  suspicious_topics: ["0.0.666"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "0.0.98765", cfg.Producer.AccountID)
	assert.Equal(t, "0.5", cfg.Producer.DefaultPrice)
	assert.Equal(t, 50, cfg.RateLimit.DefaultCalls)
	assert.Equal(t, []string{"0.0.111"}, cfg.Scoring.TrustedTopics)
	assert.Equal(t, []string{"0.0.666"}, cfg.Scoring.SuspiciousTopics)

	// Untouched sections still get defaults.
	assert.Equal(t, "HBAR", cfg.Producer.Asset)
	assert.Equal(t, 3, cfg.Mirror.MaxRetries)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}
