package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Producer    ProducerConfig    `yaml:"producer"`
	Mirror      MirrorConfig      `yaml:"mirror"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
	Audit       AuditConfig       `yaml:"audit"`
	Redis       RedisConfig       `yaml:"redis"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	Env          string        `yaml:"env"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ProducerConfig identifies the selling agent: the account that receives
// payments and the product it prices by default.
type ProducerConfig struct {
	AgentID        string `yaml:"agent_id"`
	AccountID      string `yaml:"account_id"`
	Network        string `yaml:"network"`
	Asset          string `yaml:"asset"`
	DefaultPrice   string `yaml:"default_price"`
	Currency       string `yaml:"currency"`
	ScoreEndpoint  string `yaml:"score_endpoint"`
	ProductName    string `yaml:"product_name"`
	ProductVersion string `yaml:"product_version"`
}

type MirrorConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryBase      time.Duration `yaml:"retry_base"`
	MaxRetries     int           `yaml:"max_retries"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// ScoringConfig carries the topic allow/deny lists. These are deployment
// data, not behavior: an empty list simply zeroes the HCS quality component.
type ScoringConfig struct {
	TrustedTopics    []string `yaml:"trusted_topics"`
	SuspiciousTopics []string `yaml:"suspicious_topics"`
}

type RateLimitConfig struct {
	DefaultCalls       int `yaml:"default_calls"`
	DefaultPeriodSecs  int `yaml:"default_period_seconds"`
	ViolationThreshold int `yaml:"violation_threshold"`
}

type NegotiationConfig struct {
	OfferTTL time.Duration `yaml:"offer_ttl"`
}

type AuditConfig struct {
	AlertingEnabled bool   `yaml:"alerting_enabled"`
	AlertWebhookURL string `yaml:"alert_webhook_url"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Load reads the yaml config at path and fills in defaults for anything
// left unset. A missing file is an error; an empty file yields defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with every default applied and no file read.
// Tests and local development use this.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}

	if c.Producer.AgentID == "" {
		c.Producer.AgentID = "trust-oracle-producer"
	}
	if c.Producer.Network == "" {
		c.Producer.Network = "hedera-testnet"
	}
	if c.Producer.Asset == "" {
		c.Producer.Asset = "HBAR"
	}
	if c.Producer.DefaultPrice == "" {
		c.Producer.DefaultPrice = "0.3"
	}
	if c.Producer.Currency == "" {
		c.Producer.Currency = "HBAR"
	}
	if c.Producer.ScoreEndpoint == "" {
		c.Producer.ScoreEndpoint = "/v1/trust-score"
	}
	if c.Producer.ProductName == "" {
		c.Producer.ProductName = "Account Trust Score"
	}
	if c.Producer.ProductVersion == "" {
		c.Producer.ProductVersion = "1.0.0"
	}

	if c.Mirror.BaseURL == "" {
		c.Mirror.BaseURL = "https://testnet.mirrornode.hedera.com"
	}
	if c.Mirror.RequestTimeout == 0 {
		c.Mirror.RequestTimeout = 10 * time.Second
	}
	if c.Mirror.RetryBase == 0 {
		c.Mirror.RetryBase = 500 * time.Millisecond
	}
	if c.Mirror.MaxRetries == 0 {
		c.Mirror.MaxRetries = 3
	}
	if c.Mirror.CacheTTL == 0 {
		c.Mirror.CacheTTL = 60 * time.Second
	}

	if c.RateLimit.DefaultCalls == 0 {
		c.RateLimit.DefaultCalls = 100
	}
	if c.RateLimit.DefaultPeriodSecs == 0 {
		c.RateLimit.DefaultPeriodSecs = 86400
	}
	if c.RateLimit.ViolationThreshold == 0 {
		c.RateLimit.ViolationThreshold = 1
	}

	if c.Negotiation.OfferTTL == 0 {
		c.Negotiation.OfferTTL = 5 * time.Minute
	}

	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "oracle:audit:"
	}
}
