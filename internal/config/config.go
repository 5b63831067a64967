package config

import (
	"fmt"
	"time"

	"github.com/ComUnity/voiceid-service/internal/client"
)

type Config struct {
	Env         string `yaml:"env" env:"APP_ENV"`
	Port        int    `yaml:"port" env:"PORT"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`

	Server        ServerConfig        `yaml:"server"`
	Logger        LoggerConfig        `yaml:"logger"`
	Redis         client.RedisConfig  `yaml:"redis"`
	Verification  VerificationConfig  `yaml:"verification"`
	Risk          RiskConfig          `yaml:"risk"`
	Telephony     TelephonyConfig     `yaml:"telephony"`
	Matcher       MatcherConfig       `yaml:"matcher"`
	Kafka         KafkaAuditConfig    `yaml:"kafka"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	KMS           KMSConfig           `yaml:"kms"`
	Callback      CallbackConfig      `yaml:"callback"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
}

type ServerConfig struct {
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ForceHTTPS      bool          `yaml:"force_https" env:"FORCE_HTTPS"`

	// Proxy headers are honoured only for peers inside TrustedProxyCIDRs.
	TrustedProxyHeaders []string `yaml:"trusted_proxy_headers"`
	TrustedProxyCIDRs   []string `yaml:"trusted_proxy_cidrs" env:"TRUSTED_PROXY_CIDRS"`
}

type LoggerConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"`
	Encoding string `yaml:"encoding"`
	Output   string `yaml:"output"`
}

// VerificationConfig holds the orchestrator's thresholds and TTLs.
type VerificationConfig struct {
	KeyPrefix       string        `yaml:"key_prefix"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	ChallengeTTL    time.Duration `yaml:"challenge_ttl"`
	ConfirmationTTL time.Duration `yaml:"confirmation_ttl"`
	LockoutTTL      time.Duration `yaml:"lockout_ttl"`
	MaxFailures     int           `yaml:"max_failures"`
	MatchThreshold  float64       `yaml:"match_threshold"`
	// ChallengeRequired makes IssueChallenge mandatory before a verification recording.
	ChallengeRequired bool `yaml:"challenge_required"`
	// ConfirmMaxAttempts wrong enrollment confirmation codes discard the pending code.
	ConfirmMaxAttempts int `yaml:"confirm_max_attempts"`
}

type RiskConfig struct {
	Timezone string `yaml:"timezone" env:"RISK_TIMEZONE"`
}

// Location resolves Timezone, falling back to UTC.
func (r RiskConfig) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("risk timezone %q: %w", r.Timezone, err)
	}
	return loc, nil
}

type TelephonyConfig struct {
	BaseURL    string        `yaml:"base_url" env:"TELEPHONY_BASE_URL"`
	APIKey     string        `yaml:"api_key" env:"TELEPHONY_API_KEY"`
	FromNumber string        `yaml:"from_number" env:"TELEPHONY_FROM_NUMBER"`
	Timeout    time.Duration `yaml:"timeout"`
}

type MatcherConfig struct {
	BaseURL string        `yaml:"base_url" env:"MATCHER_BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"MATCHER_API_KEY"`
	Timeout time.Duration `yaml:"timeout"`
}

type KafkaAuditConfig struct {
	Enabled      bool          `yaml:"enabled" env:"KAFKA_AUDIT_ENABLED"`
	Brokers      []string      `yaml:"brokers" env:"KAFKA_BROKERS"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ElasticsearchConfig feeds the searchable audit copy.
type ElasticsearchConfig struct {
	Enabled     bool          `yaml:"enabled" env:"ES_AUDIT_ENABLED"`
	Addresses   []string      `yaml:"addresses" env:"ES_ADDRESSES"`
	APIKey      string        `yaml:"api_key" env:"ES_API_KEY"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password" env:"ES_PASSWORD"`
	IndexPrefix string        `yaml:"index_prefix"`
	FlushSize   int           `yaml:"flush_size"`
	FlushEvery  time.Duration `yaml:"flush_every"`
	Timeout     time.Duration `yaml:"timeout"`
}

type KMSConfig struct {
	KeyID             string            `yaml:"key_id" env:"KMS_KEY_ID"`
	Timeout           time.Duration     `yaml:"timeout"`
	EncryptionContext map[string]string `yaml:"encryption_context"`
}

type CallbackConfig struct {
	BaseURL    string        `yaml:"base_url" env:"CALLBACK_BASE_URL"`
	SigningKey string        `yaml:"signing_key" env:"CALLBACK_SIGNING_KEY"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
}

// RateLimitConfig bounds outbound call requests. A negative limit disables its window.
type RateLimitConfig struct {
	MaxPerPhonePerHour int      `yaml:"max_per_phone_per_hour"`
	MaxPerPhonePerDay  int      `yaml:"max_per_phone_per_day"`
	MaxPerIPPerMinute  int      `yaml:"max_per_ip_per_minute"`
	StrictOnFailure    bool     `yaml:"strict_on_failure"`
	WhitelistedIPs     []string `yaml:"whitelisted_ips"`

	// Per-address token bucket over the whole API.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Encoding == "" {
		c.Logger.Encoding = "json"
	}
	c.Verification.ApplyDefaults()
	if c.Telephony.Timeout == 0 {
		c.Telephony.Timeout = 10 * time.Second
	}
	if c.Matcher.Timeout == 0 {
		c.Matcher.Timeout = 15 * time.Second
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "voiceid.audit"
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 50 * time.Millisecond
	}
	if c.Kafka.WriteTimeout == 0 {
		c.Kafka.WriteTimeout = 5 * time.Second
	}
	if c.Elasticsearch.IndexPrefix == "" {
		c.Elasticsearch.IndexPrefix = "voiceid-audit"
	}
	if c.KMS.Timeout == 0 {
		c.KMS.Timeout = 3 * time.Second
	}
	if c.Callback.TokenTTL == 0 {
		c.Callback.TokenTTL = c.Verification.SessionTTL
	}
	if c.RateLimit.MaxPerPhonePerHour == 0 {
		c.RateLimit.MaxPerPhonePerHour = 3
	}
	if c.RateLimit.MaxPerPhonePerDay == 0 {
		c.RateLimit.MaxPerPhonePerDay = 10
	}
	if c.RateLimit.MaxPerIPPerMinute == 0 {
		c.RateLimit.MaxPerIPPerMinute = 30
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
}

// ApplyDefaults fills zero values with the production policy.
func (v *VerificationConfig) ApplyDefaults() {
	if v.KeyPrefix == "" {
		v.KeyPrefix = "voiceid:"
	}
	if v.SessionTTL == 0 {
		v.SessionTTL = time.Hour
	}
	if v.ChallengeTTL == 0 {
		v.ChallengeTTL = 120 * time.Second
	}
	if v.ConfirmationTTL == 0 {
		v.ConfirmationTTL = 300 * time.Second
	}
	if v.LockoutTTL == 0 {
		v.LockoutTTL = time.Hour
	}
	if v.MaxFailures == 0 {
		v.MaxFailures = 3
	}
	if v.MatchThreshold == 0 {
		v.MatchThreshold = 0.85
	}
	if v.ConfirmMaxAttempts == 0 {
		v.ConfirmMaxAttempts = 5
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Verification.MatchThreshold <= 0 || c.Verification.MatchThreshold >= 1 {
		return fmt.Errorf("verification.match_threshold must be in (0,1), got %v", c.Verification.MatchThreshold)
	}
	if c.Verification.MaxFailures < 1 {
		return fmt.Errorf("verification.max_failures must be positive")
	}
	if c.Verification.ConfirmMaxAttempts < 1 {
		return fmt.Errorf("verification.confirm_max_attempts must be positive")
	}
	if _, err := c.Risk.Location(); err != nil {
		return err
	}
	if c.Env == "production" {
		if c.Callback.SigningKey == "" {
			return fmt.Errorf("callback.signing_key is required in production")
		}
		if c.Telephony.BaseURL == "" || c.Matcher.BaseURL == "" {
			return fmt.Errorf("telephony.base_url and matcher.base_url are required in production")
		}
		if c.Redis.URL == "" || c.DatabaseURL == "" {
			return fmt.Errorf("redis.url and database_url are required in production")
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must be set when kafka audit is enabled")
	}
	if c.Elasticsearch.Enabled && len(c.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("elasticsearch.addresses must be set when elasticsearch audit is enabled")
	}
	return nil
}
