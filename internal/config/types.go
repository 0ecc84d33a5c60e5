package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Privacy   PrivacyConfig   `yaml:"privacy" mapstructure:"privacy"`
	Blocklist BlocklistConfig `yaml:"blocklist" mapstructure:"blocklist"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Upstream  UpstreamConfig  `yaml:"upstream" mapstructure:"upstream"`
	Events    EventsConfig    `yaml:"events" mapstructure:"events"`
	Audit     AuditConfig     `yaml:"audit" mapstructure:"audit"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// CustomPatternConfig declares a user-supplied detection pattern.
type CustomPatternConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Pattern     string `yaml:"pattern" mapstructure:"pattern"`
	Placeholder string `yaml:"placeholder" mapstructure:"placeholder"`
}

// PrivacyConfig configures the PII redactor module.
type PrivacyConfig struct {
	Enabled            bool                  `yaml:"enabled" mapstructure:"enabled"`
	DetectEmails       bool                  `yaml:"detect_emails" mapstructure:"detect_emails"`
	DetectPhones       bool                  `yaml:"detect_phones" mapstructure:"detect_phones"`
	DetectNationalIDs  bool                  `yaml:"detect_national_ids" mapstructure:"detect_national_ids"`
	DetectCredentials  bool                  `yaml:"detect_credentials" mapstructure:"detect_credentials"`
	DetectPaymentCards bool                  `yaml:"detect_payment_cards" mapstructure:"detect_payment_cards"`
	DetectIPAddresses  bool                  `yaml:"detect_ip_addresses" mapstructure:"detect_ip_addresses"`
	CustomPatterns     []CustomPatternConfig `yaml:"custom_patterns" mapstructure:"custom_patterns"`
	Allowlist          []string              `yaml:"allowlist" mapstructure:"allowlist"`
	AllowlistDomains   []string              `yaml:"allowlist_domains" mapstructure:"allowlist_domains"`
	RestoreOnResponse  bool                  `yaml:"restore_on_response" mapstructure:"restore_on_response"`
	LogDetections      bool                  `yaml:"log_detections" mapstructure:"log_detections"`
	Priority           int                   `yaml:"priority" mapstructure:"priority"`
}

// BlocklistConfig configures the word blocklist module.
type BlocklistConfig struct {
	Enabled  bool     `yaml:"enabled" mapstructure:"enabled"`
	Words    []string `yaml:"words" mapstructure:"words"`
	MaskWith string   `yaml:"mask_with" mapstructure:"mask_with"`
	Priority int      `yaml:"priority" mapstructure:"priority"`
}

// RateLimitConfig configures the rate limit module.
type RateLimitConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int    `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Store          string `yaml:"store" mapstructure:"store"` // memory or redis
	Priority       int    `yaml:"priority" mapstructure:"priority"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Path     string `yaml:"path" mapstructure:"path"`
		MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
		Compress bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// UpstreamConfig contains upstream model backend configuration
type UpstreamConfig struct {
	OpenAI    string        `yaml:"openai" mapstructure:"openai"`
	Anthropic string        `yaml:"anthropic" mapstructure:"anthropic"`
	Ollama    string        `yaml:"ollama" mapstructure:"ollama"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// EventsConfig contains WebSocket event hub configuration
type EventsConfig struct {
	Enabled            bool   `yaml:"enabled" mapstructure:"enabled"`
	Path               string `yaml:"path" mapstructure:"path"`
	Username           string `yaml:"username" mapstructure:"username"`
	Password           string `yaml:"password" mapstructure:"password"`
	BroadcastRequests  bool   `yaml:"broadcast_requests" mapstructure:"broadcast_requests"`
	BroadcastFindings  bool   `yaml:"broadcast_findings" mapstructure:"broadcast_findings"`
	BroadcastBlocks    bool   `yaml:"broadcast_blocks" mapstructure:"broadcast_blocks"`
	BroadcastSystem    bool   `yaml:"broadcast_system" mapstructure:"broadcast_system"`
	BroadcastPresence  bool   `yaml:"broadcast_presence" mapstructure:"broadcast_presence"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// AuditConfig contains the Postgres audit sink configuration
type AuditConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	FlushInterval   time.Duration `yaml:"flush_interval" mapstructure:"flush_interval"`
	BatchSize       int           `yaml:"batch_size" mapstructure:"batch_size"`
}

// CacheConfig contains the Redis rate counter store configuration
type CacheConfig struct {
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	Window         time.Duration `yaml:"window" mapstructure:"window"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Privacy: PrivacyConfig{
			Enabled:            true,
			DetectEmails:       true,
			DetectPhones:       true,
			DetectNationalIDs:  true,
			DetectCredentials:  true,
			DetectPaymentCards: true,
			DetectIPAddresses:  true,
			RestoreOnResponse:  false,
			LogDetections:      true,
			Priority:           25,
		},
		Blocklist: BlocklistConfig{
			Enabled:  false,
			MaskWith: "[BLOCKED]",
			Priority: 10,
		},
		RateLimit: RateLimitConfig{
			Enabled:        false,
			RequestsPerMin: 120,
			Store:          "memory",
			Priority:       5,
		},
		Upstream: UpstreamConfig{
			OpenAI:    "https://api.openai.com",
			Anthropic: "https://api.anthropic.com",
			Ollama:    "http://localhost:11434",
			Timeout:   30 * time.Second,
		},
		Events: EventsConfig{
			Enabled:           true,
			Path:              "/ws",
			BroadcastRequests: true,
			BroadcastFindings: true,
			BroadcastBlocks:   true,
			BroadcastSystem:   true,
			BroadcastPresence: true,
			AllowedOrigins:    []string{"*"},
		},
		Audit: AuditConfig{
			Enabled:         false,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			FlushInterval:   2 * time.Second,
			BatchSize:       100,
		},
		Cache: CacheConfig{
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   2,
			KeyPrefix:      "duckgate:rate",
			Window:         time.Minute,
		},
	}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File.Enabled = false
	cfg.Logging.File.Path = "logs/duckgate.log"
	cfg.Logging.File.MaxSize = 100 // MB
	cfg.Logging.File.MaxAge = 30   // days
	cfg.Logging.File.Compress = true

	return cfg
}
