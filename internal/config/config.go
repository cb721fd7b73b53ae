package config

import "time"

// Config holds server and client configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`
	JWTRequired bool          `mapstructure:"jwt_required" yaml:"jwt_required"`

	MaxMessageBytes    int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RateLimitPerMinute int   `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	HistoryMaxLimit    int   `mapstructure:"history_max_limit" yaml:"history_max_limit"`

	Client ClientConfig `mapstructure:"client" yaml:"client"`
}

// ClientConfig configures the sync engine used by the chat command.
type ClientConfig struct {
	ServerURL      string          `mapstructure:"server_url" yaml:"server_url"`
	APIURL         string          `mapstructure:"api_url" yaml:"api_url"`
	ConnectTimeout time.Duration   `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	FetchTimeout   time.Duration   `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	PageSize       int             `mapstructure:"page_size" yaml:"page_size"`
	TypingTTL      time.Duration   `mapstructure:"typing_ttl" yaml:"typing_ttl"`
	Reconnect      ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
}

// ReconnectConfig bounds the reconnect backoff.
type ReconnectConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
		DatabasePath:       "plansync.db",
		JWTSecret:          "change-me",
		JWTIssuer:          "plansync",
		JWTAudience:        "plansync",
		JWTTTL:             24 * time.Hour,
		JWTRequired:        false,
		MaxMessageBytes:    1 << 20,
		RateLimitPerMinute: 120,
		HistoryMaxLimit:    100,
		Client: ClientConfig{
			ServerURL:      "ws://localhost:8080/ws",
			APIURL:         "http://localhost:8080",
			ConnectTimeout: 10 * time.Second,
			FetchTimeout:   10 * time.Second,
			PageSize:       50,
			TypingTTL:      3 * time.Second,
			Reconnect: ReconnectConfig{
				MaxAttempts: 5,
				BaseDelay:   time.Second,
				MaxDelay:    30 * time.Second,
			},
		},
	}
}

// UpdateFrom overwrites non-zero server values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.RateLimitPerMinute != 0 {
		c.RateLimitPerMinute = other.RateLimitPerMinute
	}
	if other.Client.ServerURL != "" {
		c.Client.ServerURL = other.Client.ServerURL
	}
	if other.Client.APIURL != "" {
		c.Client.APIURL = other.Client.APIURL
	}
}
