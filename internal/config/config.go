package config

import "time"

// Config holds server and client configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format" validate:"omitempty,oneof=console json"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path" validate:"required"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret" validate:"required"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	AdminEmail  string        `mapstructure:"admin_email" yaml:"admin_email" validate:"omitempty,email"`
	// AuthRateLimit caps sign-up/sign-in requests per client IP per minute; 0 disables it.
	AuthRateLimit int `mapstructure:"auth_rate_limit" yaml:"auth_rate_limit" validate:"gte=0"`

	// HistoryLimit bounds the initial chat history page.
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit" validate:"gte=1,lte=500"`
	// SubscriberBuffer is the per-subscriber realtime event buffer.
	SubscriberBuffer int `mapstructure:"subscriber_buffer" yaml:"subscriber_buffer" validate:"gte=1"`

	Redis       RedisConfig       `mapstructure:"redis" yaml:"redis"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance" yaml:"maintenance"`
	Client      ClientConfig      `mapstructure:"client" yaml:"client"`
}

// RedisConfig enables cross-instance realtime fan-out.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

// MaintenanceConfig schedules database housekeeping.
type MaintenanceConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Schedule string `mapstructure:"schedule" yaml:"schedule" validate:"required_if=Enabled true"`
}

// ClientConfig is used by the chat and admin commands.
type ClientConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Scope   string `mapstructure:"scope" yaml:"scope"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "deploydeck.db",
		JWTSecret:         "change-me",
		JWTIssuer:         "deploydeck",
		JWTAudience:       "deploydeck",
		TokenTTL:          24 * time.Hour,
		AuthRateLimit:     30,
		HistoryLimit:      100,
		SubscriberBuffer:  64,
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "deploydeck:realtime",
		},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			Schedule: "0 4 * * *",
		},
		Client: ClientConfig{
			BaseURL: "http://localhost:8080",
			Scope:   "global",
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
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
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.AdminEmail != "" {
		c.AdminEmail = other.AdminEmail
	}
	if other.HistoryLimit != 0 {
		c.HistoryLimit = other.HistoryLimit
	}
	if other.Client.BaseURL != "" {
		c.Client.BaseURL = other.Client.BaseURL
	}
	if other.Client.Scope != "" {
		c.Client.Scope = other.Client.Scope
	}
}
