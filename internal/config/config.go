// Package config defines service configuration and its loader.
package config

import (
	"errors"
	"strings"
)

// Sentinel error kinds for this package.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)

// Config contains process configuration.
type Config struct {
	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`

	DatabasePath string `koanf:"database_path"`

	// DevMode enables /dev/login and relaxes the token secret requirement.
	DevMode bool `koanf:"dev_mode"`

	TokenSecret   string `koanf:"token_secret"`
	TokenIssuer   string `koanf:"token_issuer"`
	TokenTTLHours int    `koanf:"token_ttl_hours"`

	// AdminUserIDs is a comma-separated list of user ids allowed on /api/admin.
	AdminUserIDs string `koanf:"admin_user_ids"`

	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`

	VAPIDPublicKey  string `koanf:"vapid_public_key"`
	VAPIDPrivateKey string `koanf:"vapid_private_key"`
	VAPIDSubject    string `koanf:"vapid_subject"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Addr:            ":8080",
		LogLevel:        "info",
		LogFormat:       "text",
		DatabasePath:    "./data/mazechase.db",
		TokenIssuer:     "mazechase",
		TokenTTLHours:   24,
		DefaultPageSize: 10,
		MaxPageSize:     100,
	}
}

// PushEnabled reports whether both VAPID keys are configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return errors.Join(ErrInvalidConfig, errors.New("addr must not be empty"))
	case strings.TrimSpace(c.DatabasePath) == "":
		return errors.Join(ErrInvalidConfig, errors.New("database_path must not be empty"))
	case c.DefaultPageSize < 1:
		return errors.Join(ErrInvalidConfig, errors.New("default_page_size must be at least 1"))
	case c.MaxPageSize < c.DefaultPageSize:
		return errors.Join(ErrInvalidConfig, errors.New("max_page_size must not be below default_page_size"))
	case c.TokenTTLHours < 1:
		return errors.Join(ErrInvalidConfig, errors.New("token_ttl_hours must be at least 1"))
	case !c.DevMode && c.TokenSecret == "":
		return errors.Join(ErrInvalidConfig, errors.New("token_secret is required outside dev mode"))
	}
	return nil
}
