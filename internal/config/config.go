package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrNoBaseURL = errors.New("base_url not set in config")
	ErrInvalid   = errors.New("invalid config")
)

// Config holds the lexchat client configuration.
type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	AuthToken      string        `mapstructure:"auth_token"`      // opaque bearer credential, optional
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // single-shot requests only; streams run until done
	PageSize       int           `mapstructure:"page_size"`       // conversation list page size
	LogLevel       string        `mapstructure:"log_level"`
}

// Load reads the config from ~/.config/lexchat/config.yaml.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(homeDir, ".config", "lexchat", "config.yaml"))
}

// LoadFrom reads the config from a specific path. Values can be overridden
// through LEXCHAT_-prefixed environment variables (e.g. LEXCHAT_AUTH_TOKEN).
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("LEXCHAT")
	v.AutomaticEnv()

	v.SetDefault("base_url", "http://localhost:8001")
	v.SetDefault("auth_token", "")
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("page_size", 20)
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) || errors.As(err, &viper.ConfigFileNotFoundError{}) {
			// Defaults plus env vars are a complete config on their own.
		} else {
			return nil, errors.Join(ErrInvalid, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Join(ErrInvalid, err)
	}

	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}

	return &cfg, nil
}
