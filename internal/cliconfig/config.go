// Package cliconfig loads portalctl settings with Viper.
package cliconfig

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/vejapro/portalauth"
)

// Config is the complete portalctl configuration.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Identity IdentityConfig `mapstructure:"identity"`
	Session  SessionConfig  `mapstructure:"session"`
	Request  RequestConfig  `mapstructure:"request"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Output   OutputConfig   `mapstructure:"output"`
}

type APIConfig struct {
	URL string `mapstructure:"url"`
}

type IdentityConfig struct {
	URL string `mapstructure:"url"`
	Key string `mapstructure:"key"`
}

// SessionConfig controls where credentials are kept between invocations.
type SessionConfig struct {
	Dir string `mapstructure:"dir"`
	// Portal is empty unless pinned by flag, env or file.
	Portal         string        `mapstructure:"portal"`
	RefreshMargin  time.Duration `mapstructure:"refresh_margin"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
}

type RequestConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type OutputConfig struct {
	Colors bool `mapstructure:"colors"`
}

// Load reads cfgFile, or .portalctl.yaml from the working directory and
// $HOME, then PORTALCTL_* environment variables. Values already set on v
// (bound flags) take precedence.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".portalctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix("PORTALCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.url", "http://localhost:8080")
	v.SetDefault("identity.url", "")
	v.SetDefault("identity.key", "")

	v.SetDefault("session.dir", defaultSessionDir())
	v.SetDefault("session.portal", "")
	v.SetDefault("session.refresh_margin", 300*time.Second)
	v.SetDefault("session.refresh_timeout", 15*time.Second)

	v.SetDefault("request.timeout", 15*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("output.colors", true)
}

func defaultSessionDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "portalctl", "sessions")
	}
	return filepath.Join(".portalctl", "sessions")
}

func validate(cfg *Config) error {
	u, err := url.Parse(cfg.API.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid api url: %q", cfg.API.URL)
	}
	if cfg.Session.Dir == "" {
		return errors.New("session dir must be set")
	}
	if cfg.Session.RefreshMargin < 0 {
		return errors.New("session refresh_margin must be >= 0")
	}
	if cfg.Session.RefreshTimeout <= 0 {
		return errors.New("session refresh_timeout must be > 0")
	}
	if cfg.Request.Timeout <= 0 {
		return errors.New("request timeout must be > 0")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", cfg.Logging.Level)
	}
	return nil
}

// ClientConfig maps the CLI settings onto a portalauth.Config.
func (c *Config) ClientConfig() portalauth.Config {
	out := portalauth.DefaultConfig()
	out.API.BaseURL = strings.TrimRight(c.API.URL, "/")
	out.Identity.BaseURL = strings.TrimRight(c.Identity.URL, "/")
	out.Identity.APIKey = c.Identity.Key
	if c.Session.Portal != "" {
		out.Session.DefaultPortal = portalauth.Portal(c.Session.Portal)
	}
	out.Session.RefreshMargin = c.Session.RefreshMargin
	out.Session.RefreshTimeout = c.Session.RefreshTimeout
	out.Request.Timeout = c.Request.Timeout
	out.Metrics.Enabled = true
	out.Metrics.EnableLatencyHistograms = true
	return out
}
