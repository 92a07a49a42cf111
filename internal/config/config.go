// Package config loads bot configuration from an optional YAML file with
// environment variable overrides for the classic deployment knobs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Environment keys recognized as overrides.
const (
	EnvToken         = "TOKEN"
	EnvDatabase      = "DATABASE"
	EnvFeedURL       = "FEED_URL"
	EnvRefreshSleep  = "REFRESH_SLEEP" // seconds between refresh cycle attempts
	EnvUpdateChannel = "UPDATE_CHANNEL"
)

const defaultFeedURL = "https://www.crunchyroll.com/rss/anime"

type Config struct {
	Token    string
	Database string

	FeedURL  string
	Platform string

	// UpdateChannel, when non-zero, receives every announcement.
	UpdateChannel int64

	RefreshInterval time.Duration
	StartupDelay    time.Duration
	PollTimeout     time.Duration

	NotifyRatePerSec int
	MetricsAddr      string
	LogLevel         string
}

// fileConfig is the YAML shape; durations are Go duration strings.
type fileConfig struct {
	Token    string `yaml:"token"`
	Database string `yaml:"database"`

	FeedURL  string `yaml:"feed_url"`
	Platform string `yaml:"platform"`

	UpdateChannel int64 `yaml:"update_channel"`

	RefreshInterval string `yaml:"refresh_interval"`
	StartupDelay    string `yaml:"startup_delay"`
	PollTimeout     string `yaml:"poll_timeout"`

	NotifyRatePerSec int    `yaml:"notify_rate_per_sec"`
	MetricsAddr      string `yaml:"metrics_addr"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Load reads path (if non-empty and present), applies env overrides and
// validates. A missing credential or unusable values are fatal.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Database:         "./anibot.db",
		FeedURL:          defaultFeedURL,
		Platform:         "crunchyroll",
		RefreshInterval:  5 * time.Minute,
		StartupDelay:     10 * time.Second,
		PollTimeout:      10 * time.Second,
		NotifyRatePerSec: 3,
		LogLevel:         "info",
	}

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			var fc fileConfig
			if err := yaml.Unmarshal(b, &fc); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			if err := applyFile(cfg, fc); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// Env-only deployments run without a config file.
		default:
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("bot token is required (config token or env TOKEN)")
	}
	if cfg.RefreshInterval < 10*time.Second {
		return nil, fmt.Errorf("refresh interval %s is too small (min 10s)", cfg.RefreshInterval)
	}
	return cfg, nil
}

func applyFile(cfg *Config, fc fileConfig) error {
	setStr := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	setStr(&cfg.Token, fc.Token)
	setStr(&cfg.Database, fc.Database)
	setStr(&cfg.FeedURL, fc.FeedURL)
	setStr(&cfg.Platform, fc.Platform)
	setStr(&cfg.MetricsAddr, fc.MetricsAddr)
	setStr(&cfg.LogLevel, fc.Logging.Level)
	if fc.UpdateChannel != 0 {
		cfg.UpdateChannel = fc.UpdateChannel
	}
	if fc.NotifyRatePerSec > 0 {
		cfg.NotifyRatePerSec = fc.NotifyRatePerSec
	}

	var err error
	if cfg.RefreshInterval, err = parseDurationField("refresh_interval", fc.RefreshInterval, cfg.RefreshInterval); err != nil {
		return err
	}
	if cfg.StartupDelay, err = parseDurationField("startup_delay", fc.StartupDelay, cfg.StartupDelay); err != nil {
		return err
	}
	if cfg.PollTimeout, err = parseDurationField("poll_timeout", fc.PollTimeout, cfg.PollTimeout); err != nil {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvToken); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv(EnvDatabase); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv(EnvFeedURL); v != "" {
		cfg.FeedURL = v
	}
	if v := os.Getenv(EnvRefreshSleep); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return fmt.Errorf("%s must be a positive number of seconds, got %q", EnvRefreshSleep, v)
		}
		cfg.RefreshInterval = time.Duration(secs) * time.Second
	}
	if v := os.Getenv(EnvUpdateChannel); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s must be a chat id, got %q", EnvUpdateChannel, v)
		}
		cfg.UpdateChannel = id
	}
	return nil
}

func parseDurationField(name, v string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", name, v)
	}
	return d, nil
}
