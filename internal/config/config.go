// Package config loads the broker's runtime configuration: a YAML file
// overlaid by BGPKIT_BROKER_* environment variables, matching the
// providers/file + providers/env double-underscore nesting convention used
// throughout the corpus.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Service  ServiceConfig  `koanf:"service"`
	Store    StoreConfig    `koanf:"store"`
	Crawler  CrawlerConfig  `koanf:"crawler"`
	Updater  UpdaterConfig  `koanf:"updater"`
	API      APIConfig      `koanf:"api"`
	NATS     NATSConfig     `koanf:"nats"`
	Backup   BackupConfig   `koanf:"backup"`
	Meta     MetaConfig     `koanf:"meta"`
	SDK      SDKConfig      `koanf:"sdk"`
}

type ServiceConfig struct {
	LogLevel     string `koanf:"log_level"`
	HeartbeatURL string `koanf:"heartbeat_url"`
}

type StoreConfig struct {
	Path string `koanf:"path"`
}

type CrawlerConfig struct {
	MaxRetries           int `koanf:"max_retries"`
	BackoffMs            int `koanf:"backoff_ms"`
	CollectorConcurrency int `koanf:"collector_concurrency"`
	MonthConcurrency     int `koanf:"month_concurrency"`
}

type UpdaterConfig struct {
	IntervalSeconds int  `koanf:"interval_seconds"`
	SafetyWindowSec int  `koanf:"safety_window_seconds"`
	Bootstrap       bool `koanf:"bootstrap"`
	BootstrapURL    string `koanf:"bootstrap_url"`
}

type APIConfig struct {
	Listen   string `koanf:"listen"`
	RootPath string `koanf:"root_path"`
}

type NATSConfig struct {
	URL         string `koanf:"url"`
	User        string `koanf:"user"`
	Password    string `koanf:"password"`
	RootSubject string `koanf:"root_subject"`
}

type BackupConfig struct {
	To              string `koanf:"to"`
	IntervalHours   int    `koanf:"interval_hours"`
	HeartbeatURL    string `koanf:"heartbeat_url"`
	CompressZstd    bool   `koanf:"compress_zstd"`
}

type MetaConfig struct {
	RetentionDays int `koanf:"retention_days"`
}

// SDKConfig configures the pkg/broker Client when used in remote mode.
type SDKConfig struct {
	URL string `koanf:"url"`
}

// Load reads path (if non-empty) as YAML, then overlays BGPKIT_BROKER_*
// environment variables (double underscore separates nesting levels, e.g.
// BGPKIT_BROKER_CRAWLER__MAX_RETRIES -> crawler.max_retries), then applies
// defaults for anything still unset and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("BGPKIT_BROKER_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "BGPKIT_BROKER_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{LogLevel: "info"},
		Store:   StoreConfig{Path: "bgpkit_broker.sqlite3"},
		Crawler: CrawlerConfig{
			MaxRetries:           3,
			BackoffMs:            1000,
			CollectorConcurrency: 2,
			MonthConcurrency:     2,
		},
		Updater: UpdaterConfig{
			IntervalSeconds: 300,
			SafetyWindowSec: 900,
			BootstrapURL:    "https://spaces.bgpkit.org/broker/bgpkit_broker.sqlite3",
		},
		API: APIConfig{
			Listen:   ":40064",
			RootPath: "/",
		},
		NATS: NATSConfig{
			RootSubject: "public.broker",
		},
		Backup: BackupConfig{
			IntervalHours: 24,
			CompressZstd:  true,
		},
		Meta: MetaConfig{RetentionDays: 30},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the constraints an operator-supplied config must satisfy.
// Unlike pkg/broker.Filter.Validate, which checks one request, this runs
// once and fails hard at startup: a broken deployment config should not
// silently run with nonsensical values.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("config: store.path is required")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("config: crawler.max_retries must be >= 0 (got %d)", c.Crawler.MaxRetries)
	}
	if c.Crawler.BackoffMs <= 0 {
		return fmt.Errorf("config: crawler.backoff_ms must be > 0 (got %d)", c.Crawler.BackoffMs)
	}
	if c.Crawler.CollectorConcurrency <= 0 {
		return fmt.Errorf("config: crawler.collector_concurrency must be > 0 (got %d)", c.Crawler.CollectorConcurrency)
	}
	if c.Crawler.MonthConcurrency <= 0 {
		return fmt.Errorf("config: crawler.month_concurrency must be > 0 (got %d)", c.Crawler.MonthConcurrency)
	}
	if c.Updater.IntervalSeconds <= 0 {
		return fmt.Errorf("config: updater.interval_seconds must be > 0 (got %d)", c.Updater.IntervalSeconds)
	}
	if c.Updater.SafetyWindowSec < 0 {
		return fmt.Errorf("config: updater.safety_window_seconds must be >= 0 (got %d)", c.Updater.SafetyWindowSec)
	}
	if c.Meta.RetentionDays <= 0 {
		return fmt.Errorf("config: meta.retention_days must be > 0 (got %d)", c.Meta.RetentionDays)
	}
	if c.Backup.IntervalHours <= 0 {
		return fmt.Errorf("config: backup.interval_hours must be > 0 (got %d)", c.Backup.IntervalHours)
	}
	if c.API.RootPath == "" {
		return fmt.Errorf("config: api.root_path is required")
	}
	if !strings.HasPrefix(c.API.RootPath, "/") {
		return fmt.Errorf("config: api.root_path must start with '/' (got %q)", c.API.RootPath)
	}
	return nil
}

// UpdateInterval and SafetyWindow convert the duration fields stored as
// plain integers (for clean env-var overlay) into time.Duration for callers.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.Updater.IntervalSeconds) * time.Second
}

func (c *Config) SafetyWindow() time.Duration {
	return time.Duration(c.Updater.SafetyWindowSec) * time.Second
}

func (c *Config) MetaRetention() time.Duration {
	return time.Duration(c.Meta.RetentionDays) * 24 * time.Hour
}

func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}
