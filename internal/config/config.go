// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Output   OutputConfig   `mapstructure:"output"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Acquire  AcquireConfig  `mapstructure:"acquire"`
	Download DownloadConfig `mapstructure:"download"`
	Debug    DebugConfig    `mapstructure:"debug"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// OutputConfig sets where per-keyword partitions live.
type OutputConfig struct {
	Dir            string `mapstructure:"dir"`
	DownloadImages bool   `mapstructure:"download_images"`
}

// BrowserConfig controls the headless browser session.
type BrowserConfig struct {
	Headless           bool   `mapstructure:"headless"`
	Proxy              string `mapstructure:"proxy"`
	UserAgent          string `mapstructure:"user_agent"`
	NavTimeoutSec      int    `mapstructure:"nav_timeout_seconds"`
	SelectorTimeoutSec int    `mapstructure:"selector_timeout_seconds"`
}

// AcquireConfig governs collection strategy and pagination behavior.
type AcquireConfig struct {
	SmallTarget           int `mapstructure:"small_target"`
	MediumTarget          int `mapstructure:"medium_target"`
	SmallScrollBudget     int `mapstructure:"small_scroll_budget"`
	MediumScrollBudget    int `mapstructure:"medium_scroll_budget"`
	StagnantScrollLimit   int `mapstructure:"stagnant_scroll_limit"`
	ExpansionScrollBudget int `mapstructure:"expansion_scroll_budget"`
	ExpansionStagnantMax  int `mapstructure:"expansion_stagnant_max"`
	FruitlessSeedLimit    int `mapstructure:"fruitless_seed_limit"`
	APIDelayMinMs         int `mapstructure:"api_delay_min_ms"`
	APIDelayMaxMs         int `mapstructure:"api_delay_max_ms"`
	APIPageSize           int `mapstructure:"api_page_size"`
}

// DownloadConfig configures the asset pipeline: pool size, retry bounds,
// and file acceptance thresholds.
type DownloadConfig struct {
	Workers               int   `mapstructure:"workers"`
	QueueDepth            int   `mapstructure:"queue_depth"`
	PollTimeoutMs         int   `mapstructure:"poll_timeout_ms"`
	PageSize              int   `mapstructure:"page_size"`
	FetchTimeoutSec       int   `mapstructure:"fetch_timeout_seconds"`
	MaxAttemptsPerURL     int   `mapstructure:"max_attempts_per_url"`
	BackoffInitialMs      int   `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs          int   `mapstructure:"backoff_max_ms"`
	ForbiddenBackoffMinMs int   `mapstructure:"forbidden_backoff_min_ms"`
	ForbiddenBackoffMaxMs int   `mapstructure:"forbidden_backoff_max_ms"`
	MinFileSize           int64 `mapstructure:"min_file_size"`
	// Per-host fetch pacing shared by all workers. host_rps <= 0 disables
	// the limit.
	HostRPS   float64 `mapstructure:"host_rps"`
	HostBurst int     `mapstructure:"host_burst"`
}

// DebugConfig toggles the local observability endpoint.
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PINHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.download_images", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.selector_timeout_seconds", 10)
	v.SetDefault("acquire.small_target", 100)
	v.SetDefault("acquire.medium_target", 1000)
	v.SetDefault("acquire.small_scroll_budget", 30)
	v.SetDefault("acquire.medium_scroll_budget", 100)
	v.SetDefault("acquire.stagnant_scroll_limit", 3)
	v.SetDefault("acquire.expansion_scroll_budget", 20)
	v.SetDefault("acquire.expansion_stagnant_max", 3)
	v.SetDefault("acquire.fruitless_seed_limit", 30)
	v.SetDefault("acquire.api_delay_min_ms", 1000)
	v.SetDefault("acquire.api_delay_max_ms", 1500)
	v.SetDefault("acquire.api_page_size", 25)
	v.SetDefault("download.workers", 15)
	v.SetDefault("download.queue_depth", 100)
	v.SetDefault("download.poll_timeout_ms", 1000)
	v.SetDefault("download.page_size", 500)
	v.SetDefault("download.fetch_timeout_seconds", 30)
	v.SetDefault("download.max_attempts_per_url", 3)
	v.SetDefault("download.backoff_initial_ms", 500)
	v.SetDefault("download.backoff_max_ms", 5000)
	v.SetDefault("download.forbidden_backoff_min_ms", 2000)
	v.SetDefault("download.forbidden_backoff_max_ms", 5000)
	v.SetDefault("download.min_file_size", 1024)
	v.SetDefault("download.host_rps", 10.0)
	v.SetDefault("download.host_burst", 5)
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must be set")
	}
	if c.Download.Workers <= 0 {
		return fmt.Errorf("download.workers must be > 0")
	}
	if c.Download.QueueDepth <= 0 {
		return fmt.Errorf("download.queue_depth must be > 0")
	}
	if c.Download.PageSize <= 0 {
		return fmt.Errorf("download.page_size must be > 0")
	}
	if c.Download.FetchTimeoutSec <= 0 {
		return fmt.Errorf("download.fetch_timeout_seconds must be > 0")
	}
	if c.Acquire.SmallTarget <= 0 || c.Acquire.MediumTarget <= c.Acquire.SmallTarget {
		return fmt.Errorf("acquire targets must satisfy 0 < small_target < medium_target")
	}
	if c.Acquire.APIDelayMaxMs < c.Acquire.APIDelayMinMs {
		return fmt.Errorf("acquire.api_delay_max_ms must be >= api_delay_min_ms")
	}
	if c.Debug.Enabled && c.Debug.Port <= 0 {
		return fmt.Errorf("debug.port must be > 0 when debug is enabled")
	}
	return nil
}

// FetchTimeout converts the download fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return c.Download.FetchTimeout()
}

// PollTimeout converts the worker dequeue poll window into a duration.
func (c Config) PollTimeout() time.Duration {
	return c.Download.PollTimeout()
}

// FetchTimeout converts the fetch timeout into a duration.
func (d DownloadConfig) FetchTimeout() time.Duration {
	return time.Duration(d.FetchTimeoutSec) * time.Second
}

// PollTimeout converts the worker dequeue poll window into a duration.
func (d DownloadConfig) PollTimeout() time.Duration {
	return time.Duration(d.PollTimeoutMs) * time.Millisecond
}
