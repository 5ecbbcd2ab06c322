package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultEnv               = "dev"
	defaultLogLevel          = "info"
	defaultHTTPAddr          = ":9980"
	defaultStorePath         = "data/strike.db"
	defaultBrokerHost        = "127.0.0.1"
	defaultBrokerPort        = 7497
	defaultBrokerMode        = "paper"
	defaultBrokerTimeout     = 15
	defaultReviewerBatch     = 4
	defaultReviewerWindowMS  = 750
	defaultReviewerParallel  = 2
	defaultReviewerSpacingMS = 1200
	defaultReviewerTimeout   = 45
	defaultEarningsTTLMin    = 360
	defaultFilingsTTLMin     = 90
	defaultEventsTimeout     = 10
	defaultStatusRefreshSec  = 20
	defaultAccountSyncSec    = 45
	defaultExitSweepSec      = 60
	defaultConnectivitySec   = 30
	defaultMinRefreshGapSec  = 10
	defaultMinAccountGapSec  = 20
	defaultMinExitGapSec     = 30
)

// Load reads one YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config usable without a file, mainly for tests and tooling.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = defaultEnv
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultLogLevel
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = defaultHTTPAddr
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Broker.Host == "" {
		c.Broker.Host = defaultBrokerHost
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = defaultBrokerPort
	}
	if c.Broker.Mode == "" {
		c.Broker.Mode = defaultBrokerMode
	}
	if c.Broker.TimeoutSeconds <= 0 {
		c.Broker.TimeoutSeconds = defaultBrokerTimeout
	}
	if c.Reviewer.BatchSize <= 0 {
		c.Reviewer.BatchSize = defaultReviewerBatch
	}
	if c.Reviewer.BatchWindowMS <= 0 {
		c.Reviewer.BatchWindowMS = defaultReviewerWindowMS
	}
	if c.Reviewer.MaxConcurrent <= 0 {
		c.Reviewer.MaxConcurrent = defaultReviewerParallel
	}
	if c.Reviewer.MinIntervalMS <= 0 {
		c.Reviewer.MinIntervalMS = defaultReviewerSpacingMS
	}
	if c.Reviewer.TimeoutSeconds <= 0 {
		c.Reviewer.TimeoutSeconds = defaultReviewerTimeout
	}
	if c.Events.EarningsTTLMinutes <= 0 {
		c.Events.EarningsTTLMinutes = defaultEarningsTTLMin
	}
	if c.Events.FilingsTTLMinutes <= 0 {
		c.Events.FilingsTTLMinutes = defaultFilingsTTLMin
	}
	if c.Events.TimeoutSeconds <= 0 {
		c.Events.TimeoutSeconds = defaultEventsTimeout
	}
	if c.Sync.StatusRefreshSeconds <= 0 {
		c.Sync.StatusRefreshSeconds = defaultStatusRefreshSec
	}
	if c.Sync.AccountSyncSeconds <= 0 {
		c.Sync.AccountSyncSeconds = defaultAccountSyncSec
	}
	if c.Sync.ExitSweepSeconds <= 0 {
		c.Sync.ExitSweepSeconds = defaultExitSweepSec
	}
	if c.Sync.ConnectivitySeconds <= 0 {
		c.Sync.ConnectivitySeconds = defaultConnectivitySec
	}
	if c.Sync.MinRefreshGapSeconds <= 0 {
		c.Sync.MinRefreshGapSeconds = defaultMinRefreshGapSec
	}
	if c.Sync.MinAccountGapSeconds <= 0 {
		c.Sync.MinAccountGapSeconds = defaultMinAccountGapSec
	}
	if c.Sync.MinExitGapSeconds <= 0 {
		c.Sync.MinExitGapSeconds = defaultMinExitGapSec
	}
}

func (c *Config) validate() error {
	switch c.App.Env {
	case "dev", "test", "prod":
	default:
		return fmt.Errorf("app.env must be one of dev/test/prod, got %q", c.App.Env)
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	if c.Broker.Mode != "paper" && c.Broker.Mode != "live" {
		return fmt.Errorf("broker.mode must be paper or live, got %q", c.Broker.Mode)
	}
	if c.Broker.BaseURL == "" && strings.TrimSpace(c.Broker.Host) == "" {
		return fmt.Errorf("broker requires base_url or host")
	}
	if c.Reviewer.APIKey != "" && strings.TrimSpace(c.Reviewer.BaseURL) == "" {
		return fmt.Errorf("reviewer.api_key set but reviewer.base_url empty")
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}
