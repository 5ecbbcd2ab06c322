package config

import "time"

// Config is the top-level service configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Store    StoreConfig    `mapstructure:"store"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Reviewer ReviewerConfig `mapstructure:"reviewer"`
	Events   EventsConfig   `mapstructure:"events"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
	HTTPAddr string `mapstructure:"http_addr"`
}

// Production reports whether this process should talk to real remote services.
func (a AppConfig) Production() bool { return a.Env == "prod" }

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// BrokerConfig describes the brokerage bridge REST endpoint.
type BrokerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	AccountCode    string `mapstructure:"account_code"`
	Mode           string `mapstructure:"mode"` // "paper" | "live"
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func (b BrokerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// ReviewerConfig drives the batched remote reviewer client.
type ReviewerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	BatchSize      int    `mapstructure:"batch_size"`
	BatchWindowMS  int    `mapstructure:"batch_window_ms"`
	MaxConcurrent  int    `mapstructure:"max_concurrent"`
	MinIntervalMS  int    `mapstructure:"min_interval_ms"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func (r ReviewerConfig) BatchWindow() time.Duration {
	return time.Duration(r.BatchWindowMS) * time.Millisecond
}

func (r ReviewerConfig) MinInterval() time.Duration {
	return time.Duration(r.MinIntervalMS) * time.Millisecond
}

func (r ReviewerConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// EventsConfig configures the corporate-event data adapters and their caches.
type EventsConfig struct {
	EarningsURL        string `mapstructure:"earnings_url"`
	FilingsURL         string `mapstructure:"filings_url"`
	EarningsTTLMinutes int    `mapstructure:"earnings_ttl_minutes"`
	FilingsTTLMinutes  int    `mapstructure:"filings_ttl_minutes"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
}

func (e EventsConfig) EarningsTTL() time.Duration {
	return time.Duration(e.EarningsTTLMinutes) * time.Minute
}

func (e EventsConfig) FilingsTTL() time.Duration {
	return time.Duration(e.FilingsTTLMinutes) * time.Minute
}

// SyncConfig sets loop intervals and throttle floors for the gateway sweeps.
type SyncConfig struct {
	StatusRefreshSeconds int `mapstructure:"status_refresh_seconds"`
	AccountSyncSeconds   int `mapstructure:"account_sync_seconds"`
	ExitSweepSeconds     int `mapstructure:"exit_sweep_seconds"`
	ConnectivitySeconds  int `mapstructure:"connectivity_seconds"`
	MinRefreshGapSeconds int `mapstructure:"min_refresh_gap_seconds"`
	MinAccountGapSeconds int `mapstructure:"min_account_gap_seconds"`
	MinExitGapSeconds    int `mapstructure:"min_exit_gap_seconds"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}
