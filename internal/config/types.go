package config

import (
	"strings"
	"time"
)

// Config is the top-level configuration carrier for tradeflow.
type Config struct {
	App         AppConfig         `toml:"app"`
	Store       StoreConfig       `toml:"store"`
	Execution   ExecutionConfig   `toml:"execution"`
	Aggregation AggregationConfig `toml:"aggregation"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Broker      BrokerConfig      `toml:"broker"`
	Notify      NotifyConfig      `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type StoreConfig struct {
	Path            string `toml:"path"`
	RunTTLHours     int    `toml:"run_ttl_hours"`
	SessionTTLHours int    `toml:"session_ttl_hours"`
}

func (s StoreConfig) RunTTL() time.Duration {
	return time.Duration(s.RunTTLHours) * time.Hour
}

func (s StoreConfig) SessionTTL() time.Duration {
	return time.Duration(s.SessionTTLHours) * time.Hour
}

// ExecutionConfig controls run sequencing and the equity ceiling.
type ExecutionConfig struct {
	TwoPhase                bool    `toml:"two_phase"`
	NotificationLockSeconds int     `toml:"notification_lock_seconds"`
	RunTimeoutMinutes       int     `toml:"run_timeout_minutes"`
	MaxEquityLimitUSD       float64 `toml:"max_equity_limit_usd"` // 0 disables the ceiling
}

func (e ExecutionConfig) NotificationLockTTL() time.Duration {
	return time.Duration(e.NotificationLockSeconds) * time.Second
}

func (e ExecutionConfig) RunTimeout() time.Duration {
	return time.Duration(e.RunTimeoutMinutes) * time.Minute
}

type AggregationConfig struct {
	SessionTimeoutMinutes int `toml:"session_timeout_minutes"`
}

func (a AggregationConfig) SessionTimeout() time.Duration {
	return time.Duration(a.SessionTimeoutMinutes) * time.Minute
}

// MonitorConfig controls the scheduled operational scans. Ages use the
// interval shorthand ("30m", "1h") or a Go duration string.
type MonitorConfig struct {
	Interval       string `toml:"interval"`
	RunMaxAge      string `toml:"run_max_age"`
	SessionMaxAge  string `toml:"session_max_age"`
	ThresholdsPath string `toml:"thresholds_path"` // optional hot-reload file
}

// BrokerConfig selects the order gateway. "paper" is the only built-in
// mode; live brokerage plugs in behind the same interface.
type BrokerConfig struct {
	Mode string `toml:"mode"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// keySet tracks which field paths the config file set explicitly, so
// defaults never clobber a deliberate zero value.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
