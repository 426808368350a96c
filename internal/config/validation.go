package config

import (
	"fmt"
	"strings"
	"time"

	"tradeflow/internal/scheduler"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Execution.validate(); err != nil {
		return err
	}
	if err := c.Monitor.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	return nil
}

func (e *ExecutionConfig) validate() error {
	if e.NotificationLockSeconds <= 0 {
		return fmt.Errorf("execution.notification_lock_seconds must be > 0")
	}
	if e.MaxEquityLimitUSD < 0 {
		return fmt.Errorf("execution.max_equity_limit_usd must be >= 0")
	}
	return nil
}

func (m *MonitorConfig) validate() error {
	if _, ok := parseMonitorAge(m.Interval); !ok {
		return fmt.Errorf("monitor.interval is invalid: %q", m.Interval)
	}
	if _, ok := parseMonitorAge(m.RunMaxAge); !ok {
		return fmt.Errorf("monitor.run_max_age is invalid: %q", m.RunMaxAge)
	}
	if _, ok := parseMonitorAge(m.SessionMaxAge); !ok {
		return fmt.Errorf("monitor.session_max_age is invalid: %q", m.SessionMaxAge)
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(b.Mode)) {
	case "paper":
		return nil
	default:
		return fmt.Errorf("broker.mode %q is not supported", b.Mode)
	}
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if !tg.Enabled {
		return nil
	}
	if strings.TrimSpace(tg.BotToken) == "" {
		return fmt.Errorf("notify.telegram.bot_token cannot be empty when enabled")
	}
	if strings.TrimSpace(tg.ChatID) == "" {
		return fmt.Errorf("notify.telegram.chat_id cannot be empty when enabled")
	}
	return nil
}

func parseMonitorAge(s string) (time.Duration, bool) {
	if d, ok := scheduler.ParseIntervalDuration(s); ok {
		return d, true
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// ScanInterval resolves monitor.interval, falling back to the default
// when unset.
func (m MonitorConfig) ScanInterval() time.Duration {
	if d, ok := parseMonitorAge(m.Interval); ok {
		return d
	}
	d, _ := parseMonitorAge(defaultMonitorInterval)
	return d
}

// RunAge resolves monitor.run_max_age.
func (m MonitorConfig) RunAge() time.Duration {
	if d, ok := parseMonitorAge(m.RunMaxAge); ok {
		return d
	}
	d, _ := parseMonitorAge(defaultMonitorRunAge)
	return d
}

// SessionAge resolves monitor.session_max_age.
func (m MonitorConfig) SessionAge() time.Duration {
	if d, ok := parseMonitorAge(m.SessionMaxAge); ok {
		return d
	}
	d, _ := parseMonitorAge(defaultMonitorSessionAge)
	return d
}
