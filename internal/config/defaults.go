package config

import "strings"

const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9981"
	defaultAppLogPath        = "data/logs/tradeflow.log"
	defaultStorePath         = "data/db/tradeflow.db"
	defaultStoreRunTTLHrs    = 24
	defaultStoreSessTTLHrs   = 24
	defaultExecLockSeconds   = 300
	defaultExecRunTimeoutMin = 10
	defaultAggTimeoutMin     = 30
	defaultMonitorInterval   = "5m"
	defaultMonitorRunAge     = "30m"
	defaultMonitorSessionAge = "30m"
	defaultBrokerMode        = "paper"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Execution.applyDefaults(keys)
	c.Aggregation.applyDefaults(keys)
	c.Monitor.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		fieldDefault{
			key:   "store.run_ttl_hours",
			need:  func() bool { return s.RunTTLHours <= 0 },
			apply: func() { s.RunTTLHours = defaultStoreRunTTLHrs },
		},
		fieldDefault{
			key:   "store.session_ttl_hours",
			need:  func() bool { return s.SessionTTLHours <= 0 },
			apply: func() { s.SessionTTLHours = defaultStoreSessTTLHrs },
		},
	)
}

func (e *ExecutionConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "execution.notification_lock_seconds",
			need:  func() bool { return e.NotificationLockSeconds <= 0 },
			apply: func() { e.NotificationLockSeconds = defaultExecLockSeconds },
		},
		fieldDefault{
			key:   "execution.run_timeout_minutes",
			need:  func() bool { return e.RunTimeoutMinutes <= 0 },
			apply: func() { e.RunTimeoutMinutes = defaultExecRunTimeoutMin },
		},
		boolFieldDefault("execution.two_phase", &e.TwoPhase, true),
	)
}

func (a *AggregationConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "aggregation.session_timeout_minutes",
			need:  func() bool { return a.SessionTimeoutMinutes <= 0 },
			apply: func() { a.SessionTimeoutMinutes = defaultAggTimeoutMin },
		},
	)
}

func (m *MonitorConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("monitor.interval", &m.Interval, defaultMonitorInterval),
		stringFieldDefault("monitor.run_max_age", &m.RunMaxAge, defaultMonitorRunAge),
		stringFieldDefault("monitor.session_max_age", &m.SessionMaxAge, defaultMonitorSessionAge),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.mode", &b.Mode, defaultBrokerMode),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
