package monitor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradeflow/internal/logger"
	"tradeflow/internal/scheduler"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type thresholdFile struct {
	Monitor struct {
		RunMaxAge     string `yaml:"run_max_age"`
		SessionMaxAge string `yaml:"session_max_age"`
	} `yaml:"monitor"`
}

// WatchThresholds loads scan thresholds from a YAML file and re-applies
// them whenever the file changes, so operators can widen or tighten the
// stuck cutoffs without a restart.
func (m *Monitor) WatchThresholds(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("threshold watcher requires path")
	}
	apply := func() error {
		t, err := readThresholdFile(path)
		if err != nil {
			return err
		}
		m.SetThresholds(t)
		return nil
	}
	if err := apply(); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read threshold config failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := apply(); err != nil {
			logger.Errorf("threshold reload failed: %v", err)
		}
	})
	v.WatchConfig()
	logger.Infof("monitor: watching thresholds at %s", filepath.Base(path))
	return nil
}

func readThresholdFile(path string) (Thresholds, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, fmt.Errorf("read threshold config failed: %w", err)
	}
	var cfg thresholdFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&cfg); err != nil {
		return Thresholds{}, fmt.Errorf("parse threshold config failed: %w", err)
	}
	runAge, ok := parseAge(cfg.Monitor.RunMaxAge)
	if !ok {
		return Thresholds{}, fmt.Errorf("invalid monitor.run_max_age: %q", cfg.Monitor.RunMaxAge)
	}
	sessionAge, ok := parseAge(cfg.Monitor.SessionMaxAge)
	if !ok {
		return Thresholds{}, fmt.Errorf("invalid monitor.session_max_age: %q", cfg.Monitor.SessionMaxAge)
	}
	return Thresholds{RunMaxAge: runAge, SessionMaxAge: sessionAge}, nil
}

func parseAge(s string) (time.Duration, bool) {
	if d, ok := scheduler.ParseIntervalDuration(s); ok {
		return d, true
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
