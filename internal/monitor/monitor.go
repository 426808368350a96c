package monitor

import (
	"context"
	"sync"
	"time"

	"tradeflow/internal/aggregation"
	"tradeflow/internal/execution"
	"tradeflow/internal/logger"
	"tradeflow/internal/metrics"
	"tradeflow/internal/scheduler"
	"tradeflow/internal/store/coordstore"
)

const (
	MetricStuckRuns     = "stuck_execution_runs"
	MetricStuckSessions = "stuck_aggregation_sessions"
	MetricPurgedRows    = "purged_expired_rows"
)

// Thresholds controls how old a run or session must be before a scan
// flags it. Hot-reloadable, see watcher.go.
type Thresholds struct {
	RunMaxAge     time.Duration
	SessionMaxAge time.Duration
}

// Monitor runs scheduled operational scans over the coordination store.
// Scans only observe and emit counters; they never fail runs or sessions
// themselves, that stays with the workers that own them.
type Monitor struct {
	runs     *execution.Service
	sessions *aggregation.Service
	store    *coordstore.GormStore
	sink     metrics.Sink

	mu         sync.RWMutex
	thresholds Thresholds

	interval time.Duration
}

func NewMonitor(runs *execution.Service, sessions *aggregation.Service, store *coordstore.GormStore, sink metrics.Sink, thresholds Thresholds, interval time.Duration) *Monitor {
	if sink == nil {
		sink = metrics.LogSink{}
	}
	if thresholds.RunMaxAge <= 0 {
		thresholds.RunMaxAge = 30 * time.Minute
	}
	if thresholds.SessionMaxAge <= 0 {
		thresholds.SessionMaxAge = 30 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{
		runs:       runs,
		sessions:   sessions,
		store:      store,
		sink:       sink,
		thresholds: thresholds,
		interval:   interval,
	}
}

// SetThresholds swaps scan thresholds at runtime.
func (m *Monitor) SetThresholds(t Thresholds) {
	if t.RunMaxAge <= 0 || t.SessionMaxAge <= 0 {
		logger.Warnf("monitor: ignoring invalid thresholds run=%s session=%s", t.RunMaxAge, t.SessionMaxAge)
		return
	}
	m.mu.Lock()
	m.thresholds = t
	m.mu.Unlock()
	logger.Infof("monitor: thresholds updated run_max_age=%s session_max_age=%s", t.RunMaxAge, t.SessionMaxAge)
}

func (m *Monitor) Thresholds() Thresholds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholds
}

// Start blocks running aligned scans until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	if m == nil {
		return
	}
	sched := scheduler.NewAlignedScheduler(ctx, m.interval, 0)
	sched.Start(func() { m.Scan(ctx) })
}

// Scan runs one pass of all operational checks. Exported so a single
// scan can be triggered from tests or an operator endpoint.
func (m *Monitor) Scan(ctx context.Context) {
	t := m.Thresholds()
	m.scanStuckRuns(ctx, t.RunMaxAge)
	m.scanStuckSessions(ctx, t.SessionMaxAge)
	m.purgeExpired(ctx)
}

func (m *Monitor) scanStuckRuns(ctx context.Context, maxAge time.Duration) {
	if m.runs == nil {
		return
	}
	stuck, err := m.runs.FindStuckRuns(ctx, maxAge)
	if err != nil {
		logger.Errorf("monitor: stuck run scan failed: %v", err)
		return
	}
	for _, r := range stuck {
		logger.Warnf("monitor: run %s stuck in %s for over %s (correlation=%s)",
			r.RunID, r.Status, maxAge, r.CorrelationID)
	}
	m.sink.EmitCount(MetricStuckRuns, len(stuck))
}

func (m *Monitor) scanStuckSessions(ctx context.Context, maxAge time.Duration) {
	if m.sessions == nil {
		return
	}
	stuck, err := m.sessions.FindStuckSessions(ctx, maxAge)
	if err != nil {
		logger.Errorf("monitor: stuck session scan failed: %v", err)
		return
	}
	for _, s := range stuck {
		logger.Warnf("monitor: session %s stuck pending for over %s (%d/%d strategies)",
			s.SessionID, maxAge, s.CompletedStrategies, s.TotalStrategies)
	}
	m.sink.EmitCount(MetricStuckSessions, len(stuck))
}

func (m *Monitor) purgeExpired(ctx context.Context) {
	if m.store == nil {
		return
	}
	purged, err := m.store.PurgeExpired(ctx, time.Now())
	if err != nil {
		logger.Errorf("monitor: ttl purge failed: %v", err)
		return
	}
	if purged > 0 {
		logger.Infof("monitor: purged %d expired rows", purged)
	}
	m.sink.EmitCount(MetricPurgedRows, int(purged))
}
