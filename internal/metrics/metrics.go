package metrics

import (
	"sync"

	"tradeflow/internal/logger"
)

// Sink receives named counter observations from the monitoring scans.
type Sink interface {
	EmitCount(name string, value int)
}

// LogSink writes every observation to the log. The default sink when no
// external metrics backend is configured.
type LogSink struct{}

func (LogSink) EmitCount(name string, value int) {
	logger.Infof("metric %s=%d", name, value)
}

// Registry is an in-memory counter store. Thread-safe; used by the HTTP
// status surface and by tests.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]int
	next     Sink
}

// NewRegistry builds a registry that also forwards to next when non-nil.
func NewRegistry(next Sink) *Registry {
	return &Registry{counters: make(map[string]int), next: next}
}

func (r *Registry) EmitCount(name string, value int) {
	r.mu.Lock()
	r.counters[name] = value
	r.mu.Unlock()
	if r.next != nil {
		r.next.EmitCount(name, value)
	}
}

// Snapshot returns a copy of all current counters.
func (r *Registry) Snapshot() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out
}

var (
	_ Sink = LogSink{}
	_ Sink = (*Registry)(nil)
)
