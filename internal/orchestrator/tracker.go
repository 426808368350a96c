package orchestrator

import (
	"sync"
)

// WorkflowState is the in-process tri-state per correlation ID. It is
// deliberately not persisted: its only job is same-process event
// suppression, and absence of an entry means "not tracked".
type WorkflowState int

const (
	WorkflowStateUnknown WorkflowState = iota
	WorkflowStateRunning
	WorkflowStateCompleted
	WorkflowStateFailed
)

func (s WorkflowState) String() string {
	switch s {
	case WorkflowStateRunning:
		return "RUNNING"
	case WorkflowStateCompleted:
		return "COMPLETED"
	case WorkflowStateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the workflow can accept further events.
func (s WorkflowState) Terminal() bool {
	return s == WorkflowStateCompleted || s == WorkflowStateFailed
}

// WorkflowTracker is a thread-safe map of correlation ID to workflow state.
// Terminal states are sticky: once a workflow is Failed or Completed no
// later Begin/transition can revive it.
type WorkflowTracker struct {
	mu     sync.RWMutex
	states map[string]WorkflowState
}

func NewWorkflowTracker() *WorkflowTracker {
	return &WorkflowTracker{states: make(map[string]WorkflowState)}
}

// Begin marks a correlation as Running unless it already reached a
// terminal state.
func (t *WorkflowTracker) Begin(correlationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.states[correlationID].Terminal() {
		return false
	}
	t.states[correlationID] = WorkflowStateRunning
	return true
}

// MarkFailed moves a correlation to Failed. Sticky against Completed.
func (t *WorkflowTracker) MarkFailed(correlationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.states[correlationID] == WorkflowStateCompleted {
		return false
	}
	t.states[correlationID] = WorkflowStateFailed
	return true
}

// MarkCompleted moves a correlation to Completed. Sticky against Failed.
func (t *WorkflowTracker) MarkCompleted(correlationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.states[correlationID] == WorkflowStateFailed {
		return false
	}
	t.states[correlationID] = WorkflowStateCompleted
	return true
}

// State returns the tracked state; WorkflowStateUnknown when untracked.
func (t *WorkflowTracker) State(correlationID string) WorkflowState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[correlationID]
}

// Forget drops a correlation from the tracker. Used after a workflow's
// audit trail is fully flushed to keep the map from growing without bound.
func (t *WorkflowTracker) Forget(correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, correlationID)
}
