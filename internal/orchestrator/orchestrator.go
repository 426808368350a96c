package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradeflow/internal/execution"
	"tradeflow/internal/logger"
)

// RunExecutor dispatches the trade workers of an execution run. Implemented
// by the worker pool; the orchestrator only knows the entry point.
type RunExecutor interface {
	ExecuteRun(ctx context.Context, runID string) error
}

// Orchestrator is the event-driven coordinator of a trading workflow run.
//
// A single loop processes events sequentially. Before any handler runs, the
// workflow tracker is consulted: events for a correlation that already
// failed (or completed) are dropped and logged, never dispatched. This is
// what keeps a late pipeline stage from reporting success after an earlier
// stage has already failed and notified the operator.
type Orchestrator struct {
	runs     *execution.Service
	executor RunExecutor
	registry *HandlerRegistry
	tracker  *WorkflowTracker

	msgCh  chan EventEnvelope
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(runs *execution.Service, executor RunExecutor) *Orchestrator {
	registry := NewHandlerRegistry()
	registry.RegisterDefaultHandlers()
	return &Orchestrator{
		runs:     runs,
		executor: executor,
		registry: registry,
		tracker:  NewWorkflowTracker(),
		msgCh:    make(chan EventEnvelope, 100),
		stopCh:   make(chan struct{}),
	}
}

// Tracker exposes the workflow tracker for collaborators that need to
// consult suppression state directly.
func (o *Orchestrator) Tracker() *WorkflowTracker { return o.tracker }

func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go o.runLoop()
}

func (o *Orchestrator) Stop() {
	close(o.stopCh)
	o.wg.Wait()
}

// Send enqueues an event for dispatch.
func (o *Orchestrator) Send(evt EventEnvelope) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case o.msgCh <- evt:
		return nil
	case <-o.stopCh:
		return fmt.Errorf("orchestrator is stopped")
	}
}

// SendSync enqueues an event and waits for its handler result.
func (o *Orchestrator) SendSync(ctx context.Context, evt EventEnvelope) error {
	if evt.ReplyCh == nil {
		evt.ReplyCh = make(chan error, 1)
	}
	if err := o.Send(evt); err != nil {
		return err
	}
	select {
	case err := <-evt.ReplyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stopCh:
		return fmt.Errorf("orchestrator stopped during sync call")
	}
}

func (o *Orchestrator) runLoop() {
	defer o.wg.Done()
	logger.Infof("orchestrator: event loop started")
	for {
		select {
		case evt := <-o.msgCh:
			err := o.dispatch(evt)
			if evt.ReplyCh != nil {
				evt.ReplyCh <- err
			}
			if err != nil {
				logger.Errorf("orchestrator: handling %s failed: %v", evt.Type, err)
			}
		case <-o.stopCh:
			logger.Infof("orchestrator: event loop stopped")
			return
		}
	}
}

// dispatch is the suppressing interceptor around every registered handler.
func (o *Orchestrator) dispatch(evt EventEnvelope) error {
	state := o.tracker.State(evt.CorrelationID)
	if state.Terminal() {
		logger.Warnf("orchestrator: dropping %s for correlation=%s (workflow %s)",
			evt.Type, evt.CorrelationID, state)
		return nil
	}
	handler, ok := o.registry.Get(evt.Type)
	if !ok {
		logger.Warnf("orchestrator: no handler for event type %s", evt.Type)
		return nil
	}
	return handler.Handle(&HandlerContext{orc: o}, evt)
}
