package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tradeflow/internal/logger"
)

type WorkflowStartedHandler struct{}

func (h *WorkflowStartedHandler) Type() EventType { return EvtWorkflowStarted }

func (h *WorkflowStartedHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	if !ctx.Orchestrator().tracker.Begin(evt.CorrelationID) {
		logger.Warnf("orchestrator: correlation=%s already terminal, start ignored", evt.CorrelationID)
		return nil
	}
	logger.Infof("orchestrator: workflow started correlation=%s", evt.CorrelationID)
	return nil
}

type SignalGeneratedHandler struct{}

func (h *SignalGeneratedHandler) Type() EventType { return EvtSignalGenerated }

func (h *SignalGeneratedHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var payload SignalGeneratedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("invalid payload for %s: %w", evt.Type, err)
	}
	logger.Infof("orchestrator: signals aggregated correlation=%s session=%s strategies=%d",
		evt.CorrelationID, payload.SessionID, payload.StrategyCount)
	return nil
}

type RebalancePlannedHandler struct{}

func (h *RebalancePlannedHandler) Type() EventType { return EvtRebalancePlanned }

// Handle launches the trade workers for the planned run. Execution is
// asynchronous; workers report back through EvtTradeExecuted and
// EvtWorkflowFailed.
func (h *RebalancePlannedHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var payload RebalancePlannedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("invalid payload for %s: %w", evt.Type, err)
	}
	orc := ctx.Orchestrator()
	if orc.executor == nil {
		logger.Warnf("orchestrator: no run executor wired, run=%s not dispatched", payload.RunID)
		return nil
	}
	logger.Infof("orchestrator: dispatching run=%s trades=%d two_phase=%v correlation=%s",
		payload.RunID, payload.Trades, payload.TwoPhase, evt.CorrelationID)
	go func(runID, correlationID string) {
		execCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := orc.executor.ExecuteRun(execCtx, runID); err != nil {
			reason, _ := json.Marshal(WorkflowFailedPayload{
				RunID:  runID,
				Stage:  "execution",
				Reason: err.Error(),
			})
			_ = orc.Send(EventEnvelope{
				Type:          EvtWorkflowFailed,
				CorrelationID: correlationID,
				Payload:       reason,
			})
		}
	}(payload.RunID, evt.CorrelationID)
	return nil
}

type TradeExecutedHandler struct{}

func (h *TradeExecutedHandler) Type() EventType { return EvtTradeExecuted }

func (h *TradeExecutedHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var payload TradeExecutedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("invalid payload for %s: %w", evt.Type, err)
	}
	logger.Infof("orchestrator: trade executed run=%s trade=%s symbol=%s success=%v skipped=%v",
		payload.RunID, payload.TradeID, payload.Symbol, payload.Success, payload.Skipped)
	return nil
}

type WorkflowCompletedHandler struct{}

func (h *WorkflowCompletedHandler) Type() EventType { return EvtWorkflowCompleted }

func (h *WorkflowCompletedHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	ctx.Orchestrator().tracker.MarkCompleted(evt.CorrelationID)
	logger.Infof("orchestrator: workflow completed correlation=%s", evt.CorrelationID)
	return nil
}

type WorkflowFailedHandler struct{}

func (h *WorkflowFailedHandler) Type() EventType { return EvtWorkflowFailed }

// Handle marks the correlation failed (suppressing all later events for
// it) and moves the associated run, if any, to Failed with the reason.
func (h *WorkflowFailedHandler) Handle(ctx *HandlerContext, evt EventEnvelope) error {
	var payload WorkflowFailedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("invalid payload for %s: %w", evt.Type, err)
	}
	orc := ctx.Orchestrator()
	orc.tracker.MarkFailed(evt.CorrelationID)
	logger.Errorf("orchestrator: workflow failed correlation=%s stage=%s reason=%s",
		evt.CorrelationID, payload.Stage, payload.Reason)
	if payload.RunID != "" && orc.runs != nil {
		failCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := orc.runs.FailRun(failCtx, payload.RunID, payload.Reason); err != nil {
			return fmt.Errorf("failing run %s: %w", payload.RunID, err)
		}
	}
	return nil
}
