package orchestrator

import (
	"encoding/json"
	"time"
)

// EventType identifies a workflow event.
type EventType string

const (
	// EvtWorkflowStarted begins tracking a correlation.
	EvtWorkflowStarted EventType = "WORKFLOW_STARTED"
	// EvtSignalGenerated reports a completed strategy-signal aggregation.
	EvtSignalGenerated EventType = "SIGNAL_GENERATED"
	// EvtRebalancePlanned reports a decomposed rebalance plan whose
	// execution run is ready to dispatch.
	EvtRebalancePlanned EventType = "REBALANCE_PLANNED"
	// EvtTradeExecuted reports one trade worker's completion.
	EvtTradeExecuted EventType = "TRADE_EXECUTED"
	// EvtWorkflowCompleted closes a correlation successfully.
	EvtWorkflowCompleted EventType = "WORKFLOW_COMPLETED"
	// EvtWorkflowFailed closes a correlation with a failure; later events
	// for the same correlation are suppressed.
	EvtWorkflowFailed EventType = "WORKFLOW_FAILED"
)

// EventEnvelope wraps one workflow event for the orchestrator loop.
type EventEnvelope struct {
	Type          EventType
	CorrelationID string
	Payload       json.RawMessage
	Timestamp     time.Time

	// ReplyCh, when set, receives the handler result for synchronous sends.
	ReplyCh chan error
}

// WorkflowStartedPayload announces a new workflow.
type WorkflowStartedPayload struct {
	SessionID string `json:"session_id,omitempty"`
}

// SignalGeneratedPayload carries the consolidated portfolio out of a
// completed aggregation session.
type SignalGeneratedPayload struct {
	SessionID             string          `json:"session_id"`
	ConsolidatedPortfolio json.RawMessage `json:"consolidated_portfolio"`
	StrategyCount         int             `json:"strategy_count"`
}

// RebalancePlannedPayload names the execution run created from a plan.
type RebalancePlannedPayload struct {
	RunID    string `json:"run_id"`
	PlanID   string `json:"plan_id"`
	Trades   int    `json:"trades"`
	TwoPhase bool   `json:"two_phase"`
}

// TradeExecutedPayload reports a single trade completion.
type TradeExecutedPayload struct {
	RunID   string `json:"run_id"`
	TradeID string `json:"trade_id"`
	Symbol  string `json:"symbol"`
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped"`
}

// WorkflowFailedPayload closes a workflow with a reason; RunID is set when
// an execution run should be failed alongside.
type WorkflowFailedPayload struct {
	RunID  string `json:"run_id,omitempty"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason"`
}

// WorkflowCompletedPayload closes a workflow.
type WorkflowCompletedPayload struct {
	RunID string `json:"run_id,omitempty"`
}
