package model

import (
	"gorm.io/datatypes"
)

// RunStatus tracks the execution run lifecycle. Transitions only move
// forward along Pending -> Running -> SellPhase -> BuyPhase -> Notifying
// -> Completed, with Failed reachable from any non-terminal state. The
// single sanctioned regression is an expired Notifying lock being
// reclaimed by a fresh Notifying attempt.
type RunStatus int

const (
	RunStatusUnknown   RunStatus = 0
	RunStatusPending   RunStatus = 1
	RunStatusRunning   RunStatus = 2
	RunStatusSellPhase RunStatus = 3
	RunStatusBuyPhase  RunStatus = 4
	RunStatusNotifying RunStatus = 5
	RunStatusCompleted RunStatus = 6
	RunStatusFailed    RunStatus = 7
)

func (s RunStatus) String() string {
	switch s {
	case RunStatusPending:
		return "PENDING"
	case RunStatusRunning:
		return "RUNNING"
	case RunStatusSellPhase:
		return "SELL_PHASE"
	case RunStatusBuyPhase:
		return "BUY_PHASE"
	case RunStatusNotifying:
		return "NOTIFYING"
	case RunStatusCompleted:
		return "COMPLETED"
	case RunStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the run can no longer be mutated.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

type TradeStatus int

const (
	TradeStatusUnknown   TradeStatus = 0
	TradeStatusWaiting   TradeStatus = 1
	TradeStatusPending   TradeStatus = 2
	TradeStatusRunning   TradeStatus = 3
	TradeStatusCompleted TradeStatus = 4
	TradeStatusFailed    TradeStatus = 5
)

func (s TradeStatus) String() string {
	switch s {
	case TradeStatusWaiting:
		return "WAITING"
	case TradeStatusPending:
		return "PENDING"
	case TradeStatusRunning:
		return "RUNNING"
	case TradeStatusCompleted:
		return "COMPLETED"
	case TradeStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s TradeStatus) Terminal() bool {
	return s == TradeStatusCompleted || s == TradeStatusFailed
}

type SessionStatus int

const (
	SessionStatusUnknown     SessionStatus = 0
	SessionStatusPending     SessionStatus = 1
	SessionStatusAggregating SessionStatus = 2
	SessionStatusCompleted   SessionStatus = 3
	SessionStatusFailed      SessionStatus = 4
	SessionStatusTimeout     SessionStatus = 5
)

func (s SessionStatus) String() string {
	switch s {
	case SessionStatusPending:
		return "PENDING"
	case SessionStatusAggregating:
		return "AGGREGATING"
	case SessionStatusCompleted:
		return "COMPLETED"
	case SessionStatusFailed:
		return "FAILED"
	case SessionStatusTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Run phases. PhaseAll is used for single-phase runs where sells and buys
// dispatch together.
const (
	PhaseSell = "SELL"
	PhaseBuy  = "BUY"
	PhaseAll  = "ALL"
)

// Trade actions.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// ExecutionRunModel is the run aggregate root. All counter columns are
// mutated exclusively through additive UPDATE expressions; nothing in the
// codebase performs read-modify-write against them.
type ExecutionRunModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	RunID         string `gorm:"column:run_id;uniqueIndex"`
	PlanID        string `gorm:"column:plan_id"`
	CorrelationID string `gorm:"column:correlation_id;index"`

	TotalTrades     int `gorm:"column:total_trades"`
	CompletedTrades int `gorm:"column:completed_trades"`
	SucceededTrades int `gorm:"column:succeeded_trades"`
	FailedTrades    int `gorm:"column:failed_trades"`
	SkippedTrades   int `gorm:"column:skipped_trades"`

	SellTotal     int `gorm:"column:sell_total"`
	SellCompleted int `gorm:"column:sell_completed"`
	BuyTotal      int `gorm:"column:buy_total"`
	BuyCompleted  int `gorm:"column:buy_completed"`

	// Dollar trackers. Only ever mutated via additive UPDATE expressions;
	// skipped trades never touch these.
	SellFailedAmount    float64 `gorm:"column:sell_failed_amount"`
	SellSucceededAmount float64 `gorm:"column:sell_succeeded_amount"`
	CumulativeBuyValue  float64 `gorm:"column:cumulative_buy_value"`
	MaxEquityLimitUSD   float64 `gorm:"column:max_equity_limit_usd"`

	CurrentPhase  string    `gorm:"column:current_phase"`
	Status        RunStatus `gorm:"column:status;index"`
	FailureReason string    `gorm:"column:failure_reason"`

	NotificationLockAt      int64 `gorm:"column:notification_lock_at"`
	NotificationLockExpires int64 `gorm:"column:notification_lock_expires"`

	CreatedAtUnix int64 `gorm:"column:created_at;index"`
	ExpiresAtUnix int64 `gorm:"column:expires_at;index"`
}

func (ExecutionRunModel) TableName() string { return "execution_runs" }

// TradeModel is a child row of an execution run, keyed by (run_id, trade_id).
type TradeModel struct {
	ID              int64          `gorm:"column:id;primaryKey"`
	RunID           string         `gorm:"column:run_id;uniqueIndex:idx_run_trade,priority:1"`
	TradeID         string         `gorm:"column:trade_id;uniqueIndex:idx_run_trade,priority:2"`
	Symbol          string         `gorm:"column:symbol"`
	Action          string         `gorm:"column:action"`
	Phase           string         `gorm:"column:phase"`
	SequenceNumber  int            `gorm:"column:sequence_number"`
	TradeAmount     float64        `gorm:"column:trade_amount"`
	Status          TradeStatus    `gorm:"column:status;index"`
	OrderID         string         `gorm:"column:order_id"`
	ErrorMessage    string         `gorm:"column:error_message"`
	ExecutionData   datatypes.JSON `gorm:"column:execution_data"`
	StartedAtUnix   int64          `gorm:"column:started_at"`
	CompletedAtUnix int64          `gorm:"column:completed_at"`
}

func (TradeModel) TableName() string { return "run_trades" }

// AggregationSessionModel is the session aggregate root for multi-strategy
// signal collection.
type AggregationSessionModel struct {
	ID                  int64          `gorm:"column:id;primaryKey"`
	SessionID           string         `gorm:"column:session_id;uniqueIndex"`
	CorrelationID       string         `gorm:"column:correlation_id;index"`
	TotalStrategies     int            `gorm:"column:total_strategies"`
	CompletedStrategies int            `gorm:"column:completed_strategies"`
	Status              SessionStatus  `gorm:"column:status;index"`
	StrategyConfigs     datatypes.JSON `gorm:"column:strategy_configs"`
	CreatedAtUnix       int64          `gorm:"column:created_at;index"`
	TimeoutAtUnix       int64          `gorm:"column:timeout_at"`
	ExpiresAtUnix       int64          `gorm:"column:expires_at;index"`
}

func (AggregationSessionModel) TableName() string { return "aggregation_sessions" }

// PartialSignalModel is a child row of a session, keyed by
// (session_id, dsl_file). The unique index is what makes duplicate strategy
// submissions detectable as a conditional-put conflict.
type PartialSignalModel struct {
	ID                    int64          `gorm:"column:id;primaryKey"`
	SessionID             string         `gorm:"column:session_id;uniqueIndex:idx_session_strategy,priority:1"`
	DSLFile               string         `gorm:"column:dsl_file;uniqueIndex:idx_session_strategy,priority:2"`
	Allocation            float64        `gorm:"column:allocation"`
	ConsolidatedPortfolio datatypes.JSON `gorm:"column:consolidated_portfolio"`
	SignalsData           datatypes.JSON `gorm:"column:signals_data"`
	SignalCount           int            `gorm:"column:signal_count"`
	DataFreshness         datatypes.JSON `gorm:"column:data_freshness"`
	CompletedAtUnix       int64          `gorm:"column:completed_at"`
}

func (PartialSignalModel) TableName() string { return "partial_signals" }
