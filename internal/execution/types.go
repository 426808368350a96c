package execution

import (
	"time"

	"tradeflow/internal/store/model"

	"github.com/shopspring/decimal"
)

// PlannedTrade is one trade descriptor supplied by the portfolio
// decomposition step. Sequence numbers give a store-independent total order
// with all SELL entries before all BUY entries.
type PlannedTrade struct {
	TradeID        string
	Symbol         string
	Action         string
	Phase          string
	SequenceNumber int
	Amount         decimal.Decimal
}

// CreateRunInput describes a new execution run.
type CreateRunInput struct {
	RunID         string
	PlanID        string
	CorrelationID string
	Trades        []PlannedTrade

	// TwoPhase holds BUY trades in Waiting until the SELL phase closes.
	TwoPhase bool

	// MaxEquityLimitUSD enables the buy-side capital ceiling when positive.
	MaxEquityLimitUSD decimal.Decimal

	CreatedAt time.Time
	TTL       time.Duration
}

// RunSummary is the read model of a run's metadata row.
type RunSummary struct {
	RunID         string
	PlanID        string
	CorrelationID string

	TotalTrades     int
	CompletedTrades int
	SucceededTrades int
	FailedTrades    int
	SkippedTrades   int

	SellTotal     int
	SellCompleted int
	BuyTotal      int
	BuyCompleted  int

	SellFailedAmount    decimal.Decimal
	SellSucceededAmount decimal.Decimal
	CumulativeBuyValue  decimal.Decimal
	MaxEquityLimitUSD   decimal.Decimal

	CurrentPhase  string
	Status        model.RunStatus
	FailureReason string
	CreatedAt     time.Time
}

// CompleteTradeInput carries one worker's completion report.
type CompleteTradeInput struct {
	RunID   string
	TradeID string

	Success bool
	// Skipped marks an expected no-op (no money moved). Skips count toward
	// completion but never toward the dollar trackers.
	Skipped bool

	OrderID      string
	ErrorMessage string

	// Phase and TradeAmount override the stored trade row when set; workers
	// that already hold the trade descriptor pass them to save a read.
	Phase       string
	TradeAmount decimal.Decimal

	ExecutionData []byte
}

// CompletionResult returns the post-completion counters plus the derived
// phase/run booleans, all taken from a single atomic write's read-back.
type CompletionResult struct {
	RunID     string
	Duplicate bool

	TotalTrades     int
	CompletedTrades int
	SucceededTrades int
	FailedTrades    int
	SkippedTrades   int

	SellTotal     int
	SellCompleted int
	BuyTotal      int
	BuyCompleted  int

	SellFailedAmount    decimal.Decimal
	SellSucceededAmount decimal.Decimal
	CumulativeBuyValue  decimal.Decimal
	MaxEquityLimitUSD   decimal.Decimal

	SellPhaseComplete bool
	BuyPhaseComplete  bool
	RunComplete       bool

	CurrentPhase string
	Status       model.RunStatus
}

func summaryFromModel(run *model.ExecutionRunModel) *RunSummary {
	if run == nil {
		return nil
	}
	return &RunSummary{
		RunID:               run.RunID,
		PlanID:              run.PlanID,
		CorrelationID:       run.CorrelationID,
		TotalTrades:         run.TotalTrades,
		CompletedTrades:     run.CompletedTrades,
		SucceededTrades:     run.SucceededTrades,
		FailedTrades:        run.FailedTrades,
		SkippedTrades:       run.SkippedTrades,
		SellTotal:           run.SellTotal,
		SellCompleted:       run.SellCompleted,
		BuyTotal:            run.BuyTotal,
		BuyCompleted:        run.BuyCompleted,
		SellFailedAmount:    decimal.NewFromFloat(run.SellFailedAmount),
		SellSucceededAmount: decimal.NewFromFloat(run.SellSucceededAmount),
		CumulativeBuyValue:  decimal.NewFromFloat(run.CumulativeBuyValue),
		MaxEquityLimitUSD:   decimal.NewFromFloat(run.MaxEquityLimitUSD),
		CurrentPhase:        run.CurrentPhase,
		Status:              run.Status,
		FailureReason:       run.FailureReason,
		CreatedAt:           time.UnixMilli(run.CreatedAtUnix),
	}
}

func resultFromModel(run *model.ExecutionRunModel, duplicate bool) *CompletionResult {
	res := &CompletionResult{
		RunID:               run.RunID,
		Duplicate:           duplicate,
		TotalTrades:         run.TotalTrades,
		CompletedTrades:     run.CompletedTrades,
		SucceededTrades:     run.SucceededTrades,
		FailedTrades:        run.FailedTrades,
		SkippedTrades:       run.SkippedTrades,
		SellTotal:           run.SellTotal,
		SellCompleted:       run.SellCompleted,
		BuyTotal:            run.BuyTotal,
		BuyCompleted:        run.BuyCompleted,
		SellFailedAmount:    decimal.NewFromFloat(run.SellFailedAmount),
		SellSucceededAmount: decimal.NewFromFloat(run.SellSucceededAmount),
		CumulativeBuyValue:  decimal.NewFromFloat(run.CumulativeBuyValue),
		MaxEquityLimitUSD:   decimal.NewFromFloat(run.MaxEquityLimitUSD),
		CurrentPhase:        run.CurrentPhase,
		Status:              run.Status,
	}
	res.SellPhaseComplete = run.SellTotal == 0 || run.SellCompleted >= run.SellTotal
	res.BuyPhaseComplete = run.BuyCompleted >= run.BuyTotal
	res.RunComplete = run.CompletedTrades >= run.TotalTrades
	return res
}
