package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradeflow/internal/execution"
	"tradeflow/internal/store/model"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// NonFractionableMarker is the broker error substring identifying a trade
// that failed only because the asset cannot be sold in fractional
// quantities and the order rounded to zero shares. Trades failing with this
// marker moved no money and are reported as expected skips, not failures.
const NonFractionableMarker = "cannot be traded in fractional quantities"

// ExecutionSummary is the outward-facing report built from a finished run.
// It separates genuine failures from expected skips so a partial success
// reads differently from an actual failure.
type ExecutionSummary struct {
	RunID         string
	PlanID        string
	CorrelationID string

	TotalTrades     int
	SucceededTrades int
	FailedTrades    int
	SkippedTrades   int

	SucceededSymbols              []string
	FailedSymbols                 []string
	SkippedSymbols                []string
	NonFractionableSkippedSymbols []string

	SellSucceededAmount decimal.Decimal
	SellFailedAmount    decimal.Decimal
	CumulativeBuyValue  decimal.Decimal

	OrderIDs map[string]string // symbol -> order id, where the broker returned one
	Errors   map[string]string // symbol -> error message, genuine failures only

	PartialSuccess bool
	AllSucceeded   bool
	StartedAt      time.Time
}

// Aggregator is the read-side consumer of run state. It never mutates the
// run; the run service has already done all counting by the time a summary
// is built.
type Aggregator struct {
	runs *execution.Service
}

func NewAggregator(runs *execution.Service) *Aggregator {
	return &Aggregator{runs: runs}
}

// AggregateTradeResults derives the notification summary from a run's
// metadata and its full trade list. FAILED trades carrying the
// non-fractionable marker are reclassified as skips: no money moved, so
// they must not read as failures in the customer-facing report.
func AggregateTradeResults(run *execution.RunSummary, trades []model.TradeModel) *ExecutionSummary {
	if run == nil {
		return nil
	}
	out := &ExecutionSummary{
		RunID:               run.RunID,
		PlanID:              run.PlanID,
		CorrelationID:       run.CorrelationID,
		TotalTrades:         run.TotalTrades,
		SucceededTrades:     run.SucceededTrades,
		FailedTrades:        run.FailedTrades,
		SkippedTrades:       run.SkippedTrades,
		SellSucceededAmount: run.SellSucceededAmount,
		SellFailedAmount:    run.SellFailedAmount,
		CumulativeBuyValue:  run.CumulativeBuyValue,
		OrderIDs:            make(map[string]string),
		Errors:              make(map[string]string),
		StartedAt:           run.CreatedAt,
	}
	for _, t := range trades {
		symbol := t.Symbol
		orderID := t.OrderID
		if orderID == "" && len(t.ExecutionData) > 0 {
			if v := gjson.GetBytes(t.ExecutionData, "order_id"); v.Exists() {
				orderID = v.String()
			}
		}
		if orderID != "" {
			out.OrderIDs[symbol] = orderID
		}
		switch t.Status {
		case model.TradeStatusCompleted:
			if isSkipRecord(t) {
				out.SkippedSymbols = append(out.SkippedSymbols, symbol)
			} else {
				out.SucceededSymbols = append(out.SucceededSymbols, symbol)
			}
		case model.TradeStatusFailed:
			if strings.Contains(t.ErrorMessage, NonFractionableMarker) {
				out.NonFractionableSkippedSymbols = append(out.NonFractionableSkippedSymbols, symbol)
				continue
			}
			out.FailedSymbols = append(out.FailedSymbols, symbol)
			if t.ErrorMessage != "" {
				out.Errors[symbol] = t.ErrorMessage
			}
		}
	}
	out.AllSucceeded = len(out.FailedSymbols) == 0 && len(out.SkippedSymbols) == 0 &&
		len(out.NonFractionableSkippedSymbols) == 0
	out.PartialSuccess = len(out.FailedSymbols) == 0 && !out.AllSucceeded
	return out
}

// isSkipRecord distinguishes a skip (completed, no money moved) from a
// genuine fill on a Completed row. Workers record skips with a "skipped"
// flag in the execution payload.
func isSkipRecord(t model.TradeModel) bool {
	if len(t.ExecutionData) == 0 {
		return false
	}
	return gjson.GetBytes(t.ExecutionData, "skipped").Bool()
}

// BuildRunSummary loads the run and its trades and aggregates them.
// Returns nil when the run does not exist.
func (a *Aggregator) BuildRunSummary(ctx context.Context, runID string) (*ExecutionSummary, error) {
	if a == nil || a.runs == nil {
		return nil, fmt.Errorf("aggregator not initialized")
	}
	run, err := a.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}
	trades, err := a.runs.ListTrades(ctx, runID)
	if err != nil {
		return nil, err
	}
	return AggregateTradeResults(run, trades), nil
}

// RecordTradeCompleted is the aggregator's idempotent view of a completion:
// it assumes the run service already performed the increment and simply
// re-reads current counts.
func (a *Aggregator) RecordTradeCompleted(ctx context.Context, runID string) (*execution.RunSummary, error) {
	if a == nil || a.runs == nil {
		return nil, fmt.Errorf("aggregator not initialized")
	}
	return a.runs.GetRun(ctx, runID)
}

// ClaimCompletionNotification delegates the lock claim to the run service.
func (a *Aggregator) ClaimCompletionNotification(ctx context.Context, runID string, timeout time.Duration) (bool, error) {
	if a == nil || a.runs == nil {
		return false, fmt.Errorf("aggregator not initialized")
	}
	return a.runs.ClaimNotificationLock(ctx, runID, timeout)
}
