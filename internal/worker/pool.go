package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tradeflow/internal/execution"
	"tradeflow/internal/gateway/broker"
	"tradeflow/internal/logger"
	"tradeflow/internal/store/model"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// CompletionNotifier delivers the customer-facing summary for a finished
// run. Called only by the worker that won the notification lock.
type CompletionNotifier interface {
	NotifyRunComplete(ctx context.Context, runID string) error
}

// Pool executes the trades of a run with one worker goroutine per trade,
// mirroring the one-invocation-per-trade model the coordination protocol is
// built for. Workers share nothing; every synchronization point is a store
// call on the execution service.
type Pool struct {
	runs     *execution.Service
	broker   broker.Client
	notifier CompletionNotifier

	lockTTL time.Duration

	// OnTradeExecuted, when set, is called after each completion. The app
	// wires this to the orchestrator's event feed.
	OnTradeExecuted func(runID, tradeID, symbol string, success, skipped bool)
}

func NewPool(runs *execution.Service, brokerClient broker.Client, notifier CompletionNotifier, lockTTL time.Duration) *Pool {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &Pool{
		runs:     runs,
		broker:   brokerClient,
		notifier: notifier,
		lockTTL:  lockTTL,
	}
}

// ExecuteRun dispatches every currently Pending trade of the run. In
// two-phase runs the BUY trades are still Waiting at this point; the worker
// whose SELL completion closes the phase releases and dispatches them.
func (p *Pool) ExecuteRun(ctx context.Context, runID string) error {
	if p == nil || p.runs == nil {
		return fmt.Errorf("worker pool not initialized")
	}
	run, err := p.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	// An all-BUY rebalance has nothing to liquidate: the SELL gate is
	// already satisfied at dispatch time, so cross the boundary here
	// instead of waiting for a SELL completion that can never arrive.
	if run.CurrentPhase == model.PhaseSell && run.SellCompleted >= run.SellTotal {
		won, err := p.runs.TransitionToBuyPhase(ctx, runID)
		if err != nil {
			return err
		}
		if won {
			if _, err := p.runs.MarkBuyTradesPending(ctx, runID); err != nil {
				return err
			}
		}
	}

	trades, err := p.runs.ListTrades(ctx, runID)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		return fmt.Errorf("run %s has no trades", runID)
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, t := range trades {
		if t.Status != model.TradeStatusPending {
			continue
		}
		trade := t
		group.Go(func() error {
			return p.executeTrade(ctx, group, trade)
		})
	}
	return group.Wait()
}

func (p *Pool) executeTrade(ctx context.Context, group *errgroup.Group, trade model.TradeModel) error {
	runID := trade.RunID
	if err := p.runs.MarkTradeStarted(ctx, runID, trade.TradeID); err != nil {
		return err
	}

	amount := decimal.NewFromFloat(trade.TradeAmount)
	input := execution.CompleteTradeInput{
		RunID:       runID,
		TradeID:     trade.TradeID,
		Phase:       trade.Phase,
		TradeAmount: amount,
	}

	if trade.Phase == model.PhaseBuy {
		decision, err := p.runs.CheckEquityCircuitBreaker(ctx, runID, amount)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			input.Skipped = true
			input.ErrorMessage = fmt.Sprintf("equity ceiling: projected %s exceeds limit %s",
				decision.Projected, decision.Limit)
			return p.finishTrade(ctx, group, trade, input)
		}
	}

	result, err := p.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:      trade.Symbol,
		Side:        trade.Action,
		NotionalUSD: amount,
	})
	if err != nil {
		// Transport failure toward the broker is a failed trade, not a
		// failed worker: the run must still converge to a terminal count.
		input.ErrorMessage = err.Error()
		return p.finishTrade(ctx, group, trade, input)
	}

	input.Success = result.Filled
	input.OrderID = result.OrderID
	input.ErrorMessage = result.Err
	if data, err := json.Marshal(map[string]any{
		"order_id":   result.OrderID,
		"filled_usd": result.FilledUSD,
	}); err == nil {
		input.ExecutionData = data
	}
	return p.finishTrade(ctx, group, trade, input)
}

// finishTrade records the completion and reacts to the returned state:
// crossing the phase boundary when this completion closed the SELL phase,
// and racing for the notification lock when it closed the run. Both races
// are safe to lose.
func (p *Pool) finishTrade(ctx context.Context, group *errgroup.Group, trade model.TradeModel, input execution.CompleteTradeInput) error {
	res, err := p.runs.MarkTradeCompleted(ctx, input)
	if err != nil {
		return err
	}
	if p.OnTradeExecuted != nil {
		p.OnTradeExecuted(trade.RunID, trade.TradeID, trade.Symbol, input.Success, input.Skipped)
	}

	if res.SellPhaseComplete && res.CurrentPhase == model.PhaseSell {
		won, err := p.runs.TransitionToBuyPhase(ctx, trade.RunID)
		if err != nil {
			return err
		}
		if won {
			if err := p.dispatchBuyPhase(ctx, group, trade.RunID); err != nil {
				return err
			}
		}
	}

	if res.RunComplete {
		return p.tryNotify(ctx, trade.RunID)
	}
	return nil
}

func (p *Pool) dispatchBuyPhase(ctx context.Context, group *errgroup.Group, runID string) error {
	released, err := p.runs.MarkBuyTradesPending(ctx, runID)
	if err != nil {
		return err
	}
	logger.Infof("worker: run=%s released %d buy trades", runID, released)
	trades, err := p.runs.ListTrades(ctx, runID)
	if err != nil {
		return err
	}
	for _, t := range trades {
		if t.Phase != model.PhaseBuy || t.Status != model.TradeStatusPending {
			continue
		}
		trade := t
		group.Go(func() error {
			return p.executeTrade(ctx, group, trade)
		})
	}
	return nil
}

// tryNotify races for the notification lock. Exactly one worker per run
// (per valid lock window) wins it; delivery failures leave the lock to
// expire so a later invocation can retry.
func (p *Pool) tryNotify(ctx context.Context, runID string) error {
	won, err := p.runs.ClaimNotificationLock(ctx, runID, p.lockTTL)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	if p.notifier != nil {
		if err := p.notifier.NotifyRunComplete(ctx, runID); err != nil {
			logger.Errorf("worker: run=%s notification failed, leaving lock to expire: %v", runID, err)
			return nil
		}
	}
	return p.runs.MarkNotificationSent(ctx, runID)
}
