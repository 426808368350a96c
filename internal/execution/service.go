package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradeflow/internal/logger"
	"tradeflow/internal/pkg/circuit"
	"tradeflow/internal/store/coordstore"
	"tradeflow/internal/store/model"

	"github.com/shopspring/decimal"
)

// Service owns the execution-run aggregate: trade completion tracking,
// two-phase sequencing, the equity ceiling and the notification lock.
// Every public method is one short store round-trip; there are no internal
// retries; redelivery is the caller's job, which is why every mutation
// here is idempotent.
type Service struct {
	store *coordstore.GormStore
}

func NewService(store *coordstore.GormStore) *Service {
	return &Service{store: store}
}

// CreateRun writes the run metadata plus one trade row per planned trade.
// Creation completes before any worker is dispatched, so every trade is
// visible before the first MarkTradeCompleted can arrive.
func (s *Service) CreateRun(ctx context.Context, in CreateRunInput) (*RunSummary, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("execution service not initialized")
	}
	if strings.TrimSpace(in.RunID) == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	sellTotal, buyTotal := 0, 0
	for _, t := range in.Trades {
		switch t.Phase {
		case model.PhaseSell:
			sellTotal++
		case model.PhaseBuy:
			buyTotal++
		default:
			return nil, fmt.Errorf("trade %s has invalid phase %q", t.TradeID, t.Phase)
		}
	}

	run := model.ExecutionRunModel{
		RunID:             in.RunID,
		PlanID:            in.PlanID,
		CorrelationID:     in.CorrelationID,
		TotalTrades:       len(in.Trades),
		SellTotal:         sellTotal,
		BuyTotal:          buyTotal,
		MaxEquityLimitUSD: in.MaxEquityLimitUSD.InexactFloat64(),
		CreatedAtUnix:     createdAt.UnixMilli(),
	}
	if in.TTL > 0 {
		run.ExpiresAtUnix = createdAt.Add(in.TTL).UnixMilli()
	}
	if in.TwoPhase {
		run.CurrentPhase = model.PhaseSell
		run.Status = model.RunStatusSellPhase
	} else {
		run.CurrentPhase = model.PhaseAll
		run.Status = model.RunStatusPending
	}

	trades := make([]model.TradeModel, 0, len(in.Trades))
	for _, t := range in.Trades {
		status := model.TradeStatusPending
		if in.TwoPhase && t.Phase == model.PhaseBuy {
			status = model.TradeStatusWaiting
		}
		trades = append(trades, model.TradeModel{
			RunID:          in.RunID,
			TradeID:        t.TradeID,
			Symbol:         strings.ToUpper(strings.TrimSpace(t.Symbol)),
			Action:         t.Action,
			Phase:          t.Phase,
			SequenceNumber: t.SequenceNumber,
			TradeAmount:    t.Amount.InexactFloat64(),
			Status:         status,
		})
	}

	if err := s.store.CreateRun(ctx, run, trades); err != nil {
		return nil, err
	}
	logger.Infof("execution: run %s created trades=%d sell=%d buy=%d two_phase=%v limit=%s",
		in.RunID, len(in.Trades), sellTotal, buyTotal, in.TwoPhase, in.MaxEquityLimitUSD)
	return summaryFromModel(&run), nil
}

// MarkTradeStarted is a best-effort move to Running, plus a race-tolerant
// run Pending->Running transition that any worker may win. Losing that
// transition is silent and expected.
func (s *Service) MarkTradeStarted(ctx context.Context, runID, tradeID string) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("execution service not initialized")
	}
	if err := s.store.MarkTradeRunning(ctx, runID, tradeID); err != nil {
		return err
	}
	if _, err := s.store.TryRunStatusTransition(ctx, runID, model.RunStatusPending, model.RunStatusRunning); err != nil {
		return err
	}
	return nil
}

// MarkTradeCompleted records one trade's terminal outcome exactly once.
//
// The trade row's conditional terminal write is the only guard; when it
// loses (duplicate delivery) the call degrades to a read of the current run
// counters and returns them unchanged. When it wins, every affected counter
// is bumped in a single additive UPDATE whose RETURNING row feeds the
// derived phase/run booleans, so completion counting never goes through a
// read-modify-write.
func (s *Service) MarkTradeCompleted(ctx context.Context, in CompleteTradeInput) (*CompletionResult, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("execution service not initialized")
	}

	phase := in.Phase
	amount := in.TradeAmount
	if phase == "" || amount.IsZero() {
		trade, ok, err := s.store.GetTrade(ctx, in.RunID, in.TradeID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("trade %s not found in run %s", in.TradeID, in.RunID)
		}
		if phase == "" {
			phase = trade.Phase
		}
		if amount.IsZero() {
			amount = decimal.NewFromFloat(trade.TradeAmount)
		}
	}

	status := model.TradeStatusCompleted
	if !in.Success && !in.Skipped {
		status = model.TradeStatusFailed
	}
	if in.Skipped && len(in.ExecutionData) == 0 {
		// Read-side aggregation tells skips apart from fills by this flag.
		in.ExecutionData = []byte(`{"skipped":true}`)
	}

	claimed, err := s.store.ClaimTradeCompletion(ctx, in.RunID, in.TradeID, status, in.OrderID, in.ErrorMessage, in.ExecutionData)
	if err != nil {
		return nil, err
	}
	if !claimed {
		run, ok, err := s.store.GetRun(ctx, in.RunID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("run %s not found", in.RunID)
		}
		logger.Debugf("execution: duplicate completion for run=%s trade=%s ignored", in.RunID, in.TradeID)
		return resultFromModel(run, true), nil
	}

	deltas := coordstore.CounterDeltas{
		Succeeded:     in.Success && !in.Skipped,
		Failed:        !in.Success && !in.Skipped,
		Skipped:       in.Skipped,
		SellCompleted: phase == model.PhaseSell,
		BuyCompleted:  phase == model.PhaseBuy,
	}
	if !in.Skipped {
		amt := amount.InexactFloat64()
		switch phase {
		case model.PhaseSell:
			if in.Success {
				deltas.SellSucceededAmount = amt
			} else {
				deltas.SellFailedAmount = amt
			}
		case model.PhaseBuy:
			if in.Success {
				deltas.BuyValue = amt
			}
		}
	}

	run, err := s.store.ApplyCompletionDeltas(ctx, in.RunID, deltas)
	if err != nil {
		return nil, err
	}
	res := resultFromModel(run, false)
	logger.Infof("execution: run=%s trade=%s done success=%v skipped=%v completed=%d/%d sell=%d/%d buy=%d/%d",
		in.RunID, in.TradeID, in.Success, in.Skipped,
		res.CompletedTrades, res.TotalTrades, res.SellCompleted, res.SellTotal, res.BuyCompleted, res.BuyTotal)
	return res, nil
}

// CheckEquityCircuitBreaker is the advisory pre-trade ceiling check.
// Read-then-decide: two concurrent buys can both pass before either
// completion lands, so the worst case is a bounded overshoot of one
// in-flight trade; the ceiling itself only moves via the completion
// increment.
func (s *Service) CheckEquityCircuitBreaker(ctx context.Context, runID string, proposedBuyValue decimal.Decimal) (circuit.Decision, error) {
	if s == nil || s.store == nil {
		return circuit.Decision{}, fmt.Errorf("execution service not initialized")
	}
	run, ok, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return circuit.Decision{}, err
	}
	if !ok {
		return circuit.Decision{}, fmt.Errorf("run %s not found", runID)
	}
	gate := circuit.NewEquityGate(decimal.NewFromFloat(run.MaxEquityLimitUSD))
	decision := gate.Decide(decimal.NewFromFloat(run.CumulativeBuyValue), proposedBuyValue)
	if decision.Enabled && !decision.Allowed {
		logger.Warnf("execution: equity ceiling rejected buy run=%s proposed=%s projected=%s limit=%s",
			runID, decision.Proposed, decision.Projected, decision.Limit)
	}
	return decision, nil
}

// TransitionToBuyPhase crosses the SELL/BUY boundary exactly once. False
// means another completion already crossed it.
func (s *Service) TransitionToBuyPhase(ctx context.Context, runID string) (bool, error) {
	if s == nil || s.store == nil {
		return false, fmt.Errorf("execution service not initialized")
	}
	won, err := s.store.TransitionToBuyPhase(ctx, runID)
	if err != nil {
		return false, err
	}
	if won {
		logger.Infof("execution: run=%s entered BUY phase", runID)
	}
	return won, nil
}

// MarkBuyTradesPending releases held BUY trades for dispatch after the
// phase transition. Already-released rows are tolerated.
func (s *Service) MarkBuyTradesPending(ctx context.Context, runID string) (int, error) {
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("execution service not initialized")
	}
	n, err := s.store.MarkBuyTradesPending(ctx, runID)
	return int(n), err
}

// ClaimNotificationLock elects the single invocation responsible for the
// outward-facing notification. An expired lock left by a crashed notifier
// may be reclaimed, so notification is at-least-once.
func (s *Service) ClaimNotificationLock(ctx context.Context, runID string, timeout time.Duration) (bool, error) {
	if s == nil || s.store == nil {
		return false, fmt.Errorf("execution service not initialized")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	won, err := s.store.ClaimNotificationLock(ctx, runID, timeout)
	if err != nil {
		return false, err
	}
	if won {
		logger.Infof("execution: run=%s notification lock claimed ttl=%s", runID, timeout)
	}
	return won, nil
}

// MarkNotificationSent writes the terminal Completed state after delivery.
func (s *Service) MarkNotificationSent(ctx context.Context, runID string) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("execution service not initialized")
	}
	return s.store.MarkNotificationSent(ctx, runID)
}

// FailRun moves a non-terminal run to Failed with a stored reason.
func (s *Service) FailRun(ctx context.Context, runID, reason string) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("execution service not initialized")
	}
	moved, err := s.store.FailRun(ctx, runID, reason)
	if err != nil {
		return err
	}
	if moved {
		logger.Warnf("execution: run=%s failed: %s", runID, reason)
	}
	return nil
}

// GetRun returns the run summary, or nil when absent.
func (s *Service) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("execution service not initialized")
	}
	run, ok, err := s.store.GetRun(ctx, runID)
	if err != nil || !ok {
		return nil, err
	}
	return summaryFromModel(run), nil
}

// ListTrades returns all trade rows of a run in sequence order.
func (s *Service) ListTrades(ctx context.Context, runID string) ([]model.TradeModel, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("execution service not initialized")
	}
	return s.store.ListTrades(ctx, runID)
}

// FindStuckRuns lists non-terminal runs older than maxAge.
func (s *Service) FindStuckRuns(ctx context.Context, maxAge time.Duration) ([]*RunSummary, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("execution service not initialized")
	}
	runs, err := s.store.FindStuckRuns(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return nil, err
	}
	out := make([]*RunSummary, 0, len(runs))
	for i := range runs {
		out = append(out, summaryFromModel(&runs[i]))
	}
	return out, nil
}
