package coordstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeflow/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// tradeTerminalStatuses guard the completion conditional write: a trade
// already Completed or Failed can never be re-marked, which is what keeps
// replayed deliveries from double-counting.
var tradeTerminalStatuses = []model.TradeStatus{
	model.TradeStatusCompleted,
	model.TradeStatusFailed,
}

// runActiveStatuses are the states from which the notification lock may be
// claimed directly.
var runActiveStatuses = []model.RunStatus{
	model.RunStatusRunning,
	model.RunStatusSellPhase,
	model.RunStatusBuyPhase,
}

// CounterDeltas describes one completion's contribution to the run
// aggregate. Applied in a single additive UPDATE so concurrent completions
// can never lose an increment.
type CounterDeltas struct {
	Succeeded bool
	Failed    bool
	Skipped   bool

	SellCompleted bool
	BuyCompleted  bool

	SellFailedAmount    float64
	SellSucceededAmount float64
	BuyValue            float64
}

// CreateRun inserts the run metadata row plus one trade row per planned
// trade in a single transaction, so every trade is visible before any
// worker can observe the run at all.
func (s *GormStore) CreateRun(ctx context.Context, run model.ExecutionRunModel, trades []model.TradeModel) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("coord store not initialized")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}
		if len(trades) == 0 {
			return nil
		}
		return tx.Create(&trades).Error
	})
}

// GetRun returns the run row, or (nil, false, nil) when absent.
func (s *GormStore) GetRun(ctx context.Context, runID string) (*model.ExecutionRunModel, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("coord store not initialized")
	}
	var run model.ExecutionRunModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &run, true, nil
}

// ListTrades returns all trade rows of a run ordered by sequence number
// (sells before buys by construction).
func (s *GormStore) ListTrades(ctx context.Context, runID string) ([]model.TradeModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("coord store not initialized")
	}
	var trades []model.TradeModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("sequence_number ASC, id ASC").
		Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// GetTrade returns a single trade row, or (nil, false, nil) when absent.
func (s *GormStore) GetTrade(ctx context.Context, runID, tradeID string) (*model.TradeModel, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("coord store not initialized")
	}
	var trade model.TradeModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ? AND trade_id = ?", runID, tradeID).
		First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &trade, true, nil
}

// MarkTradeRunning moves a trade to Running unless it is already terminal.
// Best effort: a zero row count is not an error.
func (s *GormStore) MarkTradeRunning(ctx context.Context, runID, tradeID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("coord store not initialized")
	}
	return s.db.WithContext(ctx).Model(&model.TradeModel{}).
		Where("run_id = ? AND trade_id = ? AND status NOT IN ?", runID, tradeID, tradeTerminalStatuses).
		Updates(map[string]interface{}{
			"status":     model.TradeStatusRunning,
			"started_at": nowMillis(),
		}).Error
}

// TryRunStatusTransition performs a conditional status move and reports
// whether this caller won it. Losing the race is a normal outcome.
func (s *GormStore) TryRunStatusTransition(ctx context.Context, runID string, from, to model.RunStatus) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("coord store not initialized")
	}
	res := s.db.WithContext(ctx).Model(&model.ExecutionRunModel{}).
		Where("run_id = ? AND status = ?", runID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClaimTradeCompletion conditionally writes the trade's terminal status.
// Returns false when another delivery already completed the trade; callers
// must then degrade to reading current run state instead of incrementing.
func (s *GormStore) ClaimTradeCompletion(ctx context.Context, runID, tradeID string, status model.TradeStatus, orderID, errorMessage string, executionData []byte) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("coord store not initialized")
	}
	if !status.Terminal() {
		return false, fmt.Errorf("trade completion requires a terminal status, got %s", status)
	}
	updates := map[string]interface{}{
		"status":       status,
		"completed_at": nowMillis(),
	}
	if orderID != "" {
		updates["order_id"] = orderID
	}
	if errorMessage != "" {
		updates["error_message"] = errorMessage
	}
	if len(executionData) > 0 {
		updates["execution_data"] = executionData
	}
	res := s.db.WithContext(ctx).Model(&model.TradeModel{}).
		Where("run_id = ? AND trade_id = ? AND status NOT IN ?", runID, tradeID, tradeTerminalStatuses).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ApplyCompletionDeltas performs the single additive UPDATE that records a
// completion against every relevant counter at once, and reads the updated
// row back from the same statement's RETURNING clause. No second read, no
// second race window.
func (s *GormStore) ApplyCompletionDeltas(ctx context.Context, runID string, d CounterDeltas) (*model.ExecutionRunModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("coord store not initialized")
	}
	updates := map[string]interface{}{
		"completed_trades": gorm.Expr("completed_trades + 1"),
	}
	switch {
	case d.Skipped:
		updates["skipped_trades"] = gorm.Expr("skipped_trades + 1")
	case d.Succeeded:
		updates["succeeded_trades"] = gorm.Expr("succeeded_trades + 1")
	case d.Failed:
		updates["failed_trades"] = gorm.Expr("failed_trades + 1")
	}
	if d.SellCompleted {
		updates["sell_completed"] = gorm.Expr("sell_completed + 1")
	}
	if d.BuyCompleted {
		updates["buy_completed"] = gorm.Expr("buy_completed + 1")
	}
	// Skipped trades moved no money; keeping them out of the dollar
	// trackers keeps the equity arithmetic honest.
	if !d.Skipped {
		if d.SellFailedAmount != 0 {
			updates["sell_failed_amount"] = gorm.Expr("sell_failed_amount + ?", d.SellFailedAmount)
		}
		if d.SellSucceededAmount != 0 {
			updates["sell_succeeded_amount"] = gorm.Expr("sell_succeeded_amount + ?", d.SellSucceededAmount)
		}
		if d.BuyValue != 0 {
			updates["cumulative_buy_value"] = gorm.Expr("cumulative_buy_value + ?", d.BuyValue)
		}
	}
	var run model.ExecutionRunModel
	res := s.db.WithContext(ctx).Model(&run).
		Clauses(clause.Returning{}).
		Where("run_id = ?", runID).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &run, nil
}

// TransitionToBuyPhase crosses the SELL/BUY boundary. The condition means
// exactly one of any number of racing callers wins; everyone else gets
// false, not an error.
func (s *GormStore) TransitionToBuyPhase(ctx context.Context, runID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("coord store not initialized")
	}
	res := s.db.WithContext(ctx).Model(&model.ExecutionRunModel{}).
		Where("run_id = ? AND current_phase = ? AND status = ?", runID, model.PhaseSell, model.RunStatusSellPhase).
		Updates(map[string]interface{}{
			"current_phase": model.PhaseBuy,
			"status":        model.RunStatusBuyPhase,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkBuyTradesPending releases Waiting BUY trades for dispatch, tolerating
// rows another caller already released. Returns how many rows this call
// moved.
func (s *GormStore) MarkBuyTradesPending(ctx context.Context, runID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("coord store not initialized")
	}
	res := s.db.WithContext(ctx).Model(&model.TradeModel{}).
		Where("run_id = ? AND phase = ? AND status = ?", runID, model.PhaseBuy, model.TradeStatusWaiting).
		Update("status", model.TradeStatusPending)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// ClaimNotificationLock attempts the transition into Notifying. A claim
// succeeds from any active status, or by taking over an expired Notifying
// lock left behind by a crashed notifier.
func (s *GormStore) ClaimNotificationLock(ctx context.Context, runID string, timeout time.Duration) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("coord store not initialized")
	}
	now := nowMillis()
	res := s.db.WithContext(ctx).Model(&model.ExecutionRunModel{}).
		Where("run_id = ? AND (status IN ? OR (status = ? AND notification_lock_expires > 0 AND notification_lock_expires < ?))",
			runID, runActiveStatuses, model.RunStatusNotifying, now).
		Updates(map[string]interface{}{
			"status":                    model.RunStatusNotifying,
			"notification_lock_at":      now,
			"notification_lock_expires": now + timeout.Milliseconds(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkNotificationSent writes the terminal Completed status. Unconditional:
// only the lock holder calls it, and duplicate notifications are accepted
// over the alternative of none.
func (s *GormStore) MarkNotificationSent(ctx context.Context, runID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("coord store not initialized")
	}
	return s.db.WithContext(ctx).Model(&model.ExecutionRunModel{}).
		Where("run_id = ?", runID).
		Updates(map[string]interface{}{
			"status":                    model.RunStatusCompleted,
			"notification_lock_expires": 0,
		}).Error
}

// FailRun moves any non-terminal run to Failed with a reason. Returns false
// when the run was already terminal.
func (s *GormStore) FailRun(ctx context.Context, runID, reason string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("coord store not initialized")
	}
	res := s.db.WithContext(ctx).Model(&model.ExecutionRunModel{}).
		Where("run_id = ? AND status NOT IN ?", runID, []model.RunStatus{model.RunStatusCompleted, model.RunStatusFailed}).
		Updates(map[string]interface{}{
			"status":         model.RunStatusFailed,
			"failure_reason": reason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FindStuckRuns scans for non-terminal runs older than the cutoff. This is
// an O(table) monitoring query meant for a slow schedule, not a hot path.
func (s *GormStore) FindStuckRuns(ctx context.Context, cutoff time.Time) ([]model.ExecutionRunModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("coord store not initialized")
	}
	var runs []model.ExecutionRunModel
	if err := s.db.WithContext(ctx).
		Where("status NOT IN ? AND created_at < ?",
			[]model.RunStatus{model.RunStatusCompleted, model.RunStatusFailed}, cutoff.UnixMilli()).
		Order("created_at ASC").
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
