package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"tradeflow/internal/execution"
	"tradeflow/internal/gateway/broker"
	"tradeflow/internal/store/coordstore"
	"tradeflow/internal/store/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedBroker fills orders from a per-symbol script and records the
// order in which symbols reached the brokerage.
type scriptedBroker struct {
	mu       sync.Mutex
	placed   []string
	failWith map[string]string
	errWith  map[string]error
	seq      int
}

func (b *scriptedBroker) PlaceOrder(_ context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placed = append(b.placed, req.Symbol)
	if err, ok := b.errWith[req.Symbol]; ok {
		return broker.OrderResult{}, err
	}
	if msg, ok := b.failWith[req.Symbol]; ok {
		return broker.OrderResult{Filled: false, Err: msg}, nil
	}
	b.seq++
	return broker.OrderResult{
		OrderID:   fmt.Sprintf("ord-%d", b.seq),
		Filled:    true,
		FilledUSD: req.NotionalUSD,
	}, nil
}

func (b *scriptedBroker) orders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.placed))
	copy(out, b.placed)
	return out
}

type countingNotifier struct {
	calls atomic.Int32
}

func (n *countingNotifier) NotifyRunComplete(context.Context, string) error {
	n.calls.Add(1)
	return nil
}

func newTestRuns(t *testing.T) *execution.Service {
	t.Helper()
	store, err := coordstore.Open(filepath.Join(t.TempDir(), "coord.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return execution.NewService(store)
}

func createTwoPhaseRun(t *testing.T, runs *execution.Service, runID string, limit decimal.Decimal) {
	t.Helper()
	_, err := runs.CreateRun(context.Background(), execution.CreateRunInput{
		RunID:         runID,
		CorrelationID: "corr-" + runID,
		Trades: []execution.PlannedTrade{
			{TradeID: "t-sell-1", Symbol: "AAPL", Action: model.ActionSell, Phase: model.PhaseSell, SequenceNumber: 1, Amount: decimal.NewFromInt(100)},
			{TradeID: "t-sell-2", Symbol: "MSFT", Action: model.ActionSell, Phase: model.PhaseSell, SequenceNumber: 2, Amount: decimal.NewFromInt(50)},
			{TradeID: "t-buy-1", Symbol: "NVDA", Action: model.ActionBuy, Phase: model.PhaseBuy, SequenceNumber: 3, Amount: decimal.NewFromInt(80)},
			{TradeID: "t-buy-2", Symbol: "AMD", Action: model.ActionBuy, Phase: model.PhaseBuy, SequenceNumber: 4, Amount: decimal.NewFromInt(60)},
		},
		TwoPhase:          true,
		MaxEquityLimitUSD: limit,
	})
	require.NoError(t, err)
}

func TestExecuteRunTwoPhaseCompletes(t *testing.T) {
	runs := newTestRuns(t)
	createTwoPhaseRun(t, runs, "run-1", decimal.Zero)
	brk := &scriptedBroker{}
	notifier := &countingNotifier{}
	pool := NewPool(runs, brk, notifier, 0)

	require.NoError(t, pool.ExecuteRun(context.Background(), "run-1"))

	run, err := runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 4, run.CompletedTrades)
	assert.Equal(t, 4, run.SucceededTrades)
	assert.Equal(t, model.PhaseBuy, run.CurrentPhase)
	assert.InDelta(t, 140, run.CumulativeBuyValue.InexactFloat64(), 0.001)

	// The notification fired exactly once despite four racing workers.
	assert.Equal(t, int32(1), notifier.calls.Load())

	// Every SELL order reached the broker before the first BUY order.
	orders := brk.orders()
	require.Len(t, orders, 4)
	buySeen := false
	for _, symbol := range orders {
		if symbol == "NVDA" || symbol == "AMD" {
			buySeen = true
		} else {
			assert.False(t, buySeen, "SELL order %s placed after a BUY order", symbol)
		}
	}
}

func TestExecuteRunAllBuyTwoPhase(t *testing.T) {
	runs := newTestRuns(t)
	// First deployment: nothing to liquidate, every trade is a BUY. The
	// SELL gate is satisfied from the start and the run must not wait on
	// a SELL completion.
	_, err := runs.CreateRun(context.Background(), execution.CreateRunInput{
		RunID: "run-allbuy",
		Trades: []execution.PlannedTrade{
			{TradeID: "t-buy-1", Symbol: "NVDA", Action: model.ActionBuy, Phase: model.PhaseBuy, SequenceNumber: 1, Amount: decimal.NewFromInt(80)},
			{TradeID: "t-buy-2", Symbol: "AMD", Action: model.ActionBuy, Phase: model.PhaseBuy, SequenceNumber: 2, Amount: decimal.NewFromInt(60)},
		},
		TwoPhase: true,
	})
	require.NoError(t, err)
	brk := &scriptedBroker{}
	notifier := &countingNotifier{}
	pool := NewPool(runs, brk, notifier, 0)

	require.NoError(t, pool.ExecuteRun(context.Background(), "run-allbuy"))

	run, err := runs.GetRun(context.Background(), "run-allbuy")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, model.PhaseBuy, run.CurrentPhase)
	assert.Equal(t, 2, run.CompletedTrades)
	assert.Equal(t, 2, run.SucceededTrades)
	assert.InDelta(t, 140, run.CumulativeBuyValue.InexactFloat64(), 0.001)
	assert.Len(t, brk.orders(), 2)
	assert.Equal(t, int32(1), notifier.calls.Load())
}

func TestExecuteRunBrokerErrorBecomesFailedTrade(t *testing.T) {
	runs := newTestRuns(t)
	createTwoPhaseRun(t, runs, "run-2", decimal.Zero)
	brk := &scriptedBroker{errWith: map[string]error{"MSFT": fmt.Errorf("connection reset")}}
	notifier := &countingNotifier{}
	pool := NewPool(runs, brk, notifier, 0)

	require.NoError(t, pool.ExecuteRun(context.Background(), "run-2"))

	run, err := runs.GetRun(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, 4, run.CompletedTrades)
	assert.Equal(t, 3, run.SucceededTrades)
	assert.Equal(t, 1, run.FailedTrades)
	assert.Equal(t, int32(1), notifier.calls.Load())

	trade, err := runs.ListTrades(context.Background(), "run-2")
	require.NoError(t, err)
	for _, row := range trade {
		if row.Symbol == "MSFT" {
			assert.Equal(t, model.TradeStatusFailed, row.Status)
			assert.Equal(t, "connection reset", row.ErrorMessage)
		}
	}
}

func TestExecuteRunRejectedFillCountsAsFailure(t *testing.T) {
	runs := newTestRuns(t)
	createTwoPhaseRun(t, runs, "run-3", decimal.Zero)
	brk := &scriptedBroker{failWith: map[string]string{"NVDA": "insufficient buying power"}}
	pool := NewPool(runs, brk, &countingNotifier{}, 0)

	require.NoError(t, pool.ExecuteRun(context.Background(), "run-3"))

	run, err := runs.GetRun(context.Background(), "run-3")
	require.NoError(t, err)
	assert.Equal(t, 1, run.FailedTrades)
	assert.Equal(t, 3, run.SucceededTrades)
}

func TestExecuteRunEquityCeilingSkipsBuy(t *testing.T) {
	runs := newTestRuns(t)
	// 100 USD ceiling: the 80 USD buy fits on its own, the 150 USD buy can
	// never fit and is skipped regardless of completion ordering.
	_, err := runs.CreateRun(context.Background(), execution.CreateRunInput{
		RunID: "run-4",
		Trades: []execution.PlannedTrade{
			{TradeID: "t-sell-1", Symbol: "AAPL", Action: model.ActionSell, Phase: model.PhaseSell, SequenceNumber: 1, Amount: decimal.NewFromInt(100)},
			{TradeID: "t-buy-1", Symbol: "NVDA", Action: model.ActionBuy, Phase: model.PhaseBuy, SequenceNumber: 2, Amount: decimal.NewFromInt(80)},
			{TradeID: "t-buy-2", Symbol: "AMD", Action: model.ActionBuy, Phase: model.PhaseBuy, SequenceNumber: 3, Amount: decimal.NewFromInt(150)},
		},
		TwoPhase:          true,
		MaxEquityLimitUSD: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	brk := &scriptedBroker{}
	pool := NewPool(runs, brk, &countingNotifier{}, 0)

	require.NoError(t, pool.ExecuteRun(context.Background(), "run-4"))

	run, err := runs.GetRun(context.Background(), "run-4")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.CompletedTrades)
	assert.Equal(t, 1, run.SkippedTrades)
	assert.InDelta(t, 80, run.CumulativeBuyValue.InexactFloat64(), 0.001)

	trades, err := runs.ListTrades(context.Background(), "run-4")
	require.NoError(t, err)
	skipped := 0
	for _, row := range trades {
		if row.Phase == model.PhaseBuy && row.ErrorMessage != "" {
			assert.Contains(t, row.ErrorMessage, "equity ceiling")
			skipped++
		}
	}
	assert.Equal(t, 1, skipped)
}

func TestExecuteRunEmitsTradeCallbacks(t *testing.T) {
	runs := newTestRuns(t)
	createTwoPhaseRun(t, runs, "run-5", decimal.Zero)
	pool := NewPool(runs, &scriptedBroker{}, &countingNotifier{}, 0)

	var mu sync.Mutex
	seen := make(map[string]bool)
	pool.OnTradeExecuted = func(runID, tradeID, symbol string, success, skipped bool) {
		mu.Lock()
		defer mu.Unlock()
		seen[tradeID] = success
	}

	require.NoError(t, pool.ExecuteRun(context.Background(), "run-5"))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 4)
	for tradeID, ok := range seen {
		assert.True(t, ok, "trade %s reported unsuccessful", tradeID)
	}
}

func TestExecuteRunUnknownRun(t *testing.T) {
	runs := newTestRuns(t)
	pool := NewPool(runs, &scriptedBroker{}, &countingNotifier{}, 0)
	assert.Error(t, pool.ExecuteRun(context.Background(), "missing"))
}
