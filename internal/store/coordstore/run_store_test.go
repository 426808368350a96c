package coordstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tradeflow/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "coord.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedRun(t *testing.T, store *GormStore, runID string, trades []model.TradeModel) {
	t.Helper()
	run := model.ExecutionRunModel{
		RunID:         runID,
		CorrelationID: "corr-" + runID,
		TotalTrades:   len(trades),
		CurrentPhase:  model.PhaseAll,
		Status:        model.RunStatusRunning,
		CreatedAtUnix: time.Now().UnixMilli(),
	}
	for _, tr := range trades {
		switch tr.Phase {
		case model.PhaseSell:
			run.SellTotal++
		case model.PhaseBuy:
			run.BuyTotal++
		}
	}
	require.NoError(t, store.CreateRun(context.Background(), run, trades))
}

func pendingTrade(runID, tradeID, symbol, phase string, seq int, amount float64) model.TradeModel {
	action := model.ActionSell
	if phase == model.PhaseBuy {
		action = model.ActionBuy
	}
	return model.TradeModel{
		RunID:          runID,
		TradeID:        tradeID,
		Symbol:         symbol,
		Action:         action,
		Phase:          phase,
		SequenceNumber: seq,
		TradeAmount:    amount,
		Status:         model.TradeStatusPending,
	}
}

func TestClaimTradeCompletionIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRun(t, store, "run-1", []model.TradeModel{
		pendingTrade("run-1", "t1", "AAPL", model.PhaseSell, 1, 100),
	})

	claimed, err := store.ClaimTradeCompletion(ctx, "run-1", "t1", model.TradeStatusCompleted, "ord-1", "", nil)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Redelivery of the same completion must lose the conditional write.
	claimed, err = store.ClaimTradeCompletion(ctx, "run-1", "t1", model.TradeStatusCompleted, "ord-dup", "", nil)
	require.NoError(t, err)
	assert.False(t, claimed)

	trade, ok, err := store.GetTrade(ctx, "run-1", "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.TradeStatusCompleted, trade.Status)
	assert.Equal(t, "ord-1", trade.OrderID)
}

func TestClaimTradeCompletionRequiresTerminalStatus(t *testing.T) {
	store := newTestStore(t)
	seedRun(t, store, "run-2", []model.TradeModel{
		pendingTrade("run-2", "t1", "MSFT", model.PhaseSell, 1, 50),
	})

	_, err := store.ClaimTradeCompletion(context.Background(), "run-2", "t1", model.TradeStatusRunning, "", "", nil)
	assert.Error(t, err)
}

func TestApplyCompletionDeltasCounters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRun(t, store, "run-3", []model.TradeModel{
		pendingTrade("run-3", "t1", "AAPL", model.PhaseSell, 1, 100),
		pendingTrade("run-3", "t2", "MSFT", model.PhaseBuy, 2, 40),
	})

	run, err := store.ApplyCompletionDeltas(ctx, "run-3", CounterDeltas{
		Succeeded:           true,
		SellCompleted:       true,
		SellSucceededAmount: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, run.CompletedTrades)
	assert.Equal(t, 1, run.SucceededTrades)
	assert.Equal(t, 1, run.SellCompleted)
	assert.InDelta(t, 100, run.SellSucceededAmount, 1e-9)

	run, err = store.ApplyCompletionDeltas(ctx, "run-3", CounterDeltas{
		Succeeded:    true,
		BuyCompleted: true,
		BuyValue:     40,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, run.CompletedTrades)
	assert.Equal(t, 1, run.BuyCompleted)
	assert.InDelta(t, 40, run.CumulativeBuyValue, 1e-9)
}

func TestApplyCompletionDeltasSkippedExcludesDollars(t *testing.T) {
	store := newTestStore(t)
	seedRun(t, store, "run-skip", []model.TradeModel{
		pendingTrade("run-skip", "t1", "BRK.A", model.PhaseBuy, 1, 500),
	})

	run, err := store.ApplyCompletionDeltas(context.Background(), "run-skip", CounterDeltas{
		Skipped:      true,
		BuyCompleted: true,
		BuyValue:     500, // must be ignored for a skip
	})
	require.NoError(t, err)
	assert.Equal(t, 1, run.CompletedTrades)
	assert.Equal(t, 1, run.SkippedTrades)
	assert.Equal(t, 0, run.SucceededTrades)
	assert.InDelta(t, 0, run.CumulativeBuyValue, 1e-9)
}

func TestApplyCompletionDeltasUnknownRun(t *testing.T) {
	store := newTestStore(t)
	_, err := store.ApplyCompletionDeltas(context.Background(), "missing", CounterDeltas{Succeeded: true})
	assert.Error(t, err)
}

// The invariant that makes the whole protocol work: N concurrent
// completions produce exactly N increments, no matter the interleaving.
func TestConcurrentCompletionsLoseNoIncrements(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n = 20
	trades := make([]model.TradeModel, 0, n)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := "t" + string(rune('a'+i))
		ids = append(ids, id)
		trades = append(trades, pendingTrade("run-con", id, "SYM"+id, model.PhaseSell, i+1, 10))
	}
	seedRun(t, store, "run-con", trades)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(tradeID string) {
			defer wg.Done()
			claimed, err := store.ClaimTradeCompletion(ctx, "run-con", tradeID, model.TradeStatusCompleted, "", "", nil)
			assert.NoError(t, err)
			if !claimed {
				return
			}
			_, err = store.ApplyCompletionDeltas(ctx, "run-con", CounterDeltas{
				Succeeded:           true,
				SellCompleted:       true,
				SellSucceededAmount: 10,
			})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	run, ok, err := store.GetRun(ctx, "run-con")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, n, run.CompletedTrades)
	assert.Equal(t, n, run.SucceededTrades)
	assert.Equal(t, n, run.SellCompleted)
	assert.InDelta(t, float64(n)*10, run.SellSucceededAmount, 1e-6)
}

func TestTransitionToBuyPhaseExactlyOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := model.ExecutionRunModel{
		RunID:         "run-phase",
		TotalTrades:   2,
		SellTotal:     1,
		BuyTotal:      1,
		CurrentPhase:  model.PhaseSell,
		Status:        model.RunStatusSellPhase,
		CreatedAtUnix: time.Now().UnixMilli(),
	}
	require.NoError(t, store.CreateRun(ctx, run, nil))

	const racers = 10
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.TransitionToBuyPhase(ctx, "run-phase")
			assert.NoError(t, err)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	got, ok, err := store.GetRun(ctx, "run-phase")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.PhaseBuy, got.CurrentPhase)
	assert.Equal(t, model.RunStatusBuyPhase, got.Status)
}

func TestMarkBuyTradesPendingToleratesReleasedRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	buy := pendingTrade("run-rel", "b1", "AAPL", model.PhaseBuy, 2, 40)
	buy.Status = model.TradeStatusWaiting
	seedRun(t, store, "run-rel", []model.TradeModel{
		pendingTrade("run-rel", "s1", "MSFT", model.PhaseSell, 1, 40),
		buy,
	})

	moved, err := store.MarkBuyTradesPending(ctx, "run-rel")
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	moved, err = store.MarkBuyTradesPending(ctx, "run-rel")
	require.NoError(t, err)
	assert.Equal(t, int64(0), moved)
}

func TestClaimNotificationLockSingleWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRun(t, store, "run-lock", []model.TradeModel{
		pendingTrade("run-lock", "t1", "AAPL", model.PhaseSell, 1, 10),
	})

	const racers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.ClaimNotificationLock(ctx, "run-lock", time.Minute)
			assert.NoError(t, err)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestClaimNotificationLockExpiredReclaim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRun(t, store, "run-reclaim", []model.TradeModel{
		pendingTrade("run-reclaim", "t1", "AAPL", model.PhaseSell, 1, 10),
	})

	won, err := store.ClaimNotificationLock(ctx, "run-reclaim", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, won)

	// Lock is still live: no takeover.
	won, err = store.ClaimNotificationLock(ctx, "run-reclaim", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	time.Sleep(25 * time.Millisecond)

	// Crashed notifier simulation: the expired lock may be reclaimed.
	won, err = store.ClaimNotificationLock(ctx, "run-reclaim", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestMarkNotificationSentTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRun(t, store, "run-done", []model.TradeModel{
		pendingTrade("run-done", "t1", "AAPL", model.PhaseSell, 1, 10),
	})

	won, err := store.ClaimNotificationLock(ctx, "run-done", time.Minute)
	require.NoError(t, err)
	require.True(t, won)
	require.NoError(t, store.MarkNotificationSent(ctx, "run-done"))

	run, ok, err := store.GetRun(ctx, "run-done")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.EqualValues(t, 0, run.NotificationLockExpires)

	// Terminal runs cannot be re-locked or failed.
	won, err = store.ClaimNotificationLock(ctx, "run-done", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)
	moved, err := store.FailRun(ctx, "run-done", "late failure")
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestFindStuckRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := model.ExecutionRunModel{
		RunID:         "run-old",
		Status:        model.RunStatusRunning,
		CurrentPhase:  model.PhaseAll,
		CreatedAtUnix: time.Now().Add(-2 * time.Hour).UnixMilli(),
	}
	fresh := model.ExecutionRunModel{
		RunID:         "run-fresh",
		Status:        model.RunStatusRunning,
		CurrentPhase:  model.PhaseAll,
		CreatedAtUnix: time.Now().UnixMilli(),
	}
	done := model.ExecutionRunModel{
		RunID:         "run-finished",
		Status:        model.RunStatusCompleted,
		CurrentPhase:  model.PhaseAll,
		CreatedAtUnix: time.Now().Add(-2 * time.Hour).UnixMilli(),
	}
	require.NoError(t, store.CreateRun(ctx, old, nil))
	require.NoError(t, store.CreateRun(ctx, fresh, nil))
	require.NoError(t, store.CreateRun(ctx, done, nil))

	stuck, err := store.FindStuckRuns(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "run-old", stuck[0].RunID)
}

func TestPurgeExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expired := model.ExecutionRunModel{
		RunID:         "run-expired",
		Status:        model.RunStatusCompleted,
		CreatedAtUnix: time.Now().Add(-48 * time.Hour).UnixMilli(),
		ExpiresAtUnix: time.Now().Add(-time.Hour).UnixMilli(),
	}
	require.NoError(t, store.CreateRun(ctx, expired, []model.TradeModel{
		pendingTrade("run-expired", "t1", "AAPL", model.PhaseSell, 1, 10),
	}))
	keep := model.ExecutionRunModel{
		RunID:         "run-keep",
		Status:        model.RunStatusRunning,
		CreatedAtUnix: time.Now().UnixMilli(),
		ExpiresAtUnix: time.Now().Add(time.Hour).UnixMilli(),
	}
	require.NoError(t, store.CreateRun(ctx, keep, nil))

	purged, err := store.PurgeExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	_, ok, err := store.GetRun(ctx, "run-expired")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.GetRun(ctx, "run-keep")
	require.NoError(t, err)
	assert.True(t, ok)

	trades, err := store.ListTrades(ctx, "run-expired")
	require.NoError(t, err)
	assert.Empty(t, trades)
}
