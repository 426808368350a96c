package notifier

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"tradeflow/internal/execution"
	"tradeflow/internal/store/coordstore"
	"tradeflow/internal/store/model"
	"tradeflow/internal/summary"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	sent []string
	err  error
}

func (s *recordingSink) SendText(text string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

func TestRenderExecutionSummary(t *testing.T) {
	s := &summary.ExecutionSummary{
		RunID:                         "run-1",
		TotalTrades:                   4,
		SucceededTrades:               2,
		FailedTrades:                  1,
		SkippedTrades:                 1,
		SucceededSymbols:              []string{"AAPL", "MSFT"},
		SkippedSymbols:                []string{"TSLA"},
		NonFractionableSkippedSymbols: []string{"BRK.A"},
		FailedSymbols:                 []string{"NVDA"},
		Errors:                        map[string]string{"NVDA": "insufficient buying power"},
		SellSucceededAmount:           decimal.NewFromInt(500),
		CumulativeBuyValue:            decimal.NewFromInt(300),
	}
	out := RenderExecutionSummary(s)
	assert.Contains(t, out, "execution finished with failures")
	assert.Contains(t, out, "run `run-1`")
	assert.Contains(t, out, "4 total, 2 succeeded, 1 failed, 1 skipped")
	assert.Contains(t, out, "filled: AAPL, MSFT")
	assert.Contains(t, out, "skipped (non-fractionable): BRK.A")
	assert.Contains(t, out, "failed: NVDA (insufficient buying power)")

	assert.Equal(t, "", RenderExecutionSummary(nil))
}

func TestRenderExecutionSummaryPartial(t *testing.T) {
	s := &summary.ExecutionSummary{
		RunID:          "run-2",
		PartialSuccess: true,
		SkippedSymbols: []string{"TSLA"},
	}
	assert.Contains(t, RenderExecutionSummary(s), "execution complete (partial)")
}

func TestNotifyRunCompleteDeliversReport(t *testing.T) {
	store, err := coordstore.Open(filepath.Join(t.TempDir(), "coord.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	runs := execution.NewService(store)
	ctx := context.Background()

	_, err = runs.CreateRun(ctx, execution.CreateRunInput{
		RunID: "run-3",
		Trades: []execution.PlannedTrade{
			{TradeID: "t1", Symbol: "AAPL", Action: model.ActionBuy, Phase: model.PhaseBuy, Amount: decimal.NewFromInt(100)},
		},
	})
	require.NoError(t, err)
	_, err = runs.MarkTradeCompleted(ctx, execution.CompleteTradeInput{RunID: "run-3", TradeID: "t1", Success: true, OrderID: "ord-1"})
	require.NoError(t, err)

	sink := &recordingSink{}
	n := NewExecutionNotifier(summary.NewAggregator(runs), sink)
	require.NoError(t, n.NotifyRunComplete(ctx, "run-3"))
	require.Len(t, sink.sent, 1)
	assert.Contains(t, sink.sent[0], "run `run-3`")

	// Unknown runs are an error; retry semantics stay with the caller.
	assert.Error(t, n.NotifyRunComplete(ctx, "absent"))

	sink.err = fmt.Errorf("telegram unreachable")
	assert.Error(t, n.NotifyRunComplete(ctx, "run-3"))
}
