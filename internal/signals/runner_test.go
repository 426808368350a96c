package signals

import (
	"context"
	"path/filepath"
	"testing"

	"tradeflow/internal/aggregation"
	"tradeflow/internal/store/coordstore"
	"tradeflow/internal/store/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessions(t *testing.T) *aggregation.Service {
	t.Helper()
	store, err := coordstore.Open(filepath.Join(t.TempDir(), "coord.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return aggregation.NewService(store)
}

func createSession(t *testing.T, sessions *aggregation.Service, sessionID string, files ...string) {
	t.Helper()
	configs := make([]aggregation.StrategyConfig, 0, len(files))
	weight := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(files))))
	for _, f := range files {
		configs = append(configs, aggregation.StrategyConfig{StrategyFile: f, AllocationWeight: weight})
	}
	require.NoError(t, sessions.CreateSession(context.Background(), aggregation.CreateSessionInput{
		SessionID:     sessionID,
		CorrelationID: "corr-" + sessionID,
		Strategies:    configs,
	}))
}

func TestSubmitCompletesSession(t *testing.T) {
	sessions := newTestSessions(t)
	createSession(t, sessions, "sess-1", "momentum.dsl", "meanrev.dsl")
	runner, err := NewRunner(sessions, nil)
	require.NoError(t, err)
	ctx := context.Background()

	progress, err := runner.Submit(ctx, "sess-1", "corr-sess-1", "momentum.dsl", decimal.NewFromFloat(0.5),
		[]byte(`{"consolidated_portfolio":{"AAPL":0.6,"MSFT":0.4},"signal_count":2}`))
	require.NoError(t, err)
	assert.Equal(t, 1, progress.CompletedStrategies)
	assert.False(t, progress.Completed)

	progress, err = runner.Submit(ctx, "sess-1", "corr-sess-1", "meanrev.dsl", decimal.NewFromFloat(0.5),
		[]byte(`{"consolidated_portfolio":{"AAPL":0.2,"NVDA":0.8},"signal_count":1}`))
	require.NoError(t, err)
	assert.Equal(t, 2, progress.CompletedStrategies)
	assert.True(t, progress.Completed)
	assert.False(t, progress.Duplicate)

	session, err := sessions.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, model.SessionStatusCompleted, session.Status)
}

func TestSubmitDuplicateDoesNotReconsolidate(t *testing.T) {
	sessions := newTestSessions(t)
	createSession(t, sessions, "sess-2", "momentum.dsl", "meanrev.dsl")
	runner, err := NewRunner(sessions, nil)
	require.NoError(t, err)
	ctx := context.Background()

	payload := []byte(`{"consolidated_portfolio":{"AAPL":1},"signal_count":1}`)
	_, err = runner.Submit(ctx, "sess-2", "corr-sess-2", "momentum.dsl", decimal.NewFromFloat(0.5), payload)
	require.NoError(t, err)

	// Redelivered submission for the same strategy file: counted once.
	progress, err := runner.Submit(ctx, "sess-2", "corr-sess-2", "momentum.dsl", decimal.NewFromFloat(0.5), payload)
	require.NoError(t, err)
	assert.True(t, progress.Duplicate)
	assert.Equal(t, 1, progress.CompletedStrategies)
	assert.False(t, progress.Completed)

	session, err := sessions.GetSession(ctx, "sess-2")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusPending, session.Status)
}

func TestSubmitRejectsInvalidPayloads(t *testing.T) {
	sessions := newTestSessions(t)
	createSession(t, sessions, "sess-3", "momentum.dsl")
	runner, err := NewRunner(sessions, nil)
	require.NoError(t, err)
	ctx := context.Background()

	cases := map[string]string{
		"weight above one":  `{"consolidated_portfolio":{"AAPL":1.5},"signal_count":1}`,
		"negative weight":   `{"consolidated_portfolio":{"AAPL":-0.1},"signal_count":1}`,
		"missing count":     `{"consolidated_portfolio":{"AAPL":0.5}}`,
		"portfolio not obj": `{"consolidated_portfolio":[0.5],"signal_count":1}`,
		"not json":          `portfolio=AAPL`,
	}
	for name, payload := range cases {
		_, err := runner.Submit(ctx, "sess-3", "corr-sess-3", "momentum.dsl", decimal.NewFromInt(1), []byte(payload))
		assert.Error(t, err, name)
	}

	// Nothing invalid was stored.
	session, err := sessions.GetSession(ctx, "sess-3")
	require.NoError(t, err)
	assert.Equal(t, 0, session.CompletedStrategies)
}

func TestConsolidatePortfolios(t *testing.T) {
	partials := []model.PartialSignalModel{
		{DSLFile: "a.dsl", Allocation: 0.6, ConsolidatedPortfolio: []byte(`{"AAPL":0.5,"MSFT":0.5}`)},
		{DSLFile: "b.dsl", Allocation: 0.4, ConsolidatedPortfolio: []byte(`{"AAPL":0.25,"NVDA":0.75}`)},
		{DSLFile: "c.dsl", Allocation: 0.0},
	}
	out := ConsolidatePortfolios(partials)
	require.Len(t, out, 3)
	// AAPL: 0.5*0.6 + 0.25*0.4 = 0.4
	assert.InDelta(t, 0.4, out["AAPL"].InexactFloat64(), 0.0001)
	assert.InDelta(t, 0.3, out["MSFT"].InexactFloat64(), 0.0001)
	assert.InDelta(t, 0.3, out["NVDA"].InexactFloat64(), 0.0001)

	total := decimal.Zero
	for _, w := range out {
		total = total.Add(w)
	}
	assert.InDelta(t, 1.0, total.InexactFloat64(), 0.0001)
}
