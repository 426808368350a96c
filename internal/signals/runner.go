package signals

import (
	"context"
	"encoding/json"
	"fmt"

	"tradeflow/internal/aggregation"
	"tradeflow/internal/logger"
	"tradeflow/internal/orchestrator"
	"tradeflow/internal/store/model"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Runner is the session-facing side of a strategy worker: it validates the
// worker's signal payload, stores it as a partial signal, and when its
// submission is the one that completes the session, consolidates the
// portfolio and hands it to the orchestrator.
type Runner struct {
	sessions *aggregation.Service
	orc      *orchestrator.Orchestrator
	schema   *jsonschema.Schema
}

func NewRunner(sessions *aggregation.Service, orc *orchestrator.Orchestrator) (*Runner, error) {
	schema, err := compilePartialSignalSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling partial signal schema: %w", err)
	}
	return &Runner{sessions: sessions, orc: orc, schema: schema}, nil
}

// Submit stores one strategy's signal payload against the session.
// Duplicate submissions return the recorded progress without error; the
// submission that completes the session triggers consolidation exactly
// once (the conditional put makes a duplicate unable to re-trigger it).
func (r *Runner) Submit(ctx context.Context, sessionID, correlationID, dslFile string, allocation decimal.Decimal, payload []byte) (*aggregation.SignalProgress, error) {
	if r == nil || r.sessions == nil {
		return nil, fmt.Errorf("signal runner not initialized")
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("signal payload for %s is not valid JSON: %w", dslFile, err)
	}
	if err := r.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("signal payload for %s rejected: %w", dslFile, err)
	}

	parsed := gjson.ParseBytes(payload)
	in := aggregation.StorePartialSignalInput{
		SessionID:             sessionID,
		DSLFile:               dslFile,
		Allocation:            allocation,
		ConsolidatedPortfolio: json.RawMessage(parsed.Get("consolidated_portfolio").Raw),
		SignalCount:           int(parsed.Get("signal_count").Int()),
	}
	if v := parsed.Get("signals"); v.Exists() {
		in.SignalsData = json.RawMessage(v.Raw)
	}
	if v := parsed.Get("data_freshness"); v.Exists() {
		in.DataFreshness = json.RawMessage(v.Raw)
	}

	progress, err := r.sessions.StorePartialSignal(ctx, in)
	if err != nil {
		return nil, err
	}
	if progress.Completed && !progress.Duplicate {
		if err := r.finishSession(ctx, sessionID, correlationID, progress); err != nil {
			return progress, err
		}
	}
	return progress, nil
}

// finishSession runs in the worker whose submission closed the session: it
// marks the session aggregating, consolidates every stored portfolio by
// allocation weight, and emits the aggregated signal event.
func (r *Runner) finishSession(ctx context.Context, sessionID, correlationID string, progress *aggregation.SignalProgress) error {
	if err := r.sessions.UpdateSessionStatus(ctx, sessionID, model.SessionStatusAggregating); err != nil {
		return err
	}
	partials, err := r.sessions.GetAllPartialSignals(ctx, sessionID)
	if err != nil {
		return err
	}
	portfolio := ConsolidatePortfolios(partials)
	encoded, err := json.Marshal(portfolio)
	if err != nil {
		return err
	}
	if err := r.sessions.UpdateSessionStatus(ctx, sessionID, model.SessionStatusCompleted); err != nil {
		return err
	}
	logger.Infof("signals: session=%s consolidated %d strategies into %d symbols",
		sessionID, progress.CompletedStrategies, len(portfolio))

	if r.orc == nil {
		return nil
	}
	payload, _ := json.Marshal(orchestrator.SignalGeneratedPayload{
		SessionID:             sessionID,
		ConsolidatedPortfolio: encoded,
		StrategyCount:         progress.CompletedStrategies,
	})
	return r.orc.Send(orchestrator.EventEnvelope{
		Type:          orchestrator.EvtSignalGenerated,
		CorrelationID: correlationID,
		Payload:       payload,
	})
}

// ConsolidatePortfolios merges per-strategy portfolios into one target
// allocation, weighting each strategy's symbol weights by its allocation.
func ConsolidatePortfolios(partials []model.PartialSignalModel) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, p := range partials {
		if len(p.ConsolidatedPortfolio) == 0 {
			continue
		}
		alloc := decimal.NewFromFloat(p.Allocation)
		gjson.ParseBytes(p.ConsolidatedPortfolio).ForEach(func(key, value gjson.Result) bool {
			weight := decimal.NewFromFloat(value.Float())
			out[key.String()] = out[key.String()].Add(weight.Mul(alloc))
			return true
		})
	}
	return out
}
