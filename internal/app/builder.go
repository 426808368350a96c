package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tradeflow/internal/aggregation"
	tfcfg "tradeflow/internal/config"
	"tradeflow/internal/execution"
	"tradeflow/internal/gateway/broker"
	"tradeflow/internal/gateway/notifier"
	"tradeflow/internal/logger"
	"tradeflow/internal/metrics"
	"tradeflow/internal/monitor"
	"tradeflow/internal/orchestrator"
	"tradeflow/internal/signals"
	"tradeflow/internal/store/coordstore"
	"tradeflow/internal/summary"
	apihttp "tradeflow/internal/transport/http"
	"tradeflow/internal/worker"
)

// AppBuilder assembles the application graph. Constructor functions are
// fields so tests can swap in fakes without touching the wiring order.
type AppBuilder struct {
	cfg *tfcfg.Config

	storeFn  func(string) (*coordstore.GormStore, error)
	brokerFn func(tfcfg.BrokerConfig) (broker.Client, error)
	sinkFn   func(tfcfg.NotifyConfig) notifier.TextNotifier
	httpFn   func(tfcfg.AppConfig, *apihttp.Router) (*apihttp.Server, error)

	storeOverride  *coordstore.GormStore
	brokerOverride broker.Client
}

type AppBuilderOption func(*AppBuilder)

// WithStore substitutes an already-open store, used by tests.
func WithStore(store *coordstore.GormStore) AppBuilderOption {
	return func(b *AppBuilder) { b.storeOverride = store }
}

// WithBroker substitutes the order gateway.
func WithBroker(client broker.Client) AppBuilderOption {
	return func(b *AppBuilder) { b.brokerOverride = client }
}

func NewAppBuilder(cfg *tfcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:      cfg,
		storeFn:  coordstore.Open,
		brokerFn: buildBroker,
		sinkFn:   buildNotifySink,
		httpFn:   buildHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	store := b.storeOverride
	if store == nil {
		opened, err := b.storeFn(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open coordination store failed: %w", err)
		}
		store = opened
	}

	runs := execution.NewService(store)
	sessions := aggregation.NewService(store)
	aggregator := summary.NewAggregator(runs)

	sink := b.sinkFn(cfg.Notify)
	execNotifier := notifier.NewExecutionNotifier(aggregator, sink)

	brokerClient := b.brokerOverride
	if brokerClient == nil {
		built, err := b.brokerFn(cfg.Broker)
		if err != nil {
			return nil, err
		}
		brokerClient = built
	}

	pool := worker.NewPool(runs, brokerClient, execNotifier, cfg.Execution.NotificationLockTTL())
	orc := orchestrator.New(runs, pool)
	pool.OnTradeExecuted = tradeExecutedFeed(orc, runs)

	signalRunner, err := signals.NewRunner(sessions, orc)
	if err != nil {
		return nil, fmt.Errorf("build signal runner failed: %w", err)
	}

	registry := metrics.NewRegistry(metrics.LogSink{})
	mon := monitor.NewMonitor(runs, sessions, store, registry,
		monitor.Thresholds{
			RunMaxAge:     cfg.Monitor.RunAge(),
			SessionMaxAge: cfg.Monitor.SessionAge(),
		},
		cfg.Monitor.ScanInterval(),
	)
	if path := cfg.Monitor.ThresholdsPath; path != "" {
		if err := mon.WatchThresholds(path); err != nil {
			logger.Warnf("threshold watcher disabled: %v", err)
		}
	}

	httpSrv, err := b.httpFn(cfg.App, apihttp.NewRouter(runs, sessions, aggregator, registry))
	if err != nil {
		return nil, fmt.Errorf("build http server failed: %w", err)
	}

	return &App{
		cfg:     cfg,
		store:   store,
		orc:     orc,
		pool:    pool,
		signals: signalRunner,
		monitor: mon,
		httpSrv: httpSrv,
	}, nil
}

// tradeExecutedFeed bridges worker completions into the event loop. The
// correlation ID comes from the run row; a lookup miss only costs the
// event, never the completion itself.
func tradeExecutedFeed(orc *orchestrator.Orchestrator, runs *execution.Service) func(runID, tradeID, symbol string, success, skipped bool) {
	return func(runID, tradeID, symbol string, success, skipped bool) {
		lookupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		run, err := runs.GetRun(lookupCtx, runID)
		cancel()
		if err != nil || run == nil {
			logger.Warnf("trade executed feed: run %s lookup failed: %v", runID, err)
			return
		}
		payload, _ := json.Marshal(orchestrator.TradeExecutedPayload{
			RunID:   runID,
			TradeID: tradeID,
			Symbol:  symbol,
			Success: success,
			Skipped: skipped,
		})
		if err := orc.Send(orchestrator.EventEnvelope{
			Type:          orchestrator.EvtTradeExecuted,
			CorrelationID: run.CorrelationID,
			Payload:       payload,
		}); err != nil {
			logger.Warnf("trade executed feed: send failed run=%s trade=%s: %v", runID, tradeID, err)
		}
	}
}

func buildBroker(cfg tfcfg.BrokerConfig) (broker.Client, error) {
	switch cfg.Mode {
	case "", "paper":
		return broker.NewPaper(), nil
	default:
		return nil, fmt.Errorf("broker mode %q is not supported", cfg.Mode)
	}
}

func buildNotifySink(cfg tfcfg.NotifyConfig) notifier.TextNotifier {
	tg := cfg.Telegram
	if tg.Enabled {
		return notifier.NewTelegram(tg.BotToken, tg.ChatID)
	}
	return notifier.LogNotifier{}
}

func buildHTTPServer(cfg tfcfg.AppConfig, routes *apihttp.Router) (*apihttp.Server, error) {
	return apihttp.NewServer(apihttp.ServerConfig{Addr: cfg.HTTPAddr, Routes: routes})
}
