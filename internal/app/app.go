package app

import (
	"context"
	"fmt"

	tfcfg "tradeflow/internal/config"
	"tradeflow/internal/logger"
	"tradeflow/internal/monitor"
	"tradeflow/internal/orchestrator"
	"tradeflow/internal/signals"
	"tradeflow/internal/store/coordstore"
	apihttp "tradeflow/internal/transport/http"
	"tradeflow/internal/worker"

	"golang.org/x/sync/errgroup"
)

// App owns application-level orchestration: config, store, services,
// background loops, and the operator HTTP surface.
type App struct {
	cfg     *tfcfg.Config
	store   *coordstore.GormStore
	orc     *orchestrator.Orchestrator
	pool    *worker.Pool
	signals *signals.Runner
	monitor *monitor.Monitor
	httpSrv *apihttp.Server
}

// NewApp builds the application object without starting it.
func NewApp(cfg *tfcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts the event loop, monitor, and HTTP server, then blocks
// until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.orc == nil {
		return fmt.Errorf("orchestrator not initialized")
	}

	a.orc.Start()
	defer a.orc.Stop()

	group, ctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	if a.monitor != nil {
		group.Go(func() error {
			a.monitor.Start(ctx)
			return nil
		})
	}

	group.Go(func() error {
		<-ctx.Done()
		return a.store.Close()
	})

	return group.Wait()
}

// Orchestrator exposes the event loop for replay and test harnesses.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	if a == nil {
		return nil
	}
	return a.orc
}

// Signals exposes the partial-signal runner.
func (a *App) Signals() *signals.Runner {
	if a == nil {
		return nil
	}
	return a.signals
}

// Pool exposes the trade worker pool.
func (a *App) Pool() *worker.Pool {
	if a == nil {
		return nil
	}
	return a.pool
}
