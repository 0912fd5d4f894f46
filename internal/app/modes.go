package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ayush101098/nexxore/internal/assessor"
	"github.com/ayush101098/nexxore/internal/crypto"
	"github.com/ayush101098/nexxore/internal/engine"
	"github.com/ayush101098/nexxore/internal/ledger/evm"
	"github.com/ayush101098/nexxore/internal/server"
	"github.com/ayush101098/nexxore/internal/server/handler"
	"github.com/ayush101098/nexxore/internal/server/ws"
	"github.com/ayush101098/nexxore/internal/signals"
	"github.com/ayush101098/nexxore/internal/submit"
	"github.com/ayush101098/nexxore/internal/yields"
)

// MonitorMode runs the autonomous control loop (plus signal watcher and
// archiver) without the HTTP API.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	orch, err := a.buildEngine(ctx, deps)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	g.Go(func() error {
		return orch.Run(ctx)
	})

	a.startSignalWatcher(ctx, g, deps, orch)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// ServerMode serves the HTTP API and WebSocket feed without running the
// control loop. Mutating endpoints respond 503 because there is no engine to
// act on them.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)

	return g.Wait()
}

// FullMode runs everything: the control loop, signal watcher, archiver, and
// the HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	orch, err := a.buildEngine(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	g.Go(func() error {
		return orch.Run(ctx)
	})

	a.startSignalWatcher(ctx, g, deps, orch)
	a.startArchiver(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, orch)
	}

	return g.Wait()
}

// buildEngine constructs the chain-facing dependency chain (signer, ledger,
// submitter, assessor) and the orchestrator on top of it.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies) (*engine.Orchestrator, error) {
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("build engine: load key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex, a.cfg.Chain.ChainID)
	if err != nil {
		return nil, fmt.Errorf("build engine: create signer: %w", err)
	}
	a.logger.InfoContext(ctx, "operator wallet loaded",
		slog.String("address", signer.Address().Hex()))

	apySource := yields.NewClient(a.cfg.Yields.BaseURL)

	strategies := make(map[string]evm.StrategyMeta, len(a.cfg.Chain.Strategies))
	for _, s := range a.cfg.Chain.Strategies {
		strategies[s.Address] = evm.StrategyMeta{
			Name:      s.Name,
			YieldPool: s.YieldPool,
		}
	}

	ledger, err := evm.NewClient(
		ctx,
		a.cfg.Chain.RPCURL,
		a.cfg.Chain.VaultAddress,
		a.cfg.Chain.AssetDecimals,
		signer,
		apySource,
		strategies,
		a.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("build engine: ledger: %w", err)
	}
	a.closers = append(a.closers, ledger.Close)

	// The submitter falls back to the ledger's own RPC connection when the
	// confidential relay is unavailable.
	submitter := submit.NewRelaySubmitter(a.cfg.Chain.RelayURL, signer, ledger, a.logger)
	ledger.WithSubmitter(submitter)

	assessorClient := assessor.NewClient(
		a.cfg.Assessor.BaseURL,
		a.cfg.Assessor.APIKey,
		a.cfg.Assessor.Timeout.Duration,
	)

	var oracle *evm.Client
	if a.cfg.Chain.RiskOracleAddress != "" {
		oracle, err = ledger.WithRiskOracle(a.cfg.Chain.RiskOracleAddress)
		if err != nil {
			return nil, fmt.Errorf("build engine: risk oracle: %w", err)
		}
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.CycleInterval = a.cfg.Engine.CycleInterval.Duration
	engineCfg.CooldownWindow = a.cfg.Engine.CooldownWindow.Duration
	engineCfg.AssessRetries = a.cfg.Engine.AssessRetries
	engineCfg.AssessRetryBase = a.cfg.Engine.AssessRetryBase.Duration
	engineCfg.IdleBufferBps = a.cfg.Engine.IdleBufferBps
	engineCfg.MaxSingleRebalanceBps = a.cfg.Engine.MaxSingleRebalanceBps
	engineCfg.MinDeviationBps = a.cfg.Engine.MinDeviationBps
	engineCfg.LockTTL = a.cfg.Engine.LockTTL.Duration

	orch := engine.New(
		engineCfg,
		ledger,
		assessorClient,
		deps.RiskCache,
		deps.AnalysisStore,
		deps.ProposalStore,
		deps.UnwindStore,
		deps.LockManager,
		deps.Notifier,
		a.logger,
	)
	if oracle != nil {
		orch = orch.WithRiskOracle(oracle)
	}
	return orch, nil
}

// startSignalWatcher polls the context-signal stream and forwards entries to
// the loop when enabled.
func (a *App) startSignalWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies, orch *engine.Orchestrator) {
	if !a.cfg.Signals.Enabled {
		return
	}
	watcher := signals.NewWatcher(deps.SignalSource, orch, a.cfg.Signals.PollInterval.Duration, a.logger)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
}

// startArchiver runs periodic cold-storage archival when S3 is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	g.Go(func() error {
		deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration, retention)
		return nil
	})
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. orch may be nil (server mode); mutating endpoints then
// respond 503.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, orch *engine.Orchestrator) {
	hub := ws.NewHub(deps.RiskCache, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, orch),
		Analyses:  handler.NewAnalysisHandler(deps.AnalysisStore, deps.RiskCache, a.logger),
		Proposals: handler.NewProposalHandler(deps.ProposalStore, orch, a.logger),
		Cycle:     handler.NewCycleHandler(orch, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		WriteRateLimit:  a.cfg.Server.WriteRateLimit,
		WriteRateWindow: a.cfg.Server.WriteRateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}
