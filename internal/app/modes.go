package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veilmarket/veilmarket/internal/domain"
	"github.com/veilmarket/veilmarket/internal/ledger"
	"github.com/veilmarket/veilmarket/internal/notify"
	"github.com/veilmarket/veilmarket/internal/registry"
	"github.com/veilmarket/veilmarket/internal/server"
	"github.com/veilmarket/veilmarket/internal/server/handler"
	"github.com/veilmarket/veilmarket/internal/server/ws"
)

const (
	// settlePollInterval is how often the settlement worker sweeps markets.
	settlePollInterval = 15 * time.Second

	// settleSweepPageSize bounds one page of the market sweep.
	settleSweepPageSize = 200

	shutdownTimeout = 10 * time.Second
)

// ServerMode runs the HTTP + WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// WorkerMode runs the settlement automation sweep and the notification
// listener without serving HTTP.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSettlementWorker(ctx, g, deps)
	a.startNotifyListener(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API server, the settlement worker, and the notification
// listener in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startSettlementWorker(ctx, g, deps)
	a.startNotifyListener(ctx, g, deps)
	return g.Wait()
}

// SandboxMode is FullMode on the in-process backends wired by Wire: memory
// stores, an in-memory bus, a mock gateway, and a self-signing oracle. Quotes
// are published through deps.StaticOracle rather than a reporter service.
func (a *App) SandboxMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sandbox mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startSettlementWorker(ctx, g, deps)
	a.startNotifyListener(ctx, g, deps)
	return g.Wait()
}

// newRegistryService builds the market lifecycle service from the wired
// dependencies.
func (a *App) newRegistryService(deps *Dependencies) *registry.Service {
	return registry.NewService(
		deps.MarketStore,
		deps.MarketCache,
		deps.Gateway,
		deps.Oracle,
		deps.LockManager,
		deps.SignalBus,
		deps.AuditStore,
		a.logger,
		a.cfg.OwnerAddress(),
		a.cfg.Oracle.MaxQuoteAge.Duration,
	)
}

// newLedgerService builds the bet and balance service from the wired
// dependencies.
func (a *App) newLedgerService(deps *Dependencies) *ledger.Service {
	return ledger.NewService(
		deps.MarketStore,
		deps.BetStore,
		deps.BalanceStore,
		deps.MarketCache,
		deps.Gateway,
		deps.LockManager,
		deps.SignalBus,
		deps.AuditStore,
		a.logger,
	)
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	registrySvc := a.newRegistryService(deps)
	ledgerSvc := a.newLedgerService(deps)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.logger),
		Markets:     handler.NewMarketHandler(registrySvc, deps.Archiver, deps.BlobReader, a.logger),
		Bets:        handler.NewBetHandler(ledgerSvc, a.logger),
		Balances:    handler.NewBalanceHandler(ledgerSvc, a.logger),
		Audit:       handler.NewAuditHandler(deps.AuditStore, a.logger),
		Events:      handler.NewEventsHandler(deps.SignalBus, a.logger),
		RateLimiter: deps.RateLimiter,
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) startNotifyListener(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	listener := notify.NewListener(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		return listener.Run(ctx)
	})
}

// startSettlementWorker launches the periodic sweep that advances market
// lifecycles without operator intervention: resolve past-close markets,
// request pool decryption, settle once results arrive, and archive settled
// markets when blob storage is configured.
func (a *App) startSettlementWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	registrySvc := a.newRegistryService(deps)

	g.Go(func() error {
		logger := a.logger.With(slog.String("component", "settle_worker"))
		logger.InfoContext(ctx, "settlement worker started",
			slog.Duration("interval", settlePollInterval),
		)

		ticker := time.NewTicker(settlePollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("settlement worker stopped")
				return nil
			case <-ticker.C:
				if err := a.sweepMarkets(ctx, registrySvc, deps, logger); err != nil {
					logger.WarnContext(ctx, "market sweep failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})
}

// sweepMarkets pages through all markets and nudges each one forward one
// lifecycle step. Transient conditions (stale quote, decryption not ready,
// lock held) are expected and skipped quietly.
func (a *App) sweepMarkets(ctx context.Context, svc *registry.Service, deps *Dependencies, logger *slog.Logger) error {
	now := time.Now().UTC()

	for offset := 0; ; offset += settleSweepPageSize {
		markets, err := svc.ListMarkets(ctx, domain.ListOpts{
			Limit:  settleSweepPageSize,
			Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("app: sweep markets: %w", err)
		}
		for _, m := range markets {
			a.advanceMarket(ctx, svc, deps, m, now, logger)
		}
		if len(markets) < settleSweepPageSize {
			return nil
		}
	}
}

func (a *App) advanceMarket(ctx context.Context, svc *registry.Service, deps *Dependencies, m domain.Market, now time.Time, logger *slog.Logger) {
	var err error
	switch m.StatusAt(now) {
	case domain.MarketStatusClosed:
		_, err = svc.Resolve(ctx, m.ID)
	case domain.MarketStatusResolved:
		_, err = svc.RequestDecrypt(ctx, m.ID)
	case domain.MarketStatusDecryptPending:
		_, err = svc.Settle(ctx, m.ID)
	case domain.MarketStatusSettled:
		a.archiveSettled(ctx, deps, m, logger)
		return
	default:
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStaleOracle),
		errors.Is(err, domain.ErrDecryptNotReady),
		errors.Is(err, domain.ErrLockHeld):
		// Transient; the next sweep retries.
		logger.DebugContext(ctx, "market not ready to advance",
			slog.Uint64("market_id", m.ID),
			slog.String("reason", err.Error()),
		)
	default:
		logger.WarnContext(ctx, "failed to advance market",
			slog.Uint64("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

// archiveSettled snapshots a settled market to blob storage exactly once.
func (a *App) archiveSettled(ctx context.Context, deps *Dependencies, m domain.Market, logger *slog.Logger) {
	if deps.Archiver == nil || deps.BlobReader == nil {
		return
	}

	exists, err := deps.BlobReader.Exists(ctx, domain.ArchivePath(m.ID))
	if err != nil {
		logger.WarnContext(ctx, "archive existence check failed",
			slog.Uint64("market_id", m.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if exists {
		return
	}

	path, err := deps.Archiver.ArchiveMarket(ctx, m.ID)
	if err != nil {
		logger.WarnContext(ctx, "failed to archive settled market",
			slog.Uint64("market_id", m.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.InfoContext(ctx, "archived settled market",
		slog.Uint64("market_id", m.ID),
		slog.String("path", path),
	)
}
