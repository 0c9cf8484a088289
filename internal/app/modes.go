package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/ammarb/internal/arbitrage"
	"github.com/alanyoungcy/ammarb/internal/server"
	"github.com/alanyoungcy/ammarb/internal/server/handler"
	"github.com/alanyoungcy/ammarb/internal/server/ws"
	"github.com/alanyoungcy/ammarb/internal/service"
)

// ScanMode quotes every configured stake and reports the best route without
// executing anything.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	scanner, err := a.newScanner(deps, false)
	if err != nil {
		return fmt.Errorf("scan mode: %w", err)
	}
	if a.once {
		scanner.ScanOnce(ctx)
		return nil
	}
	return scanner.Run(ctx)
}

// TradeMode scans and settles every profitable route.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	scanner, err := a.newScanner(deps, true)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	if a.once {
		done := scanner.ScanOnce(ctx)
		for _, st := range done {
			a.logger.InfoContext(ctx, "settlement completed",
				slog.String("operation_id", st.ID),
				slog.String("profit", st.Profit.String()),
			)
		}
		if len(done) == 0 {
			a.logger.InfoContext(ctx, "no settlement executed")
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scanner.Run(ctx)
	})
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// ServerMode serves the HTTP and websocket API. Settlements only happen on
// request.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the trading scanner, the API server and the archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	scanner, err := a.newScanner(deps, true)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scanner.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

func (a *App) newScanner(deps *Dependencies, execute bool) (*arbitrage.Scanner, error) {
	requests, err := a.cfg.Engine.Requests()
	if err != nil {
		return nil, err
	}
	cfg := arbitrage.ScannerConfig{
		Finder:            deps.Finder,
		Requests:          requests,
		Interval:          a.cfg.Engine.ScanInterval.Duration,
		AttemptsPerMinute: a.cfg.Engine.AttemptsPerMinute,
		Bus:               deps.SignalBus,
		Logger:            a.logger,
	}
	if execute {
		cfg.Executor = deps.Engine
	}
	if deps.Console != nil {
		cfg.Reporter = deps.Console
	}
	return arbitrage.NewScanner(cfg), nil
}

// startHTTPServer registers the API, the websocket hub and the graceful
// shutdown goroutine on g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		Channels:  []string{service.SettlementsChannel, arbitrage.RoutesChannel},
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	contract := a.cfg.Engine.DefaultContract
	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Health, a.logger),
		Status:      handler.NewStatusHandler(a.cfg.Mode, deps.Engine.Account(), deps.Venues.IDs()),
		Quotes:      handler.NewQuoteHandler(deps.Finder, contract, a.logger),
		Plan:        handler.NewPlanHandler(deps.Engine, deps.Notifier, deps.AuditStore, a.logger),
		Settlements: handler.NewSettlementHandler(deps.Engine, deps.Service, contract, a.logger),
	}
	if deps.Blobs != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.Blobs, a.logger)
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiver moves settlements older than the retention window to object
// storage every archive interval. It is a no-op unless archiving is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			before := time.Now().UTC().Add(-retention)
			n, err := deps.Archiver.ArchiveSettlements(ctx, before)
			if err != nil {
				a.logger.WarnContext(ctx, "archive run failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.InfoContext(ctx, "archived settlements",
					slog.Int64("count", n),
					slog.Time("before", before),
				)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
}
