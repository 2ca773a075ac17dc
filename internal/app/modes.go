package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftmarket/internal/server"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServerMode serves the marketplace API until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	if !a.cfg.Server.Enabled {
		return errors.New("server mode: server.enabled is false")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode only runs the periodic audit archive.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return errors.New("archive mode: archive.enabled is false")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runArchiver(ctx, deps)
	})
	return g.Wait()
}

// FullMode runs the API and, when enabled, the archive job side by side.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	} else {
		a.logger.WarnContext(ctx, "server disabled, full mode runs the archive only")
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps)
		})
	}

	return g.Wait()
}

// startHTTPServer adds the websocket hub and the HTTP server to g. The
// server shuts down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks, a.logger),
		Auctions: handler.NewAuctionHandler(deps.Market, a.logger),
		Listings: handler.NewListingHandler(deps.Market, a.logger),
		Accounts: handler.NewAccountHandler(deps.Ledger, a.logger),
		Assets:   handler.NewAssetHandler(deps.Market, a.logger),
	}
	if deps.SignalBus != nil {
		handlers.Events = handler.NewEventsHandler(deps.SignalBus, a.logger)
	}
	if deps.Archiver != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.Archiver, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		AdminKey:    a.cfg.Server.AdminKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.Hub, deps.RateLimiter, a.logger)

	if deps.Hub != nil {
		g.Go(func() error {
			if err := deps.Hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("ws hub: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http server shutdown", slog.String("error", err.Error()))
		}
		return nil
	})
}

// runArchiver archives audit entries older than the retention window once at
// startup and then on every interval tick. A failed run is logged and retried
// on the next tick.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	run := func() {
		cutoff := time.Now().UTC().Add(-retention)
		n, err := deps.Archiver.ArchiveEvents(ctx, cutoff)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "archive run failed",
					slog.Time("cutoff", cutoff),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		a.logger.InfoContext(ctx, "archive run complete",
			slog.Time("cutoff", cutoff),
			slog.Int64("entries", n),
		)
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			run()
		}
	}
}
