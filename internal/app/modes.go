package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/orderwatch/internal/server"
	"github.com/alanyoungcy/orderwatch/internal/server/handler"
	"github.com/alanyoungcy/orderwatch/internal/server/ws"
)

// shutdownGrace bounds the graceful HTTP shutdown in serve mode.
const shutdownGrace = 10 * time.Second

// WatchMode runs the reconnecting feed and synchronization loop without the
// HTTP surface. Consumers follow the cache through the dispatcher (or the
// Redis mirror when enabled).
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Manager.Run(ctx)
	})

	return g.Wait()
}

// ServeMode runs everything watch mode does plus the HTTP + WebSocket API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.Int("port", a.cfg.Server.Port),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Manager.Run(ctx)
	})

	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Orders: handler.NewOrderHandler(deps.Coordinator, deps.Orders, a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, deps.Manager, deps.Coordinator, deps.Orders),
	}
	if deps.Journal != nil {
		handlers.Events = handler.NewEventsHandler(deps.Journal, a.logger)
	}

	srvCfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}
	if deps.RateLimiter != nil && a.cfg.Server.RateLimitPerSec > 0 {
		srvCfg.RateLimiter = deps.RateLimiter
		srvCfg.RateLimit = a.cfg.Server.RateLimitPerSec
		srvCfg.RateLimitWindow = time.Second
	}

	srv := server.NewServer(srvCfg, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("serve mode: %w", err)
		}
		return ctx.Err()
	})

	return g.Wait()
}
