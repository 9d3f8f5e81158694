package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	s3blob "github.com/alanyoungcy/orderwatch/internal/blob/s3"
	"github.com/alanyoungcy/orderwatch/internal/cache"
	"github.com/alanyoungcy/orderwatch/internal/cache/redis"
	"github.com/alanyoungcy/orderwatch/internal/config"
	"github.com/alanyoungcy/orderwatch/internal/conn"
	"github.com/alanyoungcy/orderwatch/internal/dispatch"
	"github.com/alanyoungcy/orderwatch/internal/domain"
	"github.com/alanyoungcy/orderwatch/internal/ledger/eth"
	"github.com/alanyoungcy/orderwatch/internal/notify"
	"github.com/alanyoungcy/orderwatch/internal/store/postgres"
	"github.com/alanyoungcy/orderwatch/internal/syncer"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
// Journal, Mirror, RateLimiter, and Archiver are nil when the corresponding
// integration is disabled.
type Dependencies struct {
	Bus         *dispatch.Dispatcher
	Orders      *cache.Orders
	Ledger      *ledgerHolder
	Coordinator *syncer.Coordinator
	Manager     *conn.Manager

	Journal     *postgres.EventJournal
	Mirror      *redis.Mirror
	RateLimiter *redis.RateLimiter
	Archiver    *s3blob.SnapshotArchiver
	Notifier    *notify.Notifier
	Watcher     *notify.ConnectionWatcher
}

// ledgerHolder tracks the most recently dialed RPC client. Reconnection
// replaces the client, so reads always go through the live connection; the
// previous client is closed on swap.
type ledgerHolder struct {
	cur atomic.Pointer[eth.Client]
}

func (h *ledgerHolder) swap(c *eth.Client) {
	if old := h.cur.Swap(c); old != nil {
		old.Close()
	}
}

func (h *ledgerHolder) close() {
	if old := h.cur.Swap(nil); old != nil {
		old.Close()
	}
}

// NextOrderID implements domain.LedgerReader against the current connection.
func (h *ledgerHolder) NextOrderID(ctx context.Context) (uint64, error) {
	c := h.cur.Load()
	if c == nil {
		return 0, domain.ErrNotConnected
	}
	return c.NextOrderID(ctx)
}

// OrderByID implements domain.LedgerReader against the current connection.
func (h *ledgerHolder) OrderByID(ctx context.Context, id uint64) (domain.OrderRecord, error) {
	c := h.cur.Load()
	if c == nil {
		return domain.OrderRecord{}, domain.ErrNotConnected
	}
	return c.OrderByID(ctx, id)
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Bus:    dispatch.New(logger),
		Orders: cache.New(logger),
		Ledger: &ledgerHolder{},
	}
	closers = append(closers, deps.Ledger.close)

	deps.Coordinator = syncer.New(deps.Ledger, deps.Orders, deps.Bus, cfg.Sync.ExpiryWindow(), logger)

	// --- PostgreSQL event journal (optional) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.Journal = postgres.NewEventJournal(pgClient.Pool())
	}

	// --- Redis mirror + rate limiter (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Mirror = redis.NewMirror(redisClient, cfg.Redis.ChannelPrefix, logger)
		deps.Mirror.Attach(deps.Bus)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- S3 snapshot archiver (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewSnapshotArchiver(s3Client, cfg.S3.Prefix, logger)
		deps.Archiver.Attach(deps.Bus)
	}

	// --- Notifications ---
	var senders []notify.Sender
	for _, url := range cfg.Notify.WebhookURLs {
		senders = append(senders, notify.NewWebhookSender(url))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if len(senders) > 0 {
		deps.Watcher = notify.NewConnectionWatcher(deps.Notifier)
		deps.Watcher.Attach(deps.Bus)
	}

	// --- Reconnecting feed ---
	deps.Manager = buildManager(cfg, deps, logger)

	return deps, cleanup, nil
}

// buildManager assembles the reconnecting feed: each dial establishes a fresh
// RPC connection and log subscription, a successful dial triggers a full
// resynchronization, and every event flows through the coordinator (and the
// journal when enabled).
func buildManager(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *conn.Manager {
	contract := cfg.ContractAddress()

	dial := func(ctx context.Context) (domain.LedgerSession, error) {
		client, err := eth.Dial(ctx, cfg.Ledger.WsURL, contract, logger)
		if err != nil {
			return nil, err
		}
		sess, err := client.Subscribe(ctx)
		if err != nil {
			client.Close()
			return nil, err
		}
		deps.Ledger.swap(client)
		return sess, nil
	}

	mgr := conn.NewManager(dial, conn.Config{
		BaseDelay:   cfg.Sync.BaseDelay(),
		MaxDelay:    cfg.Sync.MaxDelay(),
		MaxAttempts: cfg.Sync.MaxAttempts,
	}, logger)

	mgr.OnReady(func(ctx context.Context) {
		if err := deps.Coordinator.Bootstrap(ctx); err != nil {
			// A superseded bootstrap means a newer connection took over.
			if ctx.Err() == nil {
				logger.Warn("bootstrap did not commit", slog.String("error", err.Error()))
			}
		}
	})

	mgr.OnEvent(func(ctx context.Context, ev domain.LedgerEvent) {
		if deps.Journal != nil {
			if err := deps.Journal.Record(ctx, ev); err != nil {
				logger.Warn("journal write failed",
					slog.String("kind", ev.Kind()),
					slog.String("error", err.Error()),
				)
			}
		}
		deps.Coordinator.HandleEvent(ctx, ev)
	})

	mgr.OnStateChange(func(change conn.StateChange) {
		deps.Bus.Publish(domain.TopicConnState, change)
	})

	return mgr
}
