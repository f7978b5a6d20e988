package daemon

import (
	"context"

	"github.com/matheus3301/gram/internal/api"
	"github.com/matheus3301/gram/internal/bus"
	"github.com/matheus3301/gram/internal/config"
	"github.com/matheus3301/gram/internal/core"
	"github.com/matheus3301/gram/internal/feed"
	"github.com/matheus3301/gram/internal/lock"
	"github.com/matheus3301/gram/internal/logging"
	"github.com/matheus3301/gram/internal/session"
	"github.com/matheus3301/gram/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideHub,
			provideCore,
			provideChatService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Config.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the store is only opened by its owner.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideHub(p Params, b *bus.Bus, logger *zap.Logger) *feed.Hub {
	return feed.NewHub(b, p.Config.FeedBuffer, logger.Named("feed"))
}

func provideCore(p Params, db *store.DB, hub *feed.Hub, logger *zap.Logger) *core.Core {
	return core.New(db, hub, core.Options{
		FetchLimit:   p.Config.FetchLimit,
		BatchTimeout: p.Config.BatchTimeout.Std(),
	}, logger.Named("core"))
}

func provideChatService(c *core.Core, hub *feed.Hub, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(c, hub, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			logger.Info("live subscribers at shutdown", zap.Int("count", b.Subscribers()))
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
