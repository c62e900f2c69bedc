package daemon

import (
	"context"

	"github.com/matheus3301/chatfeed/internal/api"
	"github.com/matheus3301/chatfeed/internal/bus"
	"github.com/matheus3301/chatfeed/internal/config"
	"github.com/matheus3301/chatfeed/internal/hub"
	"github.com/matheus3301/chatfeed/internal/lock"
	"github.com/matheus3301/chatfeed/internal/logging"
	"github.com/matheus3301/chatfeed/internal/profile"
	"github.com/matheus3301/chatfeed/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
	Listen      string // optional override of server.listen
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideHub,
			provideGenerator,
			provideQueryService,
			NewServer,
			NewHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	if p.Listen != "" {
		cfg.Server.Listen = p.Listen
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the store is only opened by the lock holder.
func provideStore(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
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
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}

	seeded, err := db.Seed(context.Background(), store.SeedOptions{
		Chats:    cfg.Seed.Chats,
		Messages: cfg.Seed.Messages,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if seeded {
		logger.Info("sample data seeded", zap.Int("chats", cfg.Seed.Chats), zap.Int("messages", cfg.Seed.Messages))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideHub(cfg *config.Config, logger *zap.Logger) *hub.Hub {
	return hub.New(logger.Named("hub"), hub.Options{
		IdleTimeout: cfg.Server.IdleTimeout.Duration,
	})
}

func provideGenerator(cfg *config.Config, db *store.DB, h *hub.Hub, b *bus.Bus, logger *zap.Logger) *hub.Generator {
	return hub.NewGenerator(db, h, b, logger.Named("generator"), hub.GeneratorOptions{
		MinInterval: cfg.Generator.MinInterval.Duration,
		MaxInterval: cfg.Generator.MaxInterval.Duration,
	})
}

func provideQueryService(p Params, db *store.DB, gen *hub.Generator, logger *zap.Logger) *api.QueryService {
	return api.NewQueryService(db, gen, p.ProfileName, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, httpSrv *HTTPServer, gen *hub.Generator, h *hub.Hub, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			go func() {
				if err := httpSrv.Start(); err != nil {
					logger.Error("HTTP server error", zap.Error(err))
				}
			}()

			gen.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			gen.Stop()
			httpSrv.Stop(ctx)
			h.CloseAll()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
