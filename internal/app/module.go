// Package app composes the daemon: one fx module wiring the remote
// clients, the snapshot cache, the sync engine, the action set and the
// session lifecycle.
package app

import (
	"context"

	"github.com/matheus3301/pingme/internal/actions"
	"github.com/matheus3301/pingme/internal/auth"
	"github.com/matheus3301/pingme/internal/bus"
	"github.com/matheus3301/pingme/internal/cache"
	"github.com/matheus3301/pingme/internal/config"
	"github.com/matheus3301/pingme/internal/lock"
	"github.com/matheus3301/pingme/internal/logging"
	"github.com/matheus3301/pingme/internal/media"
	"github.com/matheus3301/pingme/internal/push"
	"github.com/matheus3301/pingme/internal/remote"
	"github.com/matheus3301/pingme/internal/session"
	"github.com/matheus3301/pingme/internal/state"
	"github.com/matheus3301/pingme/internal/status"
	intsync "github.com/matheus3301/pingme/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideCache,
			provideStateStore,
			provideTokenSource,
			provideRemote,
			provideAuth,
			providePush,
			provideMedia,
			provideSyncEngine,
			provideActions,
			provideSession,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := session.CachePath(p.SessionName)
	db, err := cache.Open(dbPath)
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
	logger.Info("snapshot cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideStateStore() *state.Store {
	return state.NewStore()
}

func provideTokenSource() *TokenSource {
	return &TokenSource{}
}

func provideRemote(cfg *config.Config, tokens *TokenSource, logger *zap.Logger) remote.Store {
	return remote.NewREST(cfg.Remote.DatabaseURL, tokens.Get, logger)
}

func provideAuth(cfg *config.Config) auth.Authenticator {
	return auth.NewClient(cfg.Remote.AuthURL, cfg.Remote.AuthKey)
}

func providePush(cfg *config.Config, logger *zap.Logger) *push.Client {
	return push.NewClient(cfg.Remote.PushURL, logger)
}

func provideMedia(cfg *config.Config) media.Uploader {
	return media.NewClient(cfg.Remote.StorageURL)
}

func provideSyncEngine(rs remote.Store, st *state.Store, db *cache.DB, b *bus.Bus, m *status.Machine, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(rs, st, db, b, m, logger)
}

func provideActions(rs remote.Store, st *state.Store, b *bus.Bus, pc *push.Client, up media.Uploader, logger *zap.Logger) *actions.Actions {
	return actions.New(rs, st, b, pc, up, logger)
}

func provideSession(p Params, cfg *config.Config, a auth.Authenticator, rs remote.Store, engine *intsync.Engine, st *state.Store, db *cache.DB, m *status.Machine, b *bus.Bus, tokens *TokenSource, acts *actions.Actions, logger *zap.Logger) *Session {
	return NewSession(p.SessionName, a, rs, engine, st, db, m, b, tokens, acts, cfg.DevicePushToken, logger)
}

func registerLifecycle(lc fx.Lifecycle, sess *Session, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Resume on a background context: subscriptions must outlive
			// the fx start timeout.
			if err := sess.Resume(context.Background()); err != nil {
				logger.Error("resume failed", zap.Error(err))
				return err
			}
			return nil
		},
		OnStop: func(context.Context) error {
			sess.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
