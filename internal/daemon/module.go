package daemon

import (
	"context"

	"github.com/devicebridge/bridged/internal/bus"
	"github.com/devicebridge/bridged/internal/config"
	"github.com/devicebridge/bridged/internal/conn"
	"github.com/devicebridge/bridged/internal/dispatch"
	"github.com/devicebridge/bridged/internal/histsync"
	"github.com/devicebridge/bridged/internal/httpapi"
	"github.com/devicebridge/bridged/internal/ingest"
	"github.com/devicebridge/bridged/internal/lock"
	"github.com/devicebridge/bridged/internal/logging"
	"github.com/devicebridge/bridged/internal/outbox"
	"github.com/devicebridge/bridged/internal/paths"
	"github.com/devicebridge/bridged/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config  *config.Config
	DataDir string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideManager,
			provideMonitor,
			provideFailureLog,
			provideIngestEngine,
			provideSyncer,
			provideDispatcher,
			provideSender,
			provideAPI,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(paths.LogPath(p.DataDir), p.DataDir)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := paths.EnsureDirs(p.DataDir); err != nil {
		return nil, err
	}
	logger.Info("acquiring data directory lock", zap.String("dir", p.DataDir))
	l, err := lock.Acquire(p.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data directory lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger, _ *lock.Lock) (*store.DB, error) {
	dbPath := paths.DBPath(p.DataDir)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideManager(p Params, b *bus.Bus, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(b, logger, p.Config.SendTimeout.Std())
}

func provideMonitor(p Params, m *conn.Manager, logger *zap.Logger) *conn.Monitor {
	return conn.NewMonitor(m, p.Config.ProbeInterval.Std(), p.Config.StaleAfter.Std(), logger)
}

func provideFailureLog(p Params, logger *zap.Logger) *ingest.FailureLog {
	return ingest.NewFailureLog(paths.FailedAttachmentsLogPath(p.DataDir), logger)
}

func provideIngestEngine(p Params, db *store.DB, b *bus.Bus, failLog *ingest.FailureLog, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, b, paths.AttachmentsDir(p.DataDir), failLog, logger)
}

func provideSyncer(p Params, db *store.DB, m *conn.Manager, b *bus.Bus, logger *zap.Logger) *histsync.Syncer {
	return histsync.NewSyncer(db, m, b, histsync.Config{
		BatchSize:          p.Config.BatchSize,
		MaxBackfillBatches: p.Config.BackfillMaxBatches,
		SettleDelay:        p.Config.SettleDelay.Std(),
		RequestDelay:       p.Config.RequestDelay.Std(),
	}, logger)
}

func provideDispatcher(engine *ingest.Engine, syncer *histsync.Syncer, monitor *conn.Monitor, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.New(engine, syncer, monitor, logger)
}

func provideSender(db *store.DB, m *conn.Manager, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, m, b, logger)
}

func provideAPI(p Params, db *store.DB, m *conn.Manager, syncer *histsync.Syncer, sender *outbox.Sender, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(db, m, syncer, sender, p.Config.WSPath, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, m *conn.Manager, monitor *conn.Monitor, d *dispatch.Dispatcher, syncer *histsync.Syncer, sender *outbox.Sender, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Inbound frames route through the dispatcher.
			m.RegisterHandler(d.Handle)

			// Health monitor and sync state machine both observe the
			// connection lifecycle; registration order is fixed so the
			// monitor resets before a sync can start.
			m.OnConnected(monitor.Start)
			m.OnConnected(syncer.ScheduleStart)
			m.OnDisconnected(monitor.Stop)
			m.OnDisconnected(syncer.Reset)

			// Handover to a superseding connection aborts any in-flight
			// cycle; the connect observers then start a fresh one.
			m.OnEvicted(syncer.Reset)

			// Start HTTP server (websocket endpoint + admin API).
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			// Start outbox sender.
			sender.Start(context.Background())

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			monitor.Stop()
			m.CloseActive("daemon shutting down")
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
