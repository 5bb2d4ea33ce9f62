package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bbscout/dbbackup/internal/adapter/compressor"
	"github.com/bbscout/dbbackup/internal/adapter/database"
	"github.com/bbscout/dbbackup/internal/adapter/notifier"
	"github.com/bbscout/dbbackup/internal/adapter/storage"
	"github.com/bbscout/dbbackup/internal/config"
	"github.com/bbscout/dbbackup/internal/domain"
	"github.com/bbscout/dbbackup/internal/infrastructure/httpserver"
	"github.com/bbscout/dbbackup/internal/infrastructure/logger"
	"github.com/bbscout/dbbackup/internal/infrastructure/metrics"
	"github.com/bbscout/dbbackup/internal/infrastructure/scheduler"
	"github.com/bbscout/dbbackup/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config    *config.Config
	logger    *logger.Logger
	backup    *usecase.Backup
	scheduler *scheduler.Scheduler
	metrics   *metrics.Collector
	admin     *httpserver.Server

	remoteConfigPath string
	shutdownOnce     sync.Once
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &App{
		config:  cfg,
		logger:  log,
		metrics: metrics.NewCollector(),
	}

	store, err := a.initializeStore(ctx)
	if err != nil {
		a.cleanupRemoteConfig()
		return nil, err
	}

	comp, err := compressor.NewGzip(cfg.Backup.CompressionLevel)
	if err != nil {
		a.cleanupRemoteConfig()
		return nil, fmt.Errorf("invalid BACKUP_COMPRESSION_LEVEL: %w", err)
	}
	options := []usecase.Option{usecase.WithMetrics(a.metrics)}
	if n := a.initializeNotifier(); n != nil {
		options = append(options, usecase.WithNotifier(n))
	}

	a.backup = usecase.NewBackup(
		func() (domain.ConnectionSpec, error) {
			return config.ParseDatabaseURL(cfg.DatabaseURL)
		},
		database.NewMySQL(cfg.Backup.DumpBinary),
		comp,
		store,
		log,
		usecase.BackupOptions{
			ScratchDir:     cfg.Backup.ScratchDir,
			Naming:         usecase.NewArtifactNaming(cfg.Backup.ArtifactPrefix, comp.Extension()),
			Destination:    cfg.Destination(),
			Retention:      cfg.RetentionPolicy(),
			DumpTimeout:    cfg.Backup.DumpTimeout,
			RemoteTimeout:  cfg.Remote.Timeout,
			PingBeforeDump: cfg.Backup.PingBeforeDump,
		},
		options...,
	)

	a.scheduler = scheduler.New(log.With("component", "scheduler"), scheduler.WithSkipHook(a.metrics.TriggerSkipped))

	if cfg.Backup.HTTPAddr != "" {
		a.admin = httpserver.New(cfg.Backup.HTTPAddr, a.scheduler, a.metrics.Handler(), log.With("component", "admin"))
	}

	log.Infow("Backup configured",
		"destination", cfg.Destination().String(),
		"driver", cfg.Remote.Driver,
		"retention", cfg.Remote.RetentionCount,
		"schedule", cfg.Backup.Schedule)

	return a, nil
}

func (a *App) initializeStore(ctx context.Context) (domain.RemoteStore, error) {
	cred, err := a.config.ResolveRemoteCredential()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve remote credential: %w", err)
	}
	if cred.Present() {
		a.logger.Infow("Remote credential loaded", "source", cred.Source)
	} else {
		a.logger.Warnw("No remote credential configured, the storage client uses its own configuration")
	}

	switch a.config.Remote.Driver {
	case config.StoreDriverNative:
		store, err := storage.NewNative(ctx, cred.Data, a.config.Remote.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize native store: %w", err)
		}
		return store, nil
	default:
		path, err := config.WriteRemoteConfig(a.config.Backup.ScratchDir, cred)
		if err != nil {
			return nil, err
		}
		a.remoteConfigPath = path
		return storage.NewRclone(a.config.Remote.Binary, path), nil
	}
}

// initializeNotifier never fails startup: a broken notifier is logged and
// left out.
func (a *App) initializeNotifier() domain.Notifier {
	if !a.config.TelegramEnabled() {
		return nil
	}
	n, err := notifier.NewTelegram(
		a.config.Notify.TelegramBotToken,
		a.config.Notify.TelegramChatID,
		a.config.Notify.NotifySuccess,
	)
	if err != nil {
		a.logger.Warnw("Telegram notifications disabled", "error", err)
		return nil
	}
	a.logger.Infow("✓ Telegram notifications enabled")
	return n
}

// RunOnce executes a single backup run in the foreground.
func (a *App) RunOnce(ctx context.Context) *domain.RunResult {
	return a.backup.Run(ctx)
}

// Run schedules the backup and blocks until ctx is cancelled. Failed runs are
// logged and never end the loop. An admin server that cannot bind is fatal.
func (a *App) Run(ctx context.Context) error {
	return a.serve(ctx, true)
}

// serve starts the scheduler before the admin server, so a bind failure never
// keeps backups from running. With adminRequired unset the failure is logged
// and the scheduler keeps going.
func (a *App) serve(ctx context.Context, adminRequired bool) error {
	if err := a.scheduler.Schedule(a.config.Backup.Schedule, a.backup.Execute); err != nil {
		return fmt.Errorf("failed to schedule backup: %w", err)
	}

	a.scheduler.Start()
	a.logger.Infow("Scheduler started", "schedule", a.config.Backup.Schedule, "next_run", a.scheduler.Next())

	if a.admin != nil {
		if err := a.admin.Start(); err != nil {
			if adminRequired {
				return err
			}
			a.logger.Errorw("Admin server disabled", "addr", a.config.Backup.HTTPAddr, "error", err)
			a.admin = nil
		}
	}

	if a.config.Backup.RunOnStart {
		a.logger.Infow("Running initial backup")
		a.scheduler.TriggerNow()
	}

	<-ctx.Done()
	return nil
}

// Shutdown stops the scheduler, waiting for a run in progress to observe
// cancellation, and removes the remote credential file. It is idempotent.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.logger.Infow("Shutting down backup scheduler")
		a.scheduler.Stop()

		if a.admin != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.admin.Shutdown(ctx); err != nil {
				a.logger.Warnw("Admin server shutdown", "error", err)
			}
			cancel()
		}

		a.cleanupRemoteConfig()
		a.logger.Close()
	})
}

func (a *App) cleanupRemoteConfig() {
	if a.remoteConfigPath == "" {
		return
	}
	if err := os.Remove(a.remoteConfigPath); err != nil && !os.IsNotExist(err) {
		a.logger.Warnw("Failed to remove remote config file", "path", a.remoteConfigPath, "error", err)
	}
	a.remoteConfigPath = ""
}

// StartBackground starts the scheduled backup next to a host process. It
// never returns an error and never blocks: configuration or initialization
// problems are logged and the backup task is simply not started. The
// returned stop function is always safe to call.
func StartBackground(ctx context.Context, envFile string) (stop func()) {
	noop := func() {}

	cfg, err := config.Load(envFile)
	if err != nil {
		fallbackLogger().Errorw("Backup scheduler not started", "error", err)
		return noop
	}

	a, err := New(ctx, cfg)
	if err != nil {
		fallbackLogger().Errorw("Backup scheduler not started", "error", err)
		return noop
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.serve(runCtx, false); err != nil {
			a.logger.Errorw("Backup scheduler stopped", "error", err)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			a.Shutdown()
		})
	}
}

func fallbackLogger() *logger.Logger {
	log, err := logger.New(logger.Options{Level: "info"})
	if err != nil {
		return logger.Nop()
	}
	return log
}
