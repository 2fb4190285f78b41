package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/avermeer/circlesift/internal/classify"
	"github.com/avermeer/circlesift/internal/clients/xapi"
	"github.com/avermeer/circlesift/internal/common"
	"github.com/avermeer/circlesift/internal/handlers"
	"github.com/avermeer/circlesift/internal/interfaces"
	"github.com/avermeer/circlesift/internal/ratelimit"
	"github.com/avermeer/circlesift/internal/scan"
	badgerstore "github.com/avermeer/circlesift/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	Limiter        *ratelimit.Window
	Broadcaster    *scan.Broadcaster
	ScanManager    *scan.Manager

	// HTTP handlers
	ScanHandler     *handlers.ScanHandler
	AccountsHandler *handlers.AccountsHandler
	StatusHandler   *handlers.StatusHandler
	WSHandler       *handlers.WebSocketHandler

	scheduler *cron.Cron
}

// New wires the application: storage, external clients, the shared rate
// limiter, the scan manager, HTTP handlers, and the optional rescan
// scheduler.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	storageManager, err := badgerstore.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	source, err := xapi.NewClient(&cfg.Source, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize source client: %w", err)
	}

	classifier, err := classify.New(cfg, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize classifier: %w", err)
	}

	// process-wide limiter shared by all jobs hitting the same APIs
	limiter := ratelimit.NewWindow(map[string]ratelimit.Quota{
		ratelimit.KeySource: {
			Requests: cfg.RateLimit.SourceRequests,
			Window:   common.Duration(cfg.RateLimit.SourceWindow, 15*time.Minute),
		},
		ratelimit.KeyLLM: {
			Requests: cfg.RateLimit.LLMRequests,
			Window:   common.Duration(cfg.RateLimit.LLMWindow, time.Minute),
		},
	})

	broadcaster := scan.NewBroadcaster()
	manager := scan.NewManager(cfg, source, classifier, storageManager.AccountStore(), limiter, broadcaster, logger)

	app := &App{
		Config:          cfg,
		Logger:          logger,
		StorageManager:  storageManager,
		Limiter:         limiter,
		Broadcaster:     broadcaster,
		ScanManager:     manager,
		ScanHandler:     handlers.NewScanHandler(manager, cfg.Source.DefaultTarget, logger),
		AccountsHandler: handlers.NewAccountsHandler(storageManager.AccountReader(), logger),
		StatusHandler:   handlers.NewStatusHandler(limiter, logger),
		WSHandler:       handlers.NewWebSocketHandler(manager, &cfg.WebSocket, logger),
	}

	if cfg.Scheduler.Enabled {
		if err := app.startScheduler(); err != nil {
			app.Close()
			return nil, err
		}
	}

	logger.Info().Msg("Application initialized")
	return app, nil
}

// startScheduler registers the cron-triggered rescan of the default target.
// A tick that fires while a scan is still running is skipped; the next tick
// tries again.
func (a *App) startScheduler() error {
	if a.Config.Source.DefaultTarget == "" {
		a.Logger.Warn().Msg("Scheduler enabled but source.default_target is not set; scheduled rescans disabled")
		return nil
	}

	a.scheduler = cron.New()
	_, err := a.scheduler.AddFunc(a.Config.Scheduler.Schedule, func() {
		jobID, err := a.ScanManager.Start(a.Config.Source.DefaultTarget)
		if err != nil {
			var conflict *scan.ConflictError
			if errors.As(err, &conflict) {
				a.Logger.Info().Str("job_id", conflict.JobID).Msg("Scheduled rescan skipped, scan already running")
				return
			}
			a.Logger.Error().Err(err).Msg("Scheduled rescan failed to start")
			return
		}
		a.Logger.Info().Str("job_id", jobID).Msg("Scheduled rescan started")
	})
	if err != nil {
		return fmt.Errorf("invalid scheduler cron expression %q: %w", a.Config.Scheduler.Schedule, err)
	}

	a.scheduler.Start()
	a.Logger.Info().Str("schedule", a.Config.Scheduler.Schedule).Msg("Rescan scheduler started")
	return nil
}

// Close shuts the application down in dependency order: scheduler first so
// no new scans start, then running scans, then storage.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.ScanManager != nil {
		a.ScanManager.Close()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
	}
	a.Logger.Info().Msg("Application stopped")
}
