// Package server собирает и запускает сервер синхронизации: хранилище,
// движок, HTTP API, служебный порт метрик и фоновый цикл досылки.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	stdsync "sync"
	"syscall"
	"time"

	"golang.org/x/exp/slog"

	"fieldsync/internal/app/server/api"
	"fieldsync/internal/config"
	"fieldsync/internal/domain/sync"
	"fieldsync/internal/infrastructure/metrics"
	"fieldsync/internal/infrastructure/queue"
	"fieldsync/internal/infrastructure/storage/memory"
	"fieldsync/internal/infrastructure/storage/postgres"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg     *config.Config
	log     *slog.Logger
	storage *postgres.Storage
	service *sync.Service
	metrics *metrics.Metrics
	events  *queue.Publisher
}

func NewApp(cfg *config.Config, log *slog.Logger) (*App, error) {
	var (
		storage   *postgres.Storage
		repo      sync.Repository
		deliverer sync.Deliverer
		err       error
	)
	if cfg.DB.Enabled() {
		storage, err = postgres.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("storage init error: %w", err)
		}
		repo = postgres.NewSyncRepository(storage.Pool(), log)
		deliverer = postgres.NewEntityStore(storage.Pool(), log)
	} else {
		// режим без базы: все состояние живет в памяти процесса
		log.Warn("database uri is empty, using in-memory storage")
		repo = memory.New()
		deliverer = memory.NewSink()
	}

	var m *metrics.Metrics
	if cfg.Service.MetricsEnabled {
		m = metrics.New()
	}

	var events *queue.Publisher
	if cfg.Queue.Enabled() {
		events, err = queue.NewPublisher(cfg.Queue, log)
		if err != nil {
			if storage != nil {
				storage.Close()
			}
			return nil, fmt.Errorf("queue init error: %w", err)
		}
	}

	engineCfg := sync.DefaultConfig()
	if cfg.Sync.MaxConcurrent > 0 {
		engineCfg.MaxConcurrent = int64(cfg.Sync.MaxConcurrent)
	}
	if cfg.Sync.BaseDelay > 0 {
		engineCfg.BaseDelay = cfg.Sync.BaseDelay
	}

	var engineMetrics sync.Metrics
	if m != nil {
		engineMetrics = m
	}
	var engineEvents sync.EventPublisher
	if events != nil {
		engineEvents = events
	}
	service := sync.NewService(repo, deliverer, nil, engineMetrics, engineEvents, log, engineCfg)

	return &App{
		cfg:     cfg,
		log:     log,
		storage: storage,
		service: service,
		metrics: m,
		events:  events,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		app.log.Info("shutdown signal received")
		cancelFunc()
	}()
}

func (app *App) Run() error {
	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	app.log.Info("starting app", "address", app.cfg.Service.RunAddress)
	app.initSignalHandler(cancelFunc)

	var wg stdsync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runHTTPServer(ctx, cancelFunc)
	}()

	if app.metrics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.runMetricsServer(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runSweeper(ctx)
	}()

	wg.Wait()
	return app.close()
}

func (app *App) runHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	mux := api.New(app.cfg, app.service, app.log)
	srv := &http.Server{
		Addr:    app.cfg.Service.RunAddress,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.log.Error("http server shutdown error", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.log.Error("http server error", "error", err)
		cancelFunc()
	}
}

func (app *App) runMetricsServer(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.metrics.Handler())
	srv := &http.Server{
		Addr:    app.cfg.Service.MetricsAddress,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	app.log.Info("metrics endpoint listening", "address", app.cfg.Service.MetricsAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		// метрики не роняют приложение
		app.log.Error("metrics server error", "error", err)
	}
}

// runSweeper периодически досылает застрявшие pending записи;
// именно этот цикл доводит повторные отказы до терминального failed
func (app *App) runSweeper(ctx context.Context) {
	interval := app.cfg.Sync.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.service.Sweep(ctx)
		}
	}
}

func (app *App) close() error {
	var errs []error
	if app.events != nil {
		if err := app.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	}
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	app.log.Info("app stopped")
	return errors.Join(errs...)
}
