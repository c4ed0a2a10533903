package client

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/exp/slog"

	"fieldsync/internal/app/client/config"
)

// App клиентское приложение устройства: хранилище, транспорт и
// движок синхронизации, собранные по конфигурации
type App struct {
	cfg       *config.Config
	log       *slog.Logger
	storage   Storage
	transport *HTTPClient
	engine    *Engine
}

func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	storage, err := NewSQLiteStorage(cfg.DataPath)
	if err != nil {
		return nil, fmt.Errorf("open local storage: %w", err)
	}

	transport := NewHTTPClient(cfg, log)

	syncCfg := DefaultSyncConfig()
	syncCfg.Interval = cfg.SyncInterval
	syncCfg.BatchSize = cfg.BatchSize
	syncCfg.Enabled = cfg.AutoSync

	engine := NewEngine(storage, transport, syncCfg, cfg.StatsPath, log)

	app := &App{
		cfg:       cfg,
		log:       log,
		storage:   storage,
		transport: transport,
		engine:    engine,
	}
	app.loadToken()
	return app, nil
}

// Storage доступ к локальному хранилищу для команд CLI
func (a *App) Storage() Storage {
	return a.storage
}

// Engine доступ к движку синхронизации
func (a *App) Engine() *Engine {
	return a.engine
}

// Config текущая конфигурация
func (a *App) Config() *config.Config {
	return a.cfg
}

// SetToken сохраняет токен на диск и передает его транспорту
func (a *App) SetToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNotAuthenticated
	}
	if err := os.WriteFile(a.cfg.TokenPath, []byte(token), 0o600); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	a.transport.SetToken(token)
	return nil
}

// IsAuthenticated сообщает, есть ли у устройства токен
func (a *App) IsAuthenticated() bool {
	return a.transport.token != ""
}

// CheckConnection проверяет доступность сервера
func (a *App) CheckConnection(ctx context.Context) error {
	return a.transport.HealthCheck(ctx)
}

// Sync запускает один проход синхронизации
func (a *App) Sync(ctx context.Context) (*SyncResult, error) {
	if !a.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	return a.engine.Sync(ctx)
}

// RunAutoSync блокирует до отмены ctx, периодически синхронизируясь
func (a *App) RunAutoSync(ctx context.Context) {
	a.engine.StartAutoSync(ctx)
}

// Close освобождает ресурсы приложения
func (a *App) Close() error {
	return a.storage.Close()
}

func (a *App) loadToken() {
	data, err := os.ReadFile(a.cfg.TokenPath)
	if err != nil {
		return
	}
	token := strings.TrimSpace(string(data))
	if token != "" {
		a.transport.SetToken(token)
	}
}
