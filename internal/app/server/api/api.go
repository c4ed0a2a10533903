//поверхность HTTP API движка синхронизации:
//POST /api/v1/sync               # Поставить запись в очередь (auth)
//POST /api/v1/sync/batch         # Поставить пакет в очередь (auth)
//GET  /api/v1/sync/{sync_id}     # Состояние записи (auth)
//GET  /api/v1/sync/batch/{batch_id} # Состояние пакета (auth)
//POST /api/v1/sync/changes       # Изменения после отметки времени (auth)
//GET  /api/v1/sync/status        # Статус и статистика пользователя (auth)
//GET  /health                    # Проверка живости (публичный)

package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	healthAPI "fieldsync/internal/app/server/api/http/health"
	"fieldsync/internal/app/server/api/http/middleware"
	"fieldsync/internal/app/server/api/http/middleware/auth"
	"fieldsync/internal/app/server/api/http/middleware/logger"
	syncAPI "fieldsync/internal/app/server/api/http/sync"
	"fieldsync/internal/config"
	"fieldsync/internal/domain/sync"
)

type Handlers struct {
	Health *healthAPI.Handler
	Sync   *syncAPI.Handler
}

// New создает *chi.Mux со всеми операциями через huma.Register
func New(cfg *config.Config, service sync.Servicer, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()

	humaConfig := huma.DefaultConfig("Fieldsync API", "1.0.0")
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer"},
	}

	API := humachi.New(mux, humaConfig)

	h := handlers(cfg, service, log)
	h.Health.SetupRoutes(API)
	h.Sync.SetupRoutes(API)

	return mux
}

func handlers(cfg *config.Config, service sync.Servicer, log *slog.Logger) *Handlers {
	authMW := auth.New(cfg.Service.Secret, log)
	loggerMW := logger.New(log)
	chain := middleware.NewChain()

	healthHandler := healthAPI.NewHandler(log,
		chain.Use(loggerMW.Middleware()).Build())

	syncHandler := syncAPI.NewHandler(service, log,
		chain.Use(authMW.Middleware()).Use(loggerMW.Middleware()).Build())

	return &Handlers{
		Health: healthHandler,
		Sync:   syncHandler,
	}
}
