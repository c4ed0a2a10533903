package sync

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) submitRecordOp() huma.Operation {
	return huma.Operation{
		OperationID:   "sync-submit-record",
		Method:        http.MethodPost,
		Path:          "/api/v1/sync",
		Summary:       "Поставить запись в очередь синхронизации",
		Description:   "Принимает одну мутацию сущности; доставка выполняется асинхронно",
		Tags:          []string{"sync"},
		DefaultStatus: http.StatusAccepted,
		Middlewares:   h.middleware,
	}
}

func (h *Handler) submitBatchOp() huma.Operation {
	return huma.Operation{
		OperationID:   "sync-submit-batch",
		Method:        http.MethodPost,
		Path:          "/api/v1/sync/batch",
		Summary:       "Поставить пакет записей в очередь синхронизации",
		Description:   "Принимает пакет мутаций; частичный отказ отдельных записей допустим",
		Tags:          []string{"sync"},
		DefaultStatus: http.StatusAccepted,
		Middlewares:   h.middleware,
	}
}

func (h *Handler) getRecordOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-get-record",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/{sync_id}",
		Summary:     "Получить состояние записи синхронизации",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) getBatchOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-get-batch",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/batch/{batch_id}",
		Summary:     "Получить состояние пакета",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) getChangesOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-get-changes",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync/changes",
		Summary:     "Получить изменения для скачивания",
		Description: "Возвращает записи пользователя, измененные после указанного времени",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) getStatusOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-get-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/status",
		Summary:     "Получить статус синхронизации",
		Description: "Возвращает агрегатное состояние и статистику пользователя",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}
