package sync

import (
	"context"
	"time"
)

// Repository интерфейс долговременного хранилища движка синхронизации.
// Хранилище разделяемое: движок не предполагает эксклюзивного доступа,
// поэтому обновления записей идут через оптимистическую проверку версии.
type Repository interface {
	SaveRecord(ctx context.Context, rec *SyncRecord) error
	GetRecordByID(ctx context.Context, id string) (*SyncRecord, error)

	// UpdateRecord применяет изменения только если версия в хранилище
	// равна expectedVersion, иначе возвращает ErrConflictDetected
	UpdateRecord(ctx context.Context, rec *SyncRecord, expectedVersion int64) error

	ListPendingRecords(ctx context.Context, limit int) ([]*SyncRecord, error)
	ListChangedSince(ctx context.Context, userID string, since time.Time, limit int) ([]*SyncRecord, error)

	SaveBatch(ctx context.Context, batch *SyncBatch) error
	GetBatchByID(ctx context.Context, id string) (*SyncBatch, error)
	UpdateBatch(ctx context.Context, batch *SyncBatch) error
	ListPendingBatches(ctx context.Context, limit int) ([]*SyncBatch, error)

	GetSyncStats(ctx context.Context, userID string) (*SyncStats, error)
	IncrementSyncStats(ctx context.Context, userID string, completed, failed int64, duration time.Duration) error
}

// Deliverer доставляет полезную нагрузку записи в каноническое
// хранилище приложения. Реализация обязана быть идемпотентной по
// record id: повторная доставка той же записи не должна дублировать
// сущность.
type Deliverer interface {
	Deliver(ctx context.Context, rec *SyncRecord) error
}

// Metrics счетчики и гистограммы движка; изолируемый в тестах
type Metrics interface {
	ObserveSync(outcome string, d time.Duration)
	ObserveBatch(outcome string, d time.Duration)
	CircuitRejected()
}

// EventPublisher публикует терминальные исходы синхронизации во
// внешнюю шину (опционально)
type EventPublisher interface {
	PublishRecordOutcome(ctx context.Context, rec *SyncRecord) error
	PublishBatchOutcome(ctx context.Context, batch *SyncBatch) error
}
