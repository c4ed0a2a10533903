package sync

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType определяет тип синхронизируемой сущности
type EntityType string

const (
	EntitySpecies    EntityType = "species"
	EntityFossil     EntityType = "fossil"
	EntityCollection EntityType = "collection"
)

// ValidEntityType проверяет, что тип входит в закрытое множество
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntitySpecies, EntityFossil, EntityCollection:
		return true
	}
	return false
}

// RecordStatus статус записи синхронизации
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordCompleted RecordStatus = "completed"
	RecordFailed    RecordStatus = "failed"
)

// BatchStatus статус пакета
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchCompleted BatchStatus = "completed"
)

const (
	// MaxRetryCount - после превышения этого числа неудачных попыток
	// запись переводится в терминальный статус failed
	MaxRetryCount = 3

	// MaxBatchSize верхняя граница размера пакета
	MaxBatchSize = 1000
)

// SyncRecord запись синхронизации: одна локальная мутация сущности
// (создание/обновление/удаление вида, окаменелости или коллекции),
// ожидающая доставки в удаленное хранилище
type SyncRecord struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	BatchID      string       `json:"batch_id,omitempty"`
	EntityType   EntityType   `json:"entity_type"`
	Status       RecordStatus `json:"status"`
	Payload      []byte       `json:"payload"`
	RetryCount   int          `json:"retry_count"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Version      int64        `json:"version"`
}

// NewSyncRecord создает запись со статусом pending и версией 1.
// createdAt и updatedAt получают одно и то же значение.
func NewSyncRecord(userID string, entityType EntityType, payload []byte) (*SyncRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}
	if !ValidEntityType(entityType) {
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrInvalidArgument, entityType)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidArgument)
	}

	now := time.Now().UTC()
	return &SyncRecord{
		ID:         uuid.NewString(),
		UserID:     userID,
		EntityType: entityType,
		Status:     RecordPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}, nil
}

// Validate проверяет инварианты записи (используется при сборке пакета
// и перед доставкой)
func (r *SyncRecord) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidRecord)
	}
	if !ValidEntityType(r.EntityType) {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidRecord, r.EntityType)
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidRecord)
	}
	return nil
}

// IsTerminal сообщает, достигла ли запись терминального статуса
func (r *SyncRecord) IsTerminal() bool {
	return r.Status == RecordCompleted || r.Status == RecordFailed
}

// MarkCompleted переводит запись pending -> completed. Из любого другого
// статуса возвращает ErrInvalidStateTransition без побочных эффектов.
func (r *SyncRecord) MarkCompleted() error {
	if r.Status != RecordPending {
		return fmt.Errorf("%w: mark completed from %q", ErrInvalidStateTransition, r.Status)
	}
	r.Status = RecordCompleted
	r.ErrorMessage = ""
	r.touch()
	return nil
}

// MarkFailed фиксирует неудачную попытку доставки. Счетчик попыток
// увеличивается; после превышения MaxRetryCount запись становится
// терминально failed, иначе остается pending для следующей попытки.
// Причина обязательна.
func (r *SyncRecord) MarkFailed(reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: empty failure reason", ErrInvalidArgument)
	}
	if r.IsTerminal() {
		return fmt.Errorf("%w: mark failed from %q", ErrInvalidStateTransition, r.Status)
	}
	r.RetryCount++
	r.ErrorMessage = reason
	if r.RetryCount > MaxRetryCount {
		r.Status = RecordFailed
	}
	r.touch()
	return nil
}

func (r *SyncRecord) touch() {
	r.Version++
	r.UpdatedAt = time.Now().UTC()
}

// Clone возвращает глубокую копию записи
func (r *SyncRecord) Clone() *SyncRecord {
	cp := *r
	cp.Payload = append([]byte(nil), r.Payload...)
	return &cp
}

// SyncBatch пакет записей с агрегированным отслеживанием завершения
type SyncBatch struct {
	ID          string        `json:"id"`
	Records     []*SyncRecord `json:"records"`
	Status      BatchStatus   `json:"status"`
	FailedCount int           `json:"failed_count"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Version     int64         `json:"version"`
}

// NewSyncBatch собирает пакет из готовых записей и проставляет каждой
// batch_id. Пустой список, превышение MaxBatchSize или невалидная
// запись отклоняются до какой-либо работы.
func NewSyncBatch(records []*SyncRecord) (*SyncBatch, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidArgument)
	}
	if len(records) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d records, limit %d", ErrBatchSizeExceeded, len(records), MaxBatchSize)
	}
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}

	b := &SyncBatch{
		ID:        uuid.NewString(),
		Records:   records,
		Status:    BatchPending,
		CreatedAt: time.Now().UTC(),
		Version:   1,
	}
	for _, rec := range records {
		rec.BatchID = b.ID
	}
	return b, nil
}

// IsComplete пересчитывает FailedCount и возвращает true, когда все
// записи пакета терминальны. Первый переход в completed устанавливает
// CompletedAt ровно один раз; повторные вызовы его не меняют.
func (b *SyncBatch) IsComplete() bool {
	failed := 0
	for _, rec := range b.Records {
		if !rec.IsTerminal() {
			return false
		}
		if rec.Status == RecordFailed {
			failed++
		}
	}

	if failed != b.FailedCount {
		b.FailedCount = failed
		b.Version++
	}
	if b.Status != BatchCompleted {
		b.Status = BatchCompleted
		now := time.Now().UTC()
		b.CompletedAt = &now
		b.Version++
	}
	return true
}

// SyncStats накопительная статистика синхронизации пользователя
type SyncStats struct {
	UserID          string    `json:"user_id"`
	TotalSyncs      int64     `json:"total_syncs"`
	TotalCompleted  int64     `json:"total_completed"`
	TotalFailed     int64     `json:"total_failed"`
	LastSync        time.Time `json:"last_sync"`
	AvgSyncDuration float64   `json:"avg_sync_duration"`
}
