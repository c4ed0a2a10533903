// Package client реализует офлайн-устройство: локальную очередь
// изменений (outbox), HTTP-транспорт до сервера синхронизации и
// движок двусторонней синхронизации с разрешением конфликтов.
package client

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrLocalRecordNotFound локальная запись не найдена
	ErrLocalRecordNotFound = errors.New("local record not found")

	// ErrSyncInProgress синхронизация уже выполняется
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrSyncThrottled с прошлого прохода прошло меньше минимального
	// интервала
	ErrSyncThrottled = errors.New("sync attempted too soon")

	// ErrNotAuthenticated токен отсутствует или пуст
	ErrNotAuthenticated = errors.New("not authenticated")
)

// LocalRecord локальный снимок сущности в очереди на отправку.
// Synced=false означает, что изменение еще не подтверждено сервером.
type LocalRecord struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Version    int64           `json:"version"`
	Synced     bool            `json:"synced"`
	Deleted    bool            `json:"deleted"`
	SyncID     string          `json:"sync_id,omitempty"`
}

// RecordFilter параметры выборки локальных записей
type RecordFilter struct {
	EntityType   string
	OnlyUnsynced bool
	ShowDeleted  bool
	Limit        int
}

// Storage локальное хранилище устройства
type Storage interface {
	SaveRecord(record *LocalRecord) error
	GetRecord(id string) (*LocalRecord, error)
	ListRecords(filter *RecordFilter) ([]*LocalRecord, error)
	UpdateRecord(record *LocalRecord) error
	DeleteRecord(id string) error
	CountRecords() (int, error)
	Close() error
}
