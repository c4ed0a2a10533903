package sync

import (
	"context"
	"fmt"
	"time"
)

// Servicer операции движка, доступные транспортному слою
type Servicer interface {
	SubmitRecord(ctx context.Context, userID string, entityType EntityType, payload []byte) (*SyncRecord, error)
	SubmitBatch(ctx context.Context, userID string, items []BatchItem) (*SyncBatch, error)
	GetRecord(ctx context.Context, id string) (*SyncRecord, error)
	GetBatch(ctx context.Context, id string) (*SyncBatch, error)
	Changes(ctx context.Context, userID string, since time.Time, limit int) ([]*SyncRecord, error)
	Status(ctx context.Context, userID string) (Status, *SyncStats, error)
}

var _ Servicer = (*Service)(nil)

// GetRecord возвращает запись по идентификатору
func (s *Service) GetRecord(ctx context.Context, id string) (*SyncRecord, error) {
	rec, err := s.repo.GetRecordByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

// GetBatch возвращает пакет вместе с текущими статусами его записей
func (s *Service) GetBatch(ctx context.Context, id string) (*SyncBatch, error) {
	batch, err := s.repo.GetBatchByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	return batch, nil
}

// Changes возвращает записи пользователя, измененные после since;
// потребляется устройствами при скачивании удаленных изменений
func (s *Service) Changes(ctx context.Context, userID string, since time.Time, limit int) ([]*SyncRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}
	if limit <= 0 || limit > s.cfg.MaxBatchSize {
		limit = s.cfg.MaxBatchSize
	}
	records, err := s.repo.ListChangedSince(ctx, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	return records, nil
}

// Status возвращает агрегатное состояние и накопленную статистику
// пользователя
func (s *Service) Status(ctx context.Context, userID string) (Status, *SyncStats, error) {
	stats, err := s.repo.GetSyncStats(ctx, userID)
	if err != nil {
		return Status{}, nil, fmt.Errorf("get sync stats: %w", err)
	}
	return s.tracker.Get(userID), stats, nil
}
