package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"golang.org/x/exp/slog"
)

// BatchItem одна запись пакета на входе координатора
type BatchItem struct {
	EntityType EntityType
	Payload    []byte
}

// SubmitBatch собирает пакет, сохраняет его определение и запускает
// обработку в фоне. Превышение лимита размера отклоняется до каких-либо
// побочных эффектов.
func (s *Service) SubmitBatch(ctx context.Context, userID string, items []BatchItem) (*SyncBatch, error) {
	if len(items) > s.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d records, limit %d", ErrBatchSizeExceeded, len(items), s.cfg.MaxBatchSize)
	}

	records := make([]*SyncRecord, 0, len(items))
	for i, item := range items {
		rec, err := NewSyncRecord(userID, item.EntityType, item.Payload)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
	}

	batch, err := NewSyncBatch(records)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("save batch: %w", err)
	}

	go func() {
		bctx, cancel := context.WithTimeout(context.Background(), s.cfg.BatchTimeout)
		defer cancel()
		if err := s.ProcessBatch(bctx, batch); err != nil {
			s.log.Error("background batch sync finished with failures",
				slog.String("batch_id", batch.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	return batch, nil
}

// ProcessBatch синхронизирует пакет целиком: определение пакета уже
// сохранено, записи раздаются конкурентно, каждая проходит полный
// путь надежности независимо. Частичный успех сохраняется: ошибка
// части записей дает ErrBatchProcessingFailed с числом отказов, но
// успешные записи остаются completed.
func (s *Service) ProcessBatch(ctx context.Context, batch *SyncBatch) error {
	if len(batch.Records) > s.cfg.MaxBatchSize {
		return fmt.Errorf("%w: %d records, limit %d", ErrBatchSizeExceeded, len(batch.Records), s.cfg.MaxBatchSize)
	}

	start := time.Now()
	var (
		wg       stdsync.WaitGroup
		mu       stdsync.Mutex
		failures int
	)

	for _, rec := range batch.Records {
		if rec.IsTerminal() {
			continue
		}
		wg.Add(1)
		go func(rec *SyncRecord) {
			defer wg.Done()
			if err := s.SyncRecord(ctx, rec); err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
			}
		}(rec)
	}
	wg.Wait()

	s.refreshBatch(ctx, batch)

	if failures > 0 {
		s.metrics.ObserveBatch("partial_failure", time.Since(start))
		return fmt.Errorf("%w: %d of %d records failed", ErrBatchProcessingFailed, failures, len(batch.Records))
	}
	s.metrics.ObserveBatch("success", time.Since(start))
	return nil
}

// refreshBatch перечитывает записи пакета из хранилища, пересчитывает
// завершенность и сохраняет пакет. Чтение обязательно: конкурентные
// горутины работали с копиями записей.
func (s *Service) refreshBatch(ctx context.Context, batch *SyncBatch) {
	for i, rec := range batch.Records {
		stored, err := s.repo.GetRecordByID(ctx, rec.ID)
		if err != nil {
			s.log.Warn("failed to reload batch record",
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		batch.Records[i] = stored
	}

	if batch.IsComplete() {
		if err := s.repo.UpdateBatch(ctx, batch); err != nil {
			s.log.Error("failed to persist batch completion",
				slog.String("batch_id", batch.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := s.events.PublishBatchOutcome(ctx, batch); err != nil {
			s.log.Warn("failed to publish batch outcome",
				slog.String("batch_id", batch.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Sweep фоновая проверка: подбирает зависшие pending записи и пакеты
// и пытается продвинуть их состояние. Вызывается внешним планировщиком,
// идемпотентна, ошибки только логируются - ожидающего вызывающего нет.
func (s *Service) Sweep(ctx context.Context) {
	records, err := s.repo.ListPendingRecords(ctx, s.cfg.SweepLimit)
	if err != nil {
		s.log.Error("sweep: list pending records", slog.String("error", err.Error()))
		return
	}

	advanced := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		if err := s.SyncRecord(ctx, rec); err != nil {
			if errors.Is(err, ErrCircuitOpen) {
				s.log.Warn("sweep: circuit open, stopping pass")
				break
			}
			s.log.Warn("sweep: record sync failed",
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		advanced++
	}

	batches, err := s.repo.ListPendingBatches(ctx, s.cfg.SweepLimit)
	if err != nil {
		s.log.Error("sweep: list pending batches", slog.String("error", err.Error()))
		return
	}
	for _, batch := range batches {
		if ctx.Err() != nil {
			return
		}
		s.refreshBatch(ctx, batch)
	}

	if advanced > 0 || len(batches) > 0 {
		s.log.Info("sweep pass finished",
			slog.Int("records_advanced", advanced),
			slog.Int("pending_records", len(records)),
			slog.Int("pending_batches", len(batches)),
		)
	}
}
