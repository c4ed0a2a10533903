package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/sync"
)

// SyncRepository постгресовая реализация хранилища движка синхронизации.
// Версионирование записей обеспечивает условие version = $n в UPDATE:
// конкурирующее обновление получает ноль затронутых строк.
type SyncRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

var _ sync.Repository = (*SyncRepository)(nil)

func NewSyncRepository(pool *pgxpool.Pool, log *slog.Logger) *SyncRepository {
	return &SyncRepository{
		pool: pool,
		log:  log.With("component", "sync_repository"),
	}
}

func (r *SyncRepository) SaveRecord(ctx context.Context, rec *sync.SyncRecord) error {
	const query = `
		INSERT INTO sync_records (id, user_id, batch_id, entity_type, status, payload,
		                          retry_count, error_message, created_at, updated_at, version)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.UserID, rec.BatchID, rec.EntityType, rec.Status, rec.Payload,
		rec.RetryCount, rec.ErrorMessage, rec.CreatedAt, rec.UpdatedAt, rec.Version,
	)
	if err != nil {
		r.log.Error("failed to save sync record", "record_id", rec.ID, "error", err)
		return fmt.Errorf("save sync record: %w", err)
	}
	return nil
}

func (r *SyncRepository) GetRecordByID(ctx context.Context, id string) (*sync.SyncRecord, error) {
	const query = `
		SELECT id, user_id, COALESCE(batch_id, ''), entity_type, status, payload,
		       retry_count, error_message, created_at, updated_at, version
		FROM sync_records
		WHERE id = $1`

	rec, err := r.scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sync.ErrRecordNotFound
		}
		r.log.Error("failed to get sync record", "record_id", id, "error", err)
		return nil, fmt.Errorf("get sync record: %w", err)
	}
	return rec, nil
}

func (r *SyncRepository) UpdateRecord(ctx context.Context, rec *sync.SyncRecord, expectedVersion int64) error {
	const query = `
		UPDATE sync_records
		SET status = $1, retry_count = $2, error_message = $3,
		    payload = $4, updated_at = $5, version = $6
		WHERE id = $7 AND version = $8`

	result, err := r.pool.Exec(ctx, query,
		rec.Status, rec.RetryCount, rec.ErrorMessage,
		rec.Payload, rec.UpdatedAt, rec.Version,
		rec.ID, expectedVersion,
	)
	if err != nil {
		r.log.Error("failed to update sync record", "record_id", rec.ID, "error", err)
		return fmt.Errorf("update sync record: %w", err)
	}
	if result.RowsAffected() == 0 {
		// либо записи нет, либо версия ушла вперед
		var current int64
		err = r.pool.QueryRow(ctx, `SELECT version FROM sync_records WHERE id = $1`, rec.ID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return sync.ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("update sync record: %w", err)
		}
		return fmt.Errorf("%w: record %s at version %d, expected %d",
			sync.ErrConflictDetected, rec.ID, current, expectedVersion)
	}
	return nil
}

func (r *SyncRepository) ListPendingRecords(ctx context.Context, limit int) ([]*sync.SyncRecord, error) {
	const query = `
		SELECT id, user_id, COALESCE(batch_id, ''), entity_type, status, payload,
		       retry_count, error_message, created_at, updated_at, version
		FROM sync_records
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		r.log.Error("failed to list pending records", "error", err)
		return nil, fmt.Errorf("list pending records: %w", err)
	}
	defer rows.Close()

	return r.scanRecords(rows)
}

func (r *SyncRepository) ListChangedSince(ctx context.Context, userID string, since time.Time, limit int) ([]*sync.SyncRecord, error) {
	const query = `
		SELECT id, user_id, COALESCE(batch_id, ''), entity_type, status, payload,
		       retry_count, error_message, created_at, updated_at, version
		FROM sync_records
		WHERE user_id = $1 AND updated_at > $2
		ORDER BY updated_at ASC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, userID, since, limit)
	if err != nil {
		r.log.Error("failed to list changed records",
			"user_id", userID, "since", since, "error", err)
		return nil, fmt.Errorf("list changed records: %w", err)
	}
	defer rows.Close()

	return r.scanRecords(rows)
}

func (r *SyncRepository) SaveBatch(ctx context.Context, batch *sync.SyncBatch) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save batch: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const batchQuery = `
		INSERT INTO sync_batches (id, status, failed_count, created_at, completed_at, version)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = tx.Exec(ctx, batchQuery,
		batch.ID, batch.Status, batch.FailedCount, batch.CreatedAt, batch.CompletedAt, batch.Version)
	if err != nil {
		r.log.Error("failed to save batch", "batch_id", batch.ID, "error", err)
		return fmt.Errorf("save batch: %w", err)
	}

	const recordQuery = `
		INSERT INTO sync_records (id, user_id, batch_id, entity_type, status, payload,
		                          retry_count, error_message, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	for _, rec := range batch.Records {
		_, err = tx.Exec(ctx, recordQuery,
			rec.ID, rec.UserID, rec.BatchID, rec.EntityType, rec.Status, rec.Payload,
			rec.RetryCount, rec.ErrorMessage, rec.CreatedAt, rec.UpdatedAt, rec.Version)
		if err != nil {
			r.log.Error("failed to save batch record",
				"batch_id", batch.ID, "record_id", rec.ID, "error", err)
			return fmt.Errorf("save batch record: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *SyncRepository) GetBatchByID(ctx context.Context, id string) (*sync.SyncBatch, error) {
	const query = `
		SELECT id, status, failed_count, created_at, completed_at, version
		FROM sync_batches
		WHERE id = $1`

	batch := &sync.SyncBatch{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&batch.ID, &batch.Status, &batch.FailedCount,
		&batch.CreatedAt, &batch.CompletedAt, &batch.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sync.ErrBatchNotFound
		}
		r.log.Error("failed to get batch", "batch_id", id, "error", err)
		return nil, fmt.Errorf("get batch: %w", err)
	}

	const recordsQuery = `
		SELECT id, user_id, COALESCE(batch_id, ''), entity_type, status, payload,
		       retry_count, error_message, created_at, updated_at, version
		FROM sync_records
		WHERE batch_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, recordsQuery, id)
	if err != nil {
		r.log.Error("failed to get batch records", "batch_id", id, "error", err)
		return nil, fmt.Errorf("get batch records: %w", err)
	}
	defer rows.Close()

	batch.Records, err = r.scanRecords(rows)
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *SyncRepository) UpdateBatch(ctx context.Context, batch *sync.SyncBatch) error {
	const query = `
		UPDATE sync_batches
		SET status = $1, failed_count = $2, completed_at = $3, version = $4
		WHERE id = $5`

	result, err := r.pool.Exec(ctx, query,
		batch.Status, batch.FailedCount, batch.CompletedAt, batch.Version, batch.ID)
	if err != nil {
		r.log.Error("failed to update batch", "batch_id", batch.ID, "error", err)
		return fmt.Errorf("update batch: %w", err)
	}
	if result.RowsAffected() == 0 {
		return sync.ErrBatchNotFound
	}
	return nil
}

func (r *SyncRepository) ListPendingBatches(ctx context.Context, limit int) ([]*sync.SyncBatch, error) {
	const query = `
		SELECT id FROM sync_batches
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		r.log.Error("failed to list pending batches", "error", err)
		return nil, fmt.Errorf("list pending batches: %w", err)
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan batch id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending batches: %w", err)
	}

	batches := make([]*sync.SyncBatch, 0, len(ids))
	for _, id := range ids {
		batch, err := r.GetBatchByID(ctx, id)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func (r *SyncRepository) GetSyncStats(ctx context.Context, userID string) (*sync.SyncStats, error) {
	const query = `
		SELECT user_id, total_syncs, total_completed, total_failed, last_sync, avg_sync_duration
		FROM sync_stats
		WHERE user_id = $1`

	stats := &sync.SyncStats{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&stats.UserID, &stats.TotalSyncs, &stats.TotalCompleted,
		&stats.TotalFailed, &stats.LastSync, &stats.AvgSyncDuration,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &sync.SyncStats{UserID: userID}, nil
		}
		r.log.Error("failed to get sync stats", "user_id", userID, "error", err)
		return nil, fmt.Errorf("get sync stats: %w", err)
	}
	return stats, nil
}

func (r *SyncRepository) IncrementSyncStats(ctx context.Context, userID string, completed, failed int64, duration time.Duration) error {
	// скользящее среднее длительности пересчитывается на стороне БД
	const query = `
		INSERT INTO sync_stats (user_id, total_syncs, total_completed, total_failed, last_sync, avg_sync_duration)
		VALUES ($1, 1, $2, $3, NOW(), $4)
		ON CONFLICT (user_id) DO UPDATE SET
			total_syncs = sync_stats.total_syncs + 1,
			total_completed = sync_stats.total_completed + EXCLUDED.total_completed,
			total_failed = sync_stats.total_failed + EXCLUDED.total_failed,
			last_sync = NOW(),
			avg_sync_duration = (sync_stats.avg_sync_duration * sync_stats.total_syncs + EXCLUDED.avg_sync_duration)
				/ (sync_stats.total_syncs + 1)`

	_, err := r.pool.Exec(ctx, query, userID, completed, failed, duration.Seconds())
	if err != nil {
		r.log.Error("failed to increment sync stats", "user_id", userID, "error", err)
		return fmt.Errorf("increment sync stats: %w", err)
	}
	return nil
}

// Вспомогательные методы
func (r *SyncRepository) scanRecords(rows pgx.Rows) ([]*sync.SyncRecord, error) {
	var records []*sync.SyncRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *SyncRepository) scanRecord(row pgx.Row) (*sync.SyncRecord, error) {
	rec := &sync.SyncRecord{}
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.BatchID, &rec.EntityType, &rec.Status, &rec.Payload,
		&rec.RetryCount, &rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt, &rec.Version,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
