package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/sync"
)

// EntityStore применяет доставленные записи к основной таблице сущностей.
// Upsert по id записи делает доставку идемпотентной: повтор после сбоя
// между записью и подтверждением безопасен.
type EntityStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

var _ sync.Deliverer = (*EntityStore)(nil)

func NewEntityStore(pool *pgxpool.Pool, log *slog.Logger) *EntityStore {
	return &EntityStore{
		pool: pool,
		log:  log.With("component", "entity_store"),
	}
}

func (s *EntityStore) Deliver(ctx context.Context, rec *sync.SyncRecord) error {
	const query = `
		INSERT INTO synced_entities (record_id, user_id, entity_type, payload, applied_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (record_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			applied_at = NOW()`

	_, err := s.pool.Exec(ctx, query, rec.ID, rec.UserID, rec.EntityType, rec.Payload)
	if err != nil {
		s.log.Error("failed to apply entity",
			"record_id", rec.ID, "entity_type", rec.EntityType, "error", err)
		return fmt.Errorf("apply entity: %w", err)
	}
	return nil
}
