package sync

import (
	"fmt"

	"golang.org/x/exp/slog"
)

// Resolution итог сравнения локальной и удаленной версий
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
)

// Resolver разрешает расхождение локальной и удаленной версий одной
// логической сущности по правилу last-write-wins
type Resolver struct {
	log *slog.Logger
}

// NewResolver создает резолвер конфликтов
func NewResolver(log *slog.Logger) *Resolver {
	return &Resolver{log: log.With(slog.String("component", "conflict_resolver"))}
}

// Resolve выбирает победителя по updated_at и возвращает слитую запись.
// Версия результата всегда max(local, remote)+1, а не копия победителя:
// версии обязаны строго расти через слияния. При точном равенстве
// updated_at детерминированно побеждает удаленная сторона - ее уже
// видят остальные устройства, и предпочтение remote сводит реплики
// без дополнительного обмена.
func (r *Resolver) Resolve(local, remote *SyncRecord) (*SyncRecord, Resolution, error) {
	if local == nil || remote == nil {
		return nil, "", fmt.Errorf("%w: nil record in conflict", ErrInvalidArgument)
	}
	if local.ID != remote.ID {
		return nil, "", fmt.Errorf("%w: conflict between different records %s and %s",
			ErrInvalidArgument, local.ID, remote.ID)
	}

	winner, resolution := remote, ResolutionRemote
	if local.UpdatedAt.After(remote.UpdatedAt) {
		winner, resolution = local, ResolutionLocal
	}

	merged := winner.Clone()
	merged.Version = maxVersion(local.Version, remote.Version) + 1
	// слитая запись уходит на повторную синхронизацию с чистым счетчиком
	merged.Status = RecordPending
	merged.RetryCount = 0
	merged.ErrorMessage = ""

	r.log.Debug("conflict resolved",
		slog.String("record_id", merged.ID),
		slog.String("resolution", string(resolution)),
		slog.Int64("merged_version", merged.Version),
	)
	return merged, resolution, nil
}

func maxVersion(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
