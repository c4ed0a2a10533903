// Package memory хранилище движка синхронизации в памяти: режим
// разработки и тестовые стенды. Семантика версий совпадает с
// постгресовой реализацией - обновление записи проходит только при
// совпадении ожидаемой версии.
package memory

import (
	"context"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"fieldsync/internal/domain/sync"
)

type Store struct {
	mu      stdsync.Mutex
	records map[string]*sync.SyncRecord
	batches map[string]*sync.SyncBatch
	stats   map[string]*sync.SyncStats
}

var _ sync.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		records: make(map[string]*sync.SyncRecord),
		batches: make(map[string]*sync.SyncBatch),
		stats:   make(map[string]*sync.SyncStats),
	}
}

func (s *Store) SaveRecord(_ context.Context, rec *sync.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *Store) GetRecordByID(_ context.Context, id string) (*sync.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, sync.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) UpdateRecord(_ context.Context, rec *sync.SyncRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[rec.ID]
	if !ok {
		return sync.ErrRecordNotFound
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: record %s at version %d, expected %d",
			sync.ErrConflictDetected, rec.ID, cur.Version, expectedVersion)
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *Store) ListPendingRecords(_ context.Context, limit int) ([]*sync.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*sync.SyncRecord, 0, limit)
	for _, rec := range s.records {
		if rec.Status == sync.RecordPending {
			out = append(out, rec.Clone())
		}
	}
	// стабильный порядок: старые изменения первыми
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListChangedSince(_ context.Context, userID string, since time.Time, limit int) ([]*sync.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*sync.SyncRecord, 0, limit)
	for _, rec := range s.records {
		if rec.UserID == userID && rec.UpdatedAt.After(since) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SaveBatch(ctx context.Context, batch *sync.SyncBatch) error {
	s.mu.Lock()
	s.batches[batch.ID] = cloneBatch(batch)
	s.mu.Unlock()
	for _, rec := range batch.Records {
		if err := s.SaveRecord(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetBatchByID(ctx context.Context, id string) (*sync.SyncBatch, error) {
	s.mu.Lock()
	batch, ok := s.batches[id]
	if !ok {
		s.mu.Unlock()
		return nil, sync.ErrBatchNotFound
	}
	out := cloneBatch(batch)
	s.mu.Unlock()

	// записи пакета отдаются в актуальном состоянии
	for i, rec := range out.Records {
		stored, err := s.GetRecordByID(ctx, rec.ID)
		if err != nil {
			continue
		}
		out.Records[i] = stored
	}
	return out, nil
}

func (s *Store) UpdateBatch(_ context.Context, batch *sync.SyncBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batch.ID]; !ok {
		return sync.ErrBatchNotFound
	}
	s.batches[batch.ID] = cloneBatch(batch)
	return nil
}

func (s *Store) ListPendingBatches(ctx context.Context, limit int) ([]*sync.SyncBatch, error) {
	s.mu.Lock()
	ids := make([]string, 0, limit)
	for id, batch := range s.batches {
		if batch.Status == sync.BatchPending {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*sync.SyncBatch, 0, len(ids))
	for _, id := range ids {
		batch, err := s.GetBatchByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, batch)
	}
	return out, nil
}

func (s *Store) GetSyncStats(_ context.Context, userID string) (*sync.SyncStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[userID]; ok {
		cp := *st
		return &cp, nil
	}
	return &sync.SyncStats{UserID: userID}, nil
}

func (s *Store) IncrementSyncStats(_ context.Context, userID string, completed, failed int64, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[userID]
	if !ok {
		st = &sync.SyncStats{UserID: userID}
		s.stats[userID] = st
	}
	st.TotalSyncs++
	st.TotalCompleted += completed
	st.TotalFailed += failed
	st.LastSync = time.Now().UTC()
	// скользящее среднее длительности
	st.AvgSyncDuration = (st.AvgSyncDuration*float64(st.TotalSyncs-1) + duration.Seconds()) / float64(st.TotalSyncs)
	return nil
}

func cloneBatch(b *sync.SyncBatch) *sync.SyncBatch {
	cp := *b
	cp.Records = make([]*sync.SyncRecord, len(b.Records))
	for i, rec := range b.Records {
		cp.Records[i] = rec.Clone()
	}
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Sink принимающая сторона доставки для режима разработки: складывает
// полезные нагрузки в память и всегда успешна
type Sink struct {
	mu      stdsync.Mutex
	applied map[string][]byte
}

var _ sync.Deliverer = (*Sink)(nil)

func NewSink() *Sink {
	return &Sink{applied: make(map[string][]byte)}
}

func (s *Sink) Deliver(_ context.Context, rec *sync.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied[rec.ID] = append([]byte(nil), rec.Payload...)
	return nil
}

// Applied возвращает число доставленных записей
func (s *Sink) Applied() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}
