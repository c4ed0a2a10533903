package client

import (
	"sort"
	stdsync "sync"
	"time"
)

// MemoryStorage хранилище в памяти для тестов и режима без диска
type MemoryStorage struct {
	mu      stdsync.Mutex
	records map[string]*LocalRecord
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: make(map[string]*LocalRecord)}
}

func (s *MemoryStorage) SaveRecord(record *LocalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	if record.Version == 0 {
		record.Version = 1
	}
	s.records[record.ID] = cloneLocal(record)
	return nil
}

func (s *MemoryStorage) GetRecord(id string) (*LocalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrLocalRecordNotFound
	}
	return cloneLocal(record), nil
}

func (s *MemoryStorage) ListRecords(filter *RecordFilter) ([]*LocalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []*LocalRecord
	for _, record := range s.records {
		if filter != nil {
			if filter.EntityType != "" && record.EntityType != filter.EntityType {
				continue
			}
			if filter.OnlyUnsynced && record.Synced {
				continue
			}
			if !filter.ShowDeleted && record.Deleted {
				continue
			}
		} else if record.Deleted {
			continue
		}
		records = append(records, cloneLocal(record))
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.Before(records[j].UpdatedAt)
	})
	if filter != nil && filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

func (s *MemoryStorage) UpdateRecord(record *LocalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ID]; !ok {
		return ErrLocalRecordNotFound
	}
	record.UpdatedAt = time.Now().UTC()
	s.records[record.ID] = cloneLocal(record)
	return nil
}

func (s *MemoryStorage) DeleteRecord(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return ErrLocalRecordNotFound
	}
	record.Deleted = true
	record.Synced = false
	record.Version++
	record.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStorage) CountRecords() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, record := range s.records {
		if !record.Deleted {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

func cloneLocal(record *LocalRecord) *LocalRecord {
	cp := *record
	cp.Payload = append([]byte(nil), record.Payload...)
	return &cp
}
