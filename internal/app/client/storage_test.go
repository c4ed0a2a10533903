package client

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// оба бэкенда должны вести себя одинаково
func storages(t *testing.T) map[string]Storage {
	t.Helper()

	sqlite, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Storage{
		"sqlite": sqlite,
		"memory": NewMemoryStorage(),
	}
}

func TestStorage_SaveAndGet(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			record := &LocalRecord{
				ID:         "rec-1",
				EntityType: "species",
				Payload:    []byte(`{"name":"Vulpes vulpes"}`),
			}
			require.NoError(t, storage.SaveRecord(record))

			got, err := storage.GetRecord("rec-1")
			require.NoError(t, err)
			assert.Equal(t, "species", got.EntityType)
			assert.JSONEq(t, `{"name":"Vulpes vulpes"}`, string(got.Payload))
			assert.Equal(t, int64(1), got.Version)
			assert.False(t, got.Synced)
			assert.False(t, got.CreatedAt.IsZero())

			_, err = storage.GetRecord("missing")
			assert.ErrorIs(t, err, ErrLocalRecordNotFound)
		})
	}
}

func TestStorage_ListUnsynced(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now().UTC().Add(-time.Hour)
			require.NoError(t, storage.SaveRecord(&LocalRecord{
				ID: "old", EntityType: "species", Payload: []byte(`{}`), UpdatedAt: base,
			}))
			require.NoError(t, storage.SaveRecord(&LocalRecord{
				ID: "new", EntityType: "fossil", Payload: []byte(`{}`), UpdatedAt: base.Add(time.Minute),
			}))
			require.NoError(t, storage.SaveRecord(&LocalRecord{
				ID: "done", EntityType: "fossil", Payload: []byte(`{}`),
				UpdatedAt: base.Add(2 * time.Minute), Synced: true,
			}))

			records, err := storage.ListRecords(&RecordFilter{OnlyUnsynced: true})
			require.NoError(t, err)
			require.Len(t, records, 2)
			// старые изменения уходят первыми
			assert.Equal(t, "old", records[0].ID)
			assert.Equal(t, "new", records[1].ID)

			records, err = storage.ListRecords(&RecordFilter{EntityType: "fossil"})
			require.NoError(t, err)
			assert.Len(t, records, 2)

			records, err = storage.ListRecords(&RecordFilter{OnlyUnsynced: true, Limit: 1})
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "old", records[0].ID)
		})
	}
}

func TestStorage_DeleteKeepsTombstone(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, storage.SaveRecord(&LocalRecord{
				ID: "rec-1", EntityType: "collection", Payload: []byte(`{}`), Synced: true,
			}))
			require.NoError(t, storage.DeleteRecord("rec-1"))

			// удаление снова ставит запись в очередь на отправку
			got, err := storage.GetRecord("rec-1")
			require.NoError(t, err)
			assert.True(t, got.Deleted)
			assert.False(t, got.Synced)
			assert.Equal(t, int64(2), got.Version)

			records, err := storage.ListRecords(nil)
			require.NoError(t, err)
			assert.Empty(t, records)

			records, err = storage.ListRecords(&RecordFilter{ShowDeleted: true})
			require.NoError(t, err)
			assert.Len(t, records, 1)

			count, err := storage.CountRecords()
			require.NoError(t, err)
			assert.Equal(t, 0, count)

			assert.ErrorIs(t, storage.DeleteRecord("missing"), ErrLocalRecordNotFound)
		})
	}
}

func TestStorage_Update(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, storage.SaveRecord(&LocalRecord{
				ID: "rec-1", EntityType: "species", Payload: []byte(`{"v":1}`),
			}))

			record, err := storage.GetRecord("rec-1")
			require.NoError(t, err)
			record.Payload = []byte(`{"v":2}`)
			record.Version++
			record.Synced = true
			record.SyncID = "srv-1"
			require.NoError(t, storage.UpdateRecord(record))

			got, err := storage.GetRecord("rec-1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":2}`, string(got.Payload))
			assert.Equal(t, int64(2), got.Version)
			assert.Equal(t, "srv-1", got.SyncID)

			assert.ErrorIs(t, storage.UpdateRecord(&LocalRecord{ID: "missing"}), ErrLocalRecordNotFound)
		})
	}
}
