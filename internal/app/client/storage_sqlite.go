package client

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage локальное хранилище на SQLite. WAL позволяет читать
// очередь во время фоновой синхронизации.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage открывает базу по указанному пути и создает схему
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) initTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS local_records (
		id          TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		payload     BLOB NOT NULL,
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL,
		version     INTEGER NOT NULL DEFAULT 1,
		synced      INTEGER NOT NULL DEFAULT 0,
		deleted     INTEGER NOT NULL DEFAULT 0,
		sync_id     TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_local_records_synced ON local_records(synced);
	CREATE INDEX IF NOT EXISTS idx_local_records_entity_type ON local_records(entity_type);
	`
	_, err := s.db.Exec(query)
	return err
}

// SaveRecord вставляет запись или обновляет существующую с тем же id
func (s *SQLiteStorage) SaveRecord(record *LocalRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	if record.Version == 0 {
		record.Version = 1
	}

	query := `
	INSERT INTO local_records (id, entity_type, payload, created_at, updated_at, version, synced, deleted, sync_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		entity_type = excluded.entity_type,
		payload     = excluded.payload,
		updated_at  = excluded.updated_at,
		version     = excluded.version,
		synced      = excluded.synced,
		deleted     = excluded.deleted,
		sync_id     = excluded.sync_id`

	_, err := s.db.Exec(query,
		record.ID, record.EntityType, []byte(record.Payload),
		record.CreatedAt, record.UpdatedAt, record.Version,
		boolToInt(record.Synced), boolToInt(record.Deleted), record.SyncID,
	)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetRecord(id string) (*LocalRecord, error) {
	query := `
	SELECT id, entity_type, payload, created_at, updated_at, version, synced, deleted, sync_id
	FROM local_records WHERE id = ?`

	record, err := scanLocalRecord(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrLocalRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

func (s *SQLiteStorage) ListRecords(filter *RecordFilter) ([]*LocalRecord, error) {
	query := `
	SELECT id, entity_type, payload, created_at, updated_at, version, synced, deleted, sync_id
	FROM local_records WHERE 1=1`
	var args []any

	if filter != nil {
		if filter.EntityType != "" {
			query += " AND entity_type = ?"
			args = append(args, filter.EntityType)
		}
		if filter.OnlyUnsynced {
			query += " AND synced = 0"
		}
		if !filter.ShowDeleted {
			query += " AND deleted = 0"
		}
	}
	query += " ORDER BY updated_at ASC"
	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*LocalRecord
	for rows.Next() {
		record, err := scanLocalRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *SQLiteStorage) UpdateRecord(record *LocalRecord) error {
	record.UpdatedAt = time.Now().UTC()

	query := `
	UPDATE local_records
	SET entity_type = ?, payload = ?, updated_at = ?, version = ?, synced = ?, deleted = ?, sync_id = ?
	WHERE id = ?`

	res, err := s.db.Exec(query,
		record.EntityType, []byte(record.Payload), record.UpdatedAt,
		record.Version, boolToInt(record.Synced), boolToInt(record.Deleted),
		record.SyncID, record.ID,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrLocalRecordNotFound
	}
	return nil
}

// DeleteRecord помечает запись удаленной; физическое удаление
// откладывается до подтверждения сервером
func (s *SQLiteStorage) DeleteRecord(id string) error {
	query := `
	UPDATE local_records
	SET deleted = 1, synced = 0, version = version + 1, updated_at = ?
	WHERE id = ?`

	res, err := s.db.Exec(query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrLocalRecordNotFound
	}
	return nil
}

func (s *SQLiteStorage) CountRecords() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM local_records WHERE deleted = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocalRecord(row rowScanner) (*LocalRecord, error) {
	var record LocalRecord
	var payload []byte
	var synced, deleted int

	err := row.Scan(
		&record.ID, &record.EntityType, &payload,
		&record.CreatedAt, &record.UpdatedAt, &record.Version,
		&synced, &deleted, &record.SyncID,
	)
	if err != nil {
		return nil, err
	}
	record.Payload = payload
	record.Synced = synced != 0
	record.Deleted = deleted != 0
	return &record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
