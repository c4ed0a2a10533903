package sync

import (
	"encoding/json"
	"time"

	"fieldsync/internal/domain/sync"
)

// Request/Response структуры для SubmitRecord
type submitRecordInput struct {
	Body SubmitRecordRequest
}

type submitRecordOutput struct {
	Body SubmitRecordResponse
}

type SubmitRecordRequest struct {
	EntityType string          `json:"entity_type" enum:"species,fossil,collection" doc:"Тип синхронизируемой сущности"`
	Payload    json.RawMessage `json:"payload" doc:"Снимок сущности в формате приложения"`
}

type SubmitRecordResponse struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Record *RecordView `json:"record,omitempty"`
}

// Request/Response для SubmitBatch
type submitBatchInput struct {
	Body SubmitBatchRequest
}

type submitBatchOutput struct {
	Body SubmitBatchResponse
}

type SubmitBatchRequest struct {
	Items []SubmitRecordRequest `json:"items" minItems:"1"`
}

type SubmitBatchResponse struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Batch  *BatchView `json:"batch,omitempty"`
}

// Request/Response для GetRecord
type getRecordInput struct {
	SyncID string `path:"sync_id"`
}

type getRecordOutput struct {
	Body GetRecordResponse
}

type GetRecordResponse struct {
	Status string      `json:"status"`
	Record *RecordView `json:"record,omitempty"`
}

// Request/Response для GetBatch
type getBatchInput struct {
	BatchID string `path:"batch_id"`
}

type getBatchOutput struct {
	Body GetBatchResponse
}

type GetBatchResponse struct {
	Status string     `json:"status"`
	Batch  *BatchView `json:"batch,omitempty"`
}

// Request/Response для GetChanges
type getChangesInput struct {
	Body GetChangesRequest
}

type getChangesOutput struct {
	Body GetChangesResponse
}

type GetChangesRequest struct {
	LastSyncTime time.Time `json:"last_sync_time" example:"2026-01-01T12:00:00Z" format:"date-time"`
	Limit        int       `json:"limit" minimum:"1" maximum:"1000" default:"100"`
}

type GetChangesResponse struct {
	Status     string       `json:"status"`
	Records    []RecordView `json:"records,omitempty"`
	ServerTime time.Time    `json:"server_time"`
}

// Request/Response для GetStatus
type getStatusInput struct {
}

type getStatusOutput struct {
	Body GetStatusResponse
}

type GetStatusResponse struct {
	Status string      `json:"status"`
	Data   *StatusView `json:"data,omitempty"`
}

// Общие структуры данных
type RecordView struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	BatchID      string          `json:"batch_id,omitempty"`
	EntityType   string          `json:"entity_type"`
	Status       string          `json:"status" enum:"pending,completed,failed"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	RetryCount   int             `json:"retry_count"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Version      int64           `json:"version"`
}

type BatchView struct {
	ID          string       `json:"id"`
	Status      string       `json:"status" enum:"pending,completed"`
	Total       int          `json:"total"`
	FailedCount int          `json:"failed_count"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Records     []RecordView `json:"records,omitempty"`
}

type StatusView struct {
	State     string          `json:"state" enum:"idle,syncing,success,error"`
	Completed int             `json:"completed,omitempty"`
	Failed    int             `json:"failed,omitempty"`
	At        *time.Time      `json:"at,omitempty"`
	Cause     string          `json:"cause,omitempty"`
	Stats     *sync.SyncStats `json:"stats,omitempty"`
}

func newRecordView(rec *sync.SyncRecord) *RecordView {
	return &RecordView{
		ID:           rec.ID,
		UserID:       rec.UserID,
		BatchID:      rec.BatchID,
		EntityType:   string(rec.EntityType),
		Status:       string(rec.Status),
		Payload:      json.RawMessage(rec.Payload),
		RetryCount:   rec.RetryCount,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		Version:      rec.Version,
	}
}

func newBatchView(batch *sync.SyncBatch) *BatchView {
	view := &BatchView{
		ID:          batch.ID,
		Status:      string(batch.Status),
		Total:       len(batch.Records),
		FailedCount: batch.FailedCount,
		CreatedAt:   batch.CreatedAt,
		CompletedAt: batch.CompletedAt,
	}
	for _, rec := range batch.Records {
		view.Records = append(view.Records, *newRecordView(rec))
	}
	return view
}
