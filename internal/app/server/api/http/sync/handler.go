package sync

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"fieldsync/internal/app/server/api/http/middleware/auth"
	"fieldsync/internal/domain/sync"
)

type Handler struct {
	service    sync.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service sync.Servicer, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.submitRecordOp(), h.submitRecord)
	huma.Register(api, h.submitBatchOp(), h.submitBatch)
	huma.Register(api, h.getStatusOp(), h.getStatus)
	huma.Register(api, h.getChangesOp(), h.getChanges)
	huma.Register(api, h.getBatchOp(), h.getBatch)
	huma.Register(api, h.getRecordOp(), h.getRecord)
}

func (h *Handler) submitRecord(ctx context.Context, input *submitRecordInput) (*submitRecordOutput, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	rec, err := h.service.SubmitRecord(ctx, userID,
		sync.EntityType(input.Body.EntityType), input.Body.Payload)
	if err != nil {
		return nil, mapError(err)
	}

	return &submitRecordOutput{
		Body: SubmitRecordResponse{
			Status: "Accepted",
			Record: newRecordView(rec),
		},
	}, nil
}

func (h *Handler) submitBatch(ctx context.Context, input *submitBatchInput) (*submitBatchOutput, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	items := make([]sync.BatchItem, 0, len(input.Body.Items))
	for _, item := range input.Body.Items {
		items = append(items, sync.BatchItem{
			EntityType: sync.EntityType(item.EntityType),
			Payload:    item.Payload,
		})
	}

	batch, err := h.service.SubmitBatch(ctx, userID, items)
	if err != nil {
		return nil, mapError(err)
	}

	return &submitBatchOutput{
		Body: SubmitBatchResponse{
			Status: "Accepted",
			Batch:  newBatchView(batch),
		},
	}, nil
}

func (h *Handler) getRecord(ctx context.Context, input *getRecordInput) (*getRecordOutput, error) {
	if _, ok := auth.GetUserID(ctx); !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	rec, err := h.service.GetRecord(ctx, input.SyncID)
	if err != nil {
		return nil, mapError(err)
	}

	return &getRecordOutput{
		Body: GetRecordResponse{
			Status: "Ok",
			Record: newRecordView(rec),
		},
	}, nil
}

func (h *Handler) getBatch(ctx context.Context, input *getBatchInput) (*getBatchOutput, error) {
	if _, ok := auth.GetUserID(ctx); !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	batch, err := h.service.GetBatch(ctx, input.BatchID)
	if err != nil {
		return nil, mapError(err)
	}

	return &getBatchOutput{
		Body: GetBatchResponse{
			Status: "Ok",
			Batch:  newBatchView(batch),
		},
	}, nil
}

func (h *Handler) getChanges(ctx context.Context, input *getChangesInput) (*getChangesOutput, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	records, err := h.service.Changes(ctx, userID, input.Body.LastSyncTime, input.Body.Limit)
	if err != nil {
		return nil, mapError(err)
	}

	resp := GetChangesResponse{
		Status:     "Ok",
		ServerTime: time.Now().UTC(),
	}
	for _, rec := range records {
		resp.Records = append(resp.Records, *newRecordView(rec))
	}
	return &getChangesOutput{Body: resp}, nil
}

func (h *Handler) getStatus(ctx context.Context, _ *getStatusInput) (*getStatusOutput, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	status, stats, err := h.service.Status(ctx, userID)
	if err != nil {
		return nil, mapError(err)
	}

	view := &StatusView{
		State: string(status.State),
		Cause: status.Cause,
		Stats: stats,
	}
	if status.State == sync.StateSuccess {
		view.Completed = status.Summary.Completed
		view.Failed = status.Summary.Failed
		at := status.Summary.At
		view.At = &at
	}

	return &getStatusOutput{
		Body: GetStatusResponse{
			Status: "Ok",
			Data:   view,
		},
	}, nil
}

// mapError переводит доменные ошибки в HTTP статусы
func mapError(err error) error {
	switch {
	case errors.Is(err, sync.ErrRecordNotFound), errors.Is(err, sync.ErrBatchNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, sync.ErrBatchSizeExceeded):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, sync.ErrInvalidArgument), errors.Is(err, sync.ErrInvalidRecord):
		return huma.Error400BadRequest(err.Error())
	default:
		return err
	}
}
