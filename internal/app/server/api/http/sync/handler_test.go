package sync

import (
	"context"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"fieldsync/internal/app/server/api/http/middleware/auth"
	"fieldsync/internal/domain/sync"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) SubmitRecord(ctx context.Context, userID string, entityType sync.EntityType, payload []byte) (*sync.SyncRecord, error) {
	args := m.Called(ctx, userID, entityType, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sync.SyncRecord), args.Error(1)
}

func (m *MockService) SubmitBatch(ctx context.Context, userID string, items []sync.BatchItem) (*sync.SyncBatch, error) {
	args := m.Called(ctx, userID, items)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sync.SyncBatch), args.Error(1)
}

func (m *MockService) GetRecord(ctx context.Context, id string) (*sync.SyncRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sync.SyncRecord), args.Error(1)
}

func (m *MockService) GetBatch(ctx context.Context, id string) (*sync.SyncBatch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sync.SyncBatch), args.Error(1)
}

func (m *MockService) Changes(ctx context.Context, userID string, since time.Time, limit int) ([]*sync.SyncRecord, error) {
	args := m.Called(ctx, userID, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*sync.SyncRecord), args.Error(1)
}

func (m *MockService) Status(ctx context.Context, userID string) (sync.Status, *sync.SyncStats, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(sync.Status), args.Get(1).(*sync.SyncStats), args.Error(2)
}

func newTestHandler(svc sync.Servicer) *Handler {
	return NewHandler(svc, slog.Default(), huma.Middlewares{})
}

func makeRecord(t *testing.T) *sync.SyncRecord {
	t.Helper()
	rec, err := sync.NewSyncRecord("user-1", sync.EntitySpecies, []byte(`{"name":"Vulpes vulpes"}`))
	require.NoError(t, err)
	return rec
}

func TestHandler_SubmitRecord(t *testing.T) {
	authCtx := auth.WithUserID(context.Background(), "user-1")

	t.Run("accepted", func(t *testing.T) {
		svc := new(MockService)
		h := newTestHandler(svc)
		rec := makeRecord(t)

		svc.On("SubmitRecord", mock.Anything, "user-1", sync.EntitySpecies, mock.Anything).
			Return(rec, nil)

		input := &submitRecordInput{}
		input.Body.EntityType = "species"
		input.Body.Payload = []byte(`{"name":"Vulpes vulpes"}`)

		resp, err := h.submitRecord(authCtx, input)

		require.NoError(t, err)
		assert.Equal(t, "Accepted", resp.Body.Status)
		assert.Equal(t, rec.ID, resp.Body.Record.ID)
		assert.Equal(t, "pending", resp.Body.Record.Status)
		svc.AssertExpectations(t)
	})

	t.Run("unauthorized without user in context", func(t *testing.T) {
		h := newTestHandler(new(MockService))

		input := &submitRecordInput{}
		input.Body.EntityType = "species"
		input.Body.Payload = []byte(`{}`)

		resp, err := h.submitRecord(context.Background(), input)

		assert.Nil(t, resp)
		require.Error(t, err)
		var herr huma.StatusError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, 401, herr.GetStatus())
	})

	t.Run("invalid entity type maps to 400", func(t *testing.T) {
		svc := new(MockService)
		h := newTestHandler(svc)

		svc.On("SubmitRecord", mock.Anything, "user-1", sync.EntityType("mineral"), mock.Anything).
			Return(nil, sync.ErrInvalidArgument)

		input := &submitRecordInput{}
		input.Body.EntityType = "mineral"
		input.Body.Payload = []byte(`{}`)

		resp, err := h.submitRecord(authCtx, input)

		assert.Nil(t, resp)
		var herr huma.StatusError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, 400, herr.GetStatus())
	})
}

func TestHandler_SubmitBatch(t *testing.T) {
	authCtx := auth.WithUserID(context.Background(), "user-1")

	t.Run("accepted", func(t *testing.T) {
		svc := new(MockService)
		h := newTestHandler(svc)

		batch, err := sync.NewSyncBatch([]*sync.SyncRecord{makeRecord(t), makeRecord(t)})
		require.NoError(t, err)
		svc.On("SubmitBatch", mock.Anything, "user-1", mock.MatchedBy(func(items []sync.BatchItem) bool {
			return len(items) == 2
		})).Return(batch, nil)

		input := &submitBatchInput{}
		input.Body.Items = []SubmitRecordRequest{
			{EntityType: "species", Payload: []byte(`{"n":1}`)},
			{EntityType: "fossil", Payload: []byte(`{"n":2}`)},
		}

		resp, err := h.submitBatch(authCtx, input)

		require.NoError(t, err)
		assert.Equal(t, "Accepted", resp.Body.Status)
		assert.Equal(t, batch.ID, resp.Body.Batch.ID)
		assert.Equal(t, 2, resp.Body.Batch.Total)
	})

	t.Run("oversized batch maps to 400", func(t *testing.T) {
		svc := new(MockService)
		h := newTestHandler(svc)

		svc.On("SubmitBatch", mock.Anything, "user-1", mock.Anything).
			Return(nil, sync.ErrBatchSizeExceeded)

		input := &submitBatchInput{}
		input.Body.Items = []SubmitRecordRequest{{EntityType: "species", Payload: []byte(`{}`)}}

		_, err := h.submitBatch(authCtx, input)

		var herr huma.StatusError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, 400, herr.GetStatus())
	})
}

func TestHandler_GetRecord(t *testing.T) {
	authCtx := auth.WithUserID(context.Background(), "user-1")

	t.Run("found", func(t *testing.T) {
		svc := new(MockService)
		h := newTestHandler(svc)
		rec := makeRecord(t)

		svc.On("GetRecord", mock.Anything, rec.ID).Return(rec, nil)

		resp, err := h.getRecord(authCtx, &getRecordInput{SyncID: rec.ID})

		require.NoError(t, err)
		assert.Equal(t, rec.ID, resp.Body.Record.ID)
	})

	t.Run("missing maps to 404", func(t *testing.T) {
		svc := new(MockService)
		h := newTestHandler(svc)

		svc.On("GetRecord", mock.Anything, "nope").Return(nil, sync.ErrRecordNotFound)

		_, err := h.getRecord(authCtx, &getRecordInput{SyncID: "nope"})

		var herr huma.StatusError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, 404, herr.GetStatus())
	})
}

func TestHandler_GetBatch_NotFound(t *testing.T) {
	authCtx := auth.WithUserID(context.Background(), "user-1")
	svc := new(MockService)
	h := newTestHandler(svc)

	svc.On("GetBatch", mock.Anything, "nope").Return(nil, sync.ErrBatchNotFound)

	_, err := h.getBatch(authCtx, &getBatchInput{BatchID: "nope"})

	var herr huma.StatusError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, 404, herr.GetStatus())
}

func TestHandler_GetChanges(t *testing.T) {
	authCtx := auth.WithUserID(context.Background(), "user-1")
	svc := new(MockService)
	h := newTestHandler(svc)

	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	svc.On("Changes", mock.Anything, "user-1", since, 100).
		Return([]*sync.SyncRecord{makeRecord(t)}, nil)

	input := &getChangesInput{}
	input.Body.LastSyncTime = since
	input.Body.Limit = 100

	resp, err := h.getChanges(authCtx, input)

	require.NoError(t, err)
	assert.Len(t, resp.Body.Records, 1)
	assert.False(t, resp.Body.ServerTime.IsZero())
}

func TestHandler_GetStatus(t *testing.T) {
	authCtx := auth.WithUserID(context.Background(), "user-1")
	svc := new(MockService)
	h := newTestHandler(svc)

	at := time.Now().UTC()
	svc.On("Status", mock.Anything, "user-1").Return(
		sync.Status{
			UserID:  "user-1",
			State:   sync.StateSuccess,
			Summary: sync.Summary{Completed: 5, Failed: 1, At: at},
		},
		&sync.SyncStats{UserID: "user-1", TotalSyncs: 6},
		nil,
	)

	resp, err := h.getStatus(authCtx, &getStatusInput{})

	require.NoError(t, err)
	assert.Equal(t, "success", resp.Body.Data.State)
	assert.Equal(t, 5, resp.Body.Data.Completed)
	assert.Equal(t, 1, resp.Body.Data.Failed)
	require.NotNil(t, resp.Body.Data.At)
	assert.Equal(t, int64(6), resp.Body.Data.Stats.TotalSyncs)
}
