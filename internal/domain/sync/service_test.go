package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

// fakeRepo хранилище в памяти с оптимистической проверкой версий и
// настраиваемой искусственной задержкой чтения
type fakeRepo struct {
	mu       stdsync.Mutex
	delay    time.Duration
	records  map[string]*SyncRecord
	batches  map[string]*SyncBatch
	stats    map[string]*SyncStats
	versions map[string][]int64 // история сохраненных версий по записям
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		records:  make(map[string]*SyncRecord),
		batches:  make(map[string]*SyncBatch),
		stats:    make(map[string]*SyncStats),
		versions: make(map[string][]int64),
	}
}

func (f *fakeRepo) SaveRecord(_ context.Context, rec *SyncRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.ID] = rec.Clone()
	f.versions[rec.ID] = append(f.versions[rec.ID], rec.Version)
	return nil
}

func (f *fakeRepo) GetRecordByID(_ context.Context, id string) (*SyncRecord, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (f *fakeRepo) UpdateRecord(_ context.Context, rec *SyncRecord, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.records[rec.ID]
	if !ok {
		return ErrRecordNotFound
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: have %d, expected %d", ErrConflictDetected, cur.Version, expectedVersion)
	}
	f.records[rec.ID] = rec.Clone()
	f.versions[rec.ID] = append(f.versions[rec.ID], rec.Version)
	return nil
}

func (f *fakeRepo) ListPendingRecords(_ context.Context, limit int) ([]*SyncRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*SyncRecord
	for _, rec := range f.records {
		if rec.Status == RecordPending && len(out) < limit {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (f *fakeRepo) ListChangedSince(_ context.Context, userID string, since time.Time, limit int) ([]*SyncRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*SyncRecord
	for _, rec := range f.records {
		if rec.UserID == userID && rec.UpdatedAt.After(since) && len(out) < limit {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (f *fakeRepo) SaveBatch(ctx context.Context, batch *SyncBatch) error {
	f.mu.Lock()
	f.batches[batch.ID] = batch
	f.mu.Unlock()
	for _, rec := range batch.Records {
		if err := f.SaveRecord(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRepo) GetBatchByID(_ context.Context, id string) (*SyncBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch, ok := f.batches[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return batch, nil
}

func (f *fakeRepo) UpdateBatch(_ context.Context, batch *SyncBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches[batch.ID] = batch
	return nil
}

func (f *fakeRepo) ListPendingBatches(_ context.Context, limit int) ([]*SyncBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*SyncBatch
	for _, batch := range f.batches {
		if batch.Status == BatchPending && len(out) < limit {
			out = append(out, batch)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetSyncStats(_ context.Context, userID string) (*SyncStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.stats[userID]; ok {
		cp := *st
		return &cp, nil
	}
	return &SyncStats{UserID: userID}, nil
}

func (f *fakeRepo) IncrementSyncStats(_ context.Context, userID string, completed, failed int64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stats[userID]
	if !ok {
		st = &SyncStats{UserID: userID}
		f.stats[userID] = st
	}
	st.TotalSyncs++
	st.TotalCompleted += completed
	st.TotalFailed += failed
	st.LastSync = time.Now().UTC()
	return nil
}

// fakeDeliverer считает вызовы; поведение задается fn(номер вызова)
type fakeDeliverer struct {
	mu    stdsync.Mutex
	calls int
	fn    func(call int, rec *SyncRecord) error
}

func (d *fakeDeliverer) Deliver(_ context.Context, rec *SyncRecord) error {
	d.mu.Lock()
	d.calls++
	call := d.calls
	fn := d.fn
	d.mu.Unlock()
	if fn != nil {
		return fn(call, rec)
	}
	return nil
}

func (d *fakeDeliverer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(repo Repository, deliverer Deliverer, cfg Config) *Service {
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Millisecond
	}
	return NewService(repo, deliverer, nil, nil, nil, testLogger(), cfg)
}

func saveRecord(t *testing.T, repo *fakeRepo) *SyncRecord {
	t.Helper()
	rec, err := NewSyncRecord("user-1", EntitySpecies, []byte(`{"name":"Vulpes vulpes"}`))
	require.NoError(t, err)
	require.NoError(t, repo.SaveRecord(context.Background(), rec))
	return rec
}

func TestService_SyncRecord_Success(t *testing.T) {
	repo := newFakeRepo()
	deliverer := &fakeDeliverer{}
	svc := newTestService(repo, deliverer, Config{})
	rec := saveRecord(t, repo)

	err := svc.SyncRecord(context.Background(), rec)

	require.NoError(t, err)
	assert.Equal(t, 1, deliverer.callCount())

	stored, err := repo.GetRecordByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, RecordCompleted, stored.Status)
	assert.Empty(t, stored.ErrorMessage)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, StateSuccess, svc.Tracker().Get("user-1").State)
}

func TestService_SyncRecord_RetriesTransientFailure(t *testing.T) {
	repo := newFakeRepo()
	deliverer := &fakeDeliverer{fn: func(call int, _ *SyncRecord) error {
		if call < 3 {
			return errors.New("connection reset")
		}
		return nil
	}}
	svc := newTestService(repo, deliverer, Config{})
	rec := saveRecord(t, repo)

	err := svc.SyncRecord(context.Background(), rec)

	require.NoError(t, err)
	assert.Equal(t, 3, deliverer.callCount())

	stored, _ := repo.GetRecordByID(context.Background(), rec.ID)
	assert.Equal(t, RecordCompleted, stored.Status)
}

func TestService_SyncRecord_ExhaustsRetries(t *testing.T) {
	repo := newFakeRepo()
	deliverer := &fakeDeliverer{fn: func(int, *SyncRecord) error {
		return errors.New("remote unavailable")
	}}
	svc := newTestService(repo, deliverer, Config{})
	rec := saveRecord(t, repo)

	err := svc.SyncRecord(context.Background(), rec)

	require.Error(t, err)
	assert.Equal(t, 3, deliverer.callCount())
	assert.Equal(t, StateError, svc.Tracker().Get("user-1").State)

	// один вызов = один инкремент retry_count; запись остается pending
	// до исчерпания бюджета фоновыми проходами
	stored, _ := repo.GetRecordByID(context.Background(), rec.ID)
	assert.Equal(t, RecordPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, "remote unavailable", stored.ErrorMessage)
}

func TestService_SyncRecord_InvalidNeverDelivered(t *testing.T) {
	repo := newFakeRepo()
	deliverer := &fakeDeliverer{}
	svc := newTestService(repo, deliverer, Config{})

	rec := &SyncRecord{ID: "r1", UserID: "user-1", EntityType: EntitySpecies, Status: RecordPending, Version: 1}

	err := svc.SyncRecord(context.Background(), rec)

	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.Equal(t, 0, deliverer.callCount())
}

func TestService_SyncRecord_InvalidFromRemoteNotRetried(t *testing.T) {
	repo := newFakeRepo()
	deliverer := &fakeDeliverer{fn: func(int, *SyncRecord) error {
		return fmt.Errorf("%w: payload schema mismatch", ErrInvalidRecord)
	}}
	svc := newTestService(repo, deliverer, Config{})
	rec := saveRecord(t, repo)

	err := svc.SyncRecord(context.Background(), rec)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.Equal(t, 1, deliverer.callCount())
}

func TestService_SyncRecord_Cancellation(t *testing.T) {
	repo := newFakeRepo()
	deliverer := &fakeDeliverer{fn: func(int, *SyncRecord) error {
		return errors.New("remote unavailable")
	}}
	svc := newTestService(repo, deliverer, Config{BaseDelay: 500 * time.Millisecond})
	rec := saveRecord(t, repo)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := svc.SyncRecord(ctx, rec)

	// отмена прерывает ретраи и отличается от ошибки доставки
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrCircuitOpen)

	stored, _ := repo.GetRecordByID(context.Background(), rec.ID)
	assert.Equal(t, RecordPending, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
	assert.Equal(t, int64(1), stored.Version)
}

func TestService_CircuitBreaker_FailsFastWhenOpen(t *testing.T) {
	repo := newFakeRepo()
	deliverer := &fakeDeliverer{fn: func(int, *SyncRecord) error {
		return errors.New("remote unavailable")
	}}
	svc := newTestService(repo, deliverer, Config{})

	// больше 10 отказов подряд открывают предохранитель
	for i := 0; i < 4; i++ {
		rec := saveRecord(t, repo)
		_ = svc.SyncRecord(context.Background(), rec)
	}

	callsBefore := deliverer.callCount()
	require.GreaterOrEqual(t, callsBefore, 10)

	rec := saveRecord(t, repo)
	err := svc.SyncRecord(context.Background(), rec)

	assert.ErrorIs(t, err, ErrCircuitOpen)
	// доставка не выполнялась и счетчик попыток записи не тронут
	assert.Equal(t, callsBefore, deliverer.callCount())
	stored, _ := repo.GetRecordByID(context.Background(), rec.ID)
	assert.Equal(t, RecordPending, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
}

func TestService_CircuitBreaker_AllowsTrialAfterCooldown(t *testing.T) {
	repo := newFakeRepo()
	failing := true
	var mu stdsync.Mutex
	deliverer := &fakeDeliverer{fn: func(int, *SyncRecord) error {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return errors.New("remote unavailable")
		}
		return nil
	}}
	svc := newTestService(repo, deliverer, Config{BreakerCooldown: 50 * time.Millisecond})

	for i := 0; i < 4; i++ {
		rec := saveRecord(t, repo)
		_ = svc.SyncRecord(context.Background(), rec)
	}
	rec := saveRecord(t, repo)
	require.ErrorIs(t, svc.SyncRecord(context.Background(), rec), ErrCircuitOpen)

	// после паузы полуоткрытое состояние пропускает пробный запрос
	mu.Lock()
	failing = false
	mu.Unlock()
	time.Sleep(60 * time.Millisecond)

	rec2 := saveRecord(t, repo)
	assert.NoError(t, svc.SyncRecord(context.Background(), rec2))
}

// contendedRepo имитирует конкурентного писателя: пока losing=true,
// каждая попытка сохранить исход проигрывает гонку версий
type contendedRepo struct {
	*fakeRepo
	cmu    stdsync.Mutex
	losing bool
}

func (r *contendedRepo) UpdateRecord(ctx context.Context, rec *SyncRecord, expectedVersion int64) error {
	r.cmu.Lock()
	losing := r.losing
	r.cmu.Unlock()
	if losing {
		return fmt.Errorf("%w: concurrent update", ErrConflictDetected)
	}
	return r.fakeRepo.UpdateRecord(ctx, rec, expectedVersion)
}

func TestService_SyncRecord_PersistConflictDoesNotWedgeStatus(t *testing.T) {
	repo := &contendedRepo{fakeRepo: newFakeRepo(), losing: true}
	deliverer := &fakeDeliverer{}
	svc := newTestService(repo, deliverer, Config{})
	rec := saveRecord(t, repo.fakeRepo)

	err := svc.SyncRecord(context.Background(), rec)

	// доставка удалась, но фиксация исхода проиграла гонку версий;
	// операция обязана закрыться ошибкой, а не остаться в syncing
	require.ErrorIs(t, err, ErrConflictDetected)
	assert.Equal(t, StateError, svc.Tracker().Get("user-1").State)

	// гонка закончилась; следующая операция того же пользователя доходит
	// до success, счетчик незавершенных операций не утек
	repo.cmu.Lock()
	repo.losing = false
	repo.cmu.Unlock()

	rec2 := saveRecord(t, repo.fakeRepo)
	require.NoError(t, svc.SyncRecord(context.Background(), rec2))
	assert.Equal(t, StateSuccess, svc.Tracker().Get("user-1").State)
}

func TestService_ProcessBatch_PartialFailure(t *testing.T) {
	repo := newFakeRepo()
	records := makeRecords(t, 3)
	doomed := records[1].ID
	deliverer := &fakeDeliverer{fn: func(_ int, rec *SyncRecord) error {
		if rec.ID == doomed {
			return errors.New("remote rejects this record")
		}
		return nil
	}}
	// BreakerMinRequests выше числа запросов теста, чтобы изолировать
	// семантику частичного отказа от предохранителя
	svc := newTestService(repo, deliverer, Config{BreakerMinRequests: 100})

	batch, err := NewSyncBatch(records)
	require.NoError(t, err)
	require.NoError(t, repo.SaveBatch(context.Background(), batch))

	err = svc.ProcessBatch(context.Background(), batch)
	require.ErrorIs(t, err, ErrBatchProcessingFailed)

	// успешные записи сохраняют completed, отката не происходит
	for _, id := range []string{records[0].ID, records[2].ID} {
		stored, gerr := repo.GetRecordByID(context.Background(), id)
		require.NoError(t, gerr)
		assert.Equal(t, RecordCompleted, stored.Status)
	}

	// повторные проходы доводят провальную запись до терминального failed
	for i := 0; i < MaxRetryCount; i++ {
		_ = svc.ProcessBatch(context.Background(), batch)
	}

	stored, err := repo.GetBatchByID(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, BatchCompleted, stored.Status)
	assert.Equal(t, 1, stored.FailedCount)

	failedRec, _ := repo.GetRecordByID(context.Background(), doomed)
	assert.Equal(t, RecordFailed, failedRec.Status)
}

func TestService_SubmitBatch_SizeExceeded(t *testing.T) {
	repo := newFakeRepo()
	deliverer := &fakeDeliverer{}
	svc := newTestService(repo, deliverer, Config{MaxBatchSize: 3})

	items := make([]BatchItem, 4)
	for i := range items {
		items[i] = BatchItem{EntityType: EntitySpecies, Payload: []byte(`{}`)}
	}

	_, err := svc.SubmitBatch(context.Background(), "user-1", items)

	assert.ErrorIs(t, err, ErrBatchSizeExceeded)
	// никаких побочных эффектов: ни пакета, ни записей
	assert.Empty(t, repo.batches)
	assert.Empty(t, repo.records)
	assert.Equal(t, 0, deliverer.callCount())
}

func TestService_Sweep_AdvancesPendingRecords(t *testing.T) {
	repo := newFakeRepo()
	deliverer := &fakeDeliverer{}
	svc := newTestService(repo, deliverer, Config{})
	rec := saveRecord(t, repo)

	svc.Sweep(context.Background())

	stored, err := repo.GetRecordByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, RecordCompleted, stored.Status)
}

func TestService_ConcurrentMutators_NeverDuplicateVersions(t *testing.T) {
	repo := newFakeRepo()
	repo.delay = time.Millisecond // искусственная задержка чтения для гонки
	rec := saveRecord(t, repo)

	const workers = 16
	var wg stdsync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				cur, err := repo.GetRecordByID(context.Background(), rec.ID)
				if err != nil || cur.IsTerminal() {
					return
				}
				expected := cur.Version
				if err := cur.MarkFailed("lost update race"); err != nil {
					return
				}
				err = repo.UpdateRecord(context.Background(), cur, expected)
				if err == nil {
					return
				}
				if !errors.Is(err, ErrConflictDetected) {
					return
				}
			}
		}()
	}
	wg.Wait()

	repo.mu.Lock()
	history := append([]int64(nil), repo.versions[rec.ID]...)
	repo.mu.Unlock()

	seen := make(map[int64]bool, len(history))
	for _, v := range history {
		assert.False(t, seen[v], "version %d persisted twice", v)
		seen[v] = true
	}
}
