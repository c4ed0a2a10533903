package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	stdsync "sync"
	"time"

	"golang.org/x/exp/slog"

	syncapi "fieldsync/internal/app/server/api/http/sync"
	"fieldsync/internal/domain/sync"
)

// deviceUser ключ статуса синхронизации этого устройства в трекере
const deviceUser = "device"

// Transport операции серверного API, нужные движку синхронизации
type Transport interface {
	HealthCheck(ctx context.Context) error
	SubmitBatch(ctx context.Context, req syncapi.SubmitBatchRequest) (*syncapi.SubmitBatchResponse, error)
	GetBatch(ctx context.Context, batchID string) (*syncapi.GetBatchResponse, error)
	GetChanges(ctx context.Context, req syncapi.GetChangesRequest) (*syncapi.GetChangesResponse, error)
	GetStatus(ctx context.Context) (*syncapi.GetStatusResponse, error)
}

// SyncConfig настройки движка синхронизации устройства
type SyncConfig struct {
	Interval     time.Duration
	MinInterval  time.Duration
	BatchSize    int
	WaitTimeout  time.Duration
	PollInterval time.Duration
	Enabled      bool
}

func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Interval:     5 * time.Minute,
		MinInterval:  10 * time.Second,
		BatchSize:    100,
		WaitTimeout:  30 * time.Second,
		PollInterval: 500 * time.Millisecond,
		Enabled:      true,
	}
}

// SyncError ошибка отдельной операции внутри прохода синхронизации
type SyncError struct {
	Operation string    `json:"operation"`
	RecordID  string    `json:"record_id,omitempty"`
	Error     string    `json:"error"`
	Time      time.Time `json:"time"`
}

// SyncResult итог одного прохода синхронизации
type SyncResult struct {
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	Uploaded   int           `json:"uploaded"`
	Downloaded int           `json:"downloaded"`
	Conflicts  int           `json:"conflicts"`
	Resolved   int           `json:"resolved"`
	Errors     []SyncError   `json:"errors,omitempty"`
	Success    bool          `json:"success"`
}

// SyncStats накопительная статистика устройства, переживает рестарты
type SyncStats struct {
	TotalSyncs      int64     `json:"total_syncs"`
	TotalErrors     int64     `json:"total_errors"`
	TotalUploaded   int64     `json:"total_uploaded"`
	TotalDownloaded int64     `json:"total_downloaded"`
	TotalConflicts  int64     `json:"total_conflicts"`
	TotalResolved   int64     `json:"total_resolved"`
	LastSuccessful  time.Time `json:"last_successful"`
	LastFailed      time.Time `json:"last_failed"`
	AvgSyncDuration float64   `json:"avg_sync_duration"`
}

// Engine двусторонняя синхронизация устройства с сервером:
// выгрузка локальной очереди пакетом, загрузка чужих изменений,
// разрешение конфликтов по last-write-wins
type Engine struct {
	storage   Storage
	transport Transport
	resolver  *sync.Resolver
	tracker   *sync.Tracker
	config    *SyncConfig
	log       *slog.Logger
	statsPath string

	mu        stdsync.Mutex
	stats     *SyncStats
	lastSync  time.Time
	isSyncing bool
}

func NewEngine(storage Storage, transport Transport, cfg *SyncConfig, statsPath string, log *slog.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultSyncConfig()
	}
	e := &Engine{
		storage:   storage,
		transport: transport,
		resolver:  sync.NewResolver(log),
		tracker:   sync.NewTracker(),
		config:    cfg,
		log:       log.With(slog.String("component", "sync_engine")),
		statsPath: statsPath,
		stats:     &SyncStats{},
	}
	e.loadStats()
	return e
}

// Sync выполняет один полный проход: проверка сервера, выгрузка
// очереди, загрузка изменений, обновление статистики. Параллельные
// вызовы отклоняются с ErrSyncInProgress, слишком частые - с
// ErrSyncThrottled.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	return e.sync(ctx, "")
}

// SyncEntity синхронизирует только записи одного типа сущности
func (e *Engine) SyncEntity(ctx context.Context, entityType string) (*SyncResult, error) {
	return e.sync(ctx, entityType)
}

func (e *Engine) sync(ctx context.Context, entityType string) (*SyncResult, error) {
	e.mu.Lock()
	if e.isSyncing {
		e.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	if e.config.MinInterval > 0 && !e.lastSync.IsZero() &&
		time.Since(e.lastSync) < e.config.MinInterval {
		e.mu.Unlock()
		return nil, ErrSyncThrottled
	}
	e.isSyncing = true
	since := e.lastSync
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.isSyncing = false
		e.mu.Unlock()
	}()

	result := &SyncResult{StartTime: time.Now().UTC()}
	e.tracker.Begin(deviceUser)

	if err := e.transport.HealthCheck(ctx); err != nil {
		e.tracker.Error(deviceUser, err.Error())
		result.addError("health", "", err)
		e.finish(result)
		e.updateStats(result)
		return result, fmt.Errorf("server unreachable: %w", err)
	}

	e.uploadChanges(ctx, entityType, result)
	e.downloadChanges(ctx, since, result)

	e.finish(result)
	if result.Success {
		e.mu.Lock()
		e.lastSync = result.EndTime
		e.mu.Unlock()
		e.tracker.Success(deviceUser, sync.Summary{
			Completed: result.Uploaded + result.Downloaded,
			Failed:    len(result.Errors),
		})
	} else {
		e.tracker.Error(deviceUser, result.Errors[0].Error)
	}
	e.updateStats(result)

	e.log.Info("sync finished",
		slog.Int("uploaded", result.Uploaded),
		slog.Int("downloaded", result.Downloaded),
		slog.Int("conflicts", result.Conflicts),
		slog.Int("errors", len(result.Errors)),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

func (e *Engine) finish(result *SyncResult) {
	result.EndTime = time.Now().UTC()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Success = len(result.Errors) == 0
}

// uploadChanges выгружает несинхронизированные локальные записи одним
// пакетом и дожидается его обработки сервером. Запись считается
// доставленной только после терминального completed на сервере;
// всё остальное останется в очереди до следующего прохода.
func (e *Engine) uploadChanges(ctx context.Context, entityType string, result *SyncResult) {
	pending, err := e.storage.ListRecords(&RecordFilter{
		EntityType:   entityType,
		OnlyUnsynced: true,
		ShowDeleted:  true,
		Limit:        e.config.BatchSize,
	})
	if err != nil {
		result.addError("upload", "", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	req := syncapi.SubmitBatchRequest{}
	for _, record := range pending {
		req.Items = append(req.Items, syncapi.SubmitRecordRequest{
			EntityType: record.EntityType,
			Payload:    record.Payload,
		})
	}

	resp, err := e.transport.SubmitBatch(ctx, req)
	if err != nil {
		result.addError("upload", "", err)
		return
	}
	if resp == nil || resp.Batch == nil {
		result.addError("upload", "", fmt.Errorf("empty batch in response"))
		return
	}

	// ответ на отправку перечисляет созданные записи в порядке items,
	// это единственная надежная привязка серверных id к локальным записям.
	// Опрос пакета возвращает записи в порядке хранилища, поэтому
	// итоговые статусы сопоставляются по серверному id, а не по позиции.
	final := make(map[string]*syncapi.RecordView, len(resp.Batch.Records))
	if polled := e.waitForBatch(ctx, resp.Batch.ID); polled != nil {
		for i := range polled.Records {
			final[polled.Records[i].ID] = &polled.Records[i]
		}
	}

	for i := range resp.Batch.Records {
		if i >= len(pending) {
			break
		}
		view := &resp.Batch.Records[i]
		if fresh, ok := final[view.ID]; ok {
			view = fresh
		}
		local := pending[i]
		switch view.Status {
		case "completed":
			local.Synced = true
			local.SyncID = view.ID
			if err := e.storage.UpdateRecord(local); err != nil {
				result.addError("upload", local.ID, err)
				continue
			}
			result.Uploaded++
		case "failed":
			result.addError("upload", local.ID, fmt.Errorf("rejected by server: %s", view.ErrorMessage))
		default:
			// pending на сервере; фоновый цикл досылки доведет запись,
			// подтверждение заберем на следующем проходе
			local.SyncID = view.ID
			if err := e.storage.UpdateRecord(local); err != nil {
				result.addError("upload", local.ID, err)
			}
		}
	}
}

// waitForBatch опрашивает состояние пакета до завершения или таймаута
func (e *Engine) waitForBatch(ctx context.Context, batchID string) *syncapi.BatchView {
	deadline := time.Now().Add(e.config.WaitTimeout)
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	var last *syncapi.BatchView
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return last
		case <-ticker.C:
		}

		resp, err := e.transport.GetBatch(ctx, batchID)
		if err != nil {
			e.log.Debug("batch poll failed", slog.String("batch_id", batchID), slog.String("error", err.Error()))
			continue
		}
		last = resp.Batch
		if last != nil && last.Status == "completed" {
			return last
		}
	}
	return last
}

// downloadChanges забирает с сервера записи, изменившиеся после
// последней синхронизации, и применяет их к локальному хранилищу
func (e *Engine) downloadChanges(ctx context.Context, since time.Time, result *SyncResult) {
	resp, err := e.transport.GetChanges(ctx, syncapi.GetChangesRequest{
		LastSyncTime: since,
		Limit:        e.config.BatchSize,
	})
	if err != nil {
		result.addError("download", "", err)
		return
	}

	// записи, уже привязанные к серверным id, скачивать заново не нужно
	own := make(map[string]bool)
	all, err := e.storage.ListRecords(&RecordFilter{ShowDeleted: true})
	if err != nil {
		result.addError("download", "", err)
		return
	}
	for _, record := range all {
		if record.SyncID != "" {
			own[record.SyncID] = true
		}
	}

	for i := range resp.Records {
		view := &resp.Records[i]
		if view.Status != "completed" || own[view.ID] {
			continue
		}
		if err := e.applyRemote(view, result); err != nil {
			result.addError("download", view.ID, err)
		}
	}
}

// applyRemote применяет одну серверную запись: создание отсутствующей,
// обновление синхронизированной или разрешение конфликта с локальным
// несинхронизированным изменением
func (e *Engine) applyRemote(view *syncapi.RecordView, result *SyncResult) error {
	local, err := e.storage.GetRecord(view.ID)
	if errors.Is(err, ErrLocalRecordNotFound) {
		if err := e.storage.SaveRecord(viewToLocal(view)); err != nil {
			return err
		}
		result.Downloaded++
		return nil
	}
	if err != nil {
		return err
	}

	if local.Synced {
		if view.Version <= local.Version {
			return nil
		}
		updated := viewToLocal(view)
		updated.CreatedAt = local.CreatedAt
		if err := e.storage.UpdateRecord(updated); err != nil {
			return err
		}
		result.Downloaded++
		return nil
	}

	// локальное изменение против серверной версии той же записи
	result.Conflicts++
	merged, resolution, err := e.resolver.Resolve(localToDomain(local), viewToDomain(view))
	if err != nil {
		return err
	}

	mergedLocal := domainToLocal(merged)
	mergedLocal.CreatedAt = local.CreatedAt
	mergedLocal.SyncID = local.SyncID
	// слитая запись уходит в очередь на повторную выгрузку
	mergedLocal.Synced = false
	if err := e.storage.UpdateRecord(mergedLocal); err != nil {
		return err
	}

	result.Resolved++
	e.log.Debug("conflict resolved",
		slog.String("record_id", view.ID),
		slog.String("resolution", string(resolution)),
	)
	return nil
}

// StartAutoSync запускает периодическую синхронизацию до отмены ctx
func (e *Engine) StartAutoSync(ctx context.Context) {
	if !e.config.Enabled {
		e.log.Info("auto sync disabled")
		return
	}

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	e.log.Info("auto sync started", slog.Duration("interval", e.config.Interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Sync(ctx); err != nil &&
				!errors.Is(err, ErrSyncInProgress) && !errors.Is(err, ErrSyncThrottled) {
				e.log.Error("auto sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Status текущее состояние синхронизации устройства
func (e *Engine) Status() sync.Status {
	return e.tracker.Get(deviceUser)
}

// Subscribe канал переходов статуса для UI-слоев
func (e *Engine) Subscribe() <-chan sync.Status {
	return e.tracker.Subscribe()
}

// GetStats копия накопительной статистики
func (e *Engine) GetStats() SyncStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.stats
}

// ResetStats обнуляет статистику и удаляет ее с диска
func (e *Engine) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats = &SyncStats{}
	e.persistStats()
}

// LastSync отметка времени последнего успешного прохода
func (e *Engine) LastSync() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

func (e *Engine) updateStats(result *SyncResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stats
	st.TotalSyncs++
	st.TotalUploaded += int64(result.Uploaded)
	st.TotalDownloaded += int64(result.Downloaded)
	st.TotalConflicts += int64(result.Conflicts)
	st.TotalResolved += int64(result.Resolved)
	if result.Success {
		st.LastSuccessful = result.EndTime
	} else {
		st.TotalErrors++
		st.LastFailed = result.EndTime
	}
	st.AvgSyncDuration = (st.AvgSyncDuration*float64(st.TotalSyncs-1) +
		result.Duration.Seconds()) / float64(st.TotalSyncs)

	e.persistStats()
}

func (e *Engine) loadStats() {
	if e.statsPath == "" {
		return
	}
	data, err := os.ReadFile(e.statsPath)
	if err != nil {
		return
	}
	var st SyncStats
	if err := json.Unmarshal(data, &st); err != nil {
		e.log.Warn("corrupted stats file ignored", slog.String("path", e.statsPath))
		return
	}
	e.stats = &st
	e.lastSync = st.LastSuccessful
}

// persistStats вызывается под e.mu
func (e *Engine) persistStats() {
	if e.statsPath == "" {
		return
	}
	data, err := json.MarshalIndent(e.stats, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(e.statsPath, data, 0o600); err != nil {
		e.log.Warn("failed to persist stats", slog.String("error", err.Error()))
	}
}

func (r *SyncResult) addError(op, recordID string, err error) {
	r.Errors = append(r.Errors, SyncError{
		Operation: op,
		RecordID:  recordID,
		Error:     err.Error(),
		Time:      time.Now().UTC(),
	})
}

// Вспомогательные преобразования между локальной моделью, серверным
// представлением и доменной записью

func localToDomain(l *LocalRecord) *sync.SyncRecord {
	return &sync.SyncRecord{
		ID:         l.ID,
		UserID:     deviceUser,
		EntityType: sync.EntityType(l.EntityType),
		Status:     sync.RecordPending,
		Payload:    l.Payload,
		CreatedAt:  l.CreatedAt,
		UpdatedAt:  l.UpdatedAt,
		Version:    l.Version,
	}
}

func viewToDomain(v *syncapi.RecordView) *sync.SyncRecord {
	return &sync.SyncRecord{
		ID:         v.ID,
		UserID:     v.UserID,
		EntityType: sync.EntityType(v.EntityType),
		Status:     sync.RecordStatus(v.Status),
		Payload:    v.Payload,
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
		Version:    v.Version,
	}
}

func domainToLocal(r *sync.SyncRecord) *LocalRecord {
	return &LocalRecord{
		ID:         r.ID,
		EntityType: string(r.EntityType),
		Payload:    r.Payload,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		Version:    r.Version,
	}
}

func viewToLocal(v *syncapi.RecordView) *LocalRecord {
	return &LocalRecord{
		ID:         v.ID,
		EntityType: v.EntityType,
		Payload:    v.Payload,
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
		Version:    v.Version,
		Synced:     true,
	}
}
