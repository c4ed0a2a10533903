package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/semaphore"
)

// Config настройки движка синхронизации
type Config struct {
	MaxConcurrent       int64         // одновременных доставок
	MaxAttempts         int           // попыток на один вызов доставки
	BaseDelay           time.Duration // стартовая задержка бэкоффа
	MaxDelay            time.Duration
	RecordTimeout       time.Duration // таймаут одиночной записи
	BatchTimeout        time.Duration // таймаут пакета
	MaxBatchSize        int
	BreakerMinRequests  uint32        // минимум запросов в окне до срабатывания
	BreakerFailureRatio float64       // доля отказов, открывающая предохранитель
	BreakerWindow       time.Duration // окно подсчета отказов
	BreakerCooldown     time.Duration // пауза до полуоткрытого состояния
	SweepLimit          int           // записей за один проход фоновой проверки
}

// DefaultConfig возвращает настройки по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:       50,
		MaxAttempts:         3,
		BaseDelay:           100 * time.Millisecond,
		MaxDelay:            5 * time.Second,
		RecordTimeout:       30 * time.Second,
		BatchTimeout:        60 * time.Second,
		MaxBatchSize:        MaxBatchSize,
		BreakerMinRequests:  10,
		BreakerFailureRatio: 0.5,
		BreakerWindow:       30 * time.Second,
		BreakerCooldown:     15 * time.Second,
		SweepLimit:          100,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = d.RecordTimeout
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.MaxBatchSize <= 0 || c.MaxBatchSize > MaxBatchSize {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = d.BreakerMinRequests
	}
	if c.BreakerFailureRatio <= 0 {
		c.BreakerFailureRatio = d.BreakerFailureRatio
	}
	if c.BreakerWindow <= 0 {
		c.BreakerWindow = d.BreakerWindow
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = d.BreakerCooldown
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = d.SweepLimit
	}
}

// Service движок синхронизации: доставка записей с ограничением
// конкурентности, ретраями, предохранителем и обработкой пакетов
type Service struct {
	repo      Repository
	deliverer Deliverer
	tracker   *Tracker
	metrics   Metrics
	events    EventPublisher
	sem       *semaphore.Weighted
	breaker   *gobreaker.CircuitBreaker[struct{}]
	log       *slog.Logger
	cfg       Config
}

// NewService создает движок. Предохранитель и семафор создаются на
// экземпляр: изолированное состояние на каждый удаленный эндпоинт,
// в тестах на каждый кейс.
func NewService(repo Repository, deliverer Deliverer, tracker *Tracker, metrics Metrics, events EventPublisher, log *slog.Logger, cfg Config) *Service {
	cfg.normalize()
	if tracker == nil {
		tracker = NewTracker()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if events == nil {
		events = nopPublisher{}
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "remote-store",
		MaxRequests: 1,
		Interval:    cfg.BreakerWindow,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.BreakerFailureRatio
		},
		// невалидная запись не считается отказом удаленного хранилища
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidRecord)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Service{
		repo:      repo,
		deliverer: deliverer,
		tracker:   tracker,
		metrics:   metrics,
		events:    events,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		breaker:   breaker,
		log:       log.With(slog.String("component", "sync_service")),
		cfg:       cfg,
	}
}

// Tracker возвращает поверхность статуса для наблюдателей
func (s *Service) Tracker() *Tracker {
	return s.tracker
}

// Config возвращает действующие настройки движка
func (s *Service) Config() Config {
	return s.cfg
}

// SubmitRecord валидирует и сохраняет запись, затем запускает доставку
// в фоне. Вызов идемпотентен относительно каркаса планировщика: запись,
// оставшуюся pending, подберет фоновая проверка.
func (s *Service) SubmitRecord(ctx context.Context, userID string, entityType EntityType, payload []byte) (*SyncRecord, error) {
	rec, err := NewSyncRecord(userID, entityType, payload)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("save record: %w", err)
	}

	go func() {
		bctx, cancel := context.WithTimeout(context.Background(), s.cfg.RecordTimeout)
		defer cancel()
		if err := s.SyncRecord(bctx, rec.Clone()); err != nil {
			s.log.Error("background record sync failed",
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	return rec, nil
}

// SyncRecord доставляет одну запись в удаленное хранилище: слот
// семафора, ретраи с экспоненциальным бэкоффом, предохранитель.
// Отмена контекста прерывает ретраи и возвращается как есть, запись
// остается pending.
func (s *Service) SyncRecord(ctx context.Context, rec *SyncRecord) error {
	start := time.Now()

	if err := rec.Validate(); err != nil {
		s.metrics.ObserveSync("invalid", time.Since(start))
		return err
	}
	if rec.IsTerminal() {
		return fmt.Errorf("%w: sync from %q", ErrInvalidStateTransition, rec.Status)
	}

	s.tracker.Begin(rec.UserID)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.tracker.Error(rec.UserID, err.Error())
		s.metrics.ObserveSync("timeout", time.Since(start))
		return fmt.Errorf("acquire sync slot: %w", err)
	}
	defer s.sem.Release(1)

	dctx, cancel := context.WithTimeout(ctx, s.cfg.RecordTimeout)
	defer cancel()

	err := s.deliver(dctx, rec)
	switch {
	case err == nil:
		return s.finishCompleted(ctx, rec, start)

	case dctx.Err() != nil && !errors.Is(err, ErrCircuitOpen):
		// отмена или дедлайн: попытки прекращены, запись не трогаем
		s.tracker.Error(rec.UserID, dctx.Err().Error())
		s.metrics.ObserveSync("timeout", time.Since(start))
		return fmt.Errorf("sync aborted: %w", dctx.Err())

	case errors.Is(err, ErrCircuitOpen):
		s.tracker.Error(rec.UserID, err.Error())
		s.metrics.ObserveSync("rejected", time.Since(start))
		return err

	default:
		return s.finishFailed(ctx, rec, start, err)
	}
}

// deliver выполняет ограниченную серию попыток доставки одной записи.
// Попытки строго последовательны; между ними экспоненциальная пауза,
// прерываемая отменой контекста.
func (s *Service) deliver(ctx context.Context, rec *SyncRecord) error {
	attempt := 0
	op := func() error {
		attempt++
		_, err := s.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, s.deliverer.Deliver(ctx, rec)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			s.metrics.CircuitRejected()
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrCircuitOpen, err))
		case errors.Is(err, ErrInvalidRecord):
			return backoff.Permanent(err)
		default:
			s.log.Debug("delivery attempt failed",
				slog.String("record_id", rec.ID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.BaseDelay
	bo.Multiplier = 2
	bo.MaxInterval = s.cfg.MaxDelay
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.cfg.MaxAttempts-1)), ctx))
}

// finishCompleted и finishFailed вызываются строго после tracker.Begin:
// каждый путь выхода обязан ровно один раз закрыть операцию через
// tracker.Success или tracker.Error, иначе счетчик незавершенных
// операций пользователя течет и статус навсегда застревает в syncing
func (s *Service) finishCompleted(ctx context.Context, rec *SyncRecord, start time.Time) error {
	expected := rec.Version
	if err := rec.MarkCompleted(); err != nil {
		s.tracker.Error(rec.UserID, err.Error())
		return err
	}
	if err := s.repo.UpdateRecord(ctx, rec, expected); err != nil {
		// конкурентный писатель успел изменить запись; доставка удалась,
		// но исход не зафиксирован - для наблюдателя это отказ операции
		s.tracker.Error(rec.UserID, err.Error())
		s.metrics.ObserveSync("failure", time.Since(start))
		return fmt.Errorf("persist completion: %w", err)
	}
	if err := s.repo.IncrementSyncStats(ctx, rec.UserID, 1, 0, time.Since(start)); err != nil {
		s.log.Warn("failed to update sync stats", slog.String("error", err.Error()))
	}

	s.tracker.Success(rec.UserID, Summary{Completed: 1})
	s.metrics.ObserveSync("success", time.Since(start))
	s.publishRecord(ctx, rec)

	s.log.Info("record synced",
		slog.String("record_id", rec.ID),
		slog.String("entity_type", string(rec.EntityType)),
	)
	return nil
}

func (s *Service) finishFailed(ctx context.Context, rec *SyncRecord, start time.Time, cause error) error {
	expected := rec.Version
	if err := rec.MarkFailed(cause.Error()); err != nil {
		s.tracker.Error(rec.UserID, cause.Error())
		return errors.Join(cause, err)
	}
	if err := s.repo.UpdateRecord(ctx, rec, expected); err != nil {
		s.log.Error("failed to persist record failure",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	if rec.Status == RecordFailed {
		if err := s.repo.IncrementSyncStats(ctx, rec.UserID, 0, 1, time.Since(start)); err != nil {
			s.log.Warn("failed to update sync stats", slog.String("error", err.Error()))
		}
		s.publishRecord(ctx, rec)
	}

	s.tracker.Error(rec.UserID, cause.Error())
	s.metrics.ObserveSync("failure", time.Since(start))

	s.log.Error("record sync failed",
		slog.String("record_id", rec.ID),
		slog.String("entity_type", string(rec.EntityType)),
		slog.Int("retry_count", rec.RetryCount),
		slog.String("status", string(rec.Status)),
		slog.String("error", cause.Error()),
	)
	return fmt.Errorf("deliver record %s after %d attempts: %w", rec.ID, s.cfg.MaxAttempts, cause)
}

func (s *Service) publishRecord(ctx context.Context, rec *SyncRecord) {
	if err := s.events.PublishRecordOutcome(ctx, rec); err != nil {
		s.log.Warn("failed to publish record outcome",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

type nopMetrics struct{}

func (nopMetrics) ObserveSync(string, time.Duration)  {}
func (nopMetrics) ObserveBatch(string, time.Duration) {}
func (nopMetrics) CircuitRejected()                   {}

type nopPublisher struct{}

func (nopPublisher) PublishRecordOutcome(context.Context, *SyncRecord) error { return nil }
func (nopPublisher) PublishBatchOutcome(context.Context, *SyncBatch) error   { return nil }
