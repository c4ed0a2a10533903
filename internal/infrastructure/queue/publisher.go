// Package queue публикация терминальных исходов синхронизации в RabbitMQ.
// Потребители (аналитика, push уведомления) подписываются на exchange
// по ключам sync.record.* и sync.batch.*.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/exp/slog"

	"fieldsync/internal/config"
	"fieldsync/internal/domain/sync"
)

type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *slog.Logger
}

var _ sync.EventPublisher = (*Publisher)(nil)

func NewPublisher(cfg config.Queue, log *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("queue dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("queue exchange declare: %w", err)
	}
	return &Publisher{
		conn:     conn,
		ch:       ch,
		exchange: cfg.Exchange,
		log:      log.With("component", "queue_publisher"),
	}, nil
}

type recordEvent struct {
	RecordID   string          `json:"record_id"`
	UserID     string          `json:"user_id"`
	BatchID    string          `json:"batch_id,omitempty"`
	EntityType sync.EntityType `json:"entity_type"`
	Status     sync.RecordStatus `json:"status"`
	RetryCount int             `json:"retry_count"`
	Error      string          `json:"error,omitempty"`
	At         time.Time       `json:"at"`
}

type batchEvent struct {
	BatchID     string           `json:"batch_id"`
	Status      sync.BatchStatus `json:"status"`
	Total       int              `json:"total"`
	FailedCount int              `json:"failed_count"`
	At          time.Time        `json:"at"`
}

func (p *Publisher) PublishRecordOutcome(ctx context.Context, rec *sync.SyncRecord) error {
	ev := recordEvent{
		RecordID:   rec.ID,
		UserID:     rec.UserID,
		BatchID:    rec.BatchID,
		EntityType: rec.EntityType,
		Status:     rec.Status,
		RetryCount: rec.RetryCount,
		Error:      rec.ErrorMessage,
		At:         time.Now().UTC(),
	}
	return p.publish(ctx, "sync.record."+string(rec.Status), ev)
}

func (p *Publisher) PublishBatchOutcome(ctx context.Context, batch *sync.SyncBatch) error {
	ev := batchEvent{
		BatchID:     batch.ID,
		Status:      batch.Status,
		Total:       len(batch.Records),
		FailedCount: batch.FailedCount,
		At:          time.Now().UTC(),
	}
	return p.publish(ctx, "sync.batch."+string(batch.Status), ev)
}

func (p *Publisher) publish(ctx context.Context, key string, ev any) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.log.Error("failed to publish event", "routing_key", key, "error", err)
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
