package kafka

import (
	"context"
	"errors"
	"strconv"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// Publisher отправляет события синхронизации в Kafka.
type Publisher struct {
	producer   *Producer
	orderTopic string
	syncTopic  string
}

// NewPublisher создаёт паблишер; пустые topic заменяются значениями по умолчанию.
func NewPublisher(producer *Producer, orderTopic, syncTopic string) *Publisher {
	if orderTopic == "" {
		orderTopic = TopicOrderEvents
	}
	if syncTopic == "" {
		syncTopic = TopicSyncEvents
	}
	return &Publisher{
		producer:   producer,
		orderTopic: orderTopic,
		syncTopic:  syncTopic,
	}
}

// OrderSynced публикует событие с ключом external id, чтобы события одного заказа шли по порядку.
func (p *Publisher) OrderSynced(ctx context.Context, runID int64, order domain.Order, outcome domain.UpsertOutcome) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	return p.producer.PublishEvent(p.orderTopic, order.ExternalID, NewOrderSyncedEvent(runID, order, outcome))
}

// RunFinished публикует итог запуска.
func (p *Publisher) RunFinished(ctx context.Context, report domain.SyncReport) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	return p.producer.PublishEvent(p.syncTopic, strconv.FormatInt(report.RunID, 10), NewSyncRunEvent(report))
}

func (p *Publisher) ready(ctx context.Context) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka publisher is not initialized")
	}
	return ctx.Err()
}

var _ domain.EventPublisher = (*Publisher)(nil)
