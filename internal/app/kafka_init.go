package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/messaging/kafka"
)

// initKafkaProducer инициализирует Kafka producer, если заданы брокеры.
// Ошибка подключения не останавливает синхронизацию: события просто не публикуются.
func initKafkaProducer(cfg KafkaConfig, logger *log.Entry) *kafka.Producer {
	if len(cfg.Brokers) == 0 {
		return nil
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:  cfg.Brokers,
		ClientID: cfg.ClientID,
	})
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}

	logger.WithField("brokers", cfg.Brokers).Debug("kafka producer initialized")
	return producer
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	}
}
