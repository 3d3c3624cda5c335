package events

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pricelens/pricelens/internal/model"
)

// KafkaPublisher writes price changes as JSON to a kafka topic, keyed by
// product id so a product's changes stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

// NewKafkaPublisher connects a synchronous producer to the given brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "events: connect kafka")
	}
	return newKafkaPublisher(producer, topic), nil
}

func newKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		log:      zap.L().With(zap.String("component", "kafka_publisher")),
	}
}

// Publish sends one change event.
func (p *KafkaPublisher) Publish(_ context.Context, change model.PriceChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return eris.Wrap(err, "events: encode change")
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(change.ProductID, 10)),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return eris.Wrap(err, "events: send to kafka")
	}
	p.log.Debug("published change event",
		zap.Int64("product_id", change.ProductID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Close tears down the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
