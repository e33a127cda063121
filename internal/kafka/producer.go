package kafka

import (
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// EventProducer publishes serialized order events drained from the outbox.
type EventProducer struct {
	producer sarama.SyncProducer
}

func NewEventProducer(brokers []string) (*EventProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second

	prod, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("connect to brokers: %w", err)
	}
	return &EventProducer{producer: prod}, nil
}

func (p *EventProducer) Publish(topic string, message []byte) error {
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(message),
	})
	if err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	log.Printf("order event published: topic=%s partition=%d offset=%d", topic, partition, offset)
	return nil
}

func (p *EventProducer) Close() error {
	return p.producer.Close()
}
