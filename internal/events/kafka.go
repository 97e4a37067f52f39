package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "vecarvs.events"

// KafkaPublisher writes events to a Kafka topic, keyed by identity so one
// identity's events stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// SaramaConfig returns the producer configuration the publisher needs.
func SaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	return cfg
}

// DialKafka connects a sync producer to the given brokers.
func DialKafka(brokers []string, topic string) (*KafkaPublisher, error) {
	prod, err := sarama.NewSyncProducer(brokers, SaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaPublisher(prod, topic), nil
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish is a Listener.
func (k *KafkaPublisher) Publish(_ context.Context, e Event) error {
	js, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("json marshal event: %w", err)
	}

	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(e.Identity),
		Value: sarama.ByteEncoder(js),
	})
	if err != nil {
		return fmt.Errorf("send event to kafka: %w", err)
	}

	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}
