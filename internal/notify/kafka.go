package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// KafkaSender publishes alerts to a Kafka topic so downstream consumers
// (dashboards, alert routers) can process them independently of the chat
// channels.
type KafkaSender struct {
	producer sarama.SyncProducer
	topic    string
}

// kafkaAlert is the JSON event shape published to the topic.
type kafkaAlert struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// NewKafkaSender connects a synchronous producer to the given brokers.
func NewKafkaSender(brokers []string, topic string) (*KafkaSender, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("notify: kafka producer: %w", err)
	}
	return &KafkaSender{producer: producer, topic: topic}, nil
}

func (k *KafkaSender) Send(ctx context.Context, title, message string) error {
	payload, err := json.Marshal(kafkaAlert{
		Title:     title,
		Message:   message,
		Source:    "updownbot",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: marshal kafka alert: %w", err)
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(title),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("notify: kafka send: %w", err)
	}
	return nil
}

func (k *KafkaSender) Name() string {
	return "kafka"
}

// Close shuts down the producer.
func (k *KafkaSender) Close() error {
	return k.producer.Close()
}
