package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Kafka mirrors diagnostics notifications to a topic. The writer runs in
// async mode so Notify never waits on the broker.
type Kafka struct {
	w   *kafka.Writer
	log *slog.Logger
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 || cfg.Brokers[0] == "" {
		return nil, fmt.Errorf("notify: kafka brokers must not be empty")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("notify: kafka topic must not be empty")
	}
	k := &Kafka{log: slog.Default().With("service", "notify-kafka")}
	k.w = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				k.log.Warn("kafka write failed", "messages", len(msgs), "error", err)
			}
		},
	}
	return k, nil
}

func (k *Kafka) Notify(n Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", n.Method, err)
	}
	return k.w.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(n.Method),
		Value: value,
		Time:  n.Time,
		Headers: []kafka.Header{
			{Key: "notificationId", Value: []byte(n.ID)},
		},
	})
}

func (k *Kafka) Close() error {
	return k.w.Close()
}
