package repository

import (
	"context"
	"fmt"
	"os"

	"FinStore/internal/domain/models"
)

// MessagePublisher is the keyed publish of pkg/kafka.Producer.
type MessagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaEvents publishes store events keyed by resource so events of one resource stay ordered
// within a partition.
type KafkaEvents struct {
	pub   MessagePublisher
	topic string
	host  string
}

func NewKafkaEvents(pub MessagePublisher, topic string) *KafkaEvents {
	host, _ := os.Hostname()
	return &KafkaEvents{pub: pub, topic: topic, host: host}
}

func (k *KafkaEvents) PublishEvent(ctx context.Context, ev models.StoreEvent) error {
	if ev.Host == "" {
		ev.Host = k.host
	}
	key := ev.Resource
	if key == "" {
		key = ev.Type
	}
	if err := k.pub.Publish(ctx, k.topic, []byte(key), ev); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}
