package kafka

import (
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/kafka"
	"golang.org/x/xerrors"
)

// Consumer is the subset of *ck.Consumer used by the consumers in this module.
type Consumer interface {
	ReadMessage(time.Duration) (*ck.Message, error)
	SubscribeTopics(topics []string, rebalanceCb ck.RebalanceCb) (err error)
	Seek(partition ck.TopicPartition, timeoutMs int) error
	CommitMessage(*ck.Message) ([]ck.TopicPartition, error)
	Pause([]ck.TopicPartition) (err error)
	Resume([]ck.TopicPartition) (err error)
	Close() error
}

// Producer is the subset of *ck.Producer used by the brokers and consumers in
// this module.
type Producer interface {
	Close()
	Produce(*ck.Message, chan ck.Event) error
}

// NewConsumer creates a librdkafka consumer with manual commits.
func NewConsumer(brokers, groupID string) (*ck.Consumer, error) {
	c, err := ck.NewConsumer(&ck.ConfigMap{
		"bootstrap.servers":  brokers,
		"group.id":           groupID,
		"enable.auto.commit": false,
		"auto.offset.reset":  "earliest",
	})
	if err != nil {
		return nil, xerrors.Errorf("create kafka consumer for group %s: %w", groupID, err)
	}

	return c, nil
}

func NewProducer(brokers string) (*ck.Producer, error) {
	p, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "all",
	})
	if err != nil {
		return nil, xerrors.Errorf("create kafka producer: %w", err)
	}

	return p, nil
}
