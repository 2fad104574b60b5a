package mock

import (
	"sync"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/kafka"
)

// QueueReader returns a ReadMessage function that hands out the queued
// messages in order and read timeouts afterwards. The returned WaitGroup is
// done once every queued message was read.
func QueueReader(mq []*ck.Message) (func(time.Duration) (*ck.Message, error), *sync.WaitGroup) {
	var mu sync.Mutex
	wg := &sync.WaitGroup{}
	wg.Add(len(mq))

	return func(d time.Duration) (*ck.Message, error) {
		mu.Lock()
		defer mu.Unlock()

		if len(mq) == 0 {
			time.Sleep(time.Millisecond)
			return nil, NewReadTimeoutError()
		}

		m := mq[0]
		mq = mq[1:]
		wg.Done()

		return m, nil
	}, wg
}

// KafkaConsumer is a function-field fake of kafka.Consumer. Invocations are
// counted per method and can be read while the consumer loop is running.
type KafkaConsumer struct {
	ReadMessageFn     func(time.Duration) (*ck.Message, error)
	SubscribeTopicsFn func([]string, ck.RebalanceCb) error
	SeekFn            func(ck.TopicPartition, int) error
	CommitMessageFn   func(*ck.Message) ([]ck.TopicPartition, error)
	PauseFn           func([]ck.TopicPartition) error
	ResumeFn          func([]ck.TopicPartition) error
	CloseFn           func() error

	mu    sync.Mutex
	calls map[string]int
}

func NewKafkaConsumer() *KafkaConsumer {
	return &KafkaConsumer{
		ReadMessageFn: func(d time.Duration) (*ck.Message, error) {
			time.Sleep(time.Millisecond)
			return nil, NewReadTimeoutError()
		},
		SubscribeTopicsFn: func(s []string, rc ck.RebalanceCb) error {
			return nil
		},
	}
}

// Calls returns how often the named method was invoked.
func (c *KafkaConsumer) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls[method]
}

func (c *KafkaConsumer) Invoked(method string) bool {
	return c.Calls(method) > 0
}

func (c *KafkaConsumer) record(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[method]++
}

func (c *KafkaConsumer) ReadMessage(timeout time.Duration) (*ck.Message, error) {
	c.record("ReadMessage")

	return c.ReadMessageFn(timeout)
}

func (c *KafkaConsumer) SubscribeTopics(topics []string, rebalanceCb ck.RebalanceCb) error {
	c.record("SubscribeTopics")

	return c.SubscribeTopicsFn(topics, rebalanceCb)
}

func (c *KafkaConsumer) Seek(topicPartition ck.TopicPartition, timeoutMs int) error {
	c.record("Seek")

	if c.SeekFn != nil {
		return c.SeekFn(topicPartition, timeoutMs)
	}

	return nil
}

func (c *KafkaConsumer) CommitMessage(msg *ck.Message) ([]ck.TopicPartition, error) {
	c.record("CommitMessage")

	if c.CommitMessageFn != nil {
		return c.CommitMessageFn(msg)
	}

	return make([]ck.TopicPartition, 0), nil
}

func (c *KafkaConsumer) Pause(topicPartitions []ck.TopicPartition) error {
	c.record("Pause")

	if c.PauseFn != nil {
		return c.PauseFn(topicPartitions)
	}

	return nil
}

func (c *KafkaConsumer) Resume(topicPartitions []ck.TopicPartition) error {
	c.record("Resume")

	if c.ResumeFn != nil {
		return c.ResumeFn(topicPartitions)
	}

	return nil
}

func (c *KafkaConsumer) Close() error {
	c.record("Close")

	if c.CloseFn != nil {
		return c.CloseFn()
	}

	return nil
}

func NewReadTimeoutError() error {
	return ck.NewError(ck.ErrTimedOut, "read message timeout", false)
}
