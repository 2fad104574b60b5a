package mock

import (
	"sync"

	ck "github.com/confluentinc/confluent-kafka-go/kafka"
)

// KafkaProducer is a fake kafka.Producer. Without a ProduceFn every message is
// acknowledged through the delivery channel and kept in Produced.
type KafkaProducer struct {
	ProduceFn func(*ck.Message, chan ck.Event) error

	mu       sync.Mutex
	produced []*ck.Message
}

func (p *KafkaProducer) Close() {}

func (p *KafkaProducer) Produce(m *ck.Message, reportChan chan ck.Event) error {
	p.mu.Lock()
	p.produced = append(p.produced, m)
	p.mu.Unlock()

	if p.ProduceFn != nil {
		return p.ProduceFn(m, reportChan)
	}

	go Acknowledge(m, reportChan, nil)

	return nil
}

// Produced returns every message passed to Produce so far.
func (p *KafkaProducer) Produced() []*ck.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*ck.Message(nil), p.produced...)
}

func (p *KafkaProducer) Invoked() bool {
	return len(p.Produced()) > 0
}

// Acknowledge writes a delivery report for m, optionally carrying a
// partition error.
func Acknowledge(m *ck.Message, reportChan chan ck.Event, err error) {
	report := *m
	report.TopicPartition.Partition = 3
	report.TopicPartition.Offset = 42
	report.TopicPartition.Error = err

	reportChan <- &report
}
