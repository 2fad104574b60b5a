// Package saramabroker implements send.Broker on top of a sarama
// SyncProducer, for deployments that run without librdkafka.
package saramabroker

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"golang.org/x/xerrors"

	"github.com/peaceman/kafka-dispatch-go/message"
	"github.com/peaceman/kafka-dispatch-go/send"
)

type Opts func(*Broker)

func WithDelayTopic(topic string) Opts {
	return func(b *Broker) {
		b.delayTopic = topic
	}
}

func WithDelayLevels(levels send.DelayLevels) Opts {
	return func(b *Broker) {
		b.delayLevels = levels
	}
}

func WithHeaderNames(names send.HeaderNames) Opts {
	return func(b *Broker) {
		b.headerNames = names
	}
}

// WithSendTimeout sets the timeout used when a send passes none.
func WithSendTimeout(timeout time.Duration) Opts {
	return func(b *Broker) {
		b.sendTimeout = timeout
	}
}

type Broker struct {
	producer    sarama.SyncProducer
	delayTopic  string
	delayLevels send.DelayLevels
	headerNames send.HeaderNames
	sendTimeout time.Duration
	now         func() time.Time
}

// NewProducerConfig returns the producer settings the broker relies on.
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Net.DialTimeout = 10 * time.Second

	return config
}

func NewBroker(producer sarama.SyncProducer, opt ...Opts) *Broker {
	b := &Broker{
		producer:    producer,
		delayLevels: send.DefaultDelayLevels,
		headerNames: send.DefaultHeaderNames,
		sendTimeout: 10 * time.Second,
		now:         time.Now,
	}

	for _, o := range opt {
		o(b)
	}

	return b
}

type sendResult struct {
	partition int32
	offset    int64
	err       error
}

func (b *Broker) SyncSend(ctx context.Context, out send.Outbound, timeout time.Duration) (send.Result, error) {
	return b.SyncSendDelayed(ctx, out, timeout, 0)
}

func (b *Broker) AsyncSend(ctx context.Context, out send.Outbound, timeout time.Duration, cb send.Callback) {
	b.AsyncSendDelayed(ctx, out, timeout, 0, cb)
}

func (b *Broker) SyncSendDelayed(ctx context.Context, out send.Outbound, timeout time.Duration, delayLevel int) (send.Result, error) {
	msg, err := b.buildMessage(out, delayLevel)
	if err != nil {
		return send.Result{}, err
	}

	return b.await(ctx, b.start(msg), msg, timeout)
}

func (b *Broker) AsyncSendDelayed(ctx context.Context, out send.Outbound, timeout time.Duration, delayLevel int, cb send.Callback) {
	msg, err := b.buildMessage(out, delayLevel)
	if err != nil {
		cb.OnError(err)
		return
	}

	results := b.start(msg)
	// Completion is bounded by the timeout, not by the caller's context.
	waitCtx := context.WithoutCancel(ctx)
	go func() {
		result, err := b.await(waitCtx, results, msg, timeout)
		if err != nil {
			cb.OnError(err)
			return
		}

		cb.OnSuccess(result)
	}()
}

// start hands msg to the producer. The returned channel receives exactly one
// result, even when nobody waits for it anymore.
func (b *Broker) start(msg *sarama.ProducerMessage) <-chan sendResult {
	results := make(chan sendResult, 1)
	go func() {
		partition, offset, err := b.producer.SendMessage(msg)
		results <- sendResult{partition: partition, offset: offset, err: err}
	}()

	return results
}

func (b *Broker) await(ctx context.Context, results <-chan sendResult, msg *sarama.ProducerMessage, timeout time.Duration) (send.Result, error) {
	if timeout <= 0 {
		timeout = b.sendTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-results:
		if r.err != nil {
			return send.Result{}, xerrors.Errorf("send to %s: %w", msg.Topic, r.err)
		}

		return send.Result{
			Status:    send.StatusOK,
			Topic:     msg.Topic,
			Partition: r.partition,
			Offset:    r.offset,
		}, nil
	case <-timer.C:
		return send.Result{Status: send.StatusUnconfirmed, Topic: msg.Topic}, nil
	case <-ctx.Done():
		return send.Result{}, ctx.Err()
	}
}

func (b *Broker) buildMessage(out send.Outbound, delayLevel int) (*sarama.ProducerMessage, error) {
	topic, tag, err := send.ParseDestination(out.Destination)
	if err != nil {
		return nil, err
	}

	value, err := message.Encode(out.Message)
	if err != nil {
		return nil, err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}

	for k, v := range out.Headers {
		if k == send.KeysHeader {
			if v != "" {
				msg.Key = sarama.StringEncoder(v)
			}
			continue
		}
		setHeader(msg, k, v)
	}

	if tag != "" {
		setHeader(msg, b.headerNames.Tag, tag)
	}

	delay := b.delayLevels.Duration(delayLevel)
	if delay <= 0 {
		return msg, nil
	}

	if b.delayTopic == "" {
		return nil, xerrors.Errorf("delay level %d requested for %s but no delay topic is configured", delayLevel, out.Destination)
	}

	msg.Topic = b.delayTopic
	setHeader(msg, b.headerNames.TargetTopic, topic)
	setHeader(msg, b.headerNames.ResumeTime, b.now().Add(delay).Format(time.RFC3339))

	return msg, nil
}

func setHeader(msg *sarama.ProducerMessage, key string, value string) {
	for i := range msg.Headers {
		if string(msg.Headers[i].Key) == key {
			msg.Headers[i].Value = []byte(value)
			return
		}
	}

	msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}
