package kafka

import (
	"context"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/kafka"
	"golang.org/x/xerrors"

	"github.com/peaceman/kafka-dispatch-go/message"
	"github.com/peaceman/kafka-dispatch-go/send"
)

type BrokerConfig struct {
	// DelayTopic receives delayed messages until the delay consumer forwards
	// them to their target topic.
	DelayTopic  string
	DelayLevels send.DelayLevels
	HeaderNames send.HeaderNames
	// DeliveryReportTimeout is used when a send passes no timeout.
	DeliveryReportTimeout time.Duration
}

// Broker implements send.Broker on top of a librdkafka producer.
//
// Tags travel in the tag header and the KEYS header becomes the message key.
// Delayed sends are parked in the delay topic with resume-time and
// target-topic headers.
type Broker struct {
	Config   BrokerConfig
	Producer Producer
	now      func() time.Time
}

func NewBroker(config BrokerConfig, producer Producer) *Broker {
	if config.DelayLevels == nil {
		config.DelayLevels = send.DefaultDelayLevels
	}

	if config.HeaderNames == (send.HeaderNames{}) {
		config.HeaderNames = send.DefaultHeaderNames
	}

	if config.DeliveryReportTimeout <= 0 {
		config.DeliveryReportTimeout = 10 * time.Second
	}

	return &Broker{
		Config:   config,
		Producer: producer,
		now:      time.Now,
	}
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

	reports, err := Produce(b.Producer, msg)
	if err != nil {
		return send.Result{}, err
	}

	return b.await(ctx, reports, msg, timeout)
}

func (b *Broker) AsyncSendDelayed(ctx context.Context, out send.Outbound, timeout time.Duration, delayLevel int, cb send.Callback) {
	msg, err := b.buildMessage(out, delayLevel)
	if err != nil {
		cb.OnError(err)
		return
	}

	reports, err := Produce(b.Producer, msg)
	if err != nil {
		cb.OnError(err)
		return
	}

	// Completion is bounded by the timeout, not by the caller's context.
	waitCtx := context.WithoutCancel(ctx)
	go func() {
		result, err := b.await(waitCtx, reports, msg, timeout)
		if err != nil {
			cb.OnError(err)
			return
		}

		cb.OnSuccess(result)
	}()
}

func (b *Broker) await(ctx context.Context, reports <-chan ck.Event, msg *ck.Message, timeout time.Duration) (send.Result, error) {
	if timeout <= 0 {
		timeout = b.Config.DeliveryReportTimeout
	}

	report, err := WaitForDelivery(ctx, reports, timeout)
	if xerrors.Is(err, ErrDeliveryReportTimeout) {
		return send.Result{Status: send.StatusUnconfirmed, Topic: TopicName(msg)}, nil
	}
	if err != nil {
		return send.Result{}, err
	}

	return send.Result{
		Status:    send.StatusOK,
		Topic:     TopicName(report),
		Partition: report.TopicPartition.Partition,
		Offset:    int64(report.TopicPartition.Offset),
	}, nil
}

func (b *Broker) buildMessage(out send.Outbound, delayLevel int) (*ck.Message, error) {
	topic, tag, err := send.ParseDestination(out.Destination)
	if err != nil {
		return nil, err
	}

	value, err := message.Encode(out.Message)
	if err != nil {
		return nil, err
	}

	msg := &ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &topic, Partition: ck.PartitionAny},
		Value:          value,
	}

	for k, v := range out.Headers {
		if k == send.KeysHeader {
			if v != "" {
				msg.Key = []byte(v)
			}
			continue
		}
		SetHeader(msg, k, v)
	}

	if tag != "" {
		SetHeader(msg, b.Config.HeaderNames.Tag, tag)
	}

	delay := b.Config.DelayLevels.Duration(delayLevel)
	if delay <= 0 {
		return msg, nil
	}

	if b.Config.DelayTopic == "" {
		return nil, xerrors.Errorf("delay level %d requested for %s but no delay topic is configured", delayLevel, out.Destination)
	}

	delayTopic := b.Config.DelayTopic
	msg.TopicPartition.Topic = &delayTopic
	SetHeader(msg, b.Config.HeaderNames.TargetTopic, topic)
	SetHeader(msg, b.Config.HeaderNames.ResumeTime, b.now().Add(delay).Format(time.RFC3339))

	return msg, nil
}
