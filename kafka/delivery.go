package kafka

import (
	"context"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/kafka"
	"golang.org/x/xerrors"
)

var ErrDeliveryReportTimeout = xerrors.New("waiting for the delivery report timed out")

// Produce enqueues msg and returns the channel its delivery report will be
// written to. The channel is buffered so a report arriving after the caller
// gave up does not block librdkafka.
func Produce(p Producer, msg *ck.Message) (<-chan ck.Event, error) {
	reports := make(chan ck.Event, 1)
	if err := p.Produce(msg, reports); err != nil {
		return nil, xerrors.Errorf("produce to %s: %w", TopicName(msg), err)
	}

	return reports, nil
}

// WaitForDelivery waits for the delivery report of a produced message. It
// fails with ErrDeliveryReportTimeout when no report arrives in time and with
// the partition error when the broker rejected the message.
func WaitForDelivery(ctx context.Context, reports <-chan ck.Event, timeout time.Duration) (*ck.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-reports:
		m, ok := ev.(*ck.Message)
		if !ok {
			return nil, xerrors.Errorf("unexpected delivery event %v", ev)
		}

		if m.TopicPartition.Error != nil {
			return m, xerrors.Errorf("deliver to %s: %w", TopicName(m), m.TopicPartition.Error)
		}

		return m, nil
	case <-timer.C:
		return nil, ErrDeliveryReportTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ProduceAndWait produces msg and waits for its delivery report.
func ProduceAndWait(ctx context.Context, p Producer, msg *ck.Message, timeout time.Duration) (*ck.Message, error) {
	reports, err := Produce(p, msg)
	if err != nil {
		return nil, err
	}

	return WaitForDelivery(ctx, reports, timeout)
}
