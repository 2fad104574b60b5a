package retry

import (
	"context"
	"time"

	"cdr.dev/slog/v3"
	ck "github.com/confluentinc/confluent-kafka-go/kafka"
	"golang.org/x/xerrors"

	"github.com/peaceman/kafka-dispatch-go/kafka"
	"github.com/peaceman/kafka-dispatch-go/message"
	"github.com/peaceman/kafka-dispatch-go/send"
)

// Consumer feeds messages from the primary topics and their retry topics
// through a Wrapper and performs the redelivery the wrapper asks for.
//
// A retried message is re-encoded with its incremented retry count and
// published to its retry topic, through the delay topic when one is
// configured. Only then is the incoming message committed. If that publish
// fails the consumer seeks back so the message is read again. The failed try
// is already in the failure storage by then, so the message is redelivered
// without running the handler a second time.
type Consumer[T any] struct {
	Config   Config
	Consumer kafka.Consumer
	Producer kafka.Producer
	Wrapper  *Wrapper[T]
	// Failures is optional.
	Failures FailureStorage
	Logger   slog.Logger

	now    func() time.Time
	cancel context.CancelFunc
}

func (c *Consumer[T]) Start(ctx context.Context) (<-chan struct{}, error) {
	if err := c.Consumer.SubscribeTopics(c.Config.topics(), nil); err != nil {
		return nil, xerrors.Errorf("subscribe to %v: %w", c.Config.PrimaryTopics, err)
	}

	// Stop only ends the loop. A message being handled is finished with ctx.
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	doneChan := make(chan struct{})

	go func() {
		defer close(doneChan)

		for loopCtx.Err() == nil {
			msg, err := c.Consumer.ReadMessage(time.Millisecond * 100)
			if kafka.IsReadTimeout(err) {
				continue
			}

			if err != nil {
				c.Logger.Warn(ctx, "consumer error", slog.Error(err))
				continue
			}

			if msg != nil {
				c.handle(ctx, msg)
			}
		}
	}()

	return doneChan, nil
}

func (c *Consumer[T]) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Consumer[T]) handle(ctx context.Context, msg *ck.Message) {
	env, err := message.Decode[T](msg.Value)
	if err != nil {
		c.Logger.Error(ctx, "skipping undecodable message",
			slog.F("topic", kafka.TopicName(msg)),
			slog.F("offset", msg.TopicPartition.Offset),
			slog.Error(err),
		)
		c.commit(ctx, msg)
		return
	}

	switch c.lookup(ctx, env) {
	case ledgerTerminal:
		c.Logger.Info(ctx, "message already failed terminally, committing",
			slog.F("trace_id", env.TraceID),
			slog.F("retry_count", env.RetryCount),
		)
		c.commit(ctx, msg)
		return
	case ledgerFailed:
		// a redelivery of this try was attempted but not committed
		c.Logger.Info(ctx, "try already failed, redelivering without handling",
			slog.F("trace_id", env.TraceID),
			slog.F("retry_count", env.RetryCount),
		)
		env.IncrementRetry()
		c.redeliver(ctx, msg, env)
		return
	}

	result := c.Wrapper.Dispatch(ctx, env)
	switch {
	case result.Outcome == RetryRequested:
		c.record(ctx, env, func(s FailureStorage, key string) error {
			return s.MarkFailure(ctx, key, env.RetryCount-1, env.TraceID)
		})
		c.redeliver(ctx, msg, env)
		return
	case result.Err != nil:
		c.record(ctx, env, func(s FailureStorage, key string) error {
			return s.MarkTerminal(ctx, key, env.TraceID)
		})
	default:
		c.record(ctx, env, func(s FailureStorage, key string) error {
			return s.MarkSuccess(ctx, key, env.TraceID)
		})
	}

	c.commit(ctx, msg)
}

// redeliver publishes env for its next try and commits msg, or seeks back to
// msg when publishing fails.
func (c *Consumer[T]) redeliver(ctx context.Context, msg *ck.Message, env *message.Envelope[T]) {
	if err := c.republish(ctx, msg, env); err != nil {
		c.Logger.Error(ctx, "failed to republish message for retry",
			slog.F("trace_id", env.TraceID),
			slog.F("retry_count", env.RetryCount),
			slog.Error(err),
		)
		c.seek(ctx, msg)
		return
	}

	c.commit(ctx, msg)
}

type ledgerState int

const (
	ledgerUnknown ledgerState = iota
	ledgerFailed
	ledgerTerminal
)

// lookup asks the failure storage what is already known about this delivery.
// Storage errors are logged and the message is handled normally.
func (c *Consumer[T]) lookup(ctx context.Context, env *message.Envelope[T]) ledgerState {
	if c.Failures == nil {
		return ledgerUnknown
	}

	key := c.ledgerKey(env)
	warn := func(err error) {
		c.Logger.Warn(ctx, "failed to read the failure storage",
			slog.F("trace_id", env.TraceID),
			slog.F("key", key),
			slog.Error(err),
		)
	}

	terminal, err := c.Failures.IsTerminal(ctx, key, env.TraceID)
	if err != nil {
		warn(err)
		return ledgerUnknown
	}
	if terminal {
		return ledgerTerminal
	}

	failed, err := c.Failures.HasFailed(ctx, key, env.RetryCount, env.TraceID)
	if err != nil {
		warn(err)
		return ledgerUnknown
	}
	if failed {
		return ledgerFailed
	}

	return ledgerUnknown
}

func (c *Consumer[T]) republish(ctx context.Context, incoming *ck.Message, env *message.Envelope[T]) error {
	source := kafka.TopicName(incoming)
	if source == "" {
		return xerrors.New("message without a topic cannot be retried")
	}

	value, err := message.Encode(env)
	if err != nil {
		return err
	}

	target := c.Config.RetryTopic(source)
	msg := &ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &target, Partition: ck.PartitionAny},
		Key:            incoming.Key,
		Value:          value,
		Headers:        append([]ck.Header(nil), incoming.Headers...),
	}

	names := c.headerNames()
	kafka.RemoveHeaders(names.DelayNames(), msg)

	if c.Config.DelayTopic != "" {
		delayTopic := c.Config.DelayTopic
		msg.TopicPartition.Topic = &delayTopic
		kafka.SetHeader(msg, names.TargetTopic, target)
		kafka.SetHeader(msg, names.ResumeTime, c.clock().Add(c.Config.RetryDelay).Format(time.RFC3339))
	}

	_, err = kafka.ProduceAndWait(ctx, c.Producer, msg, c.Config.DeliveryReportTimeout)
	return err
}

func (c *Consumer[T]) record(ctx context.Context, env *message.Envelope[T], fn func(FailureStorage, string) error) {
	if c.Failures == nil {
		return
	}

	key := c.ledgerKey(env)
	if err := fn(c.Failures, key); err != nil {
		c.Logger.Warn(ctx, "failed to update the failure storage",
			slog.F("trace_id", env.TraceID),
			slog.F("key", key),
			slog.Error(err),
		)
	}
}

// ledgerKey is the business key of the message, or its trace id without one.
func (c *Consumer[T]) ledgerKey(env *message.Envelope[T]) string {
	if env.Key != "" {
		return env.Key
	}

	return env.TraceID
}

func (c *Consumer[T]) commit(ctx context.Context, msg *ck.Message) {
	if _, err := c.Consumer.CommitMessage(msg); err != nil {
		c.Logger.Warn(ctx, "failed to commit message", slog.F("topic", kafka.TopicName(msg)), slog.Error(err))
	}
}

func (c *Consumer[T]) seek(ctx context.Context, msg *ck.Message) {
	if err := c.Consumer.Seek(msg.TopicPartition, 0); err != nil {
		c.Logger.Warn(ctx, "failed to seek back", slog.F("topic", kafka.TopicName(msg)), slog.Error(err))
	}
}

func (c *Consumer[T]) headerNames() send.HeaderNames {
	if c.Config.HeaderNames == (send.HeaderNames{}) {
		return send.DefaultHeaderNames
	}

	return c.Config.HeaderNames
}

func (c *Consumer[T]) clock() time.Time {
	if c.now != nil {
		return c.now()
	}

	return time.Now()
}
