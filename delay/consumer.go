// Package delay forwards messages parked in delay topics to their target
// topic once their resume time is reached. It backs delayed sends and
// delayed retries.
package delay

import (
	"context"
	"time"

	"cdr.dev/slog/v3"
	ck "github.com/confluentinc/confluent-kafka-go/kafka"
	"golang.org/x/xerrors"

	"github.com/peaceman/kafka-dispatch-go/kafka"
	"github.com/peaceman/kafka-dispatch-go/send"
)

type Config struct {
	HeaderNames           send.HeaderNames
	Topics                []string
	DeliveryReportTimeout time.Duration
}

type messageDelayConfig struct {
	targetTopic string
	resumeTime  time.Time
}

type Consumer struct {
	Config   Config
	Consumer kafka.Consumer
	Producer kafka.Producer
	Logger   slog.Logger

	cancel context.CancelFunc
}

func (c *Consumer) Start(ctx context.Context) (<-chan struct{}, error) {
	if err := c.Consumer.SubscribeTopics(c.Config.Topics, nil); err != nil {
		return nil, xerrors.Errorf("subscribe to delay topics %v: %w", c.Config.Topics, err)
	}

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
				c.handle(ctx, loopCtx, msg)
			}
		}
	}()

	return doneChan, nil
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Consumer) handle(ctx, loopCtx context.Context, msg *ck.Message) {
	delayConfig, err := c.parseDelayConfigFromMessage(msg)
	if err != nil {
		c.Logger.Error(ctx, "failed to parse delay config from message, skipping message",
			slog.F("topic", kafka.TopicName(msg)),
			slog.Error(err),
		)
		c.commit(ctx, msg)
		return
	}

	if time.Now().Before(delayConfig.resumeTime) {
		// the partition is paused until the resume time is reached and the
		// message is read again afterwards
		c.Consumer.Pause([]ck.TopicPartition{msg.TopicPartition})
		go c.resumeTopicConsumption(loopCtx, msg.TopicPartition, delayConfig.resumeTime)
		c.Consumer.Seek(msg.TopicPartition, 0)
		return
	}

	c.Logger.Debug(ctx, "message reached resume time",
		slog.F("target_topic", delayConfig.targetTopic),
		slog.F("resume_time", delayConfig.resumeTime),
	)

	if err := c.republishMessage(ctx, delayConfig.targetTopic, msg); err != nil {
		c.Logger.Error(ctx, "failed to republish delayed message",
			slog.F("target_topic", delayConfig.targetTopic),
			slog.Error(err),
		)
		c.Consumer.Seek(msg.TopicPartition, 0)
		return
	}

	c.commit(ctx, msg)
}

func (c *Consumer) resumeTopicConsumption(ctx context.Context, topicPartition ck.TopicPartition, resumeTime time.Time) {
	sleepTime := time.Until(resumeTime)
	c.Logger.Debug(ctx, "pausing topic consumption",
		slog.F("topic", topicName(topicPartition)),
		slog.F("sleep", sleepTime),
	)

	timer := time.NewTimer(sleepTime)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	c.Logger.Debug(ctx, "resuming topic consumption", slog.F("topic", topicName(topicPartition)))
	if err := c.Consumer.Resume([]ck.TopicPartition{topicPartition}); err != nil {
		c.Logger.Warn(ctx, "failed to resume topic consumption", slog.Error(err))
	}
}

func (c *Consumer) republishMessage(ctx context.Context, targetTopic string, msg *ck.Message) error {
	pmsg := *msg
	pmsg.Headers = append([]ck.Header(nil), msg.Headers...)
	kafka.RemoveHeaders(c.headerNames().DelayNames(), &pmsg)
	pmsg.TopicPartition = ck.TopicPartition{Topic: &targetTopic, Partition: ck.PartitionAny}

	_, err := kafka.ProduceAndWait(ctx, c.Producer, &pmsg, c.Config.DeliveryReportTimeout)
	return err
}

func (c *Consumer) commit(ctx context.Context, msg *ck.Message) {
	if _, err := c.Consumer.CommitMessage(msg); err != nil {
		c.Logger.Warn(ctx, "failed to commit message", slog.Error(err))
	}
}

func (c *Consumer) headerNames() send.HeaderNames {
	if c.Config.HeaderNames == (send.HeaderNames{}) {
		return send.DefaultHeaderNames
	}

	return c.Config.HeaderNames
}

func (c *Consumer) parseDelayConfigFromMessage(msg *ck.Message) (*messageDelayConfig, error) {
	names := c.headerNames()

	resumeTimeHeaderValue := string(kafka.SearchHeaderValue(msg.Headers, names.ResumeTime))
	resumeTime, err := time.Parse(time.RFC3339, resumeTimeHeaderValue)
	if err != nil {
		return nil, xerrors.Errorf("parse resume time: %w", err)
	}

	targetTopic := string(kafka.SearchHeaderValue(msg.Headers, names.TargetTopic))
	if targetTopic == "" {
		return nil, xerrors.New("missing target topic in message headers")
	}

	return &messageDelayConfig{
		resumeTime:  resumeTime,
		targetTopic: targetTopic,
	}, nil
}

func topicName(tp ck.TopicPartition) string {
	if tp.Topic == nil {
		return ""
	}

	return *tp.Topic
}
