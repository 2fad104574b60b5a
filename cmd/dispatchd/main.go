package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"github.com/IBM/sarama"
	goredis "github.com/go-redis/redis/v8"

	"github.com/peaceman/kafka-dispatch-go/config"
	"github.com/peaceman/kafka-dispatch-go/delay"
	"github.com/peaceman/kafka-dispatch-go/kafka"
	"github.com/peaceman/kafka-dispatch-go/message"
	"github.com/peaceman/kafka-dispatch-go/redis"
	"github.com/peaceman/kafka-dispatch-go/retry"
	"github.com/peaceman/kafka-dispatch-go/saramabroker"
	"github.com/peaceman/kafka-dispatch-go/send"
)

func main() {
	configPath := flag.String("config", "", "path to the toml config file")
	publish := flag.Int("publish", 0, "number of demo entities to publish on startup")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.Make(sloghuman.Sink(os.Stderr)).Leveled(slog.LevelDebug)

	if err := run(ctx, logger, *configPath, *publish); err != nil {
		logger.Fatal(ctx, "dispatchd failed", slog.Error(err))
	}
}

func run(ctx context.Context, logger slog.Logger, configPath string, publish int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	brokers := strings.Join(cfg.Kafka.Brokers, ",")

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		return err
	}
	defer producer.Close()

	broker, closeBroker, err := newBroker(cfg, producer)
	if err != nil {
		return err
	}
	defer closeBroker()

	template := send.NewTemplate(broker, cfg.TemplateConfig(), logger)

	var failures retry.FailureStorage
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		defer client.Close()

		failures = &redis.FailureStorage{Redis: client, Config: cfg.FailureStorageConfig()}
	}

	var stops []func()
	var dones []<-chan struct{}

	if cfg.Kafka.DelayTopic != "" {
		delayKafkaConsumer, err := kafka.NewConsumer(brokers, cfg.Kafka.GroupID+"-delay")
		if err != nil {
			return err
		}
		defer delayKafkaConsumer.Close()

		delayConsumer := &delay.Consumer{
			Config:   cfg.DelayConfig(),
			Consumer: delayKafkaConsumer,
			Producer: producer,
			Logger:   logger.Named("delay"),
		}

		done, err := delayConsumer.Start(ctx)
		if err != nil {
			return err
		}
		stops = append(stops, delayConsumer.Stop)
		dones = append(dones, done)
	}

	retryKafkaConsumer, err := kafka.NewConsumer(brokers, cfg.Kafka.GroupID)
	if err != nil {
		return err
	}
	defer retryKafkaConsumer.Close()

	handler := entityHandler{logger: logger.Named("entities")}
	retryConsumer := &retry.Consumer[EntityMessage]{
		Config:   cfg.RetryConfig(),
		Consumer: retryKafkaConsumer,
		Producer: producer,
		Wrapper:  retry.NewWrapper(retry.WithPolicy[EntityMessage](handler.Handle, cfg.RetryPolicy()), logger),
		Failures: failures,
		Logger:   logger.Named("retry"),
	}

	done, err := retryConsumer.Start(ctx)
	if err != nil {
		return err
	}
	stops = append(stops, retryConsumer.Stop)
	dones = append(dones, done)

	for i := 0; i < publish; i++ {
		msg := message.New(EntityMessage{Data: fmt.Sprintf("entity %d", i)},
			message.WithSource("dispatchd"),
			message.WithKey(fmt.Sprintf("entity-%d", i)),
		)
		// default callback logs the outcome
		if err := template.AsyncSendTag(ctx, cfg.Kafka.Topics[0], "created", msg, nil); err != nil {
			logger.Error(ctx, "failed to publish demo entity", slog.Error(err))
		}
	}

	logger.Info(ctx, "dispatchd started",
		slog.F("topics", cfg.Kafka.Topics),
		slog.F("delay_topic", cfg.Kafka.DelayTopic),
		slog.F("client", cfg.Kafka.Client),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info(ctx, "shutting down")
	for _, stop := range stops {
		stop()
	}
	for _, done := range dones {
		<-done
	}

	return nil
}

func newBroker(cfg config.Config, producer kafka.Producer) (send.Broker, func(), error) {
	if cfg.Kafka.Client != config.ClientSarama {
		return kafka.NewBroker(cfg.BrokerConfig(), producer), func() {}, nil
	}

	syncProducer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, saramabroker.NewProducerConfig())
	if err != nil {
		return nil, nil, err
	}

	broker := saramabroker.NewBroker(syncProducer,
		saramabroker.WithDelayTopic(cfg.Kafka.DelayTopic),
		saramabroker.WithSendTimeout(cfg.Kafka.DeliveryReportTimeout),
	)

	return broker, func() { _ = syncProducer.Close() }, nil
}
