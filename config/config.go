// Package config loads the dispatcher settings from an optional toml file,
// a .env file and DISPATCH_* environment variables.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"

	"github.com/peaceman/kafka-dispatch-go/delay"
	"github.com/peaceman/kafka-dispatch-go/kafka"
	"github.com/peaceman/kafka-dispatch-go/redis"
	"github.com/peaceman/kafka-dispatch-go/retry"
	"github.com/peaceman/kafka-dispatch-go/send"
)

const (
	ClientConfluent = "confluent"
	ClientSarama    = "sarama"
)

type KafkaSettings struct {
	Brokers               []string      `mapstructure:"brokers"`
	GroupID               string        `mapstructure:"group_id"`
	Topics                []string      `mapstructure:"topics"`
	DelayTopic            string        `mapstructure:"delay_topic"`
	DeliveryReportTimeout time.Duration `mapstructure:"delivery_report_timeout"`
	// Client selects the producer behind the send template.
	Client string `mapstructure:"client"`
}

type RetrySettings struct {
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	Delay      time.Duration `mapstructure:"delay"`
}

type SendSettings struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	DelayTimeout time.Duration `mapstructure:"delay_timeout"`
}

type RedisSettings struct {
	// Addr is optional. Without it no delivery ledger is kept.
	Addr      string        `mapstructure:"addr"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type Config struct {
	Kafka KafkaSettings `mapstructure:"kafka"`
	Retry RetrySettings `mapstructure:"retry"`
	Send  SendSettings  `mapstructure:"send"`
	Redis RedisSettings `mapstructure:"redis"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.group_id", "dispatch")
	v.SetDefault("kafka.topics", []string{})
	v.SetDefault("kafka.delay_topic", "")
	v.SetDefault("kafka.delivery_report_timeout", 10*time.Second)
	v.SetDefault("kafka.client", ClientConfluent)

	v.SetDefault("retry.enabled", true)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.delay", 10*time.Second)

	v.SetDefault("send.timeout", time.Duration(0))
	v.SetDefault("send.delay_timeout", send.DefaultDelayTimeout)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.key_prefix", "")
	v.SetDefault("redis.ttl", 7*24*time.Hour)
}

// Load reads the configuration. An empty path looks for dispatch.toml in the
// working directory and tolerates its absence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, xerrors.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dispatch")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, xerrors.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, xerrors.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return xerrors.New("kafka.brokers is required")
	}

	if len(c.Kafka.Topics) == 0 {
		return xerrors.New("kafka.topics is required")
	}

	if c.Kafka.Client != ClientConfluent && c.Kafka.Client != ClientSarama {
		return xerrors.Errorf("kafka.client must be %q or %q, got %q", ClientConfluent, ClientSarama, c.Kafka.Client)
	}

	if c.Retry.MaxRetries < 0 {
		return xerrors.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}

	if c.Send.DelayTimeout <= 0 {
		return xerrors.Errorf("send.delay_timeout must be positive, got %s", c.Send.DelayTimeout)
	}

	return nil
}

func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{Enabled: c.Retry.Enabled, Max: c.Retry.MaxRetries}
}

func (c Config) RetryConfig() retry.Config {
	return retry.Config{
		PrimaryTopics:         c.Kafka.Topics,
		ConsumerGroupId:       c.Kafka.GroupID,
		DelayTopic:            c.Kafka.DelayTopic,
		RetryDelay:            c.Retry.Delay,
		DeliveryReportTimeout: c.Kafka.DeliveryReportTimeout,
		HeaderNames:           send.DefaultHeaderNames,
	}
}

// DelayConfig is only meaningful when a delay topic is configured.
func (c Config) DelayConfig() delay.Config {
	return delay.Config{
		HeaderNames:           send.DefaultHeaderNames,
		Topics:                []string{c.Kafka.DelayTopic},
		DeliveryReportTimeout: c.Kafka.DeliveryReportTimeout,
	}
}

func (c Config) TemplateConfig() send.Config {
	return send.Config{
		SendTimeout:  c.Send.Timeout,
		DelayTimeout: c.Send.DelayTimeout,
	}
}

func (c Config) BrokerConfig() kafka.BrokerConfig {
	return kafka.BrokerConfig{
		DelayTopic:            c.Kafka.DelayTopic,
		DelayLevels:           send.DefaultDelayLevels,
		HeaderNames:           send.DefaultHeaderNames,
		DeliveryReportTimeout: c.Kafka.DeliveryReportTimeout,
	}
}

func (c Config) FailureStorageConfig() *redis.FailureStorageConfig {
	return &redis.FailureStorageConfig{
		KeyPrefix: c.Redis.KeyPrefix,
		TTL:       c.Redis.TTL,
	}
}
