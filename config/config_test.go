package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peaceman/kafka-dispatch-go/send"
)

const sampleConfig = `
[kafka]
brokers = ["localhost:9092"]
group_id = "billing"
topics = ["orders", "payments"]
delay_topic = "delay"
delivery_report_timeout = "5s"
client = "sarama"

[retry]
enabled = true
max_retries = 5
delay = "30s"

[send]
timeout = "2s"
delay_timeout = "4s"

[redis]
addr = "localhost:6379"
key_prefix = "billing"
ttl = "1h"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dispatch.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "billing", cfg.Kafka.GroupID)
	assert.Equal(t, []string{"orders", "payments"}, cfg.Kafka.Topics)
	assert.Equal(t, 5*time.Second, cfg.Kafka.DeliveryReportTimeout)
	assert.Equal(t, ClientSarama, cfg.Kafka.Client)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Retry.Delay)
	assert.Equal(t, 2*time.Second, cfg.Send.Timeout)
	assert.Equal(t, 4*time.Second, cfg.Send.DelayTimeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[kafka]\nbrokers = [\"b:9092\"]\ntopics = [\"orders\"]\n"))
	require.NoError(t, err)

	assert.Equal(t, ClientConfluent, cfg.Kafka.Client)
	assert.Equal(t, "dispatch", cfg.Kafka.GroupID)
	assert.True(t, cfg.Retry.Enabled)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Duration(0), cfg.Send.Timeout)
	assert.Equal(t, send.DefaultDelayTimeout, cfg.Send.DelayTimeout)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DISPATCH_KAFKA_GROUP_ID", "from-env")
	t.Setenv("DISPATCH_RETRY_MAX_RETRIES", "7")
	t.Setenv("DISPATCH_SEND_DELAY_TIMEOUT", "1s")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Kafka.GroupID)
	assert.Equal(t, 7, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Send.DelayTimeout)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Kafka: KafkaSettings{Brokers: []string{"b"}, Topics: []string{"t"}, Client: ClientConfluent},
			Retry: RetrySettings{MaxRetries: 1},
			Send:  SendSettings{DelayTimeout: time.Second},
		}
	}

	require.NoError(t, valid().Validate())

	tests := map[string]func(*Config){
		"no brokers":         func(c *Config) { c.Kafka.Brokers = nil },
		"no topics":          func(c *Config) { c.Kafka.Topics = nil },
		"unknown client":     func(c *Config) { c.Kafka.Client = "franz" },
		"negative retries":   func(c *Config) { c.Retry.MaxRetries = -1 },
		"zero delay timeout": func(c *Config) { c.Send.DelayTimeout = 0 },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	rc := cfg.RetryConfig()
	assert.Equal(t, "orders-retry-billing", rc.RetryTopic("orders"))
	assert.Equal(t, "delay", rc.DelayTopic)
	assert.Equal(t, 30*time.Second, rc.RetryDelay)

	assert.Equal(t, []string{"delay"}, cfg.DelayConfig().Topics)
	assert.Equal(t, send.Config{SendTimeout: 2 * time.Second, DelayTimeout: 4 * time.Second}, cfg.TemplateConfig())
	assert.Equal(t, "delay", cfg.BrokerConfig().DelayTopic)
	assert.Equal(t, 5, cfg.RetryPolicy().MaxRetries())
	assert.Equal(t, "billing", cfg.FailureStorageConfig().KeyPrefix)
}
