package retry

import (
	"fmt"
	"strings"
	"time"

	"github.com/peaceman/kafka-dispatch-go/send"
)

type Config struct {
	PrimaryTopics   []string
	ConsumerGroupId string
	// DelayTopic parks retried messages until RetryDelay has passed. Without
	// it retries are published straight to the retry topic.
	DelayTopic            string
	RetryDelay            time.Duration
	DeliveryReportTimeout time.Duration
	HeaderNames           send.HeaderNames
}

func (c Config) retrySuffix() string {
	return "-retry-" + c.ConsumerGroupId
}

// RetryTopic returns the retry topic for a primary topic. Retry topics map to
// themselves.
func (c Config) RetryTopic(topic string) string {
	if strings.HasSuffix(topic, c.retrySuffix()) {
		return topic
	}

	return fmt.Sprintf("%s%s", topic, c.retrySuffix())
}

func (c Config) topics() (topics []string) {
	for _, t := range c.PrimaryTopics {
		topics = append(topics, t, c.RetryTopic(t))
	}

	return
}
