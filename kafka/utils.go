package kafka

import (
	"errors"

	ck "github.com/confluentinc/confluent-kafka-go/kafka"
)

func SearchHeaderValue(headers []ck.Header, key string) []byte {
	for _, h := range headers {
		if h.Key == key {
			return h.Value
		}
	}

	return nil
}

func RemoveHeaders(headerNames []string, msg *ck.Message) {
	set := make(map[string]struct{}, len(headerNames))
	for _, n := range headerNames {
		set[n] = struct{}{}
	}

	fh := make([]ck.Header, 0, len(msg.Headers))
	for _, header := range msg.Headers {
		if _, ok := set[header.Key]; !ok {
			fh = append(fh, header)
		}
	}

	msg.Headers = fh
}

// SetHeader replaces every header named key with a single one.
func SetHeader(msg *ck.Message, key, value string) {
	RemoveHeaders([]string{key}, msg)
	msg.Headers = append(msg.Headers, ck.Header{Key: key, Value: []byte(value)})
}

func IsReadTimeout(err error) bool {
	var kafkaError ck.Error
	if !errors.As(err, &kafkaError) {
		return false
	}

	return kafkaError.Code() == ck.ErrTimedOut
}

// TopicName returns the topic of the message or an empty string.
func TopicName(msg *ck.Message) string {
	if msg == nil || msg.TopicPartition.Topic == nil {
		return ""
	}

	return *msg.TopicPartition.Topic
}
