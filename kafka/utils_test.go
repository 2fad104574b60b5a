package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/go-cmp/cmp"

	"github.com/peaceman/kafka-dispatch-go/mock"
)

func TestHeaders(t *testing.T) {
	msg := &ck.Message{
		Headers: []ck.Header{
			{Key: "a", Value: []byte("1")},
			{Key: "b", Value: []byte("2")},
			{Key: "a", Value: []byte("3")},
		},
	}

	if v := string(SearchHeaderValue(msg.Headers, "a")); v != "1" {
		t.Fatalf("Expected the first value, got %q", v)
	}

	if SearchHeaderValue(msg.Headers, "c") != nil {
		t.Fatal("Expected nil for a missing header")
	}

	SetHeader(msg, "a", "4")
	want := []ck.Header{
		{Key: "b", Value: []byte("2")},
		{Key: "a", Value: []byte("4")},
	}
	if !cmp.Equal(want, msg.Headers) {
		t.Fatalf("Unexpected headers: %s", cmp.Diff(want, msg.Headers))
	}

	RemoveHeaders([]string{"a", "b"}, msg)
	if len(msg.Headers) != 0 {
		t.Fatalf("Expected no headers, got %v", msg.Headers)
	}
}

func TestIsReadTimeout(t *testing.T) {
	if !IsReadTimeout(mock.NewReadTimeoutError()) {
		t.Fatal("Expected a read timeout")
	}

	if IsReadTimeout(errors.New("other")) || IsReadTimeout(nil) {
		t.Fatal("Unexpected read timeout")
	}
}

func TestTopicName(t *testing.T) {
	topic := "orders"
	if TopicName(&ck.Message{TopicPartition: ck.TopicPartition{Topic: &topic}}) != topic {
		t.Fatal("Unexpected topic name")
	}

	if TopicName(nil) != "" || TopicName(&ck.Message{}) != "" {
		t.Fatal("Expected an empty topic name")
	}
}

func TestWaitForDelivery(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		_, err := WaitForDelivery(context.Background(), make(chan ck.Event), time.Millisecond)
		if !errors.Is(err, ErrDeliveryReportTimeout) {
			t.Fatalf("Expected ErrDeliveryReportTimeout, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := WaitForDelivery(ctx, make(chan ck.Event), time.Second)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Expected context.Canceled, got %v", err)
		}
	})

	t.Run("unexpected event", func(t *testing.T) {
		reports := make(chan ck.Event, 1)
		reports <- ck.NewError(ck.ErrAllBrokersDown, "down", false)

		if _, err := WaitForDelivery(context.Background(), reports, time.Second); err == nil {
			t.Fatal("Expected an error for a non message event")
		}
	})

	t.Run("delivered", func(t *testing.T) {
		topic := "orders"
		m, err := ProduceAndWait(context.Background(), &mock.KafkaProducer{}, &ck.Message{
			TopicPartition: ck.TopicPartition{Topic: &topic},
		}, time.Second)
		if err != nil {
			t.Fatal(err)
		}

		if m.TopicPartition.Offset != 42 {
			t.Fatalf("Unexpected delivery report %v", m)
		}
	})
}
