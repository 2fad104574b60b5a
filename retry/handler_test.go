package retry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"cdr.dev/slog/v3/sloggers/slogtest"

	"github.com/peaceman/kafka-dispatch-go/message"
)

type entity struct {
	Data string `json:"data"`
}

func quietLogger(t *testing.T) slog.Logger {
	return slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
}

func failing(err error) HandlerFunc[entity] {
	return func(ctx context.Context, msg *message.Envelope[entity]) error {
		return err
	}
}

func TestWrapper_RetriesUntilMaxThenGivesUp(t *testing.T) {
	forced := errors.New("forced handle error")
	out := &bytes.Buffer{}
	w := NewWrapper(WithPolicy(failing(forced), Policy{Enabled: true, Max: 2}), slog.Make(sloghuman.Sink(out)))
	msg := message.New(entity{Data: "x"}, message.WithSource("test"))

	for i, wantCount := range []int{1, 2} {
		res := w.Dispatch(context.Background(), msg)
		if res.Outcome != RetryRequested {
			t.Fatalf("Attempt %d: expected retry, got %v", i+1, res.Outcome)
		}

		if res.Err != forced {
			t.Fatalf("Attempt %d: the handler error was not passed on unmodified: %v", i+1, res.Err)
		}

		if msg.RetryCount != wantCount {
			t.Fatalf("Attempt %d: expected retry count %d, got %d", i+1, wantCount, msg.RetryCount)
		}
	}

	res := w.Dispatch(context.Background(), msg)
	if res.Outcome != Handled || res.Err != forced {
		t.Fatalf("Third attempt: expected terminal failure, got %+v", res)
	}

	if msg.RetryCount != 2 {
		t.Fatalf("Terminal failure must not increment the retry count, got %d", msg.RetryCount)
	}

	logged := out.String()
	if !strings.Contains(logged, "not retrying") || !strings.Contains(logged, msg.TraceID) {
		t.Fatalf("Terminal failure was not logged with the trace id:\n%s", logged)
	}
}

func TestWrapper_RetryDisabledIsTerminalOnFirstFailure(t *testing.T) {
	w := NewWrapper(WithPolicy(failing(errors.New("forced")), Policy{Enabled: false, Max: 10}), quietLogger(t))
	msg := message.New(entity{})

	res := w.Dispatch(context.Background(), msg)
	if res.Outcome != Handled || res.Err == nil {
		t.Fatalf("Expected terminal failure, got %+v", res)
	}

	if msg.RetryCount != 0 {
		t.Fatalf("Retry count was incremented to %d", msg.RetryCount)
	}
}

func TestWrapper_ZeroMaxRetriesNeverRetries(t *testing.T) {
	w := NewWrapper(WithPolicy(failing(errors.New("forced")), Policy{Enabled: true, Max: 0}), quietLogger(t))
	msg := message.New(entity{})

	if res := w.Dispatch(context.Background(), msg); res.Outcome != Handled {
		t.Fatalf("Expected terminal failure, got %v", res.Outcome)
	}
}

func TestWrapper_SuccessDoesNotTouchRetryCount(t *testing.T) {
	var received *message.Envelope[entity]
	w := NewWrapper(WithPolicy(func(ctx context.Context, msg *message.Envelope[entity]) error {
		received = msg
		return nil
	}, Policy{Enabled: true, Max: 3}), quietLogger(t))

	msg := message.New(entity{Data: "x"})
	msg.RetryCount = 1

	res := w.Dispatch(context.Background(), msg)
	if res.Outcome != Handled || res.Err != nil {
		t.Fatalf("Expected success, got %+v", res)
	}

	if received != msg {
		t.Fatal("The handler did not receive the dispatched message")
	}

	if msg.RetryCount != 1 {
		t.Fatalf("Successful handling changed the retry count to %d", msg.RetryCount)
	}
}

func TestWrapper_ConcurrentDispatchesAreIndependent(t *testing.T) {
	w := NewWrapper(WithPolicy(failing(errors.New("forced")), Policy{Enabled: true, Max: 1}), quietLogger(t))

	msgs := make([]*message.Envelope[entity], 32)
	for i := range msgs {
		msgs[i] = message.New(entity{})
	}

	var wg sync.WaitGroup
	for _, m := range msgs {
		wg.Add(1)
		go func(m *message.Envelope[entity]) {
			defer wg.Done()
			w.Dispatch(context.Background(), m)
		}(m)
	}
	wg.Wait()

	for _, m := range msgs {
		if m.RetryCount != 1 {
			t.Fatalf("Message %s has retry count %d", m.TraceID, m.RetryCount)
		}
	}
}

func TestWrapper_HandlerPanicIsAFailure(t *testing.T) {
	w := NewWrapper(WithPolicy(func(ctx context.Context, msg *message.Envelope[entity]) error {
		var seen map[string]bool
		seen[msg.TraceID] = true
		return nil
	}, Policy{Enabled: true, Max: 2}), quietLogger(t))
	msg := message.New(entity{Data: "x"})

	res := w.Dispatch(context.Background(), msg)
	if res.Outcome != RetryRequested || res.Err == nil {
		t.Fatalf("Expected a panicking handler to request a retry, got %+v", res)
	}

	if !strings.Contains(res.Err.Error(), "handler panicked") {
		t.Fatalf("Unexpected error %v", res.Err)
	}

	if msg.RetryCount != 1 {
		t.Fatalf("Expected retry count 1, got %d", msg.RetryCount)
	}

	msg.RetryCount = 2
	if res := w.Dispatch(context.Background(), msg); res.Outcome != Handled || res.Err == nil {
		t.Fatalf("Expected a terminal failure once the budget is spent, got %+v", res)
	}
}
