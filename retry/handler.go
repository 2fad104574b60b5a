package retry

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"cdr.dev/slog/v3"
	"golang.org/x/xerrors"

	"github.com/peaceman/kafka-dispatch-go/message"
)

// Handler is the business side of a consumer together with its retry policy.
type Handler[T any] interface {
	Handle(ctx context.Context, msg *message.Envelope[T]) error
	RetryEnabled() bool
	MaxRetries() int
}

type HandlerFunc[T any] func(ctx context.Context, msg *message.Envelope[T]) error

type policyHandler[T any] struct {
	Policy
	fn HandlerFunc[T]
}

func (h policyHandler[T]) Handle(ctx context.Context, msg *message.Envelope[T]) error {
	return h.fn(ctx, msg)
}

// WithPolicy turns a function into a Handler answering with p.
func WithPolicy[T any](fn HandlerFunc[T], p Policy) Handler[T] {
	return policyHandler[T]{Policy: p, fn: fn}
}

type Outcome int

const (
	// Handled means the delivery is done: either the handler succeeded or it
	// failed terminally. The message must be acknowledged.
	Handled Outcome = iota
	// RetryRequested means the handler failed and the message should be
	// redelivered with its incremented retry count.
	RetryRequested
)

func (o Outcome) String() string {
	switch o {
	case Handled:
		return "handled"
	case RetryRequested:
		return "retry-requested"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is returned by Dispatch. Err is the unmodified handler error, or nil
// on success.
type Result struct {
	Outcome Outcome
	Err     error
}

// Wrapper surrounds a Handler with logging, timing and the retry policy. It
// keeps no per-message state and may dispatch concurrently.
type Wrapper[T any] struct {
	handler Handler[T]
	logger  slog.Logger
	now     func() time.Time
}

func NewWrapper[T any](h Handler[T], logger slog.Logger) *Wrapper[T] {
	w := &Wrapper[T]{
		handler: h,
		logger:  logger.Named("consume"),
		now:     time.Now,
	}

	if h.RetryEnabled() && h.MaxRetries() > MaxBrokerRedeliveries {
		w.logger.Warn(context.Background(), "max retries exceeds the broker redelivery cap",
			slog.F("max_retries", h.MaxRetries()),
			slog.F("broker_cap", MaxBrokerRedeliveries),
		)
	}

	return w
}

func (w *Wrapper[T]) Dispatch(ctx context.Context, msg *message.Envelope[T]) Result {
	w.logger.Info(ctx, "message received", slog.F("message", message.String(msg)))

	start := w.now()
	err := w.handle(ctx, msg)
	if err == nil {
		w.logger.Info(ctx, "message handled",
			slog.F("source", msg.Source),
			slog.F("trace_id", msg.TraceID),
			slog.F("elapsed", w.now().Sub(start)),
		)

		return Result{Outcome: Handled}
	}

	if ShouldRetry(w.handler.RetryEnabled(), msg.RetryCount, w.handler.MaxRetries()) {
		w.logger.Error(ctx, "message handling failed, retrying",
			slog.F("source", msg.Source),
			slog.F("trace_id", msg.TraceID),
			slog.F("retry_count", msg.RetryCount),
		)
		msg.IncrementRetry()

		return Result{Outcome: RetryRequested, Err: err}
	}

	w.logger.Error(ctx, "message handling failed, not retrying",
		slog.F("source", msg.Source),
		slog.F("trace_id", msg.TraceID),
		slog.F("retry_count", msg.RetryCount),
		slog.Error(err),
	)

	return Result{Outcome: Handled, Err: err}
}

// handle runs the handler and turns a panic into an ordinary failure.
func (w *Wrapper[T]) handle(ctx context.Context, msg *message.Envelope[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Critical(ctx, "panic in message handler",
				slog.F("trace_id", msg.TraceID),
				slog.F("panic", r),
				slog.F("stack", string(debug.Stack())),
			)
			err = xerrors.Errorf("handler panicked: %v", r)
		}
	}()

	return w.handler.Handle(ctx, msg)
}
