package send

import (
	"context"
	"time"

	"cdr.dev/slog/v3"
	"golang.org/x/xerrors"

	"github.com/peaceman/kafka-dispatch-go/message"
)

const DefaultDelayTimeout = 3000 * time.Millisecond

type Config struct {
	// SendTimeout bounds synchronous sends. Zero uses the broker default.
	SendTimeout time.Duration
	// DelayTimeout bounds delayed sends, synchronous or not.
	DelayTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{DelayTimeout: DefaultDelayTimeout}
}

// Template stamps outbound messages and hands them to a Broker in one of the
// supported send modes. It holds no mutable state and may be shared.
type Template struct {
	broker Broker
	config Config
	logger slog.Logger
	now    func() time.Time
}

func NewTemplate(broker Broker, config Config, logger slog.Logger) *Template {
	if config.DelayTimeout <= 0 {
		config.DelayTimeout = DefaultDelayTimeout
	}

	return &Template{
		broker: broker,
		config: config,
		logger: logger.Named("send"),
		now:    time.Now,
	}
}

func (t *Template) SyncSendTag(ctx context.Context, topic, tag string, msg message.Message) (Result, error) {
	dest, err := tagDestination(topic, tag)
	if err != nil {
		return Result{}, err
	}

	return t.SyncSend(ctx, dest, msg)
}

// SyncSend blocks until the broker reports the outcome. Transport errors are
// returned as is and never retried here.
func (t *Template) SyncSend(ctx context.Context, destination string, msg message.Message) (Result, error) {
	out, err := t.prepare(destination, msg)
	if err != nil {
		return Result{}, err
	}

	result, err := t.broker.SyncSend(ctx, out, t.config.SendTimeout)
	if err != nil {
		t.logSendError(ctx, "sync send failed", destination, msg, err)
		return Result{}, xerrors.Errorf("sync send to %s: %w", destination, err)
	}

	t.logger.Info(ctx, "sync send",
		slog.F("destination", destination),
		slog.F("message", message.String(msg)),
		slog.F("result", result.String()),
	)

	return result, nil
}

func (t *Template) AsyncSendTag(ctx context.Context, topic, tag string, msg message.Message, cb Callback) error {
	dest, err := tagDestination(topic, tag)
	if err != nil {
		return err
	}

	return t.AsyncSend(ctx, dest, msg, cb)
}

// AsyncSend returns as soon as the broker took the message. Completion is
// reported to cb, or to a logging callback if cb is nil. The returned error
// only covers problems detected before handing the message to the broker.
func (t *Template) AsyncSend(ctx context.Context, destination string, msg message.Message, cb Callback) error {
	out, err := t.prepare(destination, msg)
	if err != nil {
		return err
	}

	t.logger.Info(ctx, "async send",
		slog.F("destination", destination),
		slog.F("message", message.String(msg)),
	)

	t.broker.AsyncSend(ctx, out, t.config.SendTimeout, t.callback(destination, msg, cb))

	return nil
}

func (t *Template) DelaySyncSendTag(ctx context.Context, topic, tag string, msg message.Message, delayLevel int) (Result, error) {
	dest, err := tagDestination(topic, tag)
	if err != nil {
		return Result{}, err
	}

	return t.DelaySyncSend(ctx, dest, msg, delayLevel)
}

// DelaySyncSend is SyncSend with a broker-defined delay level, passed through
// unmodified.
func (t *Template) DelaySyncSend(ctx context.Context, destination string, msg message.Message, delayLevel int) (Result, error) {
	out, err := t.prepare(destination, msg)
	if err != nil {
		return Result{}, err
	}

	result, err := t.broker.SyncSendDelayed(ctx, out, t.config.DelayTimeout, delayLevel)
	if err != nil {
		t.logSendError(ctx, "delayed sync send failed", destination, msg, err)
		return Result{}, xerrors.Errorf("delayed sync send to %s: %w", destination, err)
	}

	t.logger.Info(ctx, "delayed sync send",
		slog.F("destination", destination),
		slog.F("delay_level", delayLevel),
		slog.F("message", message.String(msg)),
		slog.F("result", result.String()),
	)

	return result, nil
}

func (t *Template) DelayAsyncSendTag(ctx context.Context, topic, tag string, msg message.Message, delayLevel int, cb Callback) error {
	dest, err := tagDestination(topic, tag)
	if err != nil {
		return err
	}

	return t.DelayAsyncSend(ctx, dest, msg, delayLevel, cb)
}

func (t *Template) DelayAsyncSend(ctx context.Context, destination string, msg message.Message, delayLevel int, cb Callback) error {
	out, err := t.prepare(destination, msg)
	if err != nil {
		return err
	}

	t.logger.Info(ctx, "delayed async send",
		slog.F("destination", destination),
		slog.F("delay_level", delayLevel),
		slog.F("message", message.String(msg)),
	)

	t.broker.AsyncSendDelayed(ctx, out, t.config.DelayTimeout, delayLevel, t.callback(destination, msg, cb))

	return nil
}

func (t *Template) prepare(destination string, msg message.Message) (Outbound, error) {
	if err := ValidateDestination(destination); err != nil {
		return Outbound{}, err
	}

	meta := msg.Meta()
	meta.StampSendTime(t.now())

	return Outbound{
		Destination: destination,
		Message:     msg,
		Headers:     map[string]string{KeysHeader: meta.Key},
	}, nil
}

func (t *Template) callback(destination string, msg message.Message, cb Callback) Callback {
	if cb != nil {
		return cb
	}

	return &defaultCallback{
		destination: destination,
		msg:         msg,
		logger:      t.logger,
	}
}

func (t *Template) logSendError(ctx context.Context, line, destination string, msg message.Message, err error) {
	meta := msg.Meta()
	t.logger.Error(ctx, line,
		slog.F("destination", destination),
		slog.F("trace_id", meta.TraceID),
		slog.F("key", meta.Key),
		slog.Error(err),
	)
}

func tagDestination(topic, tag string) (string, error) {
	if tag == "" {
		return "", xerrors.Errorf("empty tag for topic %q: %w", topic, ErrInvalidDestination)
	}

	return Destination(topic, tag), nil
}
