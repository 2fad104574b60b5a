package send

import (
	"context"

	"cdr.dev/slog/v3"

	"github.com/peaceman/kafka-dispatch-go/message"
)

// defaultCallback logs the outcome of an asynchronous send. It keeps a
// reference to the sent message so the logged send time is the stamped one.
//
// An unconfirmed status is logged as a warning and an error at error level.
type defaultCallback struct {
	destination string
	msg         message.Message
	logger      slog.Logger
}

func (c *defaultCallback) OnSuccess(r Result) {
	fields := append(c.fields(), slog.F("result", r.String()))

	if r.Status == StatusOK {
		c.logger.Info(context.Background(), "send succeeded", fields...)
		return
	}

	c.logger.Warn(context.Background(), "send unconfirmed", fields...)
}

func (c *defaultCallback) OnError(err error) {
	fields := append(c.fields(), slog.F("error", err.Error()))
	c.logger.Error(context.Background(), "send failed", fields...)
}

func (c *defaultCallback) fields() []slog.Field {
	meta := c.msg.Meta()

	return []slog.Field{
		slog.F("destination", c.destination),
		slog.F("trace_id", meta.TraceID),
		slog.F("key", meta.Key),
		slog.F("send_time", message.FormatSendTime(c.msg)),
	}
}
