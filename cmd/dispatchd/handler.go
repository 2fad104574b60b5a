package main

import (
	"context"
	"strings"

	"cdr.dev/slog/v3"
	"golang.org/x/xerrors"

	"github.com/peaceman/kafka-dispatch-go/message"
)

type EntityMessage struct {
	Data string `json:"data"`
}

var errRejected = xerrors.New("entity rejected")

// entityHandler logs every entity. Entities whose data starts with "fail"
// are rejected so the retry path can be observed end to end.
type entityHandler struct {
	logger slog.Logger
}

func (h entityHandler) Handle(ctx context.Context, msg *message.Envelope[EntityMessage]) error {
	h.logger.Info(ctx, "entity received",
		slog.F("trace_id", msg.TraceID),
		slog.F("data", msg.Payload.Data),
		slog.F("retry_count", msg.RetryCount),
	)

	if strings.HasPrefix(msg.Payload.Data, "fail") {
		return xerrors.Errorf("handle %q: %w", msg.Payload.Data, errRejected)
	}

	return nil
}
