package retry

import "context"

// FailureStorage is a ledger of delivery attempts, keyed by business key and
// trace id. It lets operators reconstruct the delivery history of a message.
//
// The consumer also reads it before handling: a try that is already recorded
// as failed is redelivered without running the handler again, and a message
// recorded as terminal is only committed.
type FailureStorage interface {
	HasFailed(ctx context.Context, key string, try int, traceID string) (bool, error)
	IsTerminal(ctx context.Context, key string, traceID string) (bool, error)
	MarkFailure(ctx context.Context, key string, try int, traceID string) error
	MarkTerminal(ctx context.Context, key string, traceID string) error
	MarkSuccess(ctx context.Context, key string, traceID string) error
}
