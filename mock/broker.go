package mock

import (
	"context"
	"sync"
	"time"

	"github.com/peaceman/kafka-dispatch-go/send"
)

// BrokerCall is one recorded invocation of Broker.
type BrokerCall struct {
	Mode       string
	Outbound   send.Outbound
	Timeout    time.Duration
	DelayLevel int
	// SendTime is the send time of the message at the moment of the call.
	SendTime *time.Time
}

// Broker records every send and completes it with Result or Err. Async sends
// invoke the callback before returning.
type Broker struct {
	Result send.Result
	Err    error

	mu    sync.Mutex
	calls []BrokerCall
}

func (b *Broker) Calls() []BrokerCall {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]BrokerCall(nil), b.calls...)
}

func (b *Broker) SyncSend(ctx context.Context, out send.Outbound, timeout time.Duration) (send.Result, error) {
	b.record("sync", out, timeout, 0)

	return b.Result, b.Err
}

func (b *Broker) AsyncSend(ctx context.Context, out send.Outbound, timeout time.Duration, cb send.Callback) {
	b.record("async", out, timeout, 0)
	b.complete(cb)
}

func (b *Broker) SyncSendDelayed(ctx context.Context, out send.Outbound, timeout time.Duration, delayLevel int) (send.Result, error) {
	b.record("sync-delayed", out, timeout, delayLevel)

	return b.Result, b.Err
}

func (b *Broker) AsyncSendDelayed(ctx context.Context, out send.Outbound, timeout time.Duration, delayLevel int, cb send.Callback) {
	b.record("async-delayed", out, timeout, delayLevel)
	b.complete(cb)
}

func (b *Broker) complete(cb send.Callback) {
	if b.Err != nil {
		cb.OnError(b.Err)
		return
	}

	cb.OnSuccess(b.Result)
}

func (b *Broker) record(mode string, out send.Outbound, timeout time.Duration, delayLevel int) {
	var sendTime *time.Time
	if t := out.Message.Meta().SendTime; t != nil {
		st := *t
		sendTime = &st
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, BrokerCall{
		Mode:       mode,
		Outbound:   out,
		Timeout:    timeout,
		DelayLevel: delayLevel,
		SendTime:   sendTime,
	})
}
