package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

// SendTimeLayout is used whenever a send time is written to a log line.
const SendTimeLayout = "2006-01-02 15:04:05"

// Metadata is carried by every message exchanged between producers and consumers.
//
// TraceID is assigned once by New and correlates producer send logs with consumer
// handling logs. SendTime is unset until a template sends the message and
// RetryCount is only ever incremented by the consume wrapper. Both travel with
// the message body, so a redelivered message sees the values of the previous attempt.
type Metadata struct {
	TraceID    string     `json:"traceId"`
	Source     string     `json:"source"`
	SendTime   *time.Time `json:"sendTime,omitempty"`
	RetryCount int        `json:"retryCount"`
	Key        string     `json:"key"`
}

// Meta returns the metadata itself so that any type embedding Metadata
// satisfies Message.
func (m *Metadata) Meta() *Metadata {
	return m
}

func (m *Metadata) StampSendTime(t time.Time) {
	m.SendTime = &t
}

func (m *Metadata) IncrementRetry() {
	m.RetryCount++
}

// Message is implemented by every envelope regardless of its payload type.
type Message interface {
	Meta() *Metadata
}

// Envelope wraps a business payload with the common metadata.
type Envelope[T any] struct {
	Metadata
	Payload T `json:"payload"`
}

type Option func(*Metadata)

func WithSource(source string) Option {
	return func(m *Metadata) {
		m.Source = source
	}
}

func WithKey(key string) Option {
	return func(m *Metadata) {
		m.Key = key
	}
}

func New[T any](payload T, opts ...Option) *Envelope[T] {
	env := &Envelope[T]{
		Metadata: Metadata{
			TraceID: uuid.NewString(),
		},
		Payload: payload,
	}

	for _, o := range opts {
		o(&env.Metadata)
	}

	return env
}

func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, xerrors.Errorf("encode message %s: %w", m.Meta().TraceID, err)
	}

	return data, nil
}

func Decode[T any](data []byte) (*Envelope[T], error) {
	var env Envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, xerrors.Errorf("decode message: %w", err)
	}

	if env.TraceID == "" {
		return nil, xerrors.New("decode message: missing trace id")
	}

	if env.RetryCount < 0 {
		return nil, xerrors.Errorf("decode message %s: negative retry count %d", env.TraceID, env.RetryCount)
	}

	return &env, nil
}

// String returns the JSON representation, or a placeholder if the message
// cannot be encoded.
func String(m Message) string {
	data, err := json.Marshal(m)
	if err != nil {
		return "<unencodable message " + m.Meta().TraceID + ">"
	}

	return string(data)
}

// FormatSendTime returns the send time in SendTimeLayout or an empty string
// if the message was never sent.
func FormatSendTime(m Message) string {
	if t := m.Meta().SendTime; t != nil {
		return t.Format(SendTimeLayout)
	}

	return ""
}
