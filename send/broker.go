package send

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/peaceman/kafka-dispatch-go/message"
)

// Delimiter joins a topic and a tag into a single destination. Tags containing
// the delimiter are not supported.
const Delimiter = ":"

// KeysHeader carries the business key of an outbound message. Brokers use it as
// the partitioning key.
const KeysHeader = "KEYS"

var ErrInvalidDestination = xerrors.New("invalid destination")

// Destination builds a composite topic:tag destination.
func Destination(topic, tag string) string {
	return topic + Delimiter + tag
}

func ValidateDestination(destination string) error {
	_, _, err := ParseDestination(destination)
	return err
}

// ParseDestination splits a destination into topic and tag. A bare topic has
// an empty tag.
func ParseDestination(destination string) (topic, tag string, err error) {
	parts := strings.Split(destination, Delimiter)
	switch {
	case len(parts) > 2:
		return "", "", xerrors.Errorf("%q contains more than one %q: %w", destination, Delimiter, ErrInvalidDestination)
	case parts[0] == "":
		return "", "", xerrors.Errorf("%q has no topic: %w", destination, ErrInvalidDestination)
	case len(parts) == 2 && parts[1] == "":
		return "", "", xerrors.Errorf("%q has an empty tag: %w", destination, ErrInvalidDestination)
	case len(parts) == 2:
		return parts[0], parts[1], nil
	default:
		return parts[0], "", nil
	}
}

type Status int

const (
	// StatusOK means the broker acknowledged the message.
	StatusOK Status = iota
	// StatusUnconfirmed means the broker accepted the message for sending but
	// did not confirm delivery in time. The message may still arrive.
	StatusUnconfirmed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "SEND_OK"
	case StatusUnconfirmed:
		return "SEND_UNCONFIRMED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

type Result struct {
	Status    Status
	Topic     string
	Partition int32
	Offset    int64
}

func (r Result) String() string {
	return fmt.Sprintf("%s topic=%s partition=%d offset=%d", r.Status, r.Topic, r.Partition, r.Offset)
}

// Outbound is what the template hands to a broker.
type Outbound struct {
	Destination string
	Message     message.Message
	Headers     map[string]string
}

// Callback observes the completion of an asynchronous send. It is invoked on
// a goroutine chosen by the broker.
type Callback interface {
	OnSuccess(Result)
	OnError(error)
}

type CallbackFuncs struct {
	Success func(Result)
	Error   func(error)
}

func (c CallbackFuncs) OnSuccess(r Result) {
	if c.Success != nil {
		c.Success(r)
	}
}

func (c CallbackFuncs) OnError(err error) {
	if c.Error != nil {
		c.Error(err)
	}
}

// Broker is the send capability of a broker client. A zero timeout selects
// the broker's own default. Implementations must be safe for concurrent use.
type Broker interface {
	SyncSend(ctx context.Context, out Outbound, timeout time.Duration) (Result, error)
	AsyncSend(ctx context.Context, out Outbound, timeout time.Duration, cb Callback)
	SyncSendDelayed(ctx context.Context, out Outbound, timeout time.Duration, delayLevel int) (Result, error)
	AsyncSendDelayed(ctx context.Context, out Outbound, timeout time.Duration, delayLevel int, cb Callback)
}

// HeaderNames are the transport headers shared by brokers and consumers that
// emulate tags and delayed delivery.
type HeaderNames struct {
	Tag         string
	ResumeTime  string
	TargetTopic string
}

var DefaultHeaderNames = HeaderNames{
	Tag:         "TAGS",
	ResumeTime:  "resume-time",
	TargetTopic: "target-topic",
}

// DelayNames returns the headers that only have a meaning while a message is parked
// in a delay topic.
func (h HeaderNames) DelayNames() []string {
	return []string{h.ResumeTime, h.TargetTopic}
}

// DelayLevels maps the opaque delay levels onto durations for brokers that
// have no native notion of them. Level n uses entry n-1.
type DelayLevels []time.Duration

var DefaultDelayLevels = DelayLevels{
	time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second,
	time.Minute, 2 * time.Minute, 3 * time.Minute, 4 * time.Minute, 5 * time.Minute,
	6 * time.Minute, 7 * time.Minute, 8 * time.Minute, 9 * time.Minute, 10 * time.Minute,
	20 * time.Minute, 30 * time.Minute, time.Hour, 2 * time.Hour,
}

// Duration returns the delay for the level. Levels <= 0 mean no delay and
// levels beyond the table are clamped to the last entry.
func (l DelayLevels) Duration(level int) time.Duration {
	if level <= 0 || len(l) == 0 {
		return 0
	}

	if level > len(l) {
		level = len(l)
	}

	return l[level-1]
}
