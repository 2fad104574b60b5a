package retry

// MaxBrokerRedeliveries is the redelivery cap commonly enforced by brokers with
// native redelivery. Handlers should not ask for more retries than this; it is
// not enforced.
const MaxBrokerRedeliveries = 16

// ShouldRetry reports whether a failed delivery that has already been retried
// retryCount times should be retried again.
func ShouldRetry(enabled bool, retryCount, maxRetries int) bool {
	return enabled && retryCount < maxRetries
}

// Policy is a fixed answer to the policy queries of a Handler.
type Policy struct {
	Enabled bool
	Max     int
}

func (p Policy) RetryEnabled() bool {
	return p.Enabled
}

func (p Policy) MaxRetries() int {
	return p.Max
}
