package webhook

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// backoffDelay derives the delay before retryCount+1's attempt from a fresh
// ExponentialBackOff seeded with base/max, advancing it retryCount times.
// Delivery retries are driven by a persisted RetryCount rather than an
// in-memory loop, so the generator is rebuilt and replayed on every call
// instead of being kept alive across attempts.
func backoffDelay(retryCount int, base, max time.Duration) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0.2

	delay := b.NextBackOff()
	for i := 0; i < retryCount; i++ {
		delay = b.NextBackOff()
	}
	if delay == backoff.Stop {
		delay = max
	}
	return delay
}
