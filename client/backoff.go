package client

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Reconnect pacing. A session that survives past resetThreshold counts
// as healthy, so the next drop retries at reconnectInitial again instead
// of the accumulated interval.
const (
	reconnectInitial = 1 * time.Second
	reconnectMax     = 60 * time.Second
	resetThreshold   = 30 * time.Second
)

// newReconnectBackoff builds the pacing for Run: exponential from
// reconnectInitial up to reconnectMax, doubling with ±20% jitter.
func newReconnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectInitial
	b.MaxInterval = reconnectMax
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}
