// Package feed implements the streaming market-data clients: the reference
// price stream and the order book stream. Both run reconnect supervisors
// around gorilla/websocket connections.
package feed

import "time"

// backoff computes reconnect delays. Delay grows geometrically from Base to
// Max; a rate-limited disconnect forces a full Wait and then restarts the
// schedule from Base, the wait itself being the penalty.
type backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Wait   time.Duration

	current time.Duration
}

func newBackoff(base, max, wait time.Duration) *backoff {
	return &backoff{Base: base, Max: max, Factor: 1.5, Wait: wait}
}

// Next returns the delay before the next connection attempt and advances
// the schedule. rateLimited bypasses the schedule entirely.
func (b *backoff) Next(rateLimited bool) time.Duration {
	if rateLimited {
		b.current = b.Base
		return b.Wait
	}
	if b.current == 0 {
		b.current = b.Base
		return b.Base
	}
	d := b.current
	b.current = time.Duration(float64(b.current) * b.Factor)
	if b.current > b.Max {
		b.current = b.Max
	}
	return d
}

// Reset is called after a connection survives long enough to be considered
// healthy.
func (b *backoff) Reset() {
	b.current = 0
}
