// RetryPolicy: the dial-and-retry bookkeeping for "client" (dialed)
// descriptions, grounded on original_source's Relay.cpp reconnect loop
// (round-robin across configured addresses, bounded or infinite retry
// count, fixed interval between attempts).

package main

import "time"

// RetryPolicy rotates through a description's configured addresses,
// counting failed attempts against an optional cap. A zero cap means
// retry indefinitely.
type RetryPolicy struct {
	addresses []string
	next      int

	connectionTimeout time.Duration
	reconnectInterval time.Duration
	maxAttempts       uint32 // 0 = infinite

	attemptsMade  uint32
	waitRemaining time.Duration
	exhausted     bool
}

func NewRetryPolicy(desc ConnDescription) *RetryPolicy {
	return &RetryPolicy{
		addresses:         desc.Addresses,
		connectionTimeout: durationFromSeconds(desc.ConnectionTimeout),
		reconnectInterval: durationFromSeconds(desc.ReconnectInterval),
		maxAttempts:       desc.ReconnectCount,
	}
}

func durationFromSeconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

func (r *RetryPolicy) Exhausted() bool {
	return r.exhausted
}

func (r *RetryPolicy) DialTimeout() time.Duration {
	return r.connectionTimeout
}

// NextAddress returns the address the next dial attempt should target,
// rotating round-robin across the configured list.
func (r *RetryPolicy) NextAddress() string {
	addr := r.addresses[r.next%len(r.addresses)]
	r.next++
	return addr
}

// OnHandshakeDone resets the attempt counter: spec.md §4.G only counts
// a cycle as failed if it never reaches HANDSHAKE_DONE, so a
// connection that handshakes and later drops starts fresh.
func (r *RetryPolicy) OnHandshakeDone() {
	r.attemptsMade = 0
	r.waitRemaining = 0
	r.exhausted = false
}

// OnDialFailed records a failed attempt (dial error or handshake never
// completing) and arms the inter-attempt wait. Returns false once the
// configured retry count is exhausted.
func (r *RetryPolicy) OnDialFailed() bool {
	if r.maxAttempts > 0 {
		r.attemptsMade++
		if r.attemptsMade >= r.maxAttempts {
			r.exhausted = true
			return false
		}
	}
	r.waitRemaining = r.reconnectInterval
	return true
}

// Tick advances the inter-attempt wait clock; ReadyToDial reports
// whether it has elapsed.
func (r *RetryPolicy) Tick(dt time.Duration) {
	if r.waitRemaining > 0 {
		r.waitRemaining -= dt
		if r.waitRemaining < 0 {
			r.waitRemaining = 0
		}
	}
}

func (r *RetryPolicy) ReadyToDial() bool {
	return r.waitRemaining <= 0
}
