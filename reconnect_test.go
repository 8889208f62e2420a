package main

import (
	"testing"
	"time"
)

func TestRetryPolicyRoundRobinsAddresses(t *testing.T) {
	r := NewRetryPolicy(ConnDescription{Addresses: []string{"a:1935", "b:1935", "c:1935"}})

	got := []string{r.NextAddress(), r.NextAddress(), r.NextAddress(), r.NextAddress()}
	want := []string{"a:1935", "b:1935", "c:1935", "a:1935"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("address %d: got %s want %s", i, got[i], want[i])
		}
	}
}

func TestRetryPolicyReadyImmediatelyOnFirstDial(t *testing.T) {
	r := NewRetryPolicy(ConnDescription{Addresses: []string{"a:1935"}, ReconnectInterval: 5})
	if !r.ReadyToDial() {
		t.Fatalf("expected a fresh RetryPolicy to be ready to dial immediately")
	}
}

func TestRetryPolicyBacksOffAfterFailure(t *testing.T) {
	r := NewRetryPolicy(ConnDescription{Addresses: []string{"a:1935"}, ReconnectInterval: 5})

	if ok := r.OnDialFailed(); !ok {
		t.Fatalf("expected OnDialFailed to report retryable with no configured cap")
	}
	if r.ReadyToDial() {
		t.Fatalf("expected the policy to wait reconnectInterval before retrying")
	}

	r.Tick(3 * time.Second)
	if r.ReadyToDial() {
		t.Fatalf("expected the policy to still be waiting after a partial tick")
	}

	r.Tick(3 * time.Second)
	if !r.ReadyToDial() {
		t.Fatalf("expected the policy to be ready once the full interval has elapsed")
	}
}

func TestRetryPolicyExhaustsAfterConfiguredAttempts(t *testing.T) {
	r := NewRetryPolicy(ConnDescription{Addresses: []string{"a:1935"}, ReconnectCount: 2})

	if ok := r.OnDialFailed(); !ok {
		t.Fatalf("expected attempt 1 of 2 to still be retryable")
	}
	if r.Exhausted() {
		t.Fatalf("should not be exhausted after only 1 of 2 attempts")
	}

	if ok := r.OnDialFailed(); ok {
		t.Fatalf("expected attempt 2 of 2 to report exhausted")
	}
	if !r.Exhausted() {
		t.Fatalf("expected Exhausted to be true after the configured cap is reached")
	}
}

func TestRetryPolicyHandshakeDoneResetsAttempts(t *testing.T) {
	r := NewRetryPolicy(ConnDescription{Addresses: []string{"a:1935"}, ReconnectCount: 1})

	r.OnDialFailed() // exhausts the single configured attempt
	if !r.Exhausted() {
		t.Fatalf("expected the policy to be exhausted")
	}

	// A later successful handshake must reset the bookkeeping, so a
	// connection that drops after connecting gets a fresh retry budget.
	r.OnHandshakeDone()
	if r.Exhausted() {
		t.Fatalf("expected OnHandshakeDone to clear the exhausted attempt count")
	}
}
