package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_BurstExhaustion(t *testing.T) {
	l := NewLimiter()

	if !l.Allow("10.0.0.1", 1, 1) {
		t.Error("first request should pass")
	}
	if l.Allow("10.0.0.1", 1, 1) {
		t.Error("second request should be throttled with burst 1")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := NewLimiter()

	if !l.Allow("10.0.0.1", 1, 1) {
		t.Error("client A should pass")
	}
	if l.Allow("10.0.0.1", 1, 1) {
		t.Error("client A should be throttled")
	}
	if !l.Allow("10.0.0.2", 1, 1) {
		t.Error("client B is independent of client A")
	}
}

func TestLimiter_ConfigUpdateRefills(t *testing.T) {
	l := NewLimiter()

	_ = l.Allow("k", 1, 1)
	// Raise the rate; a token regenerates within ~10ms at 100 rps.
	if !l.Allow("k", 100, 5) {
		time.Sleep(20 * time.Millisecond)
		if !l.Allow("k", 100, 5) {
			t.Error("expected a token after raising the rate and waiting")
		}
	}
}

func TestLimiter_Remove(t *testing.T) {
	l := NewLimiter()

	_ = l.Allow("k", 1, 1)
	l.Remove("k")
	if !l.Allow("k", 1, 1) {
		t.Error("removed key should start with a fresh bucket")
	}
}
