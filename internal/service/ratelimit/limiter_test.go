package ratelimit

import "testing"

func TestLimiterBurstThenThrottle(t *testing.T) {
	l := New()
	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow("BTCUSDT", 5, 0) {
			allowed++
		}
	}
	if allowed != 5 {
		t.Fatalf("expected 5 allowed from a capacity-5 bucket, got %d", allowed)
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		l.Allow("BTCUSDT", 5, 0)
	}
	if l.Allow("BTCUSDT", 5, 0) {
		t.Fatal("exhausted key should be throttled")
	}
	if !l.Allow("ETHUSDT", 5, 0) {
		t.Fatal("fresh key should start with a full bucket")
	}
}
