package ratelimit

import (
	"testing"
)

func TestLimiter_AllowExhaustsBurst(t *testing.T) {
	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 2})

	if !l.Allow("thumio") || !l.Allow("thumio") {
		t.Fatal("expected the burst to be available")
	}
	if l.Allow("thumio") {
		t.Fatal("expected the third request to be rejected")
	}
	// Buckets are independent per key.
	if !l.Allow("mshots") {
		t.Fatal("expected a fresh bucket for another key")
	}
}

func TestLimiter_UnlimitedByDefault(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 100; i++ {
		if !l.Allow("thumio") {
			t.Fatalf("request %d rejected by an unlimited limiter", i)
		}
	}
}

func TestLimiter_PerKeyOverride(t *testing.T) {
	l := New(Config{
		DefaultBurst: 1,
		PerKeyRPS:    map[string]float64{"microlink": 0.001},
	})

	if !l.Allow("microlink") {
		t.Fatal("expected first microlink request to pass")
	}
	if l.Allow("microlink") {
		t.Fatal("expected microlink to be rationed")
	}
	for i := 0; i < 10; i++ {
		if !l.Allow("thumio") {
			t.Fatal("expected thumio to stay unlimited")
		}
	}
}
