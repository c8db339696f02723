package gupshup

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestThrottle_Burst(t *testing.T) {
	th := NewThrottle(5, 60)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := th.Wait(ctx); err != nil {
			t.Fatalf("burst call %d: %v", i, err)
		}
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Errorf("burst should not wait, took %v", d)
	}
}

func TestThrottle_SpacesCallsAfterBurst(t *testing.T) {
	th := NewThrottle(1, 600) // one call per 100ms

	ctx := context.Background()
	if err := th.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := th.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d < 50*time.Millisecond {
		t.Errorf("expected a pause between calls, got %v", d)
	}
}

func TestThrottle_ContextEnds(t *testing.T) {
	th := NewThrottle(1, 1) // one call per minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := th.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if err := th.Wait(ctx); err == nil {
		t.Fatal("expected an error when the deadline is before the next slot")
	}
}

func TestThrottle_Disabled(t *testing.T) {
	th := NewThrottle(5, 0)
	if th != nil {
		t.Fatal("zero rate should disable throttling")
	}
	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("nil throttle should not block: %v", err)
	}
}

func TestThrottle_DefaultBurst(t *testing.T) {
	th := NewThrottle(0, 60)
	if th.lim.Burst() != defaultThrottleBurst {
		t.Fatalf("burst = %d, want %d", th.lim.Burst(), defaultThrottleBurst)
	}
}

func TestClient_ThrottledPastDeadline(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"status":"submitted","messageId":"gs-1"}`))
	})
	c.throttle = NewThrottle(1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := c.Send(ctx, "15551234567", OutboundMessage{Type: TypeText, Text: "a"}, SendOptions{}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := c.Send(ctx, "15551234567", OutboundMessage{Type: TypeText, Text: "b"}, SendOptions{Attempts: 3}); err == nil {
		t.Fatal("second send should fail while throttled past the deadline")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 provider call, got %d", n)
	}
}
