package gupshup

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

const defaultThrottleBurst = 10

// Throttle spaces out the HTTP calls of one account so a burst of gateway
// replies stays under the provider's per-app messaging limit. Every attempt
// of a send, retries included, takes a token. A nil *Throttle never blocks.
type Throttle struct {
	lim *rate.Limiter
}

// NewThrottle allows burst calls back to back and perMinute on average.
// perMinute <= 0 turns throttling off and returns nil.
func NewThrottle(burst int, perMinute float64) *Throttle {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = defaultThrottleBurst
	}
	every := time.Duration(float64(time.Minute) / perMinute)
	return &Throttle{lim: rate.NewLimiter(rate.Every(every), burst)}
}

// Wait blocks until the account may call the provider again. It fails early
// when ctx ends, or would end, before then.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.lim.Wait(ctx)
}
