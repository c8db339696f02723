// Package bus carries channel output to the rest of the process: a queue of
// inbound envelopes for the gateway forwarder and a pub/sub event bus.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"wabridge/internal/domain"
)

// Queue buffers inbound envelopes between the webhook handler and the
// gateway forwarder, so webhooks are acknowledged without waiting on the
// gateway.
type Queue struct {
	inbound chan domain.Envelope
	wait    time.Duration
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

// NewQueue creates a queue with the given buffer size (default 100). When
// the buffer is full Publish waits up to wait for room; wait <= 0 makes
// Publish fail immediately.
func NewQueue(bufferSize int, wait time.Duration, logger *slog.Logger) *Queue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		inbound: make(chan domain.Envelope, bufferSize),
		wait:    wait,
		logger:  logger,
	}
}

// Publish enqueues env and reports whether it was enqueued.
func (q *Queue) Publish(env domain.Envelope) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("attempted to publish to closed queue", "id", env.ID)
		return false
	}

	select {
	case q.inbound <- env:
		return true
	default:
	}

	if q.wait > 0 {
		timer := time.NewTimer(q.wait)
		defer timer.Stop()
		select {
		case q.inbound <- env:
			return true
		case <-timer.C:
		}
	}
	q.logger.Error("envelope rejected: inbound queue full", "id", env.ID, "sender", env.Sender.ID, "waited", q.wait)
	return false
}

// Subscribe returns the receive side. It is closed by Close.
func (q *Queue) Subscribe() <-chan domain.Envelope {
	return q.inbound
}

// Len returns the number of buffered envelopes.
func (q *Queue) Len() int {
	return len(q.inbound)
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.inbound)
	}
}
