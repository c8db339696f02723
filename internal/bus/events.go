package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event is one channel occurrence published to subscribers such as the
// event log.
type Event struct {
	Type      string         // one of the Event* constants
	Account   string         // account the event belongs to, when known
	Phone     string         // normalized counterpart phone, when known
	Payload   map[string]any // event-specific data
	Timestamp time.Time
}

// String returns a payload value as a string, or "".
func (e Event) String(key string) string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload[key].(string)
	return s
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe bus with wildcard
// subscriptions and an optional bounded replay buffer.
type EventBus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
	nextID     int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

// NewEventBus creates a bus that keeps the last maxHistory events for
// Replay. maxHistory <= 0 keeps none.
func NewEventBus(logger *slog.Logger, maxHistory int) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	if maxHistory < 0 {
		maxHistory = 0
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: maxHistory,
	}
}

// On registers a handler for eventType ("*" for all). Returns an ID for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit delivers event to matching handlers synchronously, in registration
// order. A panicking handler is logged and does not stop the others.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if eb.maxHistory > 0 {
		if len(eb.history) >= eb.maxHistory {
			eb.history = eb.history[1:]
		}
		eb.history = append(eb.history, event)
	}

	var handlers []namedHandler
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Replay returns buffered events of eventType ("*" for all) at or after since.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}

// Event types emitted by the channel.
const (
	EventMessageReceived = "message.received"
	EventMessageSent     = "message.sent"
	EventMessageFailed   = "message.failed"
	EventMessageStatus   = "message.status"
	EventUserEvent       = "user.event"
	EventAccessDenied    = "access.denied"
)
