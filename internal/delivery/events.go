package delivery

import (
	"sync"
	"sync/atomic"
	"time"

	"notification-workers/internal/common/metrics"
	"notification-workers/internal/models"
)

type EventType string

const (
	EventChannelDelivery     EventType = "channelDelivery"
	EventChannelFailure      EventType = "channelFailure"
	EventChannelHealthChange EventType = "channelHealthChange"
	EventDeliveryComplete    EventType = "deliveryComplete"
	EventDeliveryFailure     EventType = "deliveryFailure"
	EventRetryScheduled      EventType = "retryScheduled"
	EventRetrySuccess        EventType = "retrySuccess"
	EventRetryFailure        EventType = "retryFailure"
	EventRetryError          EventType = "retryError"
)

// Event is published for every observable step of a delivery.
type Event struct {
	Type           EventType              `json:"type"`
	Channel        models.Channel         `json:"channel,omitempty"`
	NotificationID string                 `json:"notificationId,omitempty"`
	DeliveryID     string                 `json:"deliveryId,omitempty"`
	RetryCount     int                    `json:"retryCount,omitempty"`
	Available      *bool                  `json:"available,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// EventBus fans events out to subscribers over buffered channels. Publish
// never blocks; an event that does not fit a subscriber's buffer is dropped
// for that subscriber and counted.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	buffer      int
	dropped     atomic.Int64
	closed      bool
}

const DefaultEventBuffer = 256

func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &EventBus{subscribers: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a receive channel and a function that unsubscribes and
// closes it.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
		})
	}
}

func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			metrics.EventsDropped.Inc()
		}
	}
}

// Dropped reports how many events were discarded on full buffers.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are no-ops.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
