package api

import (
	"sync"

	"notification-workers/internal/common/logger"
	"notification-workers/internal/models"
)

// TrackingRecorder folds provider callbacks into delivery statistics.
type TrackingRecorder interface {
	RecordTrackingEvent(e models.TrackingEvent)
}

// trackingQueue decouples webhook acknowledgement from statistics updates.
type trackingQueue struct {
	events   chan models.TrackingEvent
	recorder TrackingRecorder
	logger   logger.Logger
	wg       sync.WaitGroup
	once     sync.Once
	mu       sync.RWMutex
	closed   bool
}

func newTrackingQueue(recorder TrackingRecorder, buffer int, log logger.Logger) *trackingQueue {
	if buffer <= 0 {
		buffer = 1024
	}
	q := &trackingQueue{
		events:   make(chan models.TrackingEvent, buffer),
		recorder: recorder,
		logger:   log,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *trackingQueue) run() {
	defer q.wg.Done()
	for e := range q.events {
		q.recorder.RecordTrackingEvent(e)
	}
}

// enqueue reports false when the queue is full or closed.
func (q *trackingQueue) enqueue(e models.TrackingEvent) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.events <- e:
		return true
	default:
		q.logger.Warn("Tracking queue full, event dropped", map[string]interface{}{
			"provider":  e.Provider,
			"messageId": e.MessageID,
		})
		return false
	}
}

// close stops intake and waits for queued events to be recorded.
func (q *trackingQueue) close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.events)
		q.mu.Unlock()
	})
	q.wg.Wait()
}
