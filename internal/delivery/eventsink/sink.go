// Package eventsink forwards channel manager events to external consumers.
package eventsink

import (
	"context"

	"notification-workers/internal/common/logger"
	"notification-workers/internal/delivery"
)

// Sink receives one event at a time. Errors are logged and never stop the pump.
type Sink interface {
	Name() string
	Handle(ctx context.Context, e delivery.Event) error
}

// Run forwards events to every sink until ctx is done or the subscription
// is closed.
func Run(ctx context.Context, events <-chan delivery.Event, log logger.Logger, sinks ...Sink) {
	log = logger.ForComponent(log, "event-sink")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			for _, s := range sinks {
				if err := s.Handle(ctx, e); err != nil {
					log.Warn("Event sink failed", map[string]interface{}{
						"sink":           s.Name(),
						"event":          e.Type,
						"notificationId": e.NotificationID,
						"error":          err,
					})
				}
			}
		}
	}
}
