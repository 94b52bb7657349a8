package delivery

import (
	"sync"

	"notification-workers/internal/common/metrics"
	"notification-workers/internal/models"
)

// ChannelStats are cumulative per-channel counters since start or reset.
type ChannelStats struct {
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	Confirmed int64 `json:"confirmed"`
	Opened    int64 `json:"opened"`
	Clicked   int64 `json:"clicked"`
	Bounced   int64 `json:"bounced"`
}

type Stats struct {
	mu       sync.Mutex
	channels map[models.Channel]*ChannelStats
}

func NewStats(channels []models.Channel) *Stats {
	s := &Stats{channels: make(map[models.Channel]*ChannelStats, len(channels))}
	for _, ch := range channels {
		s.channels[ch] = &ChannelStats{}
	}
	return s
}

func (s *Stats) update(ch models.Channel, fn func(*ChannelStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.channels[ch]
	if !ok {
		cs = &ChannelStats{}
		s.channels[ch] = cs
	}
	fn(cs)
}

func (s *Stats) sent(ch models.Channel)      { s.update(ch, func(c *ChannelStats) { c.Sent++ }) }
func (s *Stats) delivered(ch models.Channel) { s.update(ch, func(c *ChannelStats) { c.Delivered++ }) }
func (s *Stats) failed(ch models.Channel)    { s.update(ch, func(c *ChannelStats) { c.Failed++ }) }
func (s *Stats) retried(ch models.Channel)   { s.update(ch, func(c *ChannelStats) { c.Retried++ }) }

// RecordTrackingEvent folds a provider callback into the counters. A
// provider "delivered" confirmation counts as Confirmed, separate from the
// attempt outcome counted in Delivered. Events
// without a channel are attributed to email, the only channel whose
// providers report opens and clicks.
func (s *Stats) RecordTrackingEvent(e models.TrackingEvent) {
	ch := e.Channel
	if ch == "" {
		ch = models.ChannelEmail
	}
	metrics.TrackingEvents.WithLabelValues(e.Provider, string(e.Event)).Inc()
	s.update(ch, func(c *ChannelStats) {
		switch e.Event {
		case models.TrackingDelivered:
			c.Confirmed++
		case models.TrackingOpened:
			c.Opened++
		case models.TrackingClicked:
			c.Clicked++
		case models.TrackingBounced:
			c.Bounced++
		}
	})
}

func (s *Stats) Snapshot() map[models.Channel]ChannelStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.Channel]ChannelStats, len(s.channels))
	for ch, cs := range s.channels {
		out[ch] = *cs
	}
	return out
}

func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.channels {
		s.channels[ch] = &ChannelStats{}
	}
}
