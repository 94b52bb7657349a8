package delivery

import (
	"sync"
	"time"

	"notification-workers/internal/common/metrics"
	"notification-workers/internal/models"
)

// HealthConfig holds the circuit thresholds. A channel is skipped while its
// failure count exceeds SoftFailures and the last failure is within
// Cooldown, and marked unavailable once the count exceeds HardFailures.
type HealthConfig struct {
	SoftFailures int           `mapstructure:"soft_failures"`
	HardFailures int           `mapstructure:"hard_failures"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{SoftFailures: 5, HardFailures: 10, Cooldown: 5 * time.Minute}
}

type HealthTracker struct {
	mu       sync.RWMutex
	config   HealthConfig
	channels map[models.Channel]*models.ChannelHealth
	now      func() time.Time
}

func NewHealthTracker(config HealthConfig, channels []models.Channel, now func() time.Time) *HealthTracker {
	if now == nil {
		now = time.Now
	}
	h := &HealthTracker{
		config:   config,
		channels: make(map[models.Channel]*models.ChannelHealth, len(channels)),
		now:      now,
	}
	for _, ch := range channels {
		h.channels[ch] = &models.ChannelHealth{Channel: ch, Available: true}
		h.export(h.channels[ch])
	}
	return h
}

// RecordSuccess decrements the failure count and reopens the channel. It
// reports whether availability flipped.
func (h *HealthTracker) RecordSuccess(ch models.Channel) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.channels[ch]
	if !ok {
		return false
	}
	now := h.now()
	wasAvailable := state.Available
	if state.FailureCount > 0 {
		state.FailureCount--
	}
	state.Available = true
	state.LastSuccess = &now
	h.export(state)
	return !wasAvailable
}

// RecordFailure increments the failure count. It reports whether
// availability flipped.
func (h *HealthTracker) RecordFailure(ch models.Channel) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.channels[ch]
	if !ok {
		return false
	}
	now := h.now()
	wasAvailable := state.Available
	state.FailureCount++
	state.LastFailure = &now
	if state.FailureCount > h.config.HardFailures {
		state.Available = false
	}
	h.export(state)
	return wasAvailable != state.Available
}

func (h *HealthTracker) IsAvailable(ch models.Channel) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state, ok := h.channels[ch]
	if !ok || !state.Available {
		return false
	}
	if state.FailureCount > h.config.SoftFailures && state.LastFailure != nil &&
		h.now().Sub(*state.LastFailure) < h.config.Cooldown {
		return false
	}
	return true
}

func (h *HealthTracker) Get(ch models.Channel) (models.ChannelHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	state, ok := h.channels[ch]
	if !ok {
		return models.ChannelHealth{}, false
	}
	return copyHealth(state), true
}

func (h *HealthTracker) All() map[models.Channel]models.ChannelHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[models.Channel]models.ChannelHealth, len(h.channels))
	for ch, state := range h.channels {
		out[ch] = copyHealth(state)
	}
	return out
}

func (h *HealthTracker) Reset(ch models.Channel) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[ch]; !ok {
		return false
	}
	h.channels[ch] = &models.ChannelHealth{Channel: ch, Available: true}
	h.export(h.channels[ch])
	return true
}

func (h *HealthTracker) ResetAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.channels {
		h.channels[ch] = &models.ChannelHealth{Channel: ch, Available: true}
		h.export(h.channels[ch])
	}
}

func (h *HealthTracker) export(state *models.ChannelHealth) {
	available := 0.0
	if state.Available {
		available = 1
	}
	metrics.ChannelAvailable.WithLabelValues(string(state.Channel)).Set(available)
	metrics.ChannelFailureCount.WithLabelValues(string(state.Channel)).Set(float64(state.FailureCount))
}

func copyHealth(state *models.ChannelHealth) models.ChannelHealth {
	out := *state
	if state.LastFailure != nil {
		t := *state.LastFailure
		out.LastFailure = &t
	}
	if state.LastSuccess != nil {
		t := *state.LastSuccess
		out.LastSuccess = &t
	}
	return out
}
