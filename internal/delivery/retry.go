package delivery

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	apperrors "notification-workers/internal/common/errors"
)

// RetryPolicy is an exponential backoff schedule.
type RetryPolicy struct {
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second, MaxRetries: 3}
}

// Delay returns min(base * multiplier^retryCount, max).
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retryCount))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// CanRetry reports whether an attempt numbered retryCount may schedule another.
func (p RetryPolicy) CanRetry(retryCount int) bool {
	return retryCount+1 < p.MaxRetries
}

var temporaryMarkers = []string{
	"timeout",
	"connection",
	"network",
	"rate limit",
	"service unavailable",
	"temporary",
}

// IsTemporary classifies a failure as worth retrying.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, apperrors.ErrChannelUnavailable) {
		return false
	}
	return IsTemporaryMessage(err.Error())
}

// IsTemporaryMessage applies the marker match to an already rendered message.
func IsTemporaryMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range temporaryMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
