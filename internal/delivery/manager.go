// Package delivery is the channel manager: it picks channels for a
// notification, fans out across them, falls back and retries on failure, and
// keeps per-channel health and statistics.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	apperrors "notification-workers/internal/common/errors"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/common/metrics"
	"notification-workers/internal/models"
)

type Config struct {
	Retry          RetryPolicy                          `mapstructure:"retry"`
	Health         HealthConfig                         `mapstructure:"health"`
	EventBuffer    int                                  `mapstructure:"event_buffer"`
	AttemptTimeout time.Duration                        `mapstructure:"attempt_timeout"`
	PriorityOrder  map[models.Priority][]models.Channel `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		Retry:          DefaultRetryPolicy(),
		Health:         DefaultHealthConfig(),
		EventBuffer:    DefaultEventBuffer,
		AttemptTimeout: 30 * time.Second,
		PriorityOrder:  DefaultPriorityOrder(),
	}
}

// DefaultPriorityOrder is the channel list used per priority, both as the
// default channel set and as the fallback order.
func DefaultPriorityOrder() map[models.Priority][]models.Channel {
	ws, email, sms := models.ChannelWebsocket, models.ChannelEmail, models.ChannelSMS
	return map[models.Priority][]models.Channel{
		models.PriorityEmergency: {ws, sms, email},
		models.PriorityCritical:  {ws, sms, email},
		models.PriorityHigh:      {ws, email, sms},
		models.PriorityMedium:    {ws, email},
		models.PriorityLow:       {ws},
	}
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSleep replaces the retry timer, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// Manager owns all delivery state. Create it with NewManager and share one
// instance per process.
type Manager struct {
	config     Config
	strategies map[models.Channel]Strategy
	channels   []models.Channel
	health     *HealthTracker
	stats      *Stats
	events     *EventBus
	retries    RetryStore
	logger     logger.Logger
	tracer     trace.Tracer
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	newID      func() string

	retryCtx    context.Context
	cancelRetry context.CancelFunc
	inflight    sync.WaitGroup
}

// NewManager registers one strategy per channel. A nil retry store keeps
// pending retries in memory.
func NewManager(config Config, strategies []Strategy, retries RetryStore, log logger.Logger, opts ...Option) *Manager {
	def := DefaultConfig()
	if config.Retry.MaxRetries <= 0 {
		config.Retry = def.Retry
	}
	if config.Health.HardFailures <= 0 {
		config.Health = def.Health
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = def.AttemptTimeout
	}
	if config.PriorityOrder == nil {
		config.PriorityOrder = def.PriorityOrder
	}
	if retries == nil {
		retries = NewMemoryRetryStore()
	}

	m := &Manager{
		config:     config,
		strategies: make(map[models.Channel]Strategy, len(strategies)),
		retries:    retries,
		logger:     logger.ForComponent(log, "channel-manager"),
		tracer:     otel.Tracer("notification-workers/delivery"),
		now:        time.Now,
		sleep:      sleepContext,
		newID:      uuid.NewString,
	}
	for _, s := range strategies {
		if _, dup := m.strategies[s.Channel()]; !dup {
			m.channels = append(m.channels, s.Channel())
		}
		m.strategies[s.Channel()] = s
	}
	for _, opt := range opts {
		opt(m)
	}

	m.health = NewHealthTracker(config.Health, m.channels, func() time.Time { return m.now() })
	m.stats = NewStats(m.channels)
	m.events = NewEventBus(config.EventBuffer)
	m.retryCtx, m.cancelRetry = context.WithCancel(context.Background())
	return m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Channels lists the registered channels in registration order.
func (m *Manager) Channels() []models.Channel {
	return append([]models.Channel(nil), m.channels...)
}

func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.events.Subscribe()
}

func (m *Manager) emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = m.now().UTC()
	}
	m.events.Publish(e)
}

func (m *Manager) priorityOrder(p models.Priority) []models.Channel {
	if order, ok := m.config.PriorityOrder[p]; ok {
		return order
	}
	return m.config.PriorityOrder[models.PriorityMedium]
}

// EffectiveChannels resolves the channels to attempt. Urgent priorities use
// the priority list and ignore preferences; others filter the requested
// channels (or the priority list) by preference and default to websocket.
func (m *Manager) EffectiveChannels(p models.Priority, requested []models.Channel, prefs models.ChannelPreferences) []models.Channel {
	if p.IsUrgent() {
		return append([]models.Channel(nil), m.priorityOrder(p)...)
	}
	if len(requested) == 0 {
		requested = m.priorityOrder(p)
	}
	seen := make(map[models.Channel]bool, len(requested))
	var out []models.Channel
	for _, ch := range requested {
		if seen[ch] || !prefs.Allows(ch) {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	if len(out) == 0 {
		out = []models.Channel{models.ChannelWebsocket}
	}
	return out
}

func validateNotification(n *models.Notification) error {
	switch {
	case n == nil:
		return apperrors.NewInvalidInputError("notification is required")
	case n.ID == "":
		return apperrors.NewInvalidInputError("notification id is required")
	case len(n.Recipients) == 0:
		return apperrors.NewInvalidInputError("notification has no recipients")
	}
	return nil
}

// DeliverNotification attempts every effective channel concurrently and
// waits for all of them. Channel failures are reported in the result; only
// an invalid notification returns an error.
func (m *Manager) DeliverNotification(ctx context.Context, n *models.Notification, channels []models.Channel, prefs models.ChannelPreferences) (*models.DeliveryResult, error) {
	if err := validateNotification(n); err != nil {
		return nil, err
	}

	deliveryID := m.newID()
	ctx, span := m.tracer.Start(ctx, "delivery.DeliverNotification", trace.WithAttributes(
		attribute.String("notification.id", n.ID),
		attribute.String("notification.priority", string(n.Priority)),
		attribute.String("delivery.id", deliveryID),
	))
	defer span.End()

	effective := m.EffectiveChannels(n.Priority, channels, prefs)
	result := &models.DeliveryResult{
		DeliveryID:     deliveryID,
		NotificationID: n.ID,
		Status:         models.StatusPending,
		Channels:       effective,
		StartedAt:      m.now(),
	}

	attempts := make([]*models.ChannelResult, len(effective))
	var g errgroup.Group
	for i, ch := range effective {
		g.Go(func() error {
			attempts[i] = m.DeliverThroughChannel(ctx, n, ch, deliveryID)
			return nil
		})
	}
	_ = g.Wait()
	result.Results = attempts

	for _, r := range attempts {
		if r.Success {
			result.Status = models.StatusSuccess
			break
		}
	}

	if result.Status != models.StatusSuccess && m.fallbackWarranted(n.Priority, effective) {
		fallback := m.fallback(ctx, n, effective, deliveryID)
		result.Results = append(result.Results, fallback...)
		if last := lastResult(fallback); last != nil && last.Success {
			result.Status = models.StatusSuccessFallback
			result.FallbackChannel = last.Channel
		}
	}
	if result.Status == models.StatusPending {
		result.Status = models.StatusFailed
		result.Error = apperrors.NewAllChannelsFailedError(channelNames(result.Results), lastError(result.Results)).Error()
	}
	result.CompletedAt = m.now()

	if result.Status == models.StatusFailed || n.Priority.IsUrgent() {
		m.scheduleTemporaryFailures(ctx, n, result)
	}

	metrics.NotificationDeliveries.WithLabelValues(string(result.Status), string(n.Priority)).Inc()
	span.SetAttributes(attribute.String("delivery.status", string(result.Status)))

	payload := map[string]interface{}{
		"status":   result.Status,
		"channels": effective,
	}
	if result.Succeeded() {
		m.emit(Event{Type: EventDeliveryComplete, NotificationID: n.ID, DeliveryID: deliveryID, Channel: result.FallbackChannel, Payload: payload})
		m.logger.Info("Notification delivered", map[string]interface{}{
			"notificationId": n.ID,
			"deliveryId":     deliveryID,
			"status":         result.Status,
			"channels":       effective,
		})
	} else {
		span.SetStatus(codes.Error, result.Error)
		m.emit(Event{Type: EventDeliveryFailure, NotificationID: n.ID, DeliveryID: deliveryID, Error: result.Error, Payload: payload})
		m.logger.Warn("Notification delivery failed", map[string]interface{}{
			"notificationId": n.ID,
			"deliveryId":     deliveryID,
			"channels":       effective,
			"error":          result.Error,
		})
	}
	return result, nil
}

// fallbackWarranted is always true for urgent priorities; otherwise an
// unattempted available channel must exist in the priority order.
func (m *Manager) fallbackWarranted(p models.Priority, attempted []models.Channel) bool {
	if p.IsUrgent() {
		return true
	}
	for _, ch := range m.priorityOrder(p) {
		if !containsChannel(attempted, ch) && m.IsChannelAvailable(ch) {
			return true
		}
	}
	return false
}

// AttemptFallbackDelivery walks the priority order sequentially, skipping
// failed and unavailable channels, and stops at the first success. It
// returns the last attempt, or nil when no channel was left to try.
func (m *Manager) AttemptFallbackDelivery(ctx context.Context, n *models.Notification, failed []models.Channel, deliveryID string) *models.ChannelResult {
	return lastResult(m.fallback(ctx, n, failed, deliveryID))
}

func (m *Manager) fallback(ctx context.Context, n *models.Notification, failed []models.Channel, deliveryID string) []*models.ChannelResult {
	var attempts []*models.ChannelResult
	for _, ch := range m.priorityOrder(n.Priority) {
		if containsChannel(failed, ch) || !m.IsChannelAvailable(ch) {
			continue
		}
		m.logger.Info("Attempting fallback channel", map[string]interface{}{
			"notificationId": n.ID,
			"deliveryId":     deliveryID,
			"channel":        ch,
		})
		r := m.DeliverThroughChannel(ctx, n, ch, deliveryID)
		attempts = append(attempts, r)
		if r.Success {
			break
		}
	}
	return attempts
}

// FallbackResult reports a DeliverWithFallback call.
type FallbackResult struct {
	DeliveryID   string                  `json:"deliveryId"`
	Channel      models.Channel          `json:"channel,omitempty"`
	UsedFallback bool                    `json:"usedFallback"`
	Attempts     []*models.ChannelResult `json:"attempts"`
}

// DeliverWithFallback tries primary once, then each fallback in order,
// skipping unavailable ones. When every channel fails the error lists the
// channels tried.
func (m *Manager) DeliverWithFallback(ctx context.Context, n *models.Notification, primary models.Channel, fallbacks []models.Channel) (*FallbackResult, error) {
	if err := validateNotification(n); err != nil {
		return nil, err
	}
	fr := &FallbackResult{DeliveryID: m.newID()}

	r := m.DeliverThroughChannel(ctx, n, primary, fr.DeliveryID)
	fr.Attempts = append(fr.Attempts, r)
	if r.Success {
		fr.Channel = primary
		return fr, nil
	}

	for _, ch := range fallbacks {
		if ch == primary || !m.IsChannelAvailable(ch) {
			continue
		}
		r := m.DeliverThroughChannel(ctx, n, ch, fr.DeliveryID)
		fr.Attempts = append(fr.Attempts, r)
		if r.Success {
			fr.Channel = ch
			fr.UsedFallback = true
			return fr, nil
		}
	}
	return fr, apperrors.NewAllChannelsFailedError(channelNames(fr.Attempts), lastError(fr.Attempts))
}

// DeliverThroughChannel runs one channel's strategy and updates counters,
// health and events. An unavailable channel is reported without touching
// any counter.
func (m *Manager) DeliverThroughChannel(ctx context.Context, n *models.Notification, ch models.Channel, deliveryID string) *models.ChannelResult {
	start := m.now()
	strategy, ok := m.strategies[ch]
	if !ok {
		err := apperrors.NewUnsupportedChannelError(string(ch))
		return &models.ChannelResult{Channel: ch, Error: err.Error(), Err: err, AttemptedAt: start}
	}
	if !m.health.IsAvailable(ch) {
		err := apperrors.NewChannelUnavailableError(string(ch))
		return &models.ChannelResult{Channel: ch, Error: err.Error(), Err: err, AttemptedAt: start}
	}

	ctx, span := m.tracer.Start(ctx, "delivery.channel", trace.WithAttributes(
		attribute.String("channel", string(ch)),
		attribute.String("delivery.id", deliveryID),
	))
	defer span.End()

	m.stats.sent(ch)
	attemptCtx, cancel := context.WithTimeout(ctx, m.config.AttemptTimeout)
	result := strategy.Deliver(attemptCtx, n, deliveryID)
	cancel()

	result.Channel = ch
	result.AttemptedAt = start
	result.Duration = m.now().Sub(start)
	if !result.Success && result.Err == nil {
		result.Err = errors.New(result.Error)
	}
	metrics.ChannelAttemptDuration.WithLabelValues(string(ch)).Observe(result.Duration.Seconds())

	var flipped bool
	if result.Success {
		m.stats.delivered(ch)
		flipped = m.health.RecordSuccess(ch)
		metrics.ChannelAttempts.WithLabelValues(string(ch), "success").Inc()
		m.emit(Event{
			Type:           EventChannelDelivery,
			Channel:        ch,
			NotificationID: n.ID,
			DeliveryID:     deliveryID,
			Payload: map[string]interface{}{
				"delivered": result.Delivered,
				"failed":    result.Failed,
				"broadcast": result.Broadcast,
			},
		})
	} else {
		m.stats.failed(ch)
		flipped = m.health.RecordFailure(ch)
		metrics.ChannelAttempts.WithLabelValues(string(ch), "failure").Inc()
		span.SetStatus(codes.Error, result.Error)
		m.emit(Event{
			Type:           EventChannelFailure,
			Channel:        ch,
			NotificationID: n.ID,
			DeliveryID:     deliveryID,
			Error:          result.Error,
		})
		m.logger.Warn("Channel delivery failed", map[string]interface{}{
			"notificationId": n.ID,
			"deliveryId":     deliveryID,
			"channel":        ch,
			"failed":         result.Failed,
			"error":          result.Error,
		})
	}

	if flipped {
		available := result.Success
		m.emit(Event{Type: EventChannelHealthChange, Channel: ch, DeliveryID: deliveryID, Available: &available})
		m.logger.Warn("Channel availability changed", map[string]interface{}{
			"channel":   ch,
			"available": available,
		})
	}
	return result
}

func (m *Manager) scheduleTemporaryFailures(ctx context.Context, n *models.Notification, result *models.DeliveryResult) {
	scheduled := make(map[models.Channel]bool)
	for _, r := range result.Results {
		if r.Success || scheduled[r.Channel] || !IsTemporary(r.Err) {
			continue
		}
		scheduled[r.Channel] = true
		if err := m.ScheduleRetry(context.WithoutCancel(ctx), n, r.Channel, result.DeliveryID, 0, r.Err); err != nil {
			m.logger.Error("Failed to schedule retry", map[string]interface{}{
				"notificationId": n.ID,
				"channel":        r.Channel,
				"error":          err,
			})
		}
	}
}

// ScheduleRetry persists a pending retry and runs it in the background. The
// retry is detached from ctx and only stops on Close.
func (m *Manager) ScheduleRetry(ctx context.Context, n *models.Notification, ch models.Channel, deliveryID string, retryCount int, cause error) error {
	pending := PendingRetry{
		Notification: *n,
		Channel:      ch,
		DeliveryID:   deliveryID,
		RetryCount:   retryCount,
		DueAt:        m.now().Add(m.config.Retry.Delay(retryCount)),
	}
	if cause != nil {
		pending.LastError = cause.Error()
	}
	if err := m.retries.Save(ctx, pending); err != nil {
		return apperrors.NewStoreError("save pending retry", err)
	}

	metrics.DeliveryRetries.WithLabelValues(string(ch), "scheduled").Inc()
	m.emit(Event{
		Type:           EventRetryScheduled,
		Channel:        ch,
		NotificationID: n.ID,
		DeliveryID:     deliveryID,
		RetryCount:     retryCount,
		Payload:        map[string]interface{}{"dueAt": pending.DueAt},
	})
	m.spawnRetry(n.ID, ch, retryCount)
	return nil
}

func (m *Manager) spawnRetry(notificationID string, ch models.Channel, retryCount int) {
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		_ = m.RetryFailedDelivery(m.retryCtx, notificationID, ch, retryCount)
	}()
}

// RetryFailedDelivery loads the pending retry, waits out its backoff and
// re-attempts the channel. A failure schedules the next retry until the
// policy is exhausted, at which point the record is dropped.
func (m *Manager) RetryFailedDelivery(ctx context.Context, notificationID string, ch models.Channel, retryCount int) error {
	pending, err := m.retries.Load(ctx, notificationID, ch)
	if err == nil && pending == nil {
		err = fmt.Errorf("no pending retry for notification %s on %s", notificationID, ch)
	}
	if err != nil {
		m.emit(Event{Type: EventRetryError, Channel: ch, NotificationID: notificationID, RetryCount: retryCount, Error: err.Error()})
		m.logger.Error("Retry could not start", map[string]interface{}{
			"notificationId": notificationID,
			"channel":        ch,
			"error":          err,
		})
		metrics.DeliveryRetries.WithLabelValues(string(ch), "error").Inc()
		return err
	}

	delay := m.config.Retry.Delay(retryCount)
	if !pending.DueAt.IsZero() {
		delay = pending.DueAt.Sub(m.now())
	}
	if err := m.sleep(ctx, delay); err != nil {
		// The record stays in the store for Recover.
		return err
	}

	m.stats.retried(ch)
	n := pending.Notification
	result := m.DeliverThroughChannel(ctx, &n, ch, pending.DeliveryID)
	if result.Success {
		_ = m.retries.Delete(ctx, notificationID, ch)
		metrics.DeliveryRetries.WithLabelValues(string(ch), "success").Inc()
		m.emit(Event{Type: EventRetrySuccess, Channel: ch, NotificationID: notificationID, DeliveryID: pending.DeliveryID, RetryCount: retryCount})
		m.logger.Info("Retry delivered", map[string]interface{}{
			"notificationId": notificationID,
			"channel":        ch,
			"retryCount":     retryCount,
		})
		return nil
	}

	metrics.DeliveryRetries.WithLabelValues(string(ch), "failure").Inc()
	m.emit(Event{Type: EventRetryFailure, Channel: ch, NotificationID: notificationID, DeliveryID: pending.DeliveryID, RetryCount: retryCount, Error: result.Error})

	if m.config.Retry.CanRetry(retryCount) {
		return m.ScheduleRetry(ctx, &n, ch, pending.DeliveryID, retryCount+1, result.Err)
	}
	_ = m.retries.Delete(ctx, notificationID, ch)
	m.logger.Warn("Retries exhausted", map[string]interface{}{
		"notificationId": notificationID,
		"channel":        ch,
		"retryCount":     retryCount,
		"error":          result.Error,
	})
	return result.Err
}

// Recover reschedules every retry left in the store, typically by a
// previous process. It returns the number of retries resumed.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	pending, err := m.retries.List(ctx)
	if err != nil {
		return 0, apperrors.NewStoreError("list pending retries", err)
	}
	for _, p := range pending {
		m.spawnRetry(p.Notification.ID, p.Channel, p.RetryCount)
	}
	if len(pending) > 0 {
		m.logger.Info("Recovered pending retries", map[string]interface{}{"count": len(pending)})
	}
	return len(pending), nil
}

// Wait blocks until every in-flight retry has finished.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// Close stops sleeping retries, waits for running ones and closes event
// subscriptions. Stopped retries remain in the store.
func (m *Manager) Close() {
	m.cancelRetry()
	m.inflight.Wait()
	m.events.Close()
}

// IsChannelAvailable applies both the hard threshold and the cooldown window.
func (m *Manager) IsChannelAvailable(ch models.Channel) bool {
	return m.health.IsAvailable(ch)
}

func (m *Manager) GetChannelHealth(ch models.Channel) (models.ChannelHealth, bool) {
	return m.health.Get(ch)
}

func (m *Manager) GetAllChannelHealth() map[models.Channel]models.ChannelHealth {
	return m.health.All()
}

func (m *Manager) ResetChannelHealth(ch models.Channel) error {
	if !m.health.Reset(ch) {
		return apperrors.NewUnsupportedChannelError(string(ch))
	}
	available := true
	m.emit(Event{Type: EventChannelHealthChange, Channel: ch, Available: &available, Payload: map[string]interface{}{"reset": true}})
	m.logger.Info("Channel health reset", map[string]interface{}{"channel": ch})
	return nil
}

func (m *Manager) ResetAllChannelHealth() {
	m.health.ResetAll()
	m.logger.Info("All channel health reset", nil)
}

// StatsReport is the GetStats snapshot.
type StatsReport struct {
	Channels      map[models.Channel]ChannelStats         `json:"channels"`
	Health        map[models.Channel]models.ChannelHealth `json:"health"`
	EventsDropped int64                                   `json:"eventsDropped"`
}

func (m *Manager) GetStats() StatsReport {
	return StatsReport{
		Channels:      m.stats.Snapshot(),
		Health:        m.health.All(),
		EventsDropped: m.events.Dropped(),
	}
}

// RecordTrackingEvent folds a provider webhook event into the statistics.
func (m *Manager) RecordTrackingEvent(e models.TrackingEvent) {
	m.stats.RecordTrackingEvent(e)
}

func (m *Manager) ResetStats() {
	m.stats.Reset()
}

func containsChannel(list []models.Channel, ch models.Channel) bool {
	for _, c := range list {
		if c == ch {
			return true
		}
	}
	return false
}

func lastResult(rs []*models.ChannelResult) *models.ChannelResult {
	if len(rs) == 0 {
		return nil
	}
	return rs[len(rs)-1]
}

func channelNames(rs []*models.ChannelResult) []string {
	names := make([]string, 0, len(rs))
	for _, r := range rs {
		names = append(names, string(r.Channel))
	}
	return names
}

// lastError returns the cause of the last failed attempt.
func lastError(rs []*models.ChannelResult) error {
	for i := len(rs) - 1; i >= 0; i-- {
		if !rs[i].Success && rs[i].Err != nil {
			return rs[i].Err
		}
	}
	return nil
}
