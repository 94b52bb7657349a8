package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "notification-workers/internal/common/errors"
	"notification-workers/internal/models"
)

var (
	ws    = models.ChannelWebsocket
	email = models.ChannelEmail
	sms   = models.ChannelSMS
)

// ==========================
// Channel Selection
// ==========================

func TestManager_EffectiveChannels(t *testing.T) {
	m := createTestManager(t)

	tests := []struct {
		name      string
		priority  models.Priority
		requested []models.Channel
		prefs     models.ChannelPreferences
		want      []models.Channel
	}{
		{"emergency ignores preferences", models.PriorityEmergency, []models.Channel{email}, models.ChannelPreferences{ws: false, sms: false}, []models.Channel{ws, sms, email}},
		{"critical uses priority list", models.PriorityCritical, nil, nil, []models.Channel{ws, sms, email}},
		{"high default list", models.PriorityHigh, nil, nil, []models.Channel{ws, email, sms}},
		{"medium default list", models.PriorityMedium, nil, nil, []models.Channel{ws, email}},
		{"low default list", models.PriorityLow, nil, nil, []models.Channel{ws}},
		{"requested channels kept", models.PriorityMedium, []models.Channel{sms, email}, nil, []models.Channel{sms, email}},
		{"explicit false drops channel", models.PriorityHigh, []models.Channel{ws, email, sms}, models.ChannelPreferences{email: false}, []models.Channel{ws, sms}},
		{"missing preference means enabled", models.PriorityHigh, []models.Channel{sms}, models.ChannelPreferences{email: false}, []models.Channel{sms}},
		{"all disabled defaults to websocket", models.PriorityMedium, []models.Channel{email, sms}, models.ChannelPreferences{email: false, sms: false}, []models.Channel{ws}},
		{"duplicates removed", models.PriorityMedium, []models.Channel{email, email}, nil, []models.Channel{email}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.EffectiveChannels(tt.priority, tt.requested, tt.prefs))
		})
	}
}

// ==========================
// DeliverNotification
// ==========================

func TestManager_DeliverNotification_AllSucceed(t *testing.T) {
	wsS, emailS, smsS := newFakeStrategy(ws, nil), newFakeStrategy(email, nil), newFakeStrategy(sms, nil)
	m := createTestManager(t, wsS, emailS, smsS)
	events, unsubscribe := m.Subscribe()
	defer unsubscribe()

	result, err := m.DeliverNotification(context.Background(), createTestNotification(models.PriorityHigh), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, "delivery-1", result.DeliveryID)
	assert.Equal(t, []models.Channel{ws, email, sms}, result.Channels)
	require.Len(t, result.Results, 3)
	for _, r := range result.Results {
		assert.True(t, r.Success)
	}
	assert.Empty(t, result.FallbackChannel)

	got := drain(events)
	assert.Contains(t, eventTypes(got), EventDeliveryComplete)
	for _, e := range got {
		assert.Equal(t, "delivery-1", e.DeliveryID)
	}

	stats := m.GetStats().Channels
	assert.Equal(t, int64(1), stats[email].Sent)
	assert.Equal(t, int64(1), stats[email].Delivered)
}

func TestManager_DeliverNotification_PartialFailureDoesNotCancelSiblings(t *testing.T) {
	slow := newFakeStrategy(email, func(int) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	m := createTestManager(t, newFakeStrategy(ws, alwaysFail("user not connected")), slow)

	result, err := m.DeliverNotification(context.Background(), createTestNotification(models.PriorityMedium), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 1, slow.Calls())
}

func TestManager_DeliverNotification_FallbackOrder(t *testing.T) {
	wsS := newFakeStrategy(ws, alwaysFail("user not connected"))
	emailS := newFakeStrategy(email, nil)
	smsS := newFakeStrategy(sms, nil)
	m := createTestManager(t, wsS, emailS, smsS)

	result, err := m.DeliverNotification(context.Background(), createTestNotification(models.PriorityHigh), []models.Channel{ws}, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccessFallback, result.Status)
	assert.Equal(t, email, result.FallbackChannel)
	assert.Equal(t, 1, emailS.Calls())
	assert.Equal(t, 0, smsS.Calls(), "fallback stops at the first success")
	require.Len(t, result.Results, 2)
}

func TestManager_DeliverNotification_NoFallbackWhenNothingLeft(t *testing.T) {
	wsS := newFakeStrategy(ws, alwaysFail("user not connected"))
	emailS := newFakeStrategy(email, nil)
	m := createTestManager(t, wsS, emailS)

	result, err := m.DeliverNotification(context.Background(), createTestNotification(models.PriorityLow), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "All delivery channels failed")
	assert.Equal(t, 0, emailS.Calls())
}

func TestManager_DeliverNotification_EmergencyFallsBackThroughUntriedChannels(t *testing.T) {
	wsS := newFakeStrategy(ws, alwaysFail("user not connected"))
	smsS := newFakeStrategy(sms, alwaysFail("invalid number"))
	emailS := newFakeStrategy(email, alwaysFail("mailbox full"))
	m := createTestManager(t, wsS, smsS, emailS)
	events, unsubscribe := m.Subscribe()
	defer unsubscribe()

	result, err := m.DeliverNotification(context.Background(), createTestNotification(models.PriorityEmergency), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Len(t, result.Results, 3, "every channel was already attempted so fallback has nothing to add")
	assert.Contains(t, eventTypes(drain(events)), EventDeliveryFailure)
}

func TestManager_DeliverNotification_InvalidInput(t *testing.T) {
	m := createTestManager(t, newFakeStrategy(ws, nil))

	tests := []struct {
		name string
		n    *models.Notification
	}{
		{"nil notification", nil},
		{"missing id", &models.Notification{Recipients: []models.Recipient{{UserID: "u1"}}}},
		{"no recipients", &models.Notification{ID: "n1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.DeliverNotification(context.Background(), tt.n, nil, nil)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

// ==========================
// AttemptFallbackDelivery / DeliverWithFallback
// ==========================

func TestManager_AttemptFallbackDelivery(t *testing.T) {
	t.Run("sms before email after failed websocket", func(t *testing.T) {
		smsS, emailS := newFakeStrategy(sms, nil), newFakeStrategy(email, nil)
		m := createTestManager(t, newFakeStrategy(ws, nil), smsS, emailS)

		r := m.AttemptFallbackDelivery(context.Background(), createTestNotification(models.PriorityCritical), []models.Channel{ws}, "d-1")
		require.NotNil(t, r)
		assert.True(t, r.Success)
		assert.Equal(t, sms, r.Channel)
		assert.Equal(t, 0, emailS.Calls())
	})

	t.Run("continues past a failure", func(t *testing.T) {
		smsS, emailS := newFakeStrategy(sms, alwaysFail("carrier rejected")), newFakeStrategy(email, nil)
		m := createTestManager(t, newFakeStrategy(ws, nil), smsS, emailS)

		r := m.AttemptFallbackDelivery(context.Background(), createTestNotification(models.PriorityCritical), []models.Channel{ws}, "d-1")
		require.NotNil(t, r)
		assert.Equal(t, email, r.Channel)
		assert.True(t, r.Success)
	})

	t.Run("nothing left to try", func(t *testing.T) {
		m := createTestManager(t, newFakeStrategy(ws, nil))
		r := m.AttemptFallbackDelivery(context.Background(), createTestNotification(models.PriorityLow), []models.Channel{ws}, "d-1")
		assert.Nil(t, r)
	})
}

func TestManager_DeliverWithFallback(t *testing.T) {
	t.Run("primary succeeds", func(t *testing.T) {
		m := createTestManager(t, newFakeStrategy(email, nil), newFakeStrategy(sms, nil))
		fr, err := m.DeliverWithFallback(context.Background(), createTestNotification(models.PriorityMedium), email, []models.Channel{sms})
		require.NoError(t, err)
		assert.Equal(t, email, fr.Channel)
		assert.False(t, fr.UsedFallback)
		assert.Len(t, fr.Attempts, 1)
	})

	t.Run("fallback used in the given order", func(t *testing.T) {
		smsS := newFakeStrategy(sms, nil)
		m := createTestManager(t, newFakeStrategy(email, alwaysFail("bounced")), newFakeStrategy(ws, alwaysFail("user not connected")), smsS)
		fr, err := m.DeliverWithFallback(context.Background(), createTestNotification(models.PriorityMedium), email, []models.Channel{ws, sms})
		require.NoError(t, err)
		assert.Equal(t, sms, fr.Channel)
		assert.True(t, fr.UsedFallback)
		assert.Len(t, fr.Attempts, 3)
	})

	t.Run("all channels failed", func(t *testing.T) {
		m := createTestManager(t, newFakeStrategy(email, alwaysFail("bounced")), newFakeStrategy(sms, alwaysFail("invalid number")))
		fr, err := m.DeliverWithFallback(context.Background(), createTestNotification(models.PriorityMedium), email, []models.Channel{sms})
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrAllChannelsFailed)
		assert.Equal(t, "All delivery channels failed", err.(*apperrors.StandardError).Message)
		assert.Contains(t, err.Error(), "email, sms")
		assert.Len(t, fr.Attempts, 2)
	})

	t.Run("unavailable fallback skipped", func(t *testing.T) {
		smsS := newFakeStrategy(sms, nil)
		m := createTestManager(t, newFakeStrategy(email, alwaysFail("bounced")), smsS)
		for i := 0; i < 11; i++ {
			m.health.RecordFailure(sms)
		}
		_, err := m.DeliverWithFallback(context.Background(), createTestNotification(models.PriorityMedium), email, []models.Channel{sms})
		require.Error(t, err)
		assert.Equal(t, 0, smsS.Calls())
	})
}

// ==========================
// DeliverThroughChannel
// ==========================

func TestManager_DeliverThroughChannel(t *testing.T) {
	t.Run("unknown channel", func(t *testing.T) {
		m := createTestManager(t, newFakeStrategy(ws, nil))
		r := m.DeliverThroughChannel(context.Background(), createTestNotification(models.PriorityLow), "pager", "d-1")
		assert.False(t, r.Success)
		assert.Contains(t, r.Error, "pager")
	})

	t.Run("unavailable channel touches no counters", func(t *testing.T) {
		emailS := newFakeStrategy(email, nil)
		m := createTestManager(t, emailS)
		for i := 0; i < 11; i++ {
			m.health.RecordFailure(email)
		}
		before := m.GetStats().Channels[email]

		r := m.DeliverThroughChannel(context.Background(), createTestNotification(models.PriorityLow), email, "d-1")
		assert.False(t, r.Success)
		assert.ErrorIs(t, r.Err, apperrors.ErrChannelUnavailable)
		assert.Equal(t, 0, emailS.Calls())
		assert.Equal(t, before, m.GetStats().Channels[email])
		health, _ := m.GetChannelHealth(email)
		assert.Equal(t, 11, health.FailureCount)
	})

	t.Run("health change event on flip", func(t *testing.T) {
		m := createTestManager(t, newFakeStrategy(email, alwaysFail("bounced")))
		events, unsubscribe := m.Subscribe()
		defer unsubscribe()

		for i := 0; i < 11; i++ {
			m.clock.Advance(6 * time.Minute)
			m.DeliverThroughChannel(context.Background(), createTestNotification(models.PriorityLow), email, "d-1")
		}
		var changes []Event
		for _, e := range drain(events) {
			if e.Type == EventChannelHealthChange {
				changes = append(changes, e)
			}
		}
		require.Len(t, changes, 1)
		require.NotNil(t, changes[0].Available)
		assert.False(t, *changes[0].Available)
	})

	t.Run("counters and health on success", func(t *testing.T) {
		m := createTestManager(t, newFakeStrategy(email, nil))
		m.health.RecordFailure(email)
		m.health.RecordFailure(email)

		r := m.DeliverThroughChannel(context.Background(), createTestNotification(models.PriorityLow), email, "d-1")
		assert.True(t, r.Success)
		assert.Equal(t, email, r.Channel)

		health, _ := m.GetChannelHealth(email)
		assert.Equal(t, 1, health.FailureCount)
		assert.NotNil(t, health.LastSuccess)
	})
}

// ==========================
// Retries
// ==========================

func TestManager_RetryAfterTemporaryFailure(t *testing.T) {
	emailS := newFakeStrategy(email, func(call int) error {
		if call == 1 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	m := createTestManager(t, emailS, newFakeStrategy(ws, alwaysFail("user not connected")))
	events, unsubscribe := m.Subscribe()
	defer unsubscribe()

	result, err := m.DeliverNotification(context.Background(), createTestNotification(models.PriorityMedium), []models.Channel{email}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)

	m.Wait()

	assert.Equal(t, 2, emailS.Calls())
	assert.Equal(t, []time.Duration{time.Second}, m.sleeps.Delays())
	types := eventTypes(drain(events))
	assert.Contains(t, types, EventRetryScheduled)
	assert.Contains(t, types, EventRetrySuccess)

	pending, _ := m.store.List(context.Background())
	assert.Empty(t, pending)
	assert.Equal(t, int64(1), m.GetStats().Channels[email].Retried)
}

func TestManager_RetryExhaustion(t *testing.T) {
	emailS := newFakeStrategy(email, alwaysFail("request timeout"))
	m := createTestManager(t, emailS)

	result, err := m.DeliverNotification(context.Background(), createTestNotification(models.PriorityMedium), []models.Channel{email}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)

	m.Wait()

	assert.Equal(t, 4, emailS.Calls(), "initial attempt plus three retries")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, m.sleeps.Delays())
	pending, _ := m.store.List(context.Background())
	assert.Empty(t, pending)
}

func TestManager_NoRetryForPermanentFailure(t *testing.T) {
	emailS := newFakeStrategy(email, alwaysFail("mailbox does not exist"))
	m := createTestManager(t, emailS)

	_, err := m.DeliverNotification(context.Background(), createTestNotification(models.PriorityMedium), []models.Channel{email}, nil)
	require.NoError(t, err)
	m.Wait()

	assert.Equal(t, 1, emailS.Calls())
	assert.Empty(t, m.sleeps.Delays())
}

func TestManager_UrgentRetriesEvenAfterSuccess(t *testing.T) {
	smsS := newFakeStrategy(sms, func(call int) error {
		if call == 1 {
			return errors.New("service unavailable")
		}
		return nil
	})
	m := createTestManager(t, newFakeStrategy(ws, nil), smsS, newFakeStrategy(email, nil))

	result, err := m.DeliverNotification(context.Background(), createTestNotification(models.PriorityEmergency), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, result.Status)

	m.Wait()
	assert.Equal(t, 2, smsS.Calls())
}

func TestManager_RetryFailedDelivery_MissingRecord(t *testing.T) {
	m := createTestManager(t, newFakeStrategy(email, nil))
	events, unsubscribe := m.Subscribe()
	defer unsubscribe()

	err := m.RetryFailedDelivery(context.Background(), "unknown", email, 0)
	require.Error(t, err)
	assert.Equal(t, []EventType{EventRetryError}, eventTypes(drain(events)))
}

func TestManager_Recover(t *testing.T) {
	emailS := newFakeStrategy(email, nil)
	m := createTestManager(t, emailS)
	n := createTestNotification(models.PriorityHigh)

	require.NoError(t, m.store.Save(context.Background(), PendingRetry{
		Notification: *n,
		Channel:      email,
		DeliveryID:   "old-delivery",
		RetryCount:   1,
		DueAt:        m.clock.Now().Add(-time.Minute),
	}))

	count, err := m.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	m.Wait()
	assert.Equal(t, 1, emailS.Calls())
	pending, _ := m.store.List(context.Background())
	assert.Empty(t, pending)
}

// ==========================
// Health / Stats Surface
// ==========================

func TestManager_ResetChannelHealth(t *testing.T) {
	m := createTestManager(t, newFakeStrategy(email, nil), newFakeStrategy(sms, nil))
	for i := 0; i < 11; i++ {
		m.health.RecordFailure(email)
		m.health.RecordFailure(sms)
	}
	assert.False(t, m.IsChannelAvailable(email))

	require.NoError(t, m.ResetChannelHealth(email))
	assert.True(t, m.IsChannelAvailable(email))
	assert.False(t, m.IsChannelAvailable(sms))

	assert.ErrorIs(t, m.ResetChannelHealth("pager"), apperrors.ErrUnsupportedChannel)

	m.ResetAllChannelHealth()
	assert.True(t, m.IsChannelAvailable(sms))
}

func TestManager_RecordTrackingEvent(t *testing.T) {
	m := createTestManager(t, newFakeStrategy(email, nil))

	m.RecordTrackingEvent(models.TrackingEvent{Provider: "ses", MessageID: "m1", Event: models.TrackingOpened})
	m.RecordTrackingEvent(models.TrackingEvent{Provider: "ses", MessageID: "m1", Event: models.TrackingClicked})
	m.RecordTrackingEvent(models.TrackingEvent{Provider: "sns", MessageID: "m2", Event: models.TrackingDelivered, Channel: sms})

	stats := m.GetStats().Channels
	assert.Equal(t, int64(1), stats[email].Opened)
	assert.Equal(t, int64(1), stats[email].Clicked)
	assert.Equal(t, int64(1), stats[sms].Confirmed)
}
