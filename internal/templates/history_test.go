package templates

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-workers/internal/models"
)

func historyEntry(id, version string) models.VersionHistoryEntry {
	return models.VersionHistoryEntry{
		TemplateID: id,
		Version:    version,
		Snapshot: models.Template{
			ID:       id,
			Version:  version,
			Variants: []models.Variant{socketVariant(models.RolePatient, "en", "v"+version)},
		},
		CapturedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Reason:     "update",
	}
}

func exerciseHistory(t *testing.T, h HistoryStore) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, h.Push(ctx, historyEntry("tmpl-1", fmt.Sprintf("1.0.%d", i))))
	}
	require.NoError(t, h.Push(ctx, historyEntry("tmpl-2", "3.0.0")))

	list, err := h.List(ctx, "tmpl-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "1.0.3", list[0].Version)
	assert.Equal(t, "1.0.1", list[2].Version)

	found, err := h.Find(ctx, "tmpl-1", "1.0.2")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "v1.0.2", found.Snapshot.Variants[0].Title)

	missing, err := h.Find(ctx, "tmpl-1", "1.0.0")
	require.NoError(t, err)
	assert.Nil(t, missing, "evicted beyond the limit")

	empty, err := h.List(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryHistory(t *testing.T) {
	exerciseHistory(t, NewMemoryHistory(3))
}

func TestRedisHistory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseHistory(t, NewRedisHistory(client, 3))

	n, err := client.LLen(context.Background(), "notifications:template-history:tmpl-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRedisHistory_ReadError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectLRange("notifications:template-history:tmpl-1", 0, -1).SetErr(errors.New("connection refused"))

	_, err := NewRedisHistory(db, 0).Find(context.Background(), "tmpl-1", "1.0.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupCache(t *testing.T) {
	c := NewLookupCache()
	rv := &ResolvedVariant{TemplateID: "t1", Variant: socketVariant(models.RolePatient, "en", "Hi")}
	booked := TypePrefix(models.TemplateAppointmentBooked)
	shipped := TypePrefix(models.TemplateOrderShipped)

	require.True(t, c.SetIfCurrent(CacheKey(models.TemplateAppointmentBooked, models.ChannelWebsocket, models.RolePatient, "en"), booked, c.Generation(booked), rv))
	require.True(t, c.SetIfCurrent(CacheKey(models.TemplateAppointmentBooked, models.ChannelEmail, models.RolePatient, "en"), booked, c.Generation(booked), rv))
	require.True(t, c.SetIfCurrent(CacheKey(models.TemplateOrderShipped, models.ChannelSMS, models.RolePatient, "en"), shipped, c.Generation(shipped), rv))
	assert.Equal(t, 3, c.Len())

	got, ok := c.Get("appointment_booked_websocket_patient_en")
	require.True(t, ok)
	got.Variant.Title = "mutated"
	again, _ := c.Get("appointment_booked_websocket_patient_en")
	assert.Equal(t, "Hi", again.Variant.Title, "cached values are copied")

	assert.Equal(t, 2, c.InvalidatePrefix(booked))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	_, ok = c.Get("order_shipped_sms_patient_en")
	assert.False(t, ok)
}

func TestLookupCache_SkipsResultsReadBeforeInvalidation(t *testing.T) {
	c := NewLookupCache()
	rv := &ResolvedVariant{TemplateID: "t1", Version: "1.0.0"}
	booked := TypePrefix(models.TemplateAppointmentBooked)
	key := CacheKey(models.TemplateAppointmentBooked, models.ChannelWebsocket, models.RolePatient, "en")

	tests := []struct {
		name       string
		invalidate func()
		wantStored bool
	}{
		{name: "no change", invalidate: func() {}, wantStored: true},
		{name: "same type invalidated", invalidate: func() { c.InvalidatePrefix(booked) }, wantStored: false},
		{name: "other type invalidated", invalidate: func() { c.InvalidatePrefix(TypePrefix(models.TemplateOrderShipped)) }, wantStored: true},
		{name: "cache cleared", invalidate: c.Clear, wantStored: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.Clear()
			gen := c.Generation(booked)
			tt.invalidate()

			assert.Equal(t, tt.wantStored, c.SetIfCurrent(key, booked, gen, rv))
			_, ok := c.Get(key)
			assert.Equal(t, tt.wantStored, ok)
		})
	}
}
