package templates

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "notification-workers/internal/common/errors"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/models"
	"notification-workers/internal/rendering"
)

// ==========================
// Test Helper Functions
// ==========================

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func (c *fixedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func createTestService(t *testing.T) (*Service, *MemoryStore, *fixedClock) {
	t.Helper()
	store := NewMemoryStore()
	clock := &fixedClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	seq := 0
	svc := NewService(DefaultConfig(), store, NewMemoryHistory(0), logger.NewTestLogger(t),
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("tmpl-%d", seq)
		}),
	)
	t.Cleanup(svc.Wait)
	return svc, store, clock
}

func socketVariant(role models.UserRole, lang, title string) models.Variant {
	return models.Variant{
		Channel:  models.ChannelWebsocket,
		UserRole: role,
		Language: lang,
		Title:    title,
		Body:     "Your appointment with {{doctor.name}} is on {{appointment.date}}",
	}
}

func emailVariant(lang string) models.Variant {
	return models.Variant{
		Channel:  models.ChannelEmail,
		UserRole: models.RolePatient,
		Language: lang,
		Subject:  "Appointment confirmed",
		Title:    "Appointment booked",
		Body:     "Hello {{patient.name}}, see you on {{appointment.date}}.",
		Actions:  []models.ActionButton{{Text: "View appointment", URL: "https://app.example.com/a/{{appointment.id}}"}},
	}
}

func smsVariant(lang string) models.Variant {
	return models.Variant{
		Channel:  models.ChannelSMS,
		UserRole: models.RolePatient,
		Language: lang,
		Title:    "Appointment booked",
		Body:     "Appointment on {{appointment.date}} confirmed.",
	}
}

func createInput(variants ...models.Variant) TemplateInput {
	return TemplateInput{
		Name:     "Appointment booked",
		Type:     models.TemplateAppointmentBooked,
		Category: models.CategoryMedical,
		Variants: variants,
	}
}

// ==========================
// Create Tests
// ==========================

func TestService_CreateTemplate_Versioning(t *testing.T) {
	svc, store, _ := createTestService(t)
	ctx := context.Background()

	first, err := svc.CreateTemplate(ctx, createInput(socketVariant(models.RolePatient, "en", "Booked")), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", first.Version)
	assert.True(t, first.IsActive)
	assert.Equal(t, "en", first.DefaultLanguage)
	assert.Equal(t, "admin-1", first.CreatedBy)

	second, err := svc.CreateTemplate(ctx, createInput(socketVariant(models.RolePatient, "en", "Booked v2")), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", second.Version)

	stored, err := store.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive, "without replace both versions stay active")

	in := createInput(socketVariant(models.RolePatient, "en", "Booked v3"))
	in.Replace = true
	third, err := svc.CreateTemplate(ctx, in, "admin-2")
	require.NoError(t, err)
	assert.Equal(t, "1.0.2", third.Version)

	for _, id := range []string{first.ID, second.ID} {
		prior, err := store.FindByID(ctx, id)
		require.NoError(t, err)
		assert.False(t, prior.IsActive, "template %s should be deactivated", id)
		assert.Equal(t, "admin-2", prior.UpdatedBy)
	}
}

func TestService_CreateTemplate_VersionFollowsHighestOfType(t *testing.T) {
	svc, store, _ := createTestService(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.Template{
		ID: "legacy", Name: "Legacy", Type: models.TemplateAppointmentBooked, Category: models.CategoryMedical,
		Version: "1.0.9", Variants: []models.Variant{socketVariant(models.RolePatient, "en", "Old")},
	}))
	require.NoError(t, store.Create(ctx, &models.Template{
		ID: "legacy-2", Name: "Legacy", Type: models.TemplateAppointmentBooked, Category: models.CategoryMedical,
		Version: "1.0.10", Variants: []models.Variant{socketVariant(models.RolePatient, "en", "Old")},
	}))

	created, err := svc.CreateTemplate(ctx, createInput(socketVariant(models.RolePatient, "en", "New")), "admin")
	require.NoError(t, err)
	assert.Equal(t, "1.0.11", created.Version)
}

func TestService_CreateTemplate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		input     TemplateInput
		wantField string
	}{
		{
			name:      "no variants",
			input:     createInput(),
			wantField: "Template.Variants",
		},
		{
			name: "duplicate variant tuple",
			input: createInput(
				socketVariant(models.RolePatient, "en", "A"),
				socketVariant(models.RolePatient, "en", "B"),
			),
			wantField: "Template.Variants[1]",
		},
		{
			name: "email without subject",
			input: createInput(func() models.Variant {
				v := emailVariant("en")
				v.Subject = ""
				return v
			}()),
			wantField: "Template.Variants[0]",
		},
		{
			name: "script tag in body",
			input: createInput(func() models.Variant {
				v := socketVariant(models.RolePatient, "en", "Hi")
				v.Body = "<script>alert(1)</script>"
				return v
			}()),
			wantField: "Template.Variants[0]",
		},
		{
			name: "unknown type",
			input: func() TemplateInput {
				in := createInput(socketVariant(models.RolePatient, "en", "Hi"))
				in.Type = "birthday"
				return in
			}(),
			wantField: "Template.Type",
		},
		{
			name: "invalid channel",
			input: createInput(func() models.Variant {
				v := socketVariant(models.RolePatient, "en", "Hi")
				v.Channel = "fax"
				return v
			}()),
			wantField: "Template.Variants[0].Channel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := createTestService(t)

			_, err := svc.CreateTemplate(context.Background(), tt.input, "admin")
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrValidation)

			stdErr, ok := apperrors.As(err)
			require.True(t, ok)
			fields := make([]string, 0, len(stdErr.Fields))
			for _, f := range stdErr.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.wantField)

			items, _, err := store.Find(context.Background(), Filter{}, Pagination{})
			require.NoError(t, err)
			assert.Empty(t, items)
		})
	}
}

// ==========================
// Lookup Tests
// ==========================

func TestService_GetTemplate(t *testing.T) {
	svc, store, clock := createTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTemplate(ctx, createInput(
		socketVariant(models.RolePatient, "en", "Booked"),
		socketVariant(models.RolePatient, "es", "Reservada"),
	), "admin")
	require.NoError(t, err)

	t.Run("exact language", func(t *testing.T) {
		rv, err := svc.GetTemplate(ctx, models.TemplateAppointmentBooked, models.ChannelWebsocket, models.RolePatient, "es")
		require.NoError(t, err)
		assert.Equal(t, "Reservada", rv.Variant.Title)
		assert.Equal(t, "es", rv.Language)
		assert.False(t, rv.Fallback)
		assert.Equal(t, created.ID, rv.TemplateID)
	})

	t.Run("falls back to english", func(t *testing.T) {
		rv, err := svc.GetTemplate(ctx, models.TemplateAppointmentBooked, models.ChannelWebsocket, models.RolePatient, "fr")
		require.NoError(t, err)
		assert.Equal(t, "Booked", rv.Variant.Title)
		assert.Equal(t, "en", rv.Language)
		assert.Equal(t, "fr", rv.RequestedLanguage)
		assert.True(t, rv.Fallback)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := svc.GetTemplate(ctx, models.TemplateAppointmentBooked, models.ChannelSMS, models.RolePatient, "en")
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrTemplateNotFound)
	})

	t.Run("cache hit and usage", func(t *testing.T) {
		before, _ := svc.GetOperationMetrics(OpGet)

		_, err := svc.GetTemplate(ctx, models.TemplateAppointmentBooked, models.ChannelWebsocket, models.RolePatient, "es")
		require.NoError(t, err)

		after, ok := svc.GetOperationMetrics(OpGet)
		require.True(t, ok)
		assert.Equal(t, before.CacheHits+1, after.CacheHits)
		assert.Equal(t, before.CacheMisses, after.CacheMisses)

		svc.Wait()
		stored, err := store.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stored.Usage.TotalSent)
		require.NotNil(t, stored.Usage.LastUsed)
		assert.Equal(t, clock.Now(), *stored.Usage.LastUsed)
	})
}

func TestService_GetTemplate_PrefersHighestActiveVersion(t *testing.T) {
	svc, _, _ := createTestService(t)
	ctx := context.Background()

	_, err := svc.CreateTemplate(ctx, createInput(socketVariant(models.RolePatient, "en", "First")), "admin")
	require.NoError(t, err)
	_, err = svc.CreateTemplate(ctx, createInput(socketVariant(models.RolePatient, "en", "Second")), "admin")
	require.NoError(t, err)

	rv, err := svc.GetTemplate(ctx, models.TemplateAppointmentBooked, models.ChannelWebsocket, models.RolePatient, "en")
	require.NoError(t, err)
	assert.Equal(t, "Second", rv.Variant.Title)
	assert.Equal(t, "1.0.1", rv.Version)
}

// ==========================
// Update / Delete / Rollback Tests
// ==========================

func TestService_UpdateTemplate(t *testing.T) {
	svc, _, clock := createTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTemplate(ctx, createInput(socketVariant(models.RolePatient, "en", "Booked")), "admin")
	require.NoError(t, err)

	_, err = svc.GetTemplate(ctx, models.TemplateAppointmentBooked, models.ChannelWebsocket, models.RolePatient, "en")
	require.NoError(t, err)
	assert.Equal(t, 1, svc.CacheSize())

	t.Run("metadata change keeps version", func(t *testing.T) {
		name := "Appointment booked (renamed)"
		clock.Advance(time.Minute)
		updated, err := svc.UpdateTemplate(ctx, created.ID, UpdateInput{Name: &name}, "editor")
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", updated.Version)
		assert.Equal(t, name, updated.Name)
		assert.Equal(t, "editor", updated.UpdatedBy)
		assert.Equal(t, clock.Now(), updated.UpdatedAt)
		assert.Equal(t, 0, svc.CacheSize(), "update invalidates the type")
	})

	t.Run("identical variants keep version", func(t *testing.T) {
		updated, err := svc.UpdateTemplate(ctx, created.ID, UpdateInput{
			Variants: []models.Variant{socketVariant(models.RolePatient, "en", "Booked")},
		}, "editor")
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", updated.Version)
	})

	t.Run("variant change bumps patch", func(t *testing.T) {
		updated, err := svc.UpdateTemplate(ctx, created.ID, UpdateInput{
			Variants: []models.Variant{socketVariant(models.RolePatient, "en", "Booked!")},
		}, "editor")
		require.NoError(t, err)
		assert.Equal(t, "1.0.1", updated.Version)

		rv, err := svc.GetTemplate(ctx, models.TemplateAppointmentBooked, models.ChannelWebsocket, models.RolePatient, "en")
		require.NoError(t, err)
		assert.Equal(t, "Booked!", rv.Variant.Title)
	})

	t.Run("history records every snapshot newest first", func(t *testing.T) {
		history, err := svc.GetVersionHistory(ctx, created.ID)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, "1.0.0", history[0].Version)
		assert.Equal(t, "Booked", history[0].Snapshot.Variants[0].Title)
		assert.Equal(t, "update", history[0].Reason)
	})

	t.Run("invalid update is rejected without snapshot", func(t *testing.T) {
		_, err := svc.UpdateTemplate(ctx, created.ID, UpdateInput{
			Variants: []models.Variant{{Channel: models.ChannelWebsocket, UserRole: models.RolePatient, Language: "en"}},
		}, "editor")
		assert.ErrorIs(t, err, apperrors.ErrValidation)

		history, err := svc.GetVersionHistory(ctx, created.ID)
		require.NoError(t, err)
		assert.Len(t, history, 3)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := svc.UpdateTemplate(ctx, "missing", UpdateInput{}, "editor")
		assert.ErrorIs(t, err, apperrors.ErrTemplateNotFound)
	})
}

func TestService_DeleteTemplate(t *testing.T) {
	svc, store, _ := createTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTemplate(ctx, createInput(socketVariant(models.RolePatient, "en", "Booked")), "admin")
	require.NoError(t, err)
	_, err = svc.GetTemplate(ctx, models.TemplateAppointmentBooked, models.ChannelWebsocket, models.RolePatient, "en")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTemplate(ctx, created.ID))

	stored, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err, "delete must not remove the record")
	assert.False(t, stored.IsActive)

	_, err = svc.GetTemplate(ctx, models.TemplateAppointmentBooked, models.ChannelWebsocket, models.RolePatient, "en")
	assert.ErrorIs(t, err, apperrors.ErrTemplateNotFound)

	assert.ErrorIs(t, svc.DeleteTemplate(ctx, "missing"), apperrors.ErrTemplateNotFound)
}

func TestService_RollbackTemplate(t *testing.T) {
	svc, _, _ := createTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTemplate(ctx, createInput(socketVariant(models.RolePatient, "en", "Original")), "admin")
	require.NoError(t, err)
	_, err = svc.UpdateTemplate(ctx, created.ID, UpdateInput{
		Variants: []models.Variant{socketVariant(models.RolePatient, "en", "Changed")},
	}, "editor")
	require.NoError(t, err)

	rolled, err := svc.RollbackTemplate(ctx, created.ID, "1.0.0", "auditor")
	require.NoError(t, err)
	assert.Equal(t, "1.0.2", rolled.Version, "rollback never reuses a version label")
	assert.Equal(t, "Original", rolled.Variants[0].Title)
	assert.Equal(t, "auditor", rolled.UpdatedBy)
	assert.Equal(t, created.CreatedAt, rolled.CreatedAt)

	history, err := svc.GetVersionHistory(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "1.0.1", history[0].Version, "state before rollback is snapshotted")
	assert.Equal(t, "rollback", history[0].Reason)

	undone, err := svc.RollbackTemplate(ctx, created.ID, "1.0.1", "auditor")
	require.NoError(t, err)
	assert.Equal(t, "Changed", undone.Variants[0].Title)
	assert.Equal(t, "1.0.3", undone.Version)

	_, err = svc.RollbackTemplate(ctx, created.ID, "9.9.9", "auditor")
	assert.ErrorIs(t, err, apperrors.ErrVersionNotFound)
}

func TestService_HistoryIsBounded(t *testing.T) {
	svc, _, _ := createTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTemplate(ctx, createInput(socketVariant(models.RolePatient, "en", "v0")), "admin")
	require.NoError(t, err)
	for i := 1; i <= DefaultHistoryLimit+3; i++ {
		_, err := svc.UpdateTemplate(ctx, created.ID, UpdateInput{
			Variants: []models.Variant{socketVariant(models.RolePatient, "en", fmt.Sprintf("v%d", i))},
		}, "editor")
		require.NoError(t, err)
	}

	history, err := svc.GetVersionHistory(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, history, DefaultHistoryLimit)

	_, err = svc.RollbackTemplate(ctx, created.ID, "1.0.0", "auditor")
	assert.ErrorIs(t, err, apperrors.ErrVersionNotFound, "oldest snapshots are evicted")
}

// ==========================
// Listing / Testing Tests
// ==========================

func TestService_GetTemplates(t *testing.T) {
	svc, _, clock := createTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		_, err := svc.CreateTemplate(ctx, createInput(socketVariant(models.RolePatient, "en", fmt.Sprintf("T%d", i))), "admin")
		require.NoError(t, err)
	}
	reminder := createInput(emailVariant("es"))
	reminder.Type = models.TemplateAppointmentReminder
	reminder.Name = "Reminder"
	_, err := svc.CreateTemplate(ctx, reminder, "admin")
	require.NoError(t, err)

	tests := []struct {
		name      string
		filter    Filter
		page      Pagination
		wantCount int
		wantTotal int64
		wantPages int
	}{
		{"all default page", Filter{}, Pagination{}, 6, 6, 1},
		{"paged", Filter{}, Pagination{Page: 2, Limit: 4}, 2, 6, 2},
		{"by type", Filter{Type: models.TemplateAppointmentReminder}, Pagination{}, 1, 1, 1},
		{"by channel and language", Filter{Channel: models.ChannelEmail, Language: "es"}, Pagination{}, 1, 1, 1},
		{"search title", Filter{Search: "t3"}, Pagination{}, 1, 1, 1},
		{"search name", Filter{Search: "remind"}, Pagination{}, 1, 1, 1},
		{"no match", Filter{Role: models.RoleDoctor}, Pagination{}, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := svc.GetTemplates(ctx, tt.filter, tt.page)
			require.NoError(t, err)
			assert.Len(t, page.Templates, tt.wantCount)
			assert.Equal(t, tt.wantTotal, page.Total)
			assert.Equal(t, tt.wantPages, page.TotalPages)
		})
	}
}

func TestService_TestTemplate(t *testing.T) {
	svc, _, _ := createTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTemplate(ctx, createInput(
		socketVariant(models.RolePatient, "en", "Booked"),
		emailVariant("en"),
		smsVariant("en"),
	), "admin")
	require.NoError(t, err)

	t.Run("synthetic data", func(t *testing.T) {
		report, err := svc.TestTemplate(ctx, created.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Passed)
		assert.Equal(t, 0, report.Failed)
		require.Len(t, report.Results, 3)

		push, ok := report.Results[0].Rendered.(*rendering.RenderedPush)
		require.True(t, ok)
		assert.Equal(t, "Your appointment with [doctor.name] is on [appointment.date]", push.Message)

		sms, ok := report.Results[2].Rendered.(*rendering.RenderedSMS)
		require.True(t, ok)
		assert.Equal(t, "Appointment on [appointment.date] confirmed.", sms.Message)
		assert.NotNil(t, report.Results[1].Validation)
	})

	t.Run("supplied data", func(t *testing.T) {
		report, err := svc.TestTemplate(ctx, created.ID, map[string]interface{}{
			"appointment": map[string]interface{}{"date": "2024-03-04"},
		})
		require.NoError(t, err)
		sms := report.Results[2].Rendered.(*rendering.RenderedSMS)
		assert.Equal(t, "Appointment on 2024-03-04 confirmed.", sms.Message)
	})

	t.Run("unknown template", func(t *testing.T) {
		_, err := svc.TestTemplate(ctx, "missing", nil)
		assert.ErrorIs(t, err, apperrors.ErrTemplateNotFound)
	})
}

func TestSampleData(t *testing.T) {
	v := &models.Variant{
		Title: "{{user.name}}",
		Body:  "{{user.name.first}} {{code}} {{ order.total }}",
	}
	data := SampleData(v)

	assert.Equal(t, "[user.name]", data["user"].(map[string]interface{})["name"])
	assert.Equal(t, "[code]", data["code"])
	assert.Equal(t, "[order.total]", data["order"].(map[string]interface{})["total"])
}

func TestService_PerformanceMetrics(t *testing.T) {
	svc, _, _ := createTestService(t)
	ctx := context.Background()

	_, err := svc.CreateTemplate(ctx, createInput(socketVariant(models.RolePatient, "en", "Booked")), "admin")
	require.NoError(t, err)
	_, err = svc.CreateTemplate(ctx, createInput(), "admin")
	require.Error(t, err)

	create, ok := svc.GetOperationMetrics(OpCreate)
	require.True(t, ok)
	assert.Equal(t, int64(2), create.Count)
	assert.Equal(t, int64(1), create.Errors)
	assert.Equal(t, create.TotalDuration/2, create.AverageDuration)

	_, ok = svc.GetOperationMetrics(OpRollback)
	assert.False(t, ok)

	all := svc.GetPerformanceMetrics()
	assert.Contains(t, all, OpCreate)
}

type recordingObserver struct {
	ops    []string
	hits   int
	misses int
}

func (r *recordingObserver) ObserveOperation(_ context.Context, op string, _ time.Duration, _ error) {
	r.ops = append(r.ops, op)
}

func (r *recordingObserver) ObserveCache(_ context.Context, _ string, hit bool) {
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func TestService_ObserverReceivesSamples(t *testing.T) {
	obs := &recordingObserver{}
	svc := NewService(DefaultConfig(), NewMemoryStore(), nil, logger.NewNoOpLogger(), WithObserver(obs))
	t.Cleanup(svc.Wait)
	ctx := context.Background()

	_, err := svc.CreateTemplate(ctx, createInput(socketVariant(models.RolePatient, "en", "Booked")), "admin")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = svc.GetTemplate(ctx, models.TemplateAppointmentBooked, models.ChannelWebsocket, models.RolePatient, "en")
		require.NoError(t, err)
	}

	assert.Equal(t, []string{OpCreate, OpGet, OpGet}, obs.ops)
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
}

// ==========================
// Lookup Coherence Tests
// ==========================

type mockResolver struct {
	calls   int
	resolve func(t models.TemplateType, ch models.Channel, role models.UserRole, lang string) (*ResolvedVariant, error)
}

func (m *mockResolver) GetLocalizedTemplate(_ context.Context, t models.TemplateType, ch models.Channel, role models.UserRole, lang string) (*ResolvedVariant, error) {
	m.calls++
	return m.resolve(t, ch, role, lang)
}

// afterFindActiveStore runs hook once, after the first FindActive has read
// the store and before its result reaches the caller.
type afterFindActiveStore struct {
	*MemoryStore
	hook func()
}

func (s *afterFindActiveStore) FindActive(ctx context.Context, t models.TemplateType, ch models.Channel, role models.UserRole, lang string) (*models.Template, error) {
	tmpl, err := s.MemoryStore.FindActive(ctx, t, ch, role, lang)
	if hook := s.hook; hook != nil {
		s.hook = nil
		hook()
	}
	return tmpl, err
}

func TestService_GetTemplate_UsesResolverOnMiss(t *testing.T) {
	svc, store, _ := createTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTemplate(ctx, createInput(emailVariant("en")), "admin")
	require.NoError(t, err)

	resolver := &mockResolver{resolve: func(tt models.TemplateType, ch models.Channel, role models.UserRole, lang string) (*ResolvedVariant, error) {
		return &ResolvedVariant{
			TemplateID:        created.ID,
			Type:              tt,
			Version:           created.Version,
			Variant:           emailVariant("en"),
			Language:          "en",
			RequestedLanguage: lang,
			Fallback:          true,
		}, nil
	}}
	svc.SetResolver(resolver)

	for i := 0; i < 3; i++ {
		rv, err := svc.GetTemplate(ctx, models.TemplateAppointmentBooked, models.ChannelEmail, models.RolePatient, "fr")
		require.NoError(t, err)
		assert.True(t, rv.Fallback)
		assert.Equal(t, "fr", rv.RequestedLanguage)
	}
	assert.Equal(t, 1, resolver.calls, "later lookups are served from the cache")
	assert.Equal(t, 1, svc.CacheSize())

	metrics, ok := svc.GetOperationMetrics(OpGet)
	require.True(t, ok)
	assert.Equal(t, int64(2), metrics.CacheHits)
	assert.Equal(t, int64(1), metrics.CacheMisses)

	svc.Wait()
	stored, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Usage.TotalSent)

	t.Run("resolver errors are returned and not cached", func(t *testing.T) {
		resolver.resolve = func(tt models.TemplateType, ch models.Channel, role models.UserRole, lang string) (*ResolvedVariant, error) {
			return nil, apperrors.NewTemplateNotFoundError(string(tt), string(ch), string(role), lang)
		}
		_, err := svc.GetTemplate(ctx, models.TemplateAppointmentBooked, models.ChannelSMS, models.RolePatient, "fr")
		assert.ErrorIs(t, err, apperrors.ErrTemplateNotFound)
		assert.Equal(t, 1, svc.CacheSize())
	})
}

func TestService_GetTemplate_DoesNotCacheResultReadBeforeUpdate(t *testing.T) {
	store := &afterFindActiveStore{MemoryStore: NewMemoryStore()}
	svc := NewService(DefaultConfig(), store, NewMemoryHistory(0), logger.NewTestLogger(t))
	t.Cleanup(svc.Wait)
	ctx := context.Background()

	created, err := svc.CreateTemplate(ctx, createInput(emailVariant("en")), "admin")
	require.NoError(t, err)

	changed := emailVariant("en")
	changed.Subject = "NEW SUBJECT"
	store.hook = func() {
		_, err := svc.UpdateTemplate(ctx, created.ID, UpdateInput{Variants: []models.Variant{changed}}, "editor")
		require.NoError(t, err)
	}

	inFlight, err := svc.GetTemplate(ctx, models.TemplateAppointmentBooked, models.ChannelEmail, models.RolePatient, "en")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", inFlight.Version)
	assert.Equal(t, 0, svc.CacheSize(), "a result read before the update is not cached")

	rv, err := svc.GetTemplate(ctx, models.TemplateAppointmentBooked, models.ChannelEmail, models.RolePatient, "en")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", rv.Version)
	assert.Equal(t, "NEW SUBJECT", rv.Variant.Subject)
}

func TestService_UpdateTemplate_VersionFollowsHighestOfType(t *testing.T) {
	svc, store, clock := createTestService(t)
	ctx := context.Background()

	older, err := svc.CreateTemplate(ctx, createInput(socketVariant(models.RolePatient, "en", "Older")), "admin")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	newer, err := svc.CreateTemplate(ctx, createInput(socketVariant(models.RolePatient, "en", "Newer")), "admin")
	require.NoError(t, err)
	require.Equal(t, "1.0.1", newer.Version)

	clock.Advance(time.Minute)
	updated, err := svc.UpdateTemplate(ctx, older.ID, UpdateInput{
		Variants: []models.Variant{socketVariant(models.RolePatient, "en", "Older, revised")},
	}, "editor")
	require.NoError(t, err)
	assert.Equal(t, "1.0.2", updated.Version, "labels stay unique within the type")

	rv, err := svc.GetTemplate(ctx, models.TemplateAppointmentBooked, models.ChannelWebsocket, models.RolePatient, "en")
	require.NoError(t, err)
	assert.Equal(t, older.ID, rv.TemplateID)
	assert.Equal(t, "Older, revised", rv.Variant.Title)

	t.Run("equal versions prefer the latest update", func(t *testing.T) {
		base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
		for i, title := range []string{"stale", "fresh", "middle"} {
			require.NoError(t, store.Create(ctx, &models.Template{
				ID: fmt.Sprintf("dup-%d", i), Name: "Dup", Type: models.TemplateOrderShipped, Category: models.CategoryAdministrative,
				Version: "2.0.0", IsActive: true, UpdatedAt: base.Add(time.Duration([]int{0, 2, 1}[i]) * time.Hour),
				Variants: []models.Variant{socketVariant(models.RolePatient, "en", title)},
			}))
		}
		for i := 0; i < 5; i++ {
			found, err := store.FindActive(ctx, models.TemplateOrderShipped, models.ChannelWebsocket, models.RolePatient, "en")
			require.NoError(t, err)
			assert.Equal(t, "dup-1", found.ID)
		}
	})
}
