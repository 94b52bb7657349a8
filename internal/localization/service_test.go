package localization

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "notification-workers/internal/common/errors"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/models"
	"notification-workers/internal/templates"
)

// ==========================
// Test Helper Functions
// ==========================

type mockTranslator struct {
	mu        sync.Mutex
	calls     int
	translate func(text, source, target string) (string, error)
}

func (m *mockTranslator) Translate(_ context.Context, text, source, target string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.translate(text, source, target)
}

func (m *mockTranslator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func enVariant(ch models.Channel) models.Variant {
	v := models.Variant{
		Channel:  ch,
		UserRole: models.RolePatient,
		Language: "en",
		Title:    "Order {{order.id}} confirmed",
		Body:     "Your order {{order.id}} is confirmed",
	}
	if ch == models.ChannelEmail {
		v.Subject = "Order confirmed"
	}
	return v
}

func seedTemplate(t *testing.T, store templates.Store, variants ...models.Variant) *models.Template {
	t.Helper()
	tmpl := &models.Template{
		ID:              "tmpl-1",
		Name:            "Order confirmed",
		Type:            models.TemplateOrderConfirmed,
		Category:        models.CategoryAdministrative,
		Variants:        variants,
		Version:         "1.0.0",
		IsActive:        true,
		DefaultLanguage: "en",
	}
	require.NoError(t, store.Create(context.Background(), tmpl))
	return tmpl
}

func createTestService(t *testing.T, translator Translator) (*Service, *templates.MemoryStore, *templates.Service) {
	t.Helper()
	log := logger.NewTestLogger(t)
	store := templates.NewMemoryStore()
	tmplSvc := templates.NewService(templates.DefaultConfig(), store, templates.NewMemoryHistory(0), log)
	svc := NewService(DefaultConfig(), store, translator, tmplSvc, log)
	tmplSvc.SetResolver(svc)
	t.Cleanup(tmplSvc.Wait)
	return svc, store, tmplSvc
}

// ==========================
// Lookup Tests
// ==========================

func TestNormalizeLanguage(t *testing.T) {
	svc, _, _ := createTestService(t, nil)

	tests := []struct {
		in   string
		want string
	}{
		{"es", "es"},
		{"ES", "es"},
		{"es-MX", "es"},
		{"pt_BR", "pt"},
		{"zh-Hant-TW", "zh"},
		{"xx", "en"},
		{"", "en"},
		{"klingon", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.NormalizeLanguage(tt.in))
		})
	}
}

func TestService_GetLocalizedTemplate(t *testing.T) {
	svc, store, _ := createTestService(t, nil)
	es := enVariant(models.ChannelWebsocket)
	es.Channel = models.ChannelEmail
	es.Subject = "Pedido confirmado"
	es.Language = "es"
	es.Title = "Pedido {{order.id}}"
	es.Body = "Tu pedido {{order.id}}"
	seedTemplate(t, store, enVariant(models.ChannelWebsocket), enVariant(models.ChannelEmail), es)
	ctx := context.Background()

	t.Run("falls back to english", func(t *testing.T) {
		rv, err := svc.GetLocalizedTemplate(ctx, models.TemplateOrderConfirmed, models.ChannelWebsocket, models.RolePatient, "es")
		require.NoError(t, err)
		assert.Equal(t, "en", rv.Language)
		assert.Equal(t, "es", rv.RequestedLanguage)
		assert.True(t, rv.Fallback)
		assert.Equal(t, "Order {{order.id}} confirmed", rv.Variant.Title)
	})

	t.Run("regional tag matches base language", func(t *testing.T) {
		rv, err := svc.GetLocalizedTemplate(ctx, models.TemplateOrderConfirmed, models.ChannelEmail, models.RolePatient, "es-MX")
		require.NoError(t, err)
		assert.Equal(t, "es", rv.Language)
		assert.Equal(t, "es-mx", rv.RequestedLanguage)
		assert.False(t, rv.Fallback)
	})

	t.Run("unsupported language uses default", func(t *testing.T) {
		rv, err := svc.GetLocalizedTemplate(ctx, models.TemplateOrderConfirmed, models.ChannelEmail, models.RolePatient, "xx")
		require.NoError(t, err)
		assert.Equal(t, "en", rv.Language)
		assert.False(t, rv.Fallback)
	})

	t.Run("no match in any language", func(t *testing.T) {
		_, err := svc.GetLocalizedTemplate(ctx, models.TemplateOrderConfirmed, models.ChannelSMS, models.RolePatient, "fr")
		assert.ErrorIs(t, err, apperrors.ErrTemplateNotFound)
	})
}

func TestService_GetLocalizedTemplate_CustomFallbackChain(t *testing.T) {
	store := templates.NewMemoryStore()
	fr := enVariant(models.ChannelWebsocket)
	fr.Language = "fr"
	fr.Title = "Commande {{order.id}}"
	seedTemplate(t, store, enVariant(models.ChannelWebsocket), fr)

	cfg := DefaultConfig()
	cfg.FallbackChain = []string{"fr", "en"}
	svc := NewService(cfg, store, nil, nil, logger.NewNoOpLogger())

	rv, err := svc.GetLocalizedTemplate(context.Background(), models.TemplateOrderConfirmed, models.ChannelWebsocket, models.RolePatient, "it")
	require.NoError(t, err)
	assert.Equal(t, "fr", rv.Language)
	assert.True(t, rv.Fallback)
}

// ==========================
// Variant Management Tests
// ==========================

func TestService_CreateLocalizedVariant(t *testing.T) {
	svc, store, tmplSvc := createTestService(t, nil)
	seedTemplate(t, store, enVariant(models.ChannelWebsocket))
	ctx := context.Background()

	_, err := tmplSvc.GetTemplate(ctx, models.TemplateOrderConfirmed, models.ChannelWebsocket, models.RolePatient, "en")
	require.NoError(t, err)
	require.Equal(t, 1, tmplSvc.CacheSize())

	de := enVariant(models.ChannelWebsocket)
	de.Language = "de-DE"
	de.Title = "Bestellung {{order.id}} am {{date:2024-03-15}}"
	de.Body = "Ihre Bestellung {{order.id}} über {{currency:1234.5}}"
	// Date and currency tokens must appear in both fields.
	de.Body += " am {{date:2024-03-15}}"
	de.Title += " über {{currency:1234.5}}"

	tmpl, err := svc.CreateLocalizedVariant(ctx, "tmpl-1", de, "translator-1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", tmpl.Version)
	assert.Equal(t, "translator-1", tmpl.UpdatedBy)

	v, ok := tmpl.FindVariant(models.ChannelWebsocket, models.RolePatient, "de")
	require.True(t, ok)
	assert.Equal(t, models.TranslationManual, v.TranslationMethod)
	assert.Contains(t, v.Body, "1.234,50 €")
	assert.Contains(t, v.Body, "15.03.2024")
	assert.Contains(t, v.Body, "{{order.id}}")
	assert.Equal(t, 0, tmplSvc.CacheSize(), "lookups of the type are invalidated")

	history, err := tmplSvc.GetVersionHistory(ctx, "tmpl-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "1.0.0", history[0].Version)
	assert.Equal(t, "localize", history[0].Reason)

	stored, err := store.FindByID(ctx, "tmpl-1")
	require.NoError(t, err)
	assert.Len(t, stored.Variants, 2)

	t.Run("overwrites existing tuple", func(t *testing.T) {
		en := enVariant(models.ChannelWebsocket)
		en.Title = "Order {{order.id}} is in"
		en.Body = "We got order {{order.id}}"
		tmpl, err := svc.CreateLocalizedVariant(ctx, "tmpl-1", en, "editor")
		require.NoError(t, err)
		assert.Len(t, tmpl.Variants, 2)
		v, _ := tmpl.FindVariant(models.ChannelWebsocket, models.RolePatient, "en")
		assert.Equal(t, "Order {{order.id}} is in", v.Title)
	})

	t.Run("version before localization can be restored", func(t *testing.T) {
		restored, err := tmplSvc.RollbackTemplate(ctx, "tmpl-1", "1.0.0", "editor")
		require.NoError(t, err)
		assert.Len(t, restored.Variants, 1)
		_, ok := restored.FindVariant(models.ChannelWebsocket, models.RolePatient, "de")
		assert.False(t, ok)
	})

	t.Run("rejects placeholder mismatch", func(t *testing.T) {
		bad := enVariant(models.ChannelWebsocket)
		bad.Language = "fr"
		bad.Title = "Commande"
		_, err := svc.CreateLocalizedVariant(ctx, "tmpl-1", bad, "editor")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("unknown template", func(t *testing.T) {
		_, err := svc.CreateLocalizedVariant(ctx, "missing", enVariant(models.ChannelWebsocket), "editor")
		assert.ErrorIs(t, err, apperrors.ErrTemplateNotFound)
	})
}

func TestService_BulkCreateLocalizedVariants(t *testing.T) {
	svc, store, _ := createTestService(t, nil)
	seedTemplate(t, store, enVariant(models.ChannelWebsocket))

	good := enVariant(models.ChannelWebsocket)
	good.Language = "it"
	unsupported := enVariant(models.ChannelWebsocket)
	unsupported.Language = "ko"
	longSMS := enVariant(models.ChannelSMS)
	longSMS.Language = "es"
	longSMS.Title = "Pedido"
	longSMS.Body = strings.Repeat("a", 161)

	result, err := svc.BulkCreateLocalizedVariants(context.Background(), "tmpl-1",
		[]models.Variant{good, unsupported, longSMS}, "editor")
	require.NoError(t, err)
	require.Len(t, result.Successes, 1)
	assert.Equal(t, "it", result.Successes[0].Language)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "ko", result.Failures[0].Language)
	assert.Contains(t, result.Failures[0].Error, "unsupported language")
	assert.Contains(t, result.Failures[1].Error, "VALIDATION_ERROR")
	assert.Equal(t, "1.0.1", result.Version)

	stored, err := store.FindByID(context.Background(), "tmpl-1")
	require.NoError(t, err)
	assert.Len(t, stored.Variants, 2)
}

func TestService_CreateLocalizedVariant_RequiresUpdater(t *testing.T) {
	store := templates.NewMemoryStore()
	seedTemplate(t, store, enVariant(models.ChannelWebsocket))
	svc := NewService(DefaultConfig(), store, nil, nil, logger.NewNoOpLogger())

	es := enVariant(models.ChannelWebsocket)
	es.Language = "es"
	_, err := svc.CreateLocalizedVariant(context.Background(), "tmpl-1", es, "editor")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// ==========================
// Auto-translation Tests
// ==========================

func TestService_AutoTranslateTemplate(t *testing.T) {
	translator := &mockTranslator{translate: func(text, _, target string) (string, error) {
		if target == "ja" {
			return "", errors.New("service unavailable")
		}
		return "[" + target + "] " + text, nil
	}}
	svc, store, _ := createTestService(t, translator)
	seedTemplate(t, store, enVariant(models.ChannelWebsocket), enVariant(models.ChannelEmail))
	ctx := context.Background()

	result, err := svc.AutoTranslateTemplate(ctx, "tmpl-1", []string{"es", "en", "ja", "ko"}, "system")
	require.NoError(t, err)
	assert.Len(t, result.Successes, 2)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "ja", result.Failures[0].Language)
	assert.Contains(t, result.Failures[0].Error, "TRANSLATION_ERROR")
	assert.Equal(t, "ko", result.Failures[1].Language)

	stored, err := store.FindByID(ctx, "tmpl-1")
	require.NoError(t, err)
	v, ok := stored.FindVariant(models.ChannelEmail, models.RolePatient, "es")
	require.True(t, ok)
	assert.Equal(t, models.TranslationAuto, v.TranslationMethod)
	assert.Equal(t, "[es] Your order {{order.id}} is confirmed", v.Body)
	assert.Equal(t, "[es] Order confirmed", v.Subject)

	callsAfterFirst := translator.Calls()
	_, err = svc.AutoTranslateTemplate(ctx, "tmpl-1", []string{"es"}, "system")
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, translator.Calls(), "second run is served from the cache")
}

func TestService_AutoTranslateTemplate_Errors(t *testing.T) {
	t.Run("no translator", func(t *testing.T) {
		svc, store, _ := createTestService(t, nil)
		seedTemplate(t, store, enVariant(models.ChannelWebsocket))
		_, err := svc.AutoTranslateTemplate(context.Background(), "tmpl-1", []string{"es"}, "system")
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("no source variants", func(t *testing.T) {
		svc, store, _ := createTestService(t, &mockTranslator{translate: func(text, _, _ string) (string, error) { return text, nil }})
		fr := enVariant(models.ChannelWebsocket)
		fr.Language = "fr"
		seedTemplate(t, store, fr)
		_, err := svc.AutoTranslateTemplate(context.Background(), "tmpl-1", []string{"es"}, "system")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})
}

func TestPlaceholderProtection(t *testing.T) {
	masked, tokens := protectPlaceholders("Hi {{user.name}}, order {{order.id}} for {{user.name}}")
	assert.Equal(t, "Hi __PH0__, order __PH1__ for __PH2__", masked)
	assert.Len(t, tokens, 3)
	assert.Equal(t, "Hola {{user.name}} {{order.id}} {{user.name}}", restorePlaceholders("Hola __PH0__ __PH1__ __PH2__", tokens))
}

func TestTranslationCache(t *testing.T) {
	t.Run("evicts oldest at capacity", func(t *testing.T) {
		c := NewTranslationCache(time.Hour, 2)
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		step := 0
		c.now = func() time.Time {
			step++
			return base.Add(time.Duration(step) * time.Second)
		}

		c.Set("a", "1")
		c.Set("b", "2")
		c.Set("c", "3")
		assert.Equal(t, 2, c.Len())
		_, ok := c.Get("a")
		assert.False(t, ok)
		v, ok := c.Get("c")
		assert.True(t, ok)
		assert.Equal(t, "3", v)
	})

	t.Run("entries expire", func(t *testing.T) {
		c := NewTranslationCache(20*time.Millisecond, 10)
		c.Set("k", "v")
		time.Sleep(50 * time.Millisecond)
		_, ok := c.Get("k")
		assert.False(t, ok)
	})

	t.Run("key format", func(t *testing.T) {
		key := TranslationKey("hello", "es")
		assert.True(t, strings.HasSuffix(key, "_es"))
		assert.Len(t, key, 64+3)
	})
}
