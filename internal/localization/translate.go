package localization

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	commonhttp "notification-workers/internal/common/http"
)

// Translator is the external machine-translation provider.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// HTTPTranslator talks to a LibreTranslate-compatible /translate endpoint.
type HTTPTranslator struct {
	client *commonhttp.Client
	url    string
	apiKey string
}

type TranslatorConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func NewHTTPTranslator(cfg TranslatorConfig) *HTTPTranslator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTranslator{
		client: commonhttp.NewClient(timeout),
		url:    strings.TrimRight(cfg.URL, "/") + "/translate",
		apiKey: cfg.APIKey,
	}
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

func (t *HTTPTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	var resp translateResponse
	err := t.client.PostJSON(ctx, t.url, nil, translateRequest{
		Q:      text,
		Source: source,
		Target: target,
		Format: "text",
		APIKey: t.apiKey,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("translate %s->%s: %w", source, target, err)
	}
	return resp.TranslatedText, nil
}

// TranslationCache memoizes translations by content hash and target language.
// Entries expire after the TTL; once the cap is reached the oldest entry is
// evicted on insert.
type TranslationCache struct {
	mu         sync.Mutex
	items      *cache.Cache
	maxEntries int
	now        func() time.Time
}

type cachedTranslation struct {
	text     string
	storedAt time.Time
}

func NewTranslationCache(ttl time.Duration, maxEntries int) *TranslationCache {
	return &TranslationCache{
		items:      cache.New(ttl, ttl/2),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// TranslationKey is sha256(content) in hex, an underscore, then the language.
func TranslationKey(content, lang string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:]) + "_" + lang
}

func (c *TranslationCache) Get(key string) (string, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return "", false
	}
	return v.(cachedTranslation).text, true
}

func (c *TranslationCache) Set(key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items.Get(key); !exists && c.items.ItemCount() >= c.maxEntries {
		c.evictOldest()
	}
	c.items.SetDefault(key, cachedTranslation{text: text, storedAt: c.now()})
}

func (c *TranslationCache) evictOldest() {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for k, item := range c.items.Items() {
		entry := item.Object.(cachedTranslation)
		if oldestKey == "" || entry.storedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, entry.storedAt
		}
	}
	if oldestKey != "" {
		c.items.Delete(oldestKey)
	}
}

func (c *TranslationCache) Len() int {
	return c.items.ItemCount()
}

func (c *TranslationCache) Flush() {
	c.items.Flush()
}

var protectedPlaceholder = regexp.MustCompile(`\{\{[^{}]*\}\}`)

// protectPlaceholders swaps {{...}} tokens for opaque markers so the provider
// leaves them alone.
func protectPlaceholders(text string) (string, []string) {
	var tokens []string
	out := protectedPlaceholder.ReplaceAllStringFunc(text, func(tok string) string {
		tokens = append(tokens, tok)
		return fmt.Sprintf("__PH%d__", len(tokens)-1)
	})
	return out, tokens
}

func restorePlaceholders(text string, tokens []string) string {
	for i := len(tokens) - 1; i >= 0; i-- {
		text = strings.ReplaceAll(text, fmt.Sprintf("__PH%d__", i), tokens[i])
	}
	return text
}
