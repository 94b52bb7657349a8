package templates

import (
	"strings"
	"sync"

	"github.com/patrickmn/go-cache"

	"notification-workers/internal/models"
)

// ResolvedVariant is what a lookup returns: the variant plus the identity of
// the template it came from.
type ResolvedVariant struct {
	TemplateID        string              `json:"templateId"`
	TemplateName      string              `json:"templateName"`
	Type              models.TemplateType `json:"type"`
	Category          models.Category     `json:"category"`
	Version           string              `json:"version"`
	Variant           models.Variant      `json:"variant"`
	Language          string              `json:"language"`
	RequestedLanguage string              `json:"requestedLanguage"`
	Fallback          bool                `json:"fallback"`
}

func (r *ResolvedVariant) clone() *ResolvedVariant {
	out := *r
	out.Variant = models.CloneVariants([]models.Variant{r.Variant})[0]
	return &out
}

// CacheKey builds the lookup key type_channel_role_language.
func CacheKey(t models.TemplateType, ch models.Channel, role models.UserRole, lang string) string {
	return string(t) + "_" + string(ch) + "_" + string(role) + "_" + lang
}

// TypePrefix is the key prefix shared by every cached lookup of a type.
func TypePrefix(t models.TemplateType) string {
	return string(t) + "_"
}

// LookupCache holds resolved variants until they are invalidated. Entries do
// not expire on their own.
//
// Every invalidation advances a generation counter for its prefix. A lookup
// captures the generation before reading the store and only caches its
// result when no invalidation happened in between.
type LookupCache struct {
	items *cache.Cache

	mu          sync.Mutex
	seq         uint64
	generations map[string]uint64
	clearedAt   uint64
}

func NewLookupCache() *LookupCache {
	return &LookupCache{
		items:       cache.New(cache.NoExpiration, 0),
		generations: make(map[string]uint64),
	}
}

func (c *LookupCache) Get(key string) (*ResolvedVariant, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*ResolvedVariant).clone(), true
}

// Generation returns the token to hand back to SetIfCurrent.
func (c *LookupCache) Generation(prefix string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generationLocked(prefix)
}

func (c *LookupCache) generationLocked(prefix string) uint64 {
	if g := c.generations[prefix]; g > c.clearedAt {
		return g
	}
	return c.clearedAt
}

// SetIfCurrent stores v unless prefix was invalidated after gen was taken.
func (c *LookupCache) SetIfCurrent(key, prefix string, gen uint64, v *ResolvedVariant) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generationLocked(prefix) != gen {
		return false
	}
	c.items.Set(key, v.clone(), cache.NoExpiration)
	return true
}

// InvalidatePrefix drops every entry whose key starts with prefix and returns
// how many were removed.
func (c *LookupCache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.generations[prefix] = c.seq

	removed := 0
	for key := range c.items.Items() {
		if strings.HasPrefix(key, prefix) {
			c.items.Delete(key)
			removed++
		}
	}
	return removed
}

func (c *LookupCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.clearedAt = c.seq
	c.items.Flush()
}

func (c *LookupCache) Len() int {
	return c.items.ItemCount()
}
