package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"notification-workers/internal/models"
)

// DefaultHistoryLimit is how many snapshots are kept per template.
const DefaultHistoryLimit = 10

// HistoryStore keeps the most recent snapshots per template, newest first.
type HistoryStore interface {
	Push(ctx context.Context, entry models.VersionHistoryEntry) error
	List(ctx context.Context, templateID string) ([]models.VersionHistoryEntry, error)
	// Find returns the newest snapshot with the given version, or nil.
	Find(ctx context.Context, templateID, version string) (*models.VersionHistoryEntry, error)
}

// MemoryHistory is the process-local HistoryStore.
type MemoryHistory struct {
	mu      sync.RWMutex
	limit   int
	entries map[string][]models.VersionHistoryEntry
}

func NewMemoryHistory(limit int) *MemoryHistory {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MemoryHistory{limit: limit, entries: make(map[string][]models.VersionHistoryEntry)}
}

func (h *MemoryHistory) Push(_ context.Context, entry models.VersionHistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append([]models.VersionHistoryEntry{entry}, h.entries[entry.TemplateID]...)
	if len(list) > h.limit {
		list = list[:h.limit]
	}
	h.entries[entry.TemplateID] = list
	return nil
}

func (h *MemoryHistory) List(_ context.Context, templateID string) ([]models.VersionHistoryEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]models.VersionHistoryEntry(nil), h.entries[templateID]...), nil
}

func (h *MemoryHistory) Find(ctx context.Context, templateID, version string) (*models.VersionHistoryEntry, error) {
	list, _ := h.List(ctx, templateID)
	return findVersion(list, version), nil
}

func findVersion(list []models.VersionHistoryEntry, version string) *models.VersionHistoryEntry {
	for i := range list {
		if list[i].Version == version {
			e := list[i]
			return &e
		}
	}
	return nil
}

// RedisHistory stores snapshots in a capped Redis list per template so history
// survives restarts and is shared between instances.
type RedisHistory struct {
	client redis.Cmdable
	limit  int
	prefix string
}

func NewRedisHistory(client redis.Cmdable, limit int) *RedisHistory {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &RedisHistory{client: client, limit: limit, prefix: "notifications:template-history:"}
}

func (h *RedisHistory) key(templateID string) string {
	return h.prefix + templateID
}

func (h *RedisHistory) Push(ctx context.Context, entry models.VersionHistoryEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	key := h.key(entry.TemplateID)
	pipe := h.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(h.limit-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push history entry: %w", err)
	}
	return nil
}

func (h *RedisHistory) List(ctx context.Context, templateID string) ([]models.VersionHistoryEntry, error) {
	raw, err := h.client.LRange(ctx, h.key(templateID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]models.VersionHistoryEntry, 0, len(raw))
	for _, item := range raw {
		var e models.VersionHistoryEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (h *RedisHistory) Find(ctx context.Context, templateID, version string) (*models.VersionHistoryEntry, error) {
	list, err := h.List(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return findVersion(list, version), nil
}
