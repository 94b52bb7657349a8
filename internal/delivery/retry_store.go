package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"notification-workers/internal/models"
)

// PendingRetry is a scheduled re-attempt of one channel for one notification.
type PendingRetry struct {
	Notification models.Notification `json:"notification"`
	Channel      models.Channel      `json:"channel"`
	DeliveryID   string              `json:"deliveryId"`
	RetryCount   int                 `json:"retryCount"`
	DueAt        time.Time           `json:"dueAt"`
	LastError    string              `json:"lastError,omitempty"`
}

// RetryStore keeps pending retries so they survive the goroutine that
// scheduled them, and with a durable backend, a restart.
type RetryStore interface {
	Save(ctx context.Context, r PendingRetry) error
	Load(ctx context.Context, notificationID string, ch models.Channel) (*PendingRetry, error)
	Delete(ctx context.Context, notificationID string, ch models.Channel) error
	List(ctx context.Context) ([]PendingRetry, error)
}

func retryField(notificationID string, ch models.Channel) string {
	return notificationID + ":" + string(ch)
}

type MemoryRetryStore struct {
	mu      sync.RWMutex
	entries map[string]PendingRetry
}

func NewMemoryRetryStore() *MemoryRetryStore {
	return &MemoryRetryStore{entries: make(map[string]PendingRetry)}
}

func (s *MemoryRetryStore) Save(_ context.Context, r PendingRetry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[retryField(r.Notification.ID, r.Channel)] = r
	return nil
}

// Load returns nil, nil when nothing is pending.
func (s *MemoryRetryStore) Load(_ context.Context, notificationID string, ch models.Channel) (*PendingRetry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.entries[retryField(notificationID, ch)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *MemoryRetryStore) Delete(_ context.Context, notificationID string, ch models.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, retryField(notificationID, ch))
	return nil
}

func (s *MemoryRetryStore) List(_ context.Context) ([]PendingRetry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PendingRetry, 0, len(s.entries))
	for _, r := range s.entries {
		out = append(out, r)
	}
	sortRetries(out)
	return out, nil
}

const defaultRetryKey = "notifications:retries"

// RedisRetryStore keeps pending retries in one Redis hash keyed by
// notification and channel.
type RedisRetryStore struct {
	client redis.Cmdable
	key    string
}

func NewRedisRetryStore(client redis.Cmdable, key string) *RedisRetryStore {
	if key == "" {
		key = defaultRetryKey
	}
	return &RedisRetryStore{client: client, key: key}
}

func (s *RedisRetryStore) Save(ctx context.Context, r PendingRetry) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode pending retry: %w", err)
	}
	return s.client.HSet(ctx, s.key, retryField(r.Notification.ID, r.Channel), data).Err()
}

func (s *RedisRetryStore) Load(ctx context.Context, notificationID string, ch models.Channel) (*PendingRetry, error) {
	raw, err := s.client.HGet(ctx, s.key, retryField(notificationID, ch)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending retry: %w", err)
	}
	var r PendingRetry
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode pending retry: %w", err)
	}
	return &r, nil
}

func (s *RedisRetryStore) Delete(ctx context.Context, notificationID string, ch models.Channel) error {
	return s.client.HDel(ctx, s.key, retryField(notificationID, ch)).Err()
}

func (s *RedisRetryStore) List(ctx context.Context) ([]PendingRetry, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending retries: %w", err)
	}
	out := make([]PendingRetry, 0, len(all))
	for field, raw := range all {
		var r PendingRetry
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode pending retry %s: %w", field, err)
		}
		out = append(out, r)
	}
	sortRetries(out)
	return out, nil
}

func sortRetries(rs []PendingRetry) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].DueAt.Equal(rs[j].DueAt) {
			return rs[i].DueAt.Before(rs[j].DueAt)
		}
		return retryField(rs[i].Notification.ID, rs[i].Channel) < retryField(rs[j].Notification.ID, rs[j].Channel)
	})
}
