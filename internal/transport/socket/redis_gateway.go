// Package socket implements the in-app push channel on Redis. Socket server
// nodes subscribe to the per-user and per-role channels and keep the presence
// sets current as clients connect and disconnect.
package socket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"notification-workers/internal/models"
	"notification-workers/internal/transport"
)

const defaultPrefix = "notifications"

type RedisGateway struct {
	client redis.Cmdable
	prefix string
}

func NewRedisGateway(client redis.Cmdable, prefix string) *RedisGateway {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisGateway{client: client, prefix: prefix}
}

func (g *RedisGateway) onlineKey() string { return g.prefix + ":online" }

func (g *RedisGateway) roleMembersKey(role models.UserRole) string {
	return fmt.Sprintf("%s:role:%s:members", g.prefix, role)
}

func (g *RedisGateway) roleOnlineKey(role models.UserRole) string {
	return fmt.Sprintf("%s:role:%s:online", g.prefix, role)
}

// UserChannel is the pub/sub channel a socket node subscribes to per user.
func (g *RedisGateway) UserChannel(userID string) string {
	return fmt.Sprintf("%s:user:%s", g.prefix, userID)
}

// RoleChannel is the pub/sub channel for role-wide broadcasts.
func (g *RedisGateway) RoleChannel(role models.UserRole) string {
	return fmt.Sprintf("%s:role:%s", g.prefix, role)
}

// Register records that a user belongs to a role.
func (g *RedisGateway) Register(ctx context.Context, userID string, role models.UserRole) error {
	return g.client.SAdd(ctx, g.roleMembersKey(role), userID).Err()
}

func (g *RedisGateway) MarkOnline(ctx context.Context, userID string, role models.UserRole) error {
	pipe := g.client.TxPipeline()
	pipe.SAdd(ctx, g.roleMembersKey(role), userID)
	pipe.SAdd(ctx, g.onlineKey(), userID)
	pipe.SAdd(ctx, g.roleOnlineKey(role), userID)
	_, err := pipe.Exec(ctx)
	return err
}

func (g *RedisGateway) MarkOffline(ctx context.Context, userID string, role models.UserRole) error {
	pipe := g.client.TxPipeline()
	pipe.SRem(ctx, g.onlineKey(), userID)
	pipe.SRem(ctx, g.roleOnlineKey(role), userID)
	_, err := pipe.Exec(ctx)
	return err
}

func (g *RedisGateway) SendToUser(ctx context.Context, userID string, payload transport.SocketPayload) (bool, error) {
	online, err := g.client.SIsMember(ctx, g.onlineKey(), userID).Result()
	if err != nil {
		return false, fmt.Errorf("socket presence lookup: %w", err)
	}
	if !online {
		return false, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode socket payload: %w", err)
	}
	if err := g.client.Publish(ctx, g.UserChannel(userID), body).Err(); err != nil {
		return false, fmt.Errorf("socket publish: %w", err)
	}
	return true, nil
}

func (g *RedisGateway) BroadcastToRole(ctx context.Context, role models.UserRole, payload transport.SocketPayload) (transport.BroadcastStats, error) {
	var stats transport.BroadcastStats

	pipe := g.client.Pipeline()
	total := pipe.SCard(ctx, g.roleMembersKey(role))
	online := pipe.SCard(ctx, g.roleOnlineKey(role))
	if _, err := pipe.Exec(ctx); err != nil {
		return stats, fmt.Errorf("socket role presence: %w", err)
	}
	stats.TotalUsers = int(total.Val())
	stats.OnlineUsers = int(online.Val())
	stats.OfflineUsers = stats.TotalUsers - stats.OnlineUsers

	body, err := json.Marshal(payload)
	if err != nil {
		return stats, fmt.Errorf("encode socket payload: %w", err)
	}
	if err := g.client.Publish(ctx, g.RoleChannel(role), body).Err(); err != nil {
		return stats, fmt.Errorf("socket broadcast: %w", err)
	}
	return stats, nil
}
