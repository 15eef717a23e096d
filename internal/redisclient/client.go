// Package redisclient provides the best-effort caching helpers the order
// flow uses: a short-TTL order-tracking cache and a fast-path dedup check
// for webhook events. A Redis outage never fails an order operation; the
// database stays authoritative.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a ping-checked Redis client.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetTrackingCache returns the cached tracking payload for an order ref, or
// "" on miss.
func (c *Client) GetTrackingCache(ctx context.Context, ref string) (string, error) {
	val, err := c.rdb.Get(ctx, trackingKey(ref)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// SetTrackingCache stores a tracking payload with a TTL.
func (c *Client) SetTrackingCache(ctx context.Context, ref, payload string, ttl time.Duration) error {
	return c.rdb.Set(ctx, trackingKey(ref), payload, ttl).Err()
}

// InvalidateTracking drops cached payloads after a transition. Both the id
// and the order number key may exist.
func (c *Client) InvalidateTracking(ctx context.Context, refs ...string) error {
	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = trackingKey(ref)
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// IsEventSeen is the fast-path webhook dedup check. A miss means nothing;
// the processed_events table stays authoritative.
func (c *Client) IsEventSeen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, eventKey(eventID)).Result()
	return n > 0, err
}

// MarkEventSeen records a fully processed event id. Written only after the
// database dedup row exists, so a crash in between never hides a redelivery.
func (c *Client) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, eventKey(eventID), "1", ttl).Result()
}

func eventKey(eventID string) string {
	return "webhook-event:" + eventID
}

func trackingKey(ref string) string {
	return "order-tracking:" + ref
}
