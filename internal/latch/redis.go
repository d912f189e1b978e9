package latch

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisMarker records in-flight lead requests in Redis so processes sharing
// a session do not both fire. Keys expire after TTL so a crashed process
// cannot block a session forever.
type RedisMarker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMarker creates a marker. A zero ttl defaults to two minutes.
func NewRedisMarker(client *redis.Client, ttl time.Duration) *RedisMarker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisMarker{client: client, prefix: "enroll:latch:", ttl: ttl}
}

func (m *RedisMarker) Mark(ctx context.Context, sessionID string) (bool, error) {
	ok, err := m.client.SetNX(ctx, m.prefix+sessionID, time.Now().UTC().Format(time.RFC3339), m.ttl).Result()
	if err != nil {
		return false, eris.Wrapf(err, "latch: mark %s", sessionID)
	}
	return ok, nil
}

func (m *RedisMarker) Clear(ctx context.Context, sessionID string) error {
	return eris.Wrapf(m.client.Del(ctx, m.prefix+sessionID).Err(), "latch: clear %s", sessionID)
}
