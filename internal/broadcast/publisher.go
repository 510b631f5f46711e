package broadcast

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Publisher interface {
	Publish(ctx context.Context, channel, eventName string, payload any) error
}

// RedisPublisher publishes on Redis pub/sub channels. Delivery is at most
// once: subscribers that are not connected at publish time miss the message.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel, eventName string, payload any) error {
	b, err := EncodeMessage(eventName, payload)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("publish %s on %s: %w", eventName, channel, err)
	}
	return nil
}

// RedisVersions hands out a per-post increasing like-count version.
type RedisVersions struct {
	rdb *redis.Client
}

func NewRedisVersions(rdb *redis.Client) *RedisVersions {
	return &RedisVersions{rdb: rdb}
}

func versionKey(postID string) string { return "fanout:likes:ver:" + postID }

func (v *RedisVersions) Next(ctx context.Context, postID string) (uint64, error) {
	n, err := v.rdb.Incr(ctx, versionKey(postID)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr like version %s: %w", postID, err)
	}
	return uint64(n), nil
}
