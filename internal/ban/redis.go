package ban

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps ban records in Redis so they are shared by every server
// instance. Expiry is delegated to the key TTL.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a RedisStore using the provided Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// redisRecord is the stored form; times are unix millis so the value stays
// readable from redis-cli.
type redisRecord struct {
	Until   int64    `json:"until"`
	Count   int      `json:"count"`
	Reasons []string `json:"reasons"`
	Reason  string   `json:"reason"`
}

func (s *RedisStore) Get(ctx context.Context, identity string) (*Record, error) {
	raw, err := s.client.Get(ctx, BanPrefix+identity).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ban: redis get: %w", err)
	}

	var rr redisRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("ban: decode record: %w", err)
	}

	rec := &Record{
		Until:   time.UnixMilli(rr.Until),
		Count:   rr.Count,
		Reasons: rr.Reasons,
		Reason:  rr.Reason,
	}
	// The key may outlive Until by a few milliseconds of TTL rounding.
	if !s.now().Before(rec.Until) {
		return nil, nil
	}
	return rec, nil
}

// Put overwrites any existing ban for identity. A record whose Until has
// already passed is not stored.
func (s *RedisStore) Put(ctx context.Context, identity string, rec Record) error {
	ttl := rec.Until.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(redisRecord{
		Until:   rec.Until.UnixMilli(),
		Count:   rec.Count,
		Reasons: rec.Reasons,
		Reason:  rec.Reason,
	})
	if err != nil {
		return fmt.Errorf("ban: encode record: %w", err)
	}

	if err := s.client.Set(ctx, BanPrefix+identity, data, ttl).Err(); err != nil {
		return fmt.Errorf("ban: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, identity string) error {
	if err := s.client.Del(ctx, BanPrefix+identity).Err(); err != nil {
		return fmt.Errorf("ban: redis del: %w", err)
	}
	return nil
}
