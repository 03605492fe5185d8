package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/rueidis"
)

// KeyPrefix namespaces challenge keys in Redis.
const KeyPrefix = "otp:"

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// RedisStore keeps challenges in Redis and lets key expiry enforce the TTL,
// so codes survive restarts and work across replicas.
type RedisStore struct {
	client rueidis.Client
	now    func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client rueidis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// WithClock overrides the time source used for expiry.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	s.now = now
	return s
}

func (s *RedisStore) Put(ctx context.Context, c *Challenge) error {
	ttl := c.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.Delete(ctx, c.Phone)
	}
	// EX has one second resolution.
	if ttl < time.Second {
		ttl = time.Second
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	cmd := s.client.B().Set().Key(KeyPrefix + c.Phone).Value(string(data)).Ex(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set challenge: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, phone string) (*Challenge, error) {
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(KeyPrefix+phone).Build()).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrNoChallenge
		}
		return nil, fmt.Errorf("redis get challenge: %w", err)
	}

	var c Challenge
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	return &c, nil
}

func (s *RedisStore) Delete(ctx context.Context, phone string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(KeyPrefix+phone).Build()).Error(); err != nil {
		return fmt.Errorf("redis delete challenge: %w", err)
	}
	return nil
}
