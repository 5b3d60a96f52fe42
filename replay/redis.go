package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	paywall "github.com/mark3labs/paywall-go"
)

// DefaultKeyPrefix namespaces usage records in Redis.
const DefaultKeyPrefix = "paywall:sig:"

// RedisStore keeps usage records in Redis with a TTL matching each record's
// expiry, so Redis itself drops them. Safe to share across replicas.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRedisClock overrides time.Now.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: DefaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DialRedis parses redisURL, connects and pings.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) key(signature string) string {
	return s.prefix + signature
}

func (s *RedisStore) HasBeenUsed(ctx context.Context, signature string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(signature)).Result()
	if err != nil {
		return false, fmt.Errorf("replay: exists: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) GetUsage(ctx context.Context, signature string) (*paywall.SignatureUsage, error) {
	raw, err := s.client.Get(ctx, s.key(signature)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("replay: get: %w", err)
	}
	var u paywall.SignatureUsage
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("replay: decode usage: %w", err)
	}
	return &u, nil
}

func (s *RedisStore) MarkAsUsed(ctx context.Context, signature, resourceID string, expiresAt time.Time) error {
	now := s.now()
	usage := paywall.SignatureUsage{
		Signature:  signature,
		ResourceID: resourceID,
		UsedAt:     now,
		ExpiresAt:  expiresAt,
	}
	value, ttl, err := s.encode(usage, now)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(signature), value, ttl).Err(); err != nil {
		return fmt.Errorf("replay: set: %w", err)
	}
	return nil
}

func (s *RedisStore) Claim(ctx context.Context, usage paywall.SignatureUsage) (bool, error) {
	now := s.now()
	if usage.UsedAt.IsZero() {
		usage.UsedAt = now
	}
	value, ttl, err := s.encode(usage, now)
	if err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, s.key(usage.Signature), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay: setnx: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) encode(usage paywall.SignatureUsage, now time.Time) ([]byte, time.Duration, error) {
	ttl := usage.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return nil, 0, ErrExpired
	}
	// Redis expiry has millisecond resolution.
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	value, err := json.Marshal(usage)
	if err != nil {
		return nil, 0, fmt.Errorf("replay: encode usage: %w", err)
	}
	return value, ttl, nil
}

var _ Store = (*RedisStore)(nil)
