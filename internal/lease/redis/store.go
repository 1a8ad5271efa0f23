// Package redis implements lease.Store on Redis with SET NX PX and
// owner-checked Lua scripts.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store implements lease.Store using Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a Redis-backed lease store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Acquire claims key for owner unless someone else holds it.
func (s *Store) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx lease: %w", err)
	}
	return ok, nil
}

// Renew extends the TTL if owner still holds key.
func (s *Store) Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, s.client, []string{key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis renew lease: %w", err)
	}
	return n == 1, nil
}

// Release deletes key if owner still holds it.
func (s *Store) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, s.client, []string{key}, owner).Err(); err != nil {
		return fmt.Errorf("redis release lease: %w", err)
	}
	return nil
}

// Holder returns the owner of key, or "" when it is free.
func (s *Store) Holder(ctx context.Context, key string) (string, error) {
	owner, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis get lease: %w", err)
	}
	return owner, nil
}

// Count scans for keys under prefix. Redis drops expired keys itself, so
// every key the scan returns is a live lease.
func (s *Store) Count(ctx context.Context, prefix string) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan leases: %w", err)
	}
	return n, nil
}

// Ping checks Redis reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
