// Package redisstore holds the Redis-backed pieces: the client and a
// cross-process fingerprint lock.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Client() *redis.Client { return s.rdb }

func (s *Store) Close() error { return s.rdb.Close() }

const (
	lockPrefix  = "bdoc:lock:"
	pollEvery   = 100 * time.Millisecond
	releaseWait = 2 * time.Second
)

// Deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var ErrLockLost = errors.New("redisstore: lock expired before release")

// FingerprintLocker is a SET NX PX lock. The TTL bounds how long a crashed
// holder can block others, so it must exceed the longest chain run.
type FingerprintLocker struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewFingerprintLocker(rdb redis.UniversalClient, ttl time.Duration) *FingerprintLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &FingerprintLocker{rdb: rdb, ttl: ttl}
}

func (l *FingerprintLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := lockPrefix + key
	token := uuid.NewString()

	t := time.NewTicker(pollEvery)
	defer t.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), releaseWait)
		defer cancel()
		n, err := releaseScript.Run(rctx, l.rdb, []string{k}, token).Int()
		if err != nil {
			log.Warn().Err(err).Msg("redis lock release failed")
			return
		}
		if n == 0 {
			log.Warn().Err(ErrLockLost).Msg("redis lock release")
		}
	}, nil
}
