package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a live server: REDIS_TEST_ADDR=127.0.0.1:6379 go test ./internal/store/redisstore
func openTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	s, err := New(addr, "", 15)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFingerprintLocker_ExcludesAndReleases(t *testing.T) {
	s := openTestStore(t)
	l := NewFingerprintLocker(s.Client(), 5*time.Second)
	key := "test-" + t.Name()

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()

	unlock2, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock2()
}

func TestFingerprintLocker_ExpiredLockIsTakenOver(t *testing.T) {
	s := openTestStore(t)
	l := NewFingerprintLocker(s.Client(), 150*time.Millisecond)
	key := "test-" + t.Name()

	stale, err := l.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)

	// The stale holder must not delete the new holder's key.
	stale()
	exists, err := s.Client().Exists(context.Background(), lockPrefix+key).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, exists)
	unlock()
}
