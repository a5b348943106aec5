package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestIncrWindow_CountsAndExpires(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := s.IncrWindow(ctx, "ratelimit:chat:1", time.Minute)
		require.NoError(t, err)
		require.Equal(t, i, n)
	}
	require.Equal(t, time.Minute, mr.TTL("ratelimit:chat:1"))

	mr.FastForward(61 * time.Second)

	n, err := s.IncrWindow(ctx, "ratelimit:chat:1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestIncrWindow_Concurrent(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.IncrWindow(ctx, "ratelimit:chat:9", time.Minute)
		}()
	}
	wg.Wait()

	n, err := s.IncrWindow(ctx, "ratelimit:chat:9", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(26), n)
}
