package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/polylog/internal/chat"
)

// requires Redis on localhost:6379
const testRedisAddr = "localhost:6379"

func setupStore(t *testing.T, limit int) *Store {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	s := NewWithClient(rdb, limit)
	t.Cleanup(func() {
		_ = s.Forget(context.Background(), t.Name())
		_ = s.Close()
	})
	return s
}

func TestStore_RecentIsCappedAndOrdered(t *testing.T) {
	req := require.New(t)
	s := setupStore(t, 3)
	ctx := context.Background()
	cid := t.Name()

	for i := 0; i < 5; i++ {
		req.NoError(s.Store(ctx, cid, chat.HumanEvent("u1", "alice", fmt.Sprintf("m%d", i))))
	}

	got, err := s.Recent(ctx, cid, 10)
	req.NoError(err)
	req.Len(got, 3)
	req.Equal("m2", got[0].Content)
	req.Equal("m4", got[2].Content)

	two, err := s.Recent(ctx, cid, 2)
	req.NoError(err)
	req.Equal("m3", two[0].Content)
}

func TestStore_RecentUnknownConversation(t *testing.T) {
	s := setupStore(t, 10)
	got, err := s.Recent(context.Background(), t.Name(), 5)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStore_UnreachableServer(t *testing.T) {
	s := New("127.0.0.1:1", "", 0, 10)
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.Error(t, s.Ping(ctx))
	require.Error(t, s.AppendEvent(ctx, "r1", chat.SystemEvent("x")))
}
