package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/polylog/internal/chat"
)

const keyPrefix = "polylog:conversation:"

// Store mirrors each conversation's latest events into a capped Redis list.
type Store struct {
	rdb   *redis.Client
	limit int64
}

func New(addr, password string, db, limit int) *Store {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), limit)
}

func NewWithClient(rdb *redis.Client, limit int) *Store {
	if limit <= 0 {
		limit = 100
	}
	return &Store{rdb: rdb, limit: int64(limit)}
}

func recentKey(conversationID string) string {
	return keyPrefix + conversationID + ":recent"
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// AppendEvent pushes ev to the head of the list and trims it to the limit.
func (s *Store) AppendEvent(ctx context.Context, conversationID string, ev chat.Event) error {
	b, err := ev.Marshal()
	if err != nil {
		return err
	}
	key := recentKey(conversationID)
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, s.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append %s: %w", key, err)
	}
	return nil
}

// Store lets the mirror act as an archive sink.
func (s *Store) Store(ctx context.Context, conversationID string, ev chat.Event) error {
	return s.AppendEvent(ctx, conversationID, ev)
}

// Recent returns up to n events, oldest first.
func (s *Store) Recent(ctx context.Context, conversationID string, n int) ([]chat.Event, error) {
	if n <= 0 || int64(n) > s.limit {
		n = int(s.limit)
	}
	raw, err := s.rdb.LRange(ctx, recentKey(conversationID), 0, int64(n)-1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]chat.Event, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var ev chat.Event
		if err := json.Unmarshal([]byte(raw[i]), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) Forget(ctx context.Context, conversationID string) error {
	return s.rdb.Del(ctx, recentKey(conversationID)).Err()
}
