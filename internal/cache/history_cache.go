package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"gopherai-rag/internal/model"
)

// HistoryCache keeps the recent-message windows used as chat context, one
// hash per session with a field per window length. A short-lived dirty
// marker set on every append keeps readers on the database until the write
// has settled.
type HistoryCache struct {
	client         redisv9.Cmdable
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

func NewHistoryCache(client redisv9.Cmdable, historyTTL, dirtyMarkerTTL time.Duration) *HistoryCache {
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &HistoryCache{
		client:         client,
		historyTTL:     historyTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

func (c *HistoryCache) GetHistory(ctx context.Context, sessionID string, window int) ([]model.Message, bool, error) {
	raw, err := c.client.HGet(ctx, c.historyKey(sessionID), strconv.Itoa(window)).Result()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}

	var messages []model.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return messages, true, nil
}

// setHistoryScript writes a window only while the dirty marker is absent.
// It runs atomically with Invalidate, so a reader that loaded its window
// before an append committed cannot cache it after the append.
var setHistoryScript = redisv9.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

// SetHistory caches a window and reports whether it was stored. Nothing is
// stored while the session is marked dirty.
func (c *HistoryCache) SetHistory(ctx context.Context, sessionID string, window int, messages []model.Message) (bool, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return false, fmt.Errorf("marshal history cache failed: %w", err)
	}
	keys := []string{c.historyKey(sessionID), c.dirtyKey(sessionID)}
	stored, err := setHistoryScript.Run(ctx, c.client, keys, strconv.Itoa(window), payload, c.historyTTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis set history failed: %w", err)
	}
	return stored == 1, nil
}

// Invalidate marks the session dirty and drops every cached window in one
// round trip.
func (c *HistoryCache) Invalidate(ctx context.Context, sessionID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		pipe.Set(ctx, c.dirtyKey(sessionID), "1", c.dirtyMarkerTTL)
		pipe.Del(ctx, c.historyKey(sessionID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) DeleteHistory(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.historyKey(sessionID), c.dirtyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) IsDirty(ctx context.Context, sessionID string) (bool, error) {
	exists, err := c.client.Exists(ctx, c.dirtyKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func (c *HistoryCache) historyKey(sessionID string) string {
	return fmt.Sprintf("rag:history:%s", sessionID)
}

func (c *HistoryCache) dirtyKey(sessionID string) string {
	return fmt.Sprintf("rag:history:dirty:%s", sessionID)
}
