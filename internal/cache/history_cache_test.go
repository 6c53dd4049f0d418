package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-rag/internal/model"
)

func newTestCache(t *testing.T) (*HistoryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewHistoryCache(client, time.Minute, 5*time.Second), mr
}

func TestHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	window := []model.Message{{SessionID: "s1", Seq: 1, Role: model.RoleUser, Content: "hi"}}

	stored, err := c.SetHistory(ctx, "s1", 4, window)
	require.NoError(t, err)
	assert.True(t, stored)

	got, hit, err := c.GetHistory(ctx, "s1", 4)
	require.NoError(t, err)
	assert.True(t, hit)
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Content)

	_, hit, err = c.GetHistory(ctx, "s1", 8)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Greater(t, mr.TTL("rag:history:s1"), time.Duration(0))
}

func TestSetHistorySkippedWhileDirty(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	stale := []model.Message{{SessionID: "s1", Seq: 1, Role: model.RoleUser, Content: "old"}}

	// An append lands between a reader's database load and its cache write.
	require.NoError(t, c.Invalidate(ctx, "s1"))
	stored, err := c.SetHistory(ctx, "s1", 4, stale)
	require.NoError(t, err)
	assert.False(t, stored)
	_, hit, err := c.GetHistory(ctx, "s1", 4)
	require.NoError(t, err)
	assert.False(t, hit)

	dirty, err := c.IsDirty(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, dirty)

	mr.FastForward(6 * time.Second)
	stored, err = c.SetHistory(ctx, "s1", 4, stale)
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestDeleteHistoryClearsMarker(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	require.NoError(t, c.Invalidate(ctx, "s1"))
	require.NoError(t, c.DeleteHistory(ctx, "s1"))

	dirty, err := c.IsDirty(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, dirty)
}
