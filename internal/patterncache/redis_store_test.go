package patterncache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ""), mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	_, err := store.Get(ctx, "s1", "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	entry := Entry{SubjectID: "s1", ReportID: "r1", Conditions: []string{"Anemia"}, ParameterNames: []string{"Hb"}, ScannedAt: t0}
	require.NoError(t, store.Put(ctx, entry))
	require.NoError(t, store.Put(ctx, Entry{SubjectID: "s1", ReportID: "r0", ScannedAt: t0}))

	got, err := store.Get(ctx, "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, entry.Conditions, got.Conditions)
	assert.True(t, got.ScannedAt.Equal(t0))

	assert.True(t, mr.Exists("analysis-pattern:s1"))

	list, err := store.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r0", list[0].ReportID)
	assert.Equal(t, "r1", list[1].ReportID)
}

func TestRedisStore_ListEmptySubject(t *testing.T) {
	store, _ := newRedisStore(t)
	list, err := store.List(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, list)
}
