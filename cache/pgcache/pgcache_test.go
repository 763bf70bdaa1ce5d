package pgcache

import (
	"context"
	"database/sql"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmwood/oidcop/cache"
)

var dbURL = flag.String("db-url", "", "Database URL")

func setup(t *testing.T) (context.Context, *Cache) {
	t.Helper()
	if *dbURL == "" {
		t.Skip("-db-url not set, skipping")
	}

	ctx := context.Background()

	db, err := sql.Open("postgres", *dbURL)
	require.NoError(t, err)
	for _, table := range []string{"cache_migrations", "cache_entries"} {
		_, err := db.Exec(`drop table if exists ` + table)
		require.NoError(t, err)
	}

	c, err := New(ctx, db)
	require.NoError(t, err)
	return ctx, c
}

func TestPutGetTake(t *testing.T) {
	ctx, c := setup(t)

	require.NoError(t, c.Put(ctx, "k", []byte("v"), cache.Policy{Absolute: time.Now().Add(time.Minute)}))

	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	_, ok, err = c.Take(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.Take(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "second take must report absence")
}

func TestOverwrite(t *testing.T) {
	ctx, c := setup(t)

	require.NoError(t, c.Put(ctx, "k", []byte("old"), cache.Policy{Absolute: time.Now().Add(time.Minute)}))
	require.NoError(t, c.Put(ctx, "k", []byte("new"), cache.Policy{Absolute: time.Now().Add(time.Minute)}))

	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), v)
}

func TestExpiredInvisible(t *testing.T) {
	ctx, c := setup(t)

	require.NoError(t, c.Put(ctx, "k", []byte("v"), cache.Policy{Absolute: time.Now().Add(-time.Minute)}))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry visible to Get")

	_, ok, err = c.Take(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry visible to Take")

	removed, err := c.GC(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestSlidingRenewal(t *testing.T) {
	ctx, c := setup(t)

	require.NoError(t, c.Put(ctx, "k", []byte("v"), cache.Policy{Sliding: 2 * time.Second}))

	// Each Get pushes the deadline out; the entry must survive past its
	// original window as long as it keeps being read.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok, "sliding entry expired while being read")
		time.Sleep(500 * time.Millisecond)
	}
}
