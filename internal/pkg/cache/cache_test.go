package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetAndMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { SetClient(nil) })
	ctx := context.Background()

	_, err := Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, Set(ctx, "k", "v", time.Minute))
	val, err := Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	ok, err := SetNX(ctx, "k", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, Delete(ctx, "k"))
	_, err = Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}
