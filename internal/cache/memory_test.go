package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	provider, err := NewMemoryProvider(2)
	require.NoError(t, err)

	require.NoError(t, provider.Set(ctx, "a", []byte("1"), 0))
	value, err := provider.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)

	value[0] = 'x'
	again, err := provider.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), again, "cached bytes are copied")

	require.NoError(t, provider.Del(ctx, "a"))
	_, err = provider.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryProviderExpiry(t *testing.T) {
	ctx := context.Background()
	provider, err := NewMemoryProvider(4)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	provider.now = func() time.Time { return now }

	require.NoError(t, provider.Set(ctx, "model-info", []byte("{}"), time.Minute))
	_, err = provider.Get(ctx, "model-info")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = provider.Get(ctx, "model-info")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryProviderEvictsLeastRecent(t *testing.T) {
	ctx := context.Background()
	provider, err := NewMemoryProvider(2)
	require.NoError(t, err)

	require.NoError(t, provider.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, provider.Set(ctx, "b", []byte("2"), 0))
	_, _ = provider.Get(ctx, "a")
	require.NoError(t, provider.Set(ctx, "c", []byte("3"), 0))

	_, err = provider.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = provider.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestNoopProvider(t *testing.T) {
	var p Provider = NoopProvider{}
	require.NoError(t, p.Set(context.Background(), "k", []byte("v"), time.Second))
	_, err := p.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
