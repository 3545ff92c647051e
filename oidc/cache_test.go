// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(err)
	assert.False(ok)

	value := []byte(`{"issuer":"https://example.com"}`)
	require.NoError(c.Set(ctx, "doc", value, 0))
	value[0] = 'X'
	got, ok, err := c.Get(ctx, "doc")
	require.NoError(err)
	require.True(ok)
	assert.Equal(`{"issuer":"https://example.com"}`, string(got))

	require.NoError(c.Set(ctx, "short", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, err = c.Get(ctx, "short")
	require.NoError(err)
	assert.False(ok)
}

func TestMemoryCache_eviction(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := context.Background()
	c := NewMemoryCache(time.Millisecond)
	require.NoError(c.Set(ctx, "oidc_discovery-a", []byte("{}"), 0))
	require.NoError(c.Set(ctx, "oidc_jwks-a", []byte("{}"), 0))
	require.Eventually(func() bool { return c.c.ItemCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRedisCache(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	_, err := NewRedisCache(nil, "x")
	require.ErrorIs(err, ErrNilParameter)

	c, err := NewRedisCache(client, "cap:")
	require.NoError(err)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(err)
	assert.False(ok)

	require.NoError(c.Set(ctx, "oidc_discovery-abc", []byte("doc"), time.Minute))
	assert.True(mr.Exists("cap:oidc_discovery-abc"))
	got, ok, err := c.Get(ctx, "oidc_discovery-abc")
	require.NoError(err)
	require.True(ok)
	assert.Equal([]byte("doc"), got)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "oidc_discovery-abc")
	require.NoError(err)
	assert.False(ok)

	mr.SetError("LOADING")
	_, _, err = c.Get(ctx, "oidc_discovery-abc")
	assert.Error(err)
}
