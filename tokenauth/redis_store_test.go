package tokenauth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisKeySetStore(t *testing.T) {
	ctx := context.Background()

	t.Run("miss returns nil", func(t *testing.T) {
		_, client := newTestRedis(t)
		store := NewRedisKeySetStore(client, "")

		data, err := store.Get(ctx)
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("set then get with ttl", func(t *testing.T) {
		mr, client := newTestRedis(t)
		store := NewRedisKeySetStore(client, "custom:jwks")

		require.NoError(t, store.Set(ctx, []byte(`{"keys":[]}`), time.Minute))

		data, err := store.Get(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, `{"keys":[]}`, string(data))
		assert.Equal(t, time.Minute, mr.TTL("custom:jwks"))

		mr.FastForward(2 * time.Minute)
		data, err = store.Get(ctx)
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("server down surfaces error", func(t *testing.T) {
		mr, client := newTestRedis(t)
		store := NewRedisKeySetStore(client, "")
		mr.Close()

		_, err := store.Get(ctx)
		assert.Error(t, err)
	})

	t.Run("from url", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store, client, err := NewRedisKeySetStoreFromURL("redis://"+mr.Addr()+"/0", "")
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		require.NoError(t, store.Set(ctx, []byte(`{"keys":[]}`), time.Minute))
		assert.True(t, mr.Exists(DefaultRedisKey))
	})

	t.Run("invalid url", func(t *testing.T) {
		_, _, err := NewRedisKeySetStoreFromURL("not a url", "")
		assert.Error(t, err)
	})
}

func TestCachingKeySource_RedisShared(t *testing.T) {
	_, client := newTestRedis(t)
	key := generateRSAKey(t)
	set := keySetOf(t, publicJWK(t, &key.PublicKey, "kid-1", "RS256"))

	// replica A fetches and publishes
	sourceA := &fakeKeySource{sets: []*KeySet{set}, errs: []error{nil}}
	replicaA := NewCachingKeySource(sourceA, CacheConfig{TTL: time.Hour, Store: NewRedisKeySetStore(client, "")}, zap.NewNop(), nil)
	_, _, err := replicaA.Keys(context.Background())
	require.NoError(t, err)

	// replica B reads the shared document without fetching
	sourceB := &fakeKeySource{sets: []*KeySet{nil}, errs: []error{assert.AnError}}
	replicaB := NewCachingKeySource(sourceB, CacheConfig{TTL: time.Hour, Store: NewRedisKeySetStore(client, "")}, zap.NewNop(), nil)
	got, _, err := replicaB.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"kid-1"}, got.KeyIDs())
	assert.Equal(t, 0, sourceB.callCount())
}
