package otp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisStore(client), mr
}

func TestRedisStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedis(t)

	_, err := store.Get(ctx, phone)
	assert.ErrorIs(t, err, ErrNoChallenge)

	c := &Challenge{
		Phone:     phone,
		CodeHash:  hashCode(phone, "123456"),
		Attempts:  2,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		ExpiresAt: time.Now().UTC().Add(5 * time.Minute).Truncate(time.Second),
	}
	require.NoError(t, store.Put(ctx, c))

	assert.True(t, mr.Exists(KeyPrefix+phone))
	ttl := mr.TTL(KeyPrefix + phone)
	assert.True(t, ttl > 4*time.Minute && ttl <= 5*time.Minute, "ttl %v", ttl)

	got, err := store.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, c.CodeHash, got.CodeHash)
	assert.Equal(t, 2, got.Attempts)
	assert.True(t, got.ExpiresAt.Equal(c.ExpiresAt))

	require.NoError(t, store.Delete(ctx, phone))
	_, err = store.Get(ctx, phone)
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestRedisStore_KeyExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedis(t)

	require.NoError(t, store.Put(ctx, &Challenge{Phone: phone, ExpiresAt: time.Now().Add(time.Minute)}))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, phone)
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestRedisStore_PutExpiredDeletes(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedis(t)

	require.NoError(t, store.Put(ctx, &Challenge{Phone: phone, ExpiresAt: time.Now().Add(time.Minute)}))
	require.NoError(t, store.Put(ctx, &Challenge{Phone: phone, ExpiresAt: time.Now().Add(-time.Second)}))
	assert.False(t, mr.Exists(KeyPrefix+phone))
}

func TestManager_WithRedisStore(t *testing.T) {
	ctx := context.Background()
	store, _ := setupRedis(t)
	sender := newCaptureSender()
	mgr := NewManager(store, sender, DefaultConfig)

	_, _, err := mgr.Request(ctx, phone)
	require.NoError(t, err)

	_, err = mgr.Verify(ctx, phone, "not-the-code")
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, err = mgr.Verify(ctx, phone, sender.code(t, phone))
	assert.NoError(t, err)
}
