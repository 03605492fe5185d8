//go:build integration

package auth

import (
	"context"
	"testing"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresUserStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresUserStore(db)
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))

	u1, err := store.GetOrCreateByPhone(ctx, "+237699000001")
	require.NoError(t, err)
	require.NotNil(t, u1.LastLogin)

	u2, err := store.GetOrCreateByPhone(ctx, "+237699000001")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u2.ID)
	assert.False(t, u2.LastLogin.Before(*u1.LastLogin))

	got, err := store.Get(ctx, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, "+237699000001", got.Phone)

	_, err = store.Get(ctx, "usr_missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
