package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the Store contract against s.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, KeyUnreadUsers)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, KeyUnreadUsers, "[3,9]"))
	v, err := s.Get(ctx, KeyUnreadUsers)
	require.NoError(t, err)
	require.Equal(t, "[3,9]", v)

	require.NoError(t, s.Set(ctx, KeyUnreadUsers, "[]"))
	v, err = s.Get(ctx, KeyUnreadUsers)
	require.NoError(t, err)
	require.Equal(t, "[]", v)

	require.NoError(t, s.Delete(ctx, KeyUnreadUsers))
	_, err = s.Get(ctx, KeyUnreadUsers)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, KeyUnreadUsers), "deleting a missing key is not an error")
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	r, err := DialRedis(context.Background(), addr, "test-"+uuid.NewString())
	require.NoError(t, err)
	defer r.Close()

	exerciseStore(t, r)
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_STATE_DSN")
	if dsn == "" {
		t.Skip("TEST_STATE_DSN not set")
	}
	p, err := NewPostgres(dsn, "test-"+uuid.NewString())
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.AutoMigrate(context.Background()))

	exerciseStore(t, p)
}
