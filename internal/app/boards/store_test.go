package boards

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]Store{
		"redis":  NewRedisStore(rdb, "test"),
		"memory": NewMemoryStore(),
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			b, err := s.Create(ctx)
			require.NoError(t, err)
			assert.Len(t, b.Code, 8)

			got, err := s.Get(ctx, b.Code)
			require.NoError(t, err)
			assert.Equal(t, b.Code, got.Code)
			assert.WithinDuration(t, b.CreatedAt, got.CreatedAt, time.Second)

			require.NoError(t, s.Delete(ctx, b.Code))
			_, err = s.Get(ctx, b.Code)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, b.Code), ErrNotFound)
		})
	}
}

func TestLobbyAlwaysExists(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, err := s.Get(ctx, Lobby)
			require.NoError(t, err)
			assert.Equal(t, Lobby, b.Code)
			assert.ErrorIs(t, s.Delete(ctx, Lobby), ErrReserved)

			_, err = s.Get(ctx, "")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCodesAreCaseInsensitive(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, err := s.Create(ctx)
			require.NoError(t, err)
			for _, r := range b.Code {
				assert.Contains(t, codeAlphabet, string(r))
			}

			got, err := s.Get(ctx, " "+strings.ToUpper(b.Code)+" ")
			require.NoError(t, err)
			assert.Equal(t, b.Code, got.Code)
			require.NoError(t, s.Delete(ctx, strings.ToUpper(b.Code)))
		})
	}
}
