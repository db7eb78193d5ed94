// Package kvtest provides a conformance suite for kv.Store implementations.
package kvtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/creatordash/authsim/internal/kv"
)

// TestStore runs the conformance suite against the provided store.
// The store is expected to be empty.
func TestStore(t *testing.T, s kv.Store) {
	t.Helper()

	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		v, ok, err := s.Get(ctx, "users", "nope")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "users", "alice@example.com", []byte(`{"id":1}`)))

		v, ok, err := s.Get(ctx, "users", "alice@example.com")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte(`{"id":1}`), v)
	})

	t.Run("set replaces previous value", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "users", "alice@example.com", []byte(`{"id":2}`)))

		v, ok, err := s.Get(ctx, "users", "alice@example.com")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte(`{"id":2}`), v)
	})

	t.Run("maps are independent", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "codes", "alice@example.com", []byte("123456")))

		v, ok, err := s.Get(ctx, "users", "alice@example.com")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte(`{"id":2}`), v)

		v, ok, err = s.Get(ctx, "codes", "alice@example.com")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("123456"), v)
	})

	t.Run("all returns every value in a map", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "users", "bob@example.com", []byte(`{"id":3}`)))

		all, err := s.All(ctx, "users")
		require.NoError(t, err)
		assert.Equal(t, map[string][]byte{
			"alice@example.com": []byte(`{"id":2}`),
			"bob@example.com":   []byte(`{"id":3}`),
		}, all)
	})

	t.Run("all on absent map is empty", func(t *testing.T) {
		all, err := s.All(ctx, "sessions")
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "users", "bob@example.com"))

		_, ok, err := s.Get(ctx, "users", "bob@example.com")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete absent key is not an error", func(t *testing.T) {
		assert.NoError(t, s.Delete(ctx, "users", "nope"))
		assert.NoError(t, s.Delete(ctx, "ghost-map", "nope"))
	})

	t.Run("concurrent writers", func(t *testing.T) {
		g, gCtx := errgroup.WithContext(ctx)
		for i := 0; i < 8; i++ {
			i := i
			g.Go(func() error {
				for j := 0; j < 25; j++ {
					key := fmt.Sprintf("user-%d-%d", i, j)
					if err := s.Set(gCtx, "stress", key, []byte(key)); err != nil {
						return err
					}
					if _, _, err := s.Get(gCtx, "stress", key); err != nil {
						return err
					}
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		all, err := s.All(ctx, "stress")
		require.NoError(t, err)
		assert.Len(t, all, 8*25)
	})
}
