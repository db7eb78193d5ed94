package kv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatordash/authsim/internal/kv"
	"github.com/creatordash/authsim/internal/kv/kvtest"
)

func Test_Memory_Conformance(t *testing.T) {
	kvtest.TestStore(t, kv.NewMemory())
}

func Test_Memory_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemory()

	in := []byte("original")
	require.NoError(t, s.Set(ctx, "m", "k", in))

	// Mutating the input slice after Set must not affect the store.
	in[0] = 'X'

	v, ok, err := s.Get(ctx, "m", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("original"), v)

	// Mutating the returned slice must not affect the store either.
	v[0] = 'Y'

	v2, _, err := s.Get(ctx, "m", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), v2)
}
