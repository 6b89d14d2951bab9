package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/kaiwa/internal/kaiwa/store"
)

func TestSyncValues(t *testing.T) {
	ctx := context.Background()
	s, err := store.OpenSQL(ctx, "sqlite", ":memory:", nil, quietLogger())
	require.NoError(t, err)
	defer s.Close()

	v, err := s.LoadSyncValue(ctx, "@kaiwa:example.org", "next_batch")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SaveSyncValue(ctx, "@kaiwa:example.org", "next_batch", "s1"))
	require.NoError(t, s.SaveSyncValue(ctx, "@kaiwa:example.org", "next_batch", "s2"))
	require.NoError(t, s.SaveSyncValue(ctx, "@other:example.org", "next_batch", "x"))

	v, err = s.LoadSyncValue(ctx, "@kaiwa:example.org", "next_batch")
	require.NoError(t, err)
	assert.Equal(t, "s2", v)
}
