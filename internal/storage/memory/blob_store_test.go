package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "scholar-turing-20240501T080000Z.zip", "application/zip", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://scholar-turing-20240501T080000Z.zip", uri)

	payload[0] = 'C'
	stored, ok := store.Object("scholar-turing-20240501T080000Z.zip")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))

	_, err = store.PutObject(context.Background(), " ", "", nil)
	require.Error(t, err)
}
