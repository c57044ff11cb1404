package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholar-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("ValidConfig", func(t *testing.T) {
		t.Parallel()
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		require.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "archives", "scholar")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{})
		require.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		name := "scholar-turing-20240501T080000Z.zip"
		uri, err := store.PutObject(context.Background(), name, "application/zip", []byte("PK"))
		require.NoError(t, err)
		require.Equal(t, "file://"+filepath.Join(dir, name), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		require.Equal(t, []byte("PK"), data)
	})

	t.Run("NestedPath", func(t *testing.T) {
		uri, err := store.PutObject(context.Background(), "2024/05/run.zip", "application/zip", []byte("nested"))
		require.NoError(t, err)
		require.Equal(t, "file://"+filepath.Join(dir, "2024/05/run.zip"), uri)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "application/zip", []byte("data"))
		require.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.zip", "application/zip", []byte("data"))
		require.Error(t, err)
	})
}
