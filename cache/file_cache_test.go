package cache

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *FileCache {
	fc, err := NewFileCache(t.TempDir())
	require.NoError(t, err)
	return fc
}

func TestFileReadCloser_Close(t *testing.T) {
	fc := newTestCache(t)
	key := Key{1, 2, 3}

	require.NoError(t, fc.Add(key, bytes.NewReader([]byte{1, 2, 3, 4})))

	c, ok, err := fc.Get(key)
	require.NoError(t, err)
	require.True(t, ok)

	// The entry is open, so writers are excluded.
	require.False(t, fc.mux.TryLock())

	require.NoError(t, c.Close())
	require.True(t, fc.mux.TryLock())
	fc.mux.Unlock()
}

func TestFileCache_Add(t *testing.T) {
	fc := newTestCache(t)

	t.Run("not exist", func(t *testing.T) {
		content := []byte{1, 2, 3, 4, 5}
		id := Key{1, 2, 3, 4, 5, 6, 7}
		require.NoError(t, fc.Add(id, bytes.NewReader(content)))

		cached, err := os.ReadFile(fc.path(id))
		require.NoError(t, err)
		require.Equal(t, content, cached)
	})

	t.Run("already exists", func(t *testing.T) {
		id := Key{1, 2, 3}
		require.NoError(t, os.WriteFile(fc.path(id), []byte("stale"), 0o644))

		content := []byte{1, 2, 3, 4, 5}
		require.NoError(t, fc.Add(id, bytes.NewReader(content)))

		cached, err := os.ReadFile(fc.path(id))
		require.NoError(t, err)
		require.Equal(t, content, cached)
	})

	entries, err := os.ReadDir(fc.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFileCache_Delete(t *testing.T) {
	fc := newTestCache(t)

	t.Run("non-exist", func(t *testing.T) {
		require.NoError(t, fc.Delete(Key{0}))
	})

	t.Run("exist", func(t *testing.T) {
		id := Key{1, 2, 3}
		require.NoError(t, fc.Add(id, bytes.NewReader([]byte{1})))
		require.NoError(t, fc.Delete(id))

		_, err := os.Stat(fc.path(id))
		require.True(t, os.IsNotExist(err))
	})
}

func TestFileCache_Get(t *testing.T) {
	fc := newTestCache(t)

	t.Run("exist", func(t *testing.T) {
		content := []byte{1, 2, 3, 4, 5}
		id := Key{1, 2, 3}
		require.NoError(t, fc.Add(id, bytes.NewReader(content)))

		c, ok, err := fc.Get(id)
		require.NoError(t, err)
		require.True(t, ok)
		defer c.Close()

		actual, err := io.ReadAll(c)
		require.NoError(t, err)
		require.Equal(t, content, actual)
	})

	t.Run("not exist", func(t *testing.T) {
		_, ok, err := fc.Get(Key{0xf})
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestNewKey(t *testing.T) {
	assert.Equal(t, NewKey([]byte("ab"), []byte("c")), NewKey([]byte("ab"), []byte("c")))
	assert.NotEqual(t, NewKey([]byte("ab"), []byte("c")), NewKey([]byte("a"), []byte("bc")))
	assert.NotEqual(t, NewKey(), NewKey(nil))
}
