package cache_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/tandem/cache"
)

type backend struct {
	name string
	open func(t *testing.T) cache.Cache
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) cache.Cache {
			return cache.NewMemory()
		}},
		{"file", func(t *testing.T) cache.Cache {
			c, err := cache.NewFile(filepath.Join(t.TempDir(), "cache"))
			require.NoError(t, err)
			return c
		}},
		{"pebble", func(t *testing.T) cache.Cache {
			c, err := cache.OpenPebble(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { c.Close() })
			return c
		}},
	}
}

func TestGetPut(t *testing.T) {
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			c := b.open(t)
			key := []byte{0xde, 0xad, 0xbe, 0xef}

			_, ok, err := c.Get(key)
			require.NoError(t, err)
			assert.False(t, ok)

			published, err := c.PutIfAbsent(key, []byte("first"))
			require.NoError(t, err)
			assert.True(t, published)

			published, err = c.PutIfAbsent(key, []byte("second"))
			require.NoError(t, err)
			assert.False(t, published)

			v, ok, err := c.Get(key)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("first"), v)
		})
	}
}

// TestConcurrentPublishers races many writers on one key. Exactly one must win and every reader must observe
// its value.
func TestConcurrentPublishers(t *testing.T) {
	const writers = 128

	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			c := b.open(t)
			key := []byte("contended")

			var wg sync.WaitGroup
			wins := make([]bool, writers)
			errs := make([]error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					wins[i], errs[i] = c.PutIfAbsent(key, []byte(fmt.Sprintf("writer %d", i)))
				}(i)
			}
			wg.Wait()

			winner := -1
			for i := 0; i < writers; i++ {
				require.NoError(t, errs[i])
				if wins[i] {
					require.Equal(t, -1, winner, "writers %d and %d both published", winner, i)
					winner = i
				}
			}
			require.NotEqual(t, -1, winner)

			v, ok, err := c.Get(key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, fmt.Sprintf("writer %d", winner), string(v))
		})
	}
}

func TestFileLayout(t *testing.T) {
	dir := t.TempDir()
	c, err := cache.NewFile(dir)
	require.NoError(t, err)

	_, err = c.PutIfAbsent([]byte{0xab, 0xcd}, []byte("value"))
	require.NoError(t, err)

	bytes, err := os.ReadFile(filepath.Join(dir, "ab", "abcd"))
	require.NoError(t, err)
	assert.Equal(t, "value", string(bytes))

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "ab"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "leftover %v", e.Name())
	}
}

func TestFileSharedAcrossHandles(t *testing.T) {
	dir := t.TempDir()
	a, err := cache.NewFile(dir)
	require.NoError(t, err)
	b, err := cache.NewFile(dir)
	require.NoError(t, err)

	ok, err := a.PutIfAbsent([]byte("k"), []byte("from a"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.PutIfAbsent([]byte("k"), []byte("from b"))
	require.NoError(t, err)
	assert.False(t, ok)

	v, _, err := b.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "from a", string(v))
}

func TestMemoryCopiesValues(t *testing.T) {
	c := cache.NewMemory()
	value := []byte("value")
	_, err := c.PutIfAbsent([]byte("k"), value)
	require.NoError(t, err)
	copy(value, "xxxxx")

	v, _, err := c.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("value"), v))
	assert.Equal(t, 1, c.Len())

	// Mutating a returned value leaves the entry intact.
	copy(v, "yyyyy")
	v, _, err = c.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "value", string(v))
}

func TestOpen(t *testing.T) {
	c, closer, err := cache.Open("memory")
	require.NoError(t, err)
	assert.IsType(t, &cache.Memory{}, c)
	require.NoError(t, closer.Close())

	dir := t.TempDir()
	c, closer, err = cache.Open(filepath.Join(dir, "files"))
	require.NoError(t, err)
	assert.IsType(t, &cache.File{}, c)
	require.NoError(t, closer.Close())

	c, closer, err = cache.Open("pebble:" + filepath.Join(dir, "db"))
	require.NoError(t, err)
	assert.IsType(t, &cache.Pebble{}, c)
	require.NoError(t, closer.Close())

	_, _, err = cache.Open("")
	assert.Error(t, err)
}
