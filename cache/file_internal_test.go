package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishLink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entry")

	first, err := writeTemp(dir, []byte("first"))
	require.NoError(t, err)
	ok, err := publishLink(first, path)
	require.NoError(t, err)
	assert.True(t, ok)

	second, err := writeTemp(dir, []byte("second"))
	require.NoError(t, err)
	ok, err = publishLink(second, path)
	require.NoError(t, err)
	assert.False(t, ok)

	bytes, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(bytes))
}

func TestPublishRefusesReplacement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entry")
	require.NoError(t, os.WriteFile(path, []byte("existing"), 0o600))

	tmp, err := writeTemp(dir, []byte("new"))
	require.NoError(t, err)
	ok, err := publish(tmp, path)
	require.NoError(t, err)
	assert.False(t, ok)

	bytes, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing", string(bytes))
}
