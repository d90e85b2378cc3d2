package cache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pgavlin/tandem/internal/logging"
)

// File is a cache stored in a directory, one file per entry. Entries are written to a temporary file and then
// published with a rename that refuses to replace an existing entry, so concurrent writers in any number of
// processes agree on a single value per key.
type File struct {
	dir string
	log *zap.Logger
}

// NewFile opens a file cache rooted at dir, creating the directory if necessary.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &File{dir: dir, log: logging.Named("cache")}, nil
}

// Dir returns the cache's root directory.
func (c *File) Dir() string {
	return c.dir
}

func (c *File) path(key []byte) string {
	name := hex.EncodeToString(key)
	if len(name) < 2 {
		return filepath.Join(c.dir, name)
	}
	return filepath.Join(c.dir, name[:2], name)
}

func (c *File) Get(key []byte) ([]byte, bool, error) {
	bytes, err := os.ReadFile(c.path(key))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	default:
		return bytes, true, nil
	}
}

func (c *File) PutIfAbsent(key, value []byte) (bool, error) {
	path := c.path(key)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}

	tmp, err := writeTemp(dir, value)
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp)

	ok, err := publish(tmp, path)
	if err != nil {
		return false, fmt.Errorf("publishing cache entry: %w", err)
	}
	if !ok {
		c.log.Debug("cache entry already published", zap.String("key", hex.EncodeToString(key)))
	}
	return ok, nil
}

func writeTemp(dir string, value []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", err
	}
	if _, err = f.Write(value); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// publishLink publishes tmp at path with a hard link, which fails if path exists.
func publishLink(tmp, path string) (bool, error) {
	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
