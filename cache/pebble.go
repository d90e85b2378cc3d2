package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Pebble is a cache stored in a pebble database. A pebble database is owned by a single process, so publication
// only needs to be serialized within it.
type Pebble struct {
	m  sync.Mutex
	db *pebble.DB
}

// OpenPebble opens or creates a pebble-backed cache in dir.
func OpenPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble cache: %w", err)
	}
	return &Pebble{db: db}, nil
}

func (c *Pebble) Get(key []byte) ([]byte, bool, error) {
	v, closer, err := c.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer closer.Close()

	return append([]byte(nil), v...), true, nil
}

func (c *Pebble) PutIfAbsent(key, value []byte) (bool, error) {
	c.m.Lock()
	defer c.m.Unlock()

	if _, ok, err := c.Get(key); err != nil || ok {
		return false, err
	}

	batch := c.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(key, value, nil); err != nil {
		return false, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the underlying database.
func (c *Pebble) Close() error {
	return c.db.Close()
}
