// Package cache provides content-addressed stores for compiled functions. Entries are immutable: the first
// value published for a key wins, and later publishers observe that the key is already present.
package cache

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// A Cache maps content-derived keys to immutable values. Implementations are safe for concurrent use.
type Cache interface {
	// Get returns the value stored under key, if any.
	Get(key []byte) ([]byte, bool, error)
	// PutIfAbsent stores value under key unless the key is already present. It returns true if this call
	// published the value.
	PutIfAbsent(key, value []byte) (bool, error)
}

// Memory is an in-process cache.
type Memory struct {
	m       sync.RWMutex
	entries map[string][]byte
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: map[string][]byte{}}
}

func (c *Memory) Get(key []byte) ([]byte, bool, error) {
	c.m.RLock()
	defer c.m.RUnlock()

	v, ok := c.entries[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (c *Memory) PutIfAbsent(key, value []byte) (bool, error) {
	c.m.Lock()
	defer c.m.Unlock()

	if _, ok := c.entries[string(key)]; ok {
		return false, nil
	}
	c.entries[string(key)] = append([]byte(nil), value...)
	return true, nil
}

// Len returns the number of entries in the cache.
func (c *Memory) Len() int {
	c.m.RLock()
	defer c.m.RUnlock()
	return len(c.entries)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open opens the cache described by location. "memory" opens an in-process cache, "pebble:DIR" opens a pebble
// database in DIR, and any other value names a directory for a file cache. The returned Closer releases the
// cache's resources.
func Open(location string) (Cache, io.Closer, error) {
	switch {
	case location == "memory":
		return NewMemory(), nopCloser{}, nil
	case strings.HasPrefix(location, "pebble:"):
		c, err := OpenPebble(strings.TrimPrefix(location, "pebble:"))
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case location == "":
		return nil, nil, fmt.Errorf("empty cache location")
	default:
		c, err := NewFile(location)
		if err != nil {
			return nil, nil, err
		}
		return c, nopCloser{}, nil
	}
}
