package scratch

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Get for a key that was never written or has
// been deleted.
var ErrNotFound = errors.New("scratch: key not found")

// Store holds opaque blobs by key. Implementations are safe for
// concurrent use.
type Store interface {
	Put(key string, blob []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendDir    = "dir"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Open returns a store for the named backend rooted at dir. The memory
// backend is an in-memory badger instance and ignores dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", BackendDir:
		return NewDirStore(dir)
	case BackendBadger:
		return NewBadgerStore(dir, false)
	case BackendMemory:
		return NewBadgerStore("", true)
	}
	return nil, fmt.Errorf("unknown scratch backend %q", backend)
}

// Key builds the scratch key of a product for file index i.
func Key(product string, i int) string {
	return fmt.Sprintf("%s/%06d", product, i)
}

// RefCounter deletes a scratch entry once every tile that needs it has
// released it.
type RefCounter struct {
	store Store
	mu    sync.Mutex
	refs  map[string]int
}

// NewRefCounter tracks entries of store.
func NewRefCounter(store Store) *RefCounter {
	return &RefCounter{store: store, refs: make(map[string]int)}
}

// Retain adds n references to key.
func (c *RefCounter) Retain(key string, n int) {
	c.mu.Lock()
	c.refs[key] += n
	c.mu.Unlock()
}

// Release drops one reference to key and deletes the entry when none
// remain. It reports whether the entry was deleted.
func (c *RefCounter) Release(key string) (bool, error) {
	c.mu.Lock()
	n, ok := c.refs[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	n--
	if n > 0 {
		c.refs[key] = n
		c.mu.Unlock()
		return false, nil
	}
	delete(c.refs, key)
	c.mu.Unlock()
	if err := c.store.Delete(key); err != nil {
		return false, fmt.Errorf("delete scratch %s: %w", key, err)
	}
	return true, nil
}

// Live returns the number of entries still referenced.
func (c *RefCounter) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.refs)
}
