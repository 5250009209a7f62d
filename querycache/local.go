package querycache

import (
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-object-graph/cache"
)

// LocalCacheStore holds the results cached by one session. Values are
// whatever the session stores (object lists, fault lists) and are handed
// back by reference.
type LocalCacheStore struct {
	entries *xsync.MapOf[string, any]
}

// NewLocalCacheStore returns an empty local cache.
func NewLocalCacheStore() *LocalCacheStore {
	return &LocalCacheStore{entries: xsync.NewMapOf[string, any]()}
}

// Get returns the value cached under key.
func (c *LocalCacheStore) Get(key string) (any, bool) {
	return c.entries.Load(key)
}

// Put stores value under key.
func (c *LocalCacheStore) Put(key string, value any) {
	c.entries.Store(key, value)
}

// GetOrCreate returns the value under key, creating it with create on a
// miss. A failed create stores nothing.
func (c *LocalCacheStore) GetOrCreate(key string, create func() (any, error)) (any, error) {
	if v, ok := c.entries.Load(key); ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		return nil, err
	}
	actual, _ := c.entries.LoadOrStore(key, v)
	return actual, nil
}

// Remove drops key.
func (c *LocalCacheStore) Remove(key string) {
	c.entries.Delete(key)
}

// InvalidateEntity drops every entry whose key belongs to entity.
func (c *LocalCacheStore) InvalidateEntity(entity string) {
	prefix := cache.Prefix(entity)
	c.entries.Range(func(key string, _ any) bool {
		if strings.HasPrefix(key, prefix) {
			c.entries.Delete(key)
		}
		return true
	})
}

// Clear drops every entry.
func (c *LocalCacheStore) Clear() {
	c.entries.Clear()
}

// Len returns the number of entries.
func (c *LocalCacheStore) Len() int {
	return c.entries.Size()
}
