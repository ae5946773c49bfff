package depreader

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"taskrelay/internal/identity"
)

// CachedReader memoizes Read by task ID: the engine calls dependencyNames
// for every running task on every host start event, to build the input of
// DiscoverParents, and
// re-parsing (and possibly jsonrepair-ing) the same workspace config file
// on each call is wasted work once a task's dependency list has been read
// once in a session.
type CachedReader struct {
	cache *lru.Cache[identity.TaskID, Dependencies]
}

// NewCachedReader returns a reader caching up to size task's worth of
// parsed dependency lists.
func NewCachedReader(size int) *CachedReader {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[identity.TaskID, Dependencies](size)
	if err != nil {
		// Only returned for a non-positive size, already guarded above.
		panic(err)
	}
	return &CachedReader{cache: cache}
}

// Read returns task's dependency list, parsing and caching it on first
// lookup and serving the cached value on every later call for the same ID.
func (c *CachedReader) Read(task identity.HostTask, loadConfig WorkspaceConfigLoader) Dependencies {
	if deps, ok := c.cache.Get(task.ID); ok {
		return deps
	}
	deps := Read(task, loadConfig)
	c.cache.Add(task.ID, deps)
	return deps
}

// Invalidate drops any cached entry for id, e.g. when a task starts and its
// definition may have just been (re)created on disk.
func (c *CachedReader) Invalidate(id identity.TaskID) {
	c.cache.Remove(id)
}
