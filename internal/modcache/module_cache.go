package modcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tetratelabs/wazero"
)

// ModuleCache deduplicates wazero.CompileModule calls for identical core
// Wasm byte images. A cache hit still produces a fresh api.Module on
// Instantiate; only the expensive decode-and-validate step is shared.
//
// Entries are reference-counted: a CompiledModule is only Close()d once its
// last borrower has released it AND it has left the LRU, so an instance
// holding a borrowed entry is never affected by concurrent eviction.
type ModuleCache struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, *cacheEntry]
	toClose []*cacheEntry
}

type cacheEntry struct {
	module   wazero.CompiledModule
	refCount int
	evicted  bool
}

// New creates a cache holding up to size compiled modules. A size of 0 or
// less disables caching: every Get is a guaranteed miss and Release is a
// no-op.
func New(size int) *ModuleCache {
	c := &ModuleCache{}
	if size <= 0 {
		return c
	}
	lc, err := lru.NewWithEvict(size, func(_ string, e *cacheEntry) {
		e.evicted = true
		if e.refCount <= 0 {
			c.toClose = append(c.toClose, e)
		}
	})
	if err != nil {
		// only possible for size <= 0, already excluded above.
		return c
	}
	c.cache = lc
	return c
}

// Key hashes module bytes into a cache key.
func Key(moduleBytes []byte) string {
	sum := sha256.Sum256(moduleBytes)
	return hex.EncodeToString(sum[:])
}

// Get returns a cached compiled module for key, incrementing its reference
// count, or (nil, false) on a miss. Every successful Get must be matched by
// a later Release.
func (c *ModuleCache) Get(key string) (wazero.CompiledModule, bool) {
	if c == nil || c.cache == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	e.refCount++
	return e.module, true
}

// Put registers a freshly compiled module under key with an initial
// reference count of one (the caller's own borrow) and returns it
// unchanged. The caller must Release(key) when done with that borrow, same
// as after a Get.
func (c *ModuleCache) Put(key string, module wazero.CompiledModule) wazero.CompiledModule {
	if c == nil || c.cache == nil {
		return module
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, &cacheEntry{module: module, refCount: 1})
	return module
}

// Release drops one borrow of key, closing the underlying CompiledModule
// once its reference count reaches zero and it has been evicted from the
// LRU. Safe to call with a key the cache never held (no-op).
func (c *ModuleCache) Release(ctx context.Context, key string) {
	if c == nil || c.cache == nil {
		return
	}
	c.mu.Lock()
	var closeNow []*cacheEntry
	if e, ok := c.cache.Peek(key); ok {
		e.refCount--
		if e.refCount <= 0 && e.evicted {
			closeNow = append(closeNow, e)
		}
	}
	closeNow = append(closeNow, c.toClose...)
	c.toClose = nil
	c.mu.Unlock()

	for _, e := range closeNow {
		e.module.Close(ctx)
	}
}

// Enabled reports whether this cache actually stores anything. A disabled
// cache (size <= 0) makes Get/Put/Release all no-ops, so callers must keep
// owning and closing compiled modules directly.
func (c *ModuleCache) Enabled() bool {
	return c != nil && c.cache != nil
}

// Len reports the number of distinct modules currently cached.
func (c *ModuleCache) Len() int {
	if c == nil || c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
