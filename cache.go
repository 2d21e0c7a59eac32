package capflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// SharedCache is the mutable mapping shared across invocations. The
// caller owns its lifetime and threads it through ContextSpec; the
// engine never replaces a supplied cache with its own.
type SharedCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data   any
	expiry time.Time
}

// NewSharedCache creates an empty cache.
func NewSharedCache() *SharedCache {
	return &SharedCache{entries: make(map[string]cacheEntry)}
}

// Get returns the live value for key. Expired entries miss and are
// dropped lazily.
func (c *SharedCache) Get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiry) {
		c.mu.Lock()
		// Recheck under the write lock; a concurrent Put may have refreshed it.
		if current, ok := c.entries[key]; ok && time.Now().After(current.expiry) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.data, true
}

// Put stores data under key with expiry = now + ttl.
func (c *SharedCache) Put(key string, data any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{data: data, expiry: time.Now().Add(ttl)}
}

// Delete removes key.
func (c *SharedCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries, expired ones included.
func (c *SharedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// detEncMode serializes values in CBOR Core Deterministic Encoding so
// that structurally equal inputs always produce the same bytes. The
// serialization defines cache equivalence; two inputs are the same
// entry exactly when their canonical encodings match.
var detEncMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor deterministic encode mode: %v", err))
	}
	detEncMode = em
}

// cacheKey resolves the cache key for a validated input: the policy's
// key function when present, otherwise a sha256 digest over the
// capability name and the input's canonical serialization.
func cacheKey(d *Definition, input any) (string, error) {
	if d.cache != nil && d.cache.Key != nil {
		return d.name + "/" + d.cache.Key(input), nil
	}
	return defaultCacheKey(d.name, input)
}

func defaultCacheKey(capName string, input any) (string, error) {
	encoded, err := detEncMode.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to derive cache key for capability %q: %w", capName, err)
	}
	digest := sha256.New()
	digest.Write([]byte(capName))
	digest.Write([]byte{0})
	digest.Write(encoded)
	return hex.EncodeToString(digest.Sum(nil)), nil
}
