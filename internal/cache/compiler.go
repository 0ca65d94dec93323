package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"ojdriver/internal/idl"
)

// Stats counts cache lookups.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// Compiler compiles interfaces through an LRU cache keyed by the source
// name and content.
type Compiler struct {
	lru    *LRUCache
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCompiler returns a caching compiler.
func NewCompiler(maxSize int, ttl time.Duration) *Compiler {
	return &Compiler{lru: NewLRUCache(maxSize, ttl)}
}

// Compile returns the compiled interface for src, compiling it on a miss.
// Invalid interfaces are cached too; parse failures are not.
func (c *Compiler) Compile(name string, src []byte) (*idl.Interface, error) {
	key := Key(name, src)
	if iface, ok := c.lru.Get(key); ok {
		c.hits.Add(1)
		return iface, nil
	}
	c.misses.Add(1)
	iface, err := idl.Compile(name, src)
	if err != nil {
		return nil, err
	}
	c.lru.Set(key, iface)
	return iface, nil
}

// Stats returns the lookup counters.
func (c *Compiler) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: c.lru.Len()}
}

// Key identifies a source by name and content.
func Key(name string, src []byte) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(src)
	return hex.EncodeToString(h.Sum(nil))
}
