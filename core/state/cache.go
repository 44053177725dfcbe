package state

import (
	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
)

// codeCacheSize is the default byte budget for a shared code cache.
const codeCacheSize = 64 * 1024 * 1024

// CodeCache is a byte-bounded cache of contract code keyed by code hash.
// It is safe for concurrent use and is shared between every overlay built
// by the same provider, so hot contracts are fetched from the backing
// database once per process rather than once per block.
type CodeCache struct {
	cache *fastcache.Cache
}

// NewCodeCache creates a cache bounded to roughly maxBytes. A non-positive
// size selects the default budget.
func NewCodeCache(maxBytes int) *CodeCache {
	if maxBytes <= 0 {
		maxBytes = codeCacheSize
	}
	return &CodeCache{cache: fastcache.New(maxBytes)}
}

// Get returns the cached code for the hash, or nil on a miss. Empty code
// is never cached, so nil is unambiguous.
func (c *CodeCache) Get(codeHash common.Hash) []byte {
	if c == nil {
		return nil
	}
	if code := c.cache.Get(nil, codeHash[:]); len(code) > 0 {
		return code
	}
	return nil
}

// Set stores the code under its hash. Empty code is ignored.
func (c *CodeCache) Set(codeHash common.Hash, code []byte) {
	if c == nil || len(code) == 0 {
		return
	}
	c.cache.Set(codeHash[:], code)
}
