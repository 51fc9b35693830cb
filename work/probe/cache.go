package probe

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// metaCache wraps a ristretto cache holding probed metadata with a
// fixed TTL. Entries are tiny, so the cost function is a flat 1.
type metaCache struct {
	cache *ristretto.Cache[string, Metadata]
	ttl   time.Duration
}

func newMetaCache(ttl time.Duration) (*metaCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, Metadata]{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &metaCache{cache: c, ttl: ttl}, nil
}

func (m *metaCache) get(key string) (Metadata, bool) {
	return m.cache.Get(key)
}

func (m *metaCache) set(key string, meta Metadata) {
	m.cache.SetWithTTL(key, meta, 1, m.ttl)
}
