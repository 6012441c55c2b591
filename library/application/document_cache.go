package application

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DocumentCache keeps recently generated documents. Entries are keyed by the
// test id and its last update, so any edit to a test misses the cache.
type DocumentCache struct {
	cache    *expirable.LRU[string, *GeneratedDocument]
	recorder Recorder
}

// NewDocumentCache creates a cache of at most size documents, each kept for
// ttl. A size below one disables caching.
func NewDocumentCache(size int, ttl time.Duration, recorder Recorder) *DocumentCache {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if size < 1 {
		return &DocumentCache{recorder: recorder}
	}
	return &DocumentCache{
		cache:    expirable.NewLRU[string, *GeneratedDocument](size, nil, ttl),
		recorder: recorder,
	}
}

func (c *DocumentCache) Get(key string) (*GeneratedDocument, bool) {
	if c.cache == nil {
		return nil, false
	}
	doc, ok := c.cache.Get(key)
	if ok {
		c.recorder.CacheHit()
		return doc, true
	}
	c.recorder.CacheMiss()
	return nil, false
}

func (c *DocumentCache) Set(key string, doc *GeneratedDocument) {
	if c.cache == nil {
		return
	}
	c.cache.Add(key, doc)
}

// Len reports the number of live entries
func (c *DocumentCache) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
