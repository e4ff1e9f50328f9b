package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"imgsearch/internal/domain"
)

// Key identifies a search. Threshold is part of the key so changing the
// session threshold never serves stale filtering.
type Key struct {
	Query        domain.Query
	ImageModTime int64
	Threshold    float64
}

func (k Key) hash() string {
	data := fmt.Sprintf("%d\x00%s\x00%d\x00%s\x00%g",
		k.Query.Kind, k.Query.ImagePath, k.ImageModTime, k.Query.Text, k.Threshold)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:16])
}

// OutcomeCache is a bounded LRU of search outcomes with a TTL. Entries
// remember the index generation they were computed against and miss once
// the index has changed.
type OutcomeCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	outcome   domain.SearchOutcome
	timestamp time.Time
	indexGen  uint64
}

func NewOutcomeCache(maxSize int, ttl time.Duration) *OutcomeCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &OutcomeCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *OutcomeCache) Get(key Key, indexGen uint64) (domain.SearchOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := key.hash()
	entry, exists := c.entries[h]
	if !exists {
		return domain.SearchOutcome{}, false
	}

	if c.now().Sub(entry.timestamp) > c.ttl || entry.indexGen != indexGen {
		delete(c.entries, h)
		c.removeFromOrder(h)
		return domain.SearchOutcome{}, false
	}

	c.moveToEnd(h)
	return copyOutcome(entry.outcome), true
}

func (c *OutcomeCache) Put(key Key, indexGen uint64, outcome domain.SearchOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := key.hash()
	entry := &cacheEntry{
		outcome:   copyOutcome(outcome),
		timestamp: c.now(),
		indexGen:  indexGen,
	}

	if _, exists := c.entries[h]; exists {
		c.entries[h] = entry
		c.moveToEnd(h)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[h] = entry
	c.order = append(c.order, h)
}

func (c *OutcomeCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
}

func (c *OutcomeCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *OutcomeCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *OutcomeCache) moveToEnd(h string) {
	c.removeFromOrder(h)
	c.order = append(c.order, h)
}

func (c *OutcomeCache) removeFromOrder(h string) {
	for i, k := range c.order {
		if k == h {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func copyOutcome(o domain.SearchOutcome) domain.SearchOutcome {
	out := o
	out.Results = append([]domain.ScoredImage(nil), o.Results...)
	return out
}

// Searcher runs a query against an index.
type Searcher interface {
	Search(ctx context.Context, q domain.Query) (domain.SearchOutcome, error)
}

// CachedSearcher memoises a Searcher. keyFn derives the cache key and
// current index generation for a query; returning ok=false bypasses the
// cache.
type CachedSearcher struct {
	searcher Searcher
	cache    *OutcomeCache
	keyFn    func(q domain.Query) (key Key, indexGen uint64, ok bool)
}

func NewCachedSearcher(searcher Searcher, cache *OutcomeCache, keyFn func(domain.Query) (Key, uint64, bool)) *CachedSearcher {
	return &CachedSearcher{
		searcher: searcher,
		cache:    cache,
		keyFn:    keyFn,
	}
}

func (s *CachedSearcher) Search(ctx context.Context, q domain.Query) (domain.SearchOutcome, error) {
	key, gen, ok := s.keyFn(q)
	if ok {
		if outcome, hit := s.cache.Get(key, gen); hit {
			return outcome, nil
		}
	}

	outcome, err := s.searcher.Search(ctx, q)
	if err != nil {
		return domain.SearchOutcome{}, err
	}

	if ok {
		s.cache.Put(key, gen, outcome)
	}
	return outcome, nil
}
