// ABOUTME: Sharded LRU cache of serialized page bytes sitting in front of pagefile.Store
// ABOUTME: Sized by Config.CacheSize split across Config.CacheConcurrency shards, each independently locked

package mvstore

import (
	"container/list"
	"sync"

	"github.com/arvindrathore/mvstore/pkg/page"
	"github.com/arvindrathore/mvstore/pkg/pagefile"
)

// Compressor is pkg/page's page-body compression seam, re-exported here so
// store-level code and callers outside pkg/page can name it as
// mvstore.Compressor without importing pkg/page directly. page.FlateCompressor
// remains the only implementation; Config.Compress selects the level it
// runs at.
type Compressor = page.Compressor

// PageCache caches a page's serialized on-disk bytes by position, sparing a
// repeat read of the same position from the backing pagefile.Store. No repo
// in this corpus pulls in a third-party LRU library for this seam (see
// DESIGN.md), so shardedPageCache, built on container/list, is the only
// implementation.
type PageCache interface {
	Get(pos page.Position) ([]byte, bool)
	Put(pos page.Position, data []byte)
}

type cacheEntry struct {
	pos  page.Position
	data []byte
}

// lruShard is one independently-locked LRU partition, evicting by total
// cached byte count rather than entry count since page sizes vary widely.
type lruShard struct {
	mu       sync.Mutex
	maxBytes int
	curBytes int
	ll       *list.List
	index    map[page.Position]*list.Element
}

func newLRUShard(maxBytes int) *lruShard {
	if maxBytes < 1 {
		maxBytes = 1
	}
	return &lruShard{maxBytes: maxBytes, ll: list.New(), index: make(map[page.Position]*list.Element)}
}

func (s *lruShard) get(pos page.Position) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.index[pos]
	if !ok {
		return nil, false
	}
	s.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).data, true
}

func (s *lruShard) put(pos page.Position, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.index[pos]; ok {
		entry := el.Value.(*cacheEntry)
		s.curBytes += len(data) - len(entry.data)
		entry.data = data
		s.ll.MoveToFront(el)
	} else {
		el := s.ll.PushFront(&cacheEntry{pos: pos, data: data})
		s.index[pos] = el
		s.curBytes += len(data)
	}

	for s.curBytes > s.maxBytes && s.ll.Len() > 1 {
		back := s.ll.Back()
		entry := back.Value.(*cacheEntry)
		s.ll.Remove(back)
		delete(s.index, entry.pos)
		s.curBytes -= len(entry.data)
	}
}

// shardedPageCache splits the cache into Config.CacheConcurrency
// independently-locked shards, keyed by position, so concurrent readers on
// unrelated pages never contend on the same mutex.
type shardedPageCache struct {
	shards []*lruShard
}

func newPageCache(totalBytes, concurrency int) *shardedPageCache {
	if concurrency < 1 {
		concurrency = 1
	}
	perShard := totalBytes / concurrency
	shards := make([]*lruShard, concurrency)
	for i := range shards {
		shards[i] = newLRUShard(perShard)
	}
	return &shardedPageCache{shards: shards}
}

func (c *shardedPageCache) shardFor(pos page.Position) *lruShard {
	return c.shards[uint64(pos)%uint64(len(c.shards))]
}

func (c *shardedPageCache) Get(pos page.Position) ([]byte, bool) {
	return c.shardFor(pos).get(pos)
}

func (c *shardedPageCache) Put(pos page.Position, data []byte) {
	c.shardFor(pos).put(pos, data)
}

// cachingPageSource wraps a pagefile.Store with a PageCache, satisfying
// mvmap.PageSource. A cache hit never touches the backend; a miss reads
// through and populates the cache for next time.
type cachingPageSource struct {
	pf    *pagefile.Store
	cache PageCache
}

func newCachingPageSource(pf *pagefile.Store, cache PageCache) *cachingPageSource {
	return &cachingPageSource{pf: pf, cache: cache}
}

func (c *cachingPageSource) ReadPage(pos page.Position) ([]byte, error) {
	if data, ok := c.cache.Get(pos); ok {
		return data, nil
	}
	data, err := c.pf.ReadPage(pos)
	if err != nil {
		return nil, err
	}
	c.cache.Put(pos, data)
	return data, nil
}
