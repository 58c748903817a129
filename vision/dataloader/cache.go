package dataloader

import (
	"container/list"
	"fmt"
	"sync"
)

// CachedItem is a decoded example and its label.
type CachedItem struct {
	Pixels []float32
	Label  int
}

// CacheManager is an LRU cache of decoded examples that can be shared by loaders.
// Cached pixels are never mutated; transforms always write to a copy.
type CacheManager struct {
	mu          sync.Mutex
	cache       map[string]CachedItem
	lru         *list.List
	lruMap      map[string]*list.Element
	maxSize     int
	currentSize int
	itemSize    int // Size of each item in float32 elements

	// Statistics
	hits   int64
	misses int64
}

// NewCacheManager creates a new cache manager
func NewCacheManager(maxSize int, itemSize int) *CacheManager {
	return &CacheManager{
		cache:    make(map[string]CachedItem),
		lru:      list.New(),
		lruMap:   make(map[string]*list.Element),
		maxSize:  maxSize,
		itemSize: itemSize,
	}
}

// Get retrieves an item from the cache
func (cm *CacheManager) Get(key string) (CachedItem, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if item, exists := cm.cache[key]; exists {
		cm.lru.MoveToFront(cm.lruMap[key])
		cm.hits++
		return item, true
	}

	cm.misses++
	return CachedItem{}, false
}

// Put adds an item to the cache. Items of the wrong size are ignored.
func (cm *CacheManager) Put(key string, item CachedItem) {
	if cm.maxSize <= 0 || (cm.itemSize > 0 && len(item.Pixels) != cm.itemSize) {
		return
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if elem, exists := cm.lruMap[key]; exists {
		cm.lru.MoveToFront(elem)
		return
	}

	cm.lruMap[key] = cm.lru.PushFront(key)
	cm.cache[key] = item
	cm.currentSize++

	for cm.currentSize > cm.maxSize {
		cm.removeElement(cm.lru.Back())
	}
}

// removeElement removes an element from the cache
func (cm *CacheManager) removeElement(elem *list.Element) {
	key := elem.Value.(string)
	cm.lru.Remove(elem)
	delete(cm.lruMap, key)
	delete(cm.cache, key)
	cm.currentSize--
}

// Stats returns cache statistics
func (cm *CacheManager) Stats() CacheStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	return CacheStats{
		Size:    cm.currentSize,
		MaxSize: cm.maxSize,
		Hits:    cm.hits,
		Misses:  cm.misses,
		HitRate: cm.calculateHitRate(),
	}
}

// calculateHitRate calculates the hit rate percentage
func (cm *CacheManager) calculateHitRate() float64 {
	total := cm.hits + cm.misses
	if total == 0 {
		return 0
	}
	return float64(cm.hits) / float64(total) * 100
}

// Clear drops every entry; statistics stay cumulative.
func (cm *CacheManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.cache = make(map[string]CachedItem)
	cm.lru = list.New()
	cm.lruMap = make(map[string]*list.Element)
	cm.currentSize = 0
}

// ResetStats resets the statistics
func (cm *CacheManager) ResetStats() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.hits = 0
	cm.misses = 0
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
