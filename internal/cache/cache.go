package cache

import (
	"container/list"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sshfs/sshfs/internal/remote"
	"github.com/sshfs/sshfs/pkg/types"
)

// Kind separates the entry namespaces of one volume.
type Kind uint8

const (
	KindAttr Kind = iota
	KindDir
	KindDiskInfo
)

func (k Kind) String() string {
	switch k {
	case KindAttr:
		return "attr"
	case KindDir:
		return "dir"
	case KindDiskInfo:
		return "diskinfo"
	default:
		return "unknown"
	}
}

// Key identifies one entry.
type Key struct {
	Kind Kind
	Path string
}

// DirListing is a directory snapshot tagged with the directory's write time at fill.
type DirListing struct {
	WriteTime time.Time
	Entries   []remote.DirEntry
}

// DiskInfo is the free/total/used triple in bytes.
type DiskInfo struct {
	Free  uint64
	Total uint64
	Used  uint64
}

// Config holds cache bounds.
type Config struct {
	// MaxEntries caps the number of entries; the least recently used go first. Zero means unbounded.
	MaxEntries      int           `yaml:"max_entries"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      100000,
		CleanupInterval: time.Minute,
	}
}

type item struct {
	key     Key
	value   interface{}
	expires time.Time
	// referenced is set by reads and gives the entry a second chance at eviction.
	referenced atomic.Bool
}

// Cache is the expiring entry store of one mounted volume. Fills are not
// coordinated: concurrent puts for the same key keep the last one. Hits
// only take the read lock, so eviction order is an approximation of LRU.
type Cache struct {
	config  Config
	metrics types.MetricsCollector
	now     func() time.Time

	mu        sync.RWMutex
	items     map[Key]*list.Element
	order     *list.List
	evictions uint64

	hits   atomic.Uint64
	misses atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts its cleanup loop. A nil collector disables metrics.
func New(config Config, metrics types.MetricsCollector) *Cache {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}
	if metrics == nil {
		metrics = types.NopCollector{}
	}
	c := &Cache{
		config:  config,
		metrics: metrics,
		now:     time.Now,
		items:   make(map[Key]*list.Element),
		order:   list.New(),
		stop:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Close stops the cleanup loop.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) get(key Key) (interface{}, bool) {
	var (
		value   interface{}
		expires time.Time
	)
	c.mu.RLock()
	elem, ok := c.items[key]
	if ok {
		it := elem.Value.(*item)
		value, expires = it.value, it.expires
		it.referenced.Store(true)
	}
	c.mu.RUnlock()

	if !ok {
		c.miss(key.Kind)
		return nil, false
	}
	if now := c.now(); !now.Before(expires) {
		c.dropExpired(key, now)
		c.miss(key.Kind)
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.RecordCacheHit(key.Kind.String())
	return value, true
}

// dropExpired removes key unless a concurrent put refreshed it.
func (c *Cache) dropExpired(key Key, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok && !now.Before(elem.Value.(*item).expires) {
		c.remove(elem)
	}
}

func (c *Cache) miss(kind Kind) {
	c.misses.Add(1)
	c.metrics.RecordCacheMiss(kind.String())
}

func (c *Cache) put(key Key, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(ttl)
	if elem, ok := c.items[key]; ok {
		it := elem.Value.(*item)
		it.value = value
		it.expires = expires
		c.order.MoveToFront(elem)
		return
	}
	c.items[key] = c.order.PushFront(&item{key: key, value: value, expires: expires})

	for c.config.MaxEntries > 0 && len(c.items) > c.config.MaxEntries {
		back := c.order.Back()
		if back.Value.(*item).referenced.Swap(false) {
			c.order.MoveToFront(back)
			continue
		}
		c.remove(back)
		c.evictions++
	}
}

// remove must be called with mu held.
func (c *Cache) remove(elem *list.Element) {
	it := elem.Value.(*item)
	c.order.Remove(elem)
	delete(c.items, it.key)
}

// Drop removes one entry.
func (c *Cache) Drop(kind Kind, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[Key{Kind: kind, Path: path}]; ok {
		c.remove(elem)
	}
}

// GetAttr returns a copy of the cached attributes of path.
func (c *Cache) GetAttr(path string) (*remote.Attributes, bool) {
	v, ok := c.get(Key{Kind: KindAttr, Path: path})
	if !ok {
		return nil, false
	}
	return v.(*remote.Attributes).Clone(), true
}

// PutAttr stores a copy of attrs.
func (c *Cache) PutAttr(path string, attrs *remote.Attributes, ttl time.Duration) {
	if attrs == nil {
		return
	}
	c.put(Key{Kind: KindAttr, Path: path}, attrs.Clone(), ttl)
}

// GetDir returns the cached listing of path. Callers must not modify it.
func (c *Cache) GetDir(path string) (*DirListing, bool) {
	v, ok := c.get(Key{Kind: KindDir, Path: path})
	if !ok {
		return nil, false
	}
	return v.(*DirListing), true
}

// GetFreshDir returns the listing only if its snapshot matches writeTime, dropping it otherwise.
func (c *Cache) GetFreshDir(path string, writeTime time.Time) (*DirListing, bool) {
	listing, ok := c.GetDir(path)
	if !ok {
		return nil, false
	}
	if !listing.WriteTime.Equal(writeTime) {
		c.Drop(KindDir, path)
		return nil, false
	}
	return listing, true
}

// PutDir stores listing for ttl. The listing is kept as is, not copied.
func (c *Cache) PutDir(path string, listing *DirListing, ttl time.Duration) {
	if listing == nil {
		return
	}
	c.put(Key{Kind: KindDir, Path: path}, listing, ttl)
}

// GetDiskInfo returns the volume's cached disk triple.
func (c *Cache) GetDiskInfo() (DiskInfo, bool) {
	v, ok := c.get(Key{Kind: KindDiskInfo})
	if !ok {
		return DiskInfo{}, false
	}
	return v.(DiskInfo), true
}

// PutDiskInfo stores the volume's disk triple for ttl.
func (c *Cache) PutDiskInfo(info DiskInfo, ttl time.Duration) {
	c.put(Key{Kind: KindDiskInfo}, info, ttl)
}

// Invalidate drops the attribute and directory entries of path.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kind := range []Kind{KindAttr, KindDir} {
		if elem, ok := c.items[Key{Kind: kind, Path: path}]; ok {
			c.remove(elem)
		}
	}
}

// InvalidateParent invalidates the directory one segment above path.
func (c *Cache) InvalidateParent(path string) {
	c.Invalidate(ParentPath(path))
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns hit/miss counters.
func (c *Cache) Stats() types.CacheStats {
	c.mu.RLock()
	stats := types.CacheStats{Evictions: c.evictions, Entries: len(c.items)}
	c.mu.RUnlock()
	stats.Hits = c.hits.Load()
	stats.Misses = c.misses.Load()
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.purgeExpired()
		}
	}
}

func (c *Cache) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if !now.Before(elem.Value.(*item).expires) {
			c.remove(elem)
		}
		elem = prev
	}
}

// ParentPath returns everything before the last '/', or "/" at the top level.
func ParentPath(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

// DirTTL scales the directory TTL with the listing size: max(attrTTL, min(count s, dirTTL)).
func DirTTL(attrTTL, dirTTL time.Duration, count int) time.Duration {
	scaled := time.Duration(count) * time.Second
	if scaled > dirTTL {
		scaled = dirTTL
	}
	if scaled < attrTTL {
		return attrTTL
	}
	return scaled
}

// ChildTTL is the attribute TTL for children filled by a listing: max(attrTTL+2s, attrTTL+count/10 s).
func ChildTTL(attrTTL time.Duration, count int) time.Duration {
	base := attrTTL + 2*time.Second
	scaled := attrTTL + time.Duration(count)*time.Second/10
	if scaled > base {
		return scaled
	}
	return base
}
