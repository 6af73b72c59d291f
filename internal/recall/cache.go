package recall

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// cacheKey identifies one cached recall result.
type cacheKey struct {
	userID          string
	agentID         string
	normalizedQuery string
	configHash      string
}

type cacheEntry struct {
	key        cacheKey
	ids        []string
	generation int64
	expiresAt  time.Time
	elem       *list.Element
}

// Cache is an in-memory LRU keyed by (userId, agentId, normalizedQuery,
// configHash), storing only record ids. Coherence with
// concurrent writes is maintained not by scanning for matching keys but by
// a per-(userId, agentId) generation counter (see Invalidate): every
// cached entry is stamped with the generation it was written under, and a
// lookup that finds its generation stale is treated as a miss.
type Cache struct {
	mu          sync.Mutex
	capacity    int
	ttl         time.Duration
	ll          *list.List
	items       map[cacheKey]*cacheEntry
	generations map[string]int64 // "userId:agentId" -> generation
}

func NewCache(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		capacity:    capacity,
		ttl:         ttl,
		ll:          list.New(),
		items:       make(map[cacheKey]*cacheEntry),
		generations: make(map[string]int64),
	}
}

func generationKey(userID, agentID string) string {
	return userID + ":" + agentID
}

// Get returns the cached record ids for key, if present, unexpired, and
// from the current generation.
func (c *Cache) Get(key cacheKey) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.removeLocked(entry)
		return nil, false
	}
	if entry.generation != c.generations[generationKey(key.userID, key.agentID)] {
		c.removeLocked(entry)
		return nil, false
	}
	c.ll.MoveToFront(entry.elem)
	return entry.ids, true
}

// Put stores ids under key, stamped with the tenant's current generation.
func (c *Cache) Put(key cacheKey, ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		existing.ids = ids
		existing.generation = c.generations[generationKey(key.userID, key.agentID)]
		existing.expiresAt = time.Now().Add(c.ttl)
		c.ll.MoveToFront(existing.elem)
		return
	}

	entry := &cacheEntry{
		key:        key,
		ids:        ids,
		generation: c.generations[generationKey(key.userID, key.agentID)],
		expiresAt:  time.Now().Add(c.ttl),
	}
	entry.elem = c.ll.PushFront(entry)
	c.items[key] = entry

	for c.capacity > 0 && c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*cacheEntry))
	}
}

func (c *Cache) removeLocked(entry *cacheEntry) {
	c.ll.Remove(entry.elem)
	delete(c.items, entry.key)
}

// Invalidate bumps the generation counter for (userId, agentId), making
// every entry cached under the prior generation an implicit miss without
// having to scan or enumerate keys. Any store/update/delete for that
// tenant calls this.
func (c *Cache) Invalidate(userID, agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[generationKey(userID, agentID)]++
}

// NormalizeQuery lowercases and collapses whitespace, so cosmetically
// distinct queries share a cache key.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// ConfigHash derives a short, stable hash of the recall options that
// affect result identity (weights, limits, flags), for cache keying.
func ConfigHash(opts Options) string {
	s := fmt.Sprintf("%v|%d|%t|%d|%t|%f|%v",
		opts.MemoryTypes, opts.Limit, opts.UseConnections,
		opts.ConnectionHops, opts.BoostCentralMemories, opts.MinRelevanceThreshold, opts.Weights)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func newCacheKey(userID, agentID, query string, opts Options) cacheKey {
	return cacheKey{
		userID:          userID,
		agentID:         agentID,
		normalizedQuery: NormalizeQuery(query),
		configHash:      ConfigHash(opts),
	}
}
