package portal

import (
	"context"
	"sync"
	"time"
)

// Cache defines the interface for caching user records to reduce storage
// backend load on read-heavy paths like entitlement middleware.
type Cache interface {
	// GetUser retrieves a cached user
	// Returns the user and true if found, nil and false otherwise
	GetUser(userID string) (*User, bool)

	// SetUser stores a user in the cache with TTL
	SetUser(user *User, ttl time.Duration)

	// InvalidateUser removes a user from the cache
	InvalidateUser(userID string)

	// Clear removes all entries from the cache
	Clear()

	// Stats returns cache statistics
	Stats() CacheStats
}

// CacheStats holds cache performance statistics
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// cacheEntry wraps a cached user with expiration time and access time for LRU
type cacheEntry struct {
	user       *User
	expiration time.Time
	accessTime time.Time // For LRU eviction
	sequence   int64     // For tiebreaking when access times are equal
}

func (e *cacheEntry) isExpired() bool {
	return time.Now().After(e.expiration)
}

// LRUCache implements Cache using an in-memory LRU cache with TTL support
type LRUCache struct {
	entries    map[string]*cacheEntry
	maxEntries int
	mu         sync.Mutex
	hits       int64
	misses     int64
	evictions  int64
	sequence   int64 // For tiebreaking when access times are equal
}

// NewLRUCache creates a new LRU cache with the specified maximum size
func NewLRUCache(maxEntries int) *LRUCache {
	if maxEntries <= 0 {
		maxEntries = 1000 // default
	}

	return &LRUCache{
		entries:    make(map[string]*cacheEntry, maxEntries),
		maxEntries: maxEntries,
	}
}

func (c *LRUCache) GetUser(userID string) (*User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[userID]
	if !exists || entry.isExpired() {
		c.misses++
		return nil, false
	}

	// Update access time for LRU
	entry.accessTime = time.Now()

	c.hits++
	// Return a copy to prevent external modifications
	user := *entry.user
	return &user, true
}

func (c *LRUCache) SetUser(user *User, ttl time.Duration) {
	if user == nil || user.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	_, exists := c.entries[user.ID]

	// Evict if at capacity and entry doesn't exist
	if len(c.entries) >= c.maxEntries && !exists {
		// Evict least recently used (oldest accessTime, then oldest sequence)
		var oldestKey string
		var oldestTime time.Time
		var oldestSeq int64
		first := true
		for key, entry := range c.entries {
			if first || entry.accessTime.Before(oldestTime) ||
				(entry.accessTime.Equal(oldestTime) && entry.sequence < oldestSeq) {
				oldestKey = key
				oldestTime = entry.accessTime
				oldestSeq = entry.sequence
				first = false
			}
		}
		if oldestKey != "" {
			delete(c.entries, oldestKey)
			c.evictions++
		}
	}

	stored := *user
	seq := c.sequence
	c.sequence++
	c.entries[user.ID] = &cacheEntry{
		user:       &stored,
		expiration: now.Add(ttl),
		accessTime: now,
		sequence:   seq,
	}
}

func (c *LRUCache) InvalidateUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry, c.maxEntries)
}

func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}

// CachedStorage wraps a Storage with a read-through user cache. Reads serve
// from the cache within the TTL; every write path invalidates the entry so a
// webhook-applied status change is visible on the next read.
//
// Stale reads are bounded by the TTL. Keep it short (seconds to a minute)
// when entitlement checks sit in the request path.
type CachedStorage struct {
	storage Storage
	cache   Cache
	ttl     time.Duration
}

// NewCachedStorage creates a caching wrapper around storage.
// If cache is nil an LRUCache with default size is used; if ttl is zero it
// defaults to one minute.
func NewCachedStorage(storage Storage, cache Cache, ttl time.Duration) *CachedStorage {
	if cache == nil {
		cache = NewLRUCache(0)
	}
	if ttl == 0 {
		ttl = time.Minute
	}
	return &CachedStorage{
		storage: storage,
		cache:   cache,
		ttl:     ttl,
	}
}

func (s *CachedStorage) GetUser(ctx context.Context, userID string) (*User, error) {
	if user, ok := s.cache.GetUser(userID); ok {
		return user, nil
	}

	user, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cache.SetUser(user, s.ttl)
	return user, nil
}

func (s *CachedStorage) PutUser(ctx context.Context, user *User) error {
	if err := s.storage.PutUser(ctx, user); err != nil {
		return err
	}
	if user != nil {
		s.cache.InvalidateUser(user.ID)
	}
	return nil
}

func (s *CachedStorage) ApplyBillingPatch(ctx context.Context, patch *SubscriptionPatch) error {
	if err := s.storage.ApplyBillingPatch(ctx, patch); err != nil {
		return err
	}
	s.cache.InvalidateUser(patch.UserID)
	return nil
}

func (s *CachedStorage) SetBillingCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	id, err := s.storage.SetBillingCustomerID(ctx, userID, customerID)
	if err != nil {
		return "", err
	}
	s.cache.InvalidateUser(userID)
	return id, nil
}

func (s *CachedStorage) RecordEvent(ctx context.Context, event *BillingEvent) error {
	return s.storage.RecordEvent(ctx, event)
}

func (s *CachedStorage) HasEvent(ctx context.Context, eventID string) (bool, error) {
	return s.storage.HasEvent(ctx, eventID)
}

// CacheStats exposes the underlying cache statistics.
func (s *CachedStorage) CacheStats() CacheStats {
	return s.cache.Stats()
}
