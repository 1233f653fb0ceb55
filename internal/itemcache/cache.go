// Package itemcache resolves item ids to their equip ("available") level.
//
// Lookups go memory -> store -> remote API. Levels are immutable, so the
// cache never invalidates and never evicts; the item universe is small
// enough that unbounded growth is fine. Remote failures are NOT cached:
// the next occurrence of the item retries the lookup.
package itemcache

import (
	"context"
	"sync"

	logx "dfobot/pkg/logx"
)

// LevelStore is the persistent tier (item_levels table).
type LevelStore interface {
	ItemLevel(ctx context.Context, itemID string) (int, bool, error)
	PutItemLevel(ctx context.Context, itemID string, level int) error
	AllItemLevels(ctx context.Context) (map[string]int, error)
}

// LevelFetcher is the remote tier (item metadata endpoint).
type LevelFetcher interface {
	ItemAvailableLevel(ctx context.Context, itemID string) (int, error)
}

// Cache is safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	levels map[string]int

	store   LevelStore
	fetcher LevelFetcher
	log     logx.Logger
}

func New(store LevelStore, fetcher LevelFetcher, log logx.Logger) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{
		levels:  map[string]int{},
		store:   store,
		fetcher: fetcher,
		log:     log,
	}
}

// Preload reads the whole persistent tier into memory. Called once at
// startup so already-known items never hit the remote API again.
func (c *Cache) Preload(ctx context.Context) error {
	all, err := c.store.AllItemLevels(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	for id, level := range all {
		c.levels[id] = level
	}
	n := len(c.levels)
	c.mu.Unlock()

	c.log.Info("item level cache preloaded", logx.Int("items", n))
	return nil
}

// Resolve returns the available level for an item, or ok=false when the
// level cannot be determined right now (callers treat that as ineligible).
func (c *Cache) Resolve(ctx context.Context, itemID string) (int, bool) {
	if itemID == "" {
		return 0, false
	}

	c.mu.Lock()
	level, hit := c.levels[itemID]
	c.mu.Unlock()
	if hit {
		return level, true
	}

	// Persistent tier.
	level, ok, err := c.store.ItemLevel(ctx, itemID)
	if err != nil {
		c.log.Warn("item level store read failed", logx.String("item_id", itemID), logx.Err(err))
	} else if ok {
		c.remember(itemID, level)
		return level, true
	}

	// Remote tier. Store first, then memory, so a reader that sees the
	// memory entry can rely on the persistent tier agreeing.
	level, err = c.fetcher.ItemAvailableLevel(ctx, itemID)
	if err != nil {
		c.log.Warn("item level lookup failed", logx.String("item_id", itemID), logx.Err(err))
		return 0, false
	}
	if err := c.store.PutItemLevel(ctx, itemID, level); err != nil {
		c.log.Warn("item level store write failed", logx.String("item_id", itemID), logx.Err(err))
	}
	c.remember(itemID, level)
	return level, true
}

func (c *Cache) remember(itemID string, level int) {
	c.mu.Lock()
	c.levels[itemID] = level
	c.mu.Unlock()
}

// Len reports the in-memory entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.levels)
}
