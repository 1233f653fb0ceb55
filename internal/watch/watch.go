// Package watch is the polling/aggregation engine: it pulls character
// timelines, filters them against item eligibility and rarity rules,
// deduplicates what was already reported, and hands the survivors to the
// notification sink - either one announcement per event (near-real-time
// path) or folded into the ranked daily report (aggregation path).
package watch

import (
	"context"
	"time"

	"dfobot/internal/fetch"
	"dfobot/internal/itemcache"
	"dfobot/internal/neople"
	"dfobot/internal/sink"
	"dfobot/internal/storage"
	logx "dfobot/pkg/logx"
)

type Config struct {
	// TargetLevel is the equip level an item must resolve to in order to
	// qualify (current endgame gear level).
	TargetLevel int

	// Rarities is the allow-set for near-real-time announcements.
	Rarities []string

	// Weights maps rarity to its score multiplier for the daily ranking.
	// Rarities absent from the table are not counted.
	Weights map[string]int

	// Lookback substitutes for the missing lower bound on a character's
	// very first poll.
	Lookback time.Duration

	// FetchConcurrency bounds concurrent per-character fetch+retry
	// sequences within one cycle; the notify and daily passes each own a
	// gate of this size, so a daily pass grinding through its long retry
	// ceiling cannot starve the notify polls. ItemConcurrency bounds
	// concurrent eligibility lookups within one timeline. Item lookups
	// are cheaper but more numerous, so their gate is sized smaller.
	FetchConcurrency int
	ItemConcurrency  int
}

func (c *Config) applyDefaults() {
	if c.TargetLevel <= 0 {
		c.TargetLevel = 115
	}
	if len(c.Rarities) == 0 {
		c.Rarities = []string{neople.RarityEpic, neople.RarityPrimeval}
	}
	if len(c.Weights) == 0 {
		c.Weights = map[string]int{
			neople.RarityPrimeval:  3,
			neople.RarityEpic:      2,
			neople.RarityLegendary: 1,
		}
	}
	if c.Lookback <= 0 {
		c.Lookback = 30 * time.Minute
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 4
	}
	if c.ItemConcurrency <= 0 {
		c.ItemConcurrency = 2
	}
}

// Timeline is the fetch contract both retriers satisfy.
type Timeline interface {
	Timeline(ctx context.Context, serverID, characterID string, start, end time.Time) ([]neople.TimelineEvent, error)
}

// Watcher owns the shared mutable state of both scheduler cycles: the item
// cache, the last-notified map and the admission gates. Construct once,
// inject everywhere.
type Watcher struct {
	cfg Config

	store   storage.Store
	cache   *itemcache.Cache
	notifyF Timeline // short retry ceiling
	dailyF  Timeline // long retry ceiling
	out     sink.Sink

	fetchGate *fetch.Gate
	dailyGate *fetch.Gate
	itemGate  *fetch.Gate

	seen     *lastSeen
	allowSet map[string]bool

	log logx.Logger
	now func() time.Time
}

func New(cfg Config, store storage.Store, cache *itemcache.Cache, notifyFetch, dailyFetch Timeline, out sink.Sink, log logx.Logger) *Watcher {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	allow := make(map[string]bool, len(cfg.Rarities))
	for _, r := range cfg.Rarities {
		allow[r] = true
	}
	return &Watcher{
		cfg:       cfg,
		store:     store,
		cache:     cache,
		notifyF:   notifyFetch,
		dailyF:    dailyFetch,
		out:       out,
		fetchGate: fetch.NewGate(cfg.FetchConcurrency),
		dailyGate: fetch.NewGate(cfg.FetchConcurrency),
		itemGate:  fetch.NewGate(cfg.ItemConcurrency),
		seen:      newLastSeen(),
		allowSet:  allow,
		log:       log,
		now:       time.Now,
	}
}
