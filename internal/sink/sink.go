// Package sink defines the outbound notification contract.
//
// Delivery is fire-and-forget: the watcher's responsibility ends once the
// sink accepted the call. Failed deliveries are the adapter's problem to
// log; the watcher never retries them.
package sink

import (
	"context"
	"time"
)

// Announcement is a single item-acquisition notice.
type Announcement struct {
	AdventureName string
	CharacterName string
	ItemName      string
	ItemRarity    string
	OccurredAt    time.Time
}

// RankEntry is one adventure's line in the daily report.
type RankEntry struct {
	AdventureName string
	Score         int
	Counts        map[string]int // rarity -> count
}

// Report is the ranked daily acquisition report, ordered best-first.
type Report struct {
	GeneratedAt time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Entries     []RankEntry
}

type Sink interface {
	AnnounceItem(ctx context.Context, a Announcement) error
	PublishRanking(ctx context.Context, r Report) error
}
