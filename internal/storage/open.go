package storage

import (
	"context"
	"errors"
	"strings"

	logx "dfobot/pkg/logx"
)

// Store is the persistence API used by the watcher and the sink.
//
// All writes are idempotent upserts. Reads report "not found" as a
// distinguishable ok=false, never as an error.
type Store interface {
	// Character registry (read side; SaveCharacter supports registration tooling).
	Characters(ctx context.Context) ([]Character, error)
	CharactersByAdventure(ctx context.Context) (map[string][]Character, error)
	SaveCharacter(ctx context.Context, c Character) error

	// Item eligibility levels. Levels are immutable once written.
	ItemLevel(ctx context.Context, itemID string) (level int, ok bool, err error)
	PutItemLevel(ctx context.Context, itemID string, level int) error
	AllItemLevels(ctx context.Context) (map[string]int, error)

	// Per-character watermarks, stored as YYYYMMDDThhmm stamps.
	Watermark(ctx context.Context, characterID string) (stamp string, ok bool, err error)
	PutWatermark(ctx context.Context, characterID, stamp string) error

	// Aggregation run log. Append-only; only the newest entry is read.
	LastAggregationRun(ctx context.Context) (stamp string, ok bool, err error)
	AppendAggregationRun(ctx context.Context, stamp string) error

	// Output channel routing. Scope is an adventure name or DefaultChannelScope.
	OutputChannel(ctx context.Context, scope string) (ref ChatRef, ok bool, err error)
	SetOutputChannel(ctx context.Context, scope string, ref ChatRef) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
