package storage

import (
	"time"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
//
// Anything else is an error; the watcher cannot run without its
// watermarks and item levels surviving restarts.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Character is one registered character. Registration happens outside the
// watcher (slash command tooling writes these rows); the watcher only reads.
type Character struct {
	ID            string
	Name          string
	ServerID      string
	AdventureName string
	JobGrowName   string
	Level         int
}

// ChatRef addresses an output channel on the chat platform.
type ChatRef struct {
	ChatID   int64
	ThreadID int
}

// DefaultChannelScope is the output_channels row consulted when an
// adventure has no channel of its own.
const DefaultChannelScope = "default"
