// Package storage provides the bot's persistence layer (SQLite).
//
// It currently holds:
//   - The character registry (read-only to the watcher, grouped by adventure)
//   - Item eligibility levels (the durable tier of the item cache)
//   - Per-character poll watermarks
//   - The aggregation run log (append-only, newest entry wins)
//   - Output channel routing per adventure
package storage
