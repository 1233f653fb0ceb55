package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "dfobot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- characters ----

func (s *sqliteStore) Characters(ctx context.Context) ([]Character, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT character_id, character_name, server_id, adventure_name, job_grow_name, level
		 FROM characters ORDER BY adventure_name, character_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		var c Character
		var jobGrow sql.NullString
		var level sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Name, &c.ServerID, &c.AdventureName, &jobGrow, &level); err != nil {
			return nil, err
		}
		c.JobGrowName = jobGrow.String
		c.Level = int(level.Int64)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CharactersByAdventure(ctx context.Context) (map[string][]Character, error) {
	all, err := s.Characters(ctx)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]Character)
	for _, c := range all {
		grouped[c.AdventureName] = append(grouped[c.AdventureName], c)
	}
	return grouped, nil
}

func (s *sqliteStore) SaveCharacter(ctx context.Context, c Character) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO characters(character_id, character_name, server_id, adventure_name, job_grow_name, level)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(character_id) DO UPDATE SET
		   character_name=excluded.character_name,
		   server_id=excluded.server_id,
		   adventure_name=excluded.adventure_name,
		   job_grow_name=excluded.job_grow_name,
		   level=excluded.level`,
		c.ID, c.Name, c.ServerID, c.AdventureName, nullStr(c.JobGrowName), c.Level,
	)
	return err
}

// ---- item levels ----

func (s *sqliteStore) ItemLevel(ctx context.Context, itemID string) (int, bool, error) {
	var level int
	err := s.db.QueryRowContext(ctx,
		`SELECT available_level FROM item_levels WHERE item_id = ?`, itemID).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return level, true, nil
}

func (s *sqliteStore) PutItemLevel(ctx context.Context, itemID string, level int) error {
	if itemID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO item_levels(item_id, available_level) VALUES(?,?)
		 ON CONFLICT(item_id) DO UPDATE SET available_level=excluded.available_level`,
		itemID, level,
	)
	return err
}

func (s *sqliteStore) AllItemLevels(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, available_level FROM item_levels`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var level int
		if err := rows.Scan(&id, &level); err != nil {
			return nil, err
		}
		out[id] = level
	}
	return out, rows.Err()
}

// ---- watermarks ----

func (s *sqliteStore) Watermark(ctx context.Context, characterID string) (string, bool, error) {
	var stamp string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_checked_at FROM watermarks WHERE character_id = ?`, characterID).Scan(&stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return stamp, true, nil
}

func (s *sqliteStore) PutWatermark(ctx context.Context, characterID, stamp string) error {
	if characterID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watermarks(character_id, last_checked_at) VALUES(?,?)
		 ON CONFLICT(character_id) DO UPDATE SET last_checked_at=excluded.last_checked_at`,
		characterID, stamp,
	)
	return err
}

// ---- aggregation runs ----

func (s *sqliteStore) LastAggregationRun(ctx context.Context) (string, bool, error) {
	var stamp string
	err := s.db.QueryRowContext(ctx,
		`SELECT ran_at FROM aggregation_runs ORDER BY id DESC LIMIT 1`).Scan(&stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return stamp, true, nil
}

func (s *sqliteStore) AppendAggregationRun(ctx context.Context, stamp string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO aggregation_runs(ran_at) VALUES(?)`, stamp)
	return err
}

// ---- output channels ----

func (s *sqliteStore) OutputChannel(ctx context.Context, scope string) (ChatRef, bool, error) {
	var ref ChatRef
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, thread_id FROM output_channels WHERE scope = ?`, scope).
		Scan(&ref.ChatID, &ref.ThreadID)
	if errors.Is(err, sql.ErrNoRows) {
		return ChatRef{}, false, nil
	}
	if err != nil {
		return ChatRef{}, false, err
	}
	return ref, true, nil
}

func (s *sqliteStore) SetOutputChannel(ctx context.Context, scope string, ref ChatRef) error {
	if scope == "" {
		scope = DefaultChannelScope
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO output_channels(scope, chat_id, thread_id) VALUES(?,?,?)
		 ON CONFLICT(scope) DO UPDATE SET chat_id=excluded.chat_id, thread_id=excluded.thread_id`,
		scope, ref.ChatID, ref.ThreadID,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
