// Package sqlite stores match records in a single-file SQLite database,
// for single-instance deployments that still want durability.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS matches (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    date          TEXT    NOT NULL DEFAULT '',
    opponent      TEXT    NOT NULL DEFAULT '',
    doc           TEXT    NOT NULL,
    revision      INTEGER NOT NULL DEFAULT 0,
    updated_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_matches_listing ON matches (date, opponent, id);
`

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	if path != ":memory:" {
		if parent := filepath.Dir(path); parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to configure sqlite: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure sqlite schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, id int) (*domain.MatchLiveState, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM matches WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load match %d: %w", id, err)
	}

	var m domain.MatchLiveState
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("failed to decode match %d: %w", id, err)
	}
	m.ID = id
	m.Normalize()
	return &m, nil
}

func (s *Store) Put(ctx context.Context, match *domain.MatchLiveState) error {
	doc, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("failed to encode match %d: %w", match.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO matches (id, date, opponent, doc, revision, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    date = excluded.date,
    opponent = excluded.opponent,
    doc = excluded.doc,
    revision = excluded.revision,
    updated_at_ms = excluded.updated_at_ms`,
		match.ID, match.Date, match.Opponent, string(doc), match.Revision, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store match %d: %w", match.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM matches WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete match %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete match %d: %w", id, err)
	}
	return n > 0, nil
}

func (s *Store) List(ctx context.Context) ([]domain.MatchSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, date, opponent FROM matches ORDER BY date, opponent, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	list := []domain.MatchSummary{}
	for rows.Next() {
		var m domain.MatchSummary
		if err := rows.Scan(&m.ID, &m.Date, &m.Opponent); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// Create inserts match and rewrites its document with the assigned id.
func (s *Store) Create(ctx context.Context, match *domain.MatchLiveState) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO matches (date, opponent, doc, revision, updated_at_ms) VALUES (?, ?, '{}', ?, ?)`,
		match.Date, match.Opponent, match.Revision, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create match: %w", err)
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read match id: %w", err)
	}
	id := int(lastID)

	stored := match.Clone()
	stored.ID = id
	doc, err := json.Marshal(stored)
	if err != nil {
		return 0, fmt.Errorf("failed to encode match %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE matches SET doc = ? WHERE id = ?`, string(doc), id); err != nil {
		return 0, fmt.Errorf("failed to create match: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit match %d: %w", id, err)
	}
	return id, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
