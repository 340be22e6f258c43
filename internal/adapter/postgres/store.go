package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements domain.MatchStore. The full record lives in the doc
// column; date and opponent are copied out for listing.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Get(ctx context.Context, id int) (*domain.MatchLiveState, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM matches WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load match %d: %w", id, err)
	}
	return decode(id, doc)
}

func (s *Store) Put(ctx context.Context, match *domain.MatchLiveState) error {
	doc, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("failed to encode match %d: %w", match.ID, err)
	}

	var inserted bool
	err = s.pool.QueryRow(ctx, `
		INSERT INTO matches (id, date, opponent, doc, revision, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET date = EXCLUDED.date,
		    opponent = EXCLUDED.opponent,
		    doc = EXCLUDED.doc,
		    revision = EXCLUDED.revision,
		    updated_at = NOW()
		RETURNING (xmax = 0)`,
		match.ID, match.Date, match.Opponent, doc, match.Revision,
	).Scan(&inserted)
	if err != nil {
		return fmt.Errorf("failed to store match %d: %w", match.ID, err)
	}

	// An explicit id bypasses the serial; keep it ahead of the rows.
	if inserted {
		_, err = s.pool.Exec(ctx,
			`SELECT setval(pg_get_serial_sequence('matches', 'id'), GREATEST((SELECT MAX(id) FROM matches), 1))`)
		if err != nil {
			return fmt.Errorf("failed to advance match id sequence: %w", err)
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM matches WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete match %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) List(ctx context.Context) ([]domain.MatchSummary, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, date, opponent FROM matches ORDER BY date, opponent, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}

	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MatchSummary, error) {
		var m domain.MatchSummary
		err := row.Scan(&m.ID, &m.Date, &m.Opponent)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	return list, nil
}

// Create inserts match under a fresh serial id. The document is written in
// the same transaction so it always carries its own id.
func (s *Store) Create(ctx context.Context, match *domain.MatchLiveState) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int
	err = tx.QueryRow(ctx,
		`INSERT INTO matches (date, opponent, doc, revision) VALUES ($1, $2, '{}'::jsonb, $3) RETURNING id`,
		match.Date, match.Opponent, match.Revision,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create match: %w", err)
	}

	stored := match.Clone()
	stored.ID = id
	doc, err := json.Marshal(stored)
	if err != nil {
		return 0, fmt.Errorf("failed to encode match %d: %w", id, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE matches SET doc = $2 WHERE id = $1`, id, doc); err != nil {
		return 0, fmt.Errorf("failed to create match: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit match %d: %w", id, err)
	}
	return id, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func decode(id int, doc []byte) (*domain.MatchLiveState, error) {
	var m domain.MatchLiveState
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("failed to decode match %d: %w", id, err)
	}
	m.ID = id
	m.Normalize()
	return &m, nil
}
