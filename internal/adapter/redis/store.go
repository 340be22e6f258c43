package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	sequenceKey = "matches:seq"
	summaryKey  = "matches:summary"
)

func matchKey(id int) string {
	return "match:" + strconv.Itoa(id)
}

// putScript writes the document and its list summary together and keeps the
// id sequence at or above every stored id.
// KEYS: [1]=match key, [2]=summary hash, [3]=sequence
// ARGV: [1]=id, [2]=document, [3]=summary
var putScript = goredis.NewScript(`
redis.call('SET', KEYS[1], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
local seq = tonumber(redis.call('GET', KEYS[3])) or 0
if tonumber(ARGV[1]) > seq then
  redis.call('SET', KEYS[3], ARGV[1])
end
return 1
`)

// Store implements domain.MatchStore with one JSON string per match.
type Store struct {
	rdb *goredis.Client
}

func NewStore(rdb *goredis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Get(ctx context.Context, id int) (*domain.MatchLiveState, error) {
	data, err := s.rdb.Get(ctx, matchKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load match %d: %w", id, err)
	}

	var m domain.MatchLiveState
	if err := json.Unmarshal(data, &m); err != nil {
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
	summary, err := json.Marshal(match.Summary())
	if err != nil {
		return fmt.Errorf("failed to encode match %d: %w", match.ID, err)
	}

	keys := []string{matchKey(match.ID), summaryKey, sequenceKey}
	if err := putScript.Run(ctx, s.rdb, keys, match.ID, doc, summary).Err(); err != nil {
		return fmt.Errorf("failed to store match %d: %w", match.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id int) (bool, error) {
	pipe := s.rdb.TxPipeline()
	del := pipe.Del(ctx, matchKey(id))
	pipe.HDel(ctx, summaryKey, strconv.Itoa(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to delete match %d: %w", id, err)
	}
	return del.Val() > 0, nil
}

func (s *Store) List(ctx context.Context) ([]domain.MatchSummary, error) {
	entries, err := s.rdb.HGetAll(ctx, summaryKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}

	list := make([]domain.MatchSummary, 0, len(entries))
	for field, raw := range entries {
		var summary domain.MatchSummary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			return nil, fmt.Errorf("failed to decode summary %s: %w", field, err)
		}
		list = append(list, summary)
	}
	domain.SortSummaries(list)
	return list, nil
}

// Create takes the next id from the sequence and stores a copy under it.
func (s *Store) Create(ctx context.Context, match *domain.MatchLiveState) (int, error) {
	next, err := s.rdb.Incr(ctx, sequenceKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate match id: %w", err)
	}

	stored := match.Clone()
	stored.ID = int(next)
	if err := s.Put(ctx, stored); err != nil {
		return 0, err
	}
	return stored.ID, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
