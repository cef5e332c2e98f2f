// Package cache puts a Redis read-through cache in front of test
// definitions, which are read on every learner request and rarely change.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mind-engage/mindengage-assess/internal/exam"
)

const keyPrefix = "assess:test:"

// Store decorates an exam.Store. Redis failures degrade to the wrapped
// store; they are logged and never returned.
type Store struct {
	exam.Store
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewStore(next exam.Store, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{Store: next, rdb: rdb, ttl: ttl, log: log}
}

func Key(testID string) string { return keyPrefix + testID }

func (s *Store) GetTest(ctx context.Context, id string) (exam.TestDefinition, error) {
	raw, err := s.rdb.Get(ctx, Key(id)).Bytes()
	switch {
	case err == nil:
		var t exam.TestDefinition
		if jerr := json.Unmarshal(raw, &t); jerr == nil {
			return t, nil
		}
		s.log.Warn("cache: dropping undecodable entry", "test_id", id)
		s.invalidate(ctx, id)
	case !errors.Is(err, redis.Nil):
		s.log.Warn("cache: get failed", "test_id", id, "err", err)
	}

	t, err := s.Store.GetTest(ctx, id)
	if err != nil {
		return exam.TestDefinition{}, err
	}
	if buf, err := json.Marshal(t); err == nil {
		if err := s.rdb.Set(ctx, Key(id), buf, s.ttl).Err(); err != nil {
			s.log.Warn("cache: set failed", "test_id", id, "err", err)
		}
	}
	return t, nil
}

// PutTest writes through and drops the cached copy.
func (s *Store) PutTest(ctx context.Context, t exam.TestDefinition) error {
	if err := s.Store.PutTest(ctx, t); err != nil {
		return err
	}
	s.invalidate(ctx, t.ID)
	return nil
}

func (s *Store) invalidate(ctx context.Context, id string) {
	if err := s.rdb.Del(ctx, Key(id)).Err(); err != nil {
		s.log.Warn("cache: delete failed", "test_id", id, "err", err)
	}
}

// Ping reports whether Redis is reachable, for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }
