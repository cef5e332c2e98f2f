package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-assess/internal/exam"
)

// unreachable points at a closed port so every Redis call fails fast.
func unreachable() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestStore_FallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	rdb := unreachable()
	defer rdb.Close()

	next := exam.NewInMemoryStore()
	s := NewStore(next, rdb, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	def := exam.TestDefinition{ID: "t1", Title: "Algebra", MaxAttempts: 1, ValidationType: exam.ValidationAutomatic}
	require.NoError(t, s.PutTest(ctx, def))

	got, err := s.GetTest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Algebra", got.Title)

	_, err = s.GetTest(ctx, "missing")
	assert.ErrorIs(t, err, exam.ErrTestNotFound)

	assert.Error(t, s.Ping(ctx))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "assess:test:abc", Key("abc"))
}
