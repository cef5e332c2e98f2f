package expiry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExpirer struct {
	calls atomic.Int32
	err   error
}

func (c *countingExpirer) ExpireOverdue(context.Context) (int, error) {
	c.calls.Add(1)
	return 2, c.err
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNew_RejectsBadSpec(t *testing.T) {
	_, err := New("every now and then", &countingExpirer{}, quiet())
	assert.Error(t, err)
}

func TestSweeper_RunCallsExpirer(t *testing.T) {
	exp := &countingExpirer{}
	s, err := New("", exp, quiet())
	require.NoError(t, err)

	s.run()
	exp.err = errors.New("db down")
	s.run()
	assert.Equal(t, int32(2), exp.calls.Load())
}

func TestSweeper_Schedules(t *testing.T) {
	exp := &countingExpirer{}
	s, err := New("@every 1s", exp, quiet())
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return exp.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
