// Package expiry runs the periodic deadline sweep that closes attempts whose
// learners stopped interacting.
package expiry

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSpec = "@every 30s"

// Expirer is satisfied by *exam.Engine.
type Expirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

type Sweeper struct {
	c       *cron.Cron
	exp     Expirer
	log     *slog.Logger
	timeout time.Duration
}

// New schedules the sweep. Ticks never overlap: a tick that fires while the
// previous sweep is still running is skipped.
func New(spec string, exp Expirer, log *slog.Logger) (*Sweeper, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Sweeper{
		c:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		exp:     exp,
		log:     log,
		timeout: 2 * time.Minute,
	}
	if _, err := s.c.AddFunc(spec, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.log.Info("expiry sweeper started")
	s.c.Start()
}

// Stop halts scheduling and waits for a running sweep, or until ctx ends.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	start := time.Now()
	n, err := s.exp.ExpireOverdue(ctx)
	if err != nil {
		s.log.Error("expiry sweep failed", "err", err, "expired", n)
		return
	}
	if n > 0 {
		s.log.Info("expiry sweep", "expired", n, "took", time.Since(start))
	}
}
