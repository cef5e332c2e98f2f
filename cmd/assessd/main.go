package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	api "github.com/mind-engage/mindengage-assess/internal/api/http"
	"github.com/mind-engage/mindengage-assess/internal/audit"
	auth "github.com/mind-engage/mindengage-assess/internal/auth/middleware"
	"github.com/mind-engage/mindengage-assess/internal/cache"
	"github.com/mind-engage/mindengage-assess/internal/config"
	"github.com/mind-engage/mindengage-assess/internal/db"
	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/expiry"
	"github.com/mind-engage/mindengage-assess/internal/grading"
	"github.com/mind-engage/mindengage-assess/internal/storage"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("assessd exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	// --- Storage ---
	var (
		store  exam.Store
		events audit.Log
		checks []func(context.Context) error
	)
	if cfg.DBDriver == "memory" {
		store, events = exam.NewInMemoryStore(), audit.NewMemoryLog()
	} else {
		octx, cancel := context.WithTimeout(ctx, 10*time.Second)
		dbh, err := db.Open(octx, db.Driver(cfg.DBDriver), cfg.DBDSN)
		cancel()
		if err != nil {
			return err
		}
		defer dbh.Close()
		store = exam.NewSQLStore(dbh)
		events = audit.NewEventRepo(dbh, string(cfg.Mode))
		checks = append(checks, dbh.PingContext)
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		cached := cache.NewStore(store, rdb, time.Duration(cfg.RedisTTLSec)*time.Second, log)
		store = cached
		checks = append(checks, cached.Ping)
	}

	blobs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		return err
	}

	engine := exam.NewEngine(store,
		exam.WithGrader(grading.NewDefaultGrader(grading.WithPartialMulti(cfg.ScoringPartialMulti))),
		exam.WithAuditor(events),
		exam.WithLogger(log),
	)

	sweeper, err := expiry.New(cfg.ExpirySweepSpec, engine, log)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sweeper.Stop(sctx)
	}()

	// --- HTTP ---
	opts := api.RouterOptions{
		Auth:        auth.NewAuthService(cfg.AuthHMACSecret),
		CORSOrigins: cfg.CORSOrigins(),
		Ready: func(ctx context.Context) error {
			for _, c := range checks {
				if err := c(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}
	// Local login is on in offline mode; online it needs ENABLE_LOCAL_AUTH.
	if cfg.EnableLocalAuth {
		opts.Login = &auth.Login{
			AdminUser:     cfg.AdminUser,
			AdminPassHash: cfg.AdminPassHash,
			DevLogin:      cfg.Mode == config.ModeOffline,
		}
	}
	h := api.NewRouter(&api.API{Engine: engine, Store: store, Blobs: blobs, Events: events, Log: log}, opts)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr, "mode", cfg.Mode, "db", cfg.DBDriver, "redis", cfg.RedisAddr != "")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	o := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, o))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, o))
}
