package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"family_dash/internal/api"
	"family_dash/internal/bot"
	"family_dash/internal/config"
	"family_dash/internal/fetcher"
	"family_dash/internal/metrics"
	"family_dash/internal/scheduler"
	"family_dash/internal/settings"
	"family_dash/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "dashboard",
		Usage: "Family dashboard backend: calendar feeds, notes and settings.",
		Commands: []*cli.Command{
			serveCommand(),
			refreshCommand(),
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("dashboard failed", "error", err)
		os.Exit(1)
	}
}

// components holds what both commands need.
type components struct {
	cfg   *config.Config
	log   *slog.Logger
	store *storage.SQLite
	sched *scheduler.Scheduler
	reg   *prometheus.Registry
}

func setup(ctx context.Context) (*components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.LogLevel)

	if cfg.DatabasePath != ":memory:" {
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create data directory %s: %w", dir, err)
			}
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}

	if err := settings.New(store).Seed(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("seed settings: %w", err)
	}
	if cfg.FeedsFile != "" {
		if err := seedFeeds(ctx, store, cfg.FeedsFile, log); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := fetcher.New(&http.Client{})
	f.SetTimeout(cfg.FetchTimeout)

	sched := scheduler.New(store, f, log)
	if err := sched.SetSchedule(cfg.RefreshSchedule); err != nil {
		_ = store.Close()
		return nil, err
	}
	sched.SetConcurrency(cfg.RefreshConcurrency)
	sched.SetMetrics(metrics.New(reg))

	return &components{cfg: cfg, log: log, store: store, sched: sched, reg: reg}, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, the refresh scheduler and the optional Telegram bot.",
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.store.Close() }()

			srv := &http.Server{
				Addr:              a.cfg.ListenAddr,
				Handler:           api.NewServer(a.store, settings.New(a.store), a.sched, a.reg, a.log).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.sched.Run(ctx)
			})
			g.Go(func() error {
				a.log.Info("http server listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			if a.cfg.BotEnabled() {
				b, err := bot.New(a.cfg.TelegramBotToken, a.store, a.sched, a.cfg, a.log)
				if err != nil {
					a.log.Error("create bot, continuing without it", "error", err)
				} else {
					g.Go(func() error {
						a.log.Info("starting telegram bot")
						b.Run(ctx)
						return nil
					})
				}
			}

			err = g.Wait()
			a.log.Info("dashboard stopped")
			return err
		},
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Refresh every active feed once and exit.",
		Action: func(c *cli.Context) error {
			a, err := setup(c.Context)
			if err != nil {
				return err
			}
			defer func() { _ = a.store.Close() }()

			agg := a.sched.RefreshAll(c.Context)
			for _, r := range agg.Results {
				if r.OK() {
					fmt.Printf("#%d %s: %d events, %d new notes\n", r.FeedID, r.Name, r.Events, r.Notes)
				} else {
					fmt.Printf("#%d %s: %v\n", r.FeedID, r.Name, r.Err)
				}
			}
			if err := agg.Err(); err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			return nil
		},
	}
}

// seedFeeds registers the feeds of a YAML file whose URL is not known yet.
func seedFeeds(ctx context.Context, store storage.Storage, path string, log *slog.Logger) error {
	feeds, err := config.LoadFeeds(path)
	if err != nil {
		return err
	}
	existing, err := store.ListFeeds(ctx)
	if err != nil {
		return fmt.Errorf("list feeds: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, f := range existing {
		known[f.URL] = true
	}

	for i := range feeds {
		if known[feeds[i].URL] {
			continue
		}
		if err := store.CreateFeed(ctx, &feeds[i]); err != nil {
			return fmt.Errorf("seed feed %q: %w", feeds[i].Name, err)
		}
		known[feeds[i].URL] = true
		log.Info("feed seeded", "feed_id", feeds[i].ID, "name", feeds[i].Name, "file", path)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
