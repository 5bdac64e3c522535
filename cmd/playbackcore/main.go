// Command playbackcore is the main entry point for the playback core
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ssi-learning/playbackcore/internal/app"
	"github.com/ssi-learning/playbackcore/internal/config"
	"github.com/ssi-learning/playbackcore/internal/observe"
	"github.com/ssi-learning/playbackcore/pkg/audiostore"
	audiostoremock "github.com/ssi-learning/playbackcore/pkg/audiostore/mock"
	"github.com/ssi-learning/playbackcore/pkg/coursedb"
	coursedbmock "github.com/ssi-learning/playbackcore/pkg/coursedb/mock"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "playbackcore: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "playbackcore: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("playbackcore starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"course_code", cfg.CourseCode,
		"total_seeds", cfg.TotalSeeds,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "playbackcore"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinBackends(ctx, reg)

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg, app.WithConfigWatcher(*configPath))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinBackends installs the course-content and audio-store
// backend constructors this binary ships with. The "mock" backends exist
// for local development against config.yaml without a real database or
// object store; they are never appropriate for a production course_code.
func registerBuiltinBackends(ctx context.Context, reg *config.Registry) {
	reg.RegisterCourseDB("postgres", func(cfg config.CourseDBConfig) (coursedb.Reader, error) {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres course db: %w", err)
		}
		return coursedb.NewPostgresReader(pool), nil
	})
	reg.RegisterCourseDB("mock", func(config.CourseDBConfig) (coursedb.Reader, error) {
		return &coursedbmock.Reader{}, nil
	})

	reg.RegisterAudioStore("http", func(cfg config.AudioStoreConfig) (audiostore.Resolver, error) {
		r := audiostore.NewHTTPResolver(cfg.BaseURL)
		r.Inline = cfg.Inline
		return r, nil
	})
	reg.RegisterAudioStore("mock", func(config.AudioStoreConfig) (audiostore.Resolver, error) {
		return &audiostoremock.Resolver{Sources: map[string]audiostore.Source{}}, nil
	})
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      playbackcore — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Course code     : %-19s ║\n", valueOrPlaceholder(cfg.CourseCode))
	fmt.Printf("║  Total seeds     : %-19d ║\n", cfg.TotalSeeds)
	fmt.Printf("║  Course DB       : %-19s ║\n", valueOrPlaceholder(cfg.CourseDB.Backend))
	fmt.Printf("║  Audio store     : %-19s ║\n", valueOrPlaceholder(cfg.AudioStore.Backend))
	fmt.Printf("║  Belts configured: %-19d ║\n", len(cfg.Belts))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func valueOrPlaceholder(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
