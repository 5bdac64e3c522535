// Package app wires the playback core's subsystems into a running server.
//
// New builds the course-content reader and audio-store resolver from the
// configured backend registry (or accepts injected test doubles), mounts
// the WebSocket gateway, health endpoints, and Prometheus metrics handler
// on one HTTP mux, and Run serves that mux until its context is cancelled.
// Every accepted WebSocket connection gets its own learnerSession — this
// core supports many concurrent learners per process, one course per
// process (see DESIGN.md).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ssi-learning/playbackcore/internal/config"
	"github.com/ssi-learning/playbackcore/internal/health"
	"github.com/ssi-learning/playbackcore/internal/loader"
	"github.com/ssi-learning/playbackcore/internal/observe"
	"github.com/ssi-learning/playbackcore/internal/resilience"
	"github.com/ssi-learning/playbackcore/internal/wsgateway"
	"github.com/ssi-learning/playbackcore/pkg/audiostore"
	"github.com/ssi-learning/playbackcore/pkg/coursedb"
)

// App owns every subsystem's lifetime for one server process.
type App struct {
	cfg        *config.Config
	reader     coursedb.Reader
	resolver   audiostore.Resolver
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
	configPath string

	healthHandler *health.Handler
	gateway       *wsgateway.Gateway
	mux           *http.ServeMux
	httpServer    *http.Server
	watcher       *config.Watcher

	mu       sync.Mutex
	sessions map[string]*learnerSession
	playback config.PlaybackTiers
	belts    []loader.Belt

	stopOnce sync.Once
}

// Option is a functional option for New, used to inject test doubles for
// the course-content reader and audio-store resolver instead of building
// them from the config registry.
type Option func(*App)

// WithCourseDB injects reader instead of building one from the registry.
func WithCourseDB(reader coursedb.Reader) Option {
	return func(a *App) { a.reader = reader }
}

// WithAudioStore injects resolver instead of building one from the registry.
func WithAudioStore(resolver audiostore.Resolver) Option {
	return func(a *App) { a.resolver = resolver }
}

// WithConfigWatcher starts a background poller on the YAML file at path.
// Tightened playback caps are applied to the rounds every live
// learnerSession has already loaded, without rebuilding them; playback and
// belt changes otherwise take effect only for sessions created after the
// change. Backend/listen-address changes are detected but
// only logged, since this process has no mechanism to swap a
// coursedb.Reader or audiostore.Resolver out from under an open connection.
func WithConfigWatcher(path string) Option {
	return func(a *App) { a.configPath = path }
}

// New wires an App from cfg, resolving the course-content reader and
// audio-store resolver via reg unless overridden by opts.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, sessions: make(map[string]*learnerSession)}
	for _, o := range opts {
		o(a)
	}

	if a.reader == nil {
		reader, err := reg.CreateCourseDB(cfg.CourseDB)
		if err != nil {
			return nil, fmt.Errorf("app: create course db: %w", err)
		}
		a.reader = reader
	}
	if a.resolver == nil {
		resolver, err := reg.CreateAudioStore(cfg.AudioStore)
		if err != nil {
			return nil, fmt.Errorf("app: create audio store: %w", err)
		}
		a.resolver = resolver
	}

	a.belts = convertBelts(cfg.Belts)
	a.playback = cfg.Playback
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "course-content-fetch"})
	a.metrics = observe.DefaultMetrics()

	a.healthHandler = health.New(health.Checker{
		Name: "course_db",
		Check: func(ctx context.Context) error {
			_, err := a.reader.ListAudioForCourse(ctx, cfg.CourseCode)
			return err
		},
	})

	a.gateway = &wsgateway.Gateway{OnConnect: a.handleConnection}

	// The health and metrics endpoints get the standard tracing/logging
	// middleware; /ws is left unwrapped since wrapping its ResponseWriter
	// would interfere with the WebSocket upgrade.
	instrumented := observe.Middleware(a.metrics)

	a.mux = http.NewServeMux()
	healthMux := http.NewServeMux()
	a.healthHandler.Register(healthMux)
	instrumentedHealth := instrumented(healthMux)
	a.mux.Handle("/healthz", instrumentedHealth)
	a.mux.Handle("/readyz", instrumentedHealth)
	a.mux.Handle("/metrics", instrumented(promhttp.Handler()))
	a.mux.Handle("/ws", a.gateway)

	a.httpServer = &http.Server{Addr: cfg.Server.ListenAddr, Handler: a.mux}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange)
		if err != nil {
			return nil, fmt.Errorf("app: start config watcher: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// currentPlayback returns the playback tiers a new learnerSession should
// resolve against, reflecting the most recent config change observed by
// the watcher, if any.
func (a *App) currentPlayback() config.PlaybackTiers {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playback
}

// currentBelts returns the belt layout a new learnerSession's loader should
// use, reflecting the most recent config change observed by the watcher.
func (a *App) currentBelts() []loader.Belt {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.belts
}

// onConfigChange is the config.Watcher's callback. It records the new
// playback tiers and belt layout for sessions created afterwards, applies
// tightened playback caps to the rounds every live learnerSession has
// already loaded — per §6, a running session only ever re-applies playable
// flags on already-built rounds, it never rebuilds or reorders them — and
// logs (without applying) any change that would require a process restart.
// A live session's loader keeps the belt layout it started with.
func (a *App) onConfigChange(old, newCfg *config.Config) {
	diff := config.Diff(old, newCfg)
	slog.Info("app: configuration file changed", "diff", diff.String())
	if diff.RestartRequired {
		slog.Warn("app: config change requires a process restart to take effect", "reasons", diff.RestartReasons)
	}
	if !diff.PlaybackChanged && !diff.BeltsChanged {
		return
	}

	a.mu.Lock()
	if diff.PlaybackChanged {
		a.playback = newCfg.Playback
	}
	if diff.BeltsChanged {
		a.belts = convertBelts(diff.Belts)
	}
	sessions := make([]*learnerSession, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.mu.Unlock()

	if !diff.PlaybackChanged {
		return
	}
	sp := diff.Playback.Script
	for _, s := range sessions {
		s.ctrl.ApplyConfigDiff(sp.MaxBuildPhrases, sp.MaxSpacedRepPhrases, sp.UseConsolidationCount)
	}
}

func convertBelts(cfgs []config.BeltConfig) []loader.Belt {
	out := make([]loader.Belt, len(cfgs))
	for i, b := range cfgs {
		out[i] = loader.Belt{Name: b.Name, StartSeed: b.StartSeed, EndSeed: b.EndSeed}
	}
	return out
}

// handleConnection is the wsgateway.Gateway's OnConnect callback: it builds
// a learnerSession for conn, registers it for shutdown tracking, and blocks
// until the session ends.
func (a *App) handleConnection(conn *wsgateway.Connection) {
	sess, err := newLearnerSession(context.Background(), a, conn)
	if err != nil {
		slog.Error("app: failed to start learner session", "connectionId", conn.ID(), "error", err)
		return
	}

	a.mu.Lock()
	a.sessions[conn.ID()] = sess
	a.mu.Unlock()
	a.metrics.ActiveSessions.Add(context.Background(), 1)
	defer func() {
		a.mu.Lock()
		delete(a.sessions, conn.ID())
		a.mu.Unlock()
		a.metrics.ActiveSessions.Add(context.Background(), -1)
	}()

	sess.run(context.Background())
}

// ServeHTTP implements http.Handler by delegating to the internal mux,
// letting tests exercise the gateway/health/metrics wiring without going
// through Run's listener.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// Run starts the HTTP server and blocks until it exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("app: http server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server and every active learner session. It
// respects ctx's deadline for the HTTP server's own graceful drain.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down")

		if a.watcher != nil {
			a.watcher.Stop()
		}

		if err := a.httpServer.Shutdown(ctx); err != nil {
			slog.Warn("app: http server shutdown error", "err", err)
			shutdownErr = err
		}

		a.mu.Lock()
		sessions := make([]*learnerSession, 0, len(a.sessions))
		for _, s := range a.sessions {
			sessions = append(sessions, s)
		}
		a.mu.Unlock()
		for _, s := range sessions {
			s.close()
		}

		slog.Info("app: shutdown complete", "sessionsStopped", len(sessions))
	})
	return shutdownErr
}
