package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ssi-learning/playbackcore/internal/analyzer"
	"github.com/ssi-learning/playbackcore/internal/audiosink"
	"github.com/ssi-learning/playbackcore/internal/loader"
	"github.com/ssi-learning/playbackcore/internal/observe"
	"github.com/ssi-learning/playbackcore/internal/player"
	"github.com/ssi-learning/playbackcore/internal/script"
	"github.com/ssi-learning/playbackcore/internal/sessionctl"
	"github.com/ssi-learning/playbackcore/internal/wsgateway"
	"github.com/ssi-learning/playbackcore/pkg/types"
	"github.com/ssi-learning/playbackcore/pkg/vad/rms"
)

// startSeed is the first seed every new learner session loads before the
// Session Controller is allowed to start. It is built synchronously so
// playback never begins on an empty round list; the Priority Round Loader
// takes over from here on.
const startSeed = 1

// noMicSampler is the analyzer.Sampler this core hands the Voice Activity
// Analyzer in production: a Go server has no access to a browser's
// microphone, so every real session degrades immediately (see
// Analyzer.Degrade) and this sampler's Sample method is never invoked. It
// exists only to satisfy the constructor's signature.
type noMicSampler struct{}

func (noMicSampler) Sample(ctx context.Context) (float64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

// cycleMonitor adapts a player.Player plus an analyzer.Analyzer into the
// single sessionctl.CyclePlayer the Session Controller drives, starting and
// stopping the voice-activity monitoring window around every cycle so that
// analyzer.StartCycle always precedes the player's own prompt:start event.
type cycleMonitor struct {
	player   *player.Player
	analyzer *analyzer.Analyzer
	metrics  *observe.Metrics

	roundNumber int
	itemIndex   int
}

var _ sessionctl.CyclePlayer = (*cycleMonitor)(nil)

func (m *cycleMonitor) Unlock(ctx context.Context) error { return m.player.Unlock(ctx) }

func (m *cycleMonitor) PlayIntro(ctx context.Context, intro types.IntroItem, progress types.Progress, roundNumber, itemIndex int) error {
	return m.player.PlayIntro(ctx, intro, progress, roundNumber, itemIndex)
}

func (m *cycleMonitor) PlayCycle(ctx context.Context, cycle types.Cycle, progress types.Progress, roundNumber, itemIndex int) error {
	m.analyzer.StartCycle(ctx)
	err := m.player.PlayCycle(ctx, cycle, progress, roundNumber, itemIndex)
	result := m.analyzer.Stop()
	slog.Debug("analyzer: cycle speech timing",
		"roundNumber", roundNumber,
		"itemIndex", itemIndex,
		"speechDetected", result.SpeechDetected,
		"responseLatencyMs", result.ResponseLatencyMs,
		"durationDeltaMs", result.DurationDeltaMs,
	)
	if result.SpeechDetected {
		m.metrics.VADSpeechDetected.Add(context.Background(), 1)
	}
	if result.ResponseLatencyMs != nil {
		m.metrics.ResponseLatency.Record(context.Background(), float64(*result.ResponseLatencyMs)/1000)
	}
	return err
}

func (m *cycleMonitor) Stop() { m.player.Stop() }

// metricsListener records the terminal event kinds the player and
// controller emit. types.Event carries no cycle-type or phase attribute on
// these kinds, so the counters below are recorded without the
// attribute.String breakdown their doc comments describe — widening Event
// to carry that context is not something this core's wire format needs.
func metricsListener(m *observe.Metrics) func(types.Event) {
	return func(evt types.Event) {
		ctx := context.Background()
		switch evt.Kind {
		case types.EventCycleComplete:
			m.CyclesCompleted.Add(ctx, 1)
		case types.EventCycleAborted:
			m.CyclesAborted.Add(ctx, 1)
		case types.EventCycleAudioError:
			m.AudioErrors.Add(ctx, 1)
		case types.EventRoundCompleted:
			m.RoundsCompleted.Add(ctx, 1)
		}
	}
}

// learnerSession wires one WebSocket connection to its own Script
// Generator output, Session Controller, Cycle Player, Voice Activity
// Analyzer, and Priority Round Loader. Unlike the teacher's single active
// session, a playback-core server runs one of these per connected learner.
type learnerSession struct {
	conn *wsgateway.Connection
	ctrl *sessionctl.Controller
	plyr *player.Player
	an   *analyzer.Analyzer
	ldr  *loader.Loader

	done      chan struct{}
	closeOnce sync.Once
}

// newLearnerSession constructs and starts a session for conn. It builds the
// first round synchronously (so Start never runs against an empty round
// list), initializes the controller at that position, starts the
// background loader for everything after it, and begins playback.
func newLearnerSession(ctx context.Context, a *App, conn *wsgateway.Connection) (*learnerSession, error) {
	resolved := a.currentPlayback().Resolve()
	gen := script.New(a.reader, resolved.Script)
	builder := newGeneratorRoundBuilder(gen, a.breaker, a.metrics)

	sink := audiosink.NewOpusSink()
	plyr := player.New(sink, a.resolver)
	an := analyzer.New(noMicSampler{}, rms.New(), resolved.VAD)
	an.Degrade()
	a.metrics.MicrophoneUnavailable.Add(ctx, 1)
	plyr.AddPhaseMarker(an.MarkPhaseTransition)

	ctrl := sessionctl.New(&cycleMonitor{player: plyr, analyzer: an, metrics: a.metrics})

	sess := &learnerSession{conn: conn, ctrl: ctrl, plyr: plyr, an: an, done: make(chan struct{})}

	listener := wsgateway.Listener(conn)
	metrics := metricsListener(a.metrics)
	plyr.AddListener(listener)
	plyr.AddListener(metrics)
	ctrl.AddListener(func(evt types.Event) {
		listener(evt)
		metrics(evt)
		if evt.Kind == types.EventSessionComplete {
			sess.close()
		}
	})

	first, err := builder.BuildRound(ctx, a.cfg.CourseCode, startSeed)
	var notFound *loader.ErrSeedNotFound
	switch {
	case errors.As(err, &notFound):
		ctrl.Initialize(nil, 0, 0)
	case err != nil:
		return nil, fmt.Errorf("app: build first round: %w", err)
	default:
		ctrl.Initialize([]types.Round{first}, a.cfg.TotalSeeds, 0)
	}

	ldr := loader.New(builder, ctrl, a.cfg.CourseCode, a.currentBelts(), a.cfg.TotalSeeds)
	ldr.OnFetchError = func(seed int, err error) {
		a.metrics.RecordLoaderFetchError(context.Background(), err.Error())
	}
	ldr.Start(ctx, startSeed)
	sess.ldr = ldr

	if err := ctrl.Start(ctx); err != nil {
		sess.close()
		return nil, fmt.Errorf("app: start session: %w", err)
	}

	return sess, nil
}

// run blocks until the session completes, the connection is asked to close
// by the caller, or ctx (the server's lifetime context) is cancelled.
func (s *learnerSession) run(ctx context.Context) {
	select {
	case <-s.done:
	case <-ctx.Done():
		s.close()
	}
}

// close stops every subsystem owned by this session. Safe to call more
// than once and from multiple goroutines.
func (s *learnerSession) close() {
	s.closeOnce.Do(func() {
		s.ctrl.Stop()
		s.ldr.Stop()
		s.plyr.Stop()
		close(s.done)
	})
}
