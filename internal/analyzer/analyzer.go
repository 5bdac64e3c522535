// Package analyzer implements the Voice Activity Analyzer: a per-cycle
// microphone energy monitor that records when the learner started and
// stopped speaking relative to the Cycle Player's phase boundaries.
package analyzer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ssi-learning/playbackcore/pkg/types"
	"github.com/ssi-learning/playbackcore/pkg/vad"
)

// Sampler produces successive RMS-energy-in-decibels samples from the
// microphone, approximately at display-refresh rate. Implementations are
// platform-specific (Web Audio API on the browser target); a test double
// need only emit whatever sequence the test wants observed.
type Sampler interface {
	// Sample blocks until the next sample is ready or ctx is cancelled.
	Sample(ctx context.Context) (energyDb float64, err error)
}

// Analyzer runs one Sampler/vad.Engine pair for the lifetime of a session.
// A new monitoring window begins on each cycle and ends when the cycle
// completes or is aborted.
type Analyzer struct {
	sampler Sampler
	engine  vad.Engine
	cfg     vad.Config

	mu          sync.Mutex
	degraded    bool // true once microphone acquisition has failed once
	session     *window
}

// window is the transient per-cycle monitoring state, reset at each cycle
// boundary per the data model's lifecycle rule.
type window struct {
	started         time.Time
	vadSession      vad.SessionHandle
	promptEndMs     *int
	voice1StartMs   *int
	speechStartMs   *int
	speechEndMs     *int
	peakEnergyDb    float64
	sumEnergyDb     float64
	sampleCount     int
	modelTargetDurationMs *int
	cancel          context.CancelFunc
	done            chan struct{}
}

// New creates an Analyzer. Acquisition of the sampler's underlying
// microphone stream is assumed to have already happened (or failed)
// before New is called; see Degrade.
func New(sampler Sampler, engine vad.Engine, cfg vad.Config) *Analyzer {
	return &Analyzer{sampler: sampler, engine: engine, cfg: cfg}
}

// Degrade marks the analyzer as running with no microphone available. Every
// subsequent StartCycle call returns a no-timing result (all fields null)
// without starting a sampling loop. Acquisition failure must not fail the
// session; this is how the Session Controller records that degradation.
func (a *Analyzer) Degrade() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.degraded = true
}

// Degraded reports whether the analyzer is running in no-timing mode.
func (a *Analyzer) Degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

// StartCycle begins monitoring for a new cycle. It must be called strictly
// before the Cycle Player emits phase:prompt:start (invariant: cycle_started
// precedes prompt:start). Call MarkPhase on each phase boundary and Stop (or
// let the context passed to the internal sampling loop end naturally) when
// the cycle completes.
func (a *Analyzer) StartCycle(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.degraded {
		return
	}

	sess, err := a.engine.NewSession(a.cfg)
	if err != nil {
		slog.Warn("analyzer: vad session creation failed, degrading", "error", err)
		a.degraded = true
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w := &window{
		started:    time.Now(),
		vadSession: sess,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	a.session = w
	go a.sampleLoop(loopCtx, w)
}

func (a *Analyzer) sampleLoop(ctx context.Context, w *window) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		energyDb, err := a.sampler.Sample(ctx)
		if err != nil {
			return
		}

		a.mu.Lock()
		if a.session != w {
			a.mu.Unlock()
			return
		}
		now := time.Since(w.started)
		if energyDb > w.peakEnergyDb || w.sampleCount == 0 {
			w.peakEnergyDb = energyDb
		}
		w.sumEnergyDb += energyDb
		w.sampleCount++

		evt, verr := w.vadSession.ProcessFrame(energyDb, now)
		if verr != nil {
			a.mu.Unlock()
			slog.Warn("analyzer: vad process frame failed", "error", verr)
			continue
		}
		switch evt.Kind {
		case vad.SpeechStart:
			if w.speechStartMs == nil {
				ms := int(now.Milliseconds())
				w.speechStartMs = &ms
			}
		case vad.SpeechEnd:
			ms := int(now.Milliseconds())
			w.speechEndMs = &ms
		}
		a.mu.Unlock()
	}
}

// MarkPhaseTransition records when the Cycle Player crossed phase, relative
// to this window's monitoring start (time 0 at PROMPT start).
func (a *Analyzer) MarkPhaseTransition(phase types.Phase, elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w := a.session
	if w == nil {
		return
	}
	ms := int(elapsed.Milliseconds())
	switch phase {
	case types.PhasePrompt:
		w.promptEndMs = &ms
	case types.PhaseVoice1:
		w.voice1StartMs = &ms
	}
}

// Stop cancels the current monitoring window's sampling loop and returns
// the accumulated SpeechTimingResult. Calling Stop when no window is active
// returns a zero-value result with SpeechDetected=false.
func (a *Analyzer) Stop() types.SpeechTimingResult {
	a.mu.Lock()
	w := a.session
	a.session = nil
	a.mu.Unlock()

	if w == nil {
		return types.SpeechTimingResult{}
	}
	w.cancel()
	<-w.done
	return w.result()
}

// result assembles the SpeechTimingResult from a finished monitoring
// window, per the field definitions in the component design.
func (w *window) result() types.SpeechTimingResult {
	r := types.SpeechTimingResult{
		SpeechStartMs: w.speechStartMs,
		SpeechEndMs:   w.speechEndMs,
		PeakEnergyDb:  w.peakEnergyDb,
	}
	if w.promptEndMs != nil {
		r.PromptEndMs = *w.promptEndMs
	}
	if w.voice1StartMs != nil {
		r.Voice1StartMs = *w.voice1StartMs
	}
	if w.sampleCount > 0 {
		r.AverageEnergyDb = w.sumEnergyDb / float64(w.sampleCount)
	}
	r.SpeechDetected = w.speechStartMs != nil
	if w.speechStartMs != nil {
		r.ResponseLatencyMs = intPtr(*w.speechStartMs)
	}
	if w.speechStartMs != nil && w.speechEndMs != nil {
		learner := *w.speechEndMs - *w.speechStartMs
		r.LearnerDurationMs = intPtr(learner)
		if w.modelTargetDurationMs != nil {
			r.DurationDeltaMs = intPtr(learner - *w.modelTargetDurationMs)
		}
	}
	if w.speechStartMs != nil {
		r.StartedDuringPrompt = w.promptEndMs != nil && *w.speechStartMs < *w.promptEndMs
	}
	if w.speechEndMs != nil {
		r.StillSpeakingAtVoice1 = w.voice1StartMs != nil && *w.speechEndMs > *w.voice1StartMs
	}
	return r
}

// SetModelTargetDuration records modelTargetDurationMs so DurationDeltaMs
// can be computed once the window ends; callers that already know the
// cycle's combined voice duration should call this right after StartCycle.
func (a *Analyzer) SetModelTargetDuration(modelTargetDurationMs int) {
	a.mu.Lock()
	w := a.session
	a.mu.Unlock()
	if w == nil {
		return
	}
	w.modelTargetDurationMs = &modelTargetDurationMs
}

func intPtr(v int) *int { return &v }
