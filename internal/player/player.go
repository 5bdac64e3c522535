// Package player implements the Cycle Player: a four-phase state machine
// (PROMPT -> PAUSE -> VOICE_1 -> VOICE_2 -> TRANSITION) that plays one
// immutable cycle against a single reused audio output handle and emits
// ordered phase events.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ssi-learning/playbackcore/pkg/audiostore"
	"github.com/ssi-learning/playbackcore/pkg/types"
)

// ErrNotUnlocked is returned by Play when the audio handle has not been
// unlocked by a prior call to Unlock.
var ErrNotUnlocked = errors.New("player: audio handle not unlocked")

// AudioSink is the single reused audio output handle the Cycle Player owns
// for the lifetime of a session. Implementations resolve an audio reference
// to a playable source and play it to completion, or return an error.
type AudioSink interface {
	// Unlock performs whatever one-time, gesture-gated initialisation the
	// target platform requires (e.g. an AudioContext resume() on mobile
	// browsers). Subsequent calls are no-ops.
	Unlock(ctx context.Context) error

	// Play plays src to completion, blocking until playback ends or ctx is
	// cancelled. Cancellation must stop playback immediately.
	Play(ctx context.Context, src audiostore.Source) error
}

// PhaseListener receives every event the Cycle Player emits. Listener
// errors are never returned to the caller that triggered the event; see
// Player.AddListener.
type PhaseListener func(types.Event)

// PhaseMarker receives phase-boundary notifications so that an external
// observer (the Voice Activity Analyzer) can align its own timeline with
// the player's. Called synchronously, in emission order.
type PhaseMarker func(phase types.Phase, elapsed time.Duration)

// Player executes one Cycle (or IntroItem) at a time against a single
// AudioSink. A Player is not safe for concurrent Play calls; the Session
// Controller serialises them.
type Player struct {
	sink     AudioSink
	resolver audiostore.Resolver

	mu        sync.Mutex
	unlocked  bool
	listeners []PhaseListener
	markers   []PhaseMarker

	stop   chan struct{} // closed by Stop to abort the in-flight Play
	active bool

	sessionStart time.Time
	startOnce    sync.Once
}

// New creates a Player bound to sink and resolver. resolver turns an audio
// reference's ID into a playable audiostore.Source; sink plays that source.
func New(sink AudioSink, resolver audiostore.Resolver) *Player {
	return &Player{sink: sink, resolver: resolver}
}

// AddListener registers l to receive every emitted event. Must be called
// before the first PlayCycle/PlayIntro call of a session.
func (p *Player) AddListener(l PhaseListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// AddPhaseMarker registers m to receive phase-boundary notifications.
func (p *Player) AddPhaseMarker(m PhaseMarker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markers = append(p.markers, m)
}

// Unlock performs the gesture-gated audio handle initialisation. Must be
// called synchronously from within a user-gesture event handler before the
// first PlayCycle/PlayIntro call.
func (p *Player) Unlock(ctx context.Context) error {
	if err := p.sink.Unlock(ctx); err != nil {
		return fmt.Errorf("player: unlock: %w", err)
	}
	p.mu.Lock()
	p.unlocked = true
	p.mu.Unlock()
	return nil
}

// Stop aborts the current phase immediately without emitting its `:end`
// event; a cycle:aborted or intro:aborted event is emitted instead. It is a
// no-op if no Play call is in flight.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active && p.stop != nil {
		close(p.stop)
	}
}

func (p *Player) emit(kind types.EventKind, progress types.Progress, roundNumber, itemIndex int, err error) {
	p.startOnce.Do(func() { p.sessionStart = time.Now() })
	evt := types.Event{
		Kind:        kind,
		Timestamp:   time.Since(p.sessionStart),
		Progress:    progress,
		RoundNumber: roundNumber,
		ItemIndex:   itemIndex,
		Err:         err,
	}
	p.mu.Lock()
	listeners := append([]PhaseListener(nil), p.listeners...)
	p.mu.Unlock()
	for _, l := range listeners {
		safeCall(l, evt)
	}
}

// safeCall invokes l and recovers a panic, logging it. A listener crash
// must never derail cycle sequencing.
func safeCall(l PhaseListener, evt types.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("player: listener panicked", "recovered", r, "event", evt.Kind)
		}
	}()
	l(evt)
}

func (p *Player) mark(phase types.Phase, start time.Time) {
	p.mu.Lock()
	markers := append([]PhaseMarker(nil), p.markers...)
	p.mu.Unlock()
	elapsed := time.Since(start)
	for _, m := range markers {
		m(phase, elapsed)
	}
}

// PlayIntro plays intro's presentation audio once, with no pause phase and
// no voice2-phase measurement. It emits intro:start then either
// intro:complete, cycle:audio-error (if resolution/playback fails), or
// intro:aborted (if Stop is called mid-playback).
func (p *Player) PlayIntro(ctx context.Context, intro types.IntroItem, progress types.Progress, roundNumber, itemIndex int) error {
	p.mu.Lock()
	if !p.unlocked {
		p.mu.Unlock()
		return ErrNotUnlocked
	}
	p.stop = make(chan struct{})
	p.active = true
	stopCh := p.stop
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active = false
		p.mu.Unlock()
	}()

	start := time.Now()
	p.emit(types.EventIntroStart, progress, roundNumber, itemIndex, nil)

	if aborted, err := p.playPhase(ctx, stopCh, intro.PresentationAudioID); aborted {
		p.emit(types.EventIntroAborted, progress, roundNumber, itemIndex, nil)
		return nil
	} else if err != nil {
		p.emit(types.EventCycleAudioError, progress, roundNumber, itemIndex, err)
		p.emit(types.EventIntroComplete, progress, roundNumber, itemIndex, nil)
		return nil
	}

	p.mark(types.PhasePrompt, start)
	p.emit(types.EventIntroComplete, progress, roundNumber, itemIndex, nil)
	return nil
}

// PlayCycle drives cycle through PROMPT, PAUSE, VOICE_1, VOICE_2, and
// TRANSITION, emitting every phase's start/end events, then cycle:complete.
// If Stop is called mid-cycle, the current phase's :end event is withheld
// and cycle:aborted is emitted instead. If audio resolution or playback
// fails in any phase, cycle:audio-error is emitted, remaining phases are
// skipped, and cycle:complete still fires so the session can advance.
func (p *Player) PlayCycle(ctx context.Context, cycle types.Cycle, progress types.Progress, roundNumber, itemIndex int) error {
	p.mu.Lock()
	if !p.unlocked {
		p.mu.Unlock()
		return ErrNotUnlocked
	}
	p.stop = make(chan struct{})
	p.active = true
	stopCh := p.stop
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active = false
		p.mu.Unlock()
	}()

	sessionStart := time.Now()

	// PROMPT
	p.emit(types.EventPhasePromptStart, progress, roundNumber, itemIndex, nil)
	aborted, err := p.playPhase(ctx, stopCh, cycle.Known.AudioID)
	if aborted {
		p.emit(types.EventCycleAborted, progress, roundNumber, itemIndex, nil)
		return nil
	}
	if err != nil {
		p.emit(types.EventCycleAudioError, progress, roundNumber, itemIndex, err)
		p.emit(types.EventCycleComplete, progress, roundNumber, itemIndex, nil)
		return nil
	}
	p.mark(types.PhasePrompt, sessionStart)
	p.emit(types.EventPhasePromptEnd, progress, roundNumber, itemIndex, nil)

	// PAUSE
	p.emit(types.EventPhasePauseStart, progress, roundNumber, itemIndex, nil)
	if aborted := p.waitPause(stopCh, time.Duration(cycle.PauseDurationMs)*time.Millisecond); aborted {
		p.emit(types.EventCycleAborted, progress, roundNumber, itemIndex, nil)
		return nil
	}
	p.emit(types.EventPhasePauseEnd, progress, roundNumber, itemIndex, nil)

	// VOICE_1
	p.emit(types.EventPhaseVoice1Start, progress, roundNumber, itemIndex, nil)
	p.mark(types.PhaseVoice1, sessionStart)
	aborted, err = p.playPhase(ctx, stopCh, cycle.Target.Voice1AudioID)
	if aborted {
		p.emit(types.EventCycleAborted, progress, roundNumber, itemIndex, nil)
		return nil
	}
	if err != nil {
		p.emit(types.EventCycleAudioError, progress, roundNumber, itemIndex, err)
		p.emit(types.EventCycleComplete, progress, roundNumber, itemIndex, nil)
		return nil
	}
	p.emit(types.EventPhaseVoice1End, progress, roundNumber, itemIndex, nil)

	// VOICE_2
	p.emit(types.EventPhaseVoice2Start, progress, roundNumber, itemIndex, nil)
	aborted, err = p.playPhase(ctx, stopCh, cycle.Target.Voice2AudioID)
	if aborted {
		p.emit(types.EventCycleAborted, progress, roundNumber, itemIndex, nil)
		return nil
	}
	if err != nil {
		p.emit(types.EventCycleAudioError, progress, roundNumber, itemIndex, err)
		p.emit(types.EventCycleComplete, progress, roundNumber, itemIndex, nil)
		return nil
	}
	p.emit(types.EventPhaseVoice2End, progress, roundNumber, itemIndex, nil)

	// TRANSITION
	p.emit(types.EventCycleComplete, progress, roundNumber, itemIndex, nil)
	return nil
}

// playPhase resolves audioID and plays it on the sink. aborted is true only
// if stopCh closed during the wait; err is non-nil on resolution or
// playback failure (an AudioResolutionError/AudioPlaybackError per the
// taxonomy, both handled identically by the caller).
func (p *Player) playPhase(ctx context.Context, stopCh chan struct{}, audioID string) (aborted bool, err error) {
	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		src, rerr := p.resolver.Resolve(phaseCtx, audioID)
		if rerr != nil {
			done <- fmt.Errorf("player: resolve audio %q: %w", audioID, rerr)
			return
		}
		if perr := p.sink.Play(phaseCtx, src); perr != nil {
			done <- fmt.Errorf("player: play audio %q: %w", audioID, perr)
			return
		}
		done <- nil
	}()

	select {
	case <-stopCh:
		cancel()
		<-done
		return true, nil
	case err := <-done:
		return false, err
	}
}

// waitPause blocks for d, or until stopCh closes, whichever comes first.
func (p *Player) waitPause(stopCh chan struct{}, d time.Duration) (aborted bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stopCh:
		return true
	case <-t.C:
		return false
	}
}
