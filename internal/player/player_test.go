package player_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ssi-learning/playbackcore/internal/player"
	playermock "github.com/ssi-learning/playbackcore/internal/player/mock"
	"github.com/ssi-learning/playbackcore/pkg/audiostore"
	audiomock "github.com/ssi-learning/playbackcore/pkg/audiostore/mock"
	"github.com/ssi-learning/playbackcore/pkg/types"
)

func newFixture(t *testing.T) (*player.Player, *playermock.Sink, *audiomock.Resolver) {
	t.Helper()
	sink := &playermock.Sink{}
	resolver := &audiomock.Resolver{
		Sources: map[string]audiostore.Source{
			"known": {Type: audiostore.SourceURL, Location: "known"},
			"v1":    {Type: audiostore.SourceURL, Location: "v1"},
			"v2":    {Type: audiostore.SourceURL, Location: "v2"},
		},
	}
	p := player.New(sink, resolver)
	if err := p.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	return p, sink, resolver
}

func collectEvents(p *player.Player) *eventLog {
	log := &eventLog{}
	p.AddListener(func(e types.Event) {
		log.mu.Lock()
		log.kinds = append(log.kinds, e.Kind)
		log.mu.Unlock()
	})
	return log
}

type eventLog struct {
	mu    sync.Mutex
	kinds []types.EventKind
}

func (l *eventLog) snapshot() []types.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.EventKind(nil), l.kinds...)
}

// Invariant 8: the observed phase event sequence for a clean cycle is
// exactly prompt, pause, voice1, voice2, cycle:complete.
func TestPlayCycle_PhaseOrdering(t *testing.T) {
	p, _, _ := newFixture(t)
	log := collectEvents(p)

	cycle := types.Cycle{
		Known:           types.KnownSide{AudioID: "known"},
		Target:          types.TargetSide{Voice1AudioID: "v1", Voice2AudioID: "v2"},
		PauseDurationMs: 1,
	}
	if err := p.PlayCycle(context.Background(), cycle, types.Progress{}, 1, 0); err != nil {
		t.Fatalf("PlayCycle: %v", err)
	}

	want := []types.EventKind{
		types.EventPhasePromptStart, types.EventPhasePromptEnd,
		types.EventPhasePauseStart, types.EventPhasePauseEnd,
		types.EventPhaseVoice1Start, types.EventPhaseVoice1End,
		types.EventPhaseVoice2Start, types.EventPhaseVoice2End,
		types.EventCycleComplete,
	}
	got := log.snapshot()
	if len(got) != len(want) {
		t.Fatalf("event count = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %v, want %v (full: %v)", i, got[i], want[i], got)
		}
	}
}

// The PhaseVoice1 marker must fire at VOICE_1's start, before its audio
// plays, not at its end — otherwise the analyzer records voice1StartMs
// against a point already past the boundary it names.
func TestPlayCycle_PhaseVoice1MarkerFiresBeforeVoice1Audio(t *testing.T) {
	p, sink, _ := newFixture(t)

	var mu sync.Mutex
	var playCallsAtVoice1Mark int
	p.AddPhaseMarker(func(phase types.Phase, _ time.Duration) {
		if phase != types.PhaseVoice1 {
			return
		}
		mu.Lock()
		playCallsAtVoice1Mark = len(sink.PlayCallsSnapshot())
		mu.Unlock()
	})

	cycle := types.Cycle{
		Known:           types.KnownSide{AudioID: "known"},
		Target:          types.TargetSide{Voice1AudioID: "v1", Voice2AudioID: "v2"},
		PauseDurationMs: 1,
	}
	if err := p.PlayCycle(context.Background(), cycle, types.Progress{}, 1, 0); err != nil {
		t.Fatalf("PlayCycle: %v", err)
	}

	mu.Lock()
	got := playCallsAtVoice1Mark
	mu.Unlock()
	// Only PROMPT's "known" audio should have played by the time the
	// PhaseVoice1 marker fires; Voice1's own "v1" audio must not have
	// played yet.
	if got != 1 {
		t.Fatalf("sink had played %d clips when PhaseVoice1 marker fired, want 1 (PROMPT only)", got)
	}
}

// Invariant 9: measured pause duration equals cycle.PauseDurationMs within
// tolerance.
func TestPlayCycle_PauseDurationAccuracy(t *testing.T) {
	p, _, _ := newFixture(t)

	var pauseStart, pauseEnd time.Time
	p.AddListener(func(e types.Event) {
		switch e.Kind {
		case types.EventPhasePauseStart:
			pauseStart = time.Now()
		case types.EventPhasePauseEnd:
			pauseEnd = time.Now()
		}
	})

	cycle := types.Cycle{
		Known:           types.KnownSide{AudioID: "known"},
		Target:          types.TargetSide{Voice1AudioID: "v1", Voice2AudioID: "v2"},
		PauseDurationMs: 100,
	}
	if err := p.PlayCycle(context.Background(), cycle, types.Progress{}, 1, 0); err != nil {
		t.Fatalf("PlayCycle: %v", err)
	}

	measured := pauseEnd.Sub(pauseStart)
	want := 100 * time.Millisecond
	if diff := measured - want; diff < -50*time.Millisecond || diff > 50*time.Millisecond {
		t.Fatalf("measured pause %v, want %v ± 50ms", measured, want)
	}
}

// A resolution/playback failure emits cycle:audio-error and still reaches
// cycle:complete so the session can advance.
func TestPlayCycle_AudioErrorStillCompletes(t *testing.T) {
	p, _, resolver := newFixture(t)
	resolver.ResolveErr = nil
	log := collectEvents(p)

	cycle := types.Cycle{
		Known:           types.KnownSide{AudioID: "missing"},
		Target:          types.TargetSide{Voice1AudioID: "v1", Voice2AudioID: "v2"},
		PauseDurationMs: 1,
	}
	if err := p.PlayCycle(context.Background(), cycle, types.Progress{}, 1, 0); err != nil {
		t.Fatalf("PlayCycle: %v", err)
	}

	got := log.snapshot()
	want := []types.EventKind{types.EventPhasePromptStart, types.EventCycleAudioError, types.EventCycleComplete}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// Stop aborts the current phase without its :end event and emits
// cycle:aborted instead.
func TestStop_AbortsCurrentPhase(t *testing.T) {
	_, _, resolver := newFixture(t)

	log := &eventLog{}
	blockingSink := &blockingSink{unlocked: true}
	p2 := player.New(blockingSink, resolver)
	if err := p2.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	p2.AddListener(func(e types.Event) {
		log.mu.Lock()
		log.kinds = append(log.kinds, e.Kind)
		log.mu.Unlock()
	})

	cycle := types.Cycle{
		Known:           types.KnownSide{AudioID: "known"},
		Target:          types.TargetSide{Voice1AudioID: "v1", Voice2AudioID: "v2"},
		PauseDurationMs: 1,
	}

	done := make(chan struct{})
	go func() {
		_ = p2.PlayCycle(context.Background(), cycle, types.Progress{}, 1, 0)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	p2.Stop()
	<-done

	got := log.snapshot()
	if len(got) == 0 || got[len(got)-1] != types.EventCycleAborted {
		t.Fatalf("expected trailing cycle:aborted, got %v", got)
	}
	for _, k := range got {
		if k == types.EventPhasePromptEnd {
			t.Fatalf("did not expect phase:prompt:end after Stop, got %v", got)
		}
	}
}

// blockingSink never returns from Play until its context is cancelled,
// simulating an in-flight playback that Stop must interrupt.
type blockingSink struct {
	unlocked bool
}

func (b *blockingSink) Unlock(_ context.Context) error { return nil }

func (b *blockingSink) Play(ctx context.Context, _ audiostore.Source) error {
	<-ctx.Done()
	return ctx.Err()
}
