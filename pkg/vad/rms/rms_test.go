package rms_test

import (
	"testing"
	"time"

	"github.com/ssi-learning/playbackcore/pkg/vad"
	"github.com/ssi-learning/playbackcore/pkg/vad/rms"
)

func newSession(t *testing.T) vad.SessionHandle {
	t.Helper()
	eng := rms.New()
	sess, err := eng.NewSession(vad.Config{
		EnergyThresholdDb:   -40,
		MinFramesAbove:      3,
		SpeechEndDebounceMs: 300,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess
}

func TestNewSession_RejectsZeroMinFramesAbove(t *testing.T) {
	eng := rms.New()
	_, err := eng.NewSession(vad.Config{MinFramesAbove: 0})
	if err == nil {
		t.Fatal("expected error for MinFramesAbove=0")
	}
}

func TestProcessFrame_ConfirmsSpeechStartAfterMinFrames(t *testing.T) {
	sess := newSession(t)

	ev, _ := sess.ProcessFrame(-10, 0)
	if ev.Kind != vad.Silence {
		t.Fatalf("frame 1: expected Silence (not yet confirmed), got %v", ev.Kind)
	}
	ev, _ = sess.ProcessFrame(-10, 16*time.Millisecond)
	if ev.Kind != vad.Silence {
		t.Fatalf("frame 2: expected Silence, got %v", ev.Kind)
	}
	ev, _ = sess.ProcessFrame(-10, 32*time.Millisecond)
	if ev.Kind != vad.SpeechStart {
		t.Fatalf("frame 3: expected SpeechStart, got %v", ev.Kind)
	}
	ev, _ = sess.ProcessFrame(-10, 48*time.Millisecond)
	if ev.Kind != vad.SpeechContinue {
		t.Fatalf("frame 4: expected SpeechContinue, got %v", ev.Kind)
	}
}

func TestProcessFrame_DebounceConfirmsSpeechEnd(t *testing.T) {
	sess := newSession(t)
	for i, t0 := range []time.Duration{0, 16, 32} {
		sess.ProcessFrame(-10, time.Duration(t0)*time.Millisecond)
		_ = i
	}

	// Drop below threshold: debounce starts at 48ms.
	ev, _ := sess.ProcessFrame(-50, 48*time.Millisecond)
	if ev.Kind != vad.SpeechContinue {
		t.Fatalf("expected SpeechContinue while debounce pending, got %v", ev.Kind)
	}

	// Still within debounce window (300ms).
	ev, _ = sess.ProcessFrame(-50, 200*time.Millisecond)
	if ev.Kind != vad.SpeechContinue {
		t.Fatalf("expected SpeechContinue within debounce window, got %v", ev.Kind)
	}

	// Debounce elapsed (>= 48+300ms).
	ev, _ = sess.ProcessFrame(-50, 360*time.Millisecond)
	if ev.Kind != vad.SpeechEnd {
		t.Fatalf("expected SpeechEnd after debounce elapses, got %v", ev.Kind)
	}
}

func TestProcessFrame_RecrossingCancelsDebounce(t *testing.T) {
	sess := newSession(t)
	for _, t0 := range []time.Duration{0, 16, 32} {
		sess.ProcessFrame(-10, t0*time.Millisecond)
	}

	sess.ProcessFrame(-50, 48*time.Millisecond) // tentative end starts
	ev, _ := sess.ProcessFrame(-10, 60*time.Millisecond) // re-cross cancels it
	if ev.Kind != vad.SpeechContinue {
		t.Fatalf("expected SpeechContinue on re-cross, got %v", ev.Kind)
	}

	// Debounce was cancelled, so reaching the old deadline should not end speech.
	ev, _ = sess.ProcessFrame(-10, 400*time.Millisecond)
	if ev.Kind == vad.SpeechEnd {
		t.Fatal("expected debounce to have been cancelled by re-crossing")
	}
}

func TestReset_ClearsState(t *testing.T) {
	sess := newSession(t)
	for _, t0 := range []time.Duration{0, 16, 32} {
		sess.ProcessFrame(-10, t0*time.Millisecond)
	}
	sess.Reset()

	// After reset, a single above-threshold frame must not immediately
	// confirm speech (counter was cleared).
	ev, _ := sess.ProcessFrame(-10, 1*time.Millisecond)
	if ev.Kind == vad.SpeechStart {
		t.Fatal("expected state cleared by Reset, got immediate SpeechStart")
	}
}
