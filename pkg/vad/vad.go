// Package vad defines the Engine interface for Voice Activity Detection
// backends used by the Voice Activity Analyzer.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-cycle session. Each session keeps its own consecutive-above
// counter and debounce timer so that concurrent sessions (in tests, or
// across overlapping cycles during pause/resume) never share state.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// classification, making it suitable for a sampling loop that runs once per
// animation-frame tick.
//
// Implementations must be safe for concurrent use across different
// sessions. A single SessionHandle should not be shared across goroutines
// unless the implementation explicitly documents thread safety for that
// type.
package vad

import "time"

// Config holds the parameters for a VAD session, matching the resolved
// configuration keys vadEnergyThresholdDb, vadMinFramesAbove, and
// vadSpeechEndDebounceMs.
type Config struct {
	// EnergyThresholdDb is the voice-activity floor. Samples at or below
	// this value are classified silent.
	EnergyThresholdDb float64

	// MinFramesAbove is the number of consecutive above-threshold samples
	// required before speech is confirmed active.
	MinFramesAbove int

	// SpeechEndDebounceMs is how long energy must stay at or below the
	// threshold before a tentative speech end is confirmed.
	SpeechEndDebounceMs int
}

// SessionHandle represents an active VAD session for a single cycle's
// monitoring window. It is an interface so that test code can supply mock
// implementations without a live engine.
type SessionHandle interface {
	// ProcessFrame analyses one energy sample (already computed in
	// decibels by the caller) and returns the classification for this
	// frame. now is the sample's timestamp relative to monitoring start;
	// it drives the debounce timer.
	ProcessFrame(energyDb float64, now time.Duration) (Event, error)

	// Reset clears all accumulated detection state (consecutive-above
	// counter, debounce deadline) without closing the session. Used at
	// each cycle boundary.
	Reset()

	// Close releases any resources held by the session. Safe to call more
	// than once.
	Close() error
}

// Engine is the factory for VAD sessions — the top-level interface
// implemented by each VAD backend.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	NewSession(cfg Config) (SessionHandle, error)
}

// EventKind enumerates VAD detection states for a single frame.
type EventKind int

const (
	SpeechStart EventKind = iota
	SpeechContinue
	SpeechEnd
	Silence
)

// Event represents a voice activity detection result for a single sample.
type Event struct {
	Kind     EventKind
	EnergyDb float64
}
