// Package rms implements the built-in energy-threshold vad.Engine: a
// short-time RMS-energy-in-decibels classifier with a consecutive-frame
// confirmation window and a debounce-based speech-end detector.
//
// This is the analyzer's only biometric signal — there is no phoneme or
// probability model here, just a floor and two timers.
package rms

import (
	"sync"
	"time"

	"github.com/ssi-learning/playbackcore/pkg/vad"
)

// Engine is the built-in vad.Engine backed by pure energy thresholding.
type Engine struct{}

// New returns a ready-to-use Engine. It holds no state of its own; all
// state lives in the sessions it creates.
func New() *Engine { return &Engine{} }

// NewSession creates a new Session for cfg. Returns an error if
// MinFramesAbove is non-positive.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.MinFramesAbove < 1 {
		return nil, errMinFramesAbove
	}
	return &Session{cfg: cfg}, nil
}

var errMinFramesAbove = minFramesAboveError{}

type minFramesAboveError struct{}

func (minFramesAboveError) Error() string {
	return "rms: vadMinFramesAbove must be >= 1"
}

// Session implements vad.SessionHandle with the consecutive-above-counter
// and debounce-timer algorithm described for the Voice Activity Analyzer.
type Session struct {
	mu  sync.Mutex
	cfg vad.Config

	consecutiveAbove int
	speechActive     bool
	tentativeEndAt   *time.Duration // set when energy first drops while active
}

// ProcessFrame classifies a single energy sample.
func (s *Session) ProcessFrame(energyDb float64, now time.Duration) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	above := energyDb > s.cfg.EnergyThresholdDb

	if above {
		s.consecutiveAbove++
		wasActive := s.speechActive
		if s.consecutiveAbove >= s.cfg.MinFramesAbove {
			s.speechActive = true
		}
		// Re-crossing the threshold cancels any pending debounce.
		s.tentativeEndAt = nil

		if s.speechActive && !wasActive {
			return vad.Event{Kind: vad.SpeechStart, EnergyDb: energyDb}, nil
		}
		if s.speechActive {
			return vad.Event{Kind: vad.SpeechContinue, EnergyDb: energyDb}, nil
		}
		return vad.Event{Kind: vad.Silence, EnergyDb: energyDb}, nil
	}

	// Below or at threshold.
	s.consecutiveAbove = 0
	if !s.speechActive {
		return vad.Event{Kind: vad.Silence, EnergyDb: energyDb}, nil
	}

	if s.tentativeEndAt == nil {
		t := now
		s.tentativeEndAt = &t
		return vad.Event{Kind: vad.SpeechContinue, EnergyDb: energyDb}, nil
	}

	debounce := time.Duration(s.cfg.SpeechEndDebounceMs) * time.Millisecond
	if now-*s.tentativeEndAt >= debounce {
		s.speechActive = false
		s.tentativeEndAt = nil
		return vad.Event{Kind: vad.SpeechEnd, EnergyDb: energyDb}, nil
	}
	return vad.Event{Kind: vad.SpeechContinue, EnergyDb: energyDb}, nil
}

// Reset clears all accumulated detection state. Called at each cycle
// boundary.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveAbove = 0
	s.speechActive = false
	s.tentativeEndAt = nil
}

// Close is a no-op; the session holds no external resources.
func (s *Session) Close() error { return nil }

var _ vad.Engine = (*Engine)(nil)
var _ vad.SessionHandle = (*Session)(nil)
