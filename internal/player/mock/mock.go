// Package mock provides an in-memory player.AudioSink for tests.
package mock

import (
	"context"
	"sync"

	"github.com/ssi-learning/playbackcore/pkg/audiostore"
)

// Sink is a mock player.AudioSink. PlayErr, if non-nil, is returned by every
// Play call; PlayErrFor, if set for a location, is returned only for that
// source's location.
type Sink struct {
	mu sync.Mutex

	UnlockErr error
	PlayErr   error
	PlayErrFor map[string]error

	UnlockCalls int
	PlayCalls   []audiostore.Source
}

// Unlock implements player.AudioSink.
func (s *Sink) Unlock(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UnlockCalls++
	return s.UnlockErr
}

// Play implements player.AudioSink.
func (s *Sink) Play(ctx context.Context, src audiostore.Source) error {
	s.mu.Lock()
	s.PlayCalls = append(s.PlayCalls, src)
	err := s.PlayErr
	if s.PlayErrFor != nil {
		if e, ok := s.PlayErrFor[src.Location]; ok {
			err = e
		}
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Reset clears recorded calls.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayCalls = nil
	s.UnlockCalls = 0
}

// PlayCallsSnapshot returns a copy of PlayCalls safe to read concurrently
// with an in-flight Play call.
func (s *Sink) PlayCallsSnapshot() []audiostore.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audiostore.Source(nil), s.PlayCalls...)
}
