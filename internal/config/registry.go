package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ssi-learning/playbackcore/pkg/audiostore"
	"github.com/ssi-learning/playbackcore/pkg/coursedb"
)

// ErrBackendNotRegistered is returned by the Create* methods when no
// constructor has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Registry maps backend names to their constructor functions for the two
// pluggable collaborators a deployment wires in from outside this module:
// the course-content row source and the audio object store resolver. It is
// safe for concurrent use; main registers built-ins at startup while
// request-handling goroutines only ever call the Create* side.
type Registry struct {
	mu         sync.RWMutex
	courseDB   map[string]func(CourseDBConfig) (coursedb.Reader, error)
	audioStore map[string]func(AudioStoreConfig) (audiostore.Resolver, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		courseDB:   make(map[string]func(CourseDBConfig) (coursedb.Reader, error)),
		audioStore: make(map[string]func(AudioStoreConfig) (audiostore.Resolver, error)),
	}
}

// RegisterCourseDB installs the constructor for a named course-content
// backend. Re-registering a name overwrites the previous constructor.
func (r *Registry) RegisterCourseDB(name string, ctor func(CourseDBConfig) (coursedb.Reader, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.courseDB[name] = ctor
}

// RegisterAudioStore installs the constructor for a named audio-store
// backend.
func (r *Registry) RegisterAudioStore(name string, ctor func(AudioStoreConfig) (audiostore.Resolver, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioStore[name] = ctor
}

// CreateCourseDB builds a [coursedb.Reader] from cfg using the registered
// constructor for cfg.Backend.
func (r *Registry) CreateCourseDB(cfg CourseDBConfig) (coursedb.Reader, error) {
	r.mu.RLock()
	ctor, ok := r.courseDB[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: course_db backend %q", ErrBackendNotRegistered, cfg.Backend)
	}
	reader, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create course_db backend %q: %w", cfg.Backend, err)
	}
	return reader, nil
}

// CreateAudioStore builds an [audiostore.Resolver] from cfg using the
// registered constructor for cfg.Backend.
func (r *Registry) CreateAudioStore(cfg AudioStoreConfig) (audiostore.Resolver, error) {
	r.mu.RLock()
	ctor, ok := r.audioStore[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio_store backend %q", ErrBackendNotRegistered, cfg.Backend)
	}
	resolver, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create audio_store backend %q: %w", cfg.Backend, err)
	}
	return resolver, nil
}
