// Package mock provides an in-memory audiostore.Resolver for tests.
package mock

import (
	"context"
	"sync"

	"github.com/ssi-learning/playbackcore/pkg/audiostore"
)

// Resolver is a mock audiostore.Resolver backed by an in-memory map.
// Populate Sources directly; Resolve returns audiostore.ErrNotFound for any
// ID not present.
type Resolver struct {
	mu sync.Mutex

	Sources map[string]audiostore.Source

	// ResolveErr, if non-nil, is returned for every call regardless of ID.
	ResolveErr error

	ResolveCalls []string
}

// Resolve implements audiostore.Resolver.
func (r *Resolver) Resolve(_ context.Context, id string) (audiostore.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResolveCalls = append(r.ResolveCalls, id)
	if r.ResolveErr != nil {
		return audiostore.Source{}, r.ResolveErr
	}
	src, ok := r.Sources[id]
	if !ok {
		return audiostore.Source{}, audiostore.ErrNotFound
	}
	return src, nil
}

var _ audiostore.Resolver = (*Resolver)(nil)
