// Package mock provides an in-memory coursedb.Reader for tests, backed by
// plain slices rather than a live database.
package mock

import (
	"context"
	"sync"

	"github.com/ssi-learning/playbackcore/pkg/coursedb"
)

// Reader is a mock implementation of coursedb.Reader backed by in-memory
// fixtures. Populate Legos, Phrases, and Audio directly; methods filter them
// the way the PostgreSQL implementation would and return the matches in
// fixture order, without sorting.
type Reader struct {
	mu sync.Mutex

	Legos  []coursedb.Lego
	Phrases []coursedb.PracticePhrase
	Audio  []coursedb.AudioRow

	// ListLegosErr, ListPhrasesErr, ListAudioErr, if non-nil, are returned
	// instead of the normal result.
	ListLegosErr   error
	ListPhrasesErr error
	ListAudioErr   error

	ListLegosCalls   int
	ListPhrasesCalls int
	ListAudioCalls   int
}

// ListLegos implements coursedb.LegoSource.
func (r *Reader) ListLegos(_ context.Context, courseCode string, startSeed, endSeed int) ([]coursedb.Lego, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ListLegosCalls++
	if r.ListLegosErr != nil {
		return nil, r.ListLegosErr
	}
	var out []coursedb.Lego
	for _, l := range r.Legos {
		if l.CourseCode == courseCode && l.SeedNumber >= startSeed && l.SeedNumber <= endSeed {
			out = append(out, l)
		}
	}
	return out, nil
}

// ListPhrases implements coursedb.PhraseSource.
func (r *Reader) ListPhrases(_ context.Context, courseCode string, seedNumber, legoIndex int) ([]coursedb.PracticePhrase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ListPhrasesCalls++
	if r.ListPhrasesErr != nil {
		return nil, r.ListPhrasesErr
	}
	var out []coursedb.PracticePhrase
	for _, p := range r.Phrases {
		if p.CourseCode == courseCode && p.SeedNumber == seedNumber && p.LegoIndex == legoIndex {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListAudioForCourse implements coursedb.AudioSource.
func (r *Reader) ListAudioForCourse(_ context.Context, courseCode string) ([]coursedb.AudioRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ListAudioCalls++
	if r.ListAudioErr != nil {
		return nil, r.ListAudioErr
	}
	var out []coursedb.AudioRow
	for _, a := range r.Audio {
		if a.CourseCode == courseCode {
			out = append(out, a)
		}
	}
	return out, nil
}

var _ coursedb.Reader = (*Reader)(nil)
