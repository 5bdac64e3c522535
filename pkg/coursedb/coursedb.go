// Package coursedb defines the read-only row sources the Script Generator
// consumes: course_legos, course_practice_phrases, and course_audio. The
// course content database and its schema are an external collaborator —
// this package only states the contract, plus a PostgreSQL implementation
// and a mock for tests.
package coursedb

import (
	"context"
	"fmt"
)

// LegoType enumerates the course_legos.type column.
type LegoType string

const (
	LegoTypeA LegoType = "A" // atomic
	LegoTypeM LegoType = "M" // molecular
)

// Lego is one row of course_legos: a known/target expression pair
// positioned at (SeedNumber, LegoIndex) within a course.
type Lego struct {
	CourseCode string
	SeedNumber int
	LegoIndex  int
	KnownText  string
	TargetText string
	Type       LegoType
	IsNew      bool
}

// ID formats this LEGO's identifier, e.g. S0045L02.
func (l Lego) ID() string {
	return fmt.Sprintf("S%04dL%02d", l.SeedNumber, l.LegoIndex)
}

// PhraseRole enumerates course_practice_phrases.phrase_role.
type PhraseRole string

const (
	RoleComponent PhraseRole = "component"
	RoleBuild     PhraseRole = "build"
	RoleUse       PhraseRole = "use"
)

// PracticePhrase is one row of course_practice_phrases.
type PracticePhrase struct {
	CourseCode          string
	SeedNumber          int
	LegoIndex           int
	Position            int
	Role                PhraseRole
	KnownText           string
	TargetText          string
	TargetSyllableCount int
}

// AudioRole enumerates course_audio.role. "known" and "source" are
// synonymous per the external interface contract.
type AudioRole string

const (
	AudioRoleKnown        AudioRole = "known"
	AudioRoleSource       AudioRole = "source"
	AudioRoleTarget1      AudioRole = "target1"
	AudioRoleTarget2      AudioRole = "target2"
	AudioRolePresentation AudioRole = "presentation"
)

// AudioRow is one row of course_audio. DurationMs is an extension beyond
// the external interface's required column list (§6 names it as
// non-exhaustive). PostgresReader does not read a duration column, so the
// rows it returns report 0 and the Script Generator falls back to its
// default pause estimate.
type AudioRow struct {
	ID             string
	TextNormalized string
	Role           AudioRole
	LegoID         string // non-empty only when Role == AudioRolePresentation
	CourseCode     string
	DurationMs     int
}

// LegoSource lists course_legos rows for a seed range, ordered by
// (seed_number, lego_index) ascending.
type LegoSource interface {
	ListLegos(ctx context.Context, courseCode string, startSeed, endSeed int) ([]Lego, error)
}

// PhraseSource lists course_practice_phrases rows for one LEGO, ordered by
// position ascending.
type PhraseSource interface {
	ListPhrases(ctx context.Context, courseCode string, seedNumber, legoIndex int) ([]PracticePhrase, error)
}

// AudioSource looks up course_audio rows needed to build the audio index.
type AudioSource interface {
	// ListAudioForCourse returns every audio row for courseCode. The Script
	// Generator folds this into its normalised-text index once per build.
	ListAudioForCourse(ctx context.Context, courseCode string) ([]AudioRow, error)
}

// Reader bundles the three read-only row sources the Script Generator
// depends on.
type Reader interface {
	LegoSource
	PhraseSource
	AudioSource
}
