package script

import (
	"github.com/ssi-learning/playbackcore/pkg/coursedb"
)

// audioEntry is the known/target1/target2 audio bundle for one normalised
// text.
type audioEntry struct {
	KnownID        string
	Target1ID      string
	Target1Ms      int
	Target2ID      string
	Target2Ms      int
}

// AudioIndex maps normalised text to its audio bundle, and LEGO ID to
// presentation audio, built once per course from course_audio rows.
type AudioIndex struct {
	byText map[string]audioEntry
	intro  map[string]string
}

// buildAudioIndex folds course_audio rows into an AudioIndex. Rows with
// role known/source merge into KnownID, target1 into Target1ID, target2
// into Target2ID; rows with role presentation populate the per-LEGO intro
// map keyed by LegoID.
func buildAudioIndex(rows []coursedb.AudioRow) *AudioIndex {
	idx := &AudioIndex{
		byText: make(map[string]audioEntry),
		intro:  make(map[string]string),
	}
	for _, row := range rows {
		if row.Role == coursedb.AudioRolePresentation {
			if row.LegoID != "" {
				idx.intro[row.LegoID] = row.ID
			}
			continue
		}
		e := idx.byText[row.TextNormalized]
		switch row.Role {
		case coursedb.AudioRoleKnown, coursedb.AudioRoleSource:
			e.KnownID = row.ID
		case coursedb.AudioRoleTarget1:
			e.Target1ID = row.ID
			e.Target1Ms = row.DurationMs
		case coursedb.AudioRoleTarget2:
			e.Target2ID = row.ID
			e.Target2Ms = row.DurationMs
		}
		idx.byText[row.TextNormalized] = e
	}
	return idx
}

// Lookup returns the audio bundle for the exact normalised text, per
// spec.md:262's getAudioSource(id)-style content-addressed contract: course
// audio rows are clean, structured data keyed by exact text_normalized, not
// noisy transcription the way an ASR hypothesis is, so there is no
// approximate-match case to recover from. ok is false on a miss; the
// caller leaves the corresponding audio ID empty, which surfaces as an
// AudioResolutionError-class "missing audio" diagnostic on the enclosing
// cycle or intro (§7) rather than risking a silent substitution of a
// different phrase's audio.
func (idx *AudioIndex) Lookup(normalizedText string) (audioEntry, bool) {
	e, ok := idx.byText[normalizedText]
	return e, ok
}

// IntroAudio returns the presentation audio ID for legoID, if any.
func (idx *AudioIndex) IntroAudio(legoID string) (string, bool) {
	id, ok := idx.intro[legoID]
	return id, ok
}
