// Package types defines the shared, immutable data model that flows between
// the Script Generator, Cycle Player, Session Controller, Voice Activity
// Analyzer, and Priority Round Loader.
//
// Types here are intentionally minimal — each package keeps its own
// behavioural state, but the value types that cross package boundaries live
// here to avoid circular imports.
package types

import (
	"fmt"
	"time"
)

// AudioRef is an opaque reference to a single audio asset. Identifiers are
// globally unique strings assigned by the course content database;
// resolution to playable bytes or a URL is an external collaborator
// contract (see audiostore.Resolver).
type AudioRef struct {
	ID string

	// DurationMs is the asset's playback duration when known. Zero means
	// unknown; callers fall back to a default pause estimate.
	DurationMs int
}

// CycleType enumerates the category of a practice cycle. Order matters: it
// defines the non-decreasing category ordering required within a round
// (intro < debut < build < spacedRep < use).
type CycleType int

const (
	CycleDebut CycleType = iota
	CycleBuild
	CycleSpacedRep
	CycleUse
)

// String returns the lower camel-case name used in diagnostics and events.
func (t CycleType) String() string {
	switch t {
	case CycleDebut:
		return "debut"
	case CycleBuild:
		return "build"
	case CycleSpacedRep:
		return "spacedRep"
	case CycleUse:
		return "use"
	default:
		return "unknown"
	}
}

// KnownSide holds the known-language text and its audio for a cycle.
type KnownSide struct {
	Text    string
	AudioID string
}

// TargetSide holds the target-language text and its two confirmation
// audio assets for a cycle.
type TargetSide struct {
	Text         string
	Voice1AudioID string
	Voice1DurationMs int
	Voice2AudioID string
	Voice2DurationMs int
}

// Cycle is a self-contained playback unit that carries each text together
// with its audio identifiers. The Script Generator leaves an audio
// identifier empty when no audio matches the text, and Complete then
// reports the Cycle as unplayable. The Cycle Player never looks up audio by
// text; it only ever dereferences the IDs stored here.
type Cycle struct {
	ID      string
	LegoID  string
	SeedID  string
	Type    CycleType
	Known   KnownSide
	Target  TargetSide

	// PauseDurationMs is computed at build time from pauseBootupMs,
	// pauseScaleFactor, and the two voice durations.
	PauseDurationMs int
}

// Complete reports whether every audio identifier required to play this
// cycle is present. An incomplete Cycle must never be handed to the Cycle
// Player; the Script Generator flags it as a validation error instead.
func (c Cycle) Complete() bool {
	return c.Known.AudioID != "" && c.Target.Voice1AudioID != "" && c.Target.Voice2AudioID != ""
}

// IntroItem is a non-cycle round item: the first item of every round. It
// has no pause phase and no voice2-phase response measurement.
type IntroItem struct {
	LegoID             string
	KnownText          string
	TargetText         string
	PresentationAudioID string
}

// Complete reports whether the intro has usable presentation audio.
func (i IntroItem) Complete() bool {
	return i.PresentationAudioID != ""
}

// RoundItemKind tags which variant a RoundItem holds.
type RoundItemKind int

const (
	ItemIntro RoundItemKind = iota
	ItemCycle
)

// RoundItem is a tagged sum over {IntroItem, Cycle}. Exactly one of Intro
// or Cycle is populated, selected by Kind.
type RoundItem struct {
	Kind  RoundItemKind
	Intro IntroItem
	Cycle Cycle

	// Disabled is a configuration-driven override, distinct from audio
	// completeness: a live config change can only turn this on, never
	// rebuild or reorder a round's items (§6). It starts false for every
	// item a script build produces.
	Disabled bool
}

// category returns the ordering rank used to validate non-decreasing item
// order within a round: intro=0 < debut=1 < build=2 < spacedRep=3 < use=4.
func (it RoundItem) category() int {
	if it.Kind == ItemIntro {
		return 0
	}
	switch it.Cycle.Type {
	case CycleDebut:
		return 1
	case CycleBuild:
		return 2
	case CycleSpacedRep:
		return 3
	case CycleUse:
		return 4
	default:
		return 4
	}
}

// Category exposes the ordering rank for validators and tests outside this
// package.
func (it RoundItem) Category() int { return it.category() }

// Playable reports whether this item's audio is complete enough to send to
// the Cycle Player and it has not been disabled by a live config change.
func (it RoundItem) Playable() bool {
	if it.Disabled {
		return false
	}
	if it.Kind == ItemIntro {
		return it.Intro.Complete()
	}
	return it.Cycle.Complete()
}

// Round is an ordered sequence of round items introducing and practising
// one LEGO.
type Round struct {
	RoundNumber int
	LegoID      string
	Items       []RoundItem

	// Valid is false when the Script Generator's validation pass found a
	// structural error. Controllers still sequence the valid items within
	// an invalid round, but must skip items individually flagged unplayable.
	Valid bool
}

// ApplyPlaybackCaps re-applies tightened MaxBuildPhrases/MaxSpacedRepPhrases/
// UseConsolidationCount caps to an already-built round by flipping Disabled
// on the overflow items, in round order, within each cycle category. It
// never re-enables an item a previous (looser) cap already disabled, never
// reorders items, and never touches a cap it is passed as <= 0 (the config
// diff that drives this only reports categories whose cap actually
// tightened). This is the mechanism §6 calls re-applying "playable" flags
// on a live session without rebuilding its cycles.
func (r *Round) ApplyPlaybackCaps(maxBuild, maxSpacedRep, maxUse int) {
	var buildSeen, spacedSeen, useSeen int
	for i := range r.Items {
		it := &r.Items[i]
		if it.Kind != ItemCycle || it.Disabled {
			continue
		}
		switch it.Cycle.Type {
		case CycleBuild:
			buildSeen++
			if maxBuild > 0 && buildSeen > maxBuild {
				it.Disabled = true
			}
		case CycleSpacedRep:
			spacedSeen++
			if maxSpacedRep > 0 && spacedSeen > maxSpacedRep {
				it.Disabled = true
			}
		case CycleUse:
			useSeen++
			if maxUse > 0 && useSeen > maxUse {
				it.Disabled = true
			}
		}
	}
}

// Script is an ordered sequence of rounds covering a seed range.
type Script struct {
	CourseCode string
	StartSeed  int
	EndSeed    int
	Rounds     []Round
}

// LegoPracticeState tracks spaced-repetition bookkeeping for one LEGO
// introduced during a session. Created on first debut, mutated by the
// Session Controller on cycle completion and by the scheduler, discarded
// when the session ends.
type LegoPracticeState struct {
	LegoID    string
	LastRound int
	UsePool   []string // phrase text, ordered ascending by syllable count
	UseCursor int
	SkipCount int
}

// Belt is a named contiguous range of seed positions used only by the
// Priority Round Loader to shape its fetch queue.
type Belt struct {
	Name      string
	StartSeed int
	EndSeed   int
}

// Contains reports whether seed falls within this belt's range.
func (b Belt) Contains(seed int) bool {
	return seed >= b.StartSeed && seed <= b.EndSeed
}

// Diagnostic is a single validation finding attached to a round or item.
type Diagnostic struct {
	Severity DiagnosticSeverity
	Field    string
	Message  string
	// RoundNumber and LegoID locate the finding; both may be zero/empty
	// for script-level diagnostics.
	RoundNumber int
	LegoID      string
}

// DiagnosticSeverity distinguishes warnings (non-blocking) from errors
// (invalidate the round or item they attach to).
type DiagnosticSeverity int

const (
	SeverityWarning DiagnosticSeverity = iota
	SeverityError
)

func (s DiagnosticSeverity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// ValidationReport is the first-class artifact returned alongside every
// generated Script. It records every diagnostic produced while walking the
// script, plus summary counts.
type ValidationReport struct {
	TotalRounds int
	ValidRounds int
	Diagnostics []Diagnostic
}

// Valid reports whether the script has zero error-severity diagnostics.
func (r ValidationReport) Valid() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return false
		}
	}
	return true
}

// LegoID formats a LEGO identifier from its seed number and index, e.g.
// S0045L02.
func LegoID(seedNumber, legoIndex int) string {
	return fmt.Sprintf("S%04dL%02d", seedNumber, legoIndex)
}

// SeedID formats a seed identifier from its seed number, e.g. S0045.
func SeedID(seedNumber int) string {
	return fmt.Sprintf("S%04d", seedNumber)
}

// VADEventKind enumerates voice-activity detection states produced by the
// Voice Activity Analyzer's energy-threshold classifier.
type VADEventKind int

const (
	VADSpeechStart VADEventKind = iota
	VADSpeechContinue
	VADSpeechEnd
	VADSilence
)

func (k VADEventKind) String() string {
	switch k {
	case VADSpeechStart:
		return "speechStart"
	case VADSpeechContinue:
		return "speechContinue"
	case VADSpeechEnd:
		return "speechEnd"
	case VADSilence:
		return "silence"
	default:
		return "unknown"
	}
}

// VADEvent represents a single frame's voice-activity classification. Unlike
// probability-scored VAD models, this analyzer classifies purely from
// short-time RMS energy expressed in decibels.
type VADEvent struct {
	Kind     VADEventKind
	EnergyDb float64
}

// SpeechTimingResult is what the Voice Activity Analyzer returns at the end
// of a cycle: the learner's speech timing relative to the cycle's phase
// boundaries.
type SpeechTimingResult struct {
	PromptEndMs  int
	Voice1StartMs int

	SpeechStartMs *int
	SpeechEndMs   *int

	ResponseLatencyMs *int
	LearnerDurationMs *int
	DurationDeltaMs   *int

	StartedDuringPrompt   bool
	StillSpeakingAtVoice1 bool
	SpeechDetected        bool

	PeakEnergyDb    float64
	AverageEnergyDb float64
}

// Phase enumerates the Cycle Player's four playback phases plus the
// transition bookend. Phase markers are reported to the analyzer via
// Analyzer.MarkPhaseTransition.
type Phase int

const (
	PhasePrompt Phase = iota
	PhasePause
	PhaseVoice1
	PhaseVoice2
	PhaseTransition
)

func (p Phase) String() string {
	switch p {
	case PhasePrompt:
		return "prompt"
	case PhasePause:
		return "pause"
	case PhaseVoice1:
		return "voice1"
	case PhaseVoice2:
		return "voice2"
	case PhaseTransition:
		return "transition"
	default:
		return "unknown"
	}
}

// Progress is a point-in-time snapshot of session advancement, attached to
// every emitted event so UI listeners can render progress without querying
// the controller separately.
type Progress struct {
	RoundIndex    int
	RoundCount    int
	ItemIndex     int
	ItemCount     int
}

// EventKind enumerates every event the core emits, across the Cycle Player
// and the Session Controller. Event objects are forwarded, never re-typed,
// as they cross from player to controller to transport.
type EventKind string

const (
	EventPhasePromptStart EventKind = "phase:prompt:start"
	EventPhasePromptEnd   EventKind = "phase:prompt:end"
	EventPhasePauseStart  EventKind = "phase:pause:start"
	EventPhasePauseEnd    EventKind = "phase:pause:end"
	EventPhaseVoice1Start EventKind = "phase:voice1:start"
	EventPhaseVoice1End   EventKind = "phase:voice1:end"
	EventPhaseVoice2Start EventKind = "phase:voice2:start"
	EventPhaseVoice2End   EventKind = "phase:voice2:end"
	EventCycleComplete    EventKind = "cycle:complete"
	EventCycleAborted     EventKind = "cycle:aborted"
	EventCycleAudioError  EventKind = "cycle:audio-error"
	EventIntroStart       EventKind = "intro:start"
	EventIntroComplete    EventKind = "intro:complete"
	EventIntroAborted     EventKind = "intro:aborted"

	EventSessionStarted EventKind = "session:started"
	EventSessionPaused  EventKind = "session:paused"
	EventSessionResumed EventKind = "session:resumed"
	EventSessionComplete EventKind = "session:complete"

	EventRoundLoading   EventKind = "round:loading"
	EventRoundLoaded    EventKind = "round:loaded"
	EventRoundStarted   EventKind = "round:started"
	EventRoundCompleted EventKind = "round:completed"
	EventRoundInvalid   EventKind = "round:invalid"

	EventItemStarted   EventKind = "item:started"
	EventItemCompleted EventKind = "item:completed"

	EventCycleStarted EventKind = "cycle_started" // VAD monitoring start marker
)

// Event is the envelope carried to every listener. Timestamp is monotonic
// relative to session start.
type Event struct {
	Kind      EventKind
	Timestamp time.Duration
	Progress  Progress

	// RoundNumber and ItemIndex locate the event; zero values mean
	// session-scoped (no current round/item).
	RoundNumber int
	ItemIndex   int

	// Err carries the error for cycle:audio-error events, and for
	// item:completed when the item's playback returned one.
	Err error
}
