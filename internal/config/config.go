// Package config provides the playback core's configuration schema, loader,
// backend registry, and the three-tier (defaults < course < learner)
// playback-parameter merge described in spec §3 and §6.
package config

import (
	"github.com/ssi-learning/playbackcore/internal/script"
	"github.com/ssi-learning/playbackcore/pkg/vad"
)

// Config is the root configuration structure for the playback core server.
type Config struct {
	Server ServerConfig `yaml:"server"`

	// CourseCode identifies the single course this deployment serves. A
	// server process serves one course; multi-course deployments run one
	// process per course behind a router, matching the course content
	// database's own course_code partitioning.
	CourseCode string `yaml:"course_code"`

	// TotalSeeds bounds how far forward the Priority Round Loader's queue
	// construction walks (§4.6); it is also passed to the Session
	// Controller as the session's known round total.
	TotalSeeds int `yaml:"total_seeds"`

	CourseDB   CourseDBConfig   `yaml:"course_db"`
	AudioStore AudioStoreConfig `yaml:"audio_store"`
	Belts      []BeltConfig     `yaml:"belts"`
	Playback   PlaybackTiers    `yaml:"playback"`
}

// ServerConfig holds network and logging settings for the server process.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel is a closed enum mirroring log/slog's levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, "":
		return true
	default:
		return false
	}
}

// CourseDBConfig selects and configures the course-content row source (§A6:
// course_legos, course_practice_phrases, course_audio).
type CourseDBConfig struct {
	// Backend selects the registered coursedb.Reader constructor. The
	// built-in name is "postgres"; tests and local development may
	// register "mock".
	Backend string `yaml:"backend"`

	// PostgresDSN is the connection string used by the "postgres" backend.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// AudioStoreConfig selects and configures the audio object store resolver
// (§6: content-addressed blob fetch by audio identifier).
type AudioStoreConfig struct {
	// Backend selects the registered audiostore.Resolver constructor. The
	// built-in name is "http"; tests and local development may register
	// "mock".
	Backend string `yaml:"backend"`

	// BaseURL is the object store's root, used by the "http" backend.
	BaseURL string `yaml:"base_url"`

	// Inline, when true, has the "http" backend fetch audio bytes inline
	// (SourceBlob) rather than handing back a playable URL (SourceURL).
	Inline bool `yaml:"inline"`
}

// BeltConfig names a contiguous seed range the Priority Round Loader uses
// to shape its background fetch queue (§3 Belt, §4.6).
type BeltConfig struct {
	Name      string `yaml:"name"`
	StartSeed int    `yaml:"start_seed"`
	EndSeed   int    `yaml:"end_seed"`
}

// PlaybackTiers holds the two sparse override tiers merged on top of
// in-code defaults to produce a session's resolved configuration (§3
// Configuration (resolved)): defaults ← course ← learner.
type PlaybackTiers struct {
	Course  PlaybackOverrides `yaml:"course"`
	Learner PlaybackOverrides `yaml:"learner"`
}

// PlaybackOverrides is a sparse override of the recognised configuration
// keys from spec §3. Pointer fields distinguish "not set at this tier"
// from "explicitly set to the zero value"; [Merge] only applies non-nil
// fields. This is a closed schema: YAML decoding with KnownFields(true)
// rejects any key not named here.
type PlaybackOverrides struct {
	PauseBootupMs          *int     `yaml:"pause_bootup_ms"`
	PauseScaleFactor       *float64 `yaml:"pause_scale_factor"`
	MaxBuildPhrases        *int     `yaml:"max_build_phrases"`
	MaxSpacedRepPhrases    *int     `yaml:"max_spaced_rep_phrases"`
	UseConsolidationCount  *int     `yaml:"use_consolidation_count"`
	NMinus1PhraseCount     *int     `yaml:"n_minus1_phrase_count"`
	VADEnergyThresholdDb   *float64 `yaml:"vad_energy_threshold_db"`
	VADMinFramesAbove      *int     `yaml:"vad_min_frames_above"`
	VADSpeechEndDebounceMs *int     `yaml:"vad_speech_end_debounce_ms"`
}

// merge applies every non-nil field of o onto base, returning the result.
// base is passed by value so callers never mutate a shared tier.
func (o PlaybackOverrides) merge(base PlaybackOverrides) PlaybackOverrides {
	if o.PauseBootupMs != nil {
		base.PauseBootupMs = o.PauseBootupMs
	}
	if o.PauseScaleFactor != nil {
		base.PauseScaleFactor = o.PauseScaleFactor
	}
	if o.MaxBuildPhrases != nil {
		base.MaxBuildPhrases = o.MaxBuildPhrases
	}
	if o.MaxSpacedRepPhrases != nil {
		base.MaxSpacedRepPhrases = o.MaxSpacedRepPhrases
	}
	if o.UseConsolidationCount != nil {
		base.UseConsolidationCount = o.UseConsolidationCount
	}
	if o.NMinus1PhraseCount != nil {
		base.NMinus1PhraseCount = o.NMinus1PhraseCount
	}
	if o.VADEnergyThresholdDb != nil {
		base.VADEnergyThresholdDb = o.VADEnergyThresholdDb
	}
	if o.VADMinFramesAbove != nil {
		base.VADMinFramesAbove = o.VADMinFramesAbove
	}
	if o.VADSpeechEndDebounceMs != nil {
		base.VADSpeechEndDebounceMs = o.VADSpeechEndDebounceMs
	}
	return base
}

// defaultOverrides expresses [script.DefaultParams] and the built-in VAD
// defaults as a fully-populated PlaybackOverrides, so the three-tier merge
// has a base tier to work from.
func defaultOverrides() PlaybackOverrides {
	sp := script.DefaultParams()
	return PlaybackOverrides{
		PauseBootupMs:          intPtr(sp.PauseBootupMs),
		PauseScaleFactor:       floatPtr(sp.PauseScaleFactor),
		MaxBuildPhrases:        intPtr(sp.MaxBuildPhrases),
		MaxSpacedRepPhrases:    intPtr(sp.MaxSpacedRepPhrases),
		UseConsolidationCount:  intPtr(sp.UseConsolidationCount),
		NMinus1PhraseCount:     intPtr(sp.NMinus1PhraseCount),
		VADEnergyThresholdDb:   floatPtr(defaultVADEnergyThresholdDb),
		VADMinFramesAbove:      intPtr(defaultVADMinFramesAbove),
		VADSpeechEndDebounceMs: intPtr(defaultVADSpeechEndDebounceMs),
	}
}

const (
	defaultVADEnergyThresholdDb   = -50.0
	defaultVADMinFramesAbove      = 3
	defaultVADSpeechEndDebounceMs = 500
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// ResolvedPlayback is the fully merged, per-session configuration handed to
// the Script Generator and the Voice Activity Analyzer. It is immutable for
// the lifetime of a session start per §6 ("resolved configuration is
// immutable per session start").
type ResolvedPlayback struct {
	Script script.Params
	VAD    vad.Config
}

// Resolve performs the defaults ← course ← learner deep merge and splits
// the result into the shapes [internal/script] and [pkg/vad] consume.
func (t PlaybackTiers) Resolve() ResolvedPlayback {
	merged := t.Course.merge(defaultOverrides())
	merged = t.Learner.merge(merged)

	return ResolvedPlayback{
		Script: script.Params{
			PauseBootupMs:         *merged.PauseBootupMs,
			PauseScaleFactor:      *merged.PauseScaleFactor,
			MaxBuildPhrases:       *merged.MaxBuildPhrases,
			MaxSpacedRepPhrases:   *merged.MaxSpacedRepPhrases,
			UseConsolidationCount: *merged.UseConsolidationCount,
			NMinus1PhraseCount:    *merged.NMinus1PhraseCount,
		},
		VAD: vad.Config{
			EnergyThresholdDb:   *merged.VADEnergyThresholdDb,
			MinFramesAbove:      *merged.VADMinFramesAbove,
			SpeechEndDebounceMs: *merged.VADSpeechEndDebounceMs,
		},
	}
}
