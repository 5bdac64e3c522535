package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// KnownCourseDBBackends lists the registered coursedb.Reader backend names
// this binary ships with. Used by [Validate] to warn about unrecognised
// backend names (likely a typo rather than a deliberately unregistered
// third-party backend).
var KnownCourseDBBackends = []string{"postgres", "mock"}

// KnownAudioStoreBackends lists the registered audiostore.Resolver backend
// names this binary ships with.
var KnownAudioStoreBackends = []string{"http", "mock"}

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every hard failure found; soft issues are logged as
// warnings rather than rejected, matching the error taxonomy's "degrade and
// continue" posture for everything short of a programmer-contract
// violation.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateBackendName("course_db", cfg.CourseDB.Backend, KnownCourseDBBackends)
	validateBackendName("audio_store", cfg.AudioStore.Backend, KnownAudioStoreBackends)

	if cfg.CourseDB.Backend == "postgres" && cfg.CourseDB.PostgresDSN == "" {
		errs = append(errs, errors.New("course_db.postgres_dsn is required when course_db.backend is \"postgres\""))
	}
	if cfg.AudioStore.Backend == "http" && cfg.AudioStore.BaseURL == "" {
		errs = append(errs, errors.New("audio_store.base_url is required when audio_store.backend is \"http\""))
	}
	if cfg.TotalSeeds < 0 {
		errs = append(errs, errors.New("total_seeds must be >= 0"))
	}
	if cfg.CourseCode == "" {
		slog.Warn("course_code is not set; defaulting to the empty course code")
	}

	errs = append(errs, validateBelts(cfg.Belts)...)
	errs = append(errs, validatePlaybackOverrides("playback.course", cfg.Playback.Course)...)
	errs = append(errs, validatePlaybackOverrides("playback.learner", cfg.Playback.Learner)...)

	return errors.Join(errs...)
}

func validateBelts(belts []BeltConfig) []error {
	var errs []error
	seen := make(map[string]int, len(belts))
	for i, b := range belts {
		prefix := fmt.Sprintf("belts[%d]", i)
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if prev, ok := seen[b.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of belts[%d]", prefix, b.Name, prev))
		} else {
			seen[b.Name] = i
		}
		if b.StartSeed < 1 {
			errs = append(errs, fmt.Errorf("%s.start_seed must be >= 1", prefix))
		}
		if b.EndSeed < b.StartSeed {
			errs = append(errs, fmt.Errorf("%s.end_seed (%d) must be >= start_seed (%d)", prefix, b.EndSeed, b.StartSeed))
		}
		for j := 0; j < i; j++ {
			if beltsOverlap(belts[j], b) {
				errs = append(errs, fmt.Errorf("%s overlaps belts[%d]", prefix, j))
			}
		}
	}
	return errs
}

func beltsOverlap(a, b BeltConfig) bool {
	return a.StartSeed <= b.EndSeed && b.StartSeed <= a.EndSeed
}

func validatePlaybackOverrides(prefix string, o PlaybackOverrides) []error {
	var errs []error
	if o.MaxBuildPhrases != nil && *o.MaxBuildPhrases < 0 {
		errs = append(errs, fmt.Errorf("%s.max_build_phrases must be >= 0", prefix))
	}
	if o.MaxSpacedRepPhrases != nil && *o.MaxSpacedRepPhrases < 0 {
		errs = append(errs, fmt.Errorf("%s.max_spaced_rep_phrases must be >= 0", prefix))
	}
	if o.UseConsolidationCount != nil && *o.UseConsolidationCount < 0 {
		errs = append(errs, fmt.Errorf("%s.use_consolidation_count must be >= 0", prefix))
	}
	if o.NMinus1PhraseCount != nil && *o.NMinus1PhraseCount < 0 {
		errs = append(errs, fmt.Errorf("%s.n_minus1_phrase_count must be >= 0", prefix))
	}
	if o.PauseBootupMs != nil && *o.PauseBootupMs < 0 {
		errs = append(errs, fmt.Errorf("%s.pause_bootup_ms must be >= 0", prefix))
	}
	if o.PauseScaleFactor != nil && *o.PauseScaleFactor < 0 {
		errs = append(errs, fmt.Errorf("%s.pause_scale_factor must be >= 0", prefix))
	}
	if o.VADMinFramesAbove != nil && *o.VADMinFramesAbove < 1 {
		errs = append(errs, fmt.Errorf("%s.vad_min_frames_above must be >= 1", prefix))
	}
	if o.VADSpeechEndDebounceMs != nil && *o.VADSpeechEndDebounceMs < 0 {
		errs = append(errs, fmt.Errorf("%s.vad_speech_end_debounce_ms must be >= 0", prefix))
	}
	return errs
}

// validateBackendName logs a warning if name is non-empty and not found in
// known. An empty name is allowed — it means "no backend configured",
// which the caller's own logic decides how to treat.
func validateBackendName(kind, name string, known []string) {
	if name == "" || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name — may be a typo or third-party backend",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
