package config

import "fmt"

// ConfigDiff describes what changed between two configs. Playback and belt
// changes are safe to apply to a live session without rebuilding its
// already-built rounds (§6: "config hot-diff without cycle rebuild");
// backend changes are not, since swapping a course-content source or audio
// resolver out from under an open session invalidates its in-flight
// fetches.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PlaybackChanged bool
	Playback        ResolvedPlayback

	BeltsChanged bool
	Belts        []BeltConfig

	RestartRequired bool
	RestartReasons  []string
}

// Diff compares old and new configs and reports what changed. The caller
// applies a PlaybackChanged diff's caps to every live session's loaded
// rounds via sessionctl.Controller.ApplyConfigDiff and keeps the new
// playback and belt settings for sessions started afterwards (see
// internal/app.App.onConfigChange);
// RestartRequired fields are surfaced as a warning rather than applied,
// since this process has no mechanism to swap a coursedb.Reader or
// audiostore.Resolver underneath an open connection.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldResolved := old.Playback.Resolve()
	newResolved := new.Playback.Resolve()
	if oldResolved != newResolved {
		d.PlaybackChanged = true
		d.Playback = newResolved
	}

	if !beltsEqual(old.Belts, new.Belts) {
		d.BeltsChanged = true
		d.Belts = new.Belts
	}

	if old.CourseDB != new.CourseDB {
		d.RestartRequired = true
		d.RestartReasons = append(d.RestartReasons, "course_db backend or DSN changed")
	}
	if old.AudioStore != new.AudioStore {
		d.RestartRequired = true
		d.RestartReasons = append(d.RestartReasons, "audio_store backend or base URL changed")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = true
		d.RestartReasons = append(d.RestartReasons, "server.listen_addr changed")
	}

	return d
}

func beltsEqual(a, b []BeltConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders a diff as a one-line human-readable summary for logging.
func (d ConfigDiff) String() string {
	if !d.LogLevelChanged && !d.PlaybackChanged && !d.BeltsChanged && !d.RestartRequired {
		return "no changes"
	}
	s := ""
	if d.LogLevelChanged {
		s += fmt.Sprintf("log_level->%s ", d.NewLogLevel)
	}
	if d.PlaybackChanged {
		s += "playback-changed "
	}
	if d.BeltsChanged {
		s += fmt.Sprintf("belts-changed(%d) ", len(d.Belts))
	}
	if d.RestartRequired {
		s += fmt.Sprintf("restart-required:%v", d.RestartReasons)
	}
	return s
}
