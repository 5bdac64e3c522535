package script

import (
	"context"
	"reflect"
	"testing"

	"github.com/ssi-learning/playbackcore/pkg/coursedb"
	"github.com/ssi-learning/playbackcore/pkg/coursedb/mock"
	"github.com/ssi-learning/playbackcore/pkg/types"
)

func singleLegoFixture() *mock.Reader {
	return &mock.Reader{
		Legos: []coursedb.Lego{
			{CourseCode: "C1", SeedNumber: 1, LegoIndex: 1, KnownText: "hello", TargetText: "bonjour", Type: coursedb.LegoTypeA, IsNew: true},
		},
		Phrases: []coursedb.PracticePhrase{
			{CourseCode: "C1", SeedNumber: 1, LegoIndex: 1, Position: 1, Role: coursedb.RoleBuild, KnownText: "hello there", TargetText: "bonjour la", TargetSyllableCount: 3},
			{CourseCode: "C1", SeedNumber: 1, LegoIndex: 1, Position: 2, Role: coursedb.RoleUse, KnownText: "say hello", TargetText: "dis bonjour", TargetSyllableCount: 3},
		},
		Audio: []coursedb.AudioRow{
			{ID: "a-known", CourseCode: "C1", Role: coursedb.AudioRoleKnown, TextNormalized: "hello"},
			{ID: "a-t1", CourseCode: "C1", Role: coursedb.AudioRoleTarget1, TextNormalized: "bonjour", DurationMs: 1500},
			{ID: "a-t2", CourseCode: "C1", Role: coursedb.AudioRoleTarget2, TextNormalized: "bonjour", DurationMs: 1600},
			{ID: "a-intro", CourseCode: "C1", Role: coursedb.AudioRolePresentation, LegoID: "S0001L01"},
			{ID: "a-known-bt", CourseCode: "C1", Role: coursedb.AudioRoleKnown, TextNormalized: "hello there"},
			{ID: "a-t1-bt", CourseCode: "C1", Role: coursedb.AudioRoleTarget1, TextNormalized: "bonjour la"},
			{ID: "a-t2-bt", CourseCode: "C1", Role: coursedb.AudioRoleTarget2, TextNormalized: "bonjour la"},
			{ID: "a-known-use", CourseCode: "C1", Role: coursedb.AudioRoleKnown, TextNormalized: "say hello"},
			{ID: "a-t1-use", CourseCode: "C1", Role: coursedb.AudioRoleTarget1, TextNormalized: "dis bonjour"},
			{ID: "a-t2-use", CourseCode: "C1", Role: coursedb.AudioRoleTarget2, TextNormalized: "dis bonjour"},
		},
	}
}

// S1: an empty seed range yields zero rounds and a valid, empty report.
func TestGenerate_EmptyRange(t *testing.T) {
	g := New(singleLegoFixture(), DefaultParams())
	script, report, err := g.Generate(context.Background(), "C1", 5, 1)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(script.Rounds) != 0 {
		t.Fatalf("expected 0 rounds, got %d", len(script.Rounds))
	}
	if report.TotalRounds != 0 || report.ValidRounds != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
	if !report.Valid() {
		t.Fatal("expected empty report to be valid")
	}
}

// S2: a single LEGO produces one round, starting with an intro then a debut
// cycle, and is valid when all referenced audio exists.
func TestGenerate_SingleLegoRound(t *testing.T) {
	g := New(singleLegoFixture(), DefaultParams())
	script, report, err := g.Generate(context.Background(), "C1", 1, 1)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(script.Rounds) != 1 {
		t.Fatalf("expected 1 round, got %d", len(script.Rounds))
	}
	round := script.Rounds[0]
	if !round.Valid {
		t.Fatalf("expected round to be valid, diagnostics: %+v", report.Diagnostics)
	}
	if len(round.Items) < 2 {
		t.Fatalf("expected at least intro + debut, got %d items", len(round.Items))
	}
	if round.Items[0].Kind != types.ItemIntro {
		t.Fatalf("expected first item to be intro, got %v", round.Items[0].Kind)
	}
	if round.Items[1].Kind != types.ItemCycle || round.Items[1].Cycle.Type != types.CycleDebut {
		t.Fatalf("expected second item to be a debut cycle, got %+v", round.Items[1])
	}
	if round.Items[1].Cycle.Known.AudioID != "a-known" {
		t.Fatalf("expected debut known audio a-known, got %q", round.Items[1].Cycle.Known.AudioID)
	}
}

// S3: the first LEGO is due for spaced-repetition review in round 2, whose
// offset from the LEGO's debut round (1) is a Fibonacci number.
func TestGenerate_FibonacciSchedule(t *testing.T) {
	reader := &mock.Reader{
		Legos: []coursedb.Lego{
			{CourseCode: "C1", SeedNumber: 1, LegoIndex: 1, KnownText: "hello", TargetText: "bonjour", Type: coursedb.LegoTypeA},
			{CourseCode: "C1", SeedNumber: 2, LegoIndex: 1, KnownText: "goodbye", TargetText: "au revoir", Type: coursedb.LegoTypeA},
		},
		Phrases: []coursedb.PracticePhrase{
			{CourseCode: "C1", SeedNumber: 1, LegoIndex: 1, Position: 1, Role: coursedb.RoleUse, KnownText: "say hello", TargetText: "dis bonjour", TargetSyllableCount: 3},
		},
		Audio: []coursedb.AudioRow{
			{ID: "a1k", CourseCode: "C1", Role: coursedb.AudioRoleKnown, TextNormalized: "hello"},
			{ID: "a1t1", CourseCode: "C1", Role: coursedb.AudioRoleTarget1, TextNormalized: "bonjour"},
			{ID: "a1t2", CourseCode: "C1", Role: coursedb.AudioRoleTarget2, TextNormalized: "bonjour"},
			{ID: "a2k", CourseCode: "C1", Role: coursedb.AudioRoleKnown, TextNormalized: "goodbye"},
			{ID: "a2t1", CourseCode: "C1", Role: coursedb.AudioRoleTarget1, TextNormalized: "au revoir"},
			{ID: "a2t2", CourseCode: "C1", Role: coursedb.AudioRoleTarget2, TextNormalized: "au revoir"},
			{ID: "auk", CourseCode: "C1", Role: coursedb.AudioRoleKnown, TextNormalized: "say hello"},
			{ID: "aut1", CourseCode: "C1", Role: coursedb.AudioRoleTarget1, TextNormalized: "dis bonjour"},
			{ID: "aut2", CourseCode: "C1", Role: coursedb.AudioRoleTarget2, TextNormalized: "dis bonjour"},
		},
	}
	g := New(reader, DefaultParams())
	script, _, err := g.Generate(context.Background(), "C1", 1, 2)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(script.Rounds) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(script.Rounds))
	}
	// Round 2 is offset 1 from round 1's debut: due for review.
	round2 := script.Rounds[1]
	var sawSpacedRep bool
	for _, item := range round2.Items {
		if item.Kind == types.ItemCycle && item.Cycle.Type == types.CycleSpacedRep && item.Cycle.LegoID == "S0001L01" {
			sawSpacedRep = true
		}
	}
	if !sawSpacedRep {
		t.Fatal("expected round 2 to contain a spaced-repetition cycle reviewing S0001L01")
	}
}

// S4: pause duration is computed from pauseBootupMs + pauseScaleFactor *
// (voice1Duration + voice2Duration) when both audio durations are known.
func TestBuildCycle_PauseDuration(t *testing.T) {
	g := New(singleLegoFixture(), Params{PauseBootupMs: 2000, PauseScaleFactor: 0.75})
	index := buildAudioIndex([]coursedb.AudioRow{
		{ID: "k", Role: coursedb.AudioRoleKnown, TextNormalized: "hello"},
		{ID: "t1", Role: coursedb.AudioRoleTarget1, TextNormalized: "bonjour", DurationMs: 1500},
		{ID: "t2", Role: coursedb.AudioRoleTarget2, TextNormalized: "bonjour", DurationMs: 1600},
	})
	seq := 0
	cycle := g.buildCycle("S0001L01", "S0001", types.CycleDebut, "hello", "bonjour", index, 1, &seq)
	const want = 4325
	if cycle.PauseDurationMs != want {
		t.Fatalf("expected pauseDurationMs %d, got %d", want, cycle.PauseDurationMs)
	}
}

// S4b: when either voice duration is unknown, pause duration falls back to
// the documented default instead of computing from a partial duration.
func TestBuildCycle_PauseDurationFallback(t *testing.T) {
	g := New(singleLegoFixture(), DefaultParams())
	index := buildAudioIndex([]coursedb.AudioRow{
		{ID: "k", Role: coursedb.AudioRoleKnown, TextNormalized: "hello"},
		{ID: "t1", Role: coursedb.AudioRoleTarget1, TextNormalized: "bonjour"},
		{ID: "t2", Role: coursedb.AudioRoleTarget2, TextNormalized: "bonjour"},
	})
	seq := 0
	cycle := g.buildCycle("S0001L01", "S0001", types.CycleDebut, "hello", "bonjour", index, 1, &seq)
	if cycle.PauseDurationMs != defaultPauseDurationMs {
		t.Fatalf("expected fallback pauseDurationMs %d, got %d", defaultPauseDurationMs, cycle.PauseDurationMs)
	}
}

// S6: a round missing its intro's presentation audio is reported invalid
// with a diagnostic, but generation still completes.
func TestGenerate_MissingIntroAudioIsInvalid(t *testing.T) {
	reader := singleLegoFixture()
	var filtered []coursedb.AudioRow
	for _, a := range reader.Audio {
		if a.Role == coursedb.AudioRolePresentation {
			continue
		}
		filtered = append(filtered, a)
	}
	reader.Audio = filtered

	g := New(reader, DefaultParams())
	script, report, err := g.Generate(context.Background(), "C1", 1, 1)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(script.Rounds) != 1 {
		t.Fatalf("expected 1 round, got %d", len(script.Rounds))
	}
	if script.Rounds[0].Valid {
		t.Fatal("expected round to be invalid when intro audio is missing")
	}
	var sawDiag bool
	for _, d := range report.Diagnostics {
		if d.Severity == types.SeverityError && d.Field == "intro.presentationAudioId" {
			sawDiag = true
		}
	}
	if !sawDiag {
		t.Fatalf("expected an intro audio diagnostic, got %+v", report.Diagnostics)
	}
}

// Determinism: identical inputs and configuration must produce
// byte-identical (deep-equal) output across independent Generate calls.
func TestGenerate_Deterministic(t *testing.T) {
	g1 := New(singleLegoFixture(), DefaultParams())
	g2 := New(singleLegoFixture(), DefaultParams())

	script1, report1, err := g1.Generate(context.Background(), "C1", 1, 1)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	script2, report2, err := g2.Generate(context.Background(), "C1", 1, 1)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if !reflect.DeepEqual(script1, script2) {
		t.Fatalf("expected identical scripts across independent Generate calls:\n%+v\nvs\n%+v", script1, script2)
	}
	if !reflect.DeepEqual(report1, report2) {
		t.Fatalf("expected identical reports across independent Generate calls:\n%+v\nvs\n%+v", report1, report2)
	}
}
