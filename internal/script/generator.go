// Package script implements the Script Generator: it turns course content
// rows into an ordered, validated sequence of cycles organised into rounds,
// with Fibonacci-timed spaced repetition.
package script

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ssi-learning/playbackcore/pkg/coursedb"
	"github.com/ssi-learning/playbackcore/pkg/types"
)

// Generator builds a Script from course content rows.
type Generator struct {
	reader coursedb.Reader
	params Params
}

// New creates a Generator backed by reader, using params to size rounds and
// compute pause durations.
func New(reader coursedb.Reader, params Params) *Generator {
	return &Generator{reader: reader, params: params}
}

// legoState tracks spaced-repetition bookkeeping across the rounds built in
// a single Generate call.
type legoState struct {
	lastRound int
	usePool   []string // target text, ascending syllable order
	known     []string // known text, aligned by index with usePool
	cursor    int
}

// Generate builds a validated Script for courseCode over [startSeed,
// endSeed], along with the accompanying ValidationReport. An empty range
// (startSeed > endSeed) yields zero rounds and a valid, empty report.
func (g *Generator) Generate(ctx context.Context, courseCode string, startSeed, endSeed int) (types.Script, types.ValidationReport, error) {
	script := types.Script{CourseCode: courseCode, StartSeed: startSeed, EndSeed: endSeed}
	report := types.ValidationReport{}

	if startSeed > endSeed {
		return script, report, nil
	}

	// The LEGO list and the full course audio inventory are independent
	// reads; fetch them concurrently and assemble the audio index once
	// both land.
	var legos []coursedb.Lego
	var audioRows []coursedb.AudioRow
	g2, gctx := errgroup.WithContext(ctx)
	g2.Go(func() error {
		var err error
		legos, err = g.reader.ListLegos(gctx, courseCode, startSeed, endSeed)
		if err != nil {
			return fmt.Errorf("script: list legos: %w", err)
		}
		return nil
	})
	g2.Go(func() error {
		var err error
		audioRows, err = g.reader.ListAudioForCourse(gctx, courseCode)
		if err != nil {
			return fmt.Errorf("script: list audio: %w", err)
		}
		return nil
	})
	if err := g2.Wait(); err != nil {
		return script, report, err
	}
	if len(legos) == 0 {
		return script, report, nil
	}
	index := buildAudioIndex(audioRows)

	states := make(map[string]*legoState)
	var legoOrder []string

	roundNumber := 0
	for _, lego := range legos {
		roundNumber++
		legoID := lego.ID()

		phrases, err := g.reader.ListPhrases(ctx, courseCode, lego.SeedNumber, lego.LegoIndex)
		if err != nil {
			return script, report, fmt.Errorf("script: list phrases for %s: %w", legoID, err)
		}

		round, diags := g.buildRound(roundNumber, lego, phrases, index, states, legoOrder)
		report.TotalRounds++
		if round.Valid {
			report.ValidRounds++
		}
		report.Diagnostics = append(report.Diagnostics, diags...)
		script.Rounds = append(script.Rounds, round)

		legoOrder = append(legoOrder, legoID)
	}

	return script, report, nil
}

// buildRound constructs one round for lego, mutating states to record this
// LEGO's practice pool and to note its debut round for future
// spaced-repetition due-set computation.
func (g *Generator) buildRound(roundNumber int, lego coursedb.Lego, phrases []coursedb.PracticePhrase, index *AudioIndex, states map[string]*legoState, priorOrder []string) (types.Round, []types.Diagnostic) {
	legoID := lego.ID()
	seedID := types.SeedID(lego.SeedNumber)

	buildPool, usePool := partitionPhrases(phrases)

	var diags []types.Diagnostic
	used := make(map[string]bool) // target text already placed in this round
	itemSeq := 0

	var items []types.RoundItem

	// 1. Intro item.
	introAudio, _ := index.IntroAudio(legoID)
	intro := types.IntroItem{
		LegoID:              legoID,
		KnownText:           lego.KnownText,
		TargetText:          lego.TargetText,
		PresentationAudioID: introAudio,
	}
	items = append(items, types.RoundItem{Kind: types.ItemIntro, Intro: intro})
	if !intro.Complete() {
		diags = append(diags, types.Diagnostic{
			Severity: types.SeverityError, Field: "intro.presentationAudioId",
			Message: "intro has no usable audio", RoundNumber: roundNumber, LegoID: legoID,
		})
	}

	// 2. Debut cycle.
	debut := g.buildCycle(legoID, seedID, types.CycleDebut, lego.KnownText, lego.TargetText, index, roundNumber, &itemSeq)
	items = append(items, types.RoundItem{Kind: types.ItemCycle, Cycle: debut})
	if lego.KnownText != intro.KnownText || lego.TargetText != intro.TargetText {
		diags = append(diags, types.Diagnostic{
			Severity: types.SeverityError, Field: "structure",
			Message: "debut text does not match intro text", RoundNumber: roundNumber, LegoID: legoID,
		})
	}
	if !debut.Complete() {
		diags = append(diags, types.Diagnostic{
			Severity: types.SeverityError, Field: "debut.audio",
			Message: "debut cycle is missing audio", RoundNumber: roundNumber, LegoID: legoID,
		})
	}
	used[lego.TargetText] = true

	// 3. Build cycles, capped at MaxBuildPhrases, falling back to the
	// shortest unseen USE phrases if the build pool runs out.
	buildCount := 0
	for _, p := range buildPool {
		if buildCount >= g.params.MaxBuildPhrases {
			break
		}
		if used[p.TargetText] {
			continue
		}
		c := g.buildCycle(legoID, seedID, types.CycleBuild, p.KnownText, p.TargetText, index, roundNumber, &itemSeq)
		items = append(items, types.RoundItem{Kind: types.ItemCycle, Cycle: c})
		used[p.TargetText] = true
		buildCount++
	}
	if buildCount < g.params.MaxBuildPhrases {
		for _, p := range usePool {
			if buildCount >= g.params.MaxBuildPhrases {
				break
			}
			if used[p.TargetText] {
				continue
			}
			c := g.buildCycle(legoID, seedID, types.CycleBuild, p.KnownText, p.TargetText, index, roundNumber, &itemSeq)
			items = append(items, types.RoundItem{Kind: types.ItemCycle, Cycle: c})
			used[p.TargetText] = true
			buildCount++
		}
	}

	// 4. Spaced-rep cycles.
	due := dueLegosForRound(roundNumber, lastRoundMap(states), priorOrder)
	spacedCount := 0
	for i, d := range due {
		if spacedCount >= g.params.MaxSpacedRepPhrases {
			break
		}
		st := states[d.LegoID]
		if st == nil {
			continue
		}
		contribution := 1
		if i == 0 {
			// The N-1 LEGO: the due lego with the smallest offset (the
			// immediately prior debut) contributes NMinus1PhraseCount.
			contribution = g.params.NMinus1PhraseCount
		}
		taken := 0
		attempts := 0
		for taken < contribution && spacedCount < g.params.MaxSpacedRepPhrases && attempts < len(st.usePool) {
			phraseText := st.usePool[st.cursor%len(st.usePool)]
			st.cursor++
			attempts++
			if used[phraseText] {
				continue
			}
			known, target := "", phraseText
			// usePool stores target text; the known side comes from the
			// prior LEGO's use-pool record (legoState.known), captured when
			// that pool was built.
			known = st.knownFor(phraseText)
			c := g.buildCycle(d.LegoID, seedID, types.CycleSpacedRep, known, target, index, roundNumber, &itemSeq)
			items = append(items, types.RoundItem{Kind: types.ItemCycle, Cycle: c})
			used[phraseText] = true
			taken++
			spacedCount++
		}
	}

	// 5. Use (consolidation) cycles.
	useCount := 0
	for _, p := range usePool {
		if useCount >= g.params.UseConsolidationCount {
			break
		}
		if used[p.TargetText] {
			continue
		}
		c := g.buildCycle(legoID, seedID, types.CycleUse, p.KnownText, p.TargetText, index, roundNumber, &itemSeq)
		items = append(items, types.RoundItem{Kind: types.ItemCycle, Cycle: c})
		used[p.TargetText] = true
		useCount++
	}

	// Validate item ordering (non-decreasing category).
	for i := 1; i < len(items); i++ {
		if items[i].Category() < items[i-1].Category() {
			diags = append(diags, types.Diagnostic{
				Severity: types.SeverityWarning, Field: "order",
				Message: "round items are out of non-decreasing category order", RoundNumber: roundNumber, LegoID: legoID,
			})
			break
		}
	}
	if len(items) < 2 || items[0].Kind != types.ItemIntro {
		diags = append(diags, types.Diagnostic{
			Severity: types.SeverityError, Field: "structure",
			Message: "round is missing an intro", RoundNumber: roundNumber, LegoID: legoID,
		})
	} else if items[1].Kind != types.ItemCycle || items[1].Cycle.Type != types.CycleDebut {
		diags = append(diags, types.Diagnostic{
			Severity: types.SeverityError, Field: "structure",
			Message: "round is missing a debut cycle", RoundNumber: roundNumber, LegoID: legoID,
		})
	}

	valid := true
	for _, d := range diags {
		if d.Severity == types.SeverityError {
			valid = false
			break
		}
	}

	// Record this LEGO's own use pool (full, unfiltered) for future
	// spaced-repetition review, independent of what this round consumed.
	st := &legoState{lastRound: roundNumber}
	for _, p := range usePool {
		st.usePool = append(st.usePool, p.TargetText)
		st.known = append(st.known, p.KnownText)
	}
	states[legoID] = st

	return types.Round{RoundNumber: roundNumber, LegoID: legoID, Items: items, Valid: valid}, diags
}

// knownFor returns the known-side text recorded for targetText in this
// LEGO's use pool, falling back to targetText if not found (should not
// happen for pool-sourced phrases).
func (s *legoState) knownFor(targetText string) string {
	for i, t := range s.usePool {
		if t == targetText && i < len(s.known) {
			return s.known[i]
		}
	}
	return targetText
}

func lastRoundMap(states map[string]*legoState) map[string]int {
	m := make(map[string]int, len(states))
	for id, st := range states {
		m[id] = st.lastRound
	}
	return m
}

// buildCycle constructs a Cycle from known/target text, resolving audio via
// index and computing pause duration. Missing audio leaves the
// corresponding field empty so Cycle.Complete() reports false and
// validation can flag it; the Script Generator never fabricates an ID.
//
// seq is a per-round item counter threaded in by the caller so that cycle
// IDs are a pure function of the round's content — the same inputs always
// produce the same IDs, which is what the determinism invariant requires.
func (g *Generator) buildCycle(legoID, seedID string, cycleType types.CycleType, knownText, targetText string, index *AudioIndex, roundNumber int, seq *int) types.Cycle {
	knownEntry, _ := index.Lookup(NormalizeText(knownText))
	targetEntry, _ := index.Lookup(NormalizeText(targetText))

	v1dur, v2dur := targetEntry.Target1Ms, targetEntry.Target2Ms

	pause := defaultPauseDurationMs
	if v1dur > 0 && v2dur > 0 {
		pause = int(float64(g.params.PauseBootupMs) + g.params.PauseScaleFactor*float64(v1dur+v2dur) + 0.5)
	}

	*seq++
	return types.Cycle{
		ID:     fmt.Sprintf("R%d:%s:%s:%d", roundNumber, legoID, cycleType.String(), *seq),
		LegoID: legoID,
		SeedID: seedID,
		Type:   cycleType,
		Known: types.KnownSide{
			Text:    knownText,
			AudioID: knownEntry.KnownID,
		},
		Target: types.TargetSide{
			Text:             targetText,
			Voice1AudioID:    targetEntry.Target1ID,
			Voice1DurationMs: v1dur,
			Voice2AudioID:    targetEntry.Target2ID,
			Voice2DurationMs: v2dur,
		},
		PauseDurationMs: pause,
	}
}

// partitionPhrases splits phrases into build and use pools (discarding
// component-role phrases), each sorted by ascending target syllable count
// with stable ties.
func partitionPhrases(phrases []coursedb.PracticePhrase) (build, use []coursedb.PracticePhrase) {
	for _, p := range phrases {
		switch p.Role {
		case coursedb.RoleBuild:
			build = append(build, p)
		case coursedb.RoleUse:
			use = append(use, p)
		}
	}
	sort.SliceStable(build, func(i, j int) bool {
		return build[i].TargetSyllableCount < build[j].TargetSyllableCount
	})
	sort.SliceStable(use, func(i, j int) bool {
		return use[i].TargetSyllableCount < use[j].TargetSyllableCount
	})
	return build, use
}
