// Package sessionctl implements the Session Controller: a round-level state
// machine that sequences the script through the Cycle Player, supports
// incremental round loading, pause/resume/skip, and mutates the
// spaced-repetition scheduler's per-LEGO state on cycle completion.
package sessionctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ssi-learning/playbackcore/pkg/types"
)

// State enumerates the Session Controller's lifecycle.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateComplete
)

// String returns the lower camel-case name used in diagnostics.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ErrNotInitialized names the programmer-contract violation of calling
// start before initialize. Start does not check for it: a Controller that
// was never initialized starts with no rounds and an unknown total, emits
// round:loading and parks until AddRounds supplies a round.
var ErrNotInitialized = errors.New("sessionctl: start called before initialize")

// CyclePlayer is the subset of internal/player.Player the Session
// Controller drives. Defined here (rather than imported) to keep this
// package's dependency on the player package to the one method shape it
// actually calls, and to make the controller trivially mockable in tests.
type CyclePlayer interface {
	Unlock(ctx context.Context) error
	PlayIntro(ctx context.Context, intro types.IntroItem, progress types.Progress, roundNumber, itemIndex int) error
	PlayCycle(ctx context.Context, cycle types.Cycle, progress types.Progress, roundNumber, itemIndex int) error
	Stop()
}

// Listener receives every event the Session Controller emits, including
// phase events forwarded from the Cycle Player.
type Listener func(types.Event)

// legoState is the spaced-repetition bookkeeping record, mutated on cycle
// completion and on round:completed per §4.4.
type legoState struct {
	lastRound int
	usePool   []string
	useCursor int
	skipCount int
}

// Controller is the Session Controller. Not safe for concurrent calls to
// its control-surface methods (start/pause/resume/stop/skip*); the UI event
// loop is expected to serialise them, mirroring the spec's single-threaded
// cooperative model.
type Controller struct {
	player CyclePlayer

	mu         sync.Mutex
	state      State
	rounds     []types.Round
	roundIdx   int
	itemIdx    int
	knownTotal int // -1 means unknown / still growing
	listeners  []Listener
	legos      map[string]*legoState

	cancelCurrent context.CancelFunc
}

// New creates a Controller driving player.
func New(player CyclePlayer) *Controller {
	return &Controller{player: player, state: StateIdle, knownTotal: -1, legos: make(map[string]*legoState)}
}

// AddListener registers l to receive every emitted event.
func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Controller) emit(kind types.EventKind, err error) {
	c.mu.Lock()
	progress := types.Progress{
		RoundIndex: c.roundIdx,
		RoundCount: len(c.rounds),
		ItemIndex:  c.itemIdx,
	}
	if c.roundIdx < len(c.rounds) {
		progress.ItemCount = len(c.rounds[c.roundIdx].Items)
	}
	roundNumber := 0
	if c.roundIdx < len(c.rounds) {
		roundNumber = c.rounds[c.roundIdx].RoundNumber
	}
	itemIdx := c.itemIdx
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	evt := types.Event{Kind: kind, Progress: progress, RoundNumber: roundNumber, ItemIndex: itemIdx, Err: err}
	for _, l := range listeners {
		safeCall(l, evt)
	}
}

// safeCall invokes l and recovers a panic; a UI listener crash must not
// derail round sequencing.
func safeCall(l Listener, evt types.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sessionctl: listener panicked", "recovered", r, "event", evt.Kind)
		}
	}()
	l(evt)
}

// Initialize loads rounds (possibly empty, to be filled incrementally by
// AddRounds) and positions the controller at resumeRoundIndex. It enters
// StateIdle.
func (c *Controller) Initialize(rounds []types.Round, knownTotal int, resumeRoundIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rounds = append([]types.Round(nil), rounds...)
	c.knownTotal = knownTotal
	c.roundIdx = resumeRoundIndex
	c.itemIdx = 0
	c.state = StateIdle
	for _, r := range rounds {
		if _, ok := c.legos[r.LegoID]; !ok {
			c.legos[r.LegoID] = &legoState{lastRound: r.RoundNumber}
		}
	}
}

// AddRound appends round, append-only. If playback was blocked waiting for
// this round, it resumes.
func (c *Controller) AddRound(round types.Round) {
	c.AddRounds([]types.Round{round})
}

// AddRounds appends rounds, append-only, in order.
func (c *Controller) AddRounds(rounds []types.Round) {
	c.mu.Lock()
	wasWaiting := c.state == StatePlaying && c.roundIdx >= len(c.rounds)
	c.rounds = append(c.rounds, rounds...)
	for _, r := range rounds {
		if _, ok := c.legos[r.LegoID]; !ok {
			c.legos[r.LegoID] = &legoState{lastRound: r.RoundNumber}
		}
	}
	c.mu.Unlock()

	c.emit(types.EventRoundLoaded, nil)
	if wasWaiting {
		c.driveAsync()
	}
}

// ApplyConfigDiff re-applies tightened build/spaced-rep/use caps to every
// round already loaded (§4.3, §6: "configuration changes flip playable flags
// on items but never rebuild or re-order rounds"). Pass 0 for a cap that
// did not tighten. Rounds added later through AddRounds are not capped by
// an earlier call.
func (c *Controller) ApplyConfigDiff(maxBuildPhrases, maxSpacedRepPhrases, useConsolidationCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rounds {
		c.rounds[i].ApplyPlaybackCaps(maxBuildPhrases, maxSpacedRepPhrases, useConsolidationCount)
	}
}

// HasRound reports whether round index idx has been loaded.
func (c *Controller) HasRound(idx int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return idx >= 0 && idx < len(c.rounds)
}

// GetRoundCount returns the number of rounds currently loaded.
func (c *Controller) GetRoundCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rounds)
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start unlocks the audio handle (must be called synchronously from a user
// gesture) and begins or resumes playback from idle or paused.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st != StateIdle && st != StatePaused {
		return fmt.Errorf("sessionctl: start called in state %s", st)
	}
	if err := c.player.Unlock(ctx); err != nil {
		return fmt.Errorf("sessionctl: start: %w", err)
	}

	c.mu.Lock()
	resuming := c.state == StatePaused
	c.state = StatePlaying
	c.mu.Unlock()

	if resuming {
		c.emit(types.EventSessionResumed, nil)
	} else {
		c.emit(types.EventSessionStarted, nil)
	}
	c.driveAsync()
	return nil
}

// Pause stops the current cycle (emitting cycle:aborted from the player)
// and returns to StatePaused. Cycle progress within the round is lost; the
// next Resume restarts the current item from the beginning.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	c.state = StatePaused
	cancel := c.cancelCurrent
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.player.Stop()
	c.emit(types.EventSessionPaused, nil)
}

// Resume is the reverse of Pause.
func (c *Controller) Resume(ctx context.Context) error {
	return c.Start(ctx)
}

// Stop aborts any current cycle and returns to StateIdle; loaded rounds and
// position are retained for a later Start.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancelCurrent
	c.state = StateIdle
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.player.Stop()
}

// SkipCycle aborts the current cycle and advances to the next item.
func (c *Controller) SkipCycle() {
	c.mu.Lock()
	cancel := c.cancelCurrent
	if c.roundIdx < len(c.rounds) {
		c.itemIdx++
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.player.Stop()
	c.driveAsync()
}

// SkipRound aborts the current cycle and advances to the next round.
func (c *Controller) SkipRound() {
	c.mu.Lock()
	cancel := c.cancelCurrent
	c.roundIdx++
	c.itemIdx = 0
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.player.Stop()
	c.driveAsync()
}

// JumpToRound aborts the current cycle and jumps to round index n.
func (c *Controller) JumpToRound(n int) {
	c.mu.Lock()
	cancel := c.cancelCurrent
	c.roundIdx = n
	c.itemIdx = 0
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.player.Stop()
	c.driveAsync()
}

// driveAsync runs the item-advance algorithm on its own goroutine so that
// control-surface methods (Start, SkipCycle, ...) never block their caller
// on audio playback.
func (c *Controller) driveAsync() {
	go c.driveLoop()
}

// driveLoop implements the item-advance algorithm (§4.3): while playing,
// advance through the script one item at a time, parking on an unloaded
// round and finishing the session at the known total.
func (c *Controller) driveLoop() {
	for {
		c.mu.Lock()
		if c.state != StatePlaying {
			c.mu.Unlock()
			return
		}

		if c.knownTotal >= 0 && c.roundIdx >= c.knownTotal {
			c.state = StateComplete
			c.mu.Unlock()
			c.emit(types.EventSessionComplete, nil)
			return
		}

		if c.roundIdx >= len(c.rounds) {
			c.mu.Unlock()
			c.emit(types.EventRoundLoading, nil)
			return // parked; AddRounds will re-drive
		}

		round := c.rounds[c.roundIdx]

		if c.itemIdx == 0 {
			c.mu.Unlock()
			c.emit(types.EventRoundStarted, nil)
			if !round.Valid {
				c.emit(types.EventRoundInvalid, nil)
			}
			c.mu.Lock()
		}

		if c.itemIdx >= len(round.Items) {
			c.decrementSkipCountsLocked()
			c.roundIdx++
			c.itemIdx = 0
			c.mu.Unlock()
			c.emit(types.EventRoundCompleted, nil)
			continue
		}

		item := round.Items[c.itemIdx]
		ctx, cancel := context.WithCancel(context.Background())
		c.cancelCurrent = cancel
		c.mu.Unlock()

		c.emit(types.EventItemStarted, nil)
		var err error
		if !item.Playable() {
			// CycleIntegrityError: skip invalid items but still bracket
			// them with item:started/item:completed so UI progress
			// indicators advance per §7.
			err = nil
		} else if item.Kind == types.ItemIntro {
			err = c.player.PlayIntro(ctx, item.Intro, types.Progress{}, round.RoundNumber, c.itemIdx)
		} else {
			err = c.player.PlayCycle(ctx, item.Cycle, types.Progress{}, round.RoundNumber, c.itemIdx)
		}
		// A cancelled ctx means Pause, Stop, SkipCycle, SkipRound or
		// JumpToRound interrupted this item; that caller has already set
		// the next position, so this loop neither records practice nor
		// advances.
		interrupted := ctx.Err() != nil
		cancel()
		c.emit(types.EventItemCompleted, err)

		c.mu.Lock()
		if interrupted || c.state != StatePlaying {
			// Pause/Stop aborted this item mid-flight; a practice event is
			// only recorded for a cycle that ran to natural completion.
			c.mu.Unlock()
			return
		}
		if item.Kind == types.ItemCycle && item.Playable() && err == nil {
			c.recordPracticeLocked(item.Cycle.LegoID, round.RoundNumber)
		}
		c.itemIdx++
		c.cancelCurrent = nil
		c.mu.Unlock()
	}
}

// recordPracticeLocked mutates the LEGO's spaced-repetition state after a
// successful, non-intro cycle completion. Caller must hold c.mu.
func (c *Controller) recordPracticeLocked(legoID string, roundNumber int) {
	st, ok := c.legos[legoID]
	if !ok {
		st = &legoState{}
		c.legos[legoID] = st
	}
	st.lastRound = roundNumber
}

// decrementSkipCountsLocked implements the scheduler's per-round decrement
// (§4.4): on every round:completed, every introduced LEGO's skipCount
// decrements, floored at 0. Caller must hold c.mu.
func (c *Controller) decrementSkipCountsLocked() {
	for _, st := range c.legos {
		if st.skipCount > 0 {
			st.skipCount--
		}
	}
}
