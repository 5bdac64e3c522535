// Package loader implements the Priority Round Loader: a background
// fetcher that populates the Session Controller with rounds in an order
// matching plausible learner intent, without blocking playback.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ssi-learning/playbackcore/pkg/types"
)

// throttleDelay separates consecutive worker iterations so background
// loading never saturates the content-fetch path the foreground also uses.
const throttleDelay = 50 * time.Millisecond

// prioritizeDeadline bounds how long Prioritize waits for its seed's round
// to arrive before giving up.
const prioritizeDeadline = 30 * time.Second

// RoundBuilder builds a single round for one seed. It is the loader's view
// of the Script Generator: a single-LEGO sub-range build per seed.
type RoundBuilder interface {
	BuildRound(ctx context.Context, courseCode string, seed int) (types.Round, error)
}

// RoundSink is the subset of the Session Controller the loader feeds.
type RoundSink interface {
	AddRound(round types.Round)
}

// ErrSeedNotFound indicates seed has no LEGO in the course, used internally
// to recognise CourseEndInferred.
type ErrSeedNotFound struct{ Seed int }

func (e *ErrSeedNotFound) Error() string {
	return fmt.Sprintf("loader: no lego at seed %d", e.Seed)
}

// Belt is a named contiguous range of seed positions, used only to shape
// the loader's queue.
type Belt struct {
	Name       string
	StartSeed  int
	EndSeed    int
}

// Contains reports whether seed falls within this belt.
func (b Belt) Contains(seed int) bool { return seed >= b.StartSeed && seed <= b.EndSeed }

// waiter is a pending Prioritize call awaiting its seed's round.
type waiter struct {
	seed int
	done chan struct{}
}

// Loader runs a single background worker that dequeues seeds, builds their
// rounds, and hands them to sink, throttled by throttleDelay between
// iterations.
type Loader struct {
	builder    RoundBuilder
	sink       RoundSink
	courseCode string
	belts      []Belt
	totalSeeds int

	mu        sync.Mutex
	queue     []int
	enqueued  map[int]bool
	loaded    map[int]bool
	waiters   []*waiter
	loggedErr map[string]bool
	courseEnd bool

	stopCh chan struct{}
	doneCh chan struct{}

	// OnFetchError, if set, is called once per distinct error signature
	// whenever a seed's content fetch fails (excluding the course-end
	// ErrSeedNotFound case, which is expected rather than an error).
	OnFetchError func(seed int, err error)
}

// QueueDepth returns the number of seeds currently pending in the
// background worker's queue.
func (l *Loader) QueueDepth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// New creates a Loader. belts shapes the queue construction order; totalSeeds
// bounds how far forward the loader walks belt-by-belt.
func New(builder RoundBuilder, sink RoundSink, courseCode string, belts []Belt, totalSeeds int) *Loader {
	return &Loader{
		builder:    builder,
		sink:       sink,
		courseCode: courseCode,
		belts:      belts,
		totalSeeds: totalSeeds,
		enqueued:   make(map[int]bool),
		loaded:     make(map[int]bool),
		loggedErr:  make(map[string]bool),
	}
}

// Start builds the initial queue from currentSeed (§4.6 steps 1-5) and
// starts the background worker.
func (l *Loader) Start(ctx context.Context, currentSeed int) {
	l.mu.Lock()
	l.queue = buildQueue(currentSeed, l.belts, l.totalSeeds)
	for _, s := range l.queue {
		l.enqueued[s] = true
	}
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	stopCh := l.stopCh
	doneCh := l.doneCh
	l.mu.Unlock()

	go l.run(ctx, stopCh, doneCh)
}

// buildQueue implements the queue construction algorithm: next seed, first
// seed of the next belt, remainder of the current belt, remainder of the
// next belt, then belt-by-belt forward until totalSeeds.
func buildQueue(currentSeed int, belts []Belt, totalSeeds int) []int {
	var queue []int
	seen := make(map[int]bool)
	add := func(seed int) {
		if seed < 1 || seed > totalSeeds || seen[seed] {
			return
		}
		seen[seed] = true
		queue = append(queue, seed)
	}

	add(currentSeed + 1)

	curBelt, curIdx := beltOf(belts, currentSeed)
	var nextBelt *Belt
	nextIdx := -1
	if curIdx >= 0 && curIdx+1 < len(belts) {
		nextBelt = &belts[curIdx+1]
		nextIdx = curIdx + 1
	}
	if nextBelt != nil {
		add(nextBelt.StartSeed)
	}
	if curBelt != nil {
		for s := currentSeed + 1; s <= curBelt.EndSeed; s++ {
			add(s)
		}
	}
	if nextBelt != nil {
		for s := nextBelt.StartSeed; s <= nextBelt.EndSeed; s++ {
			add(s)
		}
	}
	for i := nextIdx + 1; i >= 0 && i < len(belts); i++ {
		for s := belts[i].StartSeed; s <= belts[i].EndSeed; s++ {
			add(s)
		}
	}
	// Fall back to a plain forward walk if no belts were configured, or to
	// cover any tail beyond the last belt.
	lastCovered := currentSeed + 1
	if len(queue) > 0 {
		lastCovered = queue[len(queue)-1]
	}
	for s := lastCovered + 1; s <= totalSeeds; s++ {
		add(s)
	}
	return queue
}

func beltOf(belts []Belt, seed int) (*Belt, int) {
	for i := range belts {
		if belts[i].Contains(seed) {
			return &belts[i], i
		}
	}
	return nil, -1
}

// Prioritize moves seed to the queue head and resolves when its round is
// loaded or prioritizeDeadline passes, whichever comes first.
func (l *Loader) Prioritize(ctx context.Context, seed int) error {
	l.mu.Lock()
	if l.loaded[seed] {
		l.mu.Unlock()
		return nil
	}
	l.queue = moveToHead(l.queue, seed)
	if !l.enqueued[seed] {
		l.enqueued[seed] = true
	}
	w := &waiter{seed: seed, done: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	timer := time.NewTimer(prioritizeDeadline)
	defer timer.Stop()
	select {
	case <-w.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("loader: prioritize seed %d: deadline exceeded", seed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func moveToHead(queue []int, seed int) []int {
	out := make([]int, 0, len(queue)+1)
	out = append(out, seed)
	for _, s := range queue {
		if s != seed {
			out = append(out, s)
		}
	}
	return out
}

// Stop signals the worker to finish its current seed and exit.
func (l *Loader) Stop() {
	l.mu.Lock()
	stopCh := l.stopCh
	doneCh := l.doneCh
	l.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	if doneCh != nil {
		<-doneCh
	}
}

func (l *Loader) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		l.mu.Lock()
		if l.courseEnd || len(l.queue) == 0 {
			l.mu.Unlock()
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(throttleDelay):
				continue
			}
		}
		seed := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		round, err := l.builder.BuildRound(ctx, l.courseCode, seed)
		if err != nil {
			var notFound *ErrSeedNotFound
			if errors.As(err, &notFound) {
				l.mu.Lock()
				l.courseEnd = true
				l.queue = nil
				l.mu.Unlock()
				l.resolveWaiters(seed)
				continue
			}
			l.logOnce(seed, err)
			l.resolveWaiters(seed)
		} else {
			l.mu.Lock()
			l.loaded[seed] = true
			l.mu.Unlock()
			l.sink.AddRound(round)
			l.resolveWaiters(seed)
		}

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(throttleDelay):
		}
	}
}

// logOnce logs a ContentFetchError once per distinct error signature, per
// §7's policy that a single seed's fetch failure never halts the worker.
func (l *Loader) logOnce(seed int, err error) {
	sig := err.Error()
	l.mu.Lock()
	already := l.loggedErr[sig]
	l.loggedErr[sig] = true
	l.mu.Unlock()
	if !already {
		slog.Error("loader: content fetch failed", "seed", seed, "error", err)
		if l.OnFetchError != nil {
			l.OnFetchError(seed, err)
		}
	}
}

func (l *Loader) resolveWaiters(seed int) {
	l.mu.Lock()
	var remaining []*waiter
	var toResolve []*waiter
	for _, w := range l.waiters {
		if w.seed == seed {
			toResolve = append(toResolve, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	l.waiters = remaining
	l.mu.Unlock()
	for _, w := range toResolve {
		close(w.done)
	}
}
