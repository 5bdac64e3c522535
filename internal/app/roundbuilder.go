package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ssi-learning/playbackcore/internal/loader"
	"github.com/ssi-learning/playbackcore/internal/observe"
	"github.com/ssi-learning/playbackcore/internal/resilience"
	"github.com/ssi-learning/playbackcore/internal/script"
	"github.com/ssi-learning/playbackcore/pkg/types"
)

// generatorRoundBuilder adapts the Script Generator's range-based Generate
// to the Priority Round Loader's single-seed RoundBuilder contract, behind
// a circuit breaker that protects the background worker from a content
// source that has started failing on every call.
//
// A seed with no LEGO is not a breaker failure — it is the loader's signal
// that the course has ended, so it is unwrapped from the breaker's view
// before being returned to the caller.
type generatorRoundBuilder struct {
	gen     *script.Generator
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics
}

var _ loader.RoundBuilder = (*generatorRoundBuilder)(nil)

func newGeneratorRoundBuilder(gen *script.Generator, breaker *resilience.CircuitBreaker, metrics *observe.Metrics) *generatorRoundBuilder {
	return &generatorRoundBuilder{gen: gen, breaker: breaker, metrics: metrics}
}

// BuildRound implements loader.RoundBuilder.
func (b *generatorRoundBuilder) BuildRound(ctx context.Context, courseCode string, seed int) (types.Round, error) {
	var round types.Round
	var notFound *loader.ErrSeedNotFound

	execErr := b.breaker.Execute(func() error {
		start := time.Now()
		scr, _, err := b.gen.Generate(ctx, courseCode, seed, seed)
		b.metrics.ScriptGenerationDuration.Record(context.Background(), time.Since(start).Seconds())
		if err != nil {
			return err
		}
		if len(scr.Rounds) == 0 {
			notFound = &loader.ErrSeedNotFound{Seed: seed}
			return nil
		}
		round = scr.Rounds[0]
		return nil
	})
	if execErr != nil {
		if errors.Is(execErr, resilience.ErrCircuitOpen) {
			return types.Round{}, execErr
		}
		return types.Round{}, fmt.Errorf("app: build round for seed %d: %w", seed, execErr)
	}
	if notFound != nil {
		return types.Round{}, notFound
	}
	return round, nil
}
