package script

// Params holds the resolved configuration keys the Script Generator reads.
// These mirror the configuration record's playback-shaping keys; the
// config package owns tier merging and validation and hands a Params value
// to the generator at construction.
type Params struct {
	PauseBootupMs         int
	PauseScaleFactor      float64
	MaxBuildPhrases       int
	MaxSpacedRepPhrases   int
	UseConsolidationCount int
	NMinus1PhraseCount    int
}

// DefaultParams returns the documented defaults for every recognised key.
func DefaultParams() Params {
	return Params{
		PauseBootupMs:         2000,
		PauseScaleFactor:      0.75,
		MaxBuildPhrases:       7,
		MaxSpacedRepPhrases:   12,
		UseConsolidationCount: 2,
		NMinus1PhraseCount:    3,
	}
}

const defaultPauseDurationMs = 4000
