// Package admission gates detected opportunities through ordered risk
// checks before they may become execution signals.
package admission

import "github.com/vegas-max/titan-arb/pkg/types"

// Oracle scores an opportunity with a learned model. Implementations
// are injected; the gate itself never trains or loads models.
type Oracle interface {
	// Score returns a value in [0,1]; higher means more likely to land.
	Score(opp *types.Opportunity) float64
	// IsConfident reports whether the model has enough history to be
	// trusted. An unconfident oracle never blocks.
	IsConfident() bool
}

// DisabledOracle is the no-model oracle: it accepts everything.
type DisabledOracle struct{}

func (DisabledOracle) Score(*types.Opportunity) float64 { return 1 }
func (DisabledOracle) IsConfident() bool                { return false }

// Learner consumes execution outcomes so an oracle can improve.
// Observe must not block the executor; implementations queue.
type Learner interface {
	Observe(result *types.ExecutionResult)
}

// NopLearner discards observations.
type NopLearner struct{}

func (NopLearner) Observe(*types.ExecutionResult) {}
