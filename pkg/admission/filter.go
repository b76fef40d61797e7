package admission

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vegas-max/titan-arb/pkg/config"
	"github.com/vegas-max/titan-arb/pkg/market"
	"github.com/vegas-max/titan-arb/pkg/types"
)

// Stage names, in the order the gate runs them.
const (
	StageQuality = "quality_score"
	StageOracle  = "ml_oracle"
	StagePump    = "pump_check"
	StageTWAP    = "twap_bounds"
	StageGas     = "gas_ceiling"
)

// Decision is the gate's verdict on one opportunity.
type Decision struct {
	Accepted bool
	Stage    string // failing stage, empty when accepted
	Reason   string
}

// Accept is the decision for an opportunity that cleared every stage.
var Accept = Decision{Accepted: true}

func reject(stage, format string, args ...interface{}) Decision {
	return Decision{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

// Gate runs the ordered admission stages. Stages short-circuit: the
// first failure decides, later stages never run.
type Gate struct {
	cfg    *config.Config
	oracle Oracle
	twap   *market.TWAPOracle
}

// NewGate builds the gate. A nil oracle disables the final stage.
func NewGate(cfg *config.Config, twap *market.TWAPOracle, oracle Oracle) *Gate {
	if oracle == nil {
		oracle = DisabledOracle{}
	}
	return &Gate{cfg: cfg, oracle: oracle, twap: twap}
}

// Admit runs all stages against the opportunity. spotPrice is the
// route's canonical pair price this cycle; a zero spot skips the TWAP
// stage (no market to compare).
func (g *Gate) Admit(opp *types.Opportunity, spotPrice decimal.Decimal) Decision {
	// Stage 1: quality score.
	score := g.QualityScore(opp)
	opp.QualityScore = score
	if score < g.cfg.Admission.MinQualityScore {
		return reject(StageQuality, "score %d below minimum %d", score, g.cfg.Admission.MinQualityScore)
	}

	// Stage 2: learned oracle. Only blocks when enabled and confident.
	if g.cfg.Admission.OracleEnabled && g.oracle.IsConfident() {
		s := g.oracle.Score(opp)
		opp.Confidence = s
		if s < g.cfg.Admission.MinOracleScore {
			return reject(StageOracle, "oracle score %.2f below minimum %.2f", s, g.cfg.Admission.MinOracleScore)
		}
	}

	// Stage 3: pump heuristic.
	if risk := g.PumpRisk(opp); risk > g.cfg.Admission.PumpThreshold {
		return reject(StagePump, "pump risk %.2f above threshold %.2f", risk, g.cfg.Admission.PumpThreshold)
	}

	// Stage 4: TWAP deviation.
	if !spotPrice.IsZero() {
		key := market.PairKey(opp.ChainID, opp.Route.Token.Symbol, opp.Route.Intermediary.Symbol)
		if !g.twap.WithinBounds(key, spotPrice, g.cfg.Detection.TWAPToleranceBps) {
			return reject(StageTWAP, "spot %s outside %d bps of window mean", spotPrice, g.cfg.Detection.TWAPToleranceBps)
		}
	}

	// Stage 5: gas ceiling.
	maxGwei := decimal.NewFromFloat(g.cfg.Execution.MaxGasPriceGwei)
	if opp.GasPriceGwei.GreaterThan(maxGwei) {
		return reject(StageGas, "gas price %s gwei above ceiling %s", opp.GasPriceGwei, maxGwei)
	}

	return Accept
}

// QualityScore rates an opportunity 0-100 from token tier and chain
// reliability. Base 50; stables add 40, majors 20, alts 5; a reliable
// chain adds 10.
func (g *Gate) QualityScore(opp *types.Opportunity) int {
	score := 50
	switch opp.Route.Intermediary.Tier {
	case types.TierStable:
		score += 40
	case types.TierMajor:
		score += 20
	default:
		score += 5
	}
	if g.cfg.IsReliableChain(opp.ChainID) {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

// PumpRisk estimates how likely the spread is a pump rather than a
// real dislocation. Wide margins on thin tokens raise the risk; a
// stable intermediary lowers it.
func (g *Gate) PumpRisk(opp *types.Opportunity) float64 {
	risk := 0.0
	if !opp.GrossProfit.IsPositive() {
		return risk
	}
	// Loan tokens are stables, so whole units approximate USD.
	loanSize := opp.Route.Token.Whole(opp.Route.AmountIn())
	if loanSize.IsZero() {
		return risk
	}
	margin, _ := opp.GrossProfit.Div(loanSize).Float64()
	if margin > 0.05 {
		risk += 0.3
	}
	if margin > 0.10 {
		risk += 0.4
	}
	if opp.Route.Intermediary.Tier == types.TierStable {
		risk -= 0.5
	}
	if risk < 0 {
		risk = 0
	}
	return risk
}
