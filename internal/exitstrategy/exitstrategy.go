// Package exitstrategy implements the Exit Strategy Evaluator (spec §4.5): a
// pure, side-effect-free decision function over a Position snapshot and its
// exit strategy. It never touches storage or the venue; the caller (the
// supervisor's evaluation loop) is responsible for submitting whatever
// Decision it returns to the Execution Queue.
//
// The strict priority chain (stop-loss > mirror-exit > trailing-stop >
// scaling-out) generalizes the teacher's monitorPositions 2X/time-exit
// if/else-if chain in internal/trading/executor.go into an explicit ordered
// set of checks over a configurable strategy instead of two hardcoded rules.
package exitstrategy

import (
	"github.com/shopspring/decimal"

	"walltrack/internal/domain"
)

// Decision is what the evaluator recommends for one position on one tick.
// A zero-value Decision (Kind == DecisionNone) means: no action.
type Decision struct {
	Kind         DecisionKind
	SellFraction decimal.Decimal // fraction of entry_amount to sell, 0 < f <= 1
	Reason       string
	ScalingLevel *int
}

// DecisionKind names which exit rule fired.
type DecisionKind int

const (
	DecisionNone DecisionKind = iota
	DecisionStopLoss
	DecisionMirrorExit
	DecisionTrailingStop
	DecisionScaleOut
)

func (k DecisionKind) OrderKind() domain.OrderKind {
	switch k {
	case DecisionStopLoss:
		return domain.OrderExitStop
	case DecisionMirrorExit:
		return domain.OrderExitMirror
	case DecisionTrailingStop:
		return domain.OrderExitTrail
	case DecisionScaleOut:
		return domain.OrderExitScaleK
	default:
		return ""
	}
}

// hundred is reused across percentage comparisons.
var hundred = decimal.NewFromInt(100)

// Evaluate applies the strategy's rules to pos in strict priority order and
// returns the first rule that fires. mirrorSellSignaled reports whether the
// source wallet itself sold this token since the position opened (the
// Signal Ingress sell-classification feeds this in).
//
// Priority, matching §4.5 and the scenario where a stop-loss and a
// mirror-exit would otherwise both qualify on the same tick: stop-loss is
// checked first because it is a capital-preservation rule that must never
// be starved by a slower-to-evaluate mirror signal.
func Evaluate(pos domain.Position, mirrorSellSignaled bool) Decision {
	strat := pos.ExitStrategySnapshot
	if strat == nil || pos.Status != domain.PositionOpen {
		return Decision{Kind: DecisionNone}
	}

	pnlPct := pos.PnLPct()

	if strat.StopLossPct != nil && pnlPct.LessThanOrEqual(strat.StopLossPct.Neg()) {
		return Decision{Kind: DecisionStopLoss, SellFraction: decimal.NewFromInt(1), Reason: "stop_loss"}
	}

	if strat.MirrorExit && mirrorSellSignaled {
		return Decision{Kind: DecisionMirrorExit, SellFraction: decimal.NewFromInt(1), Reason: "mirror_exit"}
	}

	if strat.TrailingStopPct != nil && strat.ActivationPct != nil {
		peakPnLPct := pos.PeakPnLPct()
		if peakPnLPct.GreaterThanOrEqual(*strat.ActivationPct) {
			drawdownFromPeak := pos.PeakPrice.Sub(pos.CurrentPrice).Div(pos.PeakPrice).Mul(hundred)
			if drawdownFromPeak.GreaterThanOrEqual(*strat.TrailingStopPct) {
				return Decision{Kind: DecisionTrailingStop, SellFraction: decimal.NewFromInt(1), Reason: "trailing_stop"}
			}
		}
	}

	if lvl, idx := nextUnhitScalingLevel(pos, pnlPct); lvl != nil {
		return Decision{Kind: DecisionScaleOut, SellFraction: lvl.Fraction, Reason: "scale_out", ScalingLevel: &idx}
	}

	return Decision{Kind: DecisionNone}
}

// nextUnhitScalingLevel picks the lowest-index scaling level that the
// current pnl has reached but that has not yet been triggered. Levels are
// evaluated lowest-trigger-first regardless of how far price has run past
// a higher level, so a position that gaps past several levels in one tick
// still only fires one scale-out per evaluation (the resolved Open Question
// in DESIGN.md: "lowest un-hit level per tick").
func nextUnhitScalingLevel(pos domain.Position, pnlPct decimal.Decimal) (*domain.ScalingLevel, int) {
	strat := pos.ExitStrategySnapshot
	for i := range strat.ScalingLevels {
		lvl := &strat.ScalingLevels[i]
		if pos.ScalingLevelsHit[i] {
			continue
		}
		if pnlPct.GreaterThanOrEqual(lvl.TriggerPct) {
			return lvl, i
		}
	}
	return nil, 0
}
