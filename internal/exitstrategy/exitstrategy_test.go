package exitstrategy

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"walltrack/internal/domain"
)

func pct(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func basePosition() domain.Position {
	return domain.Position{
		ID:            uuid.New(),
		Status:        domain.PositionOpen,
		EntryPrice:    decimal.NewFromFloat(1.0),
		EntryAmount:   decimal.NewFromInt(1000),
		CurrentAmount: decimal.NewFromInt(1000),
		PeakPrice:     decimal.NewFromFloat(1.0),
		CurrentPrice:  decimal.NewFromFloat(1.0),
		ExitStrategySnapshot: &domain.ExitStrategy{
			ID: uuid.New(), Name: "test",
		},
		ScalingLevelsHit: map[int]bool{},
	}
}

// Scenario 4: price drops below the stop-loss threshold -> full exit.
func TestScenarioStopLoss(t *testing.T) {
	pos := basePosition()
	pos.ExitStrategySnapshot.StopLossPct = pct(10) // exit if down 10%
	pos.CurrentPrice = decimal.NewFromFloat(0.85)  // -15%

	d := Evaluate(pos, false)
	if d.Kind != DecisionStopLoss {
		t.Fatalf("decision = %v, want stop loss", d.Kind)
	}
	if !d.SellFraction.Equal(decimal.NewFromInt(1)) {
		t.Errorf("sell_fraction = %s, want 1 (full exit)", d.SellFraction)
	}
}

// P7: when both a stop-loss and a mirror-exit condition are true on the same
// tick, stop-loss takes priority.
func TestPriorityStopLossBeforeMirrorExit(t *testing.T) {
	pos := basePosition()
	pos.ExitStrategySnapshot.StopLossPct = pct(10)
	pos.ExitStrategySnapshot.MirrorExit = true
	pos.CurrentPrice = decimal.NewFromFloat(0.80) // -20%, both rules would fire

	d := Evaluate(pos, true)
	if d.Kind != DecisionStopLoss {
		t.Errorf("decision = %v, want stop_loss to take priority over mirror_exit", d.Kind)
	}
}

// P7: trailing-stop is only checked once activation_pct has been reached,
// and yields to mirror-exit when both qualify.
func TestPriorityMirrorExitBeforeTrailingStop(t *testing.T) {
	pos := basePosition()
	pos.ExitStrategySnapshot.MirrorExit = true
	pos.ExitStrategySnapshot.ActivationPct = pct(20)
	pos.ExitStrategySnapshot.TrailingStopPct = pct(10)
	pos.PeakPrice = decimal.NewFromFloat(1.30)    // +30%, past activation
	pos.CurrentPrice = decimal.NewFromFloat(1.10) // drawdown from peak > 10%, trailing would fire

	d := Evaluate(pos, true)
	if d.Kind != DecisionMirrorExit {
		t.Errorf("decision = %v, want mirror_exit to take priority over trailing_stop", d.Kind)
	}
}

func TestTrailingStopFiresAfterActivation(t *testing.T) {
	pos := basePosition()
	pos.ExitStrategySnapshot.ActivationPct = pct(20)
	pos.ExitStrategySnapshot.TrailingStopPct = pct(10)
	pos.PeakPrice = decimal.NewFromFloat(1.30)
	pos.CurrentPrice = decimal.NewFromFloat(1.10) // down ~15.4% from peak

	d := Evaluate(pos, false)
	if d.Kind != DecisionTrailingStop {
		t.Fatalf("decision = %v, want trailing_stop", d.Kind)
	}
}

func TestTrailingStopInactiveBeforeActivation(t *testing.T) {
	pos := basePosition()
	pos.ExitStrategySnapshot.ActivationPct = pct(20)
	pos.ExitStrategySnapshot.TrailingStopPct = pct(10)
	pos.PeakPrice = decimal.NewFromFloat(1.15) // below activation threshold
	pos.CurrentPrice = decimal.NewFromFloat(1.0)

	d := Evaluate(pos, false)
	if d.Kind != DecisionNone {
		t.Errorf("decision = %v, want none (trailing stop not yet armed)", d.Kind)
	}
}

// Scenario 5: scaling-out fires the lowest un-hit level; once hit it is not
// fired again, and a subsequent mirror-exit signal still closes what remains.
func TestScenarioScalingThenMirrorExit(t *testing.T) {
	pos := basePosition()
	pos.ExitStrategySnapshot.MirrorExit = true
	pos.ExitStrategySnapshot.ScalingLevels = []domain.ScalingLevel{
		{TriggerPct: decimal.NewFromInt(20), Fraction: decimal.NewFromFloat(0.25)},
		{TriggerPct: decimal.NewFromInt(50), Fraction: decimal.NewFromFloat(0.25)},
	}
	pos.CurrentPrice = decimal.NewFromFloat(1.25) // +25%, clears level 0 only

	d := Evaluate(pos, false)
	if d.Kind != DecisionScaleOut || d.ScalingLevel == nil || *d.ScalingLevel != 0 {
		t.Fatalf("decision = %+v, want scale_out at level 0", d)
	}
	if !d.SellFraction.Equal(decimal.NewFromFloat(0.25)) {
		t.Errorf("sell_fraction = %s, want 0.25", d.SellFraction)
	}

	pos.ScalingLevelsHit[0] = true
	d2 := Evaluate(pos, false)
	if d2.Kind != DecisionNone {
		t.Errorf("decision = %v, want none (level 0 already hit, level 1 not yet reached)", d2.Kind)
	}

	d3 := Evaluate(pos, true)
	if d3.Kind != DecisionMirrorExit {
		t.Errorf("decision = %v, want mirror_exit once the source wallet sells", d3.Kind)
	}
}

func TestGapPastMultipleLevelsFiresOnlyLowest(t *testing.T) {
	pos := basePosition()
	pos.ExitStrategySnapshot.ScalingLevels = []domain.ScalingLevel{
		{TriggerPct: decimal.NewFromInt(20), Fraction: decimal.NewFromFloat(0.25)},
		{TriggerPct: decimal.NewFromInt(50), Fraction: decimal.NewFromFloat(0.25)},
	}
	pos.CurrentPrice = decimal.NewFromFloat(1.80) // +80%, clears both levels in one tick

	d := Evaluate(pos, false)
	if d.Kind != DecisionScaleOut || *d.ScalingLevel != 0 {
		t.Fatalf("decision = %+v, want only the lowest un-hit level (0) to fire", d)
	}
}

func TestNoStrategyNoDecision(t *testing.T) {
	pos := basePosition()
	pos.ExitStrategySnapshot = nil
	if d := Evaluate(pos, true); d.Kind != DecisionNone {
		t.Errorf("decision = %v, want none without a strategy", d.Kind)
	}
}

func TestClosedPositionNoDecision(t *testing.T) {
	pos := basePosition()
	pos.Status = domain.PositionClosed
	pos.ExitStrategySnapshot.StopLossPct = pct(1)
	pos.CurrentPrice = decimal.NewFromFloat(0.1)
	if d := Evaluate(pos, false); d.Kind != DecisionNone {
		t.Errorf("decision = %v, want none for an already-closed position", d.Kind)
	}
}
