package domain

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ScalingLevel is one rung of a scaling-out exit: at trigger_pct profit, sell
// fraction of the original entry amount.
type ScalingLevel struct {
	TriggerPct decimal.Decimal
	Fraction   decimal.Decimal
}

// ExitStrategy is an immutable-once-referenced template. Open positions hold
// a deep copy (Snapshot) so later edits to the template never affect them.
type ExitStrategy struct {
	ID               uuid.UUID
	Name             string
	StopLossPct      *decimal.Decimal
	TrailingStopPct  *decimal.Decimal
	ActivationPct    *decimal.Decimal
	ScalingLevels    []ScalingLevel
	MirrorExit       bool
}

// Validate enforces: scaling fractions sum to at most 1.0 and triggers are
// strictly increasing.
func (s *ExitStrategy) Validate() error {
	if s.TrailingStopPct != nil && s.ActivationPct == nil {
		return fmt.Errorf("exit strategy %s: trailing stop requires an activation pct", s.ID)
	}
	sum := decimal.Zero
	prevTrigger := decimal.NewFromInt(-1)
	for i, lvl := range s.ScalingLevels {
		if lvl.TriggerPct.LessThanOrEqual(prevTrigger) {
			return fmt.Errorf("exit strategy %s: scaling level %d trigger_pct not strictly increasing", s.ID, i)
		}
		prevTrigger = lvl.TriggerPct
		sum = sum.Add(lvl.Fraction)
	}
	if sum.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("exit strategy %s: scaling fractions sum to %s > 1.0", s.ID, sum)
	}
	return nil
}

// Snapshot deep-copies the strategy so a position's copy is immune to later
// template edits.
func (s *ExitStrategy) Snapshot() *ExitStrategy {
	cp := *s
	if s.StopLossPct != nil {
		v := *s.StopLossPct
		cp.StopLossPct = &v
	}
	if s.TrailingStopPct != nil {
		v := *s.TrailingStopPct
		cp.TrailingStopPct = &v
	}
	if s.ActivationPct != nil {
		v := *s.ActivationPct
		cp.ActivationPct = &v
	}
	cp.ScalingLevels = append([]ScalingLevel(nil), s.ScalingLevels...)
	return &cp
}
