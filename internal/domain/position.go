package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionStatus is the position lifecycle state.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
	PositionError  PositionStatus = "error"
)

// Position is the aggregate root mirroring one source-wallet trade. The
// Position Lifecycle Engine is its sole mutator; every other component only
// ever observes a Snapshot.
type Position struct {
	ID                   uuid.UUID
	WalletID             uuid.UUID
	TokenAddress         string
	Mode                 Mode
	EntryPrice           decimal.Decimal
	EntryAmount          decimal.Decimal // original, immutable after open
	CurrentAmount        decimal.Decimal // decremented on partial exits
	PeakPrice            decimal.Decimal // max observed price since open
	CurrentPrice         decimal.Decimal // latest observed price
	RealizedPnL          decimal.Decimal
	Status               PositionStatus
	ExitStrategySnapshot *ExitStrategy
	ScalingLevelsHit     map[int]bool
	OpenedAt             time.Time
	ClosedAt             *time.Time
	ExitReason           string
}

// epsilon below which current_amount is treated as fully closed, matching
// §3's "within a small epsilon of the quote-unit precision".
var closeEpsilon = decimal.New(1, -9)

// UnrealizedPnL is derived, never stored: (current_price - entry_price) * current_amount.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.CurrentPrice.Sub(p.EntryPrice).Mul(p.CurrentAmount)
}

// PnLPct is (current_price - entry_price)/entry_price * 100.
func (p *Position) PnLPct() decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return p.CurrentPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

// PeakPnLPct uses peak_price instead of current_price.
func (p *Position) PeakPnLPct() decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return p.PeakPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

// IsNearlyClosed reports whether current_amount has decayed below the close
// epsilon, i.e. the position should transition to closed.
func (p *Position) IsNearlyClosed() bool {
	return p.CurrentAmount.LessThanOrEqual(closeEpsilon)
}

// Snapshot returns a value copy safe to hand to other components: the
// ExitStrategySnapshot and ScalingLevelsHit map are deep-copied so callers
// cannot mutate engine-owned state.
func (p *Position) Snapshot() Position {
	cp := *p
	if p.ExitStrategySnapshot != nil {
		cp.ExitStrategySnapshot = p.ExitStrategySnapshot.Snapshot()
	}
	cp.ScalingLevelsHit = make(map[int]bool, len(p.ScalingLevelsHit))
	for k, v := range p.ScalingLevelsHit {
		cp.ScalingLevelsHit[k] = v
	}
	return cp
}

// NewPosition opens a position aggregate. entryPrice/entryAmount are set once
// the entry order fills; callers construct with zero entry price beforehand
// if needed (the engine sets it on fill).
func NewPosition(walletID uuid.UUID, tokenAddress string, mode Mode, strategy *ExitStrategy) *Position {
	return &Position{
		ID:                   uuid.New(),
		WalletID:             walletID,
		TokenAddress:         tokenAddress,
		Mode:                 mode,
		CurrentAmount:        decimal.Zero,
		EntryAmount:          decimal.Zero,
		PeakPrice:            decimal.Zero,
		CurrentPrice:         decimal.Zero,
		RealizedPnL:          decimal.Zero,
		Status:               PositionOpen,
		ExitStrategySnapshot: strategy.Snapshot(),
		ScalingLevelsHit:     make(map[int]bool),
		OpenedAt:             time.Now(),
	}
}
