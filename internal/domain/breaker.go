package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BreakerEventKind distinguishes a trip from a reset in the append-only log.
type BreakerEventKind string

const (
	BreakerTripped BreakerEventKind = "tripped"
	BreakerReset   BreakerEventKind = "reset"
)

// BreakerSnapshot captures the figures that justified a trip or reset.
type BreakerSnapshot struct {
	DrawdownPct       decimal.Decimal
	WinRate           decimal.Decimal
	ConsecutiveLosses int
}

// BreakerThresholds is copied into each event for audit purposes.
type BreakerThresholds struct {
	DailyLossLimitUSD decimal.Decimal
	MaxDrawdownPct    decimal.Decimal
}

// CircuitBreakerEvent is the append-only record of every trip/reset.
type CircuitBreakerEvent struct {
	ID         uuid.UUID
	Kind       BreakerEventKind
	Reason     string
	Snapshot   BreakerSnapshot
	Thresholds BreakerThresholds
	OccurredAt time.Time
}
