package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Priority orders dispatch within the Execution Queue. Lower value wins.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityUrgent
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityUrgent:
		return "urgent"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// OrderKind identifies the command an Order represents.
type OrderKind string

const (
	OrderEntry       OrderKind = "entry"
	OrderExitStop    OrderKind = "exit_stop"
	OrderExitTrail   OrderKind = "exit_trail"
	OrderExitScaleK  OrderKind = "exit_scale_k"
	OrderExitMirror  OrderKind = "exit_mirror"
	OrderExitManual  OrderKind = "exit_manual"
)

// IsExit reports whether the kind closes or reduces a position rather than
// opening one.
func (k OrderKind) IsExit() bool { return k != OrderEntry }

// OrderStatus is the order state machine: pending -> submitted -> terminal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderSubmitted OrderStatus = "submitted"
	OrderFilled    OrderStatus = "filled"
	OrderFailed    OrderStatus = "failed"
	OrderCancelled OrderStatus = "cancelled"
)

// Terminal reports whether status is one of the order's terminal states.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderFailed || s == OrderCancelled
}

// Order is the append-only command log entry tracking one venue swap through
// its lifecycle. retry_count increments in place; no new row is created
// until the retry budget is exhausted.
type Order struct {
	ID                uuid.UUID
	PositionID        uuid.UUID
	Kind              OrderKind
	Mode              Mode
	Priority          Priority
	AmountIn          decimal.Decimal
	AmountOutExpected decimal.Decimal
	AmountOutActual   *decimal.Decimal
	SlippageReq       decimal.Decimal
	SlippageActual    *decimal.Decimal
	Status            OrderStatus
	TxSignature       string
	RetryCount        int
	LastError         string
	ScalingLevel      *int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	EnqueuedAt        time.Time
}

// NewOrder constructs a pending order for kind at the given priority.
func NewOrder(positionID uuid.UUID, kind OrderKind, mode Mode, priority Priority, amountIn, amountOutExpected, slippageReq decimal.Decimal) *Order {
	now := time.Now()
	return &Order{
		ID:                uuid.New(),
		PositionID:        positionID,
		Kind:              kind,
		Mode:              mode,
		Priority:          priority,
		AmountIn:          amountIn,
		AmountOutExpected: amountOutExpected,
		SlippageReq:       slippageReq,
		Status:            OrderPending,
		CreatedAt:         now,
		UpdatedAt:         now,
		EnqueuedAt:        now,
	}
}
