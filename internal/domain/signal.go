package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SignalKind classifies a swap event relative to the base quote token set.
type SignalKind string

const (
	SignalBuy  SignalKind = "buy"
	SignalSell SignalKind = "sell"
)

// Signal is an append-only record of a deduplicated source-wallet swap event.
// Rows are never updated except to set the post-processing fields exactly once.
type Signal struct {
	ID            uuid.UUID
	WalletID      uuid.UUID
	TxSignature   string
	Kind          SignalKind
	TokenAddress  string
	AmountIn      decimal.Decimal
	AmountOut     decimal.Decimal
	ReceivedAt    time.Time
	ProcessedAt   *time.Time
	Filtered      bool
	FilterReason  string
	PositionID    *uuid.UUID
	RawPayload    []byte
}

// Filter reasons recorded on Signal.FilterReason.
const (
	FilterDuplicate    = "duplicate"
	FilterUnknownWallet = "unknown_wallet"
	FilterUnsafe       = "unsafe"
	FilterValidation   = "validation"
)

// RawEvent is the venue-delivered payload handed to Signal Ingress before it
// becomes a typed Signal. The transport layer is responsible for signature
// verification; ingress trusts it.
type RawEvent struct {
	TxSignature    string
	WalletAddress  string
	TokenInMint    string
	TokenOutMint   string
	AmountIn       decimal.Decimal
	AmountOut      decimal.Decimal
	ReceivedAt     time.Time
	Raw            []byte
}

// Ack is Signal Ingress's response to an ingest call.
type Ack int

const (
	AckAccepted Ack = iota
	AckDuplicate
	AckRetry
)

func (a Ack) String() string {
	switch a {
	case AckAccepted:
		return "accepted"
	case AckDuplicate:
		return "duplicate"
	case AckRetry:
		return "retry"
	default:
		return "unknown"
	}
}
