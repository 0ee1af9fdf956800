// Package venue defines the external collaborator traits the core consumes:
// quote/swap/safety/monitoring clients and the signer. Concrete
// implementations live under internal/jupiter, internal/blockchain and
// internal/websocket; the core packages only ever depend on these interfaces.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"walltrack/internal/domain"
)

// Quote is a venue's answer to "how much out for this much in".
type Quote struct {
	InAmount       decimal.Decimal
	OutAmount      decimal.Decimal
	PriceImpactPct decimal.Decimal
	Raw            any
}

// SwapResult is the outcome of an executed swap.
type SwapResult struct {
	TxSignature string
	AmountOut   decimal.Decimal
	Slippage    decimal.Decimal
}

// QuoteClient fetches swap quotes. MaxBatch is the largest token slice
// BatchPrices will accept in one call (spec: 100).
type QuoteClient interface {
	Quote(ctx context.Context, inMint, outMint string, amountIn decimal.Decimal) (*Quote, error)
	BatchPrices(ctx context.Context, tokens []string) (map[string]decimal.Decimal, error)
	MaxBatch() int
}

// SwapClient executes a previously fetched quote against the venue. Priority
// carries the order's urgency tier through to venue-level controls such as
// Jupiter's per-request priority fee.
type SwapClient interface {
	Quote(ctx context.Context, inMint, outMint string, amountIn decimal.Decimal) (*Quote, error)
	Execute(ctx context.Context, quote *Quote, signer Signer, priority domain.Priority) (*SwapResult, error)
}

// SafetyReport is one source's verdict on a token, possibly partial.
type SafetyReport struct {
	Source             string
	LiquidityChecked   bool
	LiquidityPass      bool
	HoldersChecked     bool
	HoldersPass        bool
	ContractChecked    bool
	ContractPass       bool
	AgeChecked         bool
	AgePass            bool
	Symbol             string
}

// SafetyClient analyzes a token address. The core tries primary, secondary,
// tertiary in order.
type SafetyClient interface {
	Analyze(ctx context.Context, tokenAddr string) (*SafetyReport, error)
	Name() string
}

// MonitorClient maintains the single upstream subscription over the active
// wallet address set.
type MonitorClient interface {
	ReplaceAddresses(ctx context.Context, addresses []string) error
}

// Signer produces signatures for venue requests. Raw key material never
// leaves its implementation.
type Signer interface {
	Address() string
	Sign(message []byte) []byte
	SignTransaction(serializedTx []byte) (string, error)
}

// RateLimited, Transient and Permanent are sentinel-ish marker errors venue
// adapters can wrap results in; internal/errs.KindOf classifies them for the
// scheduler.
type ErrClassifier interface {
	ClassifyError(err error) (transient bool, rateLimited bool, retryAfter time.Duration)
}
