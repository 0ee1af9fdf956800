package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenSource identifies which safety data source produced a score.
type TokenSource string

const (
	TokenSourcePrimary   TokenSource = "primary"
	TokenSourceSecondary TokenSource = "secondary"
	TokenSourceTertiary  TokenSource = "tertiary"
	TokenSourceNone      TokenSource = "none"
)

// TokenSafetyTTL is how long a Token safety record is trusted before it is
// considered stale and re-analyzed.
const TokenSafetyTTL = time.Hour

// Token is the Safety Evaluator's upserted verdict on a mint address.
type Token struct {
	Address       string
	Symbol        string
	SafetyScore   decimal.Decimal
	AnalyzedAt    time.Time
	Source        TokenSource
	LiquidityPass bool
	HoldersPass   bool
	ContractPass  bool
	AgePass       bool
}

// Stale reports whether the record has outlived the safety TTL.
func (t *Token) Stale(now time.Time) bool {
	return now.Sub(t.AnalyzedAt) > TokenSafetyTTL
}
