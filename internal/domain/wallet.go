// Package domain holds the entities, enums and invariants shared across the
// core pipeline: wallets, exit strategies, tokens, signals, orders and
// positions. No package here talks to a venue or a database directly.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// Mode selects whether a position/order is paper-traded or hits a real venue.
type Mode string

const (
	ModeSimulation Mode = "simulation"
	ModeLive       Mode = "live"
)

// SyncState tracks a wallet's convergence with the upstream monitoring
// subscription maintained by the Webhook Sync Controller.
type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
	SyncError   SyncState = "error"
)

// Wallet is a source wallet the engine mirrors trades from.
type Wallet struct {
	ID             uuid.UUID
	Address        string
	Label          string
	Mode           Mode
	ExitStrategyID uuid.UUID
	Active         bool
	SyncState      SyncState
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidateAddress checks a Solana address is well-formed base58 of the
// expected length range. It does not check the address exists on-chain.
func ValidateAddress(addr string) error {
	if len(addr) < 32 || len(addr) > 44 {
		return fmt.Errorf("address %q: invalid length %d", addr, len(addr))
	}
	if !isBase58(addr) {
		return fmt.Errorf("address %q: not valid base58", addr)
	}
	if _, err := base58.Decode(addr); err != nil {
		return fmt.Errorf("address %q: %w", addr, err)
	}
	return nil
}

var base58Set = func() [256]bool {
	var set [256]bool
	const chars = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	for i := 0; i < len(chars); i++ {
		set[chars[i]] = true
	}
	return set
}()

func isBase58(s string) bool {
	for i := 0; i < len(s); i++ {
		if !base58Set[s[i]] {
			return false
		}
	}
	return true
}

// NewWallet constructs a wallet, validating its address.
func NewWallet(address, label string, mode Mode, exitStrategyID uuid.UUID) (*Wallet, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Wallet{
		ID:             uuid.New(),
		Address:        address,
		Label:          label,
		Mode:           mode,
		ExitStrategyID: exitStrategyID,
		Active:         true,
		SyncState:      SyncPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}
