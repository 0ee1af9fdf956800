// Package storage implements the §6 repository interfaces against an
// embedded SQLite database, adapted from the teacher's internal/storage/db.go
// (WAL pragma tuning, modernc.org/sqlite driver) and generalized from a
// single flat schema into one table per domain entity.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"walltrack/internal/domain"
)

// WalletRepo persists Wallet rows plus the domain-specific queries the
// Webhook Sync Controller and Signal Ingress need.
type WalletRepo interface {
	Upsert(ctx context.Context, w *domain.Wallet) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByAddress(ctx context.Context, address string) (*domain.Wallet, error)
	ListActive(ctx context.Context) ([]*domain.Wallet, error)
	SetSyncState(ctx context.Context, id uuid.UUID, state domain.SyncState) error
}

// SignalRepo persists the append-only Signal log.
type SignalRepo interface {
	Insert(ctx context.Context, s *domain.Signal) error
	ExistsByTxSignature(ctx context.Context, sig string) (bool, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, positionID *uuid.UUID, filtered bool, reason string) error
	RecentSellsForWalletToken(ctx context.Context, walletID uuid.UUID, tokenAddress string, since time.Time) (bool, error)
}

// TokenRepo persists Safety Evaluator verdicts.
type TokenRepo interface {
	Upsert(ctx context.Context, t *domain.Token) error
	Get(ctx context.Context, address string) (*domain.Token, error)
}

// PositionRepo persists the Position aggregate.
type PositionRepo interface {
	Insert(ctx context.Context, p *domain.Position) error
	Update(ctx context.Context, p *domain.Position) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Position, error)
	OpenByWalletToken(ctx context.Context, walletID uuid.UUID, tokenAddress string) (*domain.Position, error)
	ListOpen(ctx context.Context) ([]*domain.Position, error)
	ClosedToday(ctx context.Context, day time.Time) ([]*domain.Position, error)
}

// OrderRepo persists the append-only Order command log.
type OrderRepo interface {
	Insert(ctx context.Context, o *domain.Order) error
	Update(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FillsForPosition(ctx context.Context, positionID uuid.UUID) ([]*domain.Order, error)
}

// BreakerRepo persists CircuitBreakerEvent rows.
type BreakerRepo interface {
	Insert(ctx context.Context, e *domain.CircuitBreakerEvent) error
	Latest(ctx context.Context) (*domain.CircuitBreakerEvent, error)
}

// ConfigRepo persists operator-editable runtime overrides. internal/config
// does not read it: the running config comes from the YAML file and its
// defaults only.
type ConfigRepo interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) (map[string]string, error)
}
