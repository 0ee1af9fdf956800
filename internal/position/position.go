// Package position implements the Position Lifecycle Engine (spec §4.4): the
// sole mutator of the Position aggregate. Every other component only ever
// sees a Snapshot. One handle per position serializes its mutations behind a
// mutex, generalizing the teacher's internal/trading/position.go
// mutex-guarded struct + Snapshot() pattern from a single polled position
// into a registry of concurrently-open ones.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"walltrack/internal/domain"
	"walltrack/internal/errs"
	"walltrack/internal/metrics"
	"walltrack/internal/storage"
)

type handle struct {
	mu  sync.Mutex
	pos *domain.Position
}

// Engine owns every open position's single-writer mutation path.
type Engine struct {
	repo    storage.PositionRepo
	metrics *metrics.Registry

	mu            sync.RWMutex
	handles       map[uuid.UUID]*handle
	byWalletToken map[string]uuid.UUID
}

// New builds an empty Engine; call LoadOpen at boot to warm it from storage.
func New(repo storage.PositionRepo, reg *metrics.Registry) *Engine {
	return &Engine{
		repo: repo, metrics: reg,
		handles:       make(map[uuid.UUID]*handle),
		byWalletToken: make(map[string]uuid.UUID),
	}
}

func key(walletID uuid.UUID, tokenAddress string) string {
	return walletID.String() + "|" + tokenAddress
}

// LoadOpen hydrates in-memory handles for every position the repo has as
// still open, so a restarted process resumes single-writer serialization
// without racing itself on the first mark/fill after recovery.
func (e *Engine) LoadOpen(ctx context.Context) error {
	open, err := e.repo.ListOpen(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range open {
		e.handles[p.ID] = &handle{pos: p}
		e.byWalletToken[key(p.WalletID, p.TokenAddress)] = p.ID
	}
	if e.metrics != nil {
		e.metrics.PositionsOpen.Set(float64(len(open)))
	}
	return nil
}

// Open creates a new position for (walletID, tokenAddress). At most one open
// position may exist per (wallet, token) pair; a second open call while one
// is already open returns errs.KindDuplicate.
func (e *Engine) Open(ctx context.Context, walletID uuid.UUID, tokenAddress string, mode domain.Mode, strategy *domain.ExitStrategy) (domain.Position, error) {
	e.mu.Lock()
	k := key(walletID, tokenAddress)
	if _, exists := e.byWalletToken[k]; exists {
		e.mu.Unlock()
		return domain.Position{}, errs.New(errs.KindDuplicate, "position.open", fmt.Errorf("already an open position for wallet=%s token=%s", walletID, tokenAddress))
	}

	p := domain.NewPosition(walletID, tokenAddress, mode, strategy)
	e.handles[p.ID] = &handle{pos: p}
	e.byWalletToken[k] = p.ID
	e.mu.Unlock()

	if err := e.repo.Insert(ctx, p); err != nil {
		e.mu.Lock()
		delete(e.handles, p.ID)
		delete(e.byWalletToken, k)
		e.mu.Unlock()
		return domain.Position{}, err
	}
	if e.metrics != nil {
		e.metrics.PositionsOpen.Inc()
	}
	return p.Snapshot(), nil
}

func (e *Engine) handleFor(id uuid.UUID) (*handle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handles[id]
	return h, ok
}

// ApplyMark updates current_price (and peak_price, monotonically) from a
// Price Monitor tick. It never changes position status.
func (e *Engine) ApplyMark(ctx context.Context, positionID uuid.UUID, price decimal.Decimal) (domain.Position, error) {
	h, ok := e.handleFor(positionID)
	if !ok {
		return domain.Position{}, errs.New(errs.KindUnknownEntity, "position.apply_mark", errs.ErrNotFound)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pos.Status != domain.PositionOpen {
		return h.pos.Snapshot(), nil
	}
	h.pos.CurrentPrice = price
	if price.GreaterThan(h.pos.PeakPrice) {
		h.pos.PeakPrice = price
	}
	if err := e.repo.Update(ctx, h.pos); err != nil {
		return domain.Position{}, err
	}
	return h.pos.Snapshot(), nil
}

// ApplyFill advances a position from an Order that just reached a terminal
// status. Entry fills set entry_price/entry_amount; exit fills realize PnL
// and decrement current_amount monotonically, closing the position once it
// decays within the close epsilon.
func (e *Engine) ApplyFill(ctx context.Context, positionID uuid.UUID, order *domain.Order) (domain.Position, error) {
	h, ok := e.handleFor(positionID)
	if !ok {
		return domain.Position{}, errs.New(errs.KindUnknownEntity, "position.apply_fill", errs.ErrNotFound)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if order.Status != domain.OrderFilled {
		return h.pos.Snapshot(), e.applyFailedExit(ctx, h.pos, order)
	}
	if order.AmountOutActual == nil {
		return domain.Position{}, fmt.Errorf("position.apply_fill: filled order %s has no amount_out_actual", order.ID)
	}

	if order.Kind == domain.OrderEntry {
		e.applyEntryFill(h.pos, order)
	} else {
		e.applyExitFill(h.pos, order)
	}

	if err := e.repo.Update(ctx, h.pos); err != nil {
		return domain.Position{}, err
	}
	if h.pos.Status == domain.PositionClosed {
		e.forget(h.pos.ID, h.pos.WalletID, h.pos.TokenAddress)
	}
	return h.pos.Snapshot(), nil
}

func (e *Engine) applyEntryFill(pos *domain.Position, order *domain.Order) {
	amountOut := *order.AmountOutActual
	pos.EntryAmount = amountOut
	pos.CurrentAmount = amountOut
	if !amountOut.IsZero() {
		pos.EntryPrice = order.AmountIn.Div(amountOut)
	}
	pos.PeakPrice = pos.EntryPrice
	pos.CurrentPrice = pos.EntryPrice
}

func (e *Engine) applyExitFill(pos *domain.Position, order *domain.Order) {
	amountSold := order.AmountIn // exit orders sell tokens for the quote currency
	amountReceived := *order.AmountOutActual
	if amountSold.GreaterThan(pos.CurrentAmount) {
		amountSold = pos.CurrentAmount // never sell more than is still open
	}

	var exitPrice decimal.Decimal
	if !amountSold.IsZero() {
		exitPrice = amountReceived.Div(amountSold)
	}
	realized := exitPrice.Sub(pos.EntryPrice).Mul(amountSold)
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.CurrentAmount = pos.CurrentAmount.Sub(amountSold)

	if order.ScalingLevel != nil {
		pos.ScalingLevelsHit[*order.ScalingLevel] = true
	}

	if pos.IsNearlyClosed() {
		pos.Status = domain.PositionClosed
		now := time.Now()
		pos.ClosedAt = &now
		pos.ExitReason = string(order.Kind)
	}
}

// applyFailedExit logs a failed exit order without mutating position state;
// the Exit Strategy Evaluator will re-evaluate and may resubmit.
func (e *Engine) applyFailedExit(ctx context.Context, pos *domain.Position, order *domain.Order) error {
	log.Warn().Str("position", pos.ID.String()).Str("order", order.ID.String()).Str("status", string(order.Status)).Msg("order reached terminal status without a fill")
	return nil
}

func (e *Engine) forget(id uuid.UUID, walletID uuid.UUID, tokenAddress string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handles, id)
	delete(e.byWalletToken, key(walletID, tokenAddress))
	if e.metrics != nil {
		e.metrics.PositionsOpen.Dec()
	}
}

// Snapshot returns the current state of positionID.
func (e *Engine) Snapshot(positionID uuid.UUID) (domain.Position, bool) {
	h, ok := e.handleFor(positionID)
	if !ok {
		return domain.Position{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos.Snapshot(), true
}

// OpenSnapshots returns a snapshot of every currently tracked open position,
// for the Price Monitor's polling tiers and Exit Strategy Evaluator sweeps.
func (e *Engine) OpenSnapshots() []domain.Position {
	e.mu.RLock()
	ids := make([]uuid.UUID, 0, len(e.handles))
	for id := range e.handles {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	out := make([]domain.Position, 0, len(ids))
	for _, id := range ids {
		if snap, ok := e.Snapshot(id); ok {
			out = append(out, snap)
		}
	}
	return out
}
