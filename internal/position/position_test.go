package position

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"walltrack/internal/domain"
	"walltrack/internal/errs"
)

type memPositionRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*domain.Position
}

func newMemPositionRepo() *memPositionRepo {
	return &memPositionRepo{byID: make(map[uuid.UUID]*domain.Position)}
}

func (r *memPositionRepo) Insert(_ context.Context, p *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := p.Snapshot()
	r.byID[p.ID] = &cp
	return nil
}
func (r *memPositionRepo) Update(_ context.Context, p *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := p.Snapshot()
	r.byID[p.ID] = &cp
	return nil
}
func (r *memPositionRepo) Get(_ context.Context, id uuid.UUID) (*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, errs.New(errs.KindUnknownEntity, "get", errs.ErrNotFound)
	}
	cp := p.Snapshot()
	return &cp, nil
}
func (r *memPositionRepo) OpenByWalletToken(context.Context, uuid.UUID, string) (*domain.Position, error) {
	return nil, errs.New(errs.KindUnknownEntity, "open_by_wallet_token", errs.ErrNotFound)
}
func (r *memPositionRepo) ListOpen(context.Context) ([]*domain.Position, error) { return nil, nil }
func (r *memPositionRepo) ClosedToday(context.Context, time.Time) ([]*domain.Position, error) {
	return nil, nil
}

func strategy() *domain.ExitStrategy {
	return &domain.ExitStrategy{ID: uuid.New(), Name: "default"}
}

func fillOrder(kind domain.OrderKind, amountIn, amountOut decimal.Decimal) *domain.Order {
	o := domain.NewOrder(uuid.Nil, kind, domain.ModeSimulation, domain.PriorityNormal, amountIn, amountOut, decimal.Zero)
	o.Status = domain.OrderFilled
	o.AmountOutActual = &amountOut
	return o
}

// P2: current_amount is monotonically non-increasing across a sequence of
// exit fills.
func TestCurrentAmountMonotone(t *testing.T) {
	repo := newMemPositionRepo()
	eng := New(repo, nil)
	ctx := context.Background()

	pos, err := eng.Open(ctx, uuid.New(), "MintAAA", domain.ModeSimulation, strategy())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	entry := fillOrder(domain.OrderEntry, decimal.NewFromInt(100), decimal.NewFromInt(1000))
	if _, err := eng.ApplyFill(ctx, pos.ID, entry); err != nil {
		t.Fatalf("apply entry: %v", err)
	}

	prev := decimal.NewFromInt(1000)
	for i := 0; i < 3; i++ {
		exit := fillOrder(domain.OrderExitScaleK, decimal.NewFromInt(200), decimal.NewFromInt(25))
		snap, err := eng.ApplyFill(ctx, pos.ID, exit)
		if err != nil {
			t.Fatalf("apply exit %d: %v", i, err)
		}
		if snap.CurrentAmount.GreaterThan(prev) {
			t.Fatalf("current_amount increased: %s -> %s", prev, snap.CurrentAmount)
		}
		prev = snap.CurrentAmount
	}
}

// P3: sum of per-fill realized PnL pieces equals the position's final
// realized_pnl (conservation, within the decimal library's exactness).
func TestPnLConservation(t *testing.T) {
	repo := newMemPositionRepo()
	eng := New(repo, nil)
	ctx := context.Background()

	pos, err := eng.Open(ctx, uuid.New(), "MintBBB", domain.ModeSimulation, strategy())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	entry := fillOrder(domain.OrderEntry, decimal.NewFromInt(100), decimal.NewFromInt(1000)) // entry_price = 0.1
	if _, err := eng.ApplyFill(ctx, pos.ID, entry); err != nil {
		t.Fatalf("apply entry: %v", err)
	}

	var expectedTotal decimal.Decimal
	fills := []struct{ amountIn, amountOut decimal.Decimal }{
		{decimal.NewFromInt(400), decimal.NewFromInt(60)},  // exit price 0.15
		{decimal.NewFromInt(400), decimal.NewFromInt(50)},  // exit price 0.125
		{decimal.NewFromInt(200), decimal.NewFromInt(18)},  // exit price 0.09, closes position
	}
	for _, f := range fills {
		exitPrice := f.amountOut.Div(f.amountIn)
		expectedTotal = expectedTotal.Add(exitPrice.Sub(decimal.NewFromFloat(0.1)).Mul(f.amountIn))
		exit := fillOrder(domain.OrderExitScaleK, f.amountIn, f.amountOut)
		if _, err := eng.ApplyFill(ctx, pos.ID, exit); err != nil {
			t.Fatalf("apply exit: %v", err)
		}
	}

	final, err := repo.Get(ctx, pos.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !final.RealizedPnL.Equal(expectedTotal) {
		t.Errorf("realized_pnl = %s, want %s (sum of per-fill pieces)", final.RealizedPnL, expectedTotal)
	}
	if final.Status != domain.PositionClosed {
		t.Errorf("status = %v, want closed once current_amount decays to ~0", final.Status)
	}
}

// P8: a Snapshot is a value copy; mutating it never affects engine state.
func TestSnapshotImmutability(t *testing.T) {
	repo := newMemPositionRepo()
	eng := New(repo, nil)
	ctx := context.Background()

	pos, err := eng.Open(ctx, uuid.New(), "MintCCC", domain.ModeSimulation, strategy())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	snap, ok := eng.Snapshot(pos.ID)
	if !ok {
		t.Fatal("expected snapshot to exist")
	}
	snap.ScalingLevelsHit[0] = true
	snap.CurrentAmount = decimal.NewFromInt(999999)
	snap.ExitStrategySnapshot.Name = "mutated"

	again, ok := eng.Snapshot(pos.ID)
	if !ok {
		t.Fatal("expected snapshot to exist")
	}
	if again.ScalingLevelsHit[0] {
		t.Error("mutating a returned snapshot's map leaked into engine state")
	}
	if again.CurrentAmount.Equal(decimal.NewFromInt(999999)) {
		t.Error("mutating a returned snapshot's scalar leaked into engine state")
	}
	if again.ExitStrategySnapshot.Name == "mutated" {
		t.Error("mutating a returned snapshot's exit strategy leaked into engine state")
	}
}

// Opening a second position for the same (wallet, token) while one is still
// open is rejected.
func TestDuplicateOpenRejected(t *testing.T) {
	repo := newMemPositionRepo()
	eng := New(repo, nil)
	ctx := context.Background()
	walletID := uuid.New()

	if _, err := eng.Open(ctx, walletID, "MintDDD", domain.ModeSimulation, strategy()); err != nil {
		t.Fatalf("first open: %v", err)
	}
	_, err := eng.Open(ctx, walletID, "MintDDD", domain.ModeSimulation, strategy())
	if !errs.Is(err, errs.KindDuplicate) {
		t.Errorf("second open err = %v, want KindDuplicate", err)
	}
}
