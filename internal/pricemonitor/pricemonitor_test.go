package pricemonitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"walltrack/internal/config"
	"walltrack/internal/domain"
	"walltrack/internal/venue"
)

type fakeEngine struct {
	mu    sync.Mutex
	open  []domain.Position
	marks map[uuid.UUID]decimal.Decimal
}

func newFakeEngine(positions ...domain.Position) *fakeEngine {
	return &fakeEngine{open: positions, marks: make(map[uuid.UUID]decimal.Decimal)}
}

func (e *fakeEngine) OpenSnapshots() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Position(nil), e.open...)
}

func (e *fakeEngine) ApplyMark(_ context.Context, id uuid.UUID, price decimal.Decimal) (domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.marks[id] = price
	return domain.Position{}, nil
}

func (e *fakeEngine) markCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.marks)
}

type fakeQuoteClient struct {
	mu       sync.Mutex
	batches  [][]string
	prices   map[string]decimal.Decimal
	err      error
	maxBatch int
}

func (f *fakeQuoteClient) Quote(context.Context, string, string, decimal.Decimal) (*venue.Quote, error) {
	return nil, nil
}
func (f *fakeQuoteClient) BatchPrices(_ context.Context, tokens []string) (map[string]decimal.Decimal, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), tokens...))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]decimal.Decimal)
	for _, t := range tokens {
		if p, ok := f.prices[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}
func (f *fakeQuoteClient) MaxBatch() int { return f.maxBatch }

func pos(token string, opened time.Time) domain.Position {
	return domain.Position{
		ID: uuid.New(), TokenAddress: token, Status: domain.PositionOpen,
		EntryPrice: decimal.NewFromInt(1), CurrentPrice: decimal.NewFromInt(1), PeakPrice: decimal.NewFromInt(1),
		OpenedAt: opened, ExitStrategySnapshot: &domain.ExitStrategy{}, ScalingLevelsHit: map[int]bool{},
	}
}

func TestPollTierAppliesMarksWithinBatch(t *testing.T) {
	p1 := pos("MintAAA", time.Now())
	p2 := pos("MintBBB", time.Now())
	engine := newFakeEngine(p1, p2)
	primary := &fakeQuoteClient{prices: map[string]decimal.Decimal{"MintAAA": decimal.NewFromFloat(1.5), "MintBBB": decimal.NewFromFloat(0.5)}, maxBatch: 100}
	m := New(config.PriceMonConfig{MaxBatchSize: 100}, engine, primary, nil)

	m.pollTier(context.Background(), func(domain.Position) bool { return true })

	if engine.markCount() != 2 {
		t.Fatalf("marks applied = %d, want 2", engine.markCount())
	}
	if !engine.marks[p1.ID].Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("p1 mark = %s, want 1.5", engine.marks[p1.ID])
	}
}

func TestBatchingRespectsMaxBatchSize(t *testing.T) {
	var positions []domain.Position
	prices := make(map[string]decimal.Decimal)
	for i := 0; i < 5; i++ {
		token := uuid.New().String()
		positions = append(positions, pos(token, time.Now()))
		prices[token] = decimal.NewFromInt(1)
	}
	engine := newFakeEngine(positions...)
	primary := &fakeQuoteClient{prices: prices, maxBatch: 2}
	m := New(config.PriceMonConfig{MaxBatchSize: 2}, engine, primary, nil)

	m.pollTier(context.Background(), func(domain.Position) bool { return true })

	if len(primary.batches) != 3 { // 2 + 2 + 1
		t.Errorf("batch count = %d, want 3 for 5 tokens at max_batch=2", len(primary.batches))
	}
	for _, b := range primary.batches {
		if len(b) > 2 {
			t.Errorf("batch size %d exceeds max_batch 2", len(b))
		}
	}
}

// Primary failure falls back to the fallback client.
func TestFallbackOnPrimaryFailure(t *testing.T) {
	p1 := pos("MintCCC", time.Now())
	engine := newFakeEngine(p1)
	primary := &fakeQuoteClient{err: errors.New("primary down"), maxBatch: 100}
	fallback := &fakeQuoteClient{prices: map[string]decimal.Decimal{"MintCCC": decimal.NewFromFloat(2.0)}, maxBatch: 100}
	m := New(config.PriceMonConfig{MaxBatchSize: 100}, engine, primary, fallback)

	m.pollTier(context.Background(), func(domain.Position) bool { return true })

	if engine.markCount() != 1 || !engine.marks[p1.ID].Equal(decimal.NewFromFloat(2.0)) {
		t.Errorf("expected fallback mark of 2.0, got %v", engine.marks)
	}
}

// A token missing from both primary and fallback leaves the position
// unmarked (stale data never drives a decision).
func TestMissingPriceLeavesPositionUnmarked(t *testing.T) {
	p1 := pos("MintDDD", time.Now())
	engine := newFakeEngine(p1)
	primary := &fakeQuoteClient{prices: map[string]decimal.Decimal{}, maxBatch: 100}
	m := New(config.PriceMonConfig{MaxBatchSize: 100, MaxStalenessSeconds: 300}, engine, primary, nil)

	m.pollTier(context.Background(), func(domain.Position) bool { return true })

	if engine.markCount() != 0 {
		t.Errorf("expected no marks applied when price is missing, got %d", engine.markCount())
	}
}

func TestUrgentClassificationNearStopLoss(t *testing.T) {
	sl := decimal.NewFromInt(10)
	p := pos("MintEEE", time.Now())
	p.ExitStrategySnapshot.StopLossPct = &sl
	p.CurrentPrice = decimal.NewFromFloat(0.92) // -8%, within 5pp of -10% stop

	m := New(config.PriceMonConfig{UrgentThresholdPct: 5}, newFakeEngine(), nil, nil)
	if !m.isUrgent(p) {
		t.Error("expected position within threshold of stop-loss to classify urgent")
	}
}

func TestStableClassificationForOldQuietPosition(t *testing.T) {
	p := pos("MintFFF", time.Now().Add(-2*time.Hour))
	m := New(config.PriceMonConfig{UrgentThresholdPct: 5}, newFakeEngine(), nil, nil)
	if !m.isStable(p) {
		t.Error("expected a 2h-old position with no nearby trigger to classify stable")
	}
	if m.isActive(p) {
		t.Error("a stable position should not also classify active")
	}
}
