package execqueue

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
	"walltrack/internal/errs"
	"walltrack/internal/venue"
)

type memOrderRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*domain.Order
}

func newMemOrderRepo() *memOrderRepo { return &memOrderRepo{byID: make(map[uuid.UUID]*domain.Order)} }

func (r *memOrderRepo) Insert(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.byID[o.ID] = &cp
	return nil
}
func (r *memOrderRepo) Update(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.byID[o.ID] = &cp
	return nil
}
func (r *memOrderRepo) Get(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, errs.New(errs.KindUnknownEntity, "get", errs.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}
func (r *memOrderRepo) FillsForPosition(context.Context, uuid.UUID) ([]*domain.Order, error) { return nil, nil }

type fakeBreaker struct{ open bool }

func (b *fakeBreaker) Open() bool { return b.open }

type scriptedSwap struct {
	mu        sync.Mutex
	dispatches []time.Time
	quoteErr   error
	execErr    error
	rateLimitN int // fail with KindRateLimited this many times before succeeding
}

func (s *scriptedSwap) Quote(ctx context.Context, inMint, outMint string, amountIn decimal.Decimal) (*venue.Quote, error) {
	s.mu.Lock()
	s.dispatches = append(s.dispatches, time.Now())
	s.mu.Unlock()
	if s.quoteErr != nil {
		return nil, s.quoteErr
	}
	return &venue.Quote{InAmount: amountIn, OutAmount: amountIn}, nil
}

func (s *scriptedSwap) Execute(ctx context.Context, quote *venue.Quote, signer venue.Signer, priority domain.Priority) (*venue.SwapResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rateLimitN > 0 {
		s.rateLimitN--
		return nil, errs.New(errs.KindRateLimited, "execute", errors.New("429"))
	}
	if s.execErr != nil {
		return nil, s.execErr
	}
	return &venue.SwapResult{TxSignature: "SIG", AmountOut: quote.OutAmount, Slippage: decimal.Zero}, nil
}

func (s *scriptedSwap) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dispatches)
}

func cfg() config.ExecQueueConfig {
	return config.ExecQueueConfig{MinSpacingMs: 20, MaxRetries: 3, BaseBackoffSec: 0.02}
}

func waitForCompletions(ch chan CompletionEvent, n int, timeout time.Duration) []CompletionEvent {
	var got []CompletionEvent
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case e := <-ch:
			got = append(got, e)
		case <-deadline:
			return got
		}
	}
	return got
}

// P5: NORMAL priority is rejected at submit time while the breaker is open;
// CRITICAL/URGENT/LOW are unaffected.
func TestBreakerGatesNormalOnly(t *testing.T) {
	swap := &scriptedSwap{}
	orders := newMemOrderRepo()
	completions := make(chan CompletionEvent, 8)
	q := New(cfg(), swap, orders, &fakeBreaker{open: true}, nil, func(e CompletionEvent) { completions <- e })

	_, err := q.Submit(context.Background(), uuid.New(), domain.OrderEntry, domain.ModeLive, domain.PriorityNormal, "A", "B", decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.Zero, nil)
	if !errs.Is(err, errs.KindBreakerOpen) {
		t.Errorf("normal priority under open breaker: err = %v, want KindBreakerOpen", err)
	}

	for _, p := range []domain.Priority{domain.PriorityCritical, domain.PriorityUrgent, domain.PriorityLow} {
		if _, err := q.Submit(context.Background(), uuid.New(), domain.OrderEntry, domain.ModeSimulation, p, "A", "B", decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.Zero, nil); err != nil {
			t.Errorf("priority %v rejected under open breaker: %v", p, err)
		}
	}
}

// P4 / Scenario 3: a CRITICAL request submitted after a LOW one, with both
// waiting before the dispatcher starts, is dispatched first.
func TestPriorityPreemption(t *testing.T) {
	swap := &scriptedSwap{}
	orders := newMemOrderRepo()
	completions := make(chan CompletionEvent, 8)
	q := New(cfg(), swap, orders, nil, nil, func(e CompletionEvent) { completions <- e })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lowID, err := q.Submit(ctx, uuid.New(), domain.OrderEntry, domain.ModeSimulation, domain.PriorityLow, "A", "B", decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.Zero, nil)
	if err != nil {
		t.Fatalf("submit low: %v", err)
	}
	criticalID, err := q.Submit(ctx, uuid.New(), domain.OrderEntry, domain.ModeSimulation, domain.PriorityCritical, "A", "B", decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.Zero, nil)
	if err != nil {
		t.Fatalf("submit critical: %v", err)
	}
	go q.Run(ctx)

	got := waitForCompletions(completions, 2, 2*time.Second)
	if len(got) != 2 {
		t.Fatalf("got %d completions, want 2", len(got))
	}
	if got[0].Order.ID != criticalID {
		t.Errorf("first dispatched order = %s, want critical order %s (priority overtook low)", got[0].Order.ID, criticalID)
	}
	if got[1].Order.ID != lowID {
		t.Errorf("second dispatched order = %s, want low order %s", got[1].Order.ID, lowID)
	}
}

// Simulation mode short-circuits the venue entirely and fills immediately.
func TestSimulationModeSkipsVenue(t *testing.T) {
	swap := &scriptedSwap{}
	orders := newMemOrderRepo()
	completions := make(chan CompletionEvent, 1)
	q := New(cfg(), swap, orders, nil, nil, func(e CompletionEvent) { completions <- e })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	id, err := q.Submit(ctx, uuid.New(), domain.OrderEntry, domain.ModeSimulation, domain.PriorityCritical, "A", "B", decimal.NewFromInt(1), decimal.NewFromInt(42), decimal.Zero, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := waitForCompletions(completions, 1, time.Second)
	if len(got) != 1 {
		t.Fatalf("got %d completions, want 1", len(got))
	}
	if got[0].Order.ID != id || got[0].Order.Status != domain.OrderFilled {
		t.Errorf("order = %+v, want filled simulated order", got[0].Order)
	}
	if swap.callCount() != 0 {
		t.Errorf("venue called %d times in simulation mode, want 0", swap.callCount())
	}
	if got[0].Order.AmountOutActual == nil || !got[0].Order.AmountOutActual.Equal(decimal.NewFromInt(42)) {
		t.Errorf("simulated fill amount_out_actual = %v, want amount_out_expected (42)", got[0].Order.AmountOutActual)
	}
}

// Rate limit failures retry without consuming the retry budget.
func TestRateLimitDoesNotConsumeRetryBudget(t *testing.T) {
	swap := &scriptedSwap{rateLimitN: 2}
	orders := newMemOrderRepo()
	completions := make(chan CompletionEvent, 1)
	q := New(cfg(), swap, orders, nil, nil, func(e CompletionEvent) { completions <- e })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	id, err := q.Submit(ctx, uuid.New(), domain.OrderEntry, domain.ModeLive, domain.PriorityCritical, "A", "B", decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.Zero, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := waitForCompletions(completions, 1, 2*time.Second)
	if len(got) != 1 {
		t.Fatalf("got %d completions, want 1", len(got))
	}
	if got[0].Order.ID != id || got[0].Order.Status != domain.OrderFilled {
		t.Errorf("order = %+v, want eventually filled", got[0].Order)
	}
	if got[0].Order.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0 (rate limit must not consume retry budget)", got[0].Order.RetryCount)
	}
}

// Exhausting max_retries on a transient failure marks the order failed.
func TestRetriesExhaustedFails(t *testing.T) {
	swap := &scriptedSwap{execErr: errs.New(errs.KindTransient, "execute", errors.New("timeout"))}
	orders := newMemOrderRepo()
	completions := make(chan CompletionEvent, 1)
	c := cfg()
	c.MaxRetries = 1
	q := New(c, swap, orders, nil, nil, func(e CompletionEvent) { completions <- e })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	_, err := q.Submit(ctx, uuid.New(), domain.OrderEntry, domain.ModeLive, domain.PriorityCritical, "A", "B", decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.Zero, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := waitForCompletions(completions, 1, 2*time.Second)
	if len(got) != 1 {
		t.Fatalf("got %d completions, want 1", len(got))
	}
	if got[0].Order.Status != domain.OrderFailed {
		t.Errorf("status = %v, want failed once max_retries is exhausted", got[0].Order.Status)
	}
}
