package safety

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"walltrack/internal/config"
	"walltrack/internal/domain"
	"walltrack/internal/venue"
)

type memTokenRepo struct {
	mu sync.Mutex
	m  map[string]*domain.Token
}

func newMemTokenRepo() *memTokenRepo { return &memTokenRepo{m: make(map[string]*domain.Token)} }

func (r *memTokenRepo) Upsert(_ context.Context, t *domain.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.m[t.Address] = &cp
	return nil
}

func (r *memTokenRepo) Get(_ context.Context, address string) (*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.m[address]
	if !ok {
		return nil, errNotFound
	}
	cp := *t
	return &cp, nil
}

type errNotFoundType struct{}

func (errNotFoundType) Error() string { return "not found" }

var errNotFound = errNotFoundType{}

type countingSource struct {
	name  string
	calls atomic.Int64
	delay time.Duration
	resp  *venue.SafetyReport
	err   error
}

func (s *countingSource) Name() string { return s.name }

func (s *countingSource) Analyze(ctx context.Context, tokenAddr string) (*venue.SafetyReport, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func fullPassReport() *venue.SafetyReport {
	return &venue.SafetyReport{
		Source: "primary",
		LiquidityChecked: true, LiquidityPass: true,
		HoldersChecked: true, HoldersPass: true,
		ContractChecked: true, ContractPass: true,
		AgeChecked: true, AgePass: true,
	}
}

// P10: concurrent score requests for the same token produce exactly one
// upstream call.
func TestSingleFlightCoalescing(t *testing.T) {
	src := &countingSource{name: "primary", delay: 50 * time.Millisecond, resp: fullPassReport()}
	tokens := newMemTokenRepo()
	ev := NewEvaluator(config.SafetyConfig{PassThreshold: 0.60, CacheTTLSeconds: 3600}, tokens, []venue.SafetyClient{src}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ev.Score(context.Background(), "MintAAA"); err != nil {
				t.Errorf("Score: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := src.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

// Scenario 2: liquidity fail, holders/contract/age pass -> score=0.75;
// threshold=0.80 filters it.
func TestScenarioSafetyReject(t *testing.T) {
	report := &venue.SafetyReport{
		Source:           "primary",
		LiquidityChecked: true, LiquidityPass: false,
		HoldersChecked: true, HoldersPass: true,
		ContractChecked: true, ContractPass: true,
		AgeChecked: true, AgePass: true,
	}
	src := &countingSource{name: "primary", resp: report}
	tokens := newMemTokenRepo()
	ev := NewEvaluator(config.SafetyConfig{PassThreshold: 0.80, CacheTTLSeconds: 3600}, tokens, []venue.SafetyClient{src}, nil, nil)

	tok, err := ev.Score(context.Background(), "MintBBB")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !tok.SafetyScore.Equal(decimal.NewFromFloat(0.75)) {
		t.Errorf("score = %s, want 0.75", tok.SafetyScore)
	}
	if ev.Passes(tok) {
		t.Error("expected token to fail the 0.80 threshold")
	}
}

// Fallback chain: primary fails, secondary returns a partial report (only
// two checks covered); weights reproportion to those two checks.
func TestFallbackPartialReproportion(t *testing.T) {
	primary := &countingSource{name: "primary", err: errTransient}
	secondary := &countingSource{name: "secondary", resp: &venue.SafetyReport{
		Source:           "secondary",
		LiquidityChecked: true, LiquidityPass: true,
		ContractChecked: true, ContractPass: false,
	}}
	tokens := newMemTokenRepo()
	ev := NewEvaluator(config.SafetyConfig{PassThreshold: 0.60, CacheTTLSeconds: 3600}, tokens, []venue.SafetyClient{primary, secondary}, nil, nil)

	tok, err := ev.Score(context.Background(), "MintCCC")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !tok.SafetyScore.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("reproportioned score = %s, want 0.5 (1 of 2 checks passed)", tok.SafetyScore)
	}
	if tok.Source != domain.TokenSourceSecondary {
		t.Errorf("source = %s, want secondary", tok.Source)
	}
}

// All sources fail: score=0, source=none, and the record is still written.
func TestAllSourcesFail(t *testing.T) {
	primary := &countingSource{name: "primary", err: errTransient}
	secondary := &countingSource{name: "secondary", err: errTransient}
	tokens := newMemTokenRepo()
	ev := NewEvaluator(config.SafetyConfig{PassThreshold: 0.60, CacheTTLSeconds: 3600}, tokens, []venue.SafetyClient{primary, secondary}, nil, nil)

	tok, err := ev.Score(context.Background(), "MintDDD")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !tok.SafetyScore.IsZero() {
		t.Errorf("score = %s, want 0", tok.SafetyScore)
	}
	if tok.Source != domain.TokenSourceNone {
		t.Errorf("source = %s, want none", tok.Source)
	}
}

// Cache hit within TTL skips the upstream call entirely.
func TestCacheHitSkipsUpstream(t *testing.T) {
	src := &countingSource{name: "primary", resp: fullPassReport()}
	tokens := newMemTokenRepo()
	ev := NewEvaluator(config.SafetyConfig{PassThreshold: 0.60, CacheTTLSeconds: 3600}, tokens, []venue.SafetyClient{src}, nil, nil)

	if _, err := ev.Score(context.Background(), "MintEEE"); err != nil {
		t.Fatalf("Score: %v", err)
	}
	if _, err := ev.Score(context.Background(), "MintEEE"); err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (second call should hit cache)", got)
	}
}

type errTransientType struct{}

func (errTransientType) Error() string { return "transient upstream failure" }

var errTransient = errTransientType{}
