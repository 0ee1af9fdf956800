// Package breaker implements the Circuit Breaker (spec §4.7): an
// atomic-flag gate evaluated periodically against today's closed positions,
// trading capital preservation for availability. NORMAL-priority entries are
// refused while it is open; CRITICAL/URGENT/LOW traffic (exits) is never
// gated, so a tripped breaker can still unwind existing risk.
//
// The atomic-flag + auto-reset-after-window pattern is grounded directly on
// the teacher's internal/blockchain/rpc.go in-struct breaker (5 failures /
// 30s reset), repurposed here from RPC-failure gating to loss-triggered
// entry gating and given an explicit open/closed event log instead of a
// silent internal counter.
package breaker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"walltrack/internal/config"
	"walltrack/internal/domain"
	"walltrack/internal/metrics"
	"walltrack/internal/storage"
)

// Breaker gates NORMAL-priority order admission. Open/Reset are lock-free;
// the evaluation loop is the only writer, Open is read from any goroutine.
type Breaker struct {
	cfg        config.BreakerConfig
	positions  storage.PositionRepo
	events     storage.BreakerRepo
	metrics    *metrics.Registry
	now        func() time.Time
	openFlag   atomic.Bool
	version    atomic.Int64
	lastRollover atomic.Int64 // unix seconds of the UTC day start at the last midnight reset
}

// New builds a Breaker, closed until the first evaluation trips it.
func New(cfg config.BreakerConfig, positions storage.PositionRepo, events storage.BreakerRepo, reg *metrics.Registry) *Breaker {
	return &Breaker{cfg: cfg, positions: positions, events: events, metrics: reg, now: time.Now}
}

// Open reports whether NORMAL-priority admission is currently refused.
func (b *Breaker) Open() bool { return b.openFlag.Load() }

// Version increments on every trip/reset transition, for callers that need
// to detect a state change without racing on the flag itself.
func (b *Breaker) Version() int64 { return b.version.Load() }

// Run evaluates trip conditions on cfg.EvalIntervalSeconds until ctx is
// cancelled, and performs the midnight rollover reset.
func (b *Breaker) Run(ctx context.Context) error {
	interval := time.Duration(b.cfg.EvalIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.evaluate(ctx)
		}
	}
}

func (b *Breaker) evaluate(ctx context.Context) {
	now := b.now()
	day := now.Truncate(24 * time.Hour).Unix()
	if b.lastRollover.Load() != day {
		b.lastRollover.Store(day)
		if b.openFlag.Load() {
			b.reset(ctx, "midnight_rollover")
		}
	}

	closed, err := b.positions.ClosedToday(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("breaker: failed to load today's closed positions")
		return
	}
	snapshot := summarize(closed)

	tripped := false
	var reason string
	dailyLossLimit := decimal.NewFromFloat(b.cfg.DailyLossLimitUSD)
	if dailyLossLimit.GreaterThan(decimal.Zero) && snapshot.RealizedLossUSD.GreaterThanOrEqual(dailyLossLimit) {
		tripped, reason = true, "daily_loss_limit"
	}
	maxDrawdown := decimal.NewFromFloat(b.cfg.MaxDrawdownPct)
	if !tripped && maxDrawdown.GreaterThan(decimal.Zero) && snapshot.DrawdownPct.GreaterThanOrEqual(maxDrawdown) {
		tripped, reason = true, "max_drawdown"
	}

	if tripped && !b.openFlag.Load() {
		b.trip(ctx, reason, snapshot)
	}
}

// BreakerStats summarizes today's closed positions for trip evaluation.
type BreakerStats struct {
	RealizedLossUSD   decimal.Decimal
	DrawdownPct       decimal.Decimal
	WinRate           decimal.Decimal
	ConsecutiveLosses int
}

func summarize(closed []*domain.Position) BreakerStats {
	var totalPnL, peakEquity, trough decimal.Decimal
	var wins int
	consecutiveLosses, maxConsecutiveLosses := 0, 0

	running := decimal.Zero
	for _, p := range closed {
		totalPnL = totalPnL.Add(p.RealizedPnL)
		running = running.Add(p.RealizedPnL)
		if running.GreaterThan(peakEquity) {
			peakEquity = running
		}
		if drop := peakEquity.Sub(running); drop.GreaterThan(trough) {
			trough = drop
		}
		if p.RealizedPnL.GreaterThanOrEqual(decimal.Zero) {
			wins++
			consecutiveLosses = 0
		} else {
			consecutiveLosses++
			if consecutiveLosses > maxConsecutiveLosses {
				maxConsecutiveLosses = consecutiveLosses
			}
		}
	}

	winRate := decimal.Zero
	if len(closed) > 0 {
		winRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(closed)))).Mul(decimal.NewFromInt(100))
	}
	drawdownPct := decimal.Zero
	if peakEquity.GreaterThan(decimal.Zero) {
		drawdownPct = trough.Div(peakEquity).Mul(decimal.NewFromInt(100))
	}
	loss := decimal.Zero
	if totalPnL.LessThan(decimal.Zero) {
		loss = totalPnL.Neg()
	}
	return BreakerStats{RealizedLossUSD: loss, DrawdownPct: drawdownPct, WinRate: winRate, ConsecutiveLosses: maxConsecutiveLosses}
}

func (b *Breaker) trip(ctx context.Context, reason string, stats BreakerStats) {
	b.openFlag.Store(true)
	b.version.Add(1)
	if b.metrics != nil {
		b.metrics.BreakerOpen.Set(1)
	}
	log.Warn().Str("reason", reason).Str("realized_loss_usd", stats.RealizedLossUSD.String()).Str("drawdown_pct", stats.DrawdownPct.String()).Msg("circuit breaker tripped, NORMAL-priority entries refused")
	evt := &domain.CircuitBreakerEvent{
		ID: uuid.New(), Kind: domain.BreakerTripped, Reason: reason, OccurredAt: b.now(),
		Snapshot:   domain.BreakerSnapshot{DrawdownPct: stats.DrawdownPct, WinRate: stats.WinRate, ConsecutiveLosses: stats.ConsecutiveLosses},
		Thresholds: domain.BreakerThresholds{DailyLossLimitUSD: decimal.NewFromFloat(b.cfg.DailyLossLimitUSD), MaxDrawdownPct: decimal.NewFromFloat(b.cfg.MaxDrawdownPct)},
	}
	if err := b.events.Insert(ctx, evt); err != nil {
		log.Error().Err(err).Msg("failed to persist breaker trip event")
	}
}

func (b *Breaker) reset(ctx context.Context, reason string) {
	b.openFlag.Store(false)
	b.version.Add(1)
	if b.metrics != nil {
		b.metrics.BreakerOpen.Set(0)
	}
	log.Info().Str("reason", reason).Msg("circuit breaker reset, NORMAL-priority entries resumed")
	evt := &domain.CircuitBreakerEvent{ID: uuid.New(), Kind: domain.BreakerReset, Reason: reason, OccurredAt: b.now()}
	if err := b.events.Insert(ctx, evt); err != nil {
		log.Error().Err(err).Msg("failed to persist breaker reset event")
	}
}

// ManualReset clears the breaker on operator request (e.g. an HTTP admin
// call), independent of the midnight rollover.
func (b *Breaker) ManualReset(ctx context.Context) {
	if b.openFlag.Load() {
		b.reset(ctx, "manual")
	}
}
