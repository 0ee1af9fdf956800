// Package pricemonitor implements the Price Monitor (spec §4.6): tiered
// polling over every open position, batched through a primary quote venue
// with a fallback on failure, marking each position via the Position
// Lifecycle Engine. A tick that cannot get fresh data for a position within
// max_staleness_seconds leaves that position untouched rather than ever
// driving a decision off stale data.
//
// The tiered-ticker polling loop generalizes the teacher's single 5s
// StartMonitoring ticker in internal/trading/executor.go into three
// independently-paced loops, and the primary/fallback/staleness handling is
// grounded on internal/blockchain/blockhash.go's double-buffered
// fetch-or-keep-last-good pattern.
package pricemonitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"walltrack/internal/config"
	"walltrack/internal/domain"
	"walltrack/internal/venue"
)

// MarkApplier is the subset of the Position Lifecycle Engine the monitor
// needs: it never reads positions back through this interface, only lists
// snapshots and applies marks.
type MarkApplier interface {
	OpenSnapshots() []domain.Position
	ApplyMark(ctx context.Context, positionID uuid.UUID, price decimal.Decimal) (domain.Position, error)
}

// Monitor drives three independently-paced polling tiers.
type Monitor struct {
	cfg      config.PriceMonConfig
	engine   MarkApplier
	primary  venue.QuoteClient
	fallback venue.QuoteClient

	mu          sync.Mutex
	lastUpdated map[uuid.UUID]time.Time
}

// New builds a Monitor. fallback may be nil.
func New(cfg config.PriceMonConfig, engine MarkApplier, primary, fallback venue.QuoteClient) *Monitor {
	return &Monitor{cfg: cfg, engine: engine, primary: primary, fallback: fallback, lastUpdated: make(map[uuid.UUID]time.Time)}
}

// Run starts all three polling tiers and blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	tiers := []struct {
		interval time.Duration
		classify func(domain.Position) bool
	}{
		{time.Duration(m.cfg.UrgentPollSeconds) * time.Second, m.isUrgent},
		{time.Duration(m.cfg.ActivePollSeconds) * time.Second, m.isActive},
		{time.Duration(m.cfg.StablePollSeconds) * time.Second, m.isStable},
	}
	for _, tier := range tiers {
		wg.Add(1)
		go func(interval time.Duration, classify func(domain.Position) bool) {
			defer wg.Done()
			m.runTier(ctx, interval, classify)
		}(tier.interval, tier.classify)
	}
	wg.Wait()
	return nil
}

func (m *Monitor) runTier(ctx context.Context, interval time.Duration, classify func(domain.Position) bool) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollTier(ctx, classify)
		}
	}
}

func (m *Monitor) pollTier(ctx context.Context, classify func(domain.Position) bool) {
	all := m.engine.OpenSnapshots()
	var tokens []string
	byToken := make(map[string][]domain.Position)
	for _, p := range all {
		if !classify(p) {
			continue
		}
		tokens = append(tokens, p.TokenAddress)
		byToken[p.TokenAddress] = append(byToken[p.TokenAddress], p)
	}
	if len(tokens) == 0 {
		return
	}

	maxBatch := m.primary.MaxBatch()
	if maxBatch <= 0 || maxBatch > m.cfg.MaxBatchSize {
		maxBatch = m.cfg.MaxBatchSize
	}
	for start := 0; start < len(tokens); start += maxBatch {
		end := start + maxBatch
		if end > len(tokens) {
			end = len(tokens)
		}
		m.pollBatch(ctx, tokens[start:end], byToken)
	}
}

func (m *Monitor) pollBatch(ctx context.Context, batch []string, byToken map[string][]domain.Position) {
	prices, err := m.primary.BatchPrices(ctx, batch)
	if err != nil {
		log.Warn().Err(err).Int("batch", len(batch)).Msg("primary price source failed, trying fallback")
		prices = nil
	}
	if m.fallback != nil {
		missing := missingFrom(batch, prices)
		if len(missing) > 0 {
			fallbackPrices, ferr := m.fallback.BatchPrices(ctx, missing)
			if ferr != nil {
				log.Warn().Err(ferr).Int("batch", len(missing)).Msg("fallback price source also failed")
			} else {
				if prices == nil {
					prices = make(map[string]decimal.Decimal, len(fallbackPrices))
				}
				for k, v := range fallbackPrices {
					prices[k] = v
				}
			}
		}
	}

	now := time.Now()
	for _, token := range batch {
		positions := byToken[token]
		price, ok := prices[token]
		if !ok {
			m.checkStale(positions, now)
			continue
		}
		for _, p := range positions {
			if _, err := m.engine.ApplyMark(ctx, p.ID, price); err != nil {
				log.Error().Err(err).Str("position", p.ID.String()).Msg("failed to apply price mark")
				continue
			}
			m.mu.Lock()
			m.lastUpdated[p.ID] = now
			m.mu.Unlock()
		}
	}
}

// checkStale logs positions whose last successful mark has aged past
// max_staleness_seconds. No mark is applied; per spec, stale data never
// drives a decision.
func (m *Monitor) checkStale(positions []domain.Position, now time.Time) {
	maxStale := time.Duration(m.cfg.MaxStalenessSeconds) * time.Second
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range positions {
		last, ok := m.lastUpdated[p.ID]
		if ok && now.Sub(last) <= maxStale {
			continue
		}
		log.Warn().Str("position", p.ID.String()).Str("token", p.TokenAddress).Msg("price data stale, skipping mark this tick")
	}
}

func missingFrom(batch []string, prices map[string]decimal.Decimal) []string {
	var missing []string
	for _, t := range batch {
		if _, ok := prices[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

// isUrgent classifies a position as urgent when it sits within
// urgent_threshold_pct of any configured stop-loss, trailing-stop or next
// scaling-out trigger — i.e. it could cross an exit threshold before the
// active tier would next poll it.
func (m *Monitor) isUrgent(p domain.Position) bool {
	strat := p.ExitStrategySnapshot
	if strat == nil {
		return false
	}
	threshold := decimal.NewFromFloat(m.cfg.UrgentThresholdPct)
	pnlPct := p.PnLPct()

	if strat.StopLossPct != nil {
		distance := pnlPct.Add(*strat.StopLossPct).Abs()
		if distance.LessThanOrEqual(threshold) {
			return true
		}
	}
	if strat.TrailingStopPct != nil && strat.ActivationPct != nil && p.PeakPnLPct().GreaterThanOrEqual(*strat.ActivationPct) {
		drawdown := p.PeakPrice.Sub(p.CurrentPrice).Div(maxNonZero(p.PeakPrice)).Mul(decimal.NewFromInt(100))
		if strat.TrailingStopPct.Sub(drawdown).Abs().LessThanOrEqual(threshold) {
			return true
		}
	}
	for i, lvl := range strat.ScalingLevels {
		if p.ScalingLevelsHit[i] {
			continue
		}
		if lvl.TriggerPct.Sub(pnlPct).Abs().LessThanOrEqual(threshold) {
			return true
		}
	}
	return false
}

func maxNonZero(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return decimal.New(1, -9)
	}
	return d
}

// isActive classifies positions opened recently that are not (yet) urgent.
func (m *Monitor) isActive(p domain.Position) bool {
	if m.isUrgent(p) {
		return false
	}
	return time.Since(p.OpenedAt) < time.Hour
}

// isStable classifies longer-held, non-urgent positions.
func (m *Monitor) isStable(p domain.Position) bool {
	if m.isUrgent(p) {
		return false
	}
	return time.Since(p.OpenedAt) >= time.Hour
}
