// Package safety implements the Safety Evaluator (spec §4.2): a read-through
// cache over a primary/secondary/tertiary SafetyClient fallback chain, with
// concurrent requests for the same token address coalesced via
// golang.org/x/sync/singleflight (grounded on ChoSanghyuk-blackholedex and
// joeycumines-go-utilpkg's use of golang.org/x/sync in the example pack).
package safety

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"walltrack/internal/config"
	"walltrack/internal/domain"
	"walltrack/internal/metrics"
	"walltrack/internal/storage"
	"walltrack/internal/token"
	"walltrack/internal/venue"
)

// Evaluator scores tokens against the weighted check set and persists the
// verdict via TokenRepo.
type Evaluator struct {
	cfg      config.SafetyConfig
	tokens   storage.TokenRepo
	sources  []venue.SafetyClient // ordered primary -> secondary -> tertiary
	symbols  *token.Resolver      // optional; nil leaves Symbol to the source's own report
	group    singleflight.Group
	metrics  *metrics.Registry
	now      func() time.Time
}

// NewEvaluator builds an Evaluator over sources in fallback order. symbols
// may be nil if no symbol-decoration source is configured.
func NewEvaluator(cfg config.SafetyConfig, tokens storage.TokenRepo, sources []venue.SafetyClient, symbols *token.Resolver, reg *metrics.Registry) *Evaluator {
	return &Evaluator{cfg: cfg, tokens: tokens, sources: sources, symbols: symbols, metrics: reg, now: time.Now}
}

var checkWeight = decimal.NewFromFloat(0.25) // four equal-weight checks

// Score evaluates tokenAddr, read-through on the cache, single-flighted per
// address, and upserts the verdict. A cache hit younger than TTL short-circuits
// entirely (no upstream call, no singleflight entry created).
func (e *Evaluator) Score(ctx context.Context, tokenAddr string) (*domain.Token, error) {
	if cached, err := e.tokens.Get(ctx, tokenAddr); err == nil && !cached.Stale(e.now()) {
		if e.metrics != nil {
			e.metrics.SafetyCacheHits.Inc()
		}
		return cached, nil
	}
	if e.metrics != nil {
		e.metrics.SafetyCacheMiss.Inc()
	}

	v, err, _ := e.group.Do(tokenAddr, func() (any, error) {
		return e.analyze(ctx, tokenAddr)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Token), nil
}

// analyze walks the fallback chain; a source that errors is skipped, a
// source that returns a partial report reproportions weights over only the
// checks it covers. If every source fails, a score=0/source=none record is
// written and returned so callers treat it as filtered.
func (e *Evaluator) analyze(ctx context.Context, tokenAddr string) (*domain.Token, error) {
	for _, src := range e.sources {
		report, err := src.Analyze(ctx, tokenAddr)
		if err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Str("token", tokenAddr).Msg("safety source failed, trying next")
			continue
		}
		tok := e.scoreFromReport(tokenAddr, report)
		if tok.Symbol == "" && e.symbols != nil {
			tok.Symbol = e.symbols.Resolve(ctx, tokenAddr)
		}
		if err := e.tokens.Upsert(ctx, tok); err != nil {
			return nil, err
		}
		return tok, nil
	}

	log.Error().Str("token", tokenAddr).Msg("all safety sources failed")
	tok := &domain.Token{
		Address:     tokenAddr,
		SafetyScore: decimal.Zero,
		AnalyzedAt:  e.now(),
		Source:      domain.TokenSourceNone,
	}
	if err := e.tokens.Upsert(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func (e *Evaluator) scoreFromReport(tokenAddr string, r *venue.SafetyReport) *domain.Token {
	var numerator, denominator decimal.Decimal
	checks := []struct {
		checked, pass bool
	}{
		{r.LiquidityChecked, r.LiquidityPass},
		{r.HoldersChecked, r.HoldersPass},
		{r.ContractChecked, r.ContractPass},
		{r.AgeChecked, r.AgePass},
	}
	for _, c := range checks {
		if !c.checked {
			continue
		}
		denominator = denominator.Add(checkWeight)
		if c.pass {
			numerator = numerator.Add(checkWeight)
		}
	}
	score := decimal.Zero
	if !denominator.IsZero() {
		score = numerator.Div(denominator)
	}
	var source domain.TokenSource
	switch r.Source {
	case "primary":
		source = domain.TokenSourcePrimary
	case "secondary":
		source = domain.TokenSourceSecondary
	default:
		source = domain.TokenSourceTertiary
	}
	return &domain.Token{
		Address:       tokenAddr,
		Symbol:        r.Symbol,
		SafetyScore:   score,
		AnalyzedAt:    e.now(),
		Source:        source,
		LiquidityPass: r.LiquidityChecked && r.LiquidityPass,
		HoldersPass:   r.HoldersChecked && r.HoldersPass,
		ContractPass:  r.ContractChecked && r.ContractPass,
		AgePass:       r.AgeChecked && r.AgePass,
	}
}

// Passes reports whether a score clears the configured pass threshold.
func (e *Evaluator) Passes(tok *domain.Token) bool {
	return tok.SafetyScore.GreaterThanOrEqual(decimal.NewFromFloat(e.cfg.PassThreshold))
}
