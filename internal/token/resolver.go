// Package token resolves a mint address to its display symbol, used to
// decorate domain.Token and log lines with something more readable than a
// base58 address. Concurrent lookups for the same mint are coalesced with
// golang.org/x/sync/singleflight, the same coalescing the Safety Evaluator
// uses over its own cache.
package token

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// MetadataSource fetches a mint's on-chain/off-chain symbol metadata. A
// venue-backed implementation lives alongside the other venue adapters; for
// mints it has no metadata for, Symbol returns "" rather than an error.
type MetadataSource interface {
	Symbol(ctx context.Context, mint string) (string, error)
}

type entry struct {
	symbol    string
	fetchedAt time.Time
}

// Resolver caches mint -> symbol with a TTL, backed by a MetadataSource.
type Resolver struct {
	source MetadataSource
	ttl    time.Duration
	group  singleflight.Group

	mu    sync.RWMutex
	cache map[string]entry
}

// NewResolver builds a Resolver. A zero ttl defaults to 24h, since symbols
// essentially never change once minted.
func NewResolver(source MetadataSource, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Resolver{source: source, ttl: ttl, cache: make(map[string]entry)}
}

// Resolve returns mint's cached symbol, fetching through the source on a
// miss or expiry. A source error is logged and swallowed: callers treat an
// unresolved symbol as a cosmetic gap, never a reason to fail a trade.
func (r *Resolver) Resolve(ctx context.Context, mint string) string {
	r.mu.RLock()
	e, ok := r.cache[mint]
	r.mu.RUnlock()
	if ok && time.Since(e.fetchedAt) < r.ttl {
		return e.symbol
	}

	v, err, _ := r.group.Do(mint, func() (any, error) {
		sym, err := r.source.Symbol(ctx, mint)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.cache[mint] = entry{symbol: sym, fetchedAt: time.Now()}
		r.mu.Unlock()
		return sym, nil
	})
	if err != nil {
		log.Debug().Err(err).Str("mint", mint).Msg("token: symbol lookup failed, continuing without it")
		return ""
	}
	return v.(string)
}

// CacheSize returns the number of mints currently cached.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
