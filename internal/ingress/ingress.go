// Package ingress implements Signal Ingress (spec §4.1): deduplicates
// venue-delivered webhook events, resolves and classifies them into typed
// Signals, and routes them onto bounded per-wallet lanes so causal order is
// preserved for each wallet. The non-blocking enqueue with Ack::Retry on a
// full queue mirrors the teacher's internal/signal/server.go handleSignal,
// which drops into a fiber handler with a select/default over the signal
// channel; here the same discipline is applied per-lane.
package ingress

import (
	"context"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"walltrack/internal/config"
	"walltrack/internal/domain"
	"walltrack/internal/errs"
	"walltrack/internal/storage"
)

// Dispatch is what Ingress hands downstream for each accepted signal: buys
// go to the Safety Evaluator, sells go to the mirror-exit dispatcher.
type Dispatch struct {
	Signal *domain.Signal
}

// Ingress owns N sharded consumer lanes so per-wallet signal order is
// preserved (hash(wallet_id) mod N) while distinct wallets process in
// parallel.
type Ingress struct {
	cfg     config.IngressConfig
	wallets storage.WalletRepo
	signals storage.SignalRepo
	lanes   []chan Dispatch
}

// New builds an Ingress with cfg.Lanes bounded channels of cfg.LaneQueueSize.
func New(cfg config.IngressConfig, wallets storage.WalletRepo, signals storage.SignalRepo) *Ingress {
	lanes := make([]chan Dispatch, cfg.Lanes)
	for i := range lanes {
		lanes[i] = make(chan Dispatch, cfg.LaneQueueSize)
	}
	return &Ingress{cfg: cfg, wallets: wallets, signals: signals, lanes: lanes}
}

// Lane returns the consumer channel for wallet i (i in [0, Lanes)).
func (in *Ingress) Lane(i int) <-chan Dispatch { return in.lanes[i] }

// NumLanes is the sharded lane count.
func (in *Ingress) NumLanes() int { return len(in.lanes) }

func laneFor(walletID uuid.UUID, n int) int {
	h := fnv.New32a()
	_, _ = h.Write(walletID[:])
	return int(h.Sum32()) % n
}

// Ingest implements the public contract: ingest(raw_event) -> Ack.
//
// 1. Resolve wallet_id by address; an unknown or inactive wallet's event is
//    recorded as filtered (FilterUnknownWallet) and acknowledged.
// 2. Classify buy vs sell against the configured base quote mint.
// 3. Insert a Signal keyed by tx_signature; a uniqueness conflict records a
//    second, filtered=duplicate row and returns Ack::Duplicate.
// 4. Route onto the wallet's lane; a full lane returns Ack::Retry.
//
// Deduplication runs only after wallet resolution: a repeated event from an
// unknown or inactive wallet is recorded as FilterUnknownWallet again, not
// as a duplicate.
func (in *Ingress) Ingest(ctx context.Context, baseMint string, raw domain.RawEvent) (domain.Ack, error) {
	wallet, err := in.wallets.GetByAddress(ctx, raw.WalletAddress)
	if err != nil || !wallet.Active {
		reason := domain.FilterUnknownWallet
		log.Debug().Str("wallet", raw.WalletAddress).Str("reason", reason).Msg("signal filtered")
		sig := &domain.Signal{
			ID: uuid.New(), TxSignature: raw.TxSignature, TokenAddress: raw.TokenInMint,
			AmountIn: raw.AmountIn, AmountOut: raw.AmountOut, ReceivedAt: raw.ReceivedAt,
			Filtered: true, FilterReason: reason, RawPayload: raw.Raw,
		}
		if insErr := in.signals.Insert(ctx, sig); insErr != nil && !errs.Is(insErr, errs.KindDuplicate) {
			return domain.AckRetry, insErr
		}
		return domain.AckAccepted, nil
	}

	kind := classify(raw, baseMint)
	sig := &domain.Signal{
		ID:           uuid.New(),
		WalletID:     wallet.ID,
		TxSignature:  raw.TxSignature,
		Kind:         kind,
		TokenAddress: tokenOfInterest(raw, kind),
		AmountIn:     raw.AmountIn,
		AmountOut:    raw.AmountOut,
		ReceivedAt:   raw.ReceivedAt,
		RawPayload:   raw.Raw,
	}

	if err := in.signals.Insert(ctx, sig); err != nil {
		if errs.Is(err, errs.KindDuplicate) {
			dup := *sig
			dup.ID = uuid.New()
			dup.Filtered = true
			dup.FilterReason = domain.FilterDuplicate
			_ = in.signals.Insert(ctx, &dup)
			return domain.AckDuplicate, nil
		}
		return domain.AckRetry, err
	}

	lane := in.lanes[laneFor(wallet.ID, len(in.lanes))]
	select {
	case lane <- Dispatch{Signal: sig}:
		return domain.AckAccepted, nil
	default:
		log.Warn().Str("wallet", wallet.Address).Msg("ingress lane full, backpressure applied")
		return domain.AckRetry, nil
	}
}

// classify decides buy vs sell relative to the base quote token set.
func classify(raw domain.RawEvent, baseMint string) domain.SignalKind {
	if raw.TokenInMint == baseMint {
		return domain.SignalBuy
	}
	return domain.SignalSell
}

// tokenOfInterest is the non-base-quote mint the signal concerns.
func tokenOfInterest(raw domain.RawEvent, kind domain.SignalKind) string {
	if kind == domain.SignalBuy {
		return raw.TokenOutMint
	}
	return raw.TokenInMint
}
