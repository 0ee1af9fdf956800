package jupiter

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"walltrack/internal/blockchain"
	"walltrack/internal/domain"
	"walltrack/internal/errs"
	"walltrack/internal/venue"
	"walltrack/internal/websocket"
)

// SOLMintAddress is the wrapped-SOL mint, Jupiter's universal quote-side mint.
const SOLMintAddress = SOLMint

// priorityFee maps a domain.Priority tier onto Jupiter's own priority-fee
// vocabulary. Critical/urgent fills pay for Jupiter's top fee tier with a
// high cap; low-priority fills (exits with slack) ask for less and cap the
// bid accordingly.
func priorityFee(p domain.Priority) (level string, maxLamports uint64) {
	switch p {
	case domain.PriorityCritical:
		return "veryHigh", 2_000_000
	case domain.PriorityUrgent:
		return "veryHigh", 1_250_000
	case domain.PriorityNormal:
		return "high", 500_000
	case domain.PriorityLow:
		return "medium", 150_000
	default:
		return "medium", 150_000
	}
}

// Confirmer waits for an already-broadcast transaction to land, reporting
// back through a callback rather than blocking on a return value. Satisfied
// by *websocket.WalletMonitor.
type Confirmer interface {
	WaitForConfirmation(signature string, callback func(websocket.TxConfirmation)) error
}

// Adapter implements venue.QuoteClient and venue.SwapClient over a Jupiter
// Client, submitting signed swaps through a blockchain.RPCClient. Amounts
// cross the venue boundary as base-unit integers carried in decimal.Decimal,
// matching how every other domain amount field is represented.
type Adapter struct {
	client    *Client
	rpc       *blockchain.RPCClient
	blockhash *blockchain.BlockhashCache
	confirmer Confirmer
}

// NewAdapter builds an Adapter. rpc is used only for submitting signed swap
// transactions; quote fetching goes through client alone. blockhash gates
// Execute on RPC health before a swap is broadcast; confirmer is optional
// (nil disables post-broadcast confirmation waiting) and is wired to the
// wallet's signature subscription when a WebSocket connection is available.
func NewAdapter(client *Client, rpc *blockchain.RPCClient, blockhash *blockchain.BlockhashCache, confirmer Confirmer) *Adapter {
	return &Adapter{client: client, rpc: rpc, blockhash: blockhash, confirmer: confirmer}
}

// Quote fetches a swap quote for amountIn base units of inMint.
func (a *Adapter) Quote(ctx context.Context, inMint, outMint string, amountIn decimal.Decimal) (*venue.Quote, error) {
	lamports := amountIn.BigInt().Uint64()
	resp, err := a.client.GetQuote(ctx, inMint, outMint, lamports)
	if err != nil {
		return nil, errs.New(blockchain.ClassifyKind(err), "jupiter.Quote", err)
	}

	outAmt, err := decimal.NewFromString(resp.OutAmount)
	if err != nil {
		return nil, errs.New(errs.KindTransient, "jupiter.Quote", fmt.Errorf("unparseable outAmount %q: %w", resp.OutAmount, err))
	}
	impact, err := decimal.NewFromString(resp.PriceImpactPct)
	if err != nil {
		impact = decimal.Zero
	}

	return &venue.Quote{
		InAmount:       amountIn,
		OutAmount:      outAmt,
		PriceImpactPct: impact,
		Raw:            resp,
	}, nil
}

// BatchPrices fetches a same-side (token -> SOL) quote for each token
// independently; Jupiter's Metis API has no native batch-quote endpoint, so
// this issues one quote per token and reports the per-unit SOL price.
func (a *Adapter) BatchPrices(ctx context.Context, tokens []string) (map[string]decimal.Decimal, error) {
	unit := decimal.New(1, 9) // 1 whole token at 9 decimals, a reasonable probe size for most SPL memecoins
	out := make(map[string]decimal.Decimal, len(tokens))
	for _, mint := range tokens {
		q, err := a.Quote(ctx, mint, SOLMintAddress, unit)
		if err != nil {
			continue
		}
		out[mint] = q.OutAmount.Div(unit)
	}
	return out, nil
}

// MaxBatch bounds how many tokens pollBatch hands to BatchPrices in one
// call; Jupiter has no server-side batch limit, so this just caps how much
// sequential quote-fetching a single tick will do.
func (a *Adapter) MaxBatch() int { return 25 }

// Execute signs and submits quote's swap transaction via signer, then sends
// it through the RPC client. priority controls both Jupiter's own priority
// fee bid and, when a confirmer is wired, how urgently the fill should be
// confirmed before Execute returns.
func (a *Adapter) Execute(ctx context.Context, quote *venue.Quote, signer venue.Signer, priority domain.Priority) (*venue.SwapResult, error) {
	resp, ok := quote.Raw.(*QuoteResponse)
	if !ok {
		return nil, errs.New(errs.KindValidation, "jupiter.Execute", fmt.Errorf("quote not produced by this adapter"))
	}

	if a.blockhash != nil {
		if _, err := a.blockhash.Get(); err != nil {
			return nil, errs.New(errs.KindTransient, "jupiter.Execute", fmt.Errorf("blockhash cache unhealthy: %w", err))
		}
	}

	level, maxFee := priorityFee(priority)
	amountIn := quote.InAmount.BigInt().Uint64()
	swapTxB64, err := a.client.GetSwapTransaction(ctx, resp.InputMint, resp.OutputMint, signer.Address(), amountIn, level, maxFee)
	if err != nil {
		return nil, errs.New(blockchain.ClassifyKind(err), "jupiter.Execute", err)
	}

	rawTx, err := base64.StdEncoding.DecodeString(swapTxB64)
	if err != nil {
		return nil, errs.New(errs.KindTransient, "jupiter.Execute", fmt.Errorf("decode swap tx: %w", err))
	}
	signedTxB64, err := signer.SignTransaction(rawTx)
	if err != nil {
		return nil, errs.New(errs.KindPermanent, "jupiter.Execute", fmt.Errorf("sign swap tx: %w", err))
	}

	sig, err := a.rpc.SendTransaction(ctx, signedTxB64, false)
	if err != nil {
		return nil, errs.New(blockchain.ClassifyKind(err), "jupiter.Execute", err)
	}

	if a.confirmer != nil && (priority == domain.PriorityCritical || priority == domain.PriorityUrgent) {
		a.awaitConfirmation(sig)
	}

	outAmt, err := decimal.NewFromString(resp.OutAmount)
	if err != nil {
		outAmt = decimal.Zero
	}
	threshold, _ := decimal.NewFromString(resp.OtherAmountThreshold)
	slippage := decimal.Zero
	if !outAmt.IsZero() {
		slippage = outAmt.Sub(threshold).Div(outAmt).Abs()
	}

	return &venue.SwapResult{
		TxSignature: sig,
		AmountOut:   outAmt,
		Slippage:    slippage,
	}, nil
}

// confirmWait bounds how long Execute blocks waiting for a critical/urgent
// fill's confirmation before giving up and returning the already-broadcast
// result anyway; the signature subscription keeps running in the background.
const confirmWait = 8 * time.Second

// awaitConfirmation blocks until sig's on-chain status arrives or confirmWait
// elapses, logging the outcome through the subscription's own callback path
// rather than surfacing an error: the swap already broadcast successfully,
// so a slow confirmation is observability, not failure.
func (a *Adapter) awaitConfirmation(sig string) {
	done := make(chan struct{})
	err := a.confirmer.WaitForConfirmation(sig, func(websocket.TxConfirmation) {
		close(done)
	})
	if err != nil {
		return
	}
	select {
	case <-done:
	case <-time.After(confirmWait):
	}
}
