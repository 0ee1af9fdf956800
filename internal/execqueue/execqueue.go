// Package execqueue implements the Execution Queue (spec §4.3): the single
// scheduler that serializes every venue swap call behind a 4-tier priority
// ordering, a minimum dispatch spacing, and the Circuit Breaker's
// NORMAL-only admission gate. No other component may call the swap venue.
//
// The teacher has no equivalent dedicated scheduler (its executor calls the
// venue synchronously per signal); container/heap is the idiomatic stdlib
// answer to a priority-then-FIFO dispatch queue and no example repo in the
// pack imports a third-party priority queue library (see DESIGN.md).
package execqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"walltrack/internal/config"
	"walltrack/internal/domain"
	"walltrack/internal/errs"
	"walltrack/internal/metrics"
	"walltrack/internal/storage"
	"walltrack/internal/venue"
)

// CompletionEvent is emitted once per order reaching a terminal status.
type CompletionEvent struct {
	Order *domain.Order
}

// BreakerGate is the minimal view of the Circuit Breaker the queue needs.
type BreakerGate interface {
	Open() bool
}

type submitReq struct {
	inMint, outMint string
	signer          venue.Signer
}

type heapItem struct {
	order *domain.Order
	req   submitReq
	seq   uint64
	index int
}

type priorityHeap []*heapItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].order.Priority != h[j].order.Priority {
		return h[i].order.Priority < h[j].order.Priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *priorityHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the single priority scheduler. Exactly one goroutine (Run) ever
// calls the venue.
type Queue struct {
	cfg     config.ExecQueueConfig
	swap    venue.SwapClient
	orders  storage.OrderRepo
	breaker BreakerGate
	metrics *metrics.Registry

	mu           sync.Mutex
	h            priorityHeap
	seq          uint64
	lastDispatch time.Time
	notify       chan struct{}

	onComplete func(CompletionEvent)
}

// New builds a Queue. onComplete is invoked (from the dispatch goroutine)
// once per terminal order transition; the Position Lifecycle Engine is the
// only expected subscriber.
func New(cfg config.ExecQueueConfig, swap venue.SwapClient, orders storage.OrderRepo, breaker BreakerGate, reg *metrics.Registry, onComplete func(CompletionEvent)) *Queue {
	q := &Queue{
		cfg: cfg, swap: swap, orders: orders, breaker: breaker, metrics: reg,
		notify: make(chan struct{}, 1), onComplete: onComplete,
	}
	heap.Init(&q.h)
	return q
}

// Submit enqueues a swap request and returns its Order ID immediately.
// The Circuit Breaker gate applies only to NORMAL priority.
func (q *Queue) Submit(ctx context.Context, positionID uuid.UUID, kind domain.OrderKind, mode domain.Mode, priority domain.Priority, inMint, outMint string, amountIn, amountOutExpected, slippageReq decimal.Decimal, signer venue.Signer, scalingLevel *int) (uuid.UUID, error) {
	if priority == domain.PriorityNormal && q.breaker != nil && q.breaker.Open() {
		return uuid.Nil, errs.New(errs.KindBreakerOpen, "execqueue.submit", nil)
	}

	order := domain.NewOrder(positionID, kind, mode, priority, amountIn, amountOutExpected, slippageReq)
	order.ScalingLevel = scalingLevel
	if err := q.orders.Insert(ctx, order); err != nil {
		return uuid.Nil, err
	}

	q.mu.Lock()
	q.seq++
	heap.Push(&q.h, &heapItem{order: order, req: submitReq{inMint: inMint, outMint: outMint, signer: signer}, seq: q.seq})
	q.mu.Unlock()
	q.wake()

	if q.metrics != nil {
		q.metrics.QueueDepth.WithLabelValues(priority.String()).Inc()
	}
	return order.ID, nil
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Run drives the single dispatch goroutine until ctx is cancelled. On
// cancellation it drains the heap, marking any still-pending order failed so
// the supervisor's shutdown grace period never leaves position state
// partially written.
func (q *Queue) Run(ctx context.Context) error {
	for {
		q.mu.Lock()
		for q.h.Len() == 0 {
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return q.drain(context.Background())
			case <-q.notify:
			}
			q.mu.Lock()
		}
		wait := q.cfg.MinSpacing() - time.Since(q.lastDispatch)
		q.mu.Unlock()

		if wait > 0 {
			select {
			case <-ctx.Done():
				return q.drain(context.Background())
			case <-time.After(wait):
			case <-q.notify:
				// A higher-priority item may have just arrived; loop back to
				// re-evaluate the heap top before committing to a dispatch.
				continue
			}
		}

		q.mu.Lock()
		if q.h.Len() == 0 {
			q.mu.Unlock()
			continue
		}
		item := heap.Pop(&q.h).(*heapItem)
		q.lastDispatch = time.Now()
		q.mu.Unlock()

		if q.metrics != nil {
			q.metrics.QueueDepth.WithLabelValues(item.order.Priority.String()).Dec()
		}
		q.dispatch(ctx, item)
	}
}

func (q *Queue) drain(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.h.Len() > 0 {
		item := heap.Pop(&q.h).(*heapItem)
		item.order.Status = domain.OrderFailed
		item.order.LastError = "shutdown: queue drained before dispatch"
		item.order.UpdatedAt = time.Now()
		_ = q.orders.Update(ctx, item.order)
		if q.onComplete != nil {
			q.onComplete(CompletionEvent{Order: item.order})
		}
	}
	return nil
}

func (q *Queue) dispatch(ctx context.Context, item *heapItem) {
	order := item.order
	order.Status = domain.OrderSubmitted
	order.UpdatedAt = time.Now()
	if err := q.orders.Update(ctx, order); err != nil {
		log.Error().Err(err).Str("order", order.ID.String()).Msg("failed to persist submitted state")
	}

	if order.Mode == domain.ModeSimulation {
		q.finishFilled(ctx, order, order.AmountOutExpected, order.SlippageReq, "SIMULATED")
		return
	}

	quote, err := q.swap.Quote(ctx, item.req.inMint, item.req.outMint, order.AmountIn)
	if err == nil {
		var result *venue.SwapResult
		result, err = q.swap.Execute(ctx, quote, item.req.signer, order.Priority)
		if err == nil {
			q.finishFilled(ctx, order, result.AmountOut, result.Slippage, result.TxSignature)
			return
		}
	}

	q.handleFailure(ctx, item, err)
}

func (q *Queue) finishFilled(ctx context.Context, order *domain.Order, amountOut, slippage decimal.Decimal, txSig string) {
	order.Status = domain.OrderFilled
	order.TxSignature = txSig
	order.UpdatedAt = time.Now()
	order.AmountOutActual = &amountOut
	order.SlippageActual = &slippage
	if err := q.orders.Update(ctx, order); err != nil {
		log.Error().Err(err).Str("order", order.ID.String()).Msg("failed to persist filled order")
	}
	if q.metrics != nil {
		q.metrics.OrdersTotal.WithLabelValues(string(order.Kind), string(order.Status)).Inc()
	}
	if q.onComplete != nil {
		q.onComplete(CompletionEvent{Order: order})
	}
}

func (q *Queue) handleFailure(ctx context.Context, item *heapItem, err error) {
	order := item.order
	kind := errs.KindOf(err)

	switch kind {
	case errs.KindRateLimited:
		// Rate limit does not consume retry budget; re-enqueue with at least
		// min_spacing delay.
		log.Warn().Str("order", order.ID.String()).Msg("venue rate limited, re-enqueuing without retry cost")
		q.reenqueueAfter(item, q.cfg.MinSpacing())
		return
	case errs.KindPermanent:
		q.fail(ctx, order, err)
		return
	}

	if order.RetryCount >= q.cfg.MaxRetries {
		q.fail(ctx, order, err)
		return
	}

	order.RetryCount++
	order.LastError = err.Error()
	order.UpdatedAt = time.Now()
	if uerr := q.orders.Update(ctx, order); uerr != nil {
		log.Error().Err(uerr).Msg("failed to persist retry state")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.cfg.BaseBackoff()
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	var delay time.Duration
	for i := 0; i < order.RetryCount; i++ {
		delay = bo.NextBackOff()
	}
	log.Warn().Err(err).Str("order", order.ID.String()).Int("retry", order.RetryCount).Dur("delay", delay).Msg("order failed, retrying")
	q.reenqueueAfter(item, delay)
}

// reenqueueAfter preserves the request's original priority and FIFO seq so
// fairness among same-priority peers is unaffected by a delayed retry.
func (q *Queue) reenqueueAfter(item *heapItem, delay time.Duration) {
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		heap.Push(&q.h, item)
		q.mu.Unlock()
		q.wake()
	})
}

func (q *Queue) fail(ctx context.Context, order *domain.Order, err error) {
	order.Status = domain.OrderFailed
	order.LastError = err.Error()
	order.UpdatedAt = time.Now()
	if uerr := q.orders.Update(ctx, order); uerr != nil {
		log.Error().Err(uerr).Msg("failed to persist failed order")
	}
	if q.metrics != nil {
		q.metrics.OrdersTotal.WithLabelValues(string(order.Kind), string(order.Status)).Inc()
	}
	if q.onComplete != nil {
		q.onComplete(CompletionEvent{Order: order})
	}
}

// Depth reports pending (not yet dispatched) requests.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}
