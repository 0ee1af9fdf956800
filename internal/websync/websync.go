// Package websync implements the Webhook Sync Controller (spec §4.8): it
// keeps the upstream monitoring subscription's address set converged with
// the set of active wallets, on a fixed cadence plus an immediate trigger
// whenever the wallet set changes, retrying failures with capped
// exponential backoff.
//
// The reconcile-desired-vs-synced loop is new (the teacher subscribes to a
// single fixed wallet at startup and never re-syncs); its backoff policy
// reuses github.com/cenkalti/backoff/v4, the same library the Execution
// Queue uses for retry spacing.
package websync

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"walltrack/internal/config"
	"walltrack/internal/domain"
	"walltrack/internal/storage"
	"walltrack/internal/venue"
)

// Controller reconciles venue.MonitorClient's subscribed address set against
// storage.WalletRepo's active wallets.
type Controller struct {
	cfg     config.WebhookSyncConfig
	wallets storage.WalletRepo
	monitor venue.MonitorClient

	trigger chan struct{}

	mu     sync.Mutex
	synced string // comma-joined sorted address set currently believed synced
	bo     backoff.BackOff
}

// New builds a Controller.
func New(cfg config.WebhookSyncConfig, wallets storage.WalletRepo, monitor venue.MonitorClient) *Controller {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(cfg.BackoffMinBackoffMin) * time.Minute
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = time.Minute
	}
	eb.MaxInterval = time.Duration(cfg.BackoffMaxMinutes) * time.Minute
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = 5 * time.Minute
	}
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0

	return &Controller{cfg: cfg, wallets: wallets, monitor: monitor, trigger: make(chan struct{}, 1), bo: eb}
}

// Notify requests an out-of-cadence reconcile, e.g. right after a wallet is
// added or deactivated. Coalesced: a pending notification is not duplicated.
func (c *Controller) Notify() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run reconciles on cfg.CadenceMinutes and on every Notify, until ctx is
// cancelled.
func (c *Controller) Run(ctx context.Context) error {
	cadence := time.Duration(c.cfg.CadenceMinutes) * time.Minute
	if cadence <= 0 {
		cadence = 5 * time.Minute
	}
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	c.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.reconcile(ctx)
		case <-c.trigger:
			c.reconcile(ctx)
		}
	}
}

func (c *Controller) reconcile(ctx context.Context) {
	active, err := c.wallets.ListActive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("websync: failed to list active wallets")
		return
	}

	desired := desiredKey(active)

	c.mu.Lock()
	alreadySynced := desired == c.synced
	c.mu.Unlock()
	if alreadySynced {
		return
	}

	addresses := make([]string, len(active))
	for i, w := range active {
		addresses[i] = w.Address
	}

	if err := c.monitor.ReplaceAddresses(ctx, addresses); err != nil {
		log.Warn().Err(err).Int("wallets", len(addresses)).Msg("websync: failed to sync address set, will retry with backoff")
		for _, w := range active {
			_ = c.wallets.SetSyncState(ctx, w.ID, domain.SyncError)
		}
		delay := c.bo.NextBackOff()
		time.AfterFunc(delay, c.Notify)
		return
	}

	c.bo.Reset()
	c.mu.Lock()
	c.synced = desired
	c.mu.Unlock()
	for _, w := range active {
		_ = c.wallets.SetSyncState(ctx, w.ID, domain.SyncSynced)
	}
	log.Info().Int("wallets", len(addresses)).Msg("websync: address set converged")
}

func desiredKey(wallets []*domain.Wallet) string {
	addrs := make([]string, len(wallets))
	for i, w := range wallets {
		addrs[i] = w.Address
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ",")
}
