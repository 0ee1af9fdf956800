// Command walltrackd is the copy-trading engine daemon: it wires Signal
// Ingress, the Safety Evaluator, the Position Lifecycle Engine, the
// Execution Queue, the Exit Strategy Evaluator, the Price Monitor, the
// Circuit Breaker and the Webhook Sync Controller into one running process,
// behind a supervisor that tracks each sub-pipeline's liveness and an HTTP
// surface for the venue webhook, health and metrics.
//
// This generalizes the teacher's cmd/bot/main.go runHeadless/initComponents
// shape: one goroutine per concern plus signal.Notify-driven shutdown,
// reworked around the expanded pipeline and the Supervisor registry instead
// of a handful of untracked `go func(){}()` calls.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"walltrack/internal/blockchain"
	"walltrack/internal/breaker"
	"walltrack/internal/config"
	"walltrack/internal/domain"
	"walltrack/internal/errs"
	"walltrack/internal/execqueue"
	"walltrack/internal/exitstrategy"
	"walltrack/internal/health"
	"walltrack/internal/httpapi"
	"walltrack/internal/ingress"
	"walltrack/internal/jupiter"
	"walltrack/internal/metrics"
	"walltrack/internal/position"
	"walltrack/internal/pricemonitor"
	"walltrack/internal/safety"
	"walltrack/internal/storage"
	"walltrack/internal/supervisor"
	"walltrack/internal/token"
	"walltrack/internal/venue"
	"walltrack/internal/websocket"
	"walltrack/internal/websync"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the daemon's config file")
	flag.Parse()

	setupLogger()
	log.Info().Msg("walltrack: starting")

	cfgMgr, err := config.NewManager(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg := cfgMgr.Get()

	d, err := buildDaemon(cfgMgr, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize components")
	}
	defer d.db.Close()

	d.start()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			log.Info().Msg("walltrack: SIGHUP received, reloading config")
			cfgMgr.Reload()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("walltrack: shutdown signal received")
	d.stop()
}

func setupLogger() {
	log.Logger = zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
	).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// daemon owns every wired component and the orchestration goroutines
// connecting them.
type daemon struct {
	cfgMgr *config.Manager
	db     *storage.DB

	wallets storage.WalletRepo
	signals storage.SignalRepo
	tokens  storage.TokenRepo

	wallet    *blockchain.Wallet
	rpc       *blockchain.RPCClient
	balances  *blockchain.BalanceTracker
	blockhash *blockchain.BlockhashCache
	walletMon *websocket.WalletMonitor

	venueAdapter *jupiter.Adapter
	symbols      *token.Resolver

	ingress    *ingress.Ingress
	safetyEval *safety.Evaluator
	posEngine  *position.Engine
	execQ      *execqueue.Queue
	priceMon   *pricemonitor.Monitor
	circuit    *breaker.Breaker
	webSync    *websync.Controller

	checker *health.Checker
	sup     *supervisor.Supervisor
	http    *httpapi.Server

	defaultStrategy *domain.ExitStrategy
}

func buildDaemon(cfgMgr *config.Manager, cfg *config.Config) (*daemon, error) {
	db, err := storage.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}

	wallets := storage.NewWalletRepo(db)
	signals := storage.NewSignalRepo(db)
	tokens := storage.NewTokenRepo(db)
	positions := storage.NewPositionRepo(db)
	orders := storage.NewOrderRepo(db)
	breakerEvents := storage.NewBreakerRepo(db)

	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)

	wallet, err := blockchain.NewWallet(cfgMgr.GetPrivateKey())
	if err != nil {
		return nil, err
	}
	rpc := blockchain.NewRPCClient(cfgMgr.GetShyftRPCURL(), cfgMgr.GetFallbackRPCURL(), "")
	balances := blockchain.NewBalanceTracker(wallet, rpc)
	blockhashCache := blockchain.NewBlockhashCache(
		rpc,
		time.Duration(cfg.Blockchain.BlockhashRefreshMs)*time.Millisecond,
		time.Duration(cfg.Blockchain.BlockhashTTLSeconds)*time.Second,
	)

	jupClient := jupiter.NewClient(cfg.Jupiter.QuoteAPIURL, cfg.Jupiter.SlippageBps, time.Duration(cfg.Jupiter.TimeoutSeconds)*time.Second)
	metaSource := jupiter.NewMetadataSource(jupClient)
	symbols := token.NewResolver(metaSource, 0)

	wsClient, err := websocket.NewClient(cfgMgr.GetShyftWSURL())
	if err != nil {
		log.Warn().Err(err).Msg("websocket dial failed, continuing with polling-only price/monitor sources")
	}
	var monitorClient venue.MonitorClient
	var walletMon *websocket.WalletMonitor
	if wsClient != nil {
		monitorClient = websocket.NewAddressSetMonitor(wsClient, nil)

		walletMon = websocket.NewWalletMonitor(wsClient, wallet.Address())
		walletMon.OnBalanceUpdate(func(u websocket.BalanceUpdate) {
			balances.SetBalance(u.Lamports)
		})
		if err := walletMon.StartWalletSubscription(); err != nil {
			log.Warn().Err(err).Msg("wallet balance subscription failed, falling back to polling-only balance refresh")
		}
	} else {
		monitorClient = noopMonitor{}
	}

	var confirmer jupiter.Confirmer
	if walletMon != nil {
		confirmer = walletMon
	}
	venueAdapter := jupiter.NewAdapter(jupClient, rpc, blockhashCache, confirmer)

	safetyTimeout := time.Duration(cfg.Safety.TimeoutSeconds) * time.Second
	sources := []venue.SafetyClient{
		safety.NewRugCheckClient(cfg.Safety.RugCheckURL, safetyTimeout),
		safety.NewGoPlusClient(cfg.Safety.GoPlusURL, safetyTimeout),
		safety.NewBirdeyeClient(cfg.Safety.BirdeyeURL, os.Getenv(cfg.Safety.BirdeyeAPIKeyEnv), safetyTimeout),
	}
	safetyEval := safety.NewEvaluator(cfg.Safety, tokens, sources, symbols, reg)

	posEngine := position.New(positions, reg)

	circuitBreaker := breaker.New(cfg.Breaker, positions, breakerEvents, reg)

	execQ := execqueue.New(cfg.ExecQueue, venueAdapter, orders, circuitBreaker, reg, func(evt execqueue.CompletionEvent) {
		if _, err := posEngine.ApplyFill(context.Background(), evt.Order.PositionID, evt.Order); err != nil {
			log.Error().Err(err).Str("order", evt.Order.ID.String()).Msg("failed to apply order fill to position")
		}
	})

	priceMon := pricemonitor.New(cfg.PriceMon, posEngine, venueAdapter, nil)

	ing := ingress.New(cfg.Ingress, wallets, signals)

	webSync := websync.New(cfg.WebhookSync, wallets, monitorClient)

	checker := health.NewChecker(cfgMgr.GetShyftRPCURL(), cfg.Jupiter.QuoteAPIURL)
	sup := supervisor.New(context.Background())

	strategy := defaultExitStrategy(cfg.Position)

	d := &daemon{
		cfgMgr: cfgMgr, db: db,
		wallets: wallets, signals: signals, tokens: tokens,
		wallet: wallet, rpc: rpc, balances: balances, blockhash: blockhashCache, walletMon: walletMon,
		venueAdapter: venueAdapter, symbols: symbols,
		ingress: ing, safetyEval: safetyEval, posEngine: posEngine, execQ: execQ,
		priceMon: priceMon, circuit: circuitBreaker, webSync: webSync,
		checker: checker, sup: sup, defaultStrategy: strategy,
	}
	d.http = httpapi.New(cfg.Wallet.BaseMint, d, checker, sup)

	if err := posEngine.LoadOpen(context.Background()); err != nil {
		return nil, err
	}

	cfgMgr.SetOnChange(func(*config.Config) {
		log.Info().Msg("walltrack: config reloaded")
	})

	return d, nil
}

// Ingest implements httpapi.Ingestor, letting the HTTP webhook route call
// straight into Signal Ingress without the daemon exposing its internals.
func (d *daemon) Ingest(ctx context.Context, baseMint string, raw domain.RawEvent) (domain.Ack, error) {
	return d.ingress.Ingest(ctx, baseMint, raw)
}

func (d *daemon) start() {
	cfg := d.cfgMgr.Get()

	if err := d.blockhash.Start(); err != nil {
		log.Warn().Err(err).Msg("blockhash cache failed to start, falling back to per-call fetch")
	}
	if err := d.balances.Refresh(context.Background()); err != nil {
		log.Warn().Err(err).Msg("initial balance refresh failed")
	}

	d.checker.Start(context.Background())

	d.sup.Spawn("exec_queue", d.execQ.Run)
	d.sup.Spawn("price_monitor", d.priceMon.Run)
	d.sup.Spawn("breaker", d.circuit.Run)
	d.sup.Spawn("webhook_sync", d.webSync.Run)
	d.sup.Spawn("exit_eval", d.runExitEval)
	d.sup.Spawn("balance_refresh", d.runBalanceRefresh)

	for i := 0; i < d.ingress.NumLanes(); i++ {
		lane := i
		d.sup.Spawn(fmt.Sprintf("ingress_lane_%d", lane), func(ctx context.Context) error {
			return d.runLane(ctx, lane)
		})
	}

	d.sup.Spawn("http_api", func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			_ = d.http.Shutdown()
		}()
		if err := d.http.Start(cfg.HTTP.ListenHost, cfg.HTTP.ListenPort); err != nil {
			return errs.New(errs.KindCatastrophic, "httpapi.start", err)
		}
		return nil
	})

	log.Info().Int("lanes", d.ingress.NumLanes()).Str("addr", cfg.HTTP.ListenHost).Int("port", cfg.HTTP.ListenPort).Msg("walltrack: all components started")
}

func (d *daemon) stop() {
	d.sup.Shutdown(10 * time.Second)
	d.blockhash.Stop()
	if d.walletMon != nil {
		d.walletMon.Stop()
	}
}

// runLane consumes one Signal Ingress lane, routing buys through entry
// sizing and the Safety Evaluator and sells through the mirror-exit signal
// path. Lane order preserves per-wallet causal ordering; cross-lane work
// runs concurrently.
func (d *daemon) runLane(ctx context.Context, lane int) error {
	ch := d.ingress.Lane(lane)
	for {
		select {
		case <-ctx.Done():
			return nil
		case dispatch, ok := <-ch:
			if !ok {
				return nil
			}
			d.handleSignal(ctx, dispatch.Signal)
		}
	}
}

func (d *daemon) handleSignal(ctx context.Context, sig *domain.Signal) {
	switch sig.Kind {
	case domain.SignalBuy:
		d.handleBuy(ctx, sig)
	case domain.SignalSell:
		// No action needed here: the Exit Strategy Evaluator's sweep
		// consults storage.SignalRepo.RecentSellsForWalletToken directly,
		// so a sell signal's only required effect is the row ingress
		// already inserted.
	}
}

func (d *daemon) handleBuy(ctx context.Context, sig *domain.Signal) {
	tok, err := d.safetyEval.Score(ctx, sig.TokenAddress)
	if err != nil {
		log.Error().Err(err).Str("token", sig.TokenAddress).Msg("safety evaluation failed, skipping signal")
		return
	}
	if !d.safetyEval.Passes(tok) {
		log.Info().Str("token", sig.TokenAddress).Str("score", tok.SafetyScore.String()).Msg("token failed safety check, skipping entry")
		return
	}

	wallet, err := d.wallets.Get(ctx, sig.WalletID)
	if err != nil {
		log.Error().Err(err).Str("wallet", sig.WalletID.String()).Msg("failed to load wallet for buy signal")
		return
	}

	pos, err := d.posEngine.Open(ctx, sig.WalletID, sig.TokenAddress, wallet.Mode, d.defaultStrategy)
	if err != nil {
		if errs.Is(err, errs.KindDuplicate) {
			log.Debug().Str("wallet", sig.WalletID.String()).Str("token", sig.TokenAddress).Msg("position already open, ignoring duplicate buy signal")
			return
		}
		log.Error().Err(err).Msg("failed to open position")
		return
	}

	amountIn := d.sizeEntry()
	if amountIn.IsZero() {
		log.Warn().Str("token", sig.TokenAddress).Msg("entry size computed as zero, skipping buy")
		return
	}

	cfg := d.cfgMgr.Get()
	_, err = d.execQ.Submit(ctx, pos.ID, domain.OrderEntry, wallet.Mode, domain.PriorityNormal,
		cfg.Wallet.BaseMint, sig.TokenAddress, amountIn, decimal.Zero, decimal.Zero, d.wallet, nil)
	if err != nil {
		log.Error().Err(err).Str("position", pos.ID.String()).Msg("failed to submit entry order")
	}
}

// sizeEntry computes the SOL amount (in lamports) to commit to a new
// position, a fixed fraction of the wallet's current balance.
func (d *daemon) sizeEntry() decimal.Decimal {
	cfg := d.cfgMgr.Get()
	lamports := d.balances.BalanceLamports()
	pct := decimal.NewFromFloat(cfg.Position.PerTradePct)
	return decimal.NewFromInt(int64(lamports)).Mul(pct)
}

// runExitEval periodically sweeps every open position through the Exit
// Strategy Evaluator, submitting whatever Decision it returns.
func (d *daemon) runExitEval(ctx context.Context) error {
	cfg := d.cfgMgr.Get().ExitEval
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.evaluateExits(ctx)
		}
	}
}

func (d *daemon) evaluateExits(ctx context.Context) {
	cfgBase := d.cfgMgr.Get()
	window := time.Duration(cfgBase.ExitEval.MirrorWindowSeconds) * time.Second
	if window <= 0 {
		window = 5 * time.Minute
	}

	for _, pos := range d.posEngine.OpenSnapshots() {
		mirrorSold, err := d.signals.RecentSellsForWalletToken(ctx, pos.WalletID, pos.TokenAddress, time.Now().Add(-window))
		if err != nil {
			log.Error().Err(err).Str("position", pos.ID.String()).Msg("failed to check mirror-sell signal")
			mirrorSold = false
		}

		decision := exitstrategy.Evaluate(pos, mirrorSold)
		if decision.Kind == exitstrategy.DecisionNone {
			continue
		}
		d.submitExit(ctx, pos, decision)
	}
}

func (d *daemon) submitExit(ctx context.Context, pos domain.Position, decision exitstrategy.Decision) {
	amountIn := pos.EntryAmount.Mul(decision.SellFraction)
	if amountIn.GreaterThan(pos.CurrentAmount) {
		amountIn = pos.CurrentAmount
	}
	if amountIn.IsZero() {
		return
	}

	priority := exitPriority(decision.Kind)
	cfg := d.cfgMgr.Get()

	_, err := d.execQ.Submit(ctx, pos.ID, decision.Kind.OrderKind(), pos.Mode, priority,
		pos.TokenAddress, cfg.Wallet.BaseMint, amountIn, decimal.Zero, decimal.Zero, d.wallet, decision.ScalingLevel)
	if err != nil {
		log.Error().Err(err).Str("position", pos.ID.String()).Str("reason", decision.Reason).Msg("failed to submit exit order")
		return
	}
	log.Info().Str("position", pos.ID.String()).Str("reason", decision.Reason).Str("fraction", decision.SellFraction.String()).Msg("exit order submitted")
}

// exitPriority maps an exit decision to its dispatch priority: stop-loss and
// mirror-exit are capital-preservation and copy-fidelity critical paths, a
// trailing stop is urgent but less time-critical, and a scale-out is
// low-priority profit-taking, which the breaker never gates.
func exitPriority(kind exitstrategy.DecisionKind) domain.Priority {
	switch kind {
	case exitstrategy.DecisionStopLoss, exitstrategy.DecisionMirrorExit:
		return domain.PriorityCritical
	case exitstrategy.DecisionTrailingStop:
		return domain.PriorityUrgent
	default:
		return domain.PriorityLow
	}
}

func (d *daemon) runBalanceRefresh(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.balances.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("balance refresh failed")
			}
			d.sup.Heartbeat("balance_refresh")
		}
	}
}

// defaultExitStrategy builds the single Exit Strategy template applied to
// every mirrored wallet from PositionConfig, since the storage schema has no
// per-wallet strategy table yet (see DESIGN.md).
func defaultExitStrategy(cfg config.PositionConfig) *domain.ExitStrategy {
	stopLoss := decimal.NewFromFloat(cfg.StopLossPct)
	trailing := decimal.NewFromFloat(cfg.TrailingStopPct)
	activation := decimal.NewFromFloat(cfg.ActivationPct)

	levels := make([]domain.ScalingLevel, 0, len(cfg.ScalingLevels))
	for _, lvl := range cfg.ScalingLevels {
		levels = append(levels, domain.ScalingLevel{
			TriggerPct: decimal.NewFromFloat(lvl.TriggerPct),
			Fraction:   decimal.NewFromFloat(lvl.Fraction),
		})
	}

	return &domain.ExitStrategy{
		ID:              uuid.New(),
		Name:            "default",
		StopLossPct:     &stopLoss,
		TrailingStopPct: &trailing,
		ActivationPct:   &activation,
		ScalingLevels:   levels,
		MirrorExit:      cfg.MirrorExit,
	}
}

// noopMonitor is used when the websocket dial at boot fails; the Webhook
// Sync Controller still runs and retries ReplaceAddresses on its own
// backoff, but every call fails until an operator restarts the daemon with
// connectivity restored.
type noopMonitor struct{}

func (noopMonitor) ReplaceAddresses(ctx context.Context, addresses []string) error {
	return errs.New(errs.KindTransient, "noop_monitor.replace_addresses", errs.ErrNotFound)
}
