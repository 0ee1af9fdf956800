// Package config loads and hot-reloads WallTrack's runtime configuration,
// adapted from the teacher's viper+fsnotify Manager: a frozen Config struct
// is atomically swapped on file change or explicit reload, never read
// key-by-string in the hot path.
package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds every component's tunables, one section per SPEC_FULL.md
// component.
type Config struct {
	Wallet      WalletConfig      `mapstructure:"wallet"`
	RPC         RPCConfig         `mapstructure:"rpc"`
	Blockchain  BlockchainConfig  `mapstructure:"blockchain"`
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Jupiter     JupiterConfig     `mapstructure:"jupiter"`
	Storage     StorageConfig     `mapstructure:"storage"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Ingress     IngressConfig     `mapstructure:"ingress"`
	Safety      SafetyConfig      `mapstructure:"safety"`
	ExecQueue   ExecQueueConfig   `mapstructure:"exec_queue"`
	Position    PositionConfig    `mapstructure:"position"`
	PriceMon    PriceMonConfig    `mapstructure:"price_monitor"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	WebhookSync WebhookSyncConfig `mapstructure:"webhook_sync"`
	ExitEval    ExitEvalConfig    `mapstructure:"exit_eval"`
}

// ExitEvalConfig tunes the exit-evaluation sweep that calls the Exit
// Strategy Evaluator over every open position.
type ExitEvalConfig struct {
	IntervalSeconds    int `mapstructure:"interval_seconds"`     // default 15
	MirrorWindowSeconds int `mapstructure:"mirror_window_seconds"` // default 300, how far back RecentSellsForWalletToken looks
}

type WalletConfig struct {
	PrivateKeyEnv string `mapstructure:"private_key_env"`
	BaseMint      string `mapstructure:"base_mint"`
}

type RPCConfig struct {
	ShyftURL          string `mapstructure:"shyft_url"`
	ShyftAPIKeyEnv    string `mapstructure:"shyft_api_key_env"`
	FallbackURL       string `mapstructure:"fallback_url"`
	FallbackAPIKeyEnv string `mapstructure:"fallback_api_key_env"`
}

// BlockchainConfig tunes the blockhash cache's prefetch cadence.
type BlockchainConfig struct {
	BlockhashRefreshMs  int `mapstructure:"blockhash_refresh_ms"`  // default 5000
	BlockhashTTLSeconds int `mapstructure:"blockhash_ttl_seconds"` // default 60
	ComputeUnitLimit    int `mapstructure:"compute_unit_limit"`    // default 200000
}

type WebSocketConfig struct {
	ShyftURL         string `mapstructure:"shyft_url"`
	ReconnectDelayMs int    `mapstructure:"reconnect_delay_ms"`
	PingIntervalMs   int    `mapstructure:"ping_interval_ms"`
}

type JupiterConfig struct {
	QuoteAPIURL    string `mapstructure:"quote_api_url"`
	SlippageBps    int    `mapstructure:"slippage_bps"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

type HTTPConfig struct {
	ListenHost string `mapstructure:"listen_host"`
	ListenPort int    `mapstructure:"listen_port"`
}

// IngressConfig tunes Signal Ingress (§4.1).
type IngressConfig struct {
	Lanes         int `mapstructure:"lanes"`           // N consumer lanes, hash(wallet_id) mod N
	LaneQueueSize int `mapstructure:"lane_queue_size"` // per-lane bounded channel capacity
}

// SafetyConfig tunes the Safety Evaluator (§4.2).
type SafetyConfig struct {
	LiquidityThresholdUSD   float64 `mapstructure:"liquidity_threshold_usd"`   // default 50000
	HoldersConcentrationCap float64 `mapstructure:"holders_concentration_cap"` // default 0.80
	MinAgeHours             float64 `mapstructure:"min_age_hours"`             // default 24
	PassThreshold           float64 `mapstructure:"pass_threshold"`            // default 0.60
	CacheTTLSeconds         int     `mapstructure:"cache_ttl_seconds"`         // default 3600
	TimeoutSeconds          int     `mapstructure:"timeout_seconds"`           // default 5, per safety source HTTP call
	RugCheckURL             string  `mapstructure:"rugcheck_url"`
	GoPlusURL               string  `mapstructure:"goplus_url"`
	BirdeyeURL              string  `mapstructure:"birdeye_url"`
	BirdeyeAPIKeyEnv        string  `mapstructure:"birdeye_api_key_env"`
}

// ExecQueueConfig tunes the Execution Queue scheduler (§4.3).
type ExecQueueConfig struct {
	MinSpacingMs    int     `mapstructure:"min_spacing_ms"`    // default 2000
	MaxRetries      int     `mapstructure:"max_retries"`       // default 3
	BaseBackoffSec  float64 `mapstructure:"base_backoff_sec"`  // default 5 (b, 2b, 4b)
	QueueCapacity   int     `mapstructure:"queue_capacity"`
}

// PositionConfig tunes the Position Lifecycle Engine (§4.4) and supplies the
// single default Exit Strategy applied to every mirrored wallet, since the
// storage schema has no per-wallet strategy table of its own yet.
type PositionConfig struct {
	PerTradePct float64 `mapstructure:"per_trade_pct"` // fraction of capital per entry

	StopLossPct     float64        `mapstructure:"stop_loss_pct"`     // default 25
	TrailingStopPct float64        `mapstructure:"trailing_stop_pct"` // default 15
	ActivationPct   float64        `mapstructure:"activation_pct"`    // default 30
	MirrorExit      bool           `mapstructure:"mirror_exit"`       // default true
	ScalingLevels   []ScalingLevel `mapstructure:"scaling_levels"`
}

// ScalingLevel is one rung of the default scale-out ladder.
type ScalingLevel struct {
	TriggerPct float64 `mapstructure:"trigger_pct"`
	Fraction   float64 `mapstructure:"fraction"`
}

// PriceMonConfig tunes the Price Monitor (§4.6).
type PriceMonConfig struct {
	UrgentPollSeconds  int     `mapstructure:"urgent_poll_seconds"`  // default 20
	ActivePollSeconds  int     `mapstructure:"active_poll_seconds"`  // default 30
	StablePollSeconds  int     `mapstructure:"stable_poll_seconds"`  // default 60
	MaxBatchSize       int     `mapstructure:"max_batch_size"`       // default 100
	MaxStalenessSeconds int    `mapstructure:"max_staleness_seconds"` // default 300
	UrgentThresholdPct float64 `mapstructure:"urgent_threshold_pct"` // within 5% of trigger
}

// BreakerConfig tunes the Circuit Breaker (§4.7).
type BreakerConfig struct {
	EvalIntervalSeconds int     `mapstructure:"eval_interval_seconds"` // default 60
	DailyLossLimitUSD   float64 `mapstructure:"daily_loss_limit_usd"`
	MaxDrawdownPct      float64 `mapstructure:"max_drawdown_pct"`
}

// WebhookSyncConfig tunes the Webhook Sync Controller (§4.8).
type WebhookSyncConfig struct {
	CadenceMinutes       int `mapstructure:"cadence_minutes"` // default 5
	BackoffMinBackoffMin int `mapstructure:"backoff_min_minutes"`
	BackoffMaxMinutes    int `mapstructure:"backoff_max_minutes"` // cap 5
}

// Manager handles config loading and hot-reload.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)
}

// NewManager loads configPath, applying spec-documented defaults for every
// threshold, and arms hot-reload via fsnotify.
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("wallet.private_key_env", "WALLET_PRIVATE_KEY")
	v.SetDefault("rpc.shyft_api_key_env", "SHYFT_API_KEY")
	v.SetDefault("rpc.fallback_api_key_env", "HELIUS_API_KEY")
	v.SetDefault("rpc.fallback_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("jupiter.quote_api_url", "https://quote-api.jup.ag/v6/quote")
	v.SetDefault("jupiter.slippage_bps", 500)
	v.SetDefault("jupiter.timeout_seconds", 10)
	v.SetDefault("blockchain.blockhash_refresh_ms", 5000)
	v.SetDefault("blockchain.blockhash_ttl_seconds", 60)
	v.SetDefault("blockchain.compute_unit_limit", 200000)
	v.SetDefault("storage.sqlite_path", "./data/walltrack.db")
	v.SetDefault("http.listen_host", "0.0.0.0")
	v.SetDefault("http.listen_port", 8080)

	v.SetDefault("ingress.lanes", 8)
	v.SetDefault("ingress.lane_queue_size", 256)

	v.SetDefault("safety.liquidity_threshold_usd", 50000.0)
	v.SetDefault("safety.holders_concentration_cap", 0.80)
	v.SetDefault("safety.min_age_hours", 24.0)
	v.SetDefault("safety.pass_threshold", 0.60)
	v.SetDefault("safety.cache_ttl_seconds", 3600)
	v.SetDefault("safety.timeout_seconds", 5)
	v.SetDefault("safety.rugcheck_url", "https://api.rugcheck.xyz/v1/tokens")
	v.SetDefault("safety.goplus_url", "https://api.gopluslabs.io/api/v1/token_security/solana")
	v.SetDefault("safety.birdeye_url", "https://public-api.birdeye.so/defi/token_security")
	v.SetDefault("safety.birdeye_api_key_env", "BIRDEYE_API_KEY")

	v.SetDefault("exec_queue.min_spacing_ms", 2000)
	v.SetDefault("exec_queue.max_retries", 3)
	v.SetDefault("exec_queue.base_backoff_sec", 5.0)
	v.SetDefault("exec_queue.queue_capacity", 1024)

	v.SetDefault("position.per_trade_pct", 0.05)
	v.SetDefault("position.stop_loss_pct", 25.0)
	v.SetDefault("position.trailing_stop_pct", 15.0)
	v.SetDefault("position.activation_pct", 30.0)
	v.SetDefault("position.mirror_exit", true)
	v.SetDefault("position.scaling_levels", []map[string]any{
		{"trigger_pct": 50.0, "fraction": 0.25},
		{"trigger_pct": 100.0, "fraction": 0.25},
		{"trigger_pct": 200.0, "fraction": 0.25},
	})

	v.SetDefault("price_monitor.urgent_poll_seconds", 20)
	v.SetDefault("price_monitor.active_poll_seconds", 30)
	v.SetDefault("price_monitor.stable_poll_seconds", 60)
	v.SetDefault("price_monitor.max_batch_size", 100)
	v.SetDefault("price_monitor.max_staleness_seconds", 300)
	v.SetDefault("price_monitor.urgent_threshold_pct", 5.0)

	v.SetDefault("breaker.eval_interval_seconds", 60)
	v.SetDefault("breaker.daily_loss_limit_usd", 500.0)
	v.SetDefault("breaker.max_drawdown_pct", 20.0)

	v.SetDefault("exit_eval.interval_seconds", 15)
	v.SetDefault("exit_eval.mirror_window_seconds", 300)

	v.SetDefault("webhook_sync.cadence_minutes", 5)
	v.SetDefault("webhook_sync.backoff_min_minutes", 1)
	v.SetDefault("webhook_sync.backoff_max_minutes", 5)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	m := &Manager{config: &cfg, viper: v}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		m.reload()
	})

	return m, nil
}

// Get returns the current frozen config (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetOnChange registers a callback invoked with the new config on every
// hot-reload, so components holding their own cached view can refresh it.
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Reload re-reads the config file and swaps in the result; the daemon's
// SIGHUP handler calls it (spec §6: "hot-reloaded on explicit signal").
func (m *Manager) Reload() {
	if err := m.viper.ReadInConfig(); err != nil {
		log.Error().Err(err).Msg("failed to re-read config on reload, keeping current config")
		return
	}
	m.reload()
}

func (m *Manager) reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config on reload")
		return
	}

	m.config = &cfg
	if m.onChange != nil {
		m.onChange(&cfg)
	}
}

// GetPrivateKey loads the wallet private key from the configured env var.
func (m *Manager) GetPrivateKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Wallet.PrivateKeyEnv)
}

// GetShyftRPCURL returns the full Shyft RPC URL with API key injected.
func (m *Manager) GetShyftRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return injectKey(m.config.RPC.ShyftURL, os.Getenv(m.config.RPC.ShyftAPIKeyEnv), "api_key")
}

// GetFallbackRPCURL returns the full fallback RPC URL with API key injected.
func (m *Manager) GetFallbackRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	param := "api_key"
	if strings.Contains(m.config.RPC.FallbackURL, "helius") {
		param = "api-key"
	}
	return injectKey(m.config.RPC.FallbackURL, os.Getenv(m.config.RPC.FallbackAPIKeyEnv), param)
}

// GetShyftWSURL returns the full Shyft WebSocket URL with API key injected.
func (m *Manager) GetShyftWSURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return injectKey(m.config.WebSocket.ShyftURL, os.Getenv(m.config.RPC.ShyftAPIKeyEnv), "api_key")
}

func injectKey(url, key, param string) string {
	if key == "" {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&" + param + "=" + key
	}
	return url + "?" + param + "=" + key
}

// CacheTTL returns safety.cache_ttl_seconds as a duration. Nothing calls it:
// the Safety Evaluator's cache freshness comes from domain.TokenSafetyTTL.
func (c SafetyConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// MinSpacing returns the Execution Queue's min_spacing as a duration.
func (c ExecQueueConfig) MinSpacing() time.Duration {
	return time.Duration(c.MinSpacingMs) * time.Millisecond
}

// BaseBackoff returns b as a duration; retries back off b, 2b, 4b.
func (c ExecQueueConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffSec * float64(time.Second))
}
