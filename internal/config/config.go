// Package config defines configuration for every service in the
// arbitrage/signal-execution platform (shard, signal processor, execution
// engine, position tracker, orchestrator). Each binary loads the same
// Config and reads only the sections it needs. Grounded on the teacher's
// internal/config/config.go: a single YAML file (default
// configs/config.yaml) with sensitive/operational fields overridable via
// env vars, plus a Validate pass that runs once at startup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration shared by every service binary.
type Config struct {
	Bus        BusConfig        `mapstructure:"bus"`
	Venues     VenuesConfig     `mapstructure:"venues"`
	Signal     SignalConfig     `mapstructure:"signal"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Shard      ShardConfig      `mapstructure:"shard"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	KillSwitch KillSwitchConfig `mapstructure:"kill_switch"`
}

// BusConfig selects and configures the pub/sub transport (C7).
type BusConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	InProcess     bool   `mapstructure:"in_process"` // true: skip redis, use InProcBus (tests / single-binary dev)
	Source        string `mapstructure:"source"`     // this process's envelope "source" field
}

// VenuesConfig holds per-venue API endpoints and credentials. Live
// signing details for venue P (wallet key, L2 derivation) mirror the
// teacher's WalletConfig/APIConfig; venue K has no credentials here since
// its live order placement is out of scope (spec §9 open question).
type VenuesConfig struct {
	KalshiBaseURL string `mapstructure:"kalshi_base_url"`

	PolyCLOBBaseURL  string `mapstructure:"poly_clob_base_url"`
	PolyGammaBaseURL string `mapstructure:"poly_gamma_base_url"`
	PolyWSMarketURL  string `mapstructure:"poly_ws_market_url"`
	PolyWSUserURL    string `mapstructure:"poly_ws_user_url"`

	WalletPrivateKey     string `mapstructure:"wallet_private_key"`
	WalletSignatureType  int    `mapstructure:"wallet_signature_type"`
	WalletFunderAddress  string `mapstructure:"wallet_funder_address"`
	WalletChainID        int    `mapstructure:"wallet_chain_id"`

	PolyApiKey     string `mapstructure:"poly_api_key"`
	PolySecret     string `mapstructure:"poly_secret"`
	PolyPassphrase string `mapstructure:"poly_passphrase"`

	PaperMode             bool `mapstructure:"paper_mode"`
	LiveTradingAuthorized bool `mapstructure:"live_trading_authorized"`
}

// SignalConfig carries the thresholds spec §6's table names for the
// shard's per-cycle gate (C11) and the signal processor's post-filter
// (C12, which may tighten MinEdgePct independently).
type SignalConfig struct {
	MinEdgePct          float64       `mapstructure:"min_edge_pct"`
	ProcessorMinEdgePct float64       `mapstructure:"processor_min_edge_pct"`
	MinBuyProb          float64       `mapstructure:"min_buy_prob"`
	MaxBuyProb          float64       `mapstructure:"max_buy_prob"`
	MinContracts        float64       `mapstructure:"min_contracts"`
	StalenessCutoff     time.Duration `mapstructure:"staleness_cutoff"`
	SignalTTL           time.Duration `mapstructure:"signal_ttl"`
	ArbSignalTTL        time.Duration `mapstructure:"arb_signal_ttl"`
	DuplicateCooldown   time.Duration `mapstructure:"duplicate_cooldown"`
	ArbThresholdCents   int           `mapstructure:"arb_threshold_cents"`
}

// RiskConfig sets the execution engine's (C13) hard limits, matching
// spec §6's MAX_ORDER_SIZE/MAX_ORDER_CONTRACTS/... table.
type RiskConfig struct {
	MaxOrderSizeUSD       float64       `mapstructure:"max_order_size_usd"`
	MaxOrderContracts     float64       `mapstructure:"max_order_contracts"`
	MaxPositionPerMarket  float64       `mapstructure:"max_position_per_market"`
	MaxOrdersPerMinute    int           `mapstructure:"max_orders_per_minute"`
	MaxOrdersPerHour      int           `mapstructure:"max_orders_per_hour"`
	MinSafePrice          float64       `mapstructure:"min_safe_price"`
	MaxSafePrice          float64       `mapstructure:"max_safe_price"`
	MaxDailyLossUSD       float64       `mapstructure:"max_daily_loss_usd"`
	IdempotencyTTL        time.Duration `mapstructure:"idempotency_ttl"`
	IdempotencyMaxEntries int           `mapstructure:"idempotency_max_entries"`
	BalanceStaleAfter     time.Duration `mapstructure:"balance_stale_after"`
	BalanceBufferPct      float64       `mapstructure:"balance_buffer_pct"`
}

// ShardConfig tunes the per-event polling loop (C11).
type ShardConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	MinPollInterval    time.Duration `mapstructure:"min_poll_interval"`
	MaxPollInterval    time.Duration `mapstructure:"max_poll_interval"`
	MaxGames           int           `mapstructure:"max_games"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	EnableScoringPlays bool          `mapstructure:"enable_scoring_plays"` // spec §9: gated off in production
}

// DiscoveryConfig tunes the orchestrator's (C15) discovery loop.
type DiscoveryConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	PregameWindow  time.Duration `mapstructure:"pregame_window"`
	ShardTimeout   time.Duration `mapstructure:"shard_timeout"`
	CatalogRefresh time.Duration `mapstructure:"catalog_refresh"`
	TeamCacheFile  string        `mapstructure:"team_cache_file"`
}

// StoreConfig sets where position/ledger and team-mapping cache data is
// persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Build constructs the slog.Logger every service binary logs through,
// mirroring the teacher's cmd/bot/main.go handler selection (JSON vs
// text, level from config) so each binary doesn't repeat that wiring.
func (c LoggingConfig) Build() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.Level)}
	var handler slog.Handler
	if c.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// KillSwitchConfig points at the sentinel-file fallback for the execution
// engine's kill switch (spec §4.11 gate 1 / §6 control channel).
type KillSwitchConfig struct {
	SentinelFile string `mapstructure:"sentinel_file"`
}

// Load reads config from a YAML file with ARB_-prefixed env var
// overrides, mirroring the teacher's POLY_-prefixed Load.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("ARB_WALLET_PRIVATE_KEY"); key != "" {
		cfg.Venues.WalletPrivateKey = key
	}
	if key := os.Getenv("ARB_POLY_API_KEY"); key != "" {
		cfg.Venues.PolyApiKey = key
	}
	if secret := os.Getenv("ARB_POLY_SECRET"); secret != "" {
		cfg.Venues.PolySecret = secret
	}
	if pass := os.Getenv("ARB_POLY_PASSPHRASE"); pass != "" {
		cfg.Venues.PolyPassphrase = pass
	}
	if val := os.Getenv("LIVE_TRADING_AUTHORIZED"); val == "true" || val == "1" {
		cfg.Venues.LiveTradingAuthorized = true
	}

	return &cfg, nil
}

// setDefaults matches spec §6's default column so a config file only
// needs to override what differs from the spec's defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("signal.min_edge_pct", 15.0)
	v.SetDefault("signal.processor_min_edge_pct", 15.0)
	v.SetDefault("signal.min_buy_prob", 0.05)
	v.SetDefault("signal.max_buy_prob", 0.95)
	v.SetDefault("signal.min_contracts", 10.0)
	v.SetDefault("signal.staleness_cutoff", "60s")
	v.SetDefault("signal.signal_ttl", "60s")
	v.SetDefault("signal.arb_signal_ttl", "10s")
	v.SetDefault("signal.duplicate_cooldown", "30s")
	v.SetDefault("signal.arb_threshold_cents", 100)

	v.SetDefault("risk.max_order_size_usd", 100.0)
	v.SetDefault("risk.max_order_contracts", 100.0)
	v.SetDefault("risk.max_position_per_market", 200.0)
	v.SetDefault("risk.max_orders_per_minute", 20)
	v.SetDefault("risk.max_orders_per_hour", 100)
	v.SetDefault("risk.min_safe_price", 0.05)
	v.SetDefault("risk.max_safe_price", 0.95)
	v.SetDefault("risk.max_daily_loss_usd", 500.0)
	v.SetDefault("risk.idempotency_ttl", "5m")
	v.SetDefault("risk.idempotency_max_entries", 10000)
	v.SetDefault("risk.balance_stale_after", "60s")
	v.SetDefault("risk.balance_buffer_pct", 0.10)

	v.SetDefault("shard.poll_interval", "500ms")
	v.SetDefault("shard.min_poll_interval", "100ms")
	v.SetDefault("shard.max_poll_interval", "5s")
	v.SetDefault("shard.max_games", 20)
	v.SetDefault("shard.heartbeat_interval", "10s")
	v.SetDefault("shard.enable_scoring_plays", false)

	v.SetDefault("discovery.interval", "30s")
	v.SetDefault("discovery.pregame_window", "6h")
	v.SetDefault("discovery.shard_timeout", "60s")
	v.SetDefault("discovery.catalog_refresh", "5m")
	v.SetDefault("discovery.team_cache_file", "data/team_cache.json")

	v.SetDefault("store.data_dir", "data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("kill_switch.sentinel_file", "data/KILL_SWITCH")

	v.SetDefault("bus.in_process", false)
	v.SetDefault("bus.redis_addr", "127.0.0.1:6379")
}

// Validate checks required fields and value ranges, mirroring the
// teacher's Validate split (called once at startup, never mid-run).
func (c *Config) Validate() error {
	if !c.Venues.PaperMode {
		if c.Venues.WalletPrivateKey == "" {
			return fmt.Errorf("venues.wallet_private_key is required outside paper mode (set ARB_WALLET_PRIVATE_KEY)")
		}
		if c.Venues.WalletChainID == 0 {
			return fmt.Errorf("venues.wallet_chain_id is required outside paper mode")
		}
	}
	if c.Risk.MaxOrderSizeUSD <= 0 {
		return fmt.Errorf("risk.max_order_size_usd must be > 0")
	}
	if c.Risk.MaxPositionPerMarket <= 0 {
		return fmt.Errorf("risk.max_position_per_market must be > 0")
	}
	if c.Risk.MaxOrdersPerMinute <= 0 || c.Risk.MaxOrdersPerHour <= 0 {
		return fmt.Errorf("risk.max_orders_per_minute/hour must be > 0")
	}
	if c.Risk.MinSafePrice < 0 || c.Risk.MaxSafePrice > 1 || c.Risk.MinSafePrice >= c.Risk.MaxSafePrice {
		return fmt.Errorf("risk.min_safe_price/max_safe_price must satisfy 0 <= min < max <= 1")
	}
	if c.Shard.MaxGames <= 0 {
		return fmt.Errorf("shard.max_games must be > 0")
	}
	if c.Shard.PollInterval < c.Shard.MinPollInterval || c.Shard.PollInterval > c.Shard.MaxPollInterval {
		return fmt.Errorf("shard.poll_interval must be within [min_poll_interval, max_poll_interval]")
	}
	return nil
}

// ClampPollInterval clamps PollInterval to [MinPollInterval,
// MaxPollInterval]. Both bounds come from config (defaults 100ms and 5s),
// so the clamp is only as tight as the configured bounds.
func (c ShardConfig) ClampPollInterval() time.Duration {
	d := c.PollInterval
	if d < c.MinPollInterval {
		return c.MinPollInterval
	}
	if d > c.MaxPollInterval {
		return c.MaxPollInterval
	}
	return d
}
