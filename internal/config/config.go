// Package config loads swapwatch settings from defaults, an optional YAML
// file, .env, SWAPWATCH_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"swapwatch/internal/amount"
	"swapwatch/internal/discovery"
	"swapwatch/internal/domain"
	"swapwatch/internal/ratelimit"
	"swapwatch/internal/solana"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "SWAPWATCH"

// Validator presets.
const (
	PresetAuto    = "auto"
	PresetStrict  = "strict"
	PresetLenient = "lenient"
)

// Config is the full runtime configuration.
type Config struct {
	// Asset is the monitored mint, taken from the positional argument.
	Asset string `mapstructure:"-"`

	RPC     RPCConfig     `mapstructure:"rpc"`
	Filter  FilterConfig  `mapstructure:"filter"`
	Amount  AmountConfig  `mapstructure:"amount"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Dedup   DedupConfig   `mapstructure:"dedup"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
	App     AppConfig     `mapstructure:"app"`
}

// RPCConfig selects Solana endpoints.
type RPCConfig struct {
	HTTPURL         string        `mapstructure:"http_url"`
	WSURL           string        `mapstructure:"ws_url"` // derived from HTTPURL when empty
	Commitment      string        `mapstructure:"commitment"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// FilterConfig configures the swap candidate filter.
type FilterConfig struct {
	ProgramID  string `mapstructure:"program_id"`
	MarkerMode string `mapstructure:"marker_mode"`
}

// AmountConfig configures extraction and validation.
type AmountConfig struct {
	Strategy      string  `mapstructure:"strategy"`
	ScalingFactor float64 `mapstructure:"scaling_factor"`
	Mint          string  `mapstructure:"mint"`
	Validator     string  `mapstructure:"validator"`  // auto, strict or lenient
	MaxAmount     float64 `mapstructure:"max_amount"` // negative keeps the preset bound
	Epsilon       float64 `mapstructure:"epsilon"`
}

// LimitsConfig configures the fetch, dispatch and inbound budgets.
type LimitsConfig struct {
	FetchConcurrency  int           `mapstructure:"fetch_concurrency"`
	FetchSpacing      time.Duration `mapstructure:"fetch_spacing"`
	DispatchCapacity  int64         `mapstructure:"dispatch_capacity"`
	DispatchInterval  time.Duration `mapstructure:"dispatch_interval"`
	NominalCost       int64         `mapstructure:"nominal_cost"`
	InboundRPS        float64       `mapstructure:"inbound_rps"` // 0 disables the inbound gate
	InboundConcurrent int           `mapstructure:"inbound_concurrent"`
}

// DedupConfig bounds the seen-signature set.
type DedupConfig struct {
	Capacity int `mapstructure:"capacity"` // 0 is unbounded
}

// StorageConfig selects optional swap sinks.
type StorageConfig struct {
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
	NoColor bool   `mapstructure:"no_color"`
}

// AppConfig holds process-level settings.
type AppConfig struct {
	MetricsAddr     string        `mapstructure:"metrics_addr"` // empty disables
	StatusInterval  time.Duration `mapstructure:"status_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"config":             "",
	"rpc-url":            "rpc.http_url",
	"ws-url":             "rpc.ws_url",
	"commitment":         "rpc.commitment",
	"fetch-timeout":      "rpc.fetch_timeout",
	"breaker-failures":   "rpc.breaker_failures",
	"breaker-cooldown":   "rpc.breaker_cooldown",
	"program":            "filter.program_id",
	"marker-mode":        "filter.marker_mode",
	"strategy":           "amount.strategy",
	"scaling-factor":     "amount.scaling_factor",
	"mint":               "amount.mint",
	"validator":          "amount.validator",
	"max-amount":         "amount.max_amount",
	"epsilon":            "amount.epsilon",
	"fetch-concurrency":  "limits.fetch_concurrency",
	"fetch-spacing":      "limits.fetch_spacing",
	"dispatch-capacity":  "limits.dispatch_capacity",
	"dispatch-interval":  "limits.dispatch_interval",
	"nominal-cost":       "limits.nominal_cost",
	"inbound-rps":        "limits.inbound_rps",
	"inbound-concurrent": "limits.inbound_concurrent",
	"dedup-capacity":     "dedup.capacity",
	"postgres-dsn":       "storage.postgres_dsn",
	"clickhouse-dsn":     "storage.clickhouse_dsn",
	"log-level":          "log.level",
	"log-file":           "log.file",
	"log-console":        "log.console",
	"no-color":           "log.no_color",
	"metrics-addr":       "app.metrics_addr",
	"status-interval":    "app.status_interval",
	"shutdown-timeout":   "app.shutdown_timeout",
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		RPC: RPCConfig{
			HTTPURL:         "https://api.mainnet-beta.solana.com",
			Commitment:      solana.CommitmentConfirmed,
			FetchTimeout:    solana.DefaultFetchTimeout,
			BreakerFailures: solana.DefaultBreakerFailures,
			BreakerCooldown: solana.DefaultBreakerCooldown,
		},
		Filter: FilterConfig{
			ProgramID:  amount.JupiterV6Program,
			MarkerMode: string(discovery.MarkerModeRouteTransfer),
		},
		Amount: AmountConfig{
			Strategy:      string(domain.StrategyNativeBalanceDiff),
			ScalingFactor: amount.LamportsPerSOL,
			Mint:          amount.WrappedSOLMint,
			Validator:     PresetAuto,
			MaxAmount:     -1,
			Epsilon:       amount.DefaultEpsilon,
		},
		Limits: LimitsConfig{
			FetchConcurrency: 10,
			FetchSpacing:     100 * time.Millisecond,
			DispatchCapacity: 100 << 20,
			DispatchInterval: 30 * time.Second,
			NominalCost:      64 << 10,
		},
		Dedup: DedupConfig{Capacity: 1_000_000},
		Log: LogConfig{
			Level:   "info",
			File:    "logs/swapwatch.log",
			Console: true,
		},
		App: AppConfig{
			StatusInterval:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// RegisterFlags adds every configuration flag to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String("config", "", "Path to a YAML config file (default ./swapwatch.yaml if present)")

	fs.String("rpc-url", d.RPC.HTTPURL, "Solana HTTP RPC endpoint (env: SWAPWATCH_RPC_HTTP_URL, SOLANA_RPC_URL)")
	fs.String("ws-url", d.RPC.WSURL, "Solana websocket endpoint, derived from --rpc-url when empty")
	fs.String("commitment", d.RPC.Commitment, "Commitment for logsSubscribe and getTransaction")
	fs.Duration("fetch-timeout", d.RPC.FetchTimeout, "Timeout for a single getTransaction call")
	fs.Uint32("breaker-failures", d.RPC.BreakerFailures, "Consecutive fetch failures that open the circuit (0 disables)")
	fs.Duration("breaker-cooldown", d.RPC.BreakerCooldown, "How long the circuit stays open")

	fs.String("program", d.Filter.ProgramID, "Aggregator program that must appear in the logs")
	fs.String("marker-mode", d.Filter.MarkerMode, "Instruction markers: route_transfer or combined_swap")

	fs.String("strategy", d.Amount.Strategy, "Amount strategy: native_balance_diff or tagged_token_balance_diff")
	fs.Float64("scaling-factor", d.Amount.ScalingFactor, "Native units per whole unit")
	fs.String("mint", d.Amount.Mint, "Mint diffed by the tagged strategy")
	fs.String("validator", d.Amount.Validator, "Validator preset: auto, strict or lenient")
	fs.Float64("max-amount", d.Amount.MaxAmount, "Reject amounts at or above this value (negative keeps the preset, 0 disables)")
	fs.Float64("epsilon", d.Amount.Epsilon, "Tolerance of the round-to-tenth check")

	fs.Int("fetch-concurrency", d.Limits.FetchConcurrency, "Maximum concurrent getTransaction calls")
	fs.Duration("fetch-spacing", d.Limits.FetchSpacing, "Minimum interval between getTransaction starts")
	fs.Int64("dispatch-capacity", d.Limits.DispatchCapacity, "Dispatch reservoir size in bytes")
	fs.Duration("dispatch-interval", d.Limits.DispatchInterval, "Dispatch reservoir refill interval")
	fs.Int64("nominal-cost", d.Limits.NominalCost, "Dispatch cost charged when a record size is unknown")
	fs.Float64("inbound-rps", d.Limits.InboundRPS, "Maximum log events handled per second (0 disables)")
	fs.Int("inbound-concurrent", d.Limits.InboundConcurrent, "Maximum log events classified at once (0 disables)")

	fs.Int("dedup-capacity", d.Dedup.Capacity, "Signatures remembered before the oldest are evicted (0 is unbounded)")

	fs.String("postgres-dsn", "", "Write accepted swaps to PostgreSQL")
	fs.String("clickhouse-dsn", "", "Write accepted swaps to ClickHouse")

	fs.String("log-level", d.Log.Level, "Log level: debug, info, warn, error")
	fs.String("log-file", d.Log.File, "Append-only log file (empty disables)")
	fs.Bool("log-console", d.Log.Console, "Log to stderr")
	fs.Bool("no-color", d.Log.NoColor, "Disable colored console output")

	fs.String("metrics-addr", d.App.MetricsAddr, "Serve /metrics and /health on this address (empty disables)")
	fs.Duration("status-interval", d.App.StatusInterval, "Interval of the status line (0 disables)")
	fs.Duration("shutdown-timeout", d.App.ShutdownTimeout, "Time allowed to drain in-flight work on shutdown")
}

// Load resolves configuration. fs may be nil; when set it must have been
// passed to RegisterFlags and parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)

	configFile := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("swapwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setupEnvAliases(v)

	if fs != nil {
		for name, key := range flagKeys {
			if key == "" {
				continue
			}
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.RPC.WSURL == "" {
		cfg.RPC.WSURL = DeriveWSURL(cfg.RPC.HTTPURL)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("rpc.http_url", d.RPC.HTTPURL)
	v.SetDefault("rpc.ws_url", d.RPC.WSURL)
	v.SetDefault("rpc.commitment", d.RPC.Commitment)
	v.SetDefault("rpc.fetch_timeout", d.RPC.FetchTimeout)
	v.SetDefault("rpc.breaker_failures", d.RPC.BreakerFailures)
	v.SetDefault("rpc.breaker_cooldown", d.RPC.BreakerCooldown)

	v.SetDefault("filter.program_id", d.Filter.ProgramID)
	v.SetDefault("filter.marker_mode", d.Filter.MarkerMode)

	v.SetDefault("amount.strategy", d.Amount.Strategy)
	v.SetDefault("amount.scaling_factor", d.Amount.ScalingFactor)
	v.SetDefault("amount.mint", d.Amount.Mint)
	v.SetDefault("amount.validator", d.Amount.Validator)
	v.SetDefault("amount.max_amount", d.Amount.MaxAmount)
	v.SetDefault("amount.epsilon", d.Amount.Epsilon)

	v.SetDefault("limits.fetch_concurrency", d.Limits.FetchConcurrency)
	v.SetDefault("limits.fetch_spacing", d.Limits.FetchSpacing)
	v.SetDefault("limits.dispatch_capacity", d.Limits.DispatchCapacity)
	v.SetDefault("limits.dispatch_interval", d.Limits.DispatchInterval)
	v.SetDefault("limits.nominal_cost", d.Limits.NominalCost)
	v.SetDefault("limits.inbound_rps", d.Limits.InboundRPS)
	v.SetDefault("limits.inbound_concurrent", d.Limits.InboundConcurrent)

	v.SetDefault("dedup.capacity", d.Dedup.Capacity)

	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.console", d.Log.Console)
	v.SetDefault("log.no_color", d.Log.NoColor)

	v.SetDefault("app.metrics_addr", d.App.MetricsAddr)
	v.SetDefault("app.status_interval", d.App.StatusInterval)
	v.SetDefault("app.shutdown_timeout", d.App.ShutdownTimeout)
}

func setupEnvAliases(v *viper.Viper) {
	_ = v.BindEnv("rpc.http_url", EnvPrefix+"_RPC_HTTP_URL", "SOLANA_RPC_URL")
	_ = v.BindEnv("rpc.ws_url", EnvPrefix+"_RPC_WS_URL", "SOLANA_WS_URL")
	_ = v.BindEnv("storage.postgres_dsn", EnvPrefix+"_STORAGE_POSTGRES_DSN", "POSTGRES_DSN")
	_ = v.BindEnv("storage.clickhouse_dsn", EnvPrefix+"_STORAGE_CLICKHOUSE_DSN", "CLICKHOUSE_DSN")
}

// DeriveWSURL maps http(s):// to ws(s)://.
func DeriveWSURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	return httpURL
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	if c.Asset == "" {
		errs = append(errs, errors.New("asset mint is required"))
	} else if _, err := solanago.PublicKeyFromBase58(c.Asset); err != nil {
		errs = append(errs, fmt.Errorf("asset %q is not a valid public key: %w", c.Asset, err))
	}
	if c.RPC.HTTPURL == "" {
		errs = append(errs, errors.New("rpc.http_url is required"))
	}
	if c.RPC.WSURL == "" {
		errs = append(errs, errors.New("rpc.ws_url is required"))
	}
	switch c.RPC.Commitment {
	case solana.CommitmentProcessed, solana.CommitmentConfirmed, solana.CommitmentFinalized:
	default:
		errs = append(errs, fmt.Errorf("rpc.commitment %q is invalid", c.RPC.Commitment))
	}
	if c.RPC.FetchTimeout < 0 {
		errs = append(errs, errors.New("rpc.fetch_timeout must not be negative"))
	}

	if c.Filter.ProgramID == "" {
		errs = append(errs, errors.New("filter.program_id is required"))
	}
	if !discovery.MarkerMode(c.Filter.MarkerMode).IsValid() {
		errs = append(errs, fmt.Errorf("filter.marker_mode %q is invalid", c.Filter.MarkerMode))
	}

	if !domain.Strategy(c.Amount.Strategy).IsValid() {
		errs = append(errs, fmt.Errorf("amount.strategy %q is invalid", c.Amount.Strategy))
	}
	if c.Amount.ScalingFactor <= 0 || math.IsInf(c.Amount.ScalingFactor, 0) {
		errs = append(errs, errors.New("amount.scaling_factor must be positive"))
	}
	switch c.Amount.Validator {
	case PresetAuto, PresetStrict, PresetLenient:
	default:
		errs = append(errs, fmt.Errorf("amount.validator %q is invalid", c.Amount.Validator))
	}
	if c.Amount.Epsilon < 0 {
		errs = append(errs, errors.New("amount.epsilon must not be negative"))
	}

	if c.Limits.FetchConcurrency < 1 {
		errs = append(errs, errors.New("limits.fetch_concurrency must be at least 1"))
	}
	if c.Limits.FetchSpacing < 0 {
		errs = append(errs, errors.New("limits.fetch_spacing must not be negative"))
	}
	if c.Limits.DispatchCapacity < 1 {
		errs = append(errs, errors.New("limits.dispatch_capacity must be at least 1"))
	}
	if c.Limits.DispatchInterval <= 0 {
		errs = append(errs, errors.New("limits.dispatch_interval must be positive"))
	}
	if c.Limits.NominalCost < 0 {
		errs = append(errs, errors.New("limits.nominal_cost must not be negative"))
	}
	if c.Limits.InboundRPS < 0 || c.Limits.InboundConcurrent < 0 {
		errs = append(errs, errors.New("inbound limits must not be negative"))
	}
	if c.Dedup.Capacity < 0 {
		errs = append(errs, errors.New("dedup.capacity must not be negative"))
	}
	if c.App.StatusInterval < 0 || c.App.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("app intervals must not be negative"))
	}

	return errors.Join(errs...)
}

// ValidatorConfig resolves the validator preset and overrides.
// auto pairs the strict bound with the native strategy and no bound with
// the tagged strategy.
func (c *Config) ValidatorConfig() amount.ValidatorConfig {
	var vc amount.ValidatorConfig
	switch c.Amount.Validator {
	case PresetStrict:
		vc = amount.StrictConfig()
	case PresetLenient:
		vc = amount.LenientConfig()
	default:
		if domain.Strategy(c.Amount.Strategy) == domain.StrategyTaggedTokenBalanceDiff {
			vc = amount.LenientConfig()
		} else {
			vc = amount.StrictConfig()
		}
	}
	if c.Amount.MaxAmount >= 0 {
		vc.MaxAmount = c.Amount.MaxAmount
	}
	vc.Epsilon = c.Amount.Epsilon
	return vc
}

// FetchLimits returns the fetch limiter configuration.
func (c *Config) FetchLimits() ratelimit.Config {
	return ratelimit.Config{
		MaxConcurrent: c.Limits.FetchConcurrency,
		MinSpacing:    c.Limits.FetchSpacing,
	}
}

// DispatchLimits returns the dispatch limiter configuration.
func (c *Config) DispatchLimits() ratelimit.Config {
	return ratelimit.Config{
		ReservoirCapacity: c.Limits.DispatchCapacity,
		ReservoirInterval: c.Limits.DispatchInterval,
	}
}

// InboundLimits returns the inbound limiter configuration and whether it is enabled.
func (c *Config) InboundLimits() (ratelimit.Config, bool) {
	cfg := ratelimit.Config{MaxConcurrent: c.Limits.InboundConcurrent}
	if c.Limits.InboundRPS > 0 {
		cfg.MinSpacing = time.Duration(float64(time.Second) / c.Limits.InboundRPS)
	}
	return cfg, cfg.MaxConcurrent > 0 || cfg.MinSpacing > 0
}
