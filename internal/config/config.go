// Package config loads the backtest lab configuration.
//
// Sources, in increasing precedence: built-in defaults, one YAML file,
// RBL_-prefixed environment variables. The result is validated once at
// load time.
//
// Environment overrides:
//
//	RBL_LOG_LEVEL=info              # debug|info|warn|error
//	RBL_LOG_JSON=false
//	RBL_STORAGE_BACKEND=memory      # memory|sql
//	RBL_POSTGRES_DSN=postgres://...
//	RBL_CLICKHOUSE_DSN=clickhouse://...
//	RBL_STORAGE_MIGRATE=true
//	RBL_INDEX_ID=KOSPI
//	RBL_VOLATILITY_INDEX_ID=VKOSPI
//	RBL_INITIAL_CAPITAL=10000000
//	RBL_REGIME_ENABLED=true
//	RBL_RISK_ENABLED=true
//	RBL_RISK_MODE=backtest          # backtest|live
//	RBL_RISK_RESET_POLICY=none      # none|calendar
//	RBL_SERVER_ADDR=:8080
//
// Example YAML:
//
//	engine:
//	  index_id: KOSPI
//	  initial_capital: 10000000
//	params:
//	  target_profit_pct: 0.07
//	  stop_loss_pct: -0.05
//	exit:
//	  stop_loss: {enabled: true, pct: -5.0}
//	routes:
//	  BULL:
//	    generator: {type: trend_following}
//	    overrides: {target_profit_pct: 0.10}
//	  SIDEWAYS:
//	    generator:
//	      type: rule_based
//	      buy_rules: {logic: AND, rules: [{indicator: rsi, op: "<", value: 30}]}
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"regime-backtest-lab/internal/condition"
	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/exitrule"
	"regime-backtest-lab/internal/indicator"
	"regime-backtest-lab/internal/logging"
	"regime-backtest-lab/internal/regime"
	"regime-backtest-lab/internal/risk"
	"regime-backtest-lab/internal/router"
	"regime-backtest-lab/internal/signal"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RBL_"

// Storage backends
const (
	BackendMemory = "memory"
	BackendSQL    = "sql" // Postgres for runs and trades, ClickHouse for bars and indicators
)

// Config errors
var (
	ErrConfigNotFound   = errors.New("config file not found")
	ErrInvalidBackend   = errors.New("storage.backend must be memory or sql")
	ErrMissingDSN       = errors.New("sql backend requires storage.postgres_dsn and storage.clickhouse_dsn")
	ErrInvalidCapital   = errors.New("engine.initial_capital must be positive")
	ErrMissingIndex     = errors.New("engine.index_id is required when regime detection is enabled")
	ErrInvalidLogLevel  = errors.New("invalid logging.level")
	ErrUnknownRegime    = errors.New("unknown regime in routes")
	ErrNoGenerators     = errors.New("at least one route or a default_generator is required")
	ErrMissingAddr      = errors.New("server.addr is required")
	ErrInvalidMAWindows = errors.New("indicators.moving_averages must be positive")
	ErrIndicatorWindow  = errors.New("indicators.momentum_lookback and indicators.beta_window must not be negative")
	ErrIndicatorIndex   = errors.New("engine.index_id is required by the momentum and beta indicators")
)

// Config is the root configuration.
type Config struct {
	Logging          logging.Config         `yaml:"logging"`
	Storage          StorageConfig          `yaml:"storage"`
	Engine           EngineConfig           `yaml:"engine"`
	Params           domain.StrategyParams  `yaml:"params"`
	Regime           RegimeConfig           `yaml:"regime"`
	Risk             RiskConfig             `yaml:"risk"`
	Exit             map[string]any         `yaml:"exit"` // exit policy document, percent units
	Indicators       IndicatorConfig        `yaml:"indicators"`
	Routes           map[string]RouteConfig `yaml:"routes"` // keyed by BULL, BEAR, SIDEWAYS
	DefaultGenerator *GeneratorConfig       `yaml:"default_generator"`
	Server           ServerConfig           `yaml:"server"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend       string `yaml:"backend"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
	Migrate       bool   `yaml:"migrate"` // apply embedded migrations on startup
}

// EngineConfig holds run-level settings.
type EngineConfig struct {
	IndexID           string  `yaml:"index_id"`            // index series for regime detection
	VolatilityIndexID string  `yaml:"volatility_index_id"` // optional volatility factor source
	InitialCapital    float64 `yaml:"initial_capital"`
}

// RegimeConfig enables and tunes the regime detector.
type RegimeConfig struct {
	Enabled       bool `yaml:"enabled"`
	regime.Config `yaml:",inline"`
}

// RiskConfig enables and tunes the risk gate.
type RiskConfig struct {
	Enabled     bool `yaml:"enabled"`
	risk.Config `yaml:",inline"`
}

// IndicatorConfig selects the indicator providers, applied in this order:
// stored columns, derived features, moving averages, sectors, momentum
// relative strength, beta and correlation. Momentum and beta read the
// engine.index_id series. Zero windows pick the provider defaults.
type IndicatorConfig struct {
	Store            bool                            `yaml:"store"`
	Derived          bool                            `yaml:"derived"`
	MovingAverages   []int                           `yaml:"moving_averages"`
	Sectors          map[string]indicator.SectorInfo `yaml:"sectors"` // keyed by instrument
	Momentum         bool                            `yaml:"momentum"`
	MomentumLookback int                             `yaml:"momentum_lookback"`
	Beta             bool                            `yaml:"beta"`
	BetaWindow       int                             `yaml:"beta_window"`
}

// GeneratorConfig selects a signal generator. Rule documents accept every
// condition document form.
type GeneratorConfig struct {
	Type      string `yaml:"type"`
	BuyRules  any    `yaml:"buy_rules"`
	SellRules any    `yaml:"sell_rules"`
}

// RouteConfig binds a generator and parameter overrides to a regime.
type RouteConfig struct {
	Generator GeneratorConfig       `yaml:"generator"`
	Overrides domain.ParamOverrides `yaml:"overrides"`
}

// ServerConfig configures cmd/server.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	StreamBuffer    int           `yaml:"stream_buffer"` // per-client outbound queue
}

// Default returns a runnable in-memory configuration.
func Default() Config {
	return Config{
		Logging: logging.Config{Level: "info"},
		Storage: StorageConfig{Backend: BackendMemory},
		Engine: EngineConfig{
			IndexID:        "KOSPI",
			InitialCapital: 10_000_000,
		},
		Params: domain.DefaultStrategyParams(),
		Regime: RegimeConfig{Enabled: true, Config: regime.DefaultConfig()},
		Risk:   RiskConfig{Enabled: false, Config: risk.DefaultConfig()},
		Indicators: IndicatorConfig{
			Store:          true,
			MovingAverages: []int{20, 60},
		},
		Routes: map[string]RouteConfig{
			string(domain.RegimeBull):     {Generator: GeneratorConfig{Type: signal.TypeTrendFollowing}},
			string(domain.RegimeBear):     {Generator: GeneratorConfig{Type: signal.TypeInverse}},
			string(domain.RegimeSideways): {Generator: GeneratorConfig{Type: signal.TypeSwing}},
		},
		DefaultGenerator: &GeneratorConfig{Type: signal.TypeTrendFollowing},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			StreamBuffer:    64,
		},
	}
}

// Load reads the first existing file among paths, applies environment
// overrides and validates. With no paths, ./configs/backtest.yaml and
// ./config.yaml are tried and defaults are used when neither exists.
// Explicit paths must exist.
func Load(paths ...string) (*Config, error) {
	explicit := len(paths) > 0
	if !explicit {
		paths = []string{"./configs/backtest.yaml", "./config.yaml"}
	}

	c := Default()
	found := false
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", p, err)
		}
		if err := c.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", p, err)
		}
		found = true
		break
	}
	if explicit && !found {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, strings.Join(paths, ", "))
	}

	c.applyEnv(EnvPrefix, os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Parse decodes YAML over the defaults and validates, without reading
// the environment.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := c.decode(data); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// decode merges YAML into c. A routes section replaces the default routes.
func (c *Config) decode(data []byte) error {
	var head struct {
		Routes map[string]RouteConfig `yaml:"routes"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.Routes != nil {
		c.Routes = nil
	}
	return yaml.Unmarshal(data, c)
}

// Validate checks every section, including the exit policy and rule
// documents, so that building components later cannot fail on input.
func (c *Config) Validate() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQL:
		if c.Storage.PostgresDSN == "" || c.Storage.ClickHouseDSN == "" {
			return ErrMissingDSN
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Storage.Backend)
	}

	if !(c.Engine.InitialCapital > 0) {
		return ErrInvalidCapital
	}
	if err := c.Params.Validate(); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	if c.Regime.Enabled {
		if c.Engine.IndexID == "" {
			return ErrMissingIndex
		}
		if err := c.Regime.Config.Validate(); err != nil {
			return fmt.Errorf("regime: %w", err)
		}
	}
	if c.Risk.Enabled {
		if err := c.Risk.Config.Validate(); err != nil {
			return fmt.Errorf("risk: %w", err)
		}
	}
	if _, err := c.ExitPolicy(); err != nil {
		return fmt.Errorf("exit: %w", err)
	}
	for _, w := range c.Indicators.MovingAverages {
		if w <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidMAWindows, w)
		}
	}
	if c.Indicators.MomentumLookback < 0 || c.Indicators.BetaWindow < 0 {
		return ErrIndicatorWindow
	}
	if (c.Indicators.Momentum || c.Indicators.Beta) && c.Engine.IndexID == "" {
		return ErrIndicatorIndex
	}
	if _, err := c.Router(condition.NewEvaluator(nil)); err != nil {
		return err
	}
	if c.Server.Addr == "" {
		return ErrMissingAddr
	}
	return nil
}

// ExitPolicy decodes the exit section. An absent section disables every rule.
func (c *Config) ExitPolicy() (exitrule.Policy, error) {
	if len(c.Exit) == 0 {
		return exitrule.DefaultPolicy(), nil
	}
	data, err := json.Marshal(c.Exit)
	if err != nil {
		return exitrule.Policy{}, err
	}
	return exitrule.ParsePolicy(data)
}

// Router builds the regime router from routes and default_generator.
func (c *Config) Router(ev *condition.Evaluator) (*router.Router, error) {
	if len(c.Routes) == 0 && c.DefaultGenerator == nil {
		return nil, ErrNoGenerators
	}

	r := router.New()
	keys := make([]string, 0, len(c.Routes))
	for k := range c.Routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		reg, ok := domain.ParseRegime(k)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRegime, k)
		}
		rc := c.Routes[k]
		gen, err := rc.Generator.Build(ev)
		if err != nil {
			return nil, fmt.Errorf("routes.%s: %w", k, err)
		}
		if err := rc.Overrides.Apply(c.Params).Validate(); err != nil {
			return nil, fmt.Errorf("routes.%s.overrides: %w", k, err)
		}
		r.Register(reg, gen, rc.Overrides)
	}
	if c.DefaultGenerator != nil {
		gen, err := c.DefaultGenerator.Build(ev)
		if err != nil {
			return nil, fmt.Errorf("default_generator: %w", err)
		}
		r.SetDefault(gen)
	}
	return r, nil
}

// Build creates the configured generator.
func (g GeneratorConfig) Build(ev *condition.Evaluator) (signal.Generator, error) {
	buy, err := ruleDocument(g.BuyRules)
	if err != nil {
		return nil, fmt.Errorf("buy_rules: %w", err)
	}
	sell, err := ruleDocument(g.SellRules)
	if err != nil {
		return nil, fmt.Errorf("sell_rules: %w", err)
	}
	return signal.FromConfig(signal.Config{Type: g.Type, BuyRules: buy, SellRules: sell}, ev)
}

// ruleDocument re-encodes a YAML-decoded value as JSON for condition.Parse.
func ruleDocument(v any) (*condition.Document, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return condition.Parse(data)
}

// applyEnv overrides fields from prefixed environment variables.
func (c *Config) applyEnv(prefix string, getenv func(string) string) {
	env := func(k string) string { return strings.TrimSpace(getenv(prefix + k)) }

	c.Logging.Level = pickStr(env("LOG_LEVEL"), c.Logging.Level)
	c.Logging.JSON = pickBool(env("LOG_JSON"), c.Logging.JSON)

	c.Storage.Backend = pickStr(env("STORAGE_BACKEND"), c.Storage.Backend)
	c.Storage.PostgresDSN = pickStr(env("POSTGRES_DSN"), c.Storage.PostgresDSN)
	c.Storage.ClickHouseDSN = pickStr(env("CLICKHOUSE_DSN"), c.Storage.ClickHouseDSN)
	c.Storage.Migrate = pickBool(env("STORAGE_MIGRATE"), c.Storage.Migrate)

	c.Engine.IndexID = pickStr(env("INDEX_ID"), c.Engine.IndexID)
	c.Engine.VolatilityIndexID = pickStr(env("VOLATILITY_INDEX_ID"), c.Engine.VolatilityIndexID)
	c.Engine.InitialCapital = pickFloat(env("INITIAL_CAPITAL"), c.Engine.InitialCapital)

	c.Regime.Enabled = pickBool(env("REGIME_ENABLED"), c.Regime.Enabled)

	c.Risk.Enabled = pickBool(env("RISK_ENABLED"), c.Risk.Enabled)
	c.Risk.Mode = risk.Mode(pickStr(env("RISK_MODE"), string(c.Risk.Mode)))
	c.Risk.ResetPolicy = risk.ResetPolicy(pickStr(env("RISK_RESET_POLICY"), string(c.Risk.ResetPolicy)))

	c.Server.Addr = pickStr(env("SERVER_ADDR"), c.Server.Addr)
}

func pickStr(env, cur string) string {
	if env != "" {
		return env
	}
	return cur
}

func pickFloat(env string, cur float64) float64 {
	if env == "" {
		return cur
	}
	if v, err := strconv.ParseFloat(env, 64); err == nil {
		return v
	}
	return cur
}

func pickBool(env string, cur bool) bool {
	if env == "" {
		return cur
	}
	switch strings.ToLower(env) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return cur
}
