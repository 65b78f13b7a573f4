package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bcdannyboy/crrput/models"
	"github.com/bcdannyboy/crrput/probability"
)

const envPrefix = "CRRPUT"

type Config struct {
	LogLevel string           `mapstructure:"log_level"`
	Output   string           `mapstructure:"output"`
	Lattices bool             `mapstructure:"lattices"`
	Option   OptionConfig     `mapstructure:"option"`
	Lattice  LatticeConfig    `mapstructure:"lattice"`
	MC       MonteCarloConfig `mapstructure:"mc"`
	Market   MarketConfig     `mapstructure:"market"`
}

type OptionConfig struct {
	Steps      int     `mapstructure:"steps"`
	Strike     float64 `mapstructure:"strike"`
	Spot       float64 `mapstructure:"spot"`
	Maturity   float64 `mapstructure:"maturity"`
	Rate       float64 `mapstructure:"rate"`
	Volatility float64 `mapstructure:"volatility"`
}

type LatticeConfig struct {
	Matching       string  `mapstructure:"matching"`
	MatchTolerance float64 `mapstructure:"match_tolerance"`
	AllowArbitrage bool    `mapstructure:"allow_arbitrage"`
}

type MonteCarloConfig struct {
	Trials      int     `mapstructure:"trials"`
	Seed        uint64  `mapstructure:"seed"`
	Workers     int     `mapstructure:"workers"`
	Confidence  float64 `mapstructure:"confidence"`
	Discounting string  `mapstructure:"discounting"`
	Skip        bool    `mapstructure:"skip"`
}

type MarketConfig struct {
	Symbol       string `mapstructure:"symbol"`
	TradierKey   string `mapstructure:"tradier_key"`
	LookbackDays int    `mapstructure:"lookback_days"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"log-level":       "log_level",
	"output":          "output",
	"lattices":        "lattices",
	"steps":           "option.steps",
	"strike":          "option.strike",
	"spot":            "option.spot",
	"maturity":        "option.maturity",
	"rate":            "option.rate",
	"volatility":      "option.volatility",
	"matching":        "lattice.matching",
	"match-tolerance": "lattice.match_tolerance",
	"allow-arbitrage": "lattice.allow_arbitrage",
	"trials":          "mc.trials",
	"seed":            "mc.seed",
	"workers":         "mc.workers",
	"confidence":      "mc.confidence",
	"discounting":     "mc.discounting",
	"skip-mc":         "mc.skip",
	"symbol":          "market.symbol",
	"tradier-key":     "market.tradier_key",
	"lookback-days":   "market.lookback_days",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("output", "")
	v.SetDefault("lattices", false)

	v.SetDefault("option.steps", 30)
	v.SetDefault("option.strike", 100.0)
	v.SetDefault("option.spot", 100.0)
	v.SetDefault("option.maturity", 1.0)
	v.SetDefault("option.rate", 0.03)
	v.SetDefault("option.volatility", 0.02)

	v.SetDefault("lattice.matching", models.MatchByIndex.String())
	v.SetDefault("lattice.match_tolerance", models.DefaultMatchTolerance)
	v.SetDefault("lattice.allow_arbitrage", false)

	v.SetDefault("mc.trials", probability.DefaultTrials)
	v.SetDefault("mc.seed", 1)
	v.SetDefault("mc.workers", 0)
	v.SetDefault("mc.confidence", probability.DefaultConfidence)
	v.SetDefault("mc.discounting", probability.DiscountToStop.String())
	v.SetDefault("mc.skip", false)

	v.SetDefault("market.symbol", "")
	v.SetDefault("market.tradier_key", "")
	v.SetDefault("market.lookback_days", 63)
}

// RegisterFlags declares the command-line flags Load understands.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("output", "", "write a JSON report to this file")
	fs.Bool("lattices", false, "include full price, payoff and value lattices in the report")

	fs.Int("steps", 30, "number of lattice periods N")
	fs.Float64("strike", 100, "strike K")
	fs.Float64("spot", 100, "initial underlying price X0")
	fs.Float64("maturity", 1, "maturity T in years")
	fs.Float64("rate", 0.03, "risk-free rate r")
	fs.Float64("volatility", 0.02, "volatility sigma")

	fs.String("matching", models.MatchByIndex.String(), "transition matching (index or price)")
	fs.Float64("match-tolerance", models.DefaultMatchTolerance, "relative tolerance for price matching")
	fs.Bool("allow-arbitrage", false, "price even when q_u is outside (0,1)")

	fs.Int("trials", probability.DefaultTrials, "Monte Carlo trials M")
	fs.Uint64("seed", 1, "Monte Carlo seed")
	fs.Int("workers", 0, "Monte Carlo workers (0 = number of CPUs)")
	fs.Float64("confidence", probability.DefaultConfidence, "confidence level of the interval")
	fs.String("discounting", probability.DiscountToStop.String(), "Monte Carlo payoff discounting (stop or none)")
	fs.Bool("skip-mc", false, "skip Monte Carlo validation")

	fs.String("symbol", "", "fetch spot and volatility for this symbol from Tradier")
	fs.String("tradier-key", "", "Tradier API token")
	fs.Int("lookback-days", 63, "daily bars used for the volatility estimate")
}

// Load layers defaults, CRRPUT_* environment variables and any flags set on fs.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Params is the option parameter set described by the config.
func (c *Config) Params() models.Params {
	return models.Params{
		Steps:      c.Option.Steps,
		Strike:     c.Option.Strike,
		Spot:       c.Option.Spot,
		Maturity:   c.Option.Maturity,
		Rate:       c.Option.Rate,
		Volatility: c.Option.Volatility,
	}
}

func (c *Config) Matching() (models.Matching, error) {
	switch strings.ToLower(c.Lattice.Matching) {
	case "", models.MatchByIndex.String():
		return models.MatchByIndex, nil
	case models.MatchByPrice.String():
		return models.MatchByPrice, nil
	default:
		return 0, fmt.Errorf("%w: unknown matching %q (want index or price)", models.ErrInvalidParameter, c.Lattice.Matching)
	}
}

func (c *Config) Discounting() (probability.Discounting, error) {
	return probability.ParseDiscounting(strings.ToLower(c.MC.Discounting))
}

// Validate rejects invalid configuration before any lattice is built.
func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return err
	}
	if _, err := c.Matching(); err != nil {
		return err
	}
	if _, err := c.Discounting(); err != nil {
		return err
	}
	if c.Lattice.MatchTolerance < 0 || math.IsNaN(c.Lattice.MatchTolerance) {
		return fmt.Errorf("%w: match tolerance must be non-negative, got %v", models.ErrInvalidParameter, c.Lattice.MatchTolerance)
	}
	if c.MC.Trials <= 0 {
		return fmt.Errorf("%w: trials must be positive, got %d", models.ErrInvalidParameter, c.MC.Trials)
	}
	if c.MC.Confidence <= 0 || c.MC.Confidence >= 1 {
		return fmt.Errorf("%w: confidence must be in (0,1), got %v", models.ErrInvalidParameter, c.MC.Confidence)
	}
	if c.Market.Symbol != "" && c.Market.TradierKey == "" {
		return fmt.Errorf("%w: symbol %s requires a Tradier key", models.ErrInvalidParameter, c.Market.Symbol)
	}
	return nil
}
