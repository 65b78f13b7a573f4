package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/cpu"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	mpb "github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
	"github.com/xhhuango/json"

	"github.com/bcdannyboy/crrput/config"
	"github.com/bcdannyboy/crrput/models"
	"github.com/bcdannyboy/crrput/pricing"
	"github.com/bcdannyboy/crrput/probability"
	"github.com/bcdannyboy/crrput/tradier"
)

// Report is the JSON document written to --output.
type Report struct {
	Params         models.Params         `json:"params"`
	Derived        models.Derived        `json:"derived"`
	Price          float64               `json:"price"`
	CriticalPrices []*float64            `json:"critical_prices"`
	MonteCarlo     *probability.Estimate `json:"monte_carlo,omitempty"`
	Levels         [][]float64           `json:"levels,omitempty"`
	Payoff         [][]float64           `json:"payoff,omitempty"`
	Value          [][]float64           `json:"value,omitempty"`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.WithError(err).Warn("failed to load .env file")
	}

	flags := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	config.RegisterFlags(flags)
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("invalid log level")
	}
	logrus.SetLevel(level)

	if err := run(cfg); err != nil {
		logrus.WithError(err).Fatal("pricing failed")
	}
}

func run(cfg *config.Config) error {
	if cfg.Market.Symbol != "" {
		if err := applyMarketData(cfg); err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	matching, _ := cfg.Matching()
	discounting, _ := cfg.Discounting()

	pricer := pricing.NewPricer(
		pricing.WithMatching(matching, cfg.Lattice.MatchTolerance),
		pricing.WithAllowArbitrage(cfg.Lattice.AllowArbitrage),
		pricing.WithLogger(logrus.StandardLogger()),
	)

	sol, err := pricer.Price(cfg.Params())
	if err != nil {
		return err
	}

	fmt.Printf("American put price (N=%d, K=%.2f, X0=%.2f, T=%.4f, r=%.4f, sigma=%.4f): %.6f\n",
		cfg.Option.Steps, cfg.Option.Strike, cfg.Option.Spot, cfg.Option.Maturity, cfg.Option.Rate, cfg.Option.Volatility, sol.RootPrice())

	report := Report{
		Params:         sol.Params,
		Derived:        sol.Derived,
		Price:          sol.RootPrice(),
		CriticalPrices: nullableFloats(sol.CriticalPrices()),
	}
	if cfg.Lattices {
		report.Levels = sol.Lattice.Rows()
		report.Payoff = sol.Payoff.Rows()
		report.Value = sol.Value.Rows()
	}

	if !cfg.MC.Skip {
		est, err := validate(sol, cfg, discounting)
		if err != nil {
			return err
		}
		if !math.IsInf(est.HalfWidth, 0) {
			report.MonteCarlo = &est
		}

		fmt.Printf("Monte Carlo (%d trials, %s discounting): mean %.6f, variance %.6f, %.0f%% CI [%.6f, %.6f] (half-width %.6f)\n",
			est.Trials, est.Discounting, est.Mean, est.Variance, est.Confidence*100, est.Lower, est.Upper, est.HalfWidth)
		if !est.Contains(sol.RootPrice()) {
			logrus.WithFields(logrus.Fields{
				"price": sol.RootPrice(),
				"mean":  est.Mean,
			}).Warn("lattice price outside the Monte Carlo confidence interval")
		}
	}

	if cfg.Output == "" {
		return nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("error marshalling report: %w", err)
	}
	if err := os.WriteFile(cfg.Output, data, 0644); err != nil {
		return fmt.Errorf("error writing to file %s: %w", cfg.Output, err)
	}
	fmt.Printf("Successfully wrote report to %s\n", cfg.Output)
	return nil
}

func validate(sol *pricing.Solution, cfg *config.Config, discounting probability.Discounting) (probability.Estimate, error) {
	workers := cfg.MC.Workers
	if workers <= 0 {
		workers = numWorkers()
	}

	p := mpb.New(mpb.WithWidth(64))
	bar := p.AddBar(int64(cfg.MC.Trials),
		mpb.PrependDecorators(
			decor.Name("Trials"),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.CountersNoUnit("(%d / %d)", decor.WCSyncSpace),
		),
	)

	est, err := probability.Validate(sol, probability.Config{
		Trials:      cfg.MC.Trials,
		Seed:        cfg.MC.Seed,
		Workers:     workers,
		Confidence:  cfg.MC.Confidence,
		Discounting: discounting,
		Progress:    bar,
		Logger:      logrus.StandardLogger(),
	})
	if err != nil {
		bar.Abort(true)
	}
	p.Wait()
	return est, err
}

// numWorkers uses the logical CPU count reported by the OS.
func numWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// applyMarketData replaces spot and volatility with the last close and the
// Yang-Zhang estimate over the lookback window.
func applyMarketData(cfg *config.Config) error {
	if cfg.Market.TradierKey == "" {
		return fmt.Errorf("%w: symbol %s requires a Tradier key", models.ErrInvalidParameter, cfg.Market.Symbol)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	today := time.Now()
	// calendar days covering the lookback window of trading days
	start := today.AddDate(0, 0, -2*cfg.Market.LookbackDays-7)

	client := tradier.NewClient(cfg.Market.TradierKey)
	quotes, err := client.GetQuotes(ctx, cfg.Market.Symbol, start.Format("2006-01-02"), today.Format("2006-01-02"), "daily")
	if err != nil {
		return err
	}

	spot, ok := quotes.LastClose()
	if !ok {
		return fmt.Errorf("no quotes returned for %s", cfg.Market.Symbol)
	}
	vol, err := models.YangZhangVolatility(quotes.OHLC(cfg.Market.LookbackDays))
	if err != nil {
		return fmt.Errorf("estimating volatility for %s: %w", cfg.Market.Symbol, err)
	}

	logrus.WithFields(logrus.Fields{
		"symbol":     cfg.Market.Symbol,
		"spot":       spot,
		"volatility": vol,
	}).Info("using market data")

	cfg.Option.Spot = spot
	cfg.Option.Volatility = vol
	return nil
}

// nullableFloats maps NaN to null so the report stays valid JSON.
func nullableFloats(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i := range values {
		if !math.IsNaN(values[i]) {
			out[i] = &values[i]
		}
	}
	return out
}
