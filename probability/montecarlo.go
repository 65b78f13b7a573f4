package probability

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/bcdannyboy/crrput/models"
	"github.com/bcdannyboy/crrput/pricing"
)

const (
	DefaultTrials     = 10000
	DefaultConfidence = 0.95
	// trials sharing one random source; fixes the stream independently of the worker count
	chunkSize = 1024
)

// Discounting decides how a trial's payoff is valued at its stopping step.
type Discounting int

const (
	// DiscountToStop multiplies the payoff at step n by e^(-r*n*dt).
	DiscountToStop Discounting = iota
	// Undiscounted records the raw payoff at the stopping step.
	Undiscounted
)

func (d Discounting) String() string {
	switch d {
	case DiscountToStop:
		return "stop"
	case Undiscounted:
		return "none"
	default:
		return fmt.Sprintf("Discounting(%d)", int(d))
	}
}

func (d Discounting) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func ParseDiscounting(s string) (Discounting, error) {
	switch s {
	case "stop", "":
		return DiscountToStop, nil
	case "none":
		return Undiscounted, nil
	default:
		return 0, fmt.Errorf("%w: unknown discounting %q (want stop or none)", models.ErrInvalidParameter, s)
	}
}

// Progress receives the number of finished trials. *mpb.Bar satisfies it.
type Progress interface {
	IncrBy(n int)
}

type Config struct {
	Trials      int
	Seed        uint64
	Workers     int     // <= 0 uses GOMAXPROCS
	Confidence  float64 // 0 uses DefaultConfidence
	Discounting Discounting
	Progress    Progress
	Logger      logrus.FieldLogger
}

// Inputs are the read-only lattice structures the trials sample from.
type Inputs struct {
	Transition *models.TransitionModel
	Exercise   *models.ExerciseRegion
	Payoff     *models.NodeValues
	Discount   float64 // one-period discount factor
}

// Estimate is the aggregated result of the Monte Carlo trials.
type Estimate struct {
	Mean             float64
	Variance         float64 // unbiased sample variance
	HalfWidth        float64 // z * sqrt(Variance / Trials)
	Lower            float64
	Upper            float64
	Confidence       float64
	Trials           int
	Discounting      Discounting
	MeanStoppingStep float64
	StopCounts       []int // trials stopped at each step
}

// Contains reports whether x lies inside the confidence interval.
func (e Estimate) Contains(x float64) bool {
	return x >= e.Lower && x <= e.Upper
}

// Validate simulates exercise paths against a priced solution.
func Validate(sol *pricing.Solution, cfg Config) (Estimate, error) {
	return Simulate(Inputs{
		Transition: sol.Transition,
		Exercise:   sol.Exercise,
		Payoff:     sol.Payoff,
		Discount:   sol.Derived.Discount,
	}, cfg)
}

// Simulate runs cfg.Trials independent paths from the root. Each path moves
// by sampling its transition row and stops at the first exercise node, or at
// maturity, recording that node's payoff.
func Simulate(in Inputs, cfg Config) (Estimate, error) {
	sim, err := newSimulator(in, cfg)
	if err != nil {
		return Estimate{}, err
	}

	start := time.Now()
	sim.log.WithFields(logrus.Fields{
		"trials":      sim.trials,
		"workers":     sim.workers,
		"discounting": sim.discounting,
	}).Debug("starting monte carlo validation")

	gains := make([]float64, sim.trials)
	stops := make([]int, sim.trials)

	numChunks := (sim.trials + chunkSize - 1) / chunkSize
	chunks := make(chan int, numChunks)
	for c := 0; c < numChunks; c++ {
		chunks <- c
	}
	close(chunks)

	var wg sync.WaitGroup
	for w := 0; w < sim.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range chunks {
				lo := c * chunkSize
				hi := min(lo+chunkSize, sim.trials)
				rng := rand.New(rand.NewSource(chunkSeed(sim.seed, c)))
				for k := lo; k < hi; k++ {
					gains[k], stops[k] = sim.trial(rng)
				}
				if sim.progress != nil {
					sim.progress.IncrBy(hi - lo)
				}
			}
		}()
	}
	wg.Wait()

	est := sim.aggregate(gains, stops)
	sim.log.WithFields(logrus.Fields{
		"mean":       est.Mean,
		"half_width": est.HalfWidth,
		"elapsed":    time.Since(start),
	}).Debug("monte carlo validation complete")

	return est, nil
}

type simulator struct {
	tm          *models.TransitionModel
	exercise    *models.ExerciseRegion
	payoff      *models.NodeValues
	discounts   []float64
	steps       int
	trials      int
	workers     int
	seed        uint64
	confidence  float64
	discounting Discounting
	progress    Progress
	log         logrus.FieldLogger
}

func newSimulator(in Inputs, cfg Config) (*simulator, error) {
	if in.Transition == nil || in.Exercise == nil || in.Payoff == nil {
		return nil, fmt.Errorf("%w: transition model, exercise region and payoff are required", models.ErrInvalidParameter)
	}
	steps := in.Transition.Steps()
	if in.Exercise.Steps() != steps || in.Payoff.Steps() != steps {
		return nil, fmt.Errorf("%w: step counts differ (transition %d, exercise %d, payoff %d)",
			models.ErrInvalidParameter, steps, in.Exercise.Steps(), in.Payoff.Steps())
	}
	if cfg.Trials <= 0 {
		return nil, fmt.Errorf("%w: trials must be positive, got %d", models.ErrInvalidParameter, cfg.Trials)
	}

	confidence := cfg.Confidence
	if confidence == 0 {
		confidence = DefaultConfidence
	}
	if math.IsNaN(confidence) || confidence <= 0 || confidence >= 1 {
		return nil, fmt.Errorf("%w: confidence must be in (0,1), got %v", models.ErrInvalidParameter, confidence)
	}

	discounts := make([]float64, steps+1)
	switch cfg.Discounting {
	case DiscountToStop:
		if math.IsNaN(in.Discount) || math.IsInf(in.Discount, 0) || in.Discount <= 0 {
			return nil, fmt.Errorf("%w: discount factor must be positive and finite, got %v", models.ErrInvalidParameter, in.Discount)
		}
		for n := range discounts {
			discounts[n] = math.Pow(in.Discount, float64(n))
		}
	case Undiscounted:
		for n := range discounts {
			discounts[n] = 1
		}
	default:
		return nil, fmt.Errorf("%w: unknown discounting %v", models.ErrInvalidParameter, cfg.Discounting)
	}

	for n := 0; n < steps; n++ {
		for i := 0; i <= n; i++ {
			if err := in.Transition.CheckRow(n, i); err != nil {
				return nil, err
			}
		}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &simulator{
		tm:          in.Transition,
		exercise:    in.Exercise,
		payoff:      in.Payoff,
		discounts:   discounts,
		steps:       steps,
		trials:      cfg.Trials,
		workers:     workers,
		seed:        cfg.Seed,
		confidence:  confidence,
		discounting: cfg.Discounting,
		progress:    cfg.Progress,
		log:         log,
	}, nil
}

// trial returns the (possibly discounted) payoff and the stopping step of one path.
func (s *simulator) trial(rng *rand.Rand) (float64, int) {
	level := 0
	for n := 0; ; n++ {
		if n == s.steps || s.exercise.IsExercise(n, level) {
			return s.payoff.At(n, level) * s.discounts[n], n
		}
		down, up := s.tm.Row(n, level)
		if rng.Float64() < down.Prob {
			level = down.Level
		} else {
			level = up.Level
		}
	}
}

func (s *simulator) aggregate(gains []float64, stops []int) Estimate {
	est := Estimate{
		Confidence:  s.confidence,
		Trials:      s.trials,
		Discounting: s.discounting,
		StopCounts:  make([]int, s.steps+1),
	}

	if s.trials == 1 {
		est.Mean = gains[0]
		est.HalfWidth = math.Inf(1)
	} else {
		est.Mean, est.Variance = stat.MeanVariance(gains, nil)
		z := distuv.UnitNormal.Quantile(0.5 + s.confidence/2)
		est.HalfWidth = z * math.Sqrt(est.Variance/float64(s.trials))
	}
	est.Lower = est.Mean - est.HalfWidth
	est.Upper = est.Mean + est.HalfWidth

	total := 0
	for _, n := range stops {
		est.StopCounts[n]++
		total += n
	}
	est.MeanStoppingStep = float64(total) / float64(s.trials)

	return est
}

// chunkSeed derives a well-mixed seed for one chunk (splitmix64 finaliser).
func chunkSeed(seed uint64, chunk int) uint64 {
	z := seed + uint64(chunk+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
