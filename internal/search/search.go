// Package search inverts a target value into empirical distributions over
// the manipulated variables by sampling the bound box and scoring each
// candidate through the cascade predictor.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/Patchino76/ok-dashboard-sub002/internal/domain/model"
	"github.com/Patchino76/ok-dashboard-sub002/internal/metrics"
	"github.com/Patchino76/ok-dashboard-sub002/internal/predictor"
)

const (
	defaultTrialCount  = 200
	defaultConcurrency = 8
)

// Bounds is an inclusive [Min, Max] search interval for one parameter.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Input describes one search run.
type Input struct {
	TargetValue     float64            `json:"target_value"`
	Tolerance       float64            `json:"tolerance"`        // fraction of the target
	ConfidenceLevel float64            `json:"confidence_level"` // 0-1, sets the percentile pair
	MVBounds        map[string]Bounds  `json:"mv_bounds"`
	CVBounds        map[string]Bounds  `json:"cv_bounds"`
	DVValues        map[string]float64 `json:"dv_values"`
	TrialCount      int                `json:"trial_count"`
}

// Result is the outcome of a run. TargetAchieved is false when zero trials
// landed within tolerance; distributions are empty in that case, never
// fabricated.
type Result struct {
	RunID            string                                   `json:"run_id"`
	Mill             int                                      `json:"mill"`
	TargetAchieved   bool                                     `json:"target_achieved"`
	BestDistance     float64                                  `json:"best_distance"`
	BestMVValues     map[string]float64                       `json:"best_mv_values"`
	BestCVValues     map[string]float64                       `json:"best_cv_values"`
	MVDistributions  map[string]model.ParameterDistribution   `json:"mv_distributions"`
	CVDistributions  map[string]model.ParameterDistribution   `json:"cv_distributions"`
	SuccessfulTrials int                                      `json:"successful_trials"`
	TotalTrials      int                                      `json:"total_trials"`
	SuccessRate      float64                                  `json:"success_rate"`
	PercentileKeys   [3]string                                `json:"percentile_keys"`
}

// TightenedBounds derives narrower search bounds from the outer percentile
// pair of each MV distribution, for feeding back into the next run.
func (r *Result) TightenedBounds() map[string]Bounds {
	out := make(map[string]Bounds, len(r.MVDistributions))
	for id, dist := range r.MVDistributions {
		if low, high, ok := dist.BoundsAt(r.PercentileKeys[0], r.PercentileKeys[2]); ok {
			out[id] = Bounds{Min: low, Max: high}
		}
	}
	return out
}

// SamplingPolicy picks candidate MV vectors inside the bound box. Policies
// must be safe for concurrent Sample calls.
type SamplingPolicy interface {
	Name() string
	Sample(trial int, bounds map[string]Bounds) map[string]float64
}

// UniformPolicy samples each MV independently and uniformly.
type UniformPolicy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewUniformPolicy(seed int64) *UniformPolicy {
	return &UniformPolicy{rng: rand.New(rand.NewSource(seed))}
}

func (u *UniformPolicy) Name() string { return "uniform" }

func (u *UniformPolicy) Sample(_ int, bounds map[string]Bounds) map[string]float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]float64, len(bounds))
	for id, b := range bounds {
		out[id] = b.Min + u.rng.Float64()*(b.Max-b.Min)
	}
	return out
}

// Searcher runs target-driven searches against the cascade predictor.
type Searcher struct {
	client      predictor.Client
	policy      SamplingPolicy
	logger      *slog.Logger
	tracer      trace.Tracer
	concurrency int
	nowFn       func() time.Time
}

type Option func(*Searcher)

func WithPolicy(p SamplingPolicy) Option {
	return func(s *Searcher) { s.policy = p }
}

func WithConcurrency(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func New(client predictor.Client, logger *slog.Logger, opts ...Option) *Searcher {
	s := &Searcher{
		client:      client,
		policy:      NewUniformPolicy(time.Now().UnixNano()),
		logger:      logger.With("component", "search"),
		tracer:      otel.Tracer("search"),
		concurrency: defaultConcurrency,
		nowFn:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type trialOutcome struct {
	mvs       map[string]float64
	cvs       map[string]float64
	predicted float64
	distance  float64
	success   bool
}

// Run executes in.TrialCount independent trials for the given mill.
func (s *Searcher) Run(ctx context.Context, mill int, in Input) (*Result, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	trials := in.TrialCount
	if trials <= 0 {
		trials = defaultTrialCount
	}

	runID := uuid.NewString()
	millLabel := strconv.Itoa(mill)

	ctx, span := s.tracer.Start(ctx, "search.run",
		trace.WithAttributes(attribute.Int("mill", mill), attribute.Int("trials", trials)))
	defer span.End()

	start := s.nowFn()
	s.logger.Info("search run started",
		"run_id", runID, "mill", mill, "target", in.TargetValue,
		"trials", trials, "policy", s.policy.Name())

	var (
		mu       sync.Mutex
		outcomes = make([]trialOutcome, 0, trials)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := 0; i < trials; i++ {
		trial := i
		g.Go(func() error {
			mvs := s.policy.Sample(trial, in.MVBounds)
			resp, err := s.client.Predict(gctx, predictor.Request{
				MillNumber: mill,
				MVValues:   mvs,
				DVValues:   in.DVValues,
			})
			if err != nil {
				// One failed trial does not sink the run unless the
				// context itself is gone.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				metrics.SearchTrialsTotal.WithLabelValues(millLabel, "error").Inc()
				s.logger.Warn("trial failed", "run_id", runID, "trial", trial, "error", err)
				return nil
			}

			distance := math.Abs(resp.PredictedTarget - in.TargetValue)
			outcome := trialOutcome{
				mvs:       mvs,
				cvs:       resp.PredictedCVs,
				predicted: resp.PredictedTarget,
				distance:  distance,
				success: distance <= in.Tolerance*math.Abs(in.TargetValue) &&
					withinBounds(resp.PredictedCVs, in.CVBounds),
			}
			if outcome.success {
				metrics.SearchTrialsTotal.WithLabelValues(millLabel, "success").Inc()
			} else {
				metrics.SearchTrialsTotal.WithLabelValues(millLabel, "miss").Inc()
			}

			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		metrics.SearchRunsTotal.WithLabelValues(millLabel, "cancelled").Inc()
		return nil, fmt.Errorf("search run %s: %w", runID, err)
	}

	result := s.summarize(runID, mill, in, trials, outcomes)
	metrics.SearchRunLatency.WithLabelValues(millLabel).Observe(s.nowFn().Sub(start).Seconds())

	outcome := "achieved"
	if !result.TargetAchieved {
		outcome = "not_achieved"
	}
	metrics.SearchRunsTotal.WithLabelValues(millLabel, outcome).Inc()
	s.logger.Info("search run finished",
		"run_id", runID, "mill", mill, "success_rate", result.SuccessRate,
		"best_distance", result.BestDistance, "achieved", result.TargetAchieved)
	return result, nil
}

func (s *Searcher) summarize(runID string, mill int, in Input, trials int, outcomes []trialOutcome) *Result {
	keys := percentileKeys(in.ConfidenceLevel)
	result := &Result{
		RunID:           runID,
		Mill:            mill,
		BestDistance:    math.Inf(1),
		MVDistributions: map[string]model.ParameterDistribution{},
		CVDistributions: map[string]model.ParameterDistribution{},
		TotalTrials:     trials,
		PercentileKeys:  keys,
	}

	successes := make([]trialOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.distance < result.BestDistance {
			result.BestDistance = o.distance
			result.BestMVValues = o.mvs
			result.BestCVValues = o.cvs
		}
		if o.success {
			successes = append(successes, o)
		}
	}

	result.SuccessfulTrials = len(successes)
	if trials > 0 {
		result.SuccessRate = float64(len(successes)) / float64(trials)
	}
	result.TargetAchieved = len(successes) > 0
	if !result.TargetAchieved {
		// Zero successes is a first-class outcome: report it with empty
		// distributions rather than inventing defaults.
		if math.IsInf(result.BestDistance, 1) {
			result.BestDistance = 0
			result.BestMVValues = nil
			result.BestCVValues = nil
		}
		return result
	}

	for id := range in.MVBounds {
		values := make([]float64, 0, len(successes))
		for _, o := range successes {
			if v, ok := o.mvs[id]; ok {
				values = append(values, v)
			}
		}
		result.MVDistributions[id] = describe(values, in.ConfidenceLevel, keys)
	}

	cvIDs := map[string]struct{}{}
	for _, o := range successes {
		for id := range o.cvs {
			cvIDs[id] = struct{}{}
		}
	}
	for id := range cvIDs {
		values := make([]float64, 0, len(successes))
		for _, o := range successes {
			if v, ok := o.cvs[id]; ok {
				values = append(values, v)
			}
		}
		result.CVDistributions[id] = describe(values, in.ConfidenceLevel, keys)
	}
	return result
}

// describe computes the summary statistics for one dimension's successful
// samples.
func describe(values []float64, confidence float64, keys [3]string) model.ParameterDistribution {
	if len(values) == 0 {
		return model.ParameterDistribution{Percentiles: map[string]float64{}}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	alpha := 1 - confidence
	dist := model.ParameterDistribution{
		Mean:        stat.Mean(sorted, nil),
		Median:      stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		SampleCount: len(sorted),
		Percentiles: map[string]float64{
			keys[0]: stat.Quantile(alpha/2, stat.Empirical, sorted, nil),
			keys[1]: stat.Quantile(0.5, stat.Empirical, sorted, nil),
			keys[2]: stat.Quantile(1-alpha/2, stat.Empirical, sorted, nil),
		},
	}
	if len(sorted) > 1 {
		dist.Std = stat.StdDev(sorted, nil)
	}
	return dist
}

// percentileKeys renders the {α/2, 50, 1−α/2} percentile labels for a
// confidence level, e.g. 0.90 → "5", "50", "95" and 0.95 → "2.5", "50",
// "97.5".
func percentileKeys(confidence float64) [3]string {
	alpha := 1 - confidence
	// Round to one decimal so float noise in 1-confidence never leaks into
	// the keys (0.90 must yield "5", not "4.999999999999999").
	format := func(p float64) string {
		return strconv.FormatFloat(math.Round(p*1000)/10, 'f', -1, 64)
	}
	return [3]string{format(alpha / 2), "50", format(1 - alpha/2)}
}

func validate(in Input) error {
	if in.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %g", in.Tolerance)
	}
	if in.ConfidenceLevel <= 0 || in.ConfidenceLevel >= 1 {
		return fmt.Errorf("confidence level must be in (0, 1), got %g", in.ConfidenceLevel)
	}
	if len(in.MVBounds) == 0 {
		return fmt.Errorf("mv bounds must not be empty")
	}
	for id, b := range in.MVBounds {
		if b.Min > b.Max {
			return fmt.Errorf("inverted bounds for %s: [%g, %g]", id, b.Min, b.Max)
		}
	}
	for id, b := range in.CVBounds {
		if b.Min > b.Max {
			return fmt.Errorf("inverted bounds for %s: [%g, %g]", id, b.Min, b.Max)
		}
	}
	return nil
}

// withinBounds reports whether every constrained predicted CV landed inside
// its bound. Unconstrained CVs pass.
func withinBounds(cvs map[string]float64, bounds map[string]Bounds) bool {
	for id, b := range bounds {
		v, ok := cvs[id]
		if !ok {
			return false
		}
		if v < b.Min || v > b.Max {
			return false
		}
	}
	return true
}
