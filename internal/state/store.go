// Package state owns all mutable engine state: per-parameter runtime values
// and trends, the target series, the current prediction, and the global
// mode/mill selection. Every mutation goes through a Store method, giving
// single-writer semantics; readers take snapshots.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/Patchino76/ok-dashboard-sub002/internal/domain/model"
	"github.com/Patchino76/ok-dashboard-sub002/internal/registry"
	"github.com/Patchino76/ok-dashboard-sub002/internal/retention"
)

type paramState struct {
	current   *float64
	currentTS time.Time
	slider    *float64
	trend     []model.TrendPoint
}

// Store is the explicitly owned state object handed to the poller,
// dispatcher and HTTP server.
type Store struct {
	mu       sync.RWMutex
	registry *registry.Registry
	horizon  time.Duration
	nowFn    func() time.Time

	mode          model.Mode
	mill          int
	epoch         uint64
	displayWindow time.Duration
	windowGen     uint64

	params     map[string]*paramState
	target     []model.TargetPoint
	prediction *model.PredictionResult
}

// New creates a store for the given mill. horizon bounds how much history
// any series retains; displayWindow is the initial operator view span.
func New(reg *registry.Registry, mill int, horizon, displayWindow time.Duration) *Store {
	s := &Store{
		registry:      reg,
		horizon:       horizon,
		nowFn:         time.Now,
		mode:          model.ModeRealtime,
		mill:          mill,
		displayWindow: displayWindow,
		params:        make(map[string]*paramState),
	}
	for _, p := range reg.All() {
		s.params[p.ID] = &paramState{}
	}
	return s
}

// Epoch identifies the active model context. Any result produced under an
// older epoch is stale and must not be applied.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Mill returns the active mill number.
func (s *Store) Mill() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mill
}

// Mode returns the global prediction-input mode.
func (s *Store) Mode() model.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode switches between real-time and simulation input.
func (s *Store) SetMode(m model.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// SetMill switches the active mill/model. The epoch is bumped so in-flight
// poll cycles and predictions started under the old mill are discarded, and
// all telemetry-derived state is reset (tags are per-mill).
func (s *Store) SetMill(mill int) error {
	if _, ok := s.registry.Model(mill); !ok {
		return fmt.Errorf("no model registered for mill %d", mill)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if mill == s.mill {
		return nil
	}
	s.mill = mill
	s.epoch++
	s.prediction = nil
	s.target = nil
	for _, ps := range s.params {
		ps.current = nil
		ps.currentTS = time.Time{}
		ps.trend = nil
	}
	return nil
}

// DisplayWindow returns the operator-selected view span.
func (s *Store) DisplayWindow() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayWindow
}

// WindowGen increments whenever the display window changes; the poller uses
// it to decide when trends need a re-fetch.
func (s *Store) WindowGen() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.windowGen
}

// SetDisplayWindow selects the operator view span. The retained series is
// untouched; only the fetch depth and the view change.
func (s *Store) SetDisplayWindow(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("display window must be positive, got %s", d)
	}
	if d > s.horizon {
		return fmt.Errorf("display window %s exceeds retention horizon %s", d, s.horizon)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == s.displayWindow {
		return nil
	}
	s.displayWindow = d
	s.windowGen++
	return nil
}

// SetSlider records an operator hypothetical value. Values outside the
// catalog bounds are accepted: bounds are a UI hint, and out-of-range
// what-if exploration is deliberate.
func (s *Store) SetSlider(id string, value float64) error {
	if _, ok := s.registry.Get(id); !ok {
		return fmt.Errorf("unknown parameter %q", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := value
	s.params[id].slider = &v
	return nil
}

// CycleResult is everything one poll cycle fetched, applied atomically.
type CycleResult struct {
	Currents map[string]model.TrendPoint
	Trends   map[string][]model.TrendPoint
	Target   []model.TargetPoint
}

// ApplyCycle merges a completed poll cycle into the store iff the epoch the
// cycle was started under is still current. Returns false (and applies
// nothing) for stale cycles. Sliders of untouched non-lab parameters are
// seeded from the first live value so real-time and simulation start from
// the same operating point.
func (s *Store) ApplyCycle(epoch uint64, res CycleResult) bool {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return false
	}

	for id, point := range res.Currents {
		ps, ok := s.params[id]
		if !ok {
			continue
		}
		v := point.Value
		ps.current = &v
		ps.currentTS = point.TS
		if ps.slider == nil {
			seed := point.Value
			ps.slider = &seed
		}
		ps.trend = retention.Merge(ps.trend, []model.TrendPoint{point}, now, s.horizon)
	}
	for id, points := range res.Trends {
		ps, ok := s.params[id]
		if !ok {
			continue
		}
		ps.trend = retention.Merge(ps.trend, points, now, s.horizon)
	}
	if len(res.Target) > 0 {
		s.target = retention.Merge(s.target, res.Target, now, s.horizon)
	}
	return true
}

// ApplyPrediction installs a prediction result iff its epoch is still
// current. The predicted target becomes the setpoint sample appended to the
// target series, and each predicted CV is merged into its parameter's trend,
// both through the retention merge so ordering/prune invariants hold.
func (s *Store) ApplyPrediction(epoch uint64, result model.PredictionResult) bool {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return false
	}

	r := result
	s.prediction = &r

	sp := model.TargetPoint{TS: result.Timestamp, Setpoint: result.PredictedTarget}
	if len(s.target) > 0 {
		sp.PV = s.target[len(s.target)-1].PV
	}
	s.target = retention.Merge(s.target, []model.TargetPoint{sp}, now, s.horizon)

	for id, v := range result.PredictedCVs {
		ps, ok := s.params[id]
		if !ok {
			continue
		}
		ps.trend = retention.Merge(ps.trend, []model.TrendPoint{{TS: result.Timestamp, Value: v}}, now, s.horizon)
	}
	return true
}

// ClearPrediction drops the current prediction (after a failed call, so a
// stale value never lingers). Epoch-checked like every other apply.
func (s *Store) ClearPrediction(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return false
	}
	s.prediction = nil
	return true
}

// ParamSnapshot is a point-in-time copy of one parameter's runtime state.
type ParamSnapshot struct {
	Meta    model.Parameter
	Current *float64
	Slider  *float64
	Trend   []model.TrendPoint
}

// Snapshot is a consistent point-in-time copy of the store.
type Snapshot struct {
	Mill          int
	Epoch         uint64
	Mode          model.Mode
	DisplayWindow time.Duration
	Params        map[string]ParamSnapshot
	Target        []model.TargetPoint
	Prediction    *model.PredictionResult
}

// Snapshot copies the current state. Trend slices are windowed to the
// display span; the retained series stays private to the store.
func (s *Store) Snapshot() Snapshot {
	now := s.nowFn()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Mill:          s.mill,
		Epoch:         s.epoch,
		Mode:          s.mode,
		DisplayWindow: s.displayWindow,
		Params:        make(map[string]ParamSnapshot, len(s.params)),
	}
	for id, ps := range s.params {
		meta, _ := s.registry.Get(id)
		entry := ParamSnapshot{
			Meta:  meta,
			Trend: retention.Window(ps.trend, s.displayWindow, now),
		}
		if ps.current != nil {
			v := *ps.current
			entry.Current = &v
		}
		if ps.slider != nil {
			v := *ps.slider
			entry.Slider = &v
		}
		snap.Params[id] = entry
	}
	snap.Target = retention.Window(s.target, s.displayWindow, now)
	if s.prediction != nil {
		r := *s.prediction
		snap.Prediction = &r
	}
	return snap
}

// TrendLen reports the retained (not windowed) length of a parameter's
// series; the poller uses it for cold-start detection.
func (s *Store) TrendLen(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.params[id]
	if !ok {
		return 0
	}
	return len(ps.trend)
}

// TargetLen reports the retained length of the target series.
func (s *Store) TargetLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.target)
}
