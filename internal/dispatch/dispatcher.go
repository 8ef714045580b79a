// Package dispatch debounces prediction triggers and enforces a single
// in-flight call to the cascade model service.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Patchino76/ok-dashboard-sub002/internal/alert"
	"github.com/Patchino76/ok-dashboard-sub002/internal/bus"
	"github.com/Patchino76/ok-dashboard-sub002/internal/circuitbreaker"
	"github.com/Patchino76/ok-dashboard-sub002/internal/domain/model"
	"github.com/Patchino76/ok-dashboard-sub002/internal/features"
	"github.com/Patchino76/ok-dashboard-sub002/internal/metrics"
	"github.com/Patchino76/ok-dashboard-sub002/internal/predictor"
	"github.com/Patchino76/ok-dashboard-sub002/internal/registry"
	"github.com/Patchino76/ok-dashboard-sub002/internal/retry"
	"github.com/Patchino76/ok-dashboard-sub002/internal/state"
)

const (
	defaultQuiescence  = 500 * time.Millisecond
	defaultAlertStreak = 3
)

// Dispatcher coalesces bursts of parameter edits into one prediction call.
// Edits restart a quiescence timer; when it fires with a call already in
// flight the trigger is remembered and replayed once the call returns, so
// the newest state always wins.
type Dispatcher struct {
	store   *state.Store
	reg     *registry.Registry
	client  predictor.Client
	updates *bus.Bus[model.PredictionUpdate]
	notices *bus.Bus[model.Notice]
	alerter alert.Alerter
	logger  *slog.Logger

	quiescence  time.Duration
	uncertainty bool
	alertStreak int

	edits   chan string
	results chan struct{}

	// failStreak is only touched inside predict, which the Run loop keeps
	// single-in-flight.
	failStreak int

	nowFn   func() time.Time
	afterFn func(time.Duration) <-chan time.Time
}

type Option func(*Dispatcher)

func WithQuiescence(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.quiescence = d
		}
	}
}

// WithUncertainty asks the model service for per-output uncertainty on
// every prediction.
func WithUncertainty(enabled bool) Option {
	return func(dp *Dispatcher) { dp.uncertainty = enabled }
}

// WithAlerter routes consecutive-failure and recovery alerts to the given
// sink.
func WithAlerter(a alert.Alerter) Option {
	return func(dp *Dispatcher) {
		if a != nil {
			dp.alerter = a
		}
	}
}

func New(
	store *state.Store,
	reg *registry.Registry,
	client predictor.Client,
	updates *bus.Bus[model.PredictionUpdate],
	notices *bus.Bus[model.Notice],
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		reg:         reg,
		client:      client,
		updates:     updates,
		notices:     notices,
		alerter:     alert.Noop{},
		logger:      logger.With("component", "dispatcher"),
		quiescence:  defaultQuiescence,
		alertStreak: defaultAlertStreak,
		edits:       make(chan string, 64),
		results:     make(chan struct{}, 1),
		nowFn:       time.Now,
		afterFn:     time.After,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify signals that a parameter edit or live update occurred. Never
// blocks; a full queue means a debounce is already guaranteed to fire.
func (d *Dispatcher) Notify(trigger string) {
	select {
	case d.edits <- trigger:
	default:
	}
}

// Run owns the debounce state machine. It returns when ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	var (
		timer    <-chan time.Time
		trigger  string
		inFlight bool
		pending  bool
	)

	mill := func() string { return strconv.Itoa(d.store.Mill()) }

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case t := <-d.edits:
			if timer != nil || inFlight {
				metrics.PredictionsCollapsed.WithLabelValues(mill()).Inc()
			}
			trigger = t
			timer = d.afterFn(d.quiescence)

		case <-timer:
			timer = nil
			if inFlight {
				pending = true
				continue
			}
			inFlight = true
			d.launch(ctx, trigger)

		case <-d.results:
			inFlight = false
			if pending {
				pending = false
				inFlight = true
				d.launch(ctx, trigger)
			}
		}
	}
}

// launch captures the model identity and feature vector now, then calls the
// service off the loop goroutine. The store's epoch check discards the
// response if the mill changed while the call was in flight.
func (d *Dispatcher) launch(ctx context.Context, trigger string) {
	epoch := d.store.Epoch()
	snap := d.store.Snapshot()

	go func() {
		defer func() { d.results <- struct{}{} }()
		d.predict(ctx, epoch, snap, trigger)
	}()
}

func (d *Dispatcher) predict(ctx context.Context, epoch uint64, snap state.Snapshot, trigger string) {
	millLabel := strconv.Itoa(snap.Mill)

	spec, ok := d.reg.Model(snap.Mill)
	if !ok {
		d.logger.Error("no model spec for mill", "mill", snap.Mill)
		return
	}

	vec, err := features.Resolve(snap, spec)
	if err != nil {
		// Validation failures abort before any network call.
		metrics.PredictionErrors.WithLabelValues(millLabel, "validation").Inc()
		d.store.ClearPrediction(epoch)
		d.notify(model.NoticeWarn, fmt.Sprintf("prediction skipped: %v", err))
		d.logger.Warn("feature resolution failed", "mill", snap.Mill, "error", err)
		return
	}

	metrics.PredictionsDispatched.WithLabelValues(millLabel, trigger).Inc()
	start := d.nowFn()

	resp, err := d.client.Predict(ctx, predictor.Request{
		MillNumber:        snap.Mill,
		MVValues:          vec.MVValues,
		DVValues:          vec.DVValues,
		ReturnUncertainty: d.uncertainty,
	})
	metrics.PredictionLatency.WithLabelValues(millLabel).Observe(d.nowFn().Sub(start).Seconds())

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		class := string(retry.Classify(err).Class)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			class = "breaker_open"
		}
		metrics.PredictionErrors.WithLabelValues(millLabel, class).Inc()
		d.store.ClearPrediction(epoch)
		d.notify(model.NoticeError, fmt.Sprintf("prediction failed: %v", err))
		d.logger.Error("prediction call failed", "mill", snap.Mill, "class", class, "error", err)

		d.failStreak++
		if d.failStreak == d.alertStreak {
			_ = d.alerter.Send(ctx, alert.Alert{
				Type:    alert.TypePredictionFailing,
				Mill:    snap.Mill,
				Title:   "prediction calls are failing",
				Message: fmt.Sprintf("%d consecutive prediction failures, last: %v", d.failStreak, err),
			})
		}
		return
	}

	if d.failStreak >= d.alertStreak {
		_ = d.alerter.Send(ctx, alert.Alert{
			Type:    alert.TypeRecovery,
			Mill:    snap.Mill,
			Title:   "prediction calls recovered",
			Message: fmt.Sprintf("succeeded after %d failures", d.failStreak),
		})
	}
	d.failStreak = 0

	result := model.PredictionResult{
		PredictedTarget: resp.PredictedTarget,
		PredictedCVs:    resp.PredictedCVs,
		Feasible:        resp.IsFeasible,
		Violations:      resp.ConstraintViolations,
		Mill:            resp.MillNumber,
		Timestamp:       d.nowFn(),
		CVUncertainties: resp.CVUncertainties,
	}
	if resp.TargetUncertainty != nil {
		result.TargetUncertainty = *resp.TargetUncertainty
	}

	if !d.store.ApplyPrediction(epoch, result) {
		metrics.PredictionsRejectedStale.WithLabelValues(millLabel).Inc()
		d.logger.Info("discarded stale prediction response", "mill", snap.Mill, "epoch", epoch)
		return
	}

	d.publish(spec, result)
}

func (d *Dispatcher) publish(spec model.ModelSpec, result model.PredictionResult) {
	d.updates.Publish(model.PredictionUpdate{
		ParameterID: spec.TargetID,
		Value:       result.PredictedTarget,
		Timestamp:   result.Timestamp,
	})
	for id, value := range result.PredictedCVs {
		d.updates.Publish(model.PredictionUpdate{
			ParameterID: id,
			Value:       value,
			Timestamp:   result.Timestamp,
		})
	}
}

func (d *Dispatcher) notify(level model.NoticeLevel, msg string) {
	d.notices.Publish(model.Notice{
		Level:     level,
		Message:   msg,
		Timestamp: d.nowFn(),
	})
}
