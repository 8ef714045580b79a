// Package poller drives the fixed-cadence telemetry cycle: fetch current
// values and (when needed) trend history for every live parameter of the
// active model, then apply the batch to the state store.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Patchino76/ok-dashboard-sub002/internal/alert"
	"github.com/Patchino76/ok-dashboard-sub002/internal/domain/model"
	"github.com/Patchino76/ok-dashboard-sub002/internal/metrics"
	"github.com/Patchino76/ok-dashboard-sub002/internal/registry"
	"github.com/Patchino76/ok-dashboard-sub002/internal/state"
	"github.com/Patchino76/ok-dashboard-sub002/internal/telemetry"
)

const (
	defaultInterval      = 60 * time.Second
	defaultConcurrency   = 8
	defaultAlertFailures = 3
)

// Notifier receives a signal after each applied cycle in real-time mode.
// Satisfied by the dispatch package.
type Notifier interface {
	Notify(trigger string)
}

type Poller struct {
	store    *state.Store
	reg      *registry.Registry
	reader   telemetry.TagReader
	notifier Notifier
	alerter  alert.Alerter
	logger   *slog.Logger
	tracer   trace.Tracer

	interval      time.Duration
	concurrency   int
	alertFailures int

	isFetching atomic.Bool

	// Trend re-fetch tracking. Guarded by mu; the poll cycle itself is
	// single-flight but SetMill/SetDisplayWindow race against it.
	mu            sync.Mutex
	primed        bool
	lastEpoch     uint64
	lastWindowGen uint64
	failStreak    int

	nowFn func() time.Time
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithConcurrency(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithAlertThreshold sets how many fully-failed cycles in a row fire an
// alert.
func WithAlertThreshold(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.alertFailures = n
		}
	}
}

func New(
	store *state.Store,
	reg *registry.Registry,
	reader telemetry.TagReader,
	notifier Notifier,
	alerter alert.Alerter,
	logger *slog.Logger,
	opts ...Option,
) *Poller {
	p := &Poller{
		store:         store,
		reg:           reg,
		reader:        reader,
		notifier:      notifier,
		alerter:       alerter,
		logger:        logger.With("component", "poller"),
		tracer:        otel.Tracer("poller"),
		interval:      defaultInterval,
		concurrency:   defaultConcurrency,
		alertFailures: defaultAlertFailures,
		nowFn:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll executes one cycle. A tick arriving while a cycle is still in flight
// is skipped, not queued.
func (p *Poller) Poll(ctx context.Context) {
	if !p.isFetching.CompareAndSwap(false, true) {
		metrics.PollerCyclesSkipped.WithLabelValues(strconv.Itoa(p.store.Mill())).Inc()
		p.logger.Debug("poll tick skipped, previous cycle still fetching")
		return
	}
	defer p.isFetching.Store(false)

	epoch := p.store.Epoch()
	mill := p.store.Mill()
	windowGen := p.store.WindowGen()
	millLabel := strconv.Itoa(mill)

	spec, ok := p.reg.Model(mill)
	if !ok {
		p.logger.Error("no model spec for active mill", "mill", mill)
		return
	}

	ctx, span := p.tracer.Start(ctx, "poller.cycle",
		trace.WithAttributes(attribute.Int("mill", mill)))
	defer span.End()

	metrics.PollerCyclesTotal.WithLabelValues(millLabel).Inc()
	start := p.nowFn()

	refetchAll := p.trendsStale(epoch, windowGen)
	if refetchAll {
		if inv, ok := p.reader.(telemetry.Invalidator); ok {
			inv.InvalidateTrends()
		}
	}
	hours := trendHours(p.store.DisplayWindow())

	var (
		resMu    sync.Mutex
		res      = state.CycleResult{Currents: map[string]model.TrendPoint{}, Trends: map[string][]model.TrendPoint{}}
		attempts atomic.Int64
		failures atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, id := range liveParams(p.reg, spec) {
		id := id
		meta, _ := p.reg.Get(id)
		tagID := tagFor(meta.TagID, mill)

		g.Go(func() error {
			attempts.Add(1)
			point, err := p.reader.Current(gctx, tagID)
			if err != nil {
				failures.Add(1)
				metrics.PollerFetchErrors.WithLabelValues(millLabel, id, "current").Inc()
				p.logger.Warn("current value fetch failed", "parameter", id, "tag", tagID, "error", err)
				return nil
			}
			resMu.Lock()
			res.Currents[id] = point
			resMu.Unlock()
			return nil
		})

		if refetchAll || p.store.TrendLen(id) == 0 {
			g.Go(func() error {
				attempts.Add(1)
				points, err := p.reader.Trend(gctx, tagID, hours)
				if err != nil {
					failures.Add(1)
					metrics.PollerFetchErrors.WithLabelValues(millLabel, id, "trend").Inc()
					p.logger.Warn("trend fetch failed", "parameter", id, "tag", tagID, "error", err)
					return nil
				}
				resMu.Lock()
				res.Trends[id] = points
				resMu.Unlock()
				return nil
			})
		}
	}

	// The target series gets the same treatment via its dedicated tag.
	targetTag := tagFor(spec.TargetTag, mill)
	g.Go(func() error {
		attempts.Add(1)
		point, err := p.reader.Current(gctx, targetTag)
		if err != nil {
			failures.Add(1)
			metrics.PollerFetchErrors.WithLabelValues(millLabel, spec.TargetID, "current").Inc()
			p.logger.Warn("target fetch failed", "tag", targetTag, "error", err)
			return nil
		}
		resMu.Lock()
		res.Target = append(res.Target, model.TargetPoint{TS: point.TS, PV: point.Value})
		resMu.Unlock()
		return nil
	})
	if refetchAll || p.store.TargetLen() == 0 {
		g.Go(func() error {
			attempts.Add(1)
			points, err := p.reader.Trend(gctx, targetTag, hours)
			if err != nil {
				failures.Add(1)
				metrics.PollerFetchErrors.WithLabelValues(millLabel, spec.TargetID, "trend").Inc()
				p.logger.Warn("target trend fetch failed", "tag", targetTag, "error", err)
				return nil
			}
			resMu.Lock()
			for _, pt := range points {
				res.Target = append(res.Target, model.TargetPoint{TS: pt.TS, PV: pt.Value})
			}
			resMu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	metrics.PollerCycleLatency.WithLabelValues(millLabel).Observe(p.nowFn().Sub(start).Seconds())

	if ctx.Err() != nil {
		return
	}

	if !p.store.ApplyCycle(epoch, res) {
		metrics.PollerCyclesDiscarded.WithLabelValues(millLabel).Inc()
		p.logger.Info("discarded stale poll cycle", "mill", mill, "epoch", epoch)
		return
	}
	p.markFetched(epoch, windowGen)
	metrics.StateLastCycleTimestamp.Set(float64(p.nowFn().Unix()))
	for id := range res.Trends {
		metrics.StateTrendPoints.WithLabelValues(id).Set(float64(p.store.TrendLen(id)))
	}

	p.trackHealth(ctx, mill, attempts.Load(), failures.Load())

	if p.store.Mode() == model.ModeRealtime && p.notifier != nil {
		p.notifier.Notify("poll")
	}
}

// trendsStale reports whether history must be re-fetched because the mill or
// the display window changed since the last applied cycle.
func (p *Poller) trendsStale(epoch, windowGen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.primed {
		return true
	}
	return epoch != p.lastEpoch || windowGen != p.lastWindowGen
}

func (p *Poller) markFetched(epoch, windowGen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.primed = true
	p.lastEpoch = epoch
	p.lastWindowGen = windowGen
}

// trackHealth fires an alert after alertFailures consecutive cycles in which
// every fetch failed, and a recovery alert once data flows again.
func (p *Poller) trackHealth(ctx context.Context, mill int, attempts, failures int64) {
	if attempts == 0 {
		return
	}

	p.mu.Lock()
	allFailed := failures >= attempts
	if allFailed {
		p.failStreak++
	}
	streak := p.failStreak
	recovered := !allFailed && streak >= p.alertFailures
	if !allFailed {
		p.failStreak = 0
	}
	p.mu.Unlock()

	if allFailed && streak == p.alertFailures {
		_ = p.alerter.Send(ctx, alert.Alert{
			Type:    alert.TypePollFailing,
			Mill:    mill,
			Title:   "telemetry polling is failing",
			Message: fmt.Sprintf("%d consecutive cycles without a single successful fetch", streak),
		})
	}
	if recovered {
		_ = p.alerter.Send(ctx, alert.Alert{
			Type:    alert.TypeRecovery,
			Mill:    mill,
			Title:   "telemetry polling recovered",
			Message: fmt.Sprintf("data flowing again after %d failed cycles", streak),
		})
	}
}

// liveParams returns the model's pollable parameters: every required feature
// plus the measured CVs, minus lab-only entries.
func liveParams(reg *registry.Registry, spec model.ModelSpec) []string {
	ids := make([]string, 0, len(spec.MVs)+len(spec.CVs)+len(spec.DVs))
	seen := make(map[string]struct{})
	for _, group := range [][]string{spec.MVs, spec.CVs, spec.DVs} {
		for _, id := range group {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			meta, ok := reg.Get(id)
			if !ok || meta.IsLab || meta.TagID == "" {
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids
}

// tagFor expands a mill-templated tag id.
func tagFor(template string, mill int) string {
	if !strings.Contains(template, "%d") {
		return template
	}
	return fmt.Sprintf(template, mill)
}

// trendHours converts the display window to the whole-hour span the gateway
// expects, rounding up so the view is never under-filled.
func trendHours(window time.Duration) int {
	hours := int(window / time.Hour)
	if window%time.Hour != 0 {
		hours++
	}
	if hours < 1 {
		hours = 1
	}
	return hours
}
