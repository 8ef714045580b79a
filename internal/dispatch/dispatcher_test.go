package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Patchino76/ok-dashboard-sub002/internal/bus"
	"github.com/Patchino76/ok-dashboard-sub002/internal/domain/model"
	"github.com/Patchino76/ok-dashboard-sub002/internal/predictor"
	"github.com/Patchino76/ok-dashboard-sub002/internal/predictor/mocks"
	"github.com/Patchino76/ok-dashboard-sub002/internal/registry"
	"github.com/Patchino76/ok-dashboard-sub002/internal/state"
)

// timerFactory hands out controllable debounce timers.
type timerFactory struct {
	mu    sync.Mutex
	chans []chan time.Time
}

func (f *timerFactory) after(time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	f.chans = append(f.chans, ch)
	return ch
}

func (f *timerFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chans)
}

func (f *timerFactory) fire(i int) {
	f.mu.Lock()
	ch := f.chans[i]
	f.mu.Unlock()
	ch <- time.Time{}
}

type fixture struct {
	store      *state.Store
	dispatcher *Dispatcher
	client     *mocks.MockClient
	timers     *timerFactory
	updates    <-chan model.PredictionUpdate
	notices    <-chan model.Notice
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg, err := registry.Load("")
	require.NoError(t, err)

	store := state.New(reg, 8, 8*time.Hour, 2*time.Hour)
	store.SetMode(model.ModeSimulation)

	// Simulation reads MV sliders; lab DVs read sliders; trended DVs need
	// live values.
	for id, v := range map[string]float64{
		"ore": 170, "water_mill": 14, "water_zumpf": 200,
		"grano": 40, "fe": 12,
	} {
		require.NoError(t, store.SetSlider(id, v))
	}
	now := time.Now()
	require.True(t, store.ApplyCycle(store.Epoch(), state.CycleResult{
		Currents: map[string]model.TrendPoint{
			"shisti": {TS: now, Value: 21.5},
			"daiki":  {TS: now, Value: 8.0},
		},
	}))

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)

	updatesBus := bus.New[model.PredictionUpdate]()
	noticesBus := bus.New[model.Notice]()
	_, updates := updatesBus.Subscribe()
	_, notices := noticesBus.Subscribe()

	timers := &timerFactory{}
	d := New(store, reg, client, updatesBus, noticesBus, slog.Default())
	d.afterFn = timers.after

	return &fixture{
		store:      store,
		dispatcher: d,
		client:     client,
		timers:     timers,
		updates:    updates,
		notices:    notices,
	}
}

func runDispatcher(t *testing.T, d *Dispatcher) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = d.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel
}

func waitTimers(t *testing.T, f *timerFactory, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.count() >= n },
		2*time.Second, time.Millisecond)
}

func recvUpdate(t *testing.T, ch <-chan model.PredictionUpdate) model.PredictionUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for prediction update")
		return model.PredictionUpdate{}
	}
}

func okResponse() *predictor.Response {
	return &predictor.Response{
		PredictedTarget:      52.3,
		PredictedCVs:         map[string]float64{"motor_amp": 182.1},
		IsFeasible:           true,
		ConstraintViolations: []string{},
		MillNumber:           8,
	}
}

func TestBurstOfEditsCollapsesToOneCall(t *testing.T) {
	f := newFixture(t)
	f.client.EXPECT().Predict(gomock.Any(), gomock.Any()).Return(okResponse(), nil).Times(1)

	runDispatcher(t, f.dispatcher)

	for i := 0; i < 10; i++ {
		f.dispatcher.Notify("slider")
	}
	// Every edit restarts the timer; only the last one fires.
	waitTimers(t, f.timers, 10)
	f.timers.fire(f.timers.count() - 1)

	update := recvUpdate(t, f.updates)
	assert.Equal(t, "psi_80", update.ParameterID)
	assert.Equal(t, 52.3, update.Value)

	snap := f.store.Snapshot()
	require.NotNil(t, snap.Prediction)
	assert.Equal(t, 52.3, snap.Prediction.PredictedTarget)
}

func TestStaleResponseDiscardedAfterMillSwitch(t *testing.T) {
	f := newFixture(t)

	inCall := make(chan struct{})
	release := make(chan struct{})
	f.client.EXPECT().Predict(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, predictor.Request) (*predictor.Response, error) {
			close(inCall)
			<-release
			return okResponse(), nil
		}).Times(1)

	runDispatcher(t, f.dispatcher)

	f.dispatcher.Notify("slider")
	waitTimers(t, f.timers, 1)
	f.timers.fire(0)
	<-inCall

	// The operator switches mills while the call is in flight.
	require.NoError(t, f.store.SetMill(7))
	close(release)

	select {
	case u := <-f.updates:
		t.Fatalf("stale response must not fan out, got %v", u)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Nil(t, f.store.Snapshot().Prediction)
}

func TestEditDuringInFlightReplaysAfterCompletion(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	first := f.client.EXPECT().Predict(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, predictor.Request) (*predictor.Response, error) {
			<-release
			return okResponse(), nil
		})
	second := okResponse()
	second.PredictedTarget = 53.0
	f.client.EXPECT().Predict(gomock.Any(), gomock.Any()).Return(second, nil).After(first)

	runDispatcher(t, f.dispatcher)

	f.dispatcher.Notify("slider")
	waitTimers(t, f.timers, 1)
	f.timers.fire(0)

	// New edit while the first call is blocked; its debounce fires and must
	// queue, not start a second concurrent call.
	f.dispatcher.Notify("slider")
	waitTimers(t, f.timers, 2)
	f.timers.fire(1)

	close(release)

	u1 := recvUpdate(t, f.updates)
	assert.Equal(t, 52.3, u1.Value)
	recvUpdate(t, f.updates) // motor_amp from first call
	u2 := recvUpdate(t, f.updates)
	assert.Equal(t, 53.0, u2.Value)
}

func TestFailureClearsPredictionAndNotifies(t *testing.T) {
	f := newFixture(t)

	// Install a prediction first, then fail the next call.
	f.client.EXPECT().Predict(gomock.Any(), gomock.Any()).Return(okResponse(), nil)
	f.client.EXPECT().Predict(gomock.Any(), gomock.Any()).Return(nil, &predictor.APIError{
		StatusCode: 422,
		Detail:     "model for mill 8 is not loaded",
	})

	runDispatcher(t, f.dispatcher)

	f.dispatcher.Notify("slider")
	waitTimers(t, f.timers, 1)
	f.timers.fire(0)
	recvUpdate(t, f.updates)
	recvUpdate(t, f.updates)
	require.NotNil(t, f.store.Snapshot().Prediction)

	f.dispatcher.Notify("slider")
	waitTimers(t, f.timers, 2)
	f.timers.fire(1)

	select {
	case n := <-f.notices:
		assert.Equal(t, model.NoticeError, n.Level)
		assert.Contains(t, n.Message, "model for mill 8 is not loaded")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure notice")
	}
	assert.Eventually(t, func() bool { return f.store.Snapshot().Prediction == nil },
		2*time.Second, time.Millisecond)
}

func TestMissingFeatureAbortsBeforeNetworkCall(t *testing.T) {
	f := newFixture(t)

	// No Predict expectation: a partial vector must never reach the client.
	reg, err := registry.Load("")
	require.NoError(t, err)
	store := state.New(reg, 8, 8*time.Hour, 2*time.Hour)
	store.SetMode(model.ModeSimulation)
	f.dispatcher.store = store

	runDispatcher(t, f.dispatcher)

	f.dispatcher.Notify("slider")
	waitTimers(t, f.timers, 1)
	f.timers.fire(0)

	select {
	case n := <-f.notices:
		assert.Equal(t, model.NoticeWarn, n.Level)
		assert.Contains(t, n.Message, "missing values")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for validation notice")
	}
}
