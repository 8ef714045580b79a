package relay

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Patchino76/ok-dashboard-sub002/internal/bus"
	"github.com/Patchino76/ok-dashboard-sub002/internal/domain/model"
)

func TestNewRejectsBadURL(t *testing.T) {
	source := bus.New[model.PredictionUpdate]()
	_, err := New("not-a-url", source, slog.Default())
	assert.Error(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	source := bus.New[model.PredictionUpdate]()
	r := &Relay{
		stream: defaultStream,
		maxLen: defaultMaxLen,
		source: source,
		logger: slog.Default(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop on cancel")
	}
}

func TestRunStopsWhenSourceCloses(t *testing.T) {
	source := bus.New[model.PredictionUpdate]()
	r := &Relay{
		stream: defaultStream,
		maxLen: defaultMaxLen,
		source: source,
		logger: slog.Default(),
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	// Give Run a moment to subscribe before tearing the bus down.
	require.Eventually(t, func() bool { return source.Len() == 1 },
		2*time.Second, time.Millisecond)
	source.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop when the bus closed")
	}
}

func TestOptions(t *testing.T) {
	r := &Relay{stream: defaultStream, maxLen: defaultMaxLen}
	WithStream("milld:test")(r)
	WithMaxLen(500)(r)
	assert.Equal(t, "milld:test", r.stream)
	assert.Equal(t, int64(500), r.maxLen)

	WithStream("")(r)
	WithMaxLen(0)(r)
	assert.Equal(t, "milld:test", r.stream)
	assert.Equal(t, int64(500), r.maxLen)
}
