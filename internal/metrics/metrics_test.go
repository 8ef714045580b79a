package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounterVecLabels(t *testing.T) {
	PollerCyclesTotal.WithLabelValues("8").Inc()
	PollerCyclesTotal.WithLabelValues("8").Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(PollerCyclesTotal.WithLabelValues("8")))
}

func TestGaugeSet(t *testing.T) {
	StateEpoch.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(StateEpoch))
}

func TestFetchErrorPartitioning(t *testing.T) {
	PollerFetchErrors.WithLabelValues("6", "ore", "current").Inc()
	PollerFetchErrors.WithLabelValues("6", "shisti", "trend").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(PollerFetchErrors.WithLabelValues("6", "ore", "current")))
	assert.Equal(t, float64(1), testutil.ToFloat64(PollerFetchErrors.WithLabelValues("6", "shisti", "trend")))
	assert.Equal(t, float64(0), testutil.ToFloat64(PollerFetchErrors.WithLabelValues("6", "ore", "trend")))
}
