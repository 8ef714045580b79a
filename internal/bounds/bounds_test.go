package bounds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Patchino76/ok-dashboard-sub002/internal/registry"
	"github.com/Patchino76/ok-dashboard-sub002/internal/search"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	reg, err := registry.Load("")
	require.NoError(t, err)
	return New(reg)
}

func TestDefaultsComeFromCatalog(t *testing.T) {
	s := newStore(t)

	b, ok := s.BoundsFor("ore")
	require.True(t, ok)
	assert.Equal(t, search.Bounds{Min: 140, Max: 240}, b)
}

func TestSetBoundsIsAllOrNothing(t *testing.T) {
	s := newStore(t)

	err := s.SetBounds(map[string]search.Bounds{
		"ore":   {Min: 150, Max: 200},
		"bogus": {Min: 0, Max: 1},
	})
	require.Error(t, err)

	b, _ := s.BoundsFor("ore")
	assert.Equal(t, search.Bounds{Min: 140, Max: 240}, b, "failed bulk set must not partially apply")

	err = s.SetBounds(map[string]search.Bounds{
		"ore":        {Min: 150, Max: 200},
		"water_mill": {Min: 8, Max: 20},
	})
	require.NoError(t, err)
	b, _ = s.BoundsFor("ore")
	assert.Equal(t, search.Bounds{Min: 150, Max: 200}, b)
}

func TestSetBoundRejectsInverted(t *testing.T) {
	s := newStore(t)
	err := s.SetBound("ore", search.Bounds{Min: 200, Max: 150})
	assert.ErrorContains(t, err, "inverted")
}

func TestApplyResultAdoptsBestSetpoints(t *testing.T) {
	s := newStore(t)

	s.ApplyResult(&search.Result{
		RunID:        "run-1",
		BestMVValues: map[string]float64{"ore": 172.4, "water_mill": 13.1},
	})

	assert.Equal(t, 172.4, s.Setpoints()["ore"])
	require.NotNil(t, s.Result())
	assert.Equal(t, "run-1", s.Result().RunID)
}

func TestResetClearsEverythingTogether(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.SetBound("ore", search.Bounds{Min: 150, Max: 200}))
	s.ApplyResult(&search.Result{
		RunID:        "run-2",
		BestMVValues: map[string]float64{"ore": 180},
	})

	s.Reset()

	b, _ := s.BoundsFor("ore")
	assert.Equal(t, search.Bounds{Min: 140, Max: 240}, b)
	assert.Empty(t, s.Setpoints())
	assert.Nil(t, s.Result())
}

func TestSetSetpointsValidatesIDs(t *testing.T) {
	s := newStore(t)
	err := s.SetSetpoints(map[string]float64{"bogus": 1})
	assert.Error(t, err)

	require.NoError(t, s.SetSetpoints(map[string]float64{"ore": 175}))
	assert.Equal(t, map[string]float64{"ore": 175}, s.Setpoints())
}
