package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Patchino76/ok-dashboard-sub002/internal/domain/model"
	"github.com/Patchino76/ok-dashboard-sub002/internal/state"
)

func f(v float64) *float64 { return &v }

func param(id string, class model.ParameterClass, isLab, hasTrend bool, current, slider *float64) state.ParamSnapshot {
	return state.ParamSnapshot{
		Meta: model.Parameter{
			ID:       id,
			Class:    class,
			IsLab:    isLab,
			HasTrend: hasTrend,
		},
		Current: current,
		Slider:  slider,
	}
}

func testSpec() model.ModelSpec {
	return model.ModelSpec{
		Mill:     8,
		MVs:      []string{"ore", "water_mill"},
		DVs:      []string{"shisti", "grano"},
		TargetID: "psi_80",
	}
}

func snapshotWith(mode model.Mode, params map[string]state.ParamSnapshot) state.Snapshot {
	return state.Snapshot{Mill: 8, Mode: mode, Params: params}
}

func TestResolveRealtimeUsesLiveValues(t *testing.T) {
	snap := snapshotWith(model.ModeRealtime, map[string]state.ParamSnapshot{
		"ore":        param("ore", model.ClassMV, false, false, f(170), f(150)),
		"water_mill": param("water_mill", model.ClassMV, false, false, f(14.2), f(12)),
		"shisti":     param("shisti", model.ClassDV, false, true, f(21.5), f(30)),
		"grano":      param("grano", model.ClassDV, true, false, nil, f(45)),
	})

	vec, err := Resolve(snap, testSpec())
	require.NoError(t, err)

	assert.Equal(t, 170.0, vec.MVValues["ore"])
	assert.Equal(t, 14.2, vec.MVValues["water_mill"])
	assert.Equal(t, 21.5, vec.DVValues["shisti"], "trended DV reads live value")
	assert.Equal(t, 0.45, vec.DVValues["grano"], "lab value converts percent to fraction")
}

func TestResolveSimulationUsesSliders(t *testing.T) {
	snap := snapshotWith(model.ModeSimulation, map[string]state.ParamSnapshot{
		"ore":        param("ore", model.ClassMV, false, false, f(170), f(150)),
		"water_mill": param("water_mill", model.ClassMV, false, false, f(14.2), f(12)),
		"shisti":     param("shisti", model.ClassDV, false, true, f(21.5), f(30)),
		"grano":      param("grano", model.ClassDV, true, false, nil, f(45)),
	})

	vec, err := Resolve(snap, testSpec())
	require.NoError(t, err)

	assert.Equal(t, 150.0, vec.MVValues["ore"])
	assert.Equal(t, 12.0, vec.MVValues["water_mill"])
	assert.Equal(t, 21.5, vec.DVValues["shisti"], "trended DV ignores slider even in simulation")
	assert.Equal(t, 0.45, vec.DVValues["grano"])
}

func TestResolveMissingFeaturesSortedIDs(t *testing.T) {
	snap := snapshotWith(model.ModeRealtime, map[string]state.ParamSnapshot{
		"ore":        param("ore", model.ClassMV, false, false, nil, nil),
		"water_mill": param("water_mill", model.ClassMV, false, false, f(14.2), nil),
		"shisti":     param("shisti", model.ClassDV, false, true, f(21.5), nil),
		"grano":      param("grano", model.ClassDV, true, false, nil, nil),
	})

	_, err := Resolve(snap, testSpec())
	require.Error(t, err)

	var missing *MissingFeatureError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"grano", "ore"}, missing.IDs)
}

func TestResolveUnknownFeatureIsMissing(t *testing.T) {
	snap := snapshotWith(model.ModeRealtime, map[string]state.ParamSnapshot{})

	_, err := Resolve(snap, model.ModelSpec{MVs: []string{"ore"}})
	var missing *MissingFeatureError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"ore"}, missing.IDs)
}

func TestResolveRejectsNonFinite(t *testing.T) {
	snap := snapshotWith(model.ModeRealtime, map[string]state.ParamSnapshot{
		"ore":        param("ore", model.ClassMV, false, false, f(math.NaN()), nil),
		"water_mill": param("water_mill", model.ClassMV, false, false, f(14.2), nil),
		"shisti":     param("shisti", model.ClassDV, false, true, f(21.5), nil),
		"grano":      param("grano", model.ClassDV, true, false, nil, f(45)),
	})

	_, err := Resolve(snap, testSpec())
	var nonFinite *NonFiniteError
	require.ErrorAs(t, err, &nonFinite)
	assert.Equal(t, "ore", nonFinite.ID)
}
