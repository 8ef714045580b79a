// Package features resolves the effective feature vector that feeds the
// cascade predictor, choosing between live telemetry and operator-entered
// values per parameter class and global mode.
package features

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Patchino76/ok-dashboard-sub002/internal/domain/model"
	"github.com/Patchino76/ok-dashboard-sub002/internal/state"
)

// Vector is a fully resolved feature set, split the way the cascade service
// expects it.
type Vector struct {
	MVValues map[string]float64
	DVValues map[string]float64
}

// MissingFeatureError reports required features with no resolvable value.
// IDs are sorted for stable messages.
type MissingFeatureError struct {
	IDs []string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("missing values for required features: %s", strings.Join(e.IDs, ", "))
}

// NonFiniteError reports a resolved value that cannot be sent downstream.
type NonFiniteError struct {
	ID    string
	Value float64
}

func (e *NonFiniteError) Error() string {
	return fmt.Sprintf("feature %s resolved to non-finite value %v", e.ID, e.Value)
}

// Resolve builds the feature vector from a store snapshot.
//
// Per feature: lab values come from the slider and are converted from
// percentage to fraction; trended disturbances always use the live value;
// everything else follows the global mode (simulation reads the slider,
// real-time reads telemetry).
func Resolve(snap state.Snapshot, spec model.ModelSpec) (Vector, error) {
	vec := Vector{
		MVValues: make(map[string]float64, len(spec.MVs)),
		DVValues: make(map[string]float64, len(spec.DVs)),
	}

	var missing []string
	for _, id := range spec.Features() {
		ps, ok := snap.Params[id]
		if !ok {
			missing = append(missing, id)
			continue
		}

		value, ok := resolveOne(ps, snap.Mode)
		if !ok {
			missing = append(missing, id)
			continue
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return Vector{}, &NonFiniteError{ID: id, Value: value}
		}

		switch ps.Meta.Class {
		case model.ClassMV:
			vec.MVValues[id] = value
		case model.ClassDV:
			vec.DVValues[id] = value
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return Vector{}, &MissingFeatureError{IDs: missing}
	}
	return vec, nil
}

func resolveOne(ps state.ParamSnapshot, mode model.Mode) (float64, bool) {
	switch {
	case ps.Meta.IsLab:
		if ps.Slider == nil {
			return 0, false
		}
		// Lab assays are entered as percentages; the model wants fractions.
		return *ps.Slider / 100, true

	case ps.Meta.HasTrend:
		if ps.Current == nil {
			return 0, false
		}
		return *ps.Current, true

	case mode == model.ModeSimulation:
		if ps.Slider == nil {
			return 0, false
		}
		return *ps.Slider, true

	default:
		if ps.Current == nil {
			return 0, false
		}
		return *ps.Current, true
	}
}
