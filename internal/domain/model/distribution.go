package model

// ParameterDistribution summarizes one parameter dimension over the
// successful trials of a target-driven search run. Immutable once produced.
type ParameterDistribution struct {
	Mean        float64            `json:"mean"`
	Std         float64            `json:"std"`
	Median      float64            `json:"median"`
	Min         float64            `json:"min"`
	Max         float64            `json:"max"`
	SampleCount int                `json:"sample_count"`
	Percentiles map[string]float64 `json:"percentiles"`
}

// BoundsAt derives tightened search bounds from the distribution's outer
// percentile pair. The keys must match the ones the search computed for its
// confidence level; ok is false when either is absent (e.g. an empty
// distribution).
func (d ParameterDistribution) BoundsAt(lowKey, highKey string) (low, high float64, ok bool) {
	low, okLow := d.Percentiles[lowKey]
	high, okHigh := d.Percentiles[highKey]
	return low, high, okLow && okHigh
}
