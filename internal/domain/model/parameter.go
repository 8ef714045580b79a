package model

// ParameterClass classifies a process parameter by its role in the
// cascade model.
type ParameterClass string

const (
	ClassMV     ParameterClass = "MV"     // manipulated variable, operator-settable
	ClassCV     ParameterClass = "CV"     // controlled variable, measured and predicted
	ClassDV     ParameterClass = "DV"     // disturbance variable, uncontrolled input
	ClassTarget ParameterClass = "TARGET" // the model's target variable
)

func (c ParameterClass) String() string {
	return string(c)
}

// Mode is the global prediction-input mode.
type Mode string

const (
	ModeRealtime   Mode = "realtime"
	ModeSimulation Mode = "simulation"
)

func (m Mode) String() string {
	return string(m)
}

// Parameter is the static metadata for one process parameter. Instances are
// created once at registry load and never mutated afterwards; runtime values
// (current value, slider, trend) live in the state store.
type Parameter struct {
	ID    string
	Name  string
	Unit  string
	Class ParameterClass

	// IsLab marks parameters that are only ever entered manually (lab
	// assays). They have no telemetry source and are scaled as a
	// percentage on the wire.
	IsLab bool

	// HasTrend marks parameters backed by a live telemetry tag; their
	// slider is display-only and the live value always feeds prediction.
	HasTrend bool

	Min float64
	Max float64

	// TagID is the telemetry tag identifier, templated per mill
	// (e.g. "MFC_%d_ORE"). Empty for lab parameters.
	TagID string
}

// ModelSpec describes the feature surface of one mill's cascade model.
type ModelSpec struct {
	Mill      int
	MVs       []string
	CVs       []string
	DVs       []string
	TargetID  string
	TargetTag string
}

// Features returns every parameter id the model requires as prediction
// input (MVs then DVs), in catalog order.
func (s ModelSpec) Features() []string {
	out := make([]string, 0, len(s.MVs)+len(s.DVs))
	out = append(out, s.MVs...)
	out = append(out, s.DVs...)
	return out
}
