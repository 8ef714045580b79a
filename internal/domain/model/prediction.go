package model

import "time"

// PredictionResult is the outcome of one cascade prediction call. Results
// are replaced wholesale by the next successful call, never mutated.
type PredictionResult struct {
	PredictedTarget float64
	PredictedCVs    map[string]float64
	Feasible        bool
	Violations      []string
	Mill            int
	Timestamp       time.Time

	// Optional uncertainty passthrough when the model was asked for it.
	TargetUncertainty float64
	CVUncertainties   map[string]float64
}

// PredictionUpdate is the typed fan-out message published for every value a
// prediction produced (the target and each predicted CV).
type PredictionUpdate struct {
	ParameterID string    `json:"parameter_id"`
	Value       float64   `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
}

// NoticeLevel grades operator-visible notices.
type NoticeLevel string

const (
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// Notice is an operator-visible message (validation failure, prediction
// service error). Staleness discards are never surfaced as notices.
type Notice struct {
	Level     NoticeLevel `json:"level"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}
