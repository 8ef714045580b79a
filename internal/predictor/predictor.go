// Package predictor is the client boundary to the cascade model service.
package predictor

import (
	"context"
	"fmt"
)

// Request carries the resolved feature vector for one cascade prediction.
type Request struct {
	MillNumber int                `json:"mill_number"`
	MVValues   map[string]float64 `json:"mv_values"`
	DVValues   map[string]float64 `json:"dv_values"`
	// ModelVariant selects an alternative trained model; empty means the
	// service default for the mill.
	ModelVariant string `json:"model_variant,omitempty"`
	// ReturnUncertainty asks the service to include per-output uncertainty.
	ReturnUncertainty bool `json:"return_uncertainty,omitempty"`
}

// Response is the cascade service's prediction payload.
type Response struct {
	PredictedTarget      float64            `json:"predicted_target"`
	PredictedCVs         map[string]float64 `json:"predicted_cvs"`
	IsFeasible           bool               `json:"is_feasible"`
	ConstraintViolations []string           `json:"constraint_violations"`
	MillNumber           int                `json:"mill_number"`
	TargetUncertainty    *float64           `json:"target_uncertainty,omitempty"`
	CVUncertainties      map[string]float64 `json:"cv_uncertainties,omitempty"`
}

// Client abstracts the cascade model service.
type Client interface {
	// Predict runs one cascade prediction for the given feature vector.
	Predict(ctx context.Context, req Request) (*Response, error)

	// LoadModel asks the service to load the trained model for a mill.
	// Idempotent on the service side.
	LoadModel(ctx context.Context, millNumber int) error
}

// APIError is a non-2xx response from the model service. Detail carries the
// server-provided message and is shown to the operator as-is.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cascade service: status %d: %s", e.StatusCode, e.Detail)
}

func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}
