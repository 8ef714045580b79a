// Package telemetry reads process values from the plant tag gateway.
package telemetry

import (
	"context"
	"fmt"

	"github.com/Patchino76/ok-dashboard-sub002/internal/domain/model"
)

// TagReader abstracts the tag gateway so the poller can be tested without a
// live plant historian.
type TagReader interface {
	// Current returns the most recent recorded value for a tag.
	Current(ctx context.Context, tagID string) (model.TrendPoint, error)

	// Trend returns up to hours of history for a tag, oldest first.
	Trend(ctx context.Context, tagID string, hours int) ([]model.TrendPoint, error)
}

// APIError is a non-2xx response from the tag gateway.
type APIError struct {
	Method     string
	TagID      string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tag gateway %s %s: status %d: %s", e.Method, e.TagID, e.StatusCode, e.Body)
}

func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// Invalidator is implemented by readers that keep local trend state.
type Invalidator interface {
	InvalidateTrends()
}
