package predictor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Patchino76/ok-dashboard-sub002/internal/circuitbreaker"
)

func TestPredictRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/ml/cascade/predict", r.URL.Path)

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 8, req.MillNumber)
		assert.Equal(t, 170.0, req.MVValues["ore"])

		_, _ = w.Write([]byte(`{
			"predicted_target": 52.3,
			"predicted_cvs": {"motor_amp": 182.1, "density_hc": 1710.0},
			"is_feasible": true,
			"constraint_violations": [],
			"mill_number": 8
		}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, slog.Default())
	resp, err := client.Predict(context.Background(), Request{
		MillNumber: 8,
		MVValues:   map[string]float64{"ore": 170.0, "water_mill": 14.2},
		DVValues:   map[string]float64{"shisti": 21.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 52.3, resp.PredictedTarget)
	assert.Equal(t, 182.1, resp.PredictedCVs["motor_amp"])
	assert.True(t, resp.IsFeasible)
	assert.Equal(t, 8, resp.MillNumber)
}

func TestPredictSurfacesServerDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail": "model for mill 9 is not loaded"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, slog.Default())
	_, err := client.Predict(context.Background(), Request{MillNumber: 9})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "model for mill 9 is not loaded", apiErr.Detail)
}

func TestPredictNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, slog.Default())
	_, err := client.Predict(context.Background(), Request{MillNumber: 8})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad gateway", apiErr.Detail)
}

func TestPredictBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:             "predict_test",
		FailureThreshold: 2,
		OpenTimeout:      time.Hour,
	})
	client := NewHTTPClient(srv.URL, slog.Default(), WithBreaker(breaker))

	_, err := client.Predict(context.Background(), Request{MillNumber: 8})
	require.Error(t, err)
	_, err = client.Predict(context.Background(), Request{MillNumber: 8})
	require.Error(t, err)

	_, err = client.Predict(context.Background(), Request{MillNumber: 8})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestLoadModel(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"message": "model for mill 7 loaded"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, slog.Default())
	err := client.LoadModel(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/ml/cascade/models/7/load", gotPath)
}
