// Package server exposes the operator API: state snapshots, slider and mode
// edits, mill switching, distribution search and bounds management.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Patchino76/ok-dashboard-sub002/internal/alert"
	"github.com/Patchino76/ok-dashboard-sub002/internal/bounds"
	"github.com/Patchino76/ok-dashboard-sub002/internal/domain/model"
	"github.com/Patchino76/ok-dashboard-sub002/internal/features"
	"github.com/Patchino76/ok-dashboard-sub002/internal/predictor"
	"github.com/Patchino76/ok-dashboard-sub002/internal/registry"
	"github.com/Patchino76/ok-dashboard-sub002/internal/search"
	"github.com/Patchino76/ok-dashboard-sub002/internal/state"
)

// Notifier triggers a debounced prediction. Satisfied by the dispatcher.
type Notifier interface {
	Notify(trigger string)
}

type Server struct {
	store    *state.Store
	reg      *registry.Registry
	bounds   *bounds.Store
	searcher *search.Searcher
	notifier Notifier
	client   predictor.Client
	alerter  alert.Alerter
	logger   *slog.Logger
}

func New(
	store *state.Store,
	reg *registry.Registry,
	boundsStore *bounds.Store,
	searcher *search.Searcher,
	notifier Notifier,
	client predictor.Client,
	alerter alert.Alerter,
	logger *slog.Logger,
) *Server {
	return &Server{
		store:    store,
		reg:      reg,
		bounds:   boundsStore,
		searcher: searcher,
		notifier: notifier,
		client:   client,
		alerter:  alerter,
		logger:   logger.With("component", "server"),
	}
}

// Handler returns the operator API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/v1/state", s.handleState)
	mux.HandleFunc("GET /api/v1/parameters", s.handleParameters)
	mux.HandleFunc("PUT /api/v1/sliders/{id}", s.handleSlider)
	mux.HandleFunc("PUT /api/v1/mode", s.handleMode)
	mux.HandleFunc("PUT /api/v1/mill", s.handleMill)
	mux.HandleFunc("PUT /api/v1/window", s.handleWindow)
	mux.HandleFunc("POST /api/v1/predict", s.handlePredict)
	mux.HandleFunc("POST /api/v1/search", s.handleSearch)
	mux.HandleFunc("GET /api/v1/bounds", s.handleGetBounds)
	mux.HandleFunc("PUT /api/v1/bounds", s.handlePutBounds)
	mux.HandleFunc("PUT /api/v1/bounds/{id}", s.handlePutBound)
	mux.HandleFunc("POST /api/v1/bounds/reset", s.handleResetBounds)
	mux.HandleFunc("GET /api/v1/setpoints", s.handleSetpoints)

	return mux
}

// Run serves the operator API until ctx is cancelled.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("server shutdown error", "error", err)
		}
	}()

	s.logger.Info("operator api started", "port", port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("operator api: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type stateResponse struct {
	Mill         int                       `json:"mill"`
	Mode         string                    `json:"mode"`
	DisplayHours float64                   `json:"display_hours"`
	Parameters   map[string]parameterState `json:"parameters"`
	Target       []model.TargetPoint       `json:"target"`
	Prediction   *model.PredictionResult   `json:"prediction,omitempty"`
}

type parameterState struct {
	Name    string             `json:"name"`
	Unit    string             `json:"unit"`
	Class   string             `json:"class"`
	IsLab   bool               `json:"is_lab"`
	Current *float64           `json:"current,omitempty"`
	Slider  *float64           `json:"slider,omitempty"`
	Trend   []model.TrendPoint `json:"trend"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()

	resp := stateResponse{
		Mill:         snap.Mill,
		Mode:         snap.Mode.String(),
		DisplayHours: snap.DisplayWindow.Hours(),
		Parameters:   make(map[string]parameterState, len(snap.Params)),
		Target:       snap.Target,
		Prediction:   snap.Prediction,
	}
	for id, ps := range snap.Params {
		resp.Parameters[id] = parameterState{
			Name:    ps.Meta.Name,
			Unit:    ps.Meta.Unit,
			Class:   ps.Meta.Class.String(),
			IsLab:   ps.Meta.IsLab,
			Current: ps.Current,
			Slider:  ps.Slider,
			Trend:   ps.Trend,
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleParameters(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.reg.All())
}

func (s *Server) handleSlider(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Value float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	if err := s.store.SetSlider(id, body.Value); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.notifier.Notify("slider")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	mode := model.Mode(body.Mode)
	if mode != model.ModeRealtime && mode != model.ModeSimulation {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown mode %q", body.Mode))
		return
	}
	s.store.SetMode(mode)
	s.notifier.Notify("mode")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMill(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mill int `json:"mill"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	if err := s.store.SetMill(body.Mill); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	// Ask the model service to pull in the new mill's model. Failure is
	// alertable but not fatal: predictions will surface the error until
	// the service catches up.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.client.LoadModel(ctx, body.Mill); err != nil {
			s.logger.Error("model load failed", "mill", body.Mill, "error", err)
			_ = s.alerter.Send(ctx, alert.Alert{
				Type:    alert.TypeModelLoadFailed,
				Mill:    body.Mill,
				Title:   "cascade model load failed",
				Message: err.Error(),
			})
		}
	}()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Hours float64 `json:"hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	if err := s.store.SetDisplayWindow(time.Duration(body.Hours * float64(time.Hour))); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePredict(w http.ResponseWriter, _ *http.Request) {
	// Validate up front so the operator gets an immediate error for an
	// unresolvable vector instead of a notice half a second later.
	snap := s.store.Snapshot()
	spec, ok := s.reg.Model(snap.Mill)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("no model for mill %d", snap.Mill))
		return
	}
	if _, err := features.Resolve(snap, spec); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	s.notifier.Notify("manual")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var in search.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	// Default the bound box and disturbances from current state when the
	// operator did not pin them.
	if len(in.MVBounds) == 0 {
		in.MVBounds = s.defaultMVBounds()
	}
	if len(in.DVValues) == 0 {
		dv, err := s.currentDVValues()
		if err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		in.DVValues = dv
	}

	result, err := s.searcher.Run(r.Context(), s.store.Mill(), in)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.bounds.ApplyResult(result)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) defaultMVBounds() map[string]search.Bounds {
	spec, ok := s.reg.Model(s.store.Mill())
	if !ok {
		return nil
	}
	out := make(map[string]search.Bounds, len(spec.MVs))
	for _, id := range spec.MVs {
		if b, ok := s.bounds.BoundsFor(id); ok {
			out[id] = b
		}
	}
	return out
}

func (s *Server) currentDVValues() (map[string]float64, error) {
	snap := s.store.Snapshot()
	spec, ok := s.reg.Model(snap.Mill)
	if !ok {
		return nil, fmt.Errorf("no model for mill %d", snap.Mill)
	}
	vec, err := features.Resolve(snap, spec)
	if err != nil {
		return nil, err
	}
	return vec.DVValues, nil
}

func (s *Server) handleGetBounds(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.bounds.Bounds())
}

func (s *Server) handlePutBounds(w http.ResponseWriter, r *http.Request) {
	var body map[string]search.Bounds
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if err := s.bounds.SetBounds(body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutBound(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body search.Bounds
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if err := s.bounds.SetBound(id, body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetBounds(w http.ResponseWriter, _ *http.Request) {
	s.bounds.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetpoints(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Setpoints map[string]float64 `json:"setpoints"`
		Result    *search.Result     `json:"result,omitempty"`
	}{
		Setpoints: s.bounds.Setpoints(),
		Result:    s.bounds.Result(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"detail": err.Error()})
}
