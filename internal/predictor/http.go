package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Patchino76/ok-dashboard-sub002/internal/circuitbreaker"
)

const defaultTimeout = 30 * time.Second

// HTTPClient talks to the cascade model service:
//
//	POST {base}/api/v1/ml/cascade/predict
//	POST {base}/api/v1/ml/cascade/models/{mill}/load
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
	tracer     trace.Tracer
}

var _ Client = (*HTTPClient)(nil)

type HTTPClientOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) HTTPClientOption {
	return func(h *HTTPClient) { h.httpClient = c }
}

func WithBreaker(b *circuitbreaker.Breaker) HTTPClientOption {
	return func(h *HTTPClient) { h.breaker = b }
}

func NewHTTPClient(baseURL string, logger *slog.Logger, opts ...HTTPClientOption) *HTTPClient {
	h := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		breaker:    circuitbreaker.New(circuitbreaker.Config{Name: "cascade"}),
		logger:     logger.With("component", "cascade_client"),
		tracer:     otel.Tracer("predictor"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPClient) Predict(ctx context.Context, req Request) (*Response, error) {
	ctx, span := h.tracer.Start(ctx, "cascade.predict",
		trace.WithAttributes(attribute.Int("mill", req.MillNumber)))
	defer span.End()

	if err := h.breaker.Allow(); err != nil {
		return nil, err
	}

	body, err := h.post(ctx, h.baseURL+"/api/v1/ml/cascade/predict", req)
	if err != nil {
		h.breaker.RecordFailure()
		return nil, err
	}
	h.breaker.RecordSuccess()

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode prediction response: %w", err)
	}
	return &resp, nil
}

func (h *HTTPClient) LoadModel(ctx context.Context, millNumber int) error {
	ctx, span := h.tracer.Start(ctx, "cascade.load_model",
		trace.WithAttributes(attribute.Int("mill", millNumber)))
	defer span.End()

	endpoint := fmt.Sprintf("%s/api/v1/ml/cascade/models/%d/load", h.baseURL, millNumber)
	body, err := h.post(ctx, endpoint, struct{}{})
	if err != nil {
		return err
	}

	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode model load response: %w", err)
	}
	h.logger.Info("model loaded", "mill", millNumber, "message", resp.Message)
	return nil
}

func (h *HTTPClient) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cascade service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read cascade response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Detail: extractDetail(body)}
	}
	return body, nil
}

// extractDetail pulls the service's error message out of a failure body. The
// service wraps errors as {"detail": "..."}; anything else is passed through
// raw so the operator still sees something actionable.
func extractDetail(body []byte) string {
	var wrapped struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Detail != "" {
		return wrapped.Detail
	}
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		return "no detail provided"
	}
	return detail
}
