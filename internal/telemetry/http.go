package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/relvacode/iso8601"
	"golang.org/x/time/rate"

	"github.com/Patchino76/ok-dashboard-sub002/internal/cache"
	"github.com/Patchino76/ok-dashboard-sub002/internal/domain/model"
	"github.com/Patchino76/ok-dashboard-sub002/internal/metrics"
	"github.com/Patchino76/ok-dashboard-sub002/internal/retry"
)

const (
	defaultTimeout       = 15 * time.Second
	defaultRPS           = 20.0
	defaultBurst         = 10
	defaultTrendCacheCap = 64
	defaultTrendCacheTTL = 45 * time.Second
)

// HTTPReader talks to the tag gateway over its JSON API:
//
//	GET {base}/tag-value/{tagId}
//	GET {base}/tag-trend/{tagId}?hours=n
type HTTPReader struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	trendCache *cache.LRU[string, []model.TrendPoint]
	logger     *slog.Logger
}

var _ TagReader = (*HTTPReader)(nil)

type HTTPReaderOption func(*HTTPReader)

func WithHTTPClient(c *http.Client) HTTPReaderOption {
	return func(r *HTTPReader) { r.httpClient = c }
}

func WithRateLimit(rps float64, burst int) HTTPReaderOption {
	return func(r *HTTPReader) { r.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

func WithTrendCache(capacity int, ttl time.Duration) HTTPReaderOption {
	return func(r *HTTPReader) { r.trendCache = cache.NewLRU[string, []model.TrendPoint](capacity, ttl) }
}

func NewHTTPReader(baseURL string, logger *slog.Logger, opts ...HTTPReaderOption) *HTTPReader {
	r := &HTTPReader{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRPS), defaultBurst),
		trendCache: cache.NewLRU[string, []model.TrendPoint](defaultTrendCacheCap, defaultTrendCacheTTL),
		logger:     logger.With("component", "tag_reader"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type valueResponse struct {
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

func (r *HTTPReader) Current(ctx context.Context, tagID string) (model.TrendPoint, error) {
	endpoint := fmt.Sprintf("%s/tag-value/%s", r.baseURL, url.PathEscape(tagID))

	body, err := r.get(ctx, "tag_value", tagID, endpoint)
	if err != nil {
		return model.TrendPoint{}, err
	}

	var resp valueResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.TrendPoint{}, retry.Terminal(fmt.Errorf("decode tag value %s: %w", tagID, err))
	}

	ts, err := iso8601.ParseString(resp.Timestamp)
	if err != nil {
		return model.TrendPoint{}, retry.Terminal(fmt.Errorf("parse tag value timestamp %q for %s: %w", resp.Timestamp, tagID, err))
	}

	return model.TrendPoint{TS: ts.UTC(), Value: resp.Value}, nil
}

type trendResponse struct {
	Timestamps []string  `json:"timestamps"`
	Values     []float64 `json:"values"`
}

func (r *HTTPReader) Trend(ctx context.Context, tagID string, hours int) ([]model.TrendPoint, error) {
	if hours <= 0 {
		return nil, retry.Terminal(fmt.Errorf("trend span must be positive, got %d hours", hours))
	}

	cacheKey := fmt.Sprintf("%s/%dh", tagID, hours)
	if cached, ok := r.trendCache.Get(cacheKey); ok {
		metrics.TagTrendCacheHits.Inc()
		return cached, nil
	}

	endpoint := fmt.Sprintf("%s/tag-trend/%s?hours=%d", r.baseURL, url.PathEscape(tagID), hours)

	body, err := r.get(ctx, "tag_trend", tagID, endpoint)
	if err != nil {
		return nil, err
	}

	var resp trendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, retry.Terminal(fmt.Errorf("decode trend %s: %w", tagID, err))
	}
	if len(resp.Timestamps) != len(resp.Values) {
		return nil, retry.Terminal(fmt.Errorf("trend %s: length mismatch, %d timestamps vs %d values",
			tagID, len(resp.Timestamps), len(resp.Values)))
	}

	points := make([]model.TrendPoint, 0, len(resp.Values))
	for i, raw := range resp.Timestamps {
		ts, err := iso8601.ParseString(raw)
		if err != nil {
			return nil, retry.Terminal(fmt.Errorf("parse trend timestamp %q for %s: %w", raw, tagID, err))
		}
		points = append(points, model.TrendPoint{TS: ts.UTC(), Value: resp.Values[i]})
	}

	r.trendCache.Put(cacheKey, points)
	return points, nil
}

// InvalidateTrends drops cached history. Called when the display window or
// the active mill changes and stale spans must not be served.
func (r *HTTPReader) InvalidateTrends() {
	r.trendCache.Reset()
}

func (r *HTTPReader) get(ctx context.Context, method, tagID, endpoint string) ([]byte, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		metrics.TagCallsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, fmt.Errorf("tag gateway %s %s: %w", method, tagID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		metrics.TagCallsTotal.WithLabelValues(method, "read_error").Inc()
		return nil, fmt.Errorf("read tag gateway response for %s: %w", tagID, err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.TagCallsTotal.WithLabelValues(method, fmt.Sprintf("http_%d", resp.StatusCode)).Inc()
		return nil, &APIError{
			Method:     method,
			TagID:      tagID,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	metrics.TagCallsTotal.WithLabelValues(method, "ok").Inc()
	return body, nil
}

// wait consumes exactly one limiter token, counting calls that had to queue.
func (r *HTTPReader) wait(ctx context.Context) error {
	res := r.limiter.Reserve()
	if !res.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := res.Delay()
	if delay > 0 {
		metrics.TagRateLimitWaits.Inc()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			res.Cancel()
			return ctx.Err()
		}
	}
	return nil
}
