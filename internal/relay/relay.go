// Package relay publishes prediction updates to a Redis stream so other
// dashboard processes (reporting, historians) can consume them without
// coupling to this service.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Patchino76/ok-dashboard-sub002/internal/bus"
	"github.com/Patchino76/ok-dashboard-sub002/internal/domain/model"
	"github.com/Patchino76/ok-dashboard-sub002/internal/metrics"
)

const (
	defaultStream = "milld:prediction_updates"
	defaultMaxLen = 10000
)

// Relay drains a prediction-update subscription into a Redis stream.
type Relay struct {
	client *redis.Client
	stream string
	maxLen int64
	source *bus.Bus[model.PredictionUpdate]
	logger *slog.Logger
}

type Option func(*Relay)

func WithStream(name string) Option {
	return func(r *Relay) {
		if name != "" {
			r.stream = name
		}
	}
}

func WithMaxLen(n int64) Option {
	return func(r *Relay) {
		if n > 0 {
			r.maxLen = n
		}
	}
}

// New connects to Redis at url and verifies the connection.
func New(url string, source *bus.Bus[model.PredictionUpdate], logger *slog.Logger, opts ...Option) (*Relay, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	r := &Relay{
		client: client,
		stream: defaultStream,
		maxLen: defaultMaxLen,
		source: source,
		logger: logger.With("component", "relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run subscribes to prediction updates and forwards each as a stream entry
// until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	id, updates := r.source.Subscribe()
	defer r.source.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := r.publish(ctx, update); err != nil {
				metrics.RelayErrors.WithLabelValues(r.stream).Inc()
				r.logger.Warn("stream publish failed",
					"parameter", update.ParameterID, "error", err)
				continue
			}
			metrics.RelayPublished.WithLabelValues(r.stream).Inc()
		}
	}
}

func (r *Relay) publish(ctx context.Context, update model.PredictionUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
}

func (r *Relay) Close() error {
	return r.client.Close()
}
