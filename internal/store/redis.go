package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tnixon/many-model-forecasting/internal/api"
	"github.com/tnixon/many-model-forecasting/internal/eval"
)

// RedisStore persists runs in Redis with per-key TTL. Rows are written
// through a pipeline so a run lands in one round trip.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis. A ttl of 0 keeps runs indefinitely.
func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func forecastKey(runID, entityKey string) string {
	return fmt.Sprintf("mmf:forecast:%s:%s", runID, entityKey)
}

func metricKey(runID, entityKey string) string {
	return fmt.Sprintf("mmf:metric:%s:%s", runID, entityKey)
}

// SaveForecasts writes every row of the result table.
func (s *RedisStore) SaveForecasts(ctx context.Context, runID string, table *api.ResultTable) error {
	if table == nil {
		return fmt.Errorf("table is required")
	}

	pipe := s.client.TxPipeline()
	for i := range table.Rows {
		row := &table.Rows[i]
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to encode forecast for %s: %w", row.Key, err)
		}
		pipe.Set(ctx, forecastKey(runID, row.Key), data, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write forecasts: %w", err)
	}
	return nil
}

// SaveMetrics writes every metric record.
func (s *RedisStore) SaveMetrics(ctx context.Context, runID string, records []eval.MetricRecord) error {
	pipe := s.client.TxPipeline()
	for i := range records {
		rec := &records[i]
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode metric record for %s: %w", rec.Key, err)
		}
		pipe.Set(ctx, metricKey(runID, rec.Key), data, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write metric records: %w", err)
	}
	return nil
}

// GetForecast returns one entity's forecast row from a saved run.
func (s *RedisStore) GetForecast(ctx context.Context, runID, key string) (*api.EntityForecast, error) {
	data, err := s.client.Get(ctx, forecastKey(runID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read forecast: %w", err)
	}

	var row api.EntityForecast
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("failed to decode forecast: %w", err)
	}
	return &row, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
