package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alexlabs/alex/internal/config"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisPingResult is the minimal return type of a Redis client's Ping.
type RedisPingResult interface {
	Err() error
}

// RedisClient is the minimal Redis surface needed for readiness.
type RedisClient interface {
	Ping(ctx context.Context) RedisPingResult
}

// Check is one readiness probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// BuildReadinessChecks returns the db, redis and qdrant probes.
func BuildReadinessChecks(cfg config.Config, pool Pinger, rdb RedisClient) []Check {
	return []Check{
		{Name: "db", Probe: func(ctx context.Context) error {
			if pool == nil {
				return fmt.Errorf("db not configured")
			}
			return pool.Ping(ctx)
		}},
		{Name: "redis", Probe: func(ctx context.Context) error {
			// Redis is optional; absent means the model limiter runs open.
			if rdb == nil {
				return nil
			}
			return rdb.Ping(ctx).Err()
		}},
		{Name: "qdrant", Probe: func(ctx context.Context) error {
			client := &http.Client{Timeout: 2 * time.Second}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.QdrantURL+"/collections", nil)
			if err != nil {
				return err
			}
			if cfg.QdrantAPIKey != "" {
				req.Header.Set("api-key", cfg.QdrantAPIKey)
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			return fmt.Errorf("qdrant status %d", resp.StatusCode)
		}},
	}
}

// ReadyzHandler answers 200 when every check passes and 503 otherwise,
// listing the failing checks.
func ReadyzHandler(checks []Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		failing := map[string]string{}
		for _, c := range checks {
			if err := c.Probe(ctx); err != nil {
				failing[c.Name] = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if len(failing) == 0 {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "unavailable", "failing": failing})
	}
}
