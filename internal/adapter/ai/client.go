// Package ai implements domain.ModelClient against an OpenAI-compatible
// provider: chat completions with tool calling, schema-constrained chat and
// embeddings.
package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"log/slog"

	"github.com/alexlabs/alex/internal/adapter/ai/tokencount"
	"github.com/alexlabs/alex/internal/config"
	"github.com/alexlabs/alex/internal/domain"
	"github.com/alexlabs/alex/internal/observability"
	"github.com/alexlabs/alex/internal/service/ratelimiter"
)

// modelBucket is the rate limiter bucket shared by all model calls.
const modelBucket = "model"

// Client implements domain.ModelClient.
type Client struct {
	cfg     config.Config
	hc      *http.Client
	limiter ratelimiter.Limiter
	counter *tokencount.Counter
}

// New constructs a Client. limiter may be nil, which disables throttling.
func New(cfg config.Config, limiter ratelimiter.Limiter) *Client {
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: limiter,
		counter: tokencount.NewCounter(),
	}
}

// newExponential builds the doubling retry schedule: base, 2x base, ...
// capped at max.
func newExponential(base, max time.Duration) *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = base
	expo.Multiplier = 2
	expo.MaxInterval = max
	expo.MaxElapsedTime = 0
	return expo
}

func (c *Client) newBackoff(ctx domain.Context) backoff.BackOff {
	base, max, attempts := c.cfg.GetBackoffConfig()
	var bo backoff.BackOff = newExponential(base, max)
	if attempts > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(attempts-1))
	}
	return backoff.WithContext(bo, ctx)
}

// post sends one JSON request with retry. Status 429 and 5xx are retryable;
// other 4xx are permanent. Each retry is reported through the job's event
// emitter when one is attached to the context.
func (c *Client) post(ctx domain.Context, operation, path string, payload any, out any) (retries int, err error) {
	if c.cfg.ModelAPIKey == "" {
		return 0, fmt.Errorf("%w: MODEL_API_KEY missing", domain.ErrInvalidArgument)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("op=model.%s: marshal: %w", operation, err)
	}

	attempt := 0
	op := func() error {
		attempt++
		if c.limiter != nil {
			allowed, retryAfter, lerr := c.limiter.Allow(ctx, modelBucket, 1)
			if lerr == nil && !allowed {
				slog.Warn("model call throttled by local bucket",
					slog.Duration("retry_after", retryAfter))
				return fmt.Errorf("%w: local bucket empty", domain.ErrRateLimitExhausted)
			}
		}

		start := time.Now()
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ModelBaseURL+path, bytes.NewReader(body))
		if rerr != nil {
			return backoff.Permanent(rerr)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.ModelAPIKey)
		req.Header.Set("Content-Type", "application/json")
		resp, derr := c.hc.Do(req)
		observability.ModelRequestsTotal.WithLabelValues(operation).Inc()
		observability.ModelRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		if derr != nil {
			return derr
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return rerr
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			slog.Warn("model provider rate limited",
				slog.String("op", operation), slog.Int("status", resp.StatusCode))
			return fmt.Errorf("%w: provider 429", domain.ErrRateLimitExhausted)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			snippet := string(respBody)
			if len(snippet) > 512 {
				snippet = snippet[:512]
			}
			slog.Warn("model provider 4xx",
				slog.String("op", operation), slog.Int("status", resp.StatusCode), slog.String("body", snippet))
			return backoff.Permanent(fmt.Errorf("%w: status %d", domain.ErrModel, resp.StatusCode))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			slog.Error("model provider non-2xx",
				slog.String("op", operation), slog.Int("status", resp.StatusCode))
			return fmt.Errorf("%w: status %d", domain.ErrBackendUnavailable, resp.StatusCode)
		}
		if uerr := json.Unmarshal(respBody, out); uerr != nil {
			return fmt.Errorf("op=model.%s: decode: %w", operation, uerr)
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		retries++
		observability.EmitterFromContext(ctx).ModelRetry(ctx, attempt, err.Error(), wait)
	}
	if err := backoff.RetryNotify(op, c.newBackoff(ctx), notify); err != nil {
		return retries, fmt.Errorf("op=model.%s: %w", operation, err)
	}
	return retries, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns embedding vectors for texts, in input order.
func (c *Client) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out embedResponse
	if _, err := c.post(ctx, "embed", "/embeddings", embedRequest{
		Model: c.cfg.EmbeddingsModel,
		Input: texts,
	}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("op=model.embed: %w: got %d vectors for %d inputs", domain.ErrModel, len(out.Data), len(texts))
	}
	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("op=model.embed: %w: vector index %d out of range", domain.ErrModel, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
