// Package qdrant provides the knowledge store client: a small Qdrant HTTP
// wrapper and the searcher the narrative worker uses.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultDistance is the similarity metric for knowledge collections.
// Embeddings are compared by cosine similarity regardless of model.
const DefaultDistance = "Cosine"

// Client is a minimal Qdrant HTTP client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New constructs a Qdrant client with baseURL and optional apiKey.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// do sends one JSON request. Non-2xx statuses come back as errors tagged
// with op; the caller owns the response body on success.
func (c *Client) do(ctx context.Context, op, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("qdrant %s status %d", op, resp.StatusCode)
	}
	return resp, nil
}

// EnsureCollection creates the named collection when absent, sized for the
// embedding model and using the default distance.
func (c *Client) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	if resp, err := c.do(ctx, "collection check", http.MethodGet, "/collections/"+name, nil); err == nil {
		_ = resp.Body.Close()
		return nil
	}
	resp, err := c.do(ctx, "collection create", http.MethodPut, "/collections/"+name, map[string]any{
		"vectors": map[string]any{"size": vectorSize, "distance": DefaultDistance},
	})
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// UpsertPoints inserts or updates points. payloads carry per-point metadata;
// ids are optional and must match len(vectors) when given.
func (c *Client) UpsertPoints(ctx context.Context, collection string, vectors [][]float32, payloads []map[string]any, ids []any) error {
	if len(vectors) != len(payloads) {
		return fmt.Errorf("vectors and payloads length mismatch")
	}
	points := make([]map[string]any, 0, len(vectors))
	for i := range vectors {
		pt := map[string]any{
			"vector":  vectors[i],
			"payload": payloads[i],
		}
		if ids != nil && len(ids) == len(vectors) {
			pt["id"] = ids[i]
		}
		points = append(points, pt)
	}
	resp, err := c.do(ctx, "upsert", http.MethodPut, "/collections/"+collection+"/points",
		map[string]any{"points": points})
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// Search returns the top-k nearest points for a vector, payloads included.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK int) ([]map[string]any, error) {
	resp, err := c.do(ctx, "search", http.MethodPost, "/collections/"+collection+"/points/search",
		map[string]any{"vector": vector, "limit": topK, "with_payload": true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var out struct {
		Result []map[string]any `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Result, nil
}
