package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCollection_CreatesWhenAbsent(t *testing.T) {
	t.Parallel()
	var createBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/market-knowledge", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&createBody))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	require.NoError(t, c.EnsureCollection(context.Background(), "market-knowledge", 1536))
	vectors := createBody["vectors"].(map[string]any)
	assert.EqualValues(t, 1536, vectors["size"])
	assert.Equal(t, DefaultDistance, vectors["distance"])
}

func TestEnsureCollection_ExistingIsNoop(t *testing.T) {
	t.Parallel()
	var puts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			atomic.AddInt32(&puts, 1)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	require.NoError(t, c.EnsureCollection(context.Background(), "market-knowledge", 1536))
	assert.Zero(t, atomic.LoadInt32(&puts))
}

func TestSearch_SendsAPIKeyAndDecodesResult(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		require.Equal(t, "/collections/kb/points/search", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 3, body["limit"])
		assert.Equal(t, true, body["with_payload"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{{"score": 0.9, "payload": map[string]any{"text": "t"}}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	hits, err := c.Search(context.Background(), "kb", []float32{0.1}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 0.9, hits[0]["score"].(float64), 0.001)
}

func TestUpsertPoints_LengthMismatch(t *testing.T) {
	t.Parallel()
	c := New("http://unused", "")
	err := c.UpsertPoints(context.Background(), "kb", [][]float32{{0.1}}, nil, nil)
	assert.ErrorContains(t, err, "length mismatch")
}
