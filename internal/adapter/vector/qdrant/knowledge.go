package qdrant

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/alexlabs/alex/internal/domain"
)

// Embedder is the slice of the model client the searcher needs.
type Embedder interface {
	Embed(ctx domain.Context, texts []string) ([][]float32, error)
}

// vectorSearcher lets tests stub the qdrant Client.
type vectorSearcher interface {
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]map[string]any, error)
}

// KnowledgeSearcher implements domain.KnowledgeSearcher over the market
// knowledge collection. Callers treat failures as non-fatal: a worker that
// cannot reach the index proceeds without snippets.
type KnowledgeSearcher struct {
	embedder   Embedder
	store      vectorSearcher
	collection string
}

// NewKnowledgeSearcher wires the embedder and the vector store.
func NewKnowledgeSearcher(embedder Embedder, store *Client, collection string) *KnowledgeSearcher {
	return &KnowledgeSearcher{embedder: embedder, store: store, collection: collection}
}

// Search embeds the query and returns up to k snippets ranked by score.
func (s *KnowledgeSearcher) Search(ctx domain.Context, query string, k int) ([]domain.Snippet, error) {
	tracer := otel.Tracer("vector.knowledge")
	ctx, span := tracer.Start(ctx, "knowledge.Search")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("op=knowledge.search: %w: empty query", domain.ErrInvalidArgument)
	}
	if k <= 0 {
		k = 5
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("op=knowledge.search: embed: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("op=knowledge.search: %w: expected one query vector", domain.ErrModel)
	}
	hits, err := s.store.Search(ctx, s.collection, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("op=knowledge.search: %w", err)
	}
	snippets := make([]domain.Snippet, 0, len(hits))
	for _, hit := range hits {
		var sn domain.Snippet
		if score, ok := hit["score"].(float64); ok {
			sn.Score = score
		}
		if payload, ok := hit["payload"].(map[string]any); ok {
			if text, ok := payload["text"].(string); ok {
				sn.Text = text
			}
		}
		if sn.Text != "" {
			snippets = append(snippets, sn)
		}
	}
	return snippets, nil
}
