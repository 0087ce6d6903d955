// Package tokencount counts tokens for model calls using tiktoken-go.
// Counts are best-effort: when the provider response omits usage figures,
// the client falls back to these local counts.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter provides thread-safe token counting with cached encodings.
type Counter struct {
	encodingCache map[string]*tiktoken.Tiktoken
	mu            sync.RWMutex
}

// NewCounter creates a Counter.
func NewCounter() *Counter {
	return &Counter{encodingCache: make(map[string]*tiktoken.Tiktoken)}
}

func (c *Counter) getEncodingForModel(model string) (*tiktoken.Tiktoken, error) {
	normalized := normalizeModelName(model)

	c.mu.RLock()
	if enc, ok := c.encodingCache[normalized]; ok {
		c.mu.RUnlock()
		return enc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodingCache[normalized]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(normalized)
	if err != nil {
		slog.Debug("falling back to cl100k_base encoding",
			slog.String("model", model), slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.encodingCache[normalized] = enc
	return enc, nil
}

// normalizeModelName maps provider model IDs onto tiktoken model families.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)
	if strings.Contains(model, "/") {
		parts := strings.Split(model, "/")
		model = parts[len(parts)-1]
	}
	switch {
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		// Modern models share cl100k-family tokenization closely enough
		// for budget accounting.
		return "gpt-4"
	}
}

// CountTokens counts tokens in text for the given model.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.getEncodingForModel(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountChatTokens counts prompt tokens for one system+user exchange,
// including the per-message overhead of OpenAI-compatible APIs.
func (c *Counter) CountChatTokens(systemPrompt, userPrompt, model string) (int, error) {
	enc, err := c.getEncodingForModel(model)
	if err != nil {
		return 0, err
	}
	const tokensPerMessage, tokensPerRole = 3, 1
	n := 0
	for _, msg := range []struct{ role, content string }{
		{"system", systemPrompt},
		{"user", userPrompt},
	} {
		n += tokensPerMessage
		n += len(enc.Encode(msg.role, nil, nil))
		n += len(enc.Encode(msg.content, nil, nil))
		n += tokensPerRole
	}
	// Reply priming tokens.
	n += 3
	return n, nil
}

// EstimateTokens approximates a token count when no encoding is available,
// at roughly four characters per token.
func EstimateTokens(text string) int { return len(text) / 4 }
