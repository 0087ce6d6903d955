package ai

import (
	"encoding/json"
	"fmt"

	"github.com/alexlabs/alex/internal/adapter/ai/tokencount"
	"github.com/alexlabs/alex/internal/domain"
)

func unmarshalArgs(raw string, into *map[string]any) error {
	return json.Unmarshal([]byte(raw), into)
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model          string           `json:"model"`
	Temperature    float64          `json:"temperature"`
	Messages       []chatMessage    `json:"messages"`
	Tools          []map[string]any `json:"tools,omitempty"`
	ResponseFormat map[string]any   `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// toolSchema encodes one tool declaration as an OpenAI-style function tool.
// The parameter vocabulary is flat: primitives and lists of primitives.
func toolSchema(t domain.ToolDecl) map[string]any {
	props := map[string]any{}
	required := []string{}
	for _, p := range t.Params {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Type == domain.ParamArray {
			prop["items"] = map[string]any{"type": string(p.Elem)}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters": map[string]any{
				"type":                 "object",
				"properties":           props,
				"required":             required,
				"additionalProperties": false,
			},
		},
	}
}

// usageFrom extracts token accounting from a response, falling back to
// local counting when the provider omits usage. When no encoding can be
// loaded either, counts degrade to the chars/4 estimate.
func (c *Client) usageFrom(resp chatResponse, instructions, user, completion string) domain.Usage {
	u := domain.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	if u.PromptTokens == 0 {
		n, err := c.counter.CountChatTokens(instructions, user, c.cfg.ModelID)
		if err != nil {
			n = tokencount.EstimateTokens(instructions + user)
		}
		u.PromptTokens = n
	}
	if u.CompletionTokens == 0 && completion != "" {
		n, err := c.counter.CountTokens(completion, c.cfg.ModelID)
		if err != nil {
			n = tokencount.EstimateTokens(completion)
		}
		u.CompletionTokens = n
	}
	return u
}

// ChatSchema runs a single exchange with the reply constrained to the given
// JSON schema. No tools are exposed; the two chat modes never combine.
func (c *Client) ChatSchema(ctx domain.Context, instructions, user string, schemaName string, schema map[string]any) (string, domain.Usage, error) {
	req := chatRequest{
		Model:       c.cfg.ModelID,
		Temperature: 0.2,
		Messages: []chatMessage{
			{Role: "system", Content: instructions},
			{Role: "user", Content: user},
		},
		ResponseFormat: map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   schemaName,
				"strict": true,
				"schema": schema,
			},
		},
	}
	var resp chatResponse
	retries, err := c.post(ctx, "chat_schema", "/chat/completions", req, &resp)
	usage := domain.Usage{Turns: 1, Retries: retries}
	if err != nil {
		return "", usage, err
	}
	if len(resp.Choices) == 0 {
		return "", usage, fmt.Errorf("op=model.chat_schema: %w: empty choices", domain.ErrModel)
	}
	content := resp.Choices[0].Message.Content
	usage.Add(c.usageFrom(resp, instructions, user, content))
	return content, usage, nil
}

// ChatTools runs the turn loop: the model's tool calls are dispatched
// through invoke, their results are appended as tool messages and the loop
// continues until a final text reply or maxTurns.
func (c *Client) ChatTools(ctx domain.Context, instructions, user string, tools []domain.ToolDecl, invoke domain.ToolInvoker, maxTurns int) (string, domain.Usage, error) {
	if maxTurns <= 0 {
		maxTurns = 1
	}
	toolDefs := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		toolDefs = append(toolDefs, toolSchema(t))
	}
	messages := []chatMessage{
		{Role: "system", Content: instructions},
		{Role: "user", Content: user},
	}

	var usage domain.Usage
	for turn := 0; turn < maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return "", usage, err
		}
		req := chatRequest{
			Model:       c.cfg.ModelID,
			Temperature: 0.2,
			Messages:    messages,
			Tools:       toolDefs,
		}
		var resp chatResponse
		retries, err := c.post(ctx, "chat_tools", "/chat/completions", req, &resp)
		usage.Add(domain.Usage{Turns: 1, Retries: retries})
		if err != nil {
			return "", usage, err
		}
		if len(resp.Choices) == 0 {
			return "", usage, fmt.Errorf("op=model.chat_tools: %w: empty choices", domain.ErrModel)
		}
		msg := resp.Choices[0].Message
		usage.Add(c.usageFrom(resp, instructions, user, msg.Content))

		if len(msg.ToolCalls) == 0 {
			return msg.Content, usage, nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			result := c.dispatch(ctx, invoke, call)
			messages = append(messages, chatMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}
	return "", usage, fmt.Errorf("op=model.chat_tools: %w: %d turns", domain.ErrMaxTurnsExceeded, maxTurns)
}

// dispatch runs one tool call. Failures come back to the model as text so
// it can correct its arguments on the next turn.
func (c *Client) dispatch(ctx domain.Context, invoke domain.ToolInvoker, call toolCall) string {
	args := map[string]any{}
	if call.Function.Arguments != "" {
		if err := unmarshalArgs(call.Function.Arguments, &args); err != nil {
			return fmt.Sprintf("error: invalid tool arguments: %v", err)
		}
	}
	result, err := invoke(ctx, call.Function.Name, args)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return result
}
