package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"resty.dev/v3"
)

const anthropicVersion = "2023-06-01"

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	http *resty.Client
}

// NewAnthropicClient creates a client for baseURL.
func NewAnthropicClient(baseURL string, timeout time.Duration) *AnthropicClient {
	c := newHTTPClient(baseURL, timeout)
	c.SetHeader("anthropic-version", anthropicVersion)
	return &AnthropicClient{http: c}
}

func (c *AnthropicClient) Name() ProviderName { return ProviderAnthropic }

// Close releases idle connections.
func (c *AnthropicClient) Close() error { return c.http.Close() }

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicContent struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

func toAnthropicMessages(turns []Turn) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(turns))
	for _, t := range turns {
		msg := anthropicMessage{Role: string(t.Role)}
		for _, p := range t.Parts {
			switch p.Type {
			case PartText:
				msg.Content = append(msg.Content, anthropicContent{Type: "text", Text: p.Text})
			case PartImage:
				msg.Content = append(msg.Content, anthropicContent{
					Type:   "image",
					Source: &anthropicSource{Type: "base64", MediaType: p.MediaType, Data: p.Data},
				})
			}
		}
		out = append(out, msg)
	}
	return out
}

func (c *AnthropicClient) request(apiKey string) *resty.Request {
	r := c.http.R()
	r.SetHeader("x-api-key", apiKey)
	return r
}

// Complete implements Provider.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	payload := map[string]any{
		"model":       req.Model,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"messages":    toAnthropicMessages(req.Turns),
	}
	if req.System != "" {
		payload["system"] = req.System
	}

	raw, err := post(ctx, ProviderAnthropic, c.request(req.APIKey), "/v1/messages", payload)
	if err != nil {
		return "", err
	}
	var res anthropicResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode anthropic reply: %w", err)
	}
	var b strings.Builder
	for _, part := range res.Content {
		if part.Type == "text" {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyReply
	}
	return b.String(), nil
}

// Forward implements Provider.
func (c *AnthropicClient) Forward(ctx context.Context, providerModel string, req ProxyRequest) (json.RawMessage, error) {
	payload := map[string]any{
		"model":      providerModel,
		"max_tokens": req.MaxTokens,
		"messages":   req.Messages,
	}
	if req.System != "" {
		payload["system"] = req.System
	}
	return post(ctx, ProviderAnthropic, c.request(req.APIKey), "/v1/messages", payload)
}
