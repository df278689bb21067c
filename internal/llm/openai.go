package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"resty.dev/v3"
)

// OpenAIClient talks to the Chat Completions API.
type OpenAIClient struct {
	http *resty.Client
}

// NewOpenAIClient creates a client for baseURL.
func NewOpenAIClient(baseURL string, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{http: newHTTPClient(baseURL, timeout)}
}

func (c *OpenAIClient) Name() ProviderName { return ProviderOpenAI }

// Close releases idle connections.
func (c *OpenAIClient) Close() error { return c.http.Close() }

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIContent struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func toOpenAIMessages(system string, turns []Turn) []openAIMessage {
	out := make([]openAIMessage, 0, len(turns)+1)
	if system != "" {
		out = append(out, openAIMessage{Role: "system", Content: system})
	}
	for _, t := range turns {
		parts := make([]openAIContent, 0, len(t.Parts))
		for _, p := range t.Parts {
			switch p.Type {
			case PartText:
				parts = append(parts, openAIContent{Type: "text", Text: p.Text})
			case PartImage:
				parts = append(parts, openAIContent{
					Type:     "image_url",
					ImageURL: &openAIImageURL{URL: "data:" + p.MediaType + ";base64," + p.Data},
				})
			}
		}
		out = append(out, openAIMessage{Role: string(t.Role), Content: parts})
	}
	return out
}

func (c *OpenAIClient) request(apiKey string) *resty.Request {
	r := c.http.R()
	r.SetHeader("Authorization", "Bearer "+apiKey)
	return r
}

// Complete implements Provider.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	payload := map[string]any{
		"model":       req.Model,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"messages":    toOpenAIMessages(req.System, req.Turns),
	}

	raw, err := post(ctx, ProviderOpenAI, c.request(req.APIKey), "/v1/chat/completions", payload)
	if err != nil {
		return "", err
	}
	var res openAIResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode openai reply: %w", err)
	}
	if len(res.Choices) == 0 || res.Choices[0].Message.Content == "" {
		return "", ErrEmptyReply
	}
	return res.Choices[0].Message.Content, nil
}

// Forward implements Provider. The system text becomes the leading
// system message.
func (c *OpenAIClient) Forward(ctx context.Context, providerModel string, req ProxyRequest) (json.RawMessage, error) {
	var msgs []json.RawMessage
	if len(req.Messages) > 0 {
		if err := json.Unmarshal(req.Messages, &msgs); err != nil {
			return nil, fmt.Errorf("messages must be an array: %w", err)
		}
	}
	if req.System != "" {
		sys, _ := json.Marshal(openAIMessage{Role: "system", Content: req.System})
		msgs = append([]json.RawMessage{sys}, msgs...)
	}
	payload := map[string]any{
		"model":      providerModel,
		"max_tokens": req.MaxTokens,
		"messages":   msgs,
	}
	return post(ctx, ProviderOpenAI, c.request(req.APIKey), "/v1/chat/completions", payload)
}
