package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"resty.dev/v3"
)

// GeminiClient talks to the Generative Language API.
type GeminiClient struct {
	http *resty.Client
}

// NewGeminiClient creates a client for baseURL.
func NewGeminiClient(baseURL string, timeout time.Duration) *GeminiClient {
	return &GeminiClient{http: newHTTPClient(baseURL, timeout)}
}

func (c *GeminiClient) Name() ProviderName { return ProviderGemini }

// Close releases idle connections.
func (c *GeminiClient) Close() error { return c.http.Close() }

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func toGeminiContents(turns []Turn) []geminiContent {
	out := make([]geminiContent, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role != "user" {
			role = "model"
		}
		c := geminiContent{Role: role}
		for _, p := range t.Parts {
			switch p.Type {
			case PartText:
				c.Parts = append(c.Parts, geminiPart{Text: p.Text})
			case PartImage:
				c.Parts = append(c.Parts, geminiPart{InlineData: &geminiInlineData{MimeType: p.MediaType, Data: p.Data}})
			}
		}
		out = append(out, c)
	}
	return out
}

func (c *GeminiClient) request(apiKey string) *resty.Request {
	r := c.http.R()
	r.SetQueryParam("key", apiKey)
	return r
}

func generatePath(model string) string {
	return fmt.Sprintf("/v1beta/models/%s:generateContent", url.PathEscape(model))
}

// Complete implements Provider.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	payload := map[string]any{
		"contents": toGeminiContents(req.Turns),
		"generationConfig": map[string]any{
			"maxOutputTokens": req.MaxTokens,
			"temperature":     req.Temperature,
		},
	}
	if req.System != "" {
		payload["systemInstruction"] = geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	raw, err := post(ctx, ProviderGemini, c.request(req.APIKey), generatePath(req.Model), payload)
	if err != nil {
		return "", err
	}
	var res geminiResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode gemini reply: %w", err)
	}
	var b strings.Builder
	if len(res.Candidates) > 0 {
		for _, p := range res.Candidates[0].Content.Parts {
			b.WriteString(p.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyReply
	}
	return b.String(), nil
}

// Forward implements Provider. Messages are sent as contents.
func (c *GeminiClient) Forward(ctx context.Context, providerModel string, req ProxyRequest) (json.RawMessage, error) {
	payload := map[string]any{
		"contents": req.Messages,
		"generationConfig": map[string]any{
			"maxOutputTokens": req.MaxTokens,
		},
	}
	if req.System != "" {
		payload["systemInstruction"] = geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	return post(ctx, ProviderGemini, c.request(req.APIKey), generatePath(providerModel), payload)
}
