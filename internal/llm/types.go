// Package llm adapts conversation histories to model provider APIs.
package llm

import (
	"context"
	"encoding/json"

	"cad-copilot/backend/internal/models"
)

// PartType discriminates content parts.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is one piece of a turn's content.
type Part struct {
	Type      PartType `json:"type"`
	Text      string   `json:"text,omitempty"`
	MediaType string   `json:"mediaType,omitempty"`
	// Data is base64 without the data URL prefix.
	Data string `json:"data,omitempty"`
}

// Turn is one role-attributed unit sent to a provider.
type Turn struct {
	Role  models.Role `json:"role"`
	Parts []Part      `json:"parts"`
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	System      string
	Turns       []Turn
	MaxTokens   int
	Temperature float64
	APIKey      string
}

// ProxyRequest is a pass-through call whose messages are already in the
// provider's own schema.
type ProxyRequest struct {
	Model     string          `json:"model"`
	System    string          `json:"system,omitempty"`
	Messages  json.RawMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	APIKey    string          `json:"api_key,omitempty"`
}

// Provider is a concrete model backend.
type Provider interface {
	Name() ProviderName
	// Complete returns the text of the reply.
	Complete(ctx context.Context, req Request) (string, error)
	// Forward sends req as-is and returns the raw provider reply.
	Forward(ctx context.Context, providerModel string, req ProxyRequest) (json.RawMessage, error)
}
