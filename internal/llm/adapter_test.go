package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cad-copilot/backend/internal/models"
)

type staticCredentials map[string]string

func (s staticCredentials) GetSecret(_ context.Context, key string) (string, error) {
	if v, ok := s[key]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

func msg(role models.Role, typ models.MessageType, text string) models.Message {
	return models.Message{ID: "m", Role: role, Type: typ, Text: text}
}

func TestBuildTurnsMapsVariants(t *testing.T) {
	desc := models.ErrorDescriptor{Kind: "TypeError", Message: "nope", Line: 2}
	history := []models.Message{
		msg(models.RoleSystem, models.TypeText, "be brief"),
		msg(models.RoleUser, models.TypeText, "a cube"),
		{Role: models.RoleUser, Type: models.TypeImage, Label: models.LabelSketch, Image: "data:image/jpeg;base64,QUJD"},
		msg(models.RoleAssistant, models.TypeCode, "return main()"),
		{Role: models.RoleUser, Type: models.TypeError, Error: &desc},
		{Role: models.RoleUser, Type: models.TypeModelResult, Result: &models.ModelResult{}},
		msg(models.RoleSystem, models.TypeText, "use metric units"),
	}

	system, turns, err := BuildTurns(history)
	require.NoError(t, err)
	assert.Equal(t, "be brief\nuse metric units", system)

	require.Len(t, turns, 3)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	require.Len(t, turns[0].Parts, 2)
	assert.Equal(t, Part{Type: PartImage, MediaType: "image/jpeg", Data: "QUJD"}, turns[0].Parts[1])

	assert.Equal(t, models.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Here is the code used:\n\n```javascript\nreturn main()\n```", turns[1].Parts[0].Text)

	assert.Equal(t, models.RoleUser, turns[2].Role)
	require.Len(t, turns[2].Parts, 1)
	assert.Equal(t, "This is the error message from the code above:\n\n```\nTypeError: nope at 2\n```", turns[2].Parts[0].Text)
}

func TestBuildTurnsRejectsUnknownType(t *testing.T) {
	_, _, err := BuildTurns([]models.Message{{ID: "x", Role: models.RoleUser, Type: "video"}})
	assert.Error(t, err)
}

func TestMergeTurnsNoAdjacentSameRole(t *testing.T) {
	in := []Turn{
		{Role: models.RoleUser, Parts: []Part{{Type: PartText, Text: "1"}}},
		{Role: models.RoleUser, Parts: []Part{{Type: PartText, Text: "2"}}},
		{Role: models.RoleAssistant, Parts: []Part{{Type: PartText, Text: "3"}}},
		{Role: models.RoleAssistant, Parts: []Part{{Type: PartText, Text: "4"}}},
		{Role: models.RoleUser, Parts: []Part{{Type: PartText, Text: "5"}}},
	}

	out := MergeTurns(in)
	require.Len(t, out, 3)
	var order []string
	for i, turn := range out {
		if i > 0 {
			assert.NotEqual(t, out[i-1].Role, turn.Role)
		}
		for _, p := range turn.Parts {
			order = append(order, p.Text)
		}
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, order)
	assert.Len(t, in[0].Parts, 1, "input must not be modified")
}

func TestSendMissingCredential(t *testing.T) {
	reg := NewRegistry("claude-3.5", DefaultModels, NewAnthropicClient("http://127.0.0.1:1", time.Second))
	a := NewAdapter(reg, staticCredentials{}, AdapterOptions{})

	_, err := a.Send(context.Background(), []models.Message{msg(models.RoleUser, models.TypeText, "hi")}, "claude-3.5")
	var missing *MissingCredentialError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, ProviderAnthropic, missing.Provider)
	assert.Equal(t, "Please provide an API key in `api_key` to use the API.", missing.DeveloperMessage())
}

func TestSendUnknownModel(t *testing.T) {
	reg := NewRegistry("claude-3.5", DefaultModels, NewAnthropicClient("http://127.0.0.1:1", time.Second))
	a := NewAdapter(reg, staticCredentials{}, AdapterOptions{})

	_, err := a.Send(context.Background(), nil, "llama-9000")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestSendAnthropicRoundTrip(t *testing.T) {
	var payload map[string]any
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"` + "```javascript\\nreturn main()\\n```" + `"}]}`))
	}))
	defer server.Close()

	reg := NewRegistry("claude-3.5", DefaultModels, NewAnthropicClient(server.URL, 5*time.Second))
	a := NewAdapter(reg, staticCredentials{"anthropic_api_key": "sk-ant-test"}, AdapterOptions{MaxTokens: 1000})

	history := []models.Message{
		msg(models.RoleSystem, models.TypeText, "system text"),
		msg(models.RoleUser, models.TypeText, "a cube"),
		msg(models.RoleUser, models.TypeText, "make it red"),
	}
	reply, err := a.Send(context.Background(), history, "")
	require.NoError(t, err)
	assert.Equal(t, "```javascript\nreturn main()\n```", reply)

	assert.Equal(t, "sk-ant-test", headers.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, headers.Get("anthropic-version"))
	assert.Equal(t, "claude-3-5-sonnet-20240620", payload["model"])
	assert.Equal(t, "system text", payload["system"])
	assert.Equal(t, float64(1000), payload["max_tokens"])
	assert.Equal(t, float64(0), payload["temperature"])

	msgs := payload["messages"].([]any)
	require.Len(t, msgs, 1)
	content := msgs[0].(map[string]any)["content"].([]any)
	assert.Len(t, content, 2)
}

func TestSendMapsProviderStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusBadGateway, ErrUnavailable},
		{http.StatusBadRequest, ErrRejected},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer server.Close()

			reg := NewRegistry("gpt-4o", DefaultModels, NewOpenAIClient(server.URL, 5*time.Second))
			a := NewAdapter(reg, staticCredentials{"openai_api_key": "sk-test"}, AdapterOptions{})

			_, err := a.Send(context.Background(), []models.Message{msg(models.RoleUser, models.TypeText, "hi")}, "gpt-4o")
			var perr *ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.status, perr.StatusCode)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestForwardUsesBodyKey(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		_, _ = w.Write([]byte(`{"id":"msg_1","content":[{"type":"text","text":"hi"}]}`))
	}))
	defer server.Close()

	reg := NewRegistry("claude-3.5", DefaultModels, NewAnthropicClient(server.URL, 5*time.Second))
	a := NewAdapter(reg, staticCredentials{}, AdapterOptions{})

	raw, err := a.Forward(context.Background(), ProxyRequest{
		Model:    "claude-3-haiku",
		Messages: json.RawMessage(`[{"role":"user","content":"hi"}]`),
		APIKey:   "sk-ant-body",
	})
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-body", gotKey)
	assert.JSONEq(t, `{"id":"msg_1","content":[{"type":"text","text":"hi"}]}`, string(raw))

	_, err = a.Forward(context.Background(), ProxyRequest{Model: "claude-3-haiku", Messages: json.RawMessage(`[]`)})
	var missing *MissingCredentialError
	assert.ErrorAs(t, err, &missing)
}
