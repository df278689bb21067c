package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"cad-copilot/backend/internal/models"
	"cad-copilot/backend/pkg/logger"
	"cad-copilot/backend/pkg/resilience"
)

// CredentialStore yields provider API keys.
type CredentialStore interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// BuildTurns maps a history to a system prompt and a role-merged turn
// sequence. System messages never become turns.
func BuildTurns(history []models.Message) (string, []Turn, error) {
	var system []string
	turns := make([]Turn, 0, len(history))
	for _, m := range history {
		if m.Role == models.RoleSystem {
			if m.Type == models.TypeText && m.Text != "" {
				system = append(system, m.Text)
			}
			continue
		}
		parts, err := mapMessage(m)
		if err != nil {
			return "", nil, err
		}
		if len(parts) == 0 {
			continue
		}
		role := models.RoleAssistant
		if m.Role == models.RoleUser {
			role = models.RoleUser
		}
		turns = append(turns, Turn{Role: role, Parts: parts})
	}
	return strings.Join(system, "\n"), MergeTurns(turns), nil
}

func mapMessage(m models.Message) ([]Part, error) {
	switch m.Type {
	case models.TypeText:
		if m.Text == "" {
			return nil, nil
		}
		return []Part{{Type: PartText, Text: m.Text}}, nil
	case models.TypeImage:
		media, data := splitDataURL(m.Image)
		if data == "" {
			return nil, nil
		}
		return []Part{{Type: PartImage, MediaType: media, Data: data}}, nil
	case models.TypeCode:
		return []Part{{Type: PartText, Text: "Here is the code used:\n\n```javascript\n" + m.Text + "\n```"}}, nil
	case models.TypeError:
		return []Part{{Type: PartText, Text: "This is the error message from the code above:\n\n```\n" + m.ErrorText() + "\n```"}}, nil
	case models.TypeModelResult:
		return nil, nil
	default:
		return nil, fmt.Errorf("cannot map message %s of type %q", m.ID, m.Type)
	}
}

// splitDataURL returns the media type and base64 payload of a data URL.
func splitDataURL(u string) (string, string) {
	const defaultMedia = "image/png"
	if !strings.HasPrefix(u, "data:") {
		return defaultMedia, u
	}
	meta, data, ok := strings.Cut(u, ",")
	if !ok {
		return defaultMedia, ""
	}
	media := strings.TrimPrefix(meta, "data:")
	media, _, _ = strings.Cut(media, ";")
	if media == "" {
		media = defaultMedia
	}
	return media, data
}

// MergeTurns folds consecutive same-role turns into one, keeping part order.
func MergeTurns(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if n := len(out); n > 0 && out[n-1].Role == t.Role {
			out[n-1].Parts = append(out[n-1].Parts, t.Parts...)
			continue
		}
		parts := make([]Part, len(t.Parts))
		copy(parts, t.Parts)
		out = append(out, Turn{Role: t.Role, Parts: parts})
	}
	return out
}

// AdapterOptions configures an Adapter.
type AdapterOptions struct {
	MaxTokens   int
	Temperature float64
	Logger      *logger.Logger
}

// Adapter sends histories to whichever provider serves the model.
type Adapter struct {
	registry    *Registry
	credentials CredentialStore
	maxTokens   int
	temperature float64
	breakers    map[ProviderName]*resilience.CircuitBreaker
	logger      *logger.Logger
	calls       metric.Int64Counter
}

// NewAdapter creates an Adapter.
func NewAdapter(registry *Registry, credentials CredentialStore, opts AdapterOptions) *Adapter {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	breakers := make(map[ProviderName]*resilience.CircuitBreaker)
	for _, name := range []ProviderName{ProviderAnthropic, ProviderOpenAI, ProviderGemini} {
		cfg := resilience.DefaultConfig("llm-" + string(name))
		cfg.IsFailure = func(err error) bool {
			return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited)
		}
		breakers[name] = resilience.NewCircuitBreaker(cfg, opts.Logger)
	}
	calls, _ := otel.Meter("cad-copilot/llm").Int64Counter("llm.requests",
		metric.WithDescription("Model backend requests by provider and outcome"))

	return &Adapter{
		registry:    registry,
		credentials: credentials,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		breakers:    breakers,
		logger:      opts.Logger,
		calls:       calls,
	}
}

// Registry exposes the model catalogue.
func (a *Adapter) Registry() *Registry { return a.registry }

// Breakers returns a snapshot of each provider's circuit breaker.
func (a *Adapter) Breakers() map[ProviderName]resilience.Snapshot {
	out := make(map[ProviderName]resilience.Snapshot, len(a.breakers))
	for name, b := range a.breakers {
		out[name] = b.Snapshot()
	}
	return out
}

// OpenCircuits names the providers whose breaker is open.
func (a *Adapter) OpenCircuits() []string {
	var open []string
	for name, b := range a.breakers {
		if b.State() == resilience.StateOpen {
			open = append(open, string(name))
		}
	}
	sort.Strings(open)
	return open
}

func (a *Adapter) apiKey(ctx context.Context, provider ProviderName, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if a.credentials == nil {
		return "", &MissingCredentialError{Provider: provider}
	}
	key, err := a.credentials.GetSecret(ctx, provider.CredentialKey())
	if err != nil || key == "" {
		return "", &MissingCredentialError{Provider: provider}
	}
	return key, nil
}

// Send maps history and returns the reply text from the model's provider.
func (a *Adapter) Send(ctx context.Context, history []models.Message, model string) (string, error) {
	entry, provider, err := a.registry.Resolve(model)
	if err != nil {
		return "", err
	}
	key, err := a.apiKey(ctx, entry.Provider, "")
	if err != nil {
		return "", err
	}
	system, turns, err := BuildTurns(history)
	if err != nil {
		return "", err
	}

	req := Request{
		Model:       entry.ProviderID,
		System:      system,
		Turns:       turns,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		APIKey:      key,
	}

	var reply string
	err = a.call(ctx, entry, "complete", func(ctx context.Context) error {
		var err error
		reply, err = provider.Complete(ctx, req)
		return err
	})
	return reply, err
}

// Forward proxies a raw request. The body's api_key wins over the store.
func (a *Adapter) Forward(ctx context.Context, req ProxyRequest) ([]byte, error) {
	entry, provider, err := a.registry.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	key, err := a.apiKey(ctx, entry.Provider, req.APIKey)
	if err != nil {
		return nil, err
	}
	req.APIKey = key
	if req.MaxTokens <= 0 {
		req.MaxTokens = a.maxTokens
	}

	var raw []byte
	err = a.call(ctx, entry, "forward", func(ctx context.Context) error {
		var err error
		raw, err = provider.Forward(ctx, entry.ProviderID, req)
		return err
	})
	return raw, err
}

func (a *Adapter) call(ctx context.Context, entry ModelEntry, op string, fn func(context.Context) error) error {
	ctx, span := otel.Tracer("cad-copilot/llm").Start(ctx, "llm."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", string(entry.Provider)),
		attribute.String("llm.model", entry.ProviderID),
	)

	err := a.breakers[entry.Provider].Execute(ctx, fn)

	outcome := "success"
	if err != nil {
		outcome = "error"
		span.SetStatus(codes.Error, err.Error())
		var perr *ProviderError
		if !errors.As(err, &perr) {
			kind := ErrUnavailable
			if errors.Is(err, ErrEmptyReply) {
				kind = ErrEmptyReply
			}
			err = &ProviderError{Provider: entry.Provider, Kind: kind, Cause: err}
		}
		a.logger.Warn("model request failed", "provider", entry.Provider, "model", entry.ProviderID, "error", err.Error())
	}
	a.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(entry.Provider)),
		attribute.String("outcome", outcome),
	))
	return err
}
