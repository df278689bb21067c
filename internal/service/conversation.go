package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cad-copilot/backend/internal/llm"
	"cad-copilot/backend/internal/models"
	"cad-copilot/backend/internal/orchestrator"
	"cad-copilot/backend/internal/session"
	"cad-copilot/backend/pkg/logger"
	"cad-copilot/backend/pkg/secrets"
)

var (
	ErrLogFull        = errors.New("session has reached the message limit")
	ErrInvalidMessage = errors.New("invalid message")
	ErrUnknownModel   = llm.ErrUnknownModel
)

// SessionStore persists sessions and their logs.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, limit int) ([]models.Session, error)
	UpdateSettings(ctx context.Context, s *models.Session) error
	DeleteSession(ctx context.Context, id string) error
	SaveLog(ctx context.Context, sessionID string, log []models.Message) error
	LoadLog(ctx context.Context, sessionID string) ([]models.Message, error)
}

// Defaults apply to new sessions.
type Defaults struct {
	AutoRetry     bool
	MaxRetryCount int
	MaxMessages   int
}

// ConversationService runs orchestration passes on session logs, one at a
// time per session. Logs live in the store only: every locked operation
// loads the current log, so replicas sharing a store and a distributed
// locker never work on a stale copy.
type ConversationService struct {
	store    SessionStore
	orch     *orchestrator.Orchestrator
	locker   session.Locker
	registry *llm.Registry
	secrets  secrets.Manager
	defaults Defaults
	logger   *logger.Logger
}

// NewConversationService wires a service. A nil logger discards output.
func NewConversationService(
	store SessionStore,
	orch *orchestrator.Orchestrator,
	locker session.Locker,
	registry *llm.Registry,
	secretStore secrets.Manager,
	defaults Defaults,
	log *logger.Logger,
) *ConversationService {
	if log == nil {
		log = logger.Nop()
	}
	return &ConversationService{
		store:    store,
		orch:     orch,
		locker:   locker,
		registry: registry,
		secrets:  secretStore,
		defaults: defaults,
		logger:   log,
	}
}

// CreateSession starts an empty conversation. An empty model selects the
// registry default.
func (s *ConversationService) CreateSession(ctx context.Context, model string) (*models.Session, error) {
	if model == "" {
		model = s.registry.DefaultModel()
	}
	if _, _, err := s.registry.Resolve(model); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &models.Session{
		ID:            uuid.New().String(),
		Model:         model,
		AutoRetry:     s.defaults.AutoRetry,
		MaxRetryCount: s.defaults.MaxRetryCount,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("session created", "session_id", sess.ID, "model", model)
	return sess, nil
}

// GetSession returns the session row, or repository.ErrSessionNotFound.
func (s *ConversationService) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return s.store.GetSession(ctx, id)
}

// ListSessions returns up to limit sessions (all when limit <= 0), most
// recently updated first.
func (s *ConversationService) ListSessions(ctx context.Context, limit int) ([]models.Session, error) {
	return s.store.ListSessions(ctx, limit)
}

// DeleteSession removes a session that is not running a pass.
func (s *ConversationService) DeleteSession(ctx context.Context, id string) error {
	release, err := s.locker.TryLock(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	return s.store.DeleteSession(ctx, id)
}

// Settings are the user-editable fields of a session.
type Settings struct {
	Model         *string
	AutoRetry     *bool
	MaxRetryCount *int
}

func (s *ConversationService) UpdateSettings(ctx context.Context, id string, in Settings) (*models.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Model != nil {
		if _, _, err := s.registry.Resolve(*in.Model); err != nil {
			return nil, err
		}
		sess.Model = *in.Model
	}
	if in.AutoRetry != nil {
		sess.AutoRetry = *in.AutoRetry
	}
	if in.MaxRetryCount != nil {
		if *in.MaxRetryCount < 0 {
			return nil, fmt.Errorf("%w: maxRetryCount must not be negative", ErrInvalidMessage)
		}
		sess.MaxRetryCount = *in.MaxRetryCount
	}
	if err := s.store.UpdateSettings(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// load reads the persisted log of a session.
func (s *ConversationService) load(ctx context.Context, id string) (*session.Log, error) {
	msgs, err := s.store.LoadLog(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load log: %w", err)
	}
	return session.NewLog(msgs), nil
}

// Messages returns the log of a session.
func (s *ConversationService) Messages(ctx context.Context, id string) ([]models.Message, error) {
	if _, err := s.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.Snapshot(), nil
}

// PassResult is the log after a pass and how the pass ended.
type PassResult struct {
	Messages []models.Message    `json:"messages"`
	Result   orchestrator.Result `json:"result"`
}

// withSession locks the session, loads its log, runs fn on it and persists
// the log whatever fn returns.
func (s *ConversationService) withSession(ctx context.Context, id string, fn func(*models.Session, *session.Log) error) ([]models.Message, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	release, err := s.locker.TryLock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	runErr := fn(sess, l)
	snapshot := l.Snapshot()
	if err := s.store.SaveLog(ctx, id, snapshot); err != nil {
		s.logger.WithSessionID(id).LogError(err, "failed to persist log")
		if runErr == nil {
			runErr = fmt.Errorf("save log: %w", err)
		}
	}
	return snapshot, runErr
}

// run executes one orchestration pass. Passes are not cancelled when the
// caller goes away; the model transport bounds their duration.
func (s *ConversationService) run(ctx context.Context, id string, pass func(context.Context, orchestrator.Pass) (orchestrator.Result, error)) (*PassResult, error) {
	var res orchestrator.Result
	msgs, err := s.withSession(ctx, id, func(sess *models.Session, l *session.Log) error {
		if s.defaults.MaxMessages > 0 && l.Len() >= s.defaults.MaxMessages {
			return ErrLogFull
		}
		p := orchestrator.Pass{
			SessionID: id,
			Log:       l,
			Settings: orchestrator.Settings{
				Model:         sess.Model,
				AutoRetry:     sess.AutoRetry,
				MaxRetryCount: sess.MaxRetryCount,
			},
		}
		var err error
		res, err = pass(context.WithoutCancel(ctx), p)
		return err
	})
	return &PassResult{Messages: msgs, Result: res}, err
}

// Send submits new input.
func (s *ConversationService) Send(ctx context.Context, id string, in orchestrator.Input) (*PassResult, error) {
	return s.run(ctx, id, func(ctx context.Context, p orchestrator.Pass) (orchestrator.Result, error) {
		return s.orch.Submit(ctx, p, in)
	})
}

// Rerun regenerates from the message at index.
func (s *ConversationService) Rerun(ctx context.Context, id string, index int) (*PassResult, error) {
	return s.run(ctx, id, func(ctx context.Context, p orchestrator.Pass) (orchestrator.Result, error) {
		return s.orch.Rerun(ctx, p, index)
	})
}

// RunCode evaluates edited code in place of the code message at index.
func (s *ConversationService) RunCode(ctx context.Context, id string, index int, code string) (*PassResult, error) {
	return s.run(ctx, id, func(ctx context.Context, p orchestrator.Pass) (orchestrator.Result, error) {
		return s.orch.RunCode(ctx, p, index, code)
	})
}

// Fix asks the model to fix the error at index.
func (s *ConversationService) Fix(ctx context.Context, id string, index int) (*PassResult, error) {
	return s.run(ctx, id, func(ctx context.Context, p orchestrator.Pass) (orchestrator.Result, error) {
		return s.orch.Fix(ctx, p, index)
	})
}

// ApplyRequest applies a request to the model at index.
func (s *ConversationService) ApplyRequest(ctx context.Context, id string, index int, req orchestrator.ApplyRequest) (*PassResult, error) {
	return s.run(ctx, id, func(ctx context.Context, p orchestrator.Pass) (orchestrator.Result, error) {
		return s.orch.Apply(ctx, p, index, req)
	})
}

// Refine sends a render of the model at index back to the model for an
// improved version of its code.
func (s *ConversationService) Refine(ctx context.Context, id string, index int, req orchestrator.RefineRequest) (*PassResult, error) {
	return s.run(ctx, id, func(ctx context.Context, p orchestrator.Pass) (orchestrator.Result, error) {
		return s.orch.Refine(ctx, p, index, req)
	})
}

// MessageEdit changes the content of a message. Nil fields are kept.
type MessageEdit struct {
	Text  *string
	Image *string
}

// UpdateMessage edits the message at index.
func (s *ConversationService) UpdateMessage(ctx context.Context, id string, index int, edit MessageEdit) ([]models.Message, error) {
	return s.withSession(ctx, id, func(_ *models.Session, l *session.Log) error {
		m, err := l.At(index)
		if err != nil {
			return err
		}
		if !m.Editable && m.Type != models.TypeCode {
			return fmt.Errorf("%w: message %d is not editable", ErrInvalidMessage, index)
		}
		if edit.Text != nil {
			m.Text = *edit.Text
		}
		if edit.Image != nil {
			m.Image = *edit.Image
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return l.ReplaceAt(index, m)
	})
}

// DeleteMessage removes the message at index.
func (s *ConversationService) DeleteMessage(ctx context.Context, id string, index int) ([]models.Message, error) {
	return s.withSession(ctx, id, func(_ *models.Session, l *session.Log) error {
		return l.DeleteAt(index)
	})
}

// SetVisibility hides or shows the message at index.
func (s *ConversationService) SetVisibility(ctx context.Context, id string, index int, hidden bool) ([]models.Message, error) {
	return s.withSession(ctx, id, func(_ *models.Session, l *session.Log) error {
		return l.SetHidden(index, hidden)
	})
}

// Models lists the models that can be selected.
func (s *ConversationService) Models() []llm.ModelEntry {
	return s.registry.Models()
}

// SetAPIKey stores a provider key in memory. The provider is detected from
// the key when not given.
func (s *ConversationService) SetAPIKey(ctx context.Context, provider llm.ProviderName, key string) (llm.ProviderName, error) {
	if provider == "" {
		detected, ok := llm.DetectProvider(key)
		if !ok {
			return "", fmt.Errorf("%w: cannot detect the provider of this API key", ErrInvalidMessage)
		}
		provider = detected
	}
	if _, ok := s.registry.Provider(provider); !ok {
		return "", fmt.Errorf("%w: unknown provider %q", ErrInvalidMessage, provider)
	}
	if err := s.secrets.SetSecret(ctx, provider.CredentialKey(), key); err != nil {
		return "", err
	}
	return provider, nil
}

// CredentialStatus reports which providers have a key configured.
func (s *ConversationService) CredentialStatus(ctx context.Context) map[llm.ProviderName]bool {
	out := make(map[llm.ProviderName]bool)
	for _, name := range []llm.ProviderName{llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderGemini} {
		if _, ok := s.registry.Provider(name); !ok {
			continue
		}
		v, err := s.secrets.GetSecret(ctx, name.CredentialKey())
		out[name] = err == nil && v != ""
	}
	return out
}
