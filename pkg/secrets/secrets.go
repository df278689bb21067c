package secrets

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"cad-copilot/backend/pkg/logger"
)

// Manager provides access to named credentials
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// SetSecret stores a secret for the lifetime of the process
	SetSecret(ctx context.Context, key, value string) error
}

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrEmptyKey       = errors.New("secret key is empty")
)

// Backend is a read-only secret source consulted after the in-memory values.
type Backend interface {
	Lookup(ctx context.Context, key string) (string, error)
}

// Store layers user-supplied values over an optional backend and the
// environment. Values set at runtime are only held in memory.
type Store struct {
	mu      sync.RWMutex
	values  map[string]string
	backend Backend
	log     *logger.Logger
}

// NewStore creates a Store. backend may be nil.
func NewStore(backend Backend, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{values: make(map[string]string), backend: backend, log: log}
}

// SetSecret implements Manager. An empty value removes the key.
func (s *Store) SetSecret(_ context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.values, key)
		return nil
	}
	s.values[key] = value
	s.log.Info("secret updated", "key", key, "value", logger.Redact(value))
	return nil
}

// GetSecret implements Manager.
func (s *Store) GetSecret(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}

	if s.backend != nil {
		v, err := s.backend.Lookup(ctx, key)
		switch {
		case err == nil && v != "":
			return v, nil
		case err != nil && !errors.Is(err, ErrSecretNotFound):
			s.log.Warn("secret backend lookup failed, falling back to environment", "key", key, "error", err.Error())
		}
	}
	return fromEnvironment(key)
}

// Has reports whether key resolves to a non-empty value.
func (s *Store) Has(ctx context.Context, key string) bool {
	v, err := s.GetSecret(ctx, key)
	return err == nil && v != ""
}

// fromEnvironment maps "anthropic_api_key" to ANTHROPIC_API_KEY.
func fromEnvironment(key string) (string, error) {
	envKey := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
	if v := os.Getenv(envKey); v != "" {
		return v, nil
	}
	return "", ErrSecretNotFound
}
