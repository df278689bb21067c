package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cad-copilot/backend/pkg/logger"
	"cad-copilot/backend/shared/redis"
)

// ErrBusy means an orchestration pass is already running for the session.
var ErrBusy = errors.New("session is busy")

// Locker admits at most one orchestration pass per session.
type Locker interface {
	// TryLock returns ErrBusy when the session is held. The returned func
	// releases the lock and is safe to call more than once.
	TryLock(ctx context.Context, sessionID string) (func(), error)
}

// MemoryLocker guards sessions within one process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// TryLock implements Locker.
func (m *MemoryLocker) TryLock(_ context.Context, sessionID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[sessionID]; ok {
		return nil, ErrBusy
	}
	m.held[sessionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, sessionID)
			m.mu.Unlock()
		})
	}, nil
}

// RedisLocker guards sessions across replicas. The TTL bounds how long a
// crashed holder can block a session.
type RedisLocker struct {
	client *redis.RedisClient
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedisLocker(client *redis.RedisClient, ttl time.Duration, log *logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisLocker{client: client, ttl: ttl, log: log}
}

func lockKey(sessionID string) string {
	return "cad-copilot:session-lock:" + sessionID
}

// TryLock implements Locker.
func (r *RedisLocker) TryLock(ctx context.Context, sessionID string) (func(), error) {
	token := uuid.New().String()
	ok, err := r.client.SetNX(ctx, lockKey(sessionID), token, r.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := r.client.CompareAndDelete(ctx, lockKey(sessionID), token); err != nil {
				r.log.Warn("failed to release session lock", "session_id", sessionID, "error", err.Error())
			}
		})
	}, nil
}
