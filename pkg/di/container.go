package di

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"cad-copilot/backend/internal/llm"
	"cad-copilot/backend/internal/orchestrator"
	"cad-copilot/backend/internal/repository"
	"cad-copilot/backend/internal/sandbox"
	"cad-copilot/backend/internal/service"
	"cad-copilot/backend/internal/session"
	"cad-copilot/backend/internal/ws"
	"cad-copilot/backend/pkg/cache"
	"cad-copilot/backend/pkg/config"
	"cad-copilot/backend/pkg/health"
	"cad-copilot/backend/pkg/jwt"
	"cad-copilot/backend/pkg/logger"
	"cad-copilot/backend/pkg/secrets"
	"cad-copilot/backend/shared/redis"
)

// Container holds all the dependencies for the application
type Container struct {
	Config              *config.Config
	DB                  *gorm.DB
	Logger              *logger.Logger
	JWTService          *jwt.Service
	Sessions            *repository.SessionRepository
	Secrets             *secrets.Store
	Redis               *redis.RedisClient
	Locker              session.Locker
	EvalCache           *cache.Cache[sandbox.Outcome]
	Evaluator           *sandbox.Evaluator
	Registry            *llm.Registry
	Adapter             *llm.Adapter
	Orchestrator        *orchestrator.Orchestrator
	Hub                 *ws.Hub
	ConversationService *service.ConversationService
	Health              *health.Checker

	providers []interface{ Close() error }
}

// New creates a new dependency injection container
func New(cfg *config.Config, db *gorm.DB, log *logger.Logger) (*Container, error) {
	if log == nil {
		log = logger.New(logger.DefaultConfig())
	}

	sessions := repository.NewSessionRepository(db)
	if err := sessions.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate sessions: %w", err)
	}

	// Provider keys: memory first, then Vault, then the environment
	var backend secrets.Backend
	if cfg.Vault.Enabled {
		vault, err := secrets.NewVaultBackend(secrets.VaultConfigFromConfig(cfg), log)
		if err != nil {
			return nil, fmt.Errorf("failed to create vault backend: %w", err)
		}
		backend = vault
	}
	secretStore := secrets.NewStore(backend, log)

	var (
		redisClient *redis.RedisClient
		locker      session.Locker = session.NewMemoryLocker()
	)
	if cfg.Redis.Enabled {
		redisClient = redis.NewRedisClient(cfg)
		locker = session.NewRedisLocker(redisClient, cfg.Redis.LockTTL, log)
	}

	var evalCache *cache.Cache[sandbox.Outcome]
	if cfg.Cache.Enabled {
		evalCache = cache.New[sandbox.Outcome](cache.OptionsFromConfig(cfg))
	}
	evaluator := sandbox.New(sandbox.Options{
		Timeout:          cfg.Sandbox.Timeout,
		MaxCallStackSize: cfg.Sandbox.MaxCallStackSize,
		Cache:            evalCache,
		Logger:           log,
	})

	anthropic := llm.NewAnthropicClient(cfg.LLM.AnthropicBaseURL, cfg.LLM.RequestTimeout)
	openai := llm.NewOpenAIClient(cfg.LLM.OpenAIBaseURL, cfg.LLM.RequestTimeout)
	gemini := llm.NewGeminiClient(cfg.LLM.GeminiBaseURL, cfg.LLM.RequestTimeout)
	registry := llm.NewRegistry(cfg.LLM.DefaultModel, llm.DefaultModels, anthropic, openai, gemini)
	adapter := llm.NewAdapter(registry, secretStore, llm.AdapterOptions{
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Logger:      log,
	})

	hub := ws.NewHub(nil, log)
	orch := orchestrator.New(adapter, evaluator, orchestrator.Options{Sink: hub, Logger: log})
	conversations := service.NewConversationService(sessions, orch, locker, registry, secretStore, service.Defaults{
		AutoRetry:     cfg.Orchestrator.AutoRetry,
		MaxRetryCount: cfg.Orchestrator.MaxRetryCount,
		MaxMessages:   cfg.Features.MaxMessagesPerSession,
	}, log)
	hub.SetSource(conversations)

	checker := health.NewChecker(log, 30*time.Second)
	checker.RegisterDatabaseCheck(func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	if redisClient != nil {
		checker.RegisterRedisCheck(redisClient.Ping)
	}
	checker.RegisterBreakerCheck("llm", adapter.OpenCircuits)

	return &Container{
		Config:              cfg,
		DB:                  db,
		Logger:              log,
		JWTService:          jwt.NewService(cfg.JWT.Secret, cfg.JWT.ExpiryHours),
		Sessions:            sessions,
		Secrets:             secretStore,
		Redis:               redisClient,
		Locker:              locker,
		EvalCache:           evalCache,
		Evaluator:           evaluator,
		Registry:            registry,
		Adapter:             adapter,
		Orchestrator:        orch,
		Hub:                 hub,
		ConversationService: conversations,
		Health:              checker,
		providers:           []interface{ Close() error }{anthropic, openai, gemini},
	}, nil
}

// Close releases clients held by the container.
func (c *Container) Close() {
	for _, p := range c.providers {
		_ = p.Close()
	}
	if c.EvalCache != nil {
		c.EvalCache.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.LogError(err, "Failed to close redis client")
		}
	}
}
