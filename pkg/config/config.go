package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
		BaseURL string
		Version string
	}

	// Database configuration
	Database struct {
		Driver     string
		Host       string
		Port       string
		User       string
		Password   string
		Name       string
		SSLMode    string
		SQLitePath string
		MaxConns   int
		Timeout    time.Duration
	}

	// Redis backs the cross-instance session lock
	Redis struct {
		Enabled  bool
		Addr     string
		Password string
		DB       int
		LockTTL  time.Duration
	}

	// JWT configuration
	JWT struct {
		Secret      string
		ExpiryHours time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		TrustedProxies []string
		MaxBodySize    int64
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Model backend settings
	LLM struct {
		DefaultModel     string
		MaxTokens        int
		Temperature      float64
		RequestTimeout   time.Duration
		AnthropicBaseURL string
		OpenAIBaseURL    string
		GeminiBaseURL    string
	}

	// Retry loop defaults for new sessions
	Orchestrator struct {
		AutoRetry     bool
		MaxRetryCount int
	}

	// Code evaluation limits
	Sandbox struct {
		Timeout          time.Duration
		MaxCallStackSize int
	}

	// Vault holds provider API keys
	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Mount       string
		SecretsPath string
	}

	Observability struct {
		ServiceName    string
		MetricsPort    string
		TracingEnabled bool
	}

	GRPC struct {
		Enabled bool
		Port    string
	}

	// Feature flags
	Features struct {
		EnableWebSockets        bool
		EnableOpenAPIValidation bool
		EnableSessionTokens     bool
		MaxMessagesPerSession   int
	}

	// Evaluation cache settings
	Cache struct {
		Enabled     bool
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}
}

var (
	instance *Config
	once     sync.Once
)

// New returns the process-wide Config, loading .env and the environment
// on first use.
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		_ = godotenv.Load()
		instance = Load()
	})

	return instance
}

// Load builds a Config from the current environment.
func Load() *Config {
	c := &Config{}

	// Server config
	c.Server.Port = getEnvString("PORT", "8081")
	c.Server.Env = getEnvString("APP_ENV", "development")
	c.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 120*time.Second)
	c.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+c.Server.Port)
	c.Server.Version = getEnvString("APP_VERSION", "dev")

	// Database config
	c.Database.Driver = getEnvString("DB_DRIVER", "postgres")
	c.Database.Host = getEnvString("DB_HOST", "localhost")
	c.Database.Port = getEnvString("DB_PORT", "5432")
	c.Database.User = getEnvString("DB_USER", "postgres")
	c.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	c.Database.Name = getEnvString("DB_NAME", "cad-copilot")
	c.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	c.Database.SQLitePath = getEnvString("DB_SQLITE_PATH", "cad-copilot.db")
	c.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	c.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

	// Redis config
	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", false)
	c.Redis.Addr = getEnvString("REDIS_ADDR", "localhost:6379")
	c.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	c.Redis.DB = getEnvInt("REDIS_DB", 0)
	c.Redis.LockTTL = getEnvDuration("REDIS_LOCK_TTL", 10*time.Minute)

	// JWT config
	c.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
	c.JWT.ExpiryHours = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

	// Security config
	c.Security.RateLimit = getEnvFloat("RATE_LIMIT", 2)
	c.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 5)
	c.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	c.Security.TrustedProxies = getEnvStringSlice("TRUSTED_PROXIES", []string{"127.0.0.1"})
	c.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 20<<20) // images travel as data URLs

	// Logging config
	c.Logging.Level = getEnvString("LOG_LEVEL", "info")
	c.Logging.Format = getEnvString("LOG_FORMAT", "json")

	// Model backend
	c.LLM.DefaultModel = getEnvString("LLM_DEFAULT_MODEL", "claude-3.5")
	c.LLM.MaxTokens = getEnvInt("LLM_MAX_TOKENS", 1000)
	c.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", 0)
	c.LLM.RequestTimeout = getEnvDuration("LLM_REQUEST_TIMEOUT", 90*time.Second)
	c.LLM.AnthropicBaseURL = getEnvString("ANTHROPIC_BASE_URL", "https://api.anthropic.com")
	c.LLM.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", "https://api.openai.com")
	c.LLM.GeminiBaseURL = getEnvString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")

	// Orchestrator
	c.Orchestrator.AutoRetry = getEnvBool("AUTO_RETRY", true)
	c.Orchestrator.MaxRetryCount = getEnvInt("MAX_RETRY_COUNT", 4)

	// Sandbox
	c.Sandbox.Timeout = getEnvDuration("SANDBOX_TIMEOUT", 5*time.Second)
	c.Sandbox.MaxCallStackSize = getEnvInt("SANDBOX_MAX_CALL_STACK", 1024)

	// Vault
	c.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	c.Vault.Address = getEnvString("VAULT_ADDR", "http://localhost:8200")
	c.Vault.Token = getEnvString("VAULT_TOKEN", "")
	c.Vault.Mount = getEnvString("VAULT_MOUNT", "secret")
	c.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "cad-copilot")

	// Observability
	c.Observability.ServiceName = getEnvString("SERVICE_NAME", "cad-copilot")
	c.Observability.MetricsPort = getEnvString("METRICS_PORT", "2112")
	c.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)

	// gRPC health endpoint
	c.GRPC.Enabled = getEnvBool("GRPC_ENABLED", true)
	c.GRPC.Port = getEnvString("GRPC_PORT", "50051")

	// Feature flags
	c.Features.EnableWebSockets = getEnvBool("ENABLE_WEBSOCKETS", true)
	c.Features.EnableOpenAPIValidation = getEnvBool("ENABLE_OPENAPI_VALIDATION", true)
	c.Features.EnableSessionTokens = getEnvBool("ENABLE_SESSION_TOKENS", true)
	c.Features.MaxMessagesPerSession = getEnvInt("MAX_MESSAGES_PER_SESSION", 1000)

	// Cache settings
	c.Cache.Enabled = getEnvBool("CACHE_ENABLED", true)
	c.Cache.TTL = getEnvDuration("CACHE_TTL", 30*time.Minute)
	c.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 256)
	c.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)

	return c
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
