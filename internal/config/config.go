package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Mode       string // "api", "worker", or "all"
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Server     ServerConfig
	Vault      VaultConfig
	LLM        LLMConfig
	Guard      GuardConfig
	Quota      QuotaConfig
	Worker     WorkerConfig
	Slack      SlackConfig
	SelfHosted bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// JWTConfig holds bearer-token verification settings. Tokens are issued by
// the external identity service; this process only verifies them.
type JWTConfig struct {
	Secret string //nolint:gosec // G117: JWT signing secret config
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// VaultConfig holds the credential encryption key.
type VaultConfig struct {
	// Key is the base64-encoded 32-byte AES key for credentials at rest.
	Key string //nolint:gosec // G117: encryption key config
}

// LLMConfig holds platform LLM settings. BYO providers are configured
// per-workspace in the database, not here.
type LLMConfig struct {
	// BaseURL points at an OpenAI-compatible chat-completions endpoint.
	BaseURL     string
	APIKey      string //nolint:gosec // G117: platform LLM key config
	Model       string
	GuardModel  string
	Temperature float32
	MaxTokens   int
}

// GuardConfig holds prompt-guard policy settings.
type GuardConfig struct {
	// FailClosed blocks admission when the guard itself is unavailable.
	// The default is fail-open with a recorded security event.
	FailClosed bool
	Timeout    time.Duration
}

// QuotaConfig holds admission quota settings.
type QuotaConfig struct {
	// DailyRCALimit is the fallback plan limit when the billing service
	// does not supply one.
	DailyRCALimit int
	// MaxQueueDepth triggers capacity backpressure at admission.
	MaxQueueDepth int64
}

// WorkerConfig holds orchestrator worker settings.
type WorkerConfig struct {
	Concurrency     int
	MaxTurnDuration time.Duration
	MaxSteps        int
	ToolTimeout     time.Duration
	BackoffBase     time.Duration
	MaxRetries      int
	ReconcileEvery  time.Duration
}

// SlackConfig holds Slack chat-surface settings.
type SlackConfig struct {
	BotToken      string
	SigningSecret string
	// WorkspaceID binds the Slack install to one workspace in self-hosted
	// single-tenant deployments.
	WorkspaceID string
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, vault key, DB password) must be set explicitly.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("CAUSEWAY_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("CAUSEWAY_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("CAUSEWAY_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("CAUSEWAY_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("CAUSEWAY_SERVER_WRITE_TIMEOUT", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	guardFailClosed, err := getEnvBool("CAUSEWAY_GUARD_FAIL_CLOSED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	guardTimeout, err := getEnvDuration("CAUSEWAY_GUARD_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dailyLimit, err := getEnvInt("CAUSEWAY_QUOTA_DAILY_RCA_LIMIT", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxQueueDepth, err := getEnvInt("CAUSEWAY_QUOTA_MAX_QUEUE_DEPTH", 1000)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	concurrency, err := getEnvInt("CAUSEWAY_WORKER_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxTurnDuration, err := getEnvDuration("CAUSEWAY_WORKER_MAX_TURN_DURATION", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxSteps, err := getEnvInt("CAUSEWAY_WORKER_MAX_STEPS", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	toolTimeout, err := getEnvDuration("CAUSEWAY_WORKER_TOOL_TIMEOUT", 20*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	backoffBase, err := getEnvDuration("CAUSEWAY_WORKER_BACKOFF_BASE", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxRetries, err := getEnvInt("CAUSEWAY_WORKER_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	reconcileEvery, err := getEnvDuration("CAUSEWAY_WORKER_RECONCILE_EVERY", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	temperature, err := getEnvFloat("CAUSEWAY_LLM_TEMPERATURE", 0.1)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	llmMaxTokens, err := getEnvInt("CAUSEWAY_LLM_MAX_TOKENS", 4096)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	selfHosted, err := getEnvBool("CAUSEWAY_SELF_HOSTED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("CAUSEWAY_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Mode: getEnv("CAUSEWAY_MODE", "all"),
		Database: DatabaseConfig{
			Host:     getEnv("CAUSEWAY_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("CAUSEWAY_DB_USER", "causeway"),
			Password: getEnv("CAUSEWAY_DB_PASSWORD", ""),
			DBName:   getEnv("CAUSEWAY_DB_NAME", "causeway_dev"),
			SSLMode:  getEnv("CAUSEWAY_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("CAUSEWAY_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("CAUSEWAY_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret: getEnv("CAUSEWAY_JWT_SECRET", ""),
		},
		Server: ServerConfig{
			Addr:         getEnv("CAUSEWAY_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		Vault: VaultConfig{
			Key: getEnv("CAUSEWAY_VAULT_KEY", ""),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("CAUSEWAY_LLM_BASE_URL", "https://api.groq.com/openai/v1"),
			APIKey:      getEnv("CAUSEWAY_LLM_API_KEY", ""),
			Model:       getEnv("CAUSEWAY_LLM_MODEL", "llama-3.3-70b-versatile"),
			GuardModel:  getEnv("CAUSEWAY_LLM_GUARD_MODEL", "llama-3.1-8b-instant"),
			Temperature: temperature,
			MaxTokens:   llmMaxTokens,
		},
		Guard: GuardConfig{
			FailClosed: guardFailClosed,
			Timeout:    guardTimeout,
		},
		Quota: QuotaConfig{
			DailyRCALimit: dailyLimit,
			MaxQueueDepth: int64(maxQueueDepth),
		},
		Worker: WorkerConfig{
			Concurrency:     concurrency,
			MaxTurnDuration: maxTurnDuration,
			MaxSteps:        maxSteps,
			ToolTimeout:     toolTimeout,
			BackoffBase:     backoffBase,
			MaxRetries:      maxRetries,
			ReconcileEvery:  reconcileEvery,
		},
		Slack: SlackConfig{
			BotToken:      getEnv("CAUSEWAY_SLACK_BOT_TOKEN", ""),
			SigningSecret: getEnv("CAUSEWAY_SLACK_SIGNING_SECRET", ""),
			WorkspaceID:   getEnv("CAUSEWAY_SLACK_WORKSPACE_ID", ""),
		},
		SelfHosted: selfHosted,
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	switch c.Mode {
	case "api", "worker", "all":
	default:
		return fmt.Errorf("CAUSEWAY_MODE must be api, worker, or all, got %q", c.Mode)
	}

	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("CAUSEWAY_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("CAUSEWAY_JWT_SECRET must be at least 32 characters")
	}

	if c.Vault.Key == "" {
		return errors.New("CAUSEWAY_VAULT_KEY is required")
	}
	if _, err := c.Vault.KeyBytes(); err != nil {
		return err
	}

	// DB SSL mode warning for non-self-hosted deployments.
	if c.Database.SSLMode == "disable" && !c.SelfHosted {
		log.Warn().Msg("CAUSEWAY_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("CAUSEWAY_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("CAUSEWAY_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("CAUSEWAY_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	// WriteTimeout of zero is intentional: the stream endpoint holds
	// responses open for the lifetime of a turn.
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("CAUSEWAY_SERVER_WRITE_TIMEOUT must be >= 0, got %s", c.Server.WriteTimeout)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("CAUSEWAY_WORKER_CONCURRENCY must be >= 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxTurnDuration <= 0 {
		return fmt.Errorf("CAUSEWAY_WORKER_MAX_TURN_DURATION must be positive, got %s", c.Worker.MaxTurnDuration)
	}
	if c.Worker.MaxSteps < 1 {
		return fmt.Errorf("CAUSEWAY_WORKER_MAX_STEPS must be >= 1, got %d", c.Worker.MaxSteps)
	}
	if c.Quota.DailyRCALimit < 1 {
		return fmt.Errorf("CAUSEWAY_QUOTA_DAILY_RCA_LIMIT must be >= 1, got %d", c.Quota.DailyRCALimit)
	}

	return nil
}

// KeyBytes decodes the base64 vault key and checks its length.
func (v *VaultConfig) KeyBytes() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(v.Key)
	if err != nil {
		return nil, fmt.Errorf("CAUSEWAY_VAULT_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("CAUSEWAY_VAULT_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float32) (float32, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return float32(f), nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
