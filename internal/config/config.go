package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	LLM       LLMConfig
	Storage   StorageConfig
	Pipeline  PipelineConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	GeneratePerHour int
	StatusPerMin    int
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     int // seconds, per completion call
}

type StorageConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type PipelineConfig struct {
	MaxRetries  int // structured generation attempts per stage
	LeaseTTL    int // seconds, per-job processing lease
	TaskTimeout int // seconds, queue visibility window per stage
	Concurrency int
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("LLM_API_KEY")
	readSecret("STORAGE_ACCOUNT_ID")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("JWT_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = viper.BindEnv("llm.base_url", "LLM_BASE_URL")
	_ = viper.BindEnv("llm.model", "LLM_MODEL")
	_ = viper.BindEnv("llm.max_tokens", "LLM_MAX_TOKENS")
	_ = viper.BindEnv("llm.temperature", "LLM_TEMPERATURE")
	_ = viper.BindEnv("llm.timeout", "LLM_TIMEOUT")
	_ = viper.BindEnv("storage.account_id", "STORAGE_ACCOUNT_ID")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket_name", "STORAGE_BUCKET_NAME")
	_ = viper.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = viper.BindEnv("pipeline.max_retries", "PIPELINE_MAX_RETRIES")
	_ = viper.BindEnv("pipeline.lease_ttl", "PIPELINE_LEASE_TTL")
	_ = viper.BindEnv("pipeline.task_timeout", "PIPELINE_TASK_TIMEOUT")
	_ = viper.BindEnv("pipeline.concurrency", "PIPELINE_CONCURRENCY")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.generate_per_hour", 20)
	viper.SetDefault("ratelimit.status_per_min", 120)

	viper.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("llm.model", "llama-3.3-70b-versatile")
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.timeout", 60)

	// The task timeout is the queue's visibility window; it must cover the
	// worst case of a stage: max_retries sequential completion calls.
	viper.SetDefault("pipeline.max_retries", 10)
	viper.SetDefault("pipeline.lease_ttl", 900)
	viper.SetDefault("pipeline.task_timeout", 900)
	viper.SetDefault("pipeline.concurrency", 10)

	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: viper.GetInt("ratelimit.generate_per_hour"),
			StatusPerMin:    viper.GetInt("ratelimit.status_per_min"),
		},
		LLM: LLMConfig{
			APIKey:      viper.GetString("llm.api_key"),
			BaseURL:     viper.GetString("llm.base_url"),
			Model:       viper.GetString("llm.model"),
			MaxTokens:   viper.GetInt("llm.max_tokens"),
			Temperature: viper.GetFloat64("llm.temperature"),
			Timeout:     viper.GetInt("llm.timeout"),
		},
		Storage: StorageConfig{
			AccountID:       viper.GetString("storage.account_id"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			BucketName:      viper.GetString("storage.bucket_name"),
			PublicURL:       viper.GetString("storage.public_url"),
		},
		Pipeline: PipelineConfig{
			MaxRetries:  viper.GetInt("pipeline.max_retries"),
			LeaseTTL:    viper.GetInt("pipeline.lease_ttl"),
			TaskTimeout: viper.GetInt("pipeline.task_timeout"),
			Concurrency: viper.GetInt("pipeline.concurrency"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
