// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (INFRAPILOT_ prefix, runtime override)
//  2. Config file (~/.infrapilot/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, generation model, embedder model
//   - Storage: PostgreSQL (templates, key map, resources, documents) and
//     Redis (session store, result queue), see storage.go
//   - Provisioning: downstream API base URL and service credentials
//   - Dialogue: intent similarity threshold, slot validation mode
//
// Sensitive values (passwords) are never logged. Validation lives in
// validation.go and uses sentinel errors for errors.Is checks.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidThreshold indicates the intent threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid intent threshold")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidRedisAddr indicates the Redis address is empty or malformed.
	ErrInvalidRedisAddr = errors.New("invalid Redis address")

	// ErrMissingProvisionURL indicates the provisioning API base URL is not set.
	ErrMissingProvisionURL = errors.New("missing provisioning API base URL")

	// ErrMissingProvisionCredentials indicates the service credentials are not set.
	ErrMissingProvisionCredentials = errors.New("missing provisioning API credentials")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Defaults.
const (
	// DefaultIntentThreshold is the minimum cosine similarity for an
	// intent match to be accepted by the resolver.
	DefaultIntentThreshold = 0.8

	// DefaultEmbedderModel is the default Gemini embedder model.
	// Output is truncated to 768 dimensions to match the pgvector schema.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultModelName is the default generation model for the free-form path.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultResultQueue is the Redis list the ingestion consumer pops from.
	DefaultResultQueue = "provision:results"

	// DefaultDocsTopK is the number of reference documents retrieved for
	// the free-form generation prompt.
	DefaultDocsTopK = 5
)

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider"`
	ModelName     string `mapstructure:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model"`

	// Dialogue engine
	IntentThreshold      float32 `mapstructure:"intent_threshold"`
	StrictSlotValidation bool    `mapstructure:"strict_slot_validation"`
	DocsTopK             int     `mapstructure:"docs_top_k"`

	// HTTP server
	ServerAddr string `mapstructure:"server_addr"`
	RateRPS    int    `mapstructure:"rate_rps"`
	RateBurst  int    `mapstructure:"rate_burst"`

	// Downstream provisioning API
	ProvisionBaseURL  string `mapstructure:"provision_base_url"`
	ProvisionUsername string `mapstructure:"provision_username"`
	ProvisionPassword string `mapstructure:"provision_password"`
	ProvisionInsecure bool   `mapstructure:"provision_insecure_skip_verify"`

	// PostgreSQL (see storage.go for DSN helpers)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Redis (session store + result queue)
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`

	// Ingestion consumer
	ResultQueue string `mapstructure:"result_queue"`
	LockPath    string `mapstructure:"lock_path"`

	// Tracing (optional; empty endpoint disables the exporter)
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
	Environment  string `mapstructure:"environment"`
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "openai/gpt-4o". If ModelName
// already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		// The googlegenai plugin registers models under "googleai".
		return "googleai/" + c.ModelName
	}
}

// Load reads configuration from file, environment, and defaults.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Config file: ~/.infrapilot/config.yaml (optional)
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".infrapilot"))
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Missing config file is fine; env and defaults apply.
	}

	// Environment overrides: INFRAPILOT_POSTGRES_HOST, INFRAPILOT_REDIS_ADDR, ...
	v.SetEnvPrefix("INFRAPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when present.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)

	v.SetDefault("intent_threshold", DefaultIntentThreshold)
	v.SetDefault("strict_slot_validation", false)
	v.SetDefault("docs_top_k", DefaultDocsTopK)

	v.SetDefault("server_addr", "127.0.0.1:8080")
	v.SetDefault("rate_rps", 10)
	v.SetDefault("rate_burst", 30)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "infrapilot")
	v.SetDefault("postgres_dbname", "infrapilot")
	v.SetDefault("postgres_sslmode", "disable")

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("session_ttl", 24*time.Hour)

	v.SetDefault("result_queue", DefaultResultQueue)
	v.SetDefault("lock_path", filepath.Join(os.TempDir(), "infrapilot-consumer.lock"))

	v.SetDefault("service_name", "infrapilot")
}
