// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.tessera/config.yaml)
//  3. Default values
//
// Sensitive data (the PostgreSQL password) is never logged; MarshalJSON masks
// it. Validation uses sentinel errors so callers can check with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidChunking indicates chunk size/overlap values that would stall
	// the chunker (overlap >= size, or non-positive size).
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidConfidence indicates a graph confidence threshold outside [0,1].
	ErrInvalidConfidence = errors.New("invalid graph confidence threshold")

	// ErrInvalidTimeout indicates a non-positive generation timeout.
	ErrInvalidTimeout = errors.New("invalid generation timeout")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderGoogleAI = "googleai"
	ProviderCLI      = "cli"
)

// Defaults for the embedding and chunking pipeline.
const (
	// DefaultEmbedderModel outputs 3072 dimensions by default but supports
	// truncation to 768 via OutputDimensionality; the pgvector schema uses
	// 768 (see embed.Dimension).
	DefaultEmbedderModel = "gemini-embedding-001"

	DefaultChunkSize    = 512
	DefaultChunkOverlap = 50
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding a new
// secret field, update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`     // "gemini" (default) or "cli"
	ModelName     string `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash"
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// CLI generation backend (only used when provider is "cli")
	CLICommand string   `mapstructure:"cli_command" json:"cli_command"`
	CLIArgs    []string `mapstructure:"cli_args" json:"cli_args"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Chunking configuration
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// RAG generation timeouts. Interactive answers are bounded tightly;
	// long-form generation (document reviews) gets a much larger budget.
	AnswerTimeout   time.Duration `mapstructure:"answer_timeout" json:"answer_timeout"`
	LongFormTimeout time.Duration `mapstructure:"long_form_timeout" json:"long_form_timeout"`

	// Graph discovery
	GraphMinConfidence float64 `mapstructure:"graph_min_confidence" json:"graph_min_confidence"`

	// Serve mode
	ServeAddr string `mapstructure:"serve_addr" json:"serve_addr"`

	// DataDir holds job locks and local working files.
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	// Observability (OTLP trace export; empty endpoint disables tracing)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".tessera")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults(configDir)
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error, defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(configDir string) {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultEmbedderModel)

	viper.SetDefault("cli_command", "")
	viper.SetDefault("cli_args", []string{})

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "tessera")
	viper.SetDefault("postgres_password", "tessera_dev_password")
	viper.SetDefault("postgres_db_name", "tessera")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("chunk_size", DefaultChunkSize)
	viper.SetDefault("chunk_overlap", DefaultChunkOverlap)

	viper.SetDefault("answer_timeout", "60s")
	viper.SetDefault("long_form_timeout", "20m")

	viper.SetDefault("graph_min_confidence", 0.3)

	viper.SetDefault("serve_addr", ":8080")
	viper.SetDefault("data_dir", filepath.Join(configDir, "data"))

	viper.SetDefault("otlp_endpoint", "")
	viper.SetDefault("service_name", "tessera")
	viper.SetDefault("environment", "dev")
}

// bindEnvVariables binds runtime overrides explicitly. GEMINI_API_KEY is read
// directly by the Genkit plugin, not via viper.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "TESSERA_PROVIDER")
	mustBind("model_name", "TESSERA_MODEL_NAME")
	mustBind("embedder_model", "TESSERA_EMBEDDER_MODEL")
	mustBind("cli_command", "TESSERA_CLI_COMMAND")
	mustBind("serve_addr", "TESSERA_SERVE_ADDR")
	mustBind("data_dir", "TESSERA_DATA_DIR")
	mustBind("otlp_endpoint", "TESSERA_OTLP_ENDPOINT")
	mustBind("environment", "TESSERA_ENVIRONMENT")
}

// Validate checks the configuration, failing fast on values that would cause
// runtime misbehavior. The chunking check matters most: overlap >= size would
// stall the chunker's sliding window, so it is rejected here and never
// reaches the chunker.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
	case ProviderCLI:
		if strings.TrimSpace(c.CLICommand) == "" {
			return fmt.Errorf("%w: provider %q requires cli_command", ErrInvalidProvider, c.Provider)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model is empty", ErrInvalidEmbedderModel)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size %d must be positive", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}

	if c.GraphMinConfidence < 0 || c.GraphMinConfidence > 1 {
		return fmt.Errorf("%w: %f", ErrInvalidConfidence, c.GraphMinConfidence)
	}

	if c.AnswerTimeout <= 0 || c.LongFormTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidTimeout)
	}

	return nil
}

// maskedValue is the placeholder for masked sensitive data. Full-width block
// characters avoid substring matches against real secret content.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 characters or
// fewer are fully masked; longer ones keep the first and last 2 characters
// for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit, e.g.
// "googleai/gemini-2.5-flash". A ModelName already containing "/" is returned
// as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return ProviderGoogleAI + "/" + c.ModelName
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
