package common

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joseph-ayodele/research-ingest/constants"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	LLM      LLMConfig
	Extract  ExtractConfig
	Policy   PolicyConfig
	Storage  StorageConfig
	Watchdog WatchdogConfig
	Client   ClientConfig
	Log      LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // postgres | sqlite
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	Timeout     time.Duration
	MaxAttempts int
}

type ExtractConfig struct {
	PDFToTextBin string // empty disables the external fallback
	MaxChars     int
}

// PolicyConfig bounds what the ingestion gate accepts.
type PolicyConfig struct {
	MaxFileSize      int64
	MaxBatchSize     int
	AllowedMimeTypes []string
	MaxInFlight      int // 0 = unbounded
}

type StorageConfig struct {
	BlobDir string
}

type WatchdogConfig struct {
	Enabled            bool
	ProcessingDeadline time.Duration
	Interval           time.Duration
}

type ClientConfig struct {
	ServerURL string
	Token     string
	Timeout   time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// envAliases keeps the historical variable names working next to INGEST_*.
var envAliases = map[string]string{
	"database.dsn":     "DB_URL",
	"llm.api_key":      "OPENAI_API_KEY",
	"llm.model":        "OPENAI_MODEL",
	"llm.base_url":     "OPENAI_BASE_URL",
	"server.grpc_addr": "GRPC_ADDR",
	"auth.jwt_secret":  "JWT_SECRET",
}

// SetDefaults registers every key so AutomaticEnv can see it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.dial_timeout", 3*time.Second)
	v.SetDefault("database.statement_timeout", time.Duration(0))

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_addr", ":8081")
	v.SetDefault("server.read_timeout", 2*time.Minute)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "research-ingest")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_attempts", 3)

	v.SetDefault("extract.pdftotext_bin", "")
	v.SetDefault("extract.max_chars", 200_000)

	v.SetDefault("policy.max_file_size", constants.DefaultMaxFileSize)
	v.SetDefault("policy.max_batch_size", constants.DefaultMaxBatchSize)
	v.SetDefault("policy.allowed_mime_types", constants.DefaultAllowedMimeTypes)
	v.SetDefault("policy.max_in_flight", 0)

	v.SetDefault("storage.blob_dir", "./data/blobs")

	v.SetDefault("watchdog.enabled", true)
	v.SetDefault("watchdog.processing_deadline", 10*time.Minute)
	v.SetDefault("watchdog.interval", time.Minute)

	v.SetDefault("client.server_url", "http://localhost:8080")
	v.SetDefault("client.token", "")
	v.SetDefault("client.timeout", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// NewViper returns a viper instance wired for INGEST_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		_ = v.BindEnv(key, "INGEST_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
	return v
}

// ReadConfigFile loads an optional YAML file; a missing default file is fine.
func ReadConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ingest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/research-ingest")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// LoadConfig materialises a Config from viper.
func LoadConfig(v *viper.Viper) *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:           strings.ToLower(v.GetString("database.driver")),
			DSN:              v.GetString("database.dsn"),
			MaxConns:         v.GetInt32("database.max_conns"),
			MinConns:         v.GetInt32("database.min_conns"),
			MaxConnLifetime:  v.GetDuration("database.max_conn_lifetime"),
			MaxConnIdleTime:  v.GetDuration("database.max_conn_idle_time"),
			DialTimeout:      v.GetDuration("database.dial_timeout"),
			StatementTimeout: v.GetDuration("database.statement_timeout"),
		},
		Server: ServerConfig{
			HTTPAddr:        v.GetString("server.http_addr"),
			GRPCAddr:        v.GetString("server.grpc_addr"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			Issuer:    v.GetString("auth.issuer"),
			TokenTTL:  v.GetDuration("auth.token_ttl"),
		},
		LLM: LLMConfig{
			BaseURL:     v.GetString("llm.base_url"),
			Model:       v.GetString("llm.model"),
			APIKey:      v.GetString("llm.api_key"),
			Temperature: float32(v.GetFloat64("llm.temperature")),
			Timeout:     v.GetDuration("llm.timeout"),
			MaxAttempts: v.GetInt("llm.max_attempts"),
		},
		Extract: ExtractConfig{
			PDFToTextBin: v.GetString("extract.pdftotext_bin"),
			MaxChars:     v.GetInt("extract.max_chars"),
		},
		Policy: PolicyConfig{
			MaxFileSize:      v.GetInt64("policy.max_file_size"),
			MaxBatchSize:     v.GetInt("policy.max_batch_size"),
			AllowedMimeTypes: v.GetStringSlice("policy.allowed_mime_types"),
			MaxInFlight:      v.GetInt("policy.max_in_flight"),
		},
		Storage: StorageConfig{
			BlobDir: v.GetString("storage.blob_dir"),
		},
		Watchdog: WatchdogConfig{
			Enabled:            v.GetBool("watchdog.enabled"),
			ProcessingDeadline: v.GetDuration("watchdog.processing_deadline"),
			Interval:           v.GetDuration("watchdog.interval"),
		},
		Client: ClientConfig{
			ServerURL: v.GetString("client.server_url"),
			Token:     v.GetString("client.token"),
			Timeout:   v.GetDuration("client.timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
}

// ValidateServer checks what the daemon needs before it starts.
func (c *Config) ValidateServer() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return NewAppError(KindConfig, "database.dsn (DB_URL) is required", ErrInvalidInput)
		}
	case "sqlite":
	default:
		return NewAppError(KindConfig, fmt.Sprintf("unknown database.driver %q", c.Database.Driver), ErrInvalidInput)
	}
	if len(c.Auth.JWTSecret) < 32 {
		return NewAppError(KindConfig, "auth.jwt_secret (JWT_SECRET) must be at least 32 bytes", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError(KindConfig, "server.http_addr is required", ErrInvalidInput)
	}
	if c.Storage.BlobDir == "" {
		return NewAppError(KindConfig, "storage.blob_dir is required", ErrInvalidInput)
	}
	return c.Policy.Validate()
}

func (p PolicyConfig) Validate() error {
	if p.MaxFileSize <= 0 {
		return NewAppError(KindConfig, "policy.max_file_size must be positive", ErrInvalidInput)
	}
	if p.MaxBatchSize <= 0 {
		return NewAppError(KindConfig, "policy.max_batch_size must be positive", ErrInvalidInput)
	}
	if len(p.AllowedMimeTypes) == 0 {
		return NewAppError(KindConfig, "policy.allowed_mime_types must not be empty", ErrInvalidInput)
	}
	if p.MaxInFlight < 0 {
		return NewAppError(KindConfig, "policy.max_in_flight must not be negative", ErrInvalidInput)
	}
	return nil
}
