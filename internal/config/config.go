// Package config provides configuration loading for notesrag.
//
// Configuration is read once at startup from an optional YAML file and
// environment overrides, then treated as immutable for the life of the
// process.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete notesrag configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	RAG        RAGConfig        `koanf:"rag"`
	Generation GenerationConfig `koanf:"generation"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Store      StoreConfig      `koanf:"store"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
}

// RAGConfig holds the token budgets and retrieval tuning of the answer pipeline.
type RAGConfig struct {
	ContextBudget      int     `koanf:"context_budget"`
	MaxOutputTokens    int     `koanf:"max_output_tokens"`
	ModelContextWindow int     `koanf:"model_context_window"`
	QueryTokenCeiling  int     `koanf:"query_token_ceiling"`
	RelevanceThreshold float64 `koanf:"relevance_threshold"`
	ChunkOverhead      int     `koanf:"chunk_overhead"`
	TopK               int     `koanf:"top_k"`
	MaxTopK            int     `koanf:"max_top_k"`
	MaxQueryChars      int     `koanf:"max_query_chars"`
	EmbeddingDimension int     `koanf:"embedding_dimension"`
	// Encoding is the tiktoken encoding used for counting.
	Encoding string `koanf:"encoding"`
}

// GenerationConfig selects and tunes the text generation backend.
type GenerationConfig struct {
	// Backend is "local" (in-process hugot pipeline) or "remote"
	// (OpenAI-compatible endpoint).
	Backend string `koanf:"backend"`

	Timeout        time.Duration `koanf:"timeout"`
	AttemptTimeout time.Duration `koanf:"attempt_timeout"`
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`

	Temperature       float64 `koanf:"temperature"`
	TopP              float64 `koanf:"top_p"`
	RepetitionPenalty float64 `koanf:"repetition_penalty"`
	MinOutputChars    int     `koanf:"min_output_chars"`

	// Local backend.
	ModelPath string `koanf:"model_path"`
	Workers   int    `koanf:"workers"`

	// Remote backend.
	BaseURL   string  `koanf:"base_url"`
	Model     string  `koanf:"model"`
	APIKey    Secret  `koanf:"api_key"`
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// EmbeddingsConfig selects the query embedding provider.
type EmbeddingsConfig struct {
	// Provider is "fastembed", "hugot" or "remote".
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	CacheDir  string `koanf:"cache_dir"`
	ModelPath string `koanf:"model_path"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
}

// StoreConfig selects the chunk store.
type StoreConfig struct {
	// Provider is "postgres", "qdrant" or "chromem".
	Provider string `koanf:"provider"`

	PostgresDSN   Secret `koanf:"postgres_dsn"`
	PostgresTable string `koanf:"postgres_table"`

	QdrantHost       string `koanf:"qdrant_host"`
	QdrantPort       int    `koanf:"qdrant_port"`
	QdrantCollection string `koanf:"qdrant_collection"`
	QdrantAPIKey     Secret `koanf:"qdrant_api_key"`
	QdrantUseTLS     bool   `koanf:"qdrant_use_tls"`

	ChromemPath       string `koanf:"chromem_path"`
	ChromemCollection string `koanf:"chromem_collection"`
	ChromemCompress   bool   `koanf:"chromem_compress"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// OTEL mirrors log records to the OpenTelemetry logs bridge.
	OTEL bool `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Endpoint       string        `koanf:"endpoint"`
	Protocol       string        `koanf:"protocol"`
	Insecure       bool          `koanf:"insecure"`
	SampleRate     float64       `koanf:"sample_rate"`
	ServiceName    string        `koanf:"service_name"`
	ServiceVersion string        `koanf:"service_version"`
	ExportInterval time.Duration `koanf:"export_interval"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 90 * time.Second
	}

	// RAG defaults
	if cfg.RAG.ContextBudget == 0 {
		cfg.RAG.ContextBudget = 2000
	}
	if cfg.RAG.MaxOutputTokens == 0 {
		cfg.RAG.MaxOutputTokens = 512
	}
	if cfg.RAG.ModelContextWindow == 0 {
		cfg.RAG.ModelContextWindow = 4096
	}
	if cfg.RAG.QueryTokenCeiling == 0 {
		cfg.RAG.QueryTokenCeiling = 150
	}
	if cfg.RAG.RelevanceThreshold == 0 {
		cfg.RAG.RelevanceThreshold = 0.6
	}
	if cfg.RAG.ChunkOverhead == 0 {
		cfg.RAG.ChunkOverhead = 50
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 20
	}
	if cfg.RAG.MaxTopK == 0 {
		cfg.RAG.MaxTopK = 200
	}
	if cfg.RAG.MaxQueryChars == 0 {
		cfg.RAG.MaxQueryChars = 16000
	}
	if cfg.RAG.EmbeddingDimension == 0 {
		cfg.RAG.EmbeddingDimension = 384 // all-MiniLM-L6-v2 / bge-small
	}
	if cfg.RAG.Encoding == "" {
		cfg.RAG.Encoding = "cl100k_base"
	}

	// Generation defaults
	if cfg.Generation.Backend == "" {
		cfg.Generation.Backend = "remote"
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 60 * time.Second
	}
	if cfg.Generation.AttemptTimeout == 0 {
		cfg.Generation.AttemptTimeout = 30 * time.Second
	}
	if cfg.Generation.MaxAttempts == 0 {
		cfg.Generation.MaxAttempts = 3
	}
	if cfg.Generation.InitialBackoff == 0 {
		cfg.Generation.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Generation.MaxBackoff == 0 {
		cfg.Generation.MaxBackoff = 8 * time.Second
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.3
	}
	if cfg.Generation.TopP == 0 {
		cfg.Generation.TopP = 0.9
	}
	if cfg.Generation.RepetitionPenalty == 0 {
		cfg.Generation.RepetitionPenalty = 1.1
	}
	if cfg.Generation.MinOutputChars == 0 {
		cfg.Generation.MinOutputChars = 8
	}
	if cfg.Generation.Workers == 0 {
		cfg.Generation.Workers = 1
	}
	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "llama3.2:3b"
	}
	if cfg.Generation.RateLimit == 0 {
		cfg.Generation.RateLimit = 2
	}
	if cfg.Generation.Burst == 0 {
		cfg.Generation.Burst = 4
	}

	// Embeddings defaults
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}

	// Store defaults
	if cfg.Store.Provider == "" {
		cfg.Store.Provider = "postgres"
	}
	if cfg.Store.PostgresTable == "" {
		cfg.Store.PostgresTable = "note_chunks"
	}
	if cfg.Store.QdrantHost == "" {
		cfg.Store.QdrantHost = "localhost"
	}
	if cfg.Store.QdrantPort == 0 {
		cfg.Store.QdrantPort = 6334
	}
	if cfg.Store.QdrantCollection == "" {
		cfg.Store.QdrantCollection = "note_chunks"
	}
	if cfg.Store.ChromemPath == "" {
		cfg.Store.ChromemPath = "~/.local/share/notesrag/chunks"
	}
	if cfg.Store.ChromemCollection == "" {
		cfg.Store.ChromemCollection = "note_chunks"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Telemetry defaults
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "notesrag"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 15 * time.Second
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if err := c.RAG.Validate(); err != nil {
		return err
	}
	if err := c.Generation.Validate(); err != nil {
		return err
	}

	switch c.Embeddings.Provider {
	case "fastembed", "hugot", "remote":
	default:
		return fmt.Errorf("%w: unknown embeddings.provider %q", ErrInvalidConfig, c.Embeddings.Provider)
	}
	if c.Embeddings.Provider == "hugot" && c.Embeddings.ModelPath == "" {
		return fmt.Errorf("%w: embeddings.model_path is required for the hugot provider", ErrInvalidConfig)
	}

	switch c.Store.Provider {
	case "postgres":
		if !c.Store.PostgresDSN.IsSet() {
			return fmt.Errorf("%w: store.postgres_dsn is required for the postgres store", ErrInvalidConfig)
		}
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("%w: unknown store.provider %q", ErrInvalidConfig, c.Store.Provider)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("%w: telemetry.sample_rate must be between 0 and 1", ErrInvalidConfig)
	}
	return nil
}

// Validate checks that the token budgets can coexist inside the model window.
func (r RAGConfig) Validate() error {
	switch {
	case r.ContextBudget <= 0, r.MaxOutputTokens <= 0, r.ModelContextWindow <= 0, r.QueryTokenCeiling <= 0:
		return fmt.Errorf("%w: token budgets must be positive", ErrInvalidConfig)
	case r.MaxOutputTokens >= r.ModelContextWindow:
		return fmt.Errorf("%w: rag.max_output_tokens (%d) must be below rag.model_context_window (%d)",
			ErrInvalidConfig, r.MaxOutputTokens, r.ModelContextWindow)
	case r.ContextBudget+r.QueryTokenCeiling+r.MaxOutputTokens > r.ModelContextWindow:
		return fmt.Errorf("%w: context budget, query ceiling and output reservation exceed the model window",
			ErrInvalidConfig)
	case r.RelevanceThreshold < 0 || r.RelevanceThreshold > 1:
		return fmt.Errorf("%w: rag.relevance_threshold must be in [0,1]", ErrInvalidConfig)
	case r.ChunkOverhead < 0:
		return fmt.Errorf("%w: rag.chunk_overhead cannot be negative", ErrInvalidConfig)
	case r.TopK < 0 || r.MaxTopK <= 0:
		return fmt.Errorf("%w: rag.top_k and rag.max_top_k must be positive", ErrInvalidConfig)
	case r.EmbeddingDimension <= 0:
		return fmt.Errorf("%w: rag.embedding_dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// Validate checks backend selection and retry settings.
func (g GenerationConfig) Validate() error {
	switch g.Backend {
	case "local":
		if g.ModelPath == "" {
			return fmt.Errorf("%w: generation.model_path is required for the local backend", ErrInvalidConfig)
		}
	case "remote":
		if g.BaseURL == "" {
			return fmt.Errorf("%w: generation.base_url is required for the remote backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown generation.backend %q", ErrInvalidConfig, g.Backend)
	}
	if g.MaxAttempts < 1 {
		return fmt.Errorf("%w: generation.max_attempts must be at least 1", ErrInvalidConfig)
	}
	if g.Timeout <= 0 || g.AttemptTimeout <= 0 {
		return fmt.Errorf("%w: generation timeouts must be positive", ErrInvalidConfig)
	}
	if g.Workers < 1 {
		return fmt.Errorf("%w: generation.workers must be at least 1", ErrInvalidConfig)
	}
	return nil
}
