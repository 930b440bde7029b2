// Package config loads and validates gateway configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Admission, Inference, Embedding, Index, Retrieval,
// Prompt, Redis, Kafka, Postgres, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Admission AdmissionConfig `yaml:"admission"`
	Inference InferenceConfig `yaml:"inference"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// AuthConfig holds the accepted API keys. An empty list disables
// authentication (local development).
type AuthConfig struct {
	APIKeys []string `yaml:"apiKeys"`
}

// AdmissionConfig bounds concurrent inference load.
type AdmissionConfig struct {
	MaxConcurrent  int           `yaml:"maxConcurrent"`
	QueueDepth     int           `yaml:"queueDepth"`
	AcquireTimeout time.Duration `yaml:"acquireTimeout"`
	// DebugChecks makes a slot double-release panic instead of logging.
	DebugChecks bool `yaml:"debugChecks"`
}

// InferenceConfig holds the generation backend (vLLM, OpenAI-compatible).
type InferenceConfig struct {
	URL         string        `yaml:"url"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"maxTokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EmbeddingConfig holds the embedding backend (OpenAI-compatible).
type EmbeddingConfig struct {
	URL       string        `yaml:"url"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cacheTTL"`
}

// IndexConfig holds the Qdrant vector index connection.
type IndexConfig struct {
	URL        string        `yaml:"url"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RetrievalConfig controls similarity search behaviour.
type RetrievalConfig struct {
	TopK     int     `yaml:"topK"`
	MinScore float64 `yaml:"minScore"`
}

// PromptConfig controls token budgeting during prompt assembly.
type PromptConfig struct {
	ContextBudget      int `yaml:"contextBudget"`
	HistoryBudget      int `yaml:"historyBudget"`
	QuestionReserve    int `yaml:"questionReserve"`
	GenerationHeadroom int `yaml:"generationHeadroom"`
	ExcerptMaxLen      int `yaml:"excerptMaxLen"`
}

// IngestConfig controls document chunking and background ingestion.
type IngestConfig struct {
	ChunkMaxWords     int  `yaml:"chunkMaxWords"`
	ChunkOverlapWords int  `yaml:"chunkOverlapWords"`
	MinChunkWords     int  `yaml:"minChunkWords"`
	EmbedConcurrency  int  `yaml:"embedConcurrency"`
	Async             bool `yaml:"async"`
}

// PostgresConfig holds PostgreSQL connection parameters for the document
// registry.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters for the embedding cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// KafkaConfig holds Kafka broker and topic settings for background ingest
// jobs.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumerGroup"`
	IngestTopic   string   `yaml:"ingestTopic"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns a Config with defaults suitable for local
// development against a local vLLM + Qdrant stack.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    150 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Admission: AdmissionConfig{
			MaxConcurrent:  30,
			QueueDepth:     60,
			AcquireTimeout: 10 * time.Second,
		},
		Inference: InferenceConfig{
			URL:         "http://localhost:8000",
			Model:       "llama-3b",
			MaxTokens:   512,
			Temperature: 0.0,
			Timeout:     120 * time.Second,
		},
		Embedding: EmbeddingConfig{
			URL:       "http://localhost:8001",
			Model:     "all-MiniLM-L6-v2",
			Dimension: 384,
			Timeout:   30 * time.Second,
			CacheTTL:  10 * time.Minute,
		},
		Index: IndexConfig{
			URL:        "http://localhost:6333",
			Collection: "documents",
			Timeout:    15 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:     12,
			MinScore: 0.35,
		},
		Prompt: PromptConfig{
			ContextBudget:      3000,
			HistoryBudget:      800,
			QuestionReserve:    256,
			GenerationHeadroom: 512,
			ExcerptMaxLen:      240,
		},
		Ingest: IngestConfig{
			ChunkMaxWords:     220,
			ChunkOverlapWords: 30,
			MinChunkWords:     30,
			EmbedConcurrency:  4,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "raggateway",
			User:            "raggateway",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "raggateway-ingest",
			IngestTopic:   "document-ingest",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// validate rejects configurations the orchestrator cannot run with.
func validate(cfg *Config) error {
	if cfg.Admission.MaxConcurrent <= 0 {
		return fmt.Errorf("admission.maxConcurrent must be positive, got %d", cfg.Admission.MaxConcurrent)
	}
	if cfg.Admission.QueueDepth < 0 {
		return fmt.Errorf("admission.queueDepth cannot be negative, got %d", cfg.Admission.QueueDepth)
	}
	if cfg.Prompt.ContextBudget <= 0 {
		return fmt.Errorf("prompt.contextBudget must be positive, got %d", cfg.Prompt.ContextBudget)
	}
	if cfg.Prompt.QuestionReserve+cfg.Prompt.GenerationHeadroom >= cfg.Prompt.ContextBudget {
		return fmt.Errorf("prompt reserves (%d) exhaust the context budget (%d)",
			cfg.Prompt.QuestionReserve+cfg.Prompt.GenerationHeadroom, cfg.Prompt.ContextBudget)
	}
	if cfg.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.topK must be positive, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.MinScore < 0 || cfg.Retrieval.MinScore > 1 {
		return fmt.Errorf("retrieval.minScore must be in [0,1], got %f", cfg.Retrieval.MinScore)
	}
	return nil
}

// applyEnvOverrides reads RG_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RG_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RG_API_KEYS"); v != "" {
		cfg.Auth.APIKeys = strings.Split(v, ",")
	}
	if v := os.Getenv("RG_ADMISSION_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Admission.MaxConcurrent = n
		}
	}
	if v := os.Getenv("RG_ADMISSION_QUEUE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Admission.QueueDepth = n
		}
	}
	if v := os.Getenv("RG_INFERENCE_URL"); v != "" {
		cfg.Inference.URL = v
	}
	if v := os.Getenv("RG_INFERENCE_MODEL"); v != "" {
		cfg.Inference.Model = v
	}
	if v := os.Getenv("RG_EMBEDDING_URL"); v != "" {
		cfg.Embedding.URL = v
	}
	if v := os.Getenv("RG_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("RG_INDEX_URL"); v != "" {
		cfg.Index.URL = v
	}
	if v := os.Getenv("RG_INDEX_COLLECTION"); v != "" {
		cfg.Index.Collection = v
	}
	if v := os.Getenv("RG_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("RG_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("RG_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("RG_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("RG_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("RG_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RG_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RG_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RG_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RG_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("RG_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
