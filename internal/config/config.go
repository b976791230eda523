package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"mimi"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"mimi"`

	// Vector backend: "qdrant" (self-hosted, full filtering) or
	// "weaviate" (managed, reduced filtering).
	VectorBackend    string `envconfig:"VECTOR_BACKEND" default:"qdrant"`
	QdrantURL        string `envconfig:"QDRANT_URL" default:"http://localhost:6333"`
	QdrantAPIKey     string `envconfig:"QDRANT_API_KEY"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION" default:"mimi_chunks"`
	WeaviateHost     string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme   string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbedBatchSize int    `envconfig:"EMBED_BATCH_SIZE" default:"64"`
	EmbedDimension int    `envconfig:"EMBED_DIMENSION" default:"768"`

	LLMEnabled bool   `envconfig:"LLM_ENABLED" default:"false"`
	LLMModel   string `envconfig:"LLM_MODEL" default:"gemini-1.5-flash"`

	ChunkMaxChars       int     `envconfig:"CHUNK_MAX_CHARS" default:"1200"`
	ChunkMinChars       int     `envconfig:"CHUNK_MIN_CHARS" default:"200"`
	ChunkOverlap        int     `envconfig:"CHUNK_OVERLAP" default:"150"`
	ConfidenceThreshold float64 `envconfig:"CONFIDENCE_THRESHOLD" default:"0.30"`

	MaxUploadSizeMB   int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"10"`
	AllowedExtensions string `envconfig:"UPLOAD_ALLOWED_EXTENSIONS" default:".txt,.md"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI           bool   `envconfig:"ENABLE_API" default:"true"`
	EnableReindexWorker bool   `envconfig:"ENABLE_REINDEX_WORKER" default:"true"`
	MigrationPath       string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	ServerPort   int    `envconfig:"SERVER_PORT" default:"8080"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	switch c.VectorBackend {
	case "qdrant", "weaviate":
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND must be qdrant or weaviate, got %q", ErrInvalid, c.VectorBackend)
	}
	if c.ChunkMaxChars <= 0 {
		return fmt.Errorf("%w: CHUNK_MAX_CHARS must be positive", ErrInvalid)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: CHUNK_OVERLAP must not be negative", ErrInvalid)
	}
	// Rejected here at startup, not per ingest call.
	if c.ChunkOverlap >= c.ChunkMaxChars {
		return fmt.Errorf("%w: CHUNK_OVERLAP (%d) must be smaller than CHUNK_MAX_CHARS (%d)",
			ErrInvalid, c.ChunkOverlap, c.ChunkMaxChars)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: CONFIDENCE_THRESHOLD must be within [0,1]", ErrInvalid)
	}
	return nil
}
