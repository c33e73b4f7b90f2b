package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable, e.g. RAGQ_PORT.
const Prefix = "RAGQ"

type Config struct {
	Port        string   `envconfig:"PORT" default:"8080"`
	Debug       bool     `envconfig:"DEBUG" default:"false"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
	AllowSignup bool     `envconfig:"ALLOW_SIGNUP" default:"false"`

	DatabaseURL   string `envconfig:"DATABASE_URL" required:"true"`
	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"migrations"`

	OpenAIAPIKey        string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string        `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int           `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	ChatModel           string        `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
	EmbeddingTimeout    time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"15s"`
	LLMTimeout          time.Duration `envconfig:"LLM_TIMEOUT" default:"45s"`
	EmbeddingRPS        float64       `envconfig:"EMBEDDING_RPS" default:"20"`
	LLMTemperature      float32       `envconfig:"LLM_TEMPERATURE" default:"0.1"`
	LLMMaxTokens        int           `envconfig:"LLM_MAX_TOKENS" default:"800"`

	RateLimitPerUser int           `envconfig:"RATE_LIMIT_PER_USER" default:"30"`
	RateLimitWindow  time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	RerankVectorWeight    float64 `envconfig:"RERANK_VECTOR_WEIGHT" default:"0.7"`
	RerankLexicalWeight   float64 `envconfig:"RERANK_LEXICAL_WEIGHT" default:"0.3"`
	RerankDiversityWeight float64 `envconfig:"RERANK_DIVERSITY_WEIGHT" default:"0.2"`
	RerankTopN            int     `envconfig:"RERANK_TOP_N" default:"8"`
	MinSimilarity         float64 `envconfig:"MIN_SIMILARITY" default:"0.4"`
	MaxCandidates         int     `envconfig:"MAX_CANDIDATES" default:"30"`

	ChunkStrategy string `envconfig:"CHUNK_STRATEGY" default:"semantic"`
	ChunkMaxSize  int    `envconfig:"CHUNK_MAX_SIZE" default:"1000"`
	ChunkMinSize  int    `envconfig:"CHUNK_MIN_SIZE" default:"200"`
	ChunkOverlap  int    `envconfig:"CHUNK_OVERLAP" default:"150"`
	IngestWorkers int    `envconfig:"INGEST_WORKERS" default:"4"`

	IngestPollInterval time.Duration `envconfig:"INGEST_POLL_INTERVAL" default:"5s"`
	HealthWindow       time.Duration `envconfig:"HEALTH_WINDOW" default:"15m"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"ragq-attachments"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Bootstrap: create an initial user and API key on startup
	InitUserName string `envconfig:"INIT_USER_NAME"`
	InitAPIKey   string `envconfig:"INIT_API_KEY"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("MIN_SIMILARITY must be within [0,1], got %v", c.MinSimilarity)
	}
	if c.RerankDiversityWeight < 0 || c.RerankDiversityWeight > 1 {
		return fmt.Errorf("RERANK_DIVERSITY_WEIGHT must be within [0,1], got %v", c.RerankDiversityWeight)
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive")
	}
	if c.ChunkOverlap >= c.ChunkMaxSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_MAX_SIZE (%d)", c.ChunkOverlap, c.ChunkMaxSize)
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}

// TracesSampleRate samples everything in development and 10% elsewhere.
func (c *Config) TracesSampleRate() float64 {
	if c.Environment == "development" {
		return 1.0
	}
	return 0.1
}
