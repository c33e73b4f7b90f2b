package admin

import (
	"context"
	"fmt"
	"log"

	"github.com/cloo-solutions/ragquery/internal/chunker"
	"github.com/cloo-solutions/ragquery/internal/config"
	"github.com/cloo-solutions/ragquery/internal/database"
	"github.com/cloo-solutions/ragquery/internal/openai"
	"github.com/cloo-solutions/ragquery/internal/repository"
	"github.com/cloo-solutions/ragquery/internal/rerank"
	"github.com/cloo-solutions/ragquery/internal/service"
	"github.com/cloo-solutions/ragquery/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	goopenai "github.com/sashabaranov/go-openai"
)

// app holds the repositories and services shared by the daemon commands.
type app struct {
	cfg  *config.Config
	pool *pgxpool.Pool

	users     *repository.UserRepository
	apiKeys   *repository.APIKeyRepository
	documents *repository.DocumentRepository
	chunks    *repository.ChunkRepository
	jobs      *repository.IngestJobRepository
	rates     *repository.RateLimitRepository
	records   *repository.QueryRecordRepository
	metrics   *repository.MetricRepository
	events    *repository.AuditEventRepository

	auth   *service.AuthService
	health *service.HealthService
	llm    *openai.Client
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func getDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := database.NewPool(ctx, cfg.DatabaseURL, database.PoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

// openApp loads the configuration and connects to the database. The caller
// closes the returned app.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	pool, err := getDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, pool), nil
}

func newApp(cfg *config.Config, pool *pgxpool.Pool) *app {
	a := &app{
		cfg:       cfg,
		pool:      pool,
		users:     repository.NewUserRepository(pool),
		apiKeys:   repository.NewAPIKeyRepository(pool),
		documents: repository.NewDocumentRepository(pool),
		chunks:    repository.NewChunkRepository(pool),
		jobs:      repository.NewIngestJobRepository(pool),
		rates:     repository.NewRateLimitRepository(pool),
		records:   repository.NewQueryRecordRepository(pool),
		metrics:   repository.NewMetricRepository(pool),
		events:    repository.NewAuditEventRepository(pool),
	}
	a.auth = service.NewAuthService(a.users, a.apiKeys, &service.DefaultUUIDGenerator{})
	a.health = service.NewHealthService(a.metrics, a.events, cfg.HealthWindow, service.DefaultHealthThresholds())
	if cfg.HasOpenAI() {
		a.llm = openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			BaseURL:             cfg.OpenAIBaseURL,
			EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
			EmbeddingDimensions: cfg.EmbeddingDimensions,
			ChatModel:           cfg.ChatModel,
			EmbeddingTimeout:    cfg.EmbeddingTimeout,
			ChatTimeout:         cfg.LLMTimeout,
			RequestsPerSecond:   cfg.EmbeddingRPS,
		})
	}
	return a
}

func (a *app) Close() {
	a.pool.Close()
}

func (a *app) requireOpenAI() error {
	if a.llm == nil {
		return fmt.Errorf("RAGQ_OPENAI_API_KEY is required")
	}
	return nil
}

func (a *app) ingestionService() (*service.IngestionService, error) {
	if err := a.requireOpenAI(); err != nil {
		return nil, err
	}
	c, err := chunker.New(chunker.Strategy(a.cfg.ChunkStrategy), chunker.Config{
		Size:    a.cfg.ChunkMaxSize,
		Overlap: a.cfg.ChunkOverlap,
		MinSize: a.cfg.ChunkMinSize,
	})
	if err != nil {
		return nil, err
	}

	return service.NewIngestionService(a.documents, a.chunks, a.llm, service.IngestionConfig{
		Chunker: c,
		Workers: a.cfg.IngestWorkers,
		Retry:   service.DefaultRetryPolicy(),
	}), nil
}

func (a *app) queryConfig() service.QueryConfig {
	return service.QueryConfig{
		Weights: rerank.Weights{
			Vector:    a.cfg.RerankVectorWeight,
			Lexical:   a.cfg.RerankLexicalWeight,
			Diversity: a.cfg.RerankDiversityWeight,
		},
		TopN:          a.cfg.RerankTopN,
		MaxCandidates: a.cfg.MaxCandidates,
		MinSimilarity: a.cfg.MinSimilarity,
		Temperature:   a.cfg.LLMTemperature,
		MaxTokens:     a.cfg.LLMMaxTokens,
	}
}

// attachmentStorage returns nil when no object store is configured.
func (a *app) attachmentStorage(ctx context.Context) (service.StorageClientInterface, error) {
	if !a.cfg.HasS3() {
		return nil, nil
	}
	client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        a.cfg.S3Endpoint,
		Region:          a.cfg.S3Region,
		AccessKeyID:     a.cfg.S3AccessKey,
		SecretAccessKey: a.cfg.S3SecretKey,
		Bucket:          a.cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}
	log.Printf("[storage] bucket %q ready", client.Bucket())
	return NewS3StorageAdapter(client), nil
}

// S3StorageAdapter exposes storage.S3Client as the document service's
// attachment store.
type S3StorageAdapter struct {
	client *storage.S3Client
}

func NewS3StorageAdapter(client *storage.S3Client) *S3StorageAdapter {
	return &S3StorageAdapter{client: client}
}

func (a *S3StorageAdapter) GenerateUploadURL(ctx context.Context, key string, contentType string) (string, error) {
	return a.client.GenerateUploadURL(ctx, key, contentType)
}

func (a *S3StorageAdapter) GenerateDownloadURL(ctx context.Context, key string) (string, error) {
	return a.client.GenerateDownloadURL(ctx, key)
}

func (a *S3StorageAdapter) DeleteObject(ctx context.Context, key string) error {
	return a.client.DeleteObject(ctx, key)
}

func (a *S3StorageAdapter) HeadObject(ctx context.Context, key string) (*service.ObjectMetadata, error) {
	info, err := a.client.HeadObject(ctx, key)
	if err != nil {
		return nil, err
	}
	return &service.ObjectMetadata{
		ContentLength: info.Size,
		ContentType:   info.ContentType,
		ETag:          info.ETag,
	}, nil
}
