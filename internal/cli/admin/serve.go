package admin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/ragquery/internal/api/handlers"
	"github.com/cloo-solutions/ragquery/internal/database"
	"github.com/cloo-solutions/ragquery/internal/domain"
	"github.com/cloo-solutions/ragquery/internal/jobs"
	"github.com/cloo-solutions/ragquery/internal/repository"
	"github.com/cloo-solutions/ragquery/internal/server"
	"github.com/cloo-solutions/ragquery/internal/service"
	"github.com/cloo-solutions/ragquery/internal/telemetry"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the ragquery API server, the ingest worker and the rate limit janitor",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides RAGQ_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	if cfg.HasSentry() {
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: cfg.TracesSampleRate(),
			Debug:            cfg.Debug,
		})
		if err != nil {
			log.Printf("[serve] telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		if _, err := database.MigrateUp(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	pool, err := getDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	a := newApp(cfg, pool)
	defer a.Close()
	log.Println("[serve] connected to database")

	if err := a.requireOpenAI(); err != nil {
		return err
	}

	if cfg.InitUserName != "" {
		if err := bootstrapInitialUser(ctx, a); err != nil {
			return fmt.Errorf("failed to bootstrap initial user: %w", err)
		}
	}

	attachments, err := a.attachmentStorage(ctx)
	if err != nil {
		return err
	}

	ingestion, err := a.ingestionService()
	if err != nil {
		return err
	}

	recorder := service.NewAuditRecorder(a.records, a.metrics, a.events)
	limiter := service.NewRateLimiter(a.rates, cfg.RateLimitPerUser, cfg.RateLimitWindow)
	querySvc := service.NewQueryService(service.QueryDeps{
		Auth:      a.auth,
		Limiter:   limiter,
		Embedder:  a.llm,
		Search:    a.chunks,
		LLM:       a.llm,
		Observers: []service.QueryObserver{recorder},
	}, a.queryConfig())

	docSvc := service.NewDocumentService(a.documents, a.jobs, attachments, repository.NewTxRunner(pool))

	background := jobs.NewScheduler(
		jobs.Task{Name: "ingest", Processor: jobs.NewIngestWorker(a.jobs, ingestion), Every: cfg.IngestPollInterval},
		jobs.Task{Name: "ratelimit", Processor: jobs.NewRateLimitJanitor(a.rates, cfg.RateLimitWindow), Every: cfg.RateLimitWindow},
	)
	background.Start(ctx)
	defer background.Stop()

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:   a.auth,
		QueryHandler:    handlers.NewQueryHandler(querySvc, int(limiter.Window().Seconds())),
		DocumentHandler: handlers.NewDocumentHandler(docSvc, ingestion),
		AuthHandler:     handlers.NewAuthHandler(a.auth),
		HealthHandler:   handlers.NewHealthHandler(a.health),
		CORSOrigins:     cfg.CORSOrigins,
		AllowSignup:     cfg.AllowSignup,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("[serve] listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	log.Println("[serve] shutting down...")

	background.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := recorder.Drain(shutdownCtx); err != nil {
		log.Printf("[serve] audit writes still pending at shutdown: %v", err)
	}

	log.Println("[serve] server exited")
	return nil
}

// bootstrapInitialUser creates RAGQ_INIT_USER_NAME and, when set,
// registers RAGQ_INIT_API_KEY for it. Both steps are idempotent.
func bootstrapInitialUser(ctx context.Context, a *app) error {
	user, err := a.auth.EnsureUser(ctx, a.cfg.InitUserName)
	if err != nil {
		return err
	}
	log.Printf("[bootstrap] user %q ready (id: %s)", user.Name, user.ID)

	if a.cfg.InitAPIKey == "" {
		return nil
	}
	if !service.IsValidAPIToken(a.cfg.InitAPIKey) {
		return fmt.Errorf("invalid RAGQ_INIT_API_KEY format (expected 'rqk_<64 hex chars>')")
	}

	existing, err := a.auth.LookupAPIKey(ctx, a.cfg.InitAPIKey)
	switch {
	case err == nil:
		log.Printf("[bootstrap] API key already exists (id: %s)", existing.ID)
		return nil
	case !errors.Is(err, domain.ErrAPIKeyNotFound):
		return err
	}

	if err := a.auth.CreateAPIKeyWithToken(ctx, user.ID, "bootstrap", a.cfg.InitAPIKey); err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}
	log.Println("[bootstrap] created API key")
	return nil
}
